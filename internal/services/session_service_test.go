package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/store"
)

type testClock struct {
	t time.Time
}

func newTestClock() *testClock { return &testClock{t: time.Now().UTC().Truncate(time.Second)} }

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSessionService(t *testing.T) (*SessionService, *testClock) {
	t.Helper()

	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	svc := NewSessionService(st, DefaultSessionConfig(), discardLogger())
	clock := newTestClock()
	svc.SetClock(clock.Now)
	return svc, clock
}

func createSession(t *testing.T, svc *SessionService, userID, ip string) *models.Session {
	t.Helper()
	session, err := svc.Create(context.Background(), userID, userID+"@x.com", models.RoleUser, nil, ip, "Mozilla/5.0 (X11; Linux x86_64) Firefox/121.0")
	require.NoError(t, err)
	return session
}

func failedAttempt(email, ip string) models.LoginAttempt {
	return models.LoginAttempt{Email: email, IPAddress: ip, Success: false, FailureReason: "invalid_credentials"}
}

func TestSessionService_CreateAndValidate(t *testing.T) {
	svc, clock := newTestSessionService(t)
	ctx := context.Background()

	session := createSession(t, svc, "u1", "10.0.0.1")
	assert.Len(t, session.ID, 64)
	assert.True(t, session.IsActive)
	assert.Equal(t, "firefox on linux", session.Device)

	clock.Advance(time.Minute)
	result := svc.Validate(ctx, session.ID)
	require.True(t, result.IsValid, result.Error)
	assert.False(t, result.NeedsRefresh)
	assert.WithinDuration(t, clock.Now(), result.Session.LastAccessedAt, 0)
	assert.WithinDuration(t, session.CreatedAt, result.Session.PreviousAccessAt, 0)
}

func TestSessionService_ValidateNotFound(t *testing.T) {
	svc, _ := newTestSessionService(t)

	assert.Equal(t, models.SessionErrNotFound, svc.Validate(context.Background(), "nope").Error)
	assert.Equal(t, models.SessionErrNotFound, svc.Validate(context.Background(), "").Error)
}

func TestSessionService_NeedsRefreshAfterMidpoint(t *testing.T) {
	svc, clock := newTestSessionService(t)
	session := createSession(t, svc, "u1", "10.0.0.1")

	clock.Advance(13 * time.Hour)
	result := svc.Validate(context.Background(), session.ID)
	require.True(t, result.IsValid)
	assert.True(t, result.NeedsRefresh)
}

func TestSessionService_ExpiredIsPurged(t *testing.T) {
	svc, clock := newTestSessionService(t)
	ctx := context.Background()
	session := createSession(t, svc, "u1", "10.0.0.1")

	clock.Advance(25 * time.Hour)
	assert.Equal(t, models.SessionErrExpired, svc.Validate(ctx, session.ID).Error)
	assert.Equal(t, models.SessionErrNotFound, svc.Validate(ctx, session.ID).Error)
}

func TestSessionService_RefreshExtendsExpiry(t *testing.T) {
	svc, clock := newTestSessionService(t)
	ctx := context.Background()
	session := createSession(t, svc, "u1", "10.0.0.1")

	clock.Advance(20 * time.Hour)
	require.True(t, svc.Refresh(ctx, session.ID))

	clock.Advance(10 * time.Hour)
	assert.True(t, svc.Validate(ctx, session.ID).IsValid)

	assert.False(t, svc.Refresh(ctx, "missing"))
}

// Index sets must outlive the creation timeout once a session is refreshed,
// or logout-all and lockout lose track of it.
func TestSessionService_RefreshedSessionStaysIndexed(t *testing.T) {
	stores := []struct {
		name    string
		timeout time.Duration
		setup   func(t *testing.T) (store.Store, func() time.Time, func(time.Duration))
	}{
		{
			name:    "memory",
			timeout: time.Second,
			setup: func(t *testing.T) (store.Store, func() time.Time, func(time.Duration)) {
				st := store.NewMemoryStore()
				t.Cleanup(func() { _ = st.Close() })
				return st, time.Now, time.Sleep
			},
		},
		{
			name:    "redis",
			timeout: time.Hour,
			setup: func(t *testing.T) (store.Store, func() time.Time, func(time.Duration)) {
				mr, err := miniredis.Run()
				require.NoError(t, err)
				t.Cleanup(mr.Close)

				st := store.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
				t.Cleanup(func() { _ = st.Close() })

				clock := newTestClock()
				return st, clock.Now, func(d time.Duration) {
					clock.Advance(d)
					mr.FastForward(d)
				}
			},
		},
	}

	for _, tc := range stores {
		t.Run(tc.name, func(t *testing.T) {
			st, now, advance := tc.setup(t)
			cfg := DefaultSessionConfig()
			cfg.SessionTimeout = tc.timeout
			cfg.MaxLoginAttempts = 2
			svc := NewSessionService(st, cfg, discardLogger())
			svc.SetClock(now)
			ctx := context.Background()

			session := createSession(t, svc, "u1", "10.0.0.1")
			step := tc.timeout * 6 / 10

			advance(step)
			require.True(t, svc.Refresh(ctx, session.ID))
			advance(step)

			require.True(t, svc.Validate(ctx, session.ID).IsValid)
			assert.Len(t, svc.ListForUser(ctx, "u1"), 1)

			for i := 0; i < cfg.MaxLoginAttempts; i++ {
				_, err := svc.RecordLoginAttempt(ctx, failedAttempt("u1@x.com", "10.0.0.9"))
				require.NoError(t, err)
			}
			assert.Equal(t, models.SessionErrLocked, svc.Validate(ctx, session.ID).Error)

			assert.Equal(t, 1, svc.DestroyAllForUser(ctx, "u1"))
			assert.Equal(t, models.SessionErrNotFound, svc.Validate(ctx, session.ID).Error)
		})
	}
}

func TestSessionService_DestroyAndDestroyAll(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()

	a := createSession(t, svc, "u1", "10.0.0.1")
	createSession(t, svc, "u1", "10.0.0.2")
	createSession(t, svc, "u1", "10.0.0.3")
	other := createSession(t, svc, "u2", "10.0.0.4")

	assert.True(t, svc.Destroy(ctx, a.ID))
	assert.False(t, svc.Destroy(ctx, a.ID))
	assert.Equal(t, 2, svc.DestroyAllForUser(ctx, "u1"))
	assert.Empty(t, svc.ListForUser(ctx, "u1"))
	assert.True(t, svc.Validate(ctx, other.ID).IsValid)
}

func TestSessionService_EvictsLeastRecentlyUsed(t *testing.T) {
	svc, clock := newTestSessionService(t)
	ctx := context.Background()

	var sessions []*models.Session
	for i := 0; i < 5; i++ {
		sessions = append(sessions, createSession(t, svc, "u1", "10.0.0.1"))
		clock.Advance(time.Minute)
	}
	// Touch the oldest so the second oldest becomes the eviction candidate
	require.True(t, svc.Validate(ctx, sessions[0].ID).IsValid)

	newest := createSession(t, svc, "u1", "10.0.0.1")

	assert.Len(t, svc.ListForUser(ctx, "u1"), 5)
	assert.Equal(t, models.SessionErrNotFound, svc.Validate(ctx, sessions[1].ID).Error)
	assert.True(t, svc.Validate(ctx, sessions[0].ID).IsValid)
	assert.True(t, svc.Validate(ctx, newest.ID).IsValid)
}

func TestSessionService_LockoutAfterMaxFailures(t *testing.T) {
	svc, clock := newTestSessionService(t)
	ctx := context.Background()
	email := "u1@x.com"

	for i := 0; i < 4; i++ {
		status, err := svc.RecordLoginAttempt(ctx, failedAttempt(email, "1.1.1.1"))
		require.NoError(t, err)
		assert.False(t, status.IsLocked)
		clock.Advance(time.Minute)
	}

	status, err := svc.RecordLoginAttempt(ctx, failedAttempt(email, "1.1.1.1"))
	require.NoError(t, err)
	require.True(t, status.IsLocked)
	assert.WithinDuration(t, clock.Now().Add(30*time.Minute), *status.LockedUntil, 0)
	assert.True(t, svc.IsAccountLocked(ctx, email).IsLocked)

	clock.Advance(31 * time.Minute)
	assert.False(t, svc.IsAccountLocked(ctx, email).IsLocked)
}

func TestSessionService_FailuresOutsideWindowDoNotLock(t *testing.T) {
	svc, clock := newTestSessionService(t)
	ctx := context.Background()
	email := "u1@x.com"

	for i := 0; i < 5; i++ {
		status, err := svc.RecordLoginAttempt(ctx, failedAttempt(email, "1.1.1.1"))
		require.NoError(t, err)
		assert.False(t, status.IsLocked, "attempt %d", i+1)
		clock.Advance(4 * time.Minute)
	}
}

func TestSessionService_FailuresCountedPerIP(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()
	email := "u1@x.com"

	for i := 0; i < 4; i++ {
		_, err := svc.RecordLoginAttempt(ctx, failedAttempt(email, "1.1.1.1"))
		require.NoError(t, err)
		_, err = svc.RecordLoginAttempt(ctx, failedAttempt(email, "2.2.2.2"))
		require.NoError(t, err)
	}
	assert.False(t, svc.IsAccountLocked(ctx, email).IsLocked)
}

func TestSessionService_SuccessClearsFailures(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()
	email := "u1@x.com"

	for i := 0; i < 4; i++ {
		_, err := svc.RecordLoginAttempt(ctx, failedAttempt(email, "1.1.1.1"))
		require.NoError(t, err)
	}
	_, err := svc.RecordLoginAttempt(ctx, models.LoginAttempt{Email: email, IPAddress: "1.1.1.1", Success: true})
	require.NoError(t, err)

	status, err := svc.RecordLoginAttempt(ctx, failedAttempt(email, "1.1.1.1"))
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
}

func TestSessionService_LockoutLocksSessionsAndLazyUnlock(t *testing.T) {
	svc, clock := newTestSessionService(t)
	ctx := context.Background()

	session := createSession(t, svc, "u1", "10.0.0.1")
	for i := 0; i < 5; i++ {
		_, err := svc.RecordLoginAttempt(ctx, failedAttempt("u1@x.com", "6.6.6.6"))
		require.NoError(t, err)
	}

	assert.Equal(t, models.SessionErrLocked, svc.Validate(ctx, session.ID).Error)

	clock.Advance(31 * time.Minute)
	result := svc.Validate(ctx, session.ID)
	require.True(t, result.IsValid, "session unlocks once lock-until has passed")
	assert.False(t, result.Session.IsLocked)
	assert.Zero(t, result.Session.FailedAttempts)
}

func TestSessionService_UnlockAccount(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()

	session := createSession(t, svc, "u1", "10.0.0.1")
	for i := 0; i < 5; i++ {
		_, err := svc.RecordLoginAttempt(ctx, failedAttempt("u1@x.com", "6.6.6.6"))
		require.NoError(t, err)
	}

	unlocked, err := svc.UnlockAccount(ctx, "u1@x.com")
	require.NoError(t, err)
	assert.True(t, unlocked)
	assert.False(t, svc.IsAccountLocked(ctx, "u1@x.com").IsLocked)
	assert.True(t, svc.Validate(ctx, session.ID).IsValid)

	// Failure history was cleared, so one more failure does not relock
	status, err := svc.RecordLoginAttempt(ctx, failedAttempt("u1@x.com", "6.6.6.6"))
	require.NoError(t, err)
	assert.False(t, status.IsLocked)

	unlocked, err = svc.UnlockAccount(ctx, "never-locked@x.com")
	require.NoError(t, err)
	assert.False(t, unlocked)
}

func TestSessionService_DetectSuspiciousActivity(t *testing.T) {
	svc, clock := newTestSessionService(t)
	ctx := context.Background()

	session := createSession(t, svc, "u1", "10.0.0.1")
	require.True(t, svc.Validate(ctx, session.ID).IsValid)

	result := svc.DetectSuspiciousActivity(ctx, session.ID, "10.0.0.1")
	assert.False(t, result.IsSuspicious)
	assert.Empty(t, result.Reasons)

	result = svc.DetectSuspiciousActivity(ctx, session.ID, "192.0.2.7")
	assert.True(t, result.IsSuspicious)
	assert.Contains(t, result.Reasons, models.SuspiciousIPChanged)

	clock.Advance(5 * time.Hour)
	require.True(t, svc.Validate(ctx, session.ID).IsValid)
	result = svc.DetectSuspiciousActivity(ctx, session.ID, "10.0.0.1")
	assert.Equal(t, []string{models.SuspiciousDormantSession}, result.Reasons)
}

func TestSessionService_DetectConcurrentLocations(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()

	session := createSession(t, svc, "u1", "10.0.0.1")
	createSession(t, svc, "u1", "10.0.0.2")
	createSession(t, svc, "u1", "10.0.0.3")

	result := svc.DetectSuspiciousActivity(ctx, session.ID, "10.0.0.1")
	assert.NotContains(t, result.Reasons, models.SuspiciousConcurrentIPs)

	createSession(t, svc, "u1", "10.0.0.4")
	result = svc.DetectSuspiciousActivity(ctx, session.ID, "10.0.0.1")
	assert.Contains(t, result.Reasons, models.SuspiciousConcurrentIPs)
}

func TestSessionService_CleanupExpired(t *testing.T) {
	svc, clock := newTestSessionService(t)
	ctx := context.Background()

	createSession(t, svc, "u1", "10.0.0.1")
	for i := 0; i < 5; i++ {
		_, err := svc.RecordLoginAttempt(ctx, failedAttempt("u2@x.com", "6.6.6.6"))
		require.NoError(t, err)
	}

	clock.Advance(25 * time.Hour)
	result, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sessions)
	assert.Equal(t, 1, result.AttemptLogs)
	assert.Equal(t, 1, result.Lockouts)
}

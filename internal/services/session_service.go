package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/store"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

const sessionIDBytes = 32

// SessionConfig holds session and lockout policy
type SessionConfig struct {
	SessionTimeout     time.Duration // absolute lifetime of a session
	MaxSessionsPerUser int
	MaxLoginAttempts   int
	AttemptWindow      time.Duration // failures counted within this window
	LockoutDuration    time.Duration
	AttemptRetention   time.Duration
	DormancyThreshold  time.Duration
	MaxConcurrentIPs   int
}

// DefaultSessionConfig returns the production defaults
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SessionTimeout:     24 * time.Hour,
		MaxSessionsPerUser: 5,
		MaxLoginAttempts:   5,
		AttemptWindow:      15 * time.Minute,
		LockoutDuration:    30 * time.Minute,
		AttemptRetention:   24 * time.Hour,
		DormancyThreshold:  4 * time.Hour,
		MaxConcurrentIPs:   3,
	}
}

// SessionService manages session lifecycle, login attempts and account lockout.
// Read-modify-write sequences are serialized by mu, so a single instance is
// consistent on any Store; several instances sharing Redis may interleave them.
type SessionService struct {
	store  store.Store
	cfg    SessionConfig
	logger *slog.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// NewSessionService creates a new SessionService
func NewSessionService(st store.Store, cfg SessionConfig, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		store:  st,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

func sessionKey(id string) string { return store.PrefixSession + id }

func attemptsKey(email, ip string) string { return store.PrefixLoginAttempts + email + ":" + ip }

func (s *SessionService) load(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := s.store.Get(ctx, sessionKey(id), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionService) save(ctx context.Context, session *models.Session) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.store.Set(ctx, sessionKey(session.ID), session, ttl); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// index adds the session to its user and email sets. Every write pushes the
// set TTL to now+SessionTimeout, which no live session can outlast.
func (s *SessionService) index(ctx context.Context, session *models.Session) error {
	if err := s.store.AddToSet(ctx, store.PrefixUserSessions+session.UserID, session.ID, s.cfg.SessionTimeout); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	if err := s.store.AddToSet(ctx, store.PrefixEmailSessions+session.Email, session.ID, s.cfg.SessionTimeout); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

// Create starts a new active session, evicting the least recently used one
// when the user is over the concurrent session limit
func (s *SessionService) Create(ctx context.Context, userID, email string, role models.Role, permissions []string, ip, userAgent string) (*models.Session, error) {
	id, err := pkgauth.SecureToken(sessionIDBytes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &models.Session{
		ID:             id,
		UserID:         userID,
		Email:          email,
		Role:           role,
		Permissions:    permissions,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(s.cfg.SessionTimeout),
		IPAddress:      ip,
		Device:         pkghttp.DeviceDescriptor(userAgent),
		IsActive:       true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	if err := s.index(ctx, session); err != nil {
		return nil, err
	}

	if s.cfg.MaxSessionsPerUser > 0 {
		s.enforceSessionLimit(ctx, userID, id)
	}

	s.logger.Info("session created",
		slog.String("user_id", userID),
		slog.String("session", pkglogger.TokenFingerprint(id)),
		slog.String("device", session.Device))

	return session, nil
}

func (s *SessionService) enforceSessionLimit(ctx context.Context, userID, keep string) {
	sessions := s.listLocked(ctx, userID)
	if len(sessions) <= s.cfg.MaxSessionsPerUser {
		return
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastAccessedAt.Before(sessions[j].LastAccessedAt)
	})

	excess := len(sessions) - s.cfg.MaxSessionsPerUser
	for _, old := range sessions {
		if excess == 0 {
			break
		}
		if old.ID == keep {
			continue
		}
		s.destroyLocked(ctx, old)
		excess--
		s.logger.Info("session evicted by concurrent session limit",
			slog.String("user_id", userID),
			slog.String("session", pkglogger.TokenFingerprint(old.ID)))
	}
}

// listLocked returns the user's stored sessions and prunes dangling index entries
func (s *SessionService) listLocked(ctx context.Context, userID string) []*models.Session {
	ids, err := s.store.SetMembers(ctx, store.PrefixUserSessions+userID)
	if err != nil {
		s.logger.Error("failed to list sessions", slog.String("user_id", userID), slog.Any("error", err))
		return nil
	}

	sessions := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.load(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				_ = s.store.RemoveFromSet(ctx, store.PrefixUserSessions+userID, id)
			}
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions
}

// ListForUser returns the user's sessions
func (s *SessionService) ListForUser(ctx context.Context, userID string) []*models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(ctx, userID)
}

// Validate checks a session in order: existence, active flag, lock (with lazy
// unlock), absolute expiry (purging), then bumps last access
func (s *SessionService) Validate(ctx context.Context, sessionID string) models.SessionValidation {
	if sessionID == "" {
		return models.SessionValidation{Error: models.SessionErrNotFound}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.SessionValidation{Error: models.SessionErrNotFound}
		}
		s.logger.Error("failed to load session", slog.Any("error", err))
		return models.SessionValidation{Error: models.SessionErrStore}
	}

	if !session.IsActive {
		return models.SessionValidation{Error: models.SessionErrInactive}
	}

	now := s.now()
	if session.IsLocked {
		if session.LockedUntil == nil || now.Before(*session.LockedUntil) {
			return models.SessionValidation{Error: models.SessionErrLocked}
		}
		session.IsLocked = false
		session.LockedUntil = nil
		session.FailedAttempts = 0
	}

	if !now.Before(session.ExpiresAt) {
		s.destroyLocked(ctx, session)
		return models.SessionValidation{Error: models.SessionErrExpired}
	}

	midpoint := session.LastAccessedAt.Add(session.ExpiresAt.Sub(session.LastAccessedAt) / 2)
	needsRefresh := now.After(midpoint)

	session.PreviousAccessAt = session.LastAccessedAt
	session.LastAccessedAt = now
	if err := s.save(ctx, session); err != nil {
		s.logger.Error("failed to update session", slog.Any("error", err))
		return models.SessionValidation{Error: models.SessionErrStore}
	}

	return models.SessionValidation{IsValid: true, Session: session, NeedsRefresh: needsRefresh}
}

// Refresh extends a usable session's absolute expiry by the session timeout
func (s *SessionService) Refresh(ctx context.Context, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return false
	}

	now := s.now()
	if !session.IsActive || session.IsLocked || !now.Before(session.ExpiresAt) {
		return false
	}

	session.ExpiresAt = now.Add(s.cfg.SessionTimeout)
	session.LastAccessedAt = now
	if err := s.save(ctx, session); err != nil {
		s.logger.Error("failed to refresh session", slog.Any("error", err))
		return false
	}
	if err := s.index(ctx, session); err != nil {
		s.logger.Error("failed to refresh session", slog.Any("error", err))
		return false
	}
	return true
}

// Destroy removes a session. Returns false if it did not exist.
func (s *SessionService) Destroy(ctx context.Context, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return false
	}
	return s.destroyLocked(ctx, session)
}

func (s *SessionService) destroyLocked(ctx context.Context, session *models.Session) bool {
	deleted, err := s.store.Delete(ctx, sessionKey(session.ID))
	if err != nil {
		s.logger.Error("failed to delete session", slog.Any("error", err))
		return false
	}
	_ = s.store.RemoveFromSet(ctx, store.PrefixUserSessions+session.UserID, session.ID)
	_ = s.store.RemoveFromSet(ctx, store.PrefixEmailSessions+session.Email, session.ID)
	return deleted
}

// DestroyAllForUser removes every session of a user and returns how many were removed
func (s *SessionService) DestroyAllForUser(ctx context.Context, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, session := range s.listLocked(ctx, userID) {
		if s.destroyLocked(ctx, session) {
			count++
		}
	}
	return count
}

// RecordLoginAttempt stores an attempt for email+IP. A success clears that
// pair's failures; reaching the failure limit within the window locks the
// account and every active session for the email. Returns the resulting lock state.
func (s *SessionService) RecordLoginAttempt(ctx context.Context, attempt models.LoginAttempt) (models.LockStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if attempt.AttemptTime.IsZero() {
		attempt.AttemptTime = now
	}

	key := attemptsKey(attempt.Email, attempt.IPAddress)
	var attempts []models.LoginAttempt
	if err := s.store.Get(ctx, key, &attempts); err != nil && !errors.Is(err, store.ErrNotFound) {
		return models.LockStatus{}, fmt.Errorf("failed to load login attempts: %w", err)
	}

	retainAfter := now.Add(-s.cfg.AttemptRetention)
	kept := attempts[:0]
	for _, a := range attempts {
		if a.AttemptTime.Before(retainAfter) {
			continue
		}
		if attempt.Success && !a.Success {
			continue
		}
		kept = append(kept, a)
	}
	kept = append(kept, attempt)

	if err := s.store.Set(ctx, key, kept, s.cfg.AttemptRetention); err != nil {
		return models.LockStatus{}, fmt.Errorf("failed to save login attempts: %w", err)
	}
	if err := s.store.AddToSet(ctx, store.PrefixAttemptIPs+attempt.Email, attempt.IPAddress, s.cfg.AttemptRetention); err != nil {
		return models.LockStatus{}, fmt.Errorf("failed to index login attempts: %w", err)
	}

	if attempt.Success {
		return models.LockStatus{}, nil
	}

	if status := s.lockStatusLocked(ctx, attempt.Email); status.IsLocked {
		return status, nil
	}

	windowStart := now.Add(-s.cfg.AttemptWindow)
	failures := 0
	for _, a := range kept {
		if !a.Success && a.AttemptTime.After(windowStart) {
			failures++
		}
	}
	if failures < s.cfg.MaxLoginAttempts {
		return models.LockStatus{}, nil
	}

	until := now.Add(s.cfg.LockoutDuration)
	lockout := models.AccountLockout{
		Email:        attempt.Email,
		LockedAt:     now,
		LockedUntil:  until,
		AttemptCount: failures,
	}
	if err := s.store.Set(ctx, store.PrefixLockout+attempt.Email, lockout, s.cfg.LockoutDuration); err != nil {
		return models.LockStatus{}, fmt.Errorf("failed to save lockout: %w", err)
	}

	locked := s.setSessionLocks(ctx, attempt.Email, &until, failures)
	s.logger.Warn("account locked after repeated failed logins",
		slog.String("email", pkglogger.SanitizedEmail(attempt.Email)),
		slog.String("ip_address", attempt.IPAddress),
		slog.Int("failures", failures),
		slog.Int("sessions_locked", locked))

	return models.LockStatus{IsLocked: true, LockedUntil: &until}, nil
}

// setSessionLocks locks (until != nil) or unlocks every active session for email
func (s *SessionService) setSessionLocks(ctx context.Context, email string, until *time.Time, failures int) int {
	ids, err := s.store.SetMembers(ctx, store.PrefixEmailSessions+email)
	if err != nil {
		s.logger.Error("failed to list sessions for email", slog.Any("error", err))
		return 0
	}

	changed := 0
	for _, id := range ids {
		session, err := s.load(ctx, id)
		if err != nil {
			continue
		}
		if until != nil {
			if !session.IsActive {
				continue
			}
			lockedUntil := *until
			session.IsLocked = true
			session.LockedUntil = &lockedUntil
			session.FailedAttempts = failures
		} else {
			if !session.IsLocked {
				continue
			}
			session.IsLocked = false
			session.LockedUntil = nil
			session.FailedAttempts = 0
		}
		if err := s.save(ctx, session); err == nil {
			changed++
		}
	}
	return changed
}

// IsAccountLocked reports the lock state for email, clearing an elapsed lockout
func (s *SessionService) IsAccountLocked(ctx context.Context, email string) models.LockStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockStatusLocked(ctx, email)
}

func (s *SessionService) lockStatusLocked(ctx context.Context, email string) models.LockStatus {
	var lockout models.AccountLockout
	if err := s.store.Get(ctx, store.PrefixLockout+email, &lockout); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("failed to load lockout", slog.Any("error", err))
		}
		return models.LockStatus{}
	}

	if !s.now().Before(lockout.LockedUntil) {
		_, _ = s.store.Delete(ctx, store.PrefixLockout+email)
		s.clearAttemptsLocked(ctx, email)
		return models.LockStatus{}
	}

	until := lockout.LockedUntil
	return models.LockStatus{IsLocked: true, LockedUntil: &until}
}

// UnlockAccount lifts a lockout early and unlocks the email's sessions.
// Returns false if the account was not locked.
func (s *SessionService) UnlockAccount(ctx context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existed, err := s.store.Delete(ctx, store.PrefixLockout+email)
	if err != nil {
		return false, fmt.Errorf("failed to delete lockout: %w", err)
	}
	s.clearAttemptsLocked(ctx, email)
	unlocked := s.setSessionLocks(ctx, email, nil, 0)

	if existed || unlocked > 0 {
		s.logger.Info("account unlocked",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Int("sessions_unlocked", unlocked))
	}
	return existed || unlocked > 0, nil
}

func (s *SessionService) clearAttemptsLocked(ctx context.Context, email string) {
	ips, err := s.store.SetMembers(ctx, store.PrefixAttemptIPs+email)
	if err != nil {
		return
	}
	for _, ip := range ips {
		_, _ = s.store.Delete(ctx, attemptsKey(email, ip))
	}
	_, _ = s.store.Delete(ctx, store.PrefixAttemptIPs+email)
}

// DetectSuspiciousActivity flags IP changes, reactivation after dormancy and
// too many concurrent source IPs. It is advisory and never blocks.
func (s *SessionService) DetectSuspiciousActivity(ctx context.Context, sessionID, currentIP string) models.SuspiciousActivity {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := models.SuspiciousActivity{Reasons: []string{}}
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return result
	}

	if currentIP != "" && session.IPAddress != currentIP {
		result.Reasons = append(result.Reasons, models.SuspiciousIPChanged)
	}

	lastSeen := session.LastAccessedAt
	if !session.PreviousAccessAt.IsZero() {
		lastSeen = session.PreviousAccessAt
	}
	if s.now().Sub(lastSeen) > s.cfg.DormancyThreshold {
		result.Reasons = append(result.Reasons, models.SuspiciousDormantSession)
	}

	ips := map[string]struct{}{}
	if currentIP != "" {
		ips[currentIP] = struct{}{}
	}
	for _, other := range s.listLocked(ctx, session.UserID) {
		if other.IsActive && other.IPAddress != "" {
			ips[other.IPAddress] = struct{}{}
		}
	}
	if len(ips) > s.cfg.MaxConcurrentIPs {
		result.Reasons = append(result.Reasons, models.SuspiciousConcurrentIPs)
	}

	result.IsSuspicious = len(result.Reasons) > 0
	return result
}

// SessionCleanupResult counts what a cleanup sweep removed
type SessionCleanupResult struct {
	Sessions    int
	AttemptLogs int
	Lockouts    int
}

// CleanupExpired purges expired sessions, stale attempt logs and elapsed lockouts
func (s *SessionService) CleanupExpired(ctx context.Context) (SessionCleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result SessionCleanupResult
	now := s.now()

	keys, err := s.store.Keys(ctx, store.PrefixSession)
	if err != nil {
		return result, fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, key := range keys {
		var session models.Session
		if err := s.store.Get(ctx, key, &session); err != nil {
			continue
		}
		if now.Before(session.ExpiresAt) {
			continue
		}
		if s.destroyLocked(ctx, &session) {
			result.Sessions++
		}
	}

	keys, err = s.store.Keys(ctx, store.PrefixLoginAttempts)
	if err != nil {
		return result, fmt.Errorf("failed to list login attempts: %w", err)
	}
	retainAfter := now.Add(-s.cfg.AttemptRetention)
	for _, key := range keys {
		var attempts []models.LoginAttempt
		if err := s.store.Get(ctx, key, &attempts); err != nil {
			continue
		}
		kept := attempts[:0]
		for _, a := range attempts {
			if !a.AttemptTime.Before(retainAfter) {
				kept = append(kept, a)
			}
		}
		switch {
		case len(kept) == 0:
			_, _ = s.store.Delete(ctx, key)
			result.AttemptLogs++
		case len(kept) < len(attempts):
			_ = s.store.Set(ctx, key, kept, s.cfg.AttemptRetention)
		}
	}

	keys, err = s.store.Keys(ctx, store.PrefixLockout)
	if err != nil {
		return result, fmt.Errorf("failed to list lockouts: %w", err)
	}
	for _, key := range keys {
		var lockout models.AccountLockout
		if err := s.store.Get(ctx, key, &lockout); err != nil {
			continue
		}
		if now.Before(lockout.LockedUntil) {
			continue
		}
		if deleted, _ := s.store.Delete(ctx, key); deleted {
			result.Lockouts++
		}
	}

	return result, nil
}

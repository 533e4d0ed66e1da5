package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/security"
	"github.com/BradenHooton/sentinel/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type eventLog struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (l *eventLog) Record(_ context.Context, event models.SecurityEvent) models.SecurityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return event
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) find(eventType string) *models.SecurityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.events {
		if l.events[i].Type == eventType {
			return &l.events[i]
		}
	}
	return nil
}

type gatekeeperEnv struct {
	gate   *Gatekeeper
	csrf   *auth.CSRFTokenManager
	events *eventLog
	calls  int
	body   string
}

func newGatekeeperEnv(t *testing.T, extra ...Stage) *gatekeeperEnv {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	env := &gatekeeperEnv{
		csrf:   auth.NewCSRFTokenManager(auth.CSRFConfig{Secret: "csrf-secret-csrf-secret-csrf-secret"}),
		events: &eventLog{},
	}
	stages := DefaultStages(
		NewRateLimiter(st, nil, DefaultRateLimitConfig(), nil),
		env.csrf,
		[]string{"/webhooks/*"},
		security.NewSanitizer(security.DefaultSanitizerConfig()),
		security.NewThreatDetector(security.DefaultThreatConfig()),
	)
	stages = append(extra, stages...)

	env.gate = NewGatekeeper(GatekeeperConfig{
		Headers:       SecurityHeadersConfig{Env: "production"},
		ExcludedPaths: []string{"/health"},
	}, env.events, discardLogger(), stages...)
	return env
}

func (e *gatekeeperEnv) serve(r *http.Request) *httptest.ResponseRecorder {
	handler := e.gate.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.calls++
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			e.body = string(data)
		}
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func newBrowserRequest(method, target string, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, target, body)
	r.RemoteAddr = "192.0.2.10:50000"
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/128.0")
	r.Header.Set("Accept", "application/json")
	r.Header.Set("Accept-Language", "en-US")
	r.Header.Set("Accept-Encoding", "gzip")
	return r
}

func (e *gatekeeperEnv) withCSRF(t *testing.T, r *http.Request) *http.Request {
	t.Helper()
	token, err := e.csrf.GenerateToken()
	require.NoError(t, err)
	r.Header.Set("Origin", "http://example.com")
	r.Header.Set("x-csrf-token", token)
	r.AddCookie(&http.Cookie{Name: "_csrf", Value: token})
	return r
}

func TestGatekeeper_PassesCleanRequest(t *testing.T) {
	env := newGatekeeperEnv(t)

	w := env.serve(newBrowserRequest(http.MethodGet, "/users/me", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.calls)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
	assert.NotEmpty(t, w.Header().Get(ProcessingTimeHeader))
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, []string{models.EventRequestPassed}, env.events.types())
	passed := env.events.find(models.EventRequestPassed)
	assert.Equal(t, "192.0.2.10", passed.IPAddress)
	assert.Equal(t, 0, passed.Details["threatScore"])
}

func TestGatekeeper_ExcludedPathOnlyGetsHeaders(t *testing.T) {
	env := newGatekeeperEnv(t)

	w := env.serve(httptest.NewRequest(http.MethodPost, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	assert.Empty(t, env.events.types())
}

func TestGatekeeper_RateLimit(t *testing.T) {
	env := newGatekeeperEnv(t)

	for i := 0; i < 5; i++ {
		w := env.serve(env.withCSRF(t, newBrowserRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "900", w.Header().Get("Retry-After"))
		assert.Equal(t, strconv.Itoa(4-i), w.Header().Get("X-RateLimit-Remaining"))
	}

	w := env.serve(env.withCSRF(t, newBrowserRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 5, env.calls)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.NotEmpty(t, w.Header().Get(ProcessingTimeHeader))
	assert.Contains(t, w.Body.String(), models.CodeRateLimitExceeded)

	event := env.events.find(models.EventRateLimitExceeded)
	require.NotNil(t, event)
	assert.Equal(t, models.SeverityMedium, event.Severity)
	assert.Equal(t, 5, event.Details["limit"])
}

func TestGatekeeper_CSRF(t *testing.T) {
	env := newGatekeeperEnv(t)

	w := env.serve(newBrowserRequest(http.MethodPost, "/comments", strings.NewReader(`{"body":"hi"}`)))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), models.CodeCSRFValidationFailed)
	event := env.events.find(models.EventCSRFValidationFailed)
	require.NotNil(t, event)
	assert.Equal(t, auth.CSRFReasonMissingOrigin, event.Details["reason"])

	r := newBrowserRequest(http.MethodPost, "/comments", strings.NewReader(`{"body":"hi"}`))
	r.Header.Set("Origin", "http://example.com")
	r.Header.Set("x-csrf-token", "abc")
	w = env.serve(r)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.serve(newBrowserRequest(http.MethodGet, "/comments", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.serve(newBrowserRequest(http.MethodPost, "/webhooks/ses", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.serve(env.withCSRF(t, newBrowserRequest(http.MethodPost, "/comments", strings.NewReader(`{"body":"hi"}`))))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, env.calls)
}

func TestGatekeeper_SanitizationBlocksInjection(t *testing.T) {
	env := newGatekeeperEnv(t)

	r := env.withCSRF(t, newBrowserRequest(http.MethodPost, "/comments", strings.NewReader(`{"body":"' OR '1'='1"}`)))
	r.Header.Set("Content-Type", "application/json")
	w := env.serve(r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), models.CodeRequestBlocked)
	assert.NotContains(t, w.Body.String(), "sql")
	assert.Zero(t, env.calls)

	event := env.events.find(models.EventSanitizationBlocked)
	require.NotNil(t, event)
	assert.Equal(t, models.SeverityHigh, event.Severity)
	assert.Equal(t, security.CategorySQLInjection, event.Details["reason"])
}

func TestGatekeeper_SanitizationRewritesBody(t *testing.T) {
	env := newGatekeeperEnv(t)

	r := env.withCSRF(t, newBrowserRequest(http.MethodPost, "/comments", strings.NewReader(`{"body":"nice<script>alert(1)</script>"}`)))
	r.Header.Set("Content-Type", "application/json")
	w := env.serve(r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"body":"nice"}`, env.body)
	assert.Equal(t, []string{models.EventInputSanitized, models.EventRequestPassed}, env.events.types())
}

func TestGatekeeper_ThreatScoring(t *testing.T) {
	env := newGatekeeperEnv(t)

	scanner := httptest.NewRequest(http.MethodGet, "/.git/config", nil)
	scanner.Header.Set("User-Agent", "sqlmap/1.7")
	w := env.serve(scanner)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), models.CodeRequestBlocked)
	blocked := env.events.find(models.EventThreatBlocked)
	require.NotNil(t, blocked)
	assert.Equal(t, 85, blocked.Details["score"])

	probe := httptest.NewRequest(http.MethodGet, "/", nil)
	probe.Header.Set("User-Agent", "Nikto/2.5")
	w = env.serve(probe)
	assert.Equal(t, http.StatusOK, w.Code)
	detected := env.events.find(models.EventThreatDetected)
	require.NotNil(t, detected)
	assert.Equal(t, models.SeverityMedium, detected.Severity)
}

func TestGatekeeper_StageFailureIsGeneric500(t *testing.T) {
	panicking := Stage{Name: "broken", Run: func(http.ResponseWriter, *http.Request, *RequestInfo) (Verdict, error) {
		panic("boom")
	}}
	env := newGatekeeperEnv(t, panicking)

	w := env.serve(newBrowserRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
	assert.Zero(t, env.calls)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	event := env.events.find(models.EventSecurityMiddlewareError)
	require.NotNil(t, event)
	assert.Equal(t, models.SeverityHigh, event.Severity)
	assert.Equal(t, "broken", event.Details["stage"])

	failing := Stage{Name: "store", Run: func(http.ResponseWriter, *http.Request, *RequestInfo) (Verdict, error) {
		return Verdict{}, errors.New("connection refused")
	}}
	env = newGatekeeperEnv(t, failing)
	w = env.serve(newBrowserRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), models.CodeInternalError)
}

func TestGatekeeper_BodyTooLarge(t *testing.T) {
	cfg := security.DefaultSanitizerConfig()
	cfg.MaxBodyBytes = 8
	gate := NewGatekeeper(GatekeeperConfig{}, nil, discardLogger(), SanitizeStage(security.NewSanitizer(cfg)))

	r := newBrowserRequest(http.MethodPost, "/upload", strings.NewReader(`{"data":"0123456789"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	gate.Handler(okHandler()).ServeHTTP(w, r)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestGatekeeper_ProcessingTime(t *testing.T) {
	gate := NewGatekeeper(GatekeeperConfig{}, nil, discardLogger())
	base := time.Now()
	calls := 0
	gate.SetClock(func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 3 * time.Millisecond)
	})

	w := httptest.NewRecorder()
	gate.Handler(okHandler()).ServeHTTP(w, newBrowserRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "3ms", w.Header().Get(ProcessingTimeHeader))
}

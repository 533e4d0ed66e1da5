package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/handlers"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
)

type fakeEventReader struct {
	events     []models.SecurityEvent
	lastLimit  int
	lastFilter services.EventFilter
}

func (f *fakeEventReader) Recent(limit int, filter services.EventFilter) []models.SecurityEvent {
	f.lastLimit, f.lastFilter = limit, filter
	return f.events
}

func (f *fakeEventReader) DispatcherStats() (dropped, failed uint64) {
	return 2, 1
}

type fakeEventHistory struct {
	since time.Time
	err   error
}

func (f *fakeEventHistory) ListByIP(_ context.Context, ip string, since time.Time, _ int) ([]models.SecurityEvent, error) {
	f.since = since
	if f.err != nil {
		return nil, f.err
	}
	return []models.SecurityEvent{{ID: "e1", Type: models.EventThreatBlocked, IPAddress: ip}}, nil
}

type fakeUnlocker struct {
	email, adminID string
	ip             string
	unlocked       bool
}

func (f *fakeUnlocker) UnlockAccount(_ context.Context, email, adminID string, client services.ClientInfo) (bool, error) {
	f.email, f.adminID, f.ip = email, adminID, client.IPAddress
	return f.unlocked, nil
}

func TestGetSecurityEvents(t *testing.T) {
	reader := &fakeEventReader{events: []models.SecurityEvent{{ID: "e1", Type: models.EventCSRFValidationFailed}}}
	handler := handlers.NewAdminHandler(reader, nil, &fakeUnlocker{}, nil)

	w := httptest.NewRecorder()
	handler.GetSecurityEvents(w, httptest.NewRequest(http.MethodGet, "/admin/security/events?type=csrf_validation_failed&ip=198.51.100.4&severity=medium&limit=10", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, reader.lastLimit)
	assert.Equal(t, services.EventFilter{
		Type:        models.EventCSRFValidationFailed,
		IPAddress:   "198.51.100.4",
		MinSeverity: models.SeverityMedium,
	}, reader.lastFilter)

	resp := decodeBody[handlers.SecurityEventsResponse](t, w)
	assert.Len(t, resp.Events, 1)
	assert.Equal(t, uint64(2), resp.Dropped)
	assert.Equal(t, uint64(1), resp.Failed)
}

func TestGetSecurityEvents_Validation(t *testing.T) {
	reader := &fakeEventReader{}
	handler := handlers.NewAdminHandler(reader, nil, &fakeUnlocker{}, nil)

	w := httptest.NewRecorder()
	handler.GetSecurityEvents(w, httptest.NewRequest(http.MethodGet, "/admin/security/events?severity=urgent", nil))
	assertErrorResponse(t, w, http.StatusBadRequest, models.CodeInvalidInput)

	w = httptest.NewRecorder()
	handler.GetSecurityEvents(w, httptest.NewRequest(http.MethodGet, "/admin/security/events?limit=5000", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50, reader.lastLimit)
}

func TestGetEventHistory(t *testing.T) {
	t.Run("disabled without database", func(t *testing.T) {
		handler := handlers.NewAdminHandler(&fakeEventReader{}, nil, &fakeUnlocker{}, nil)
		w := httptest.NewRecorder()
		handler.GetEventHistory(w, httptest.NewRequest(http.MethodGet, "/admin/security/events/history?ip=192.0.2.1", nil))
		assertErrorResponse(t, w, http.StatusNotFound, "NOT_FOUND")
	})

	t.Run("queries by ip", func(t *testing.T) {
		history := &fakeEventHistory{}
		handler := handlers.NewAdminHandler(&fakeEventReader{}, history, &fakeUnlocker{}, nil)

		w := httptest.NewRecorder()
		handler.GetEventHistory(w, httptest.NewRequest(http.MethodGet, "/admin/security/events/history?ip=192.0.2.1&since=1h", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.WithinDuration(t, time.Now().Add(-time.Hour), history.since, 5*time.Second)
		resp := decodeBody[handlers.SecurityEventsResponse](t, w)
		require.Len(t, resp.Events, 1)
		assert.Equal(t, "192.0.2.1", resp.Events[0].IPAddress)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		handler := handlers.NewAdminHandler(&fakeEventReader{}, &fakeEventHistory{}, &fakeUnlocker{}, nil)
		for _, q := range []string{"?ip=not-an-ip", "", "?ip=192.0.2.1&since=-1h"} {
			w := httptest.NewRecorder()
			handler.GetEventHistory(w, httptest.NewRequest(http.MethodGet, "/admin/security/events/history"+q, nil))
			assertErrorResponse(t, w, http.StatusBadRequest, models.CodeInvalidInput)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		handler := handlers.NewAdminHandler(&fakeEventReader{}, &fakeEventHistory{err: errors.New("down")}, &fakeUnlocker{}, nil)
		w := httptest.NewRecorder()
		handler.GetEventHistory(w, httptest.NewRequest(http.MethodGet, "/admin/security/events/history?ip=192.0.2.1", nil))
		assertErrorResponse(t, w, http.StatusInternalServerError, models.CodeInternalError)
	})
}

func TestUnlockAccount(t *testing.T) {
	unlocker := &fakeUnlocker{unlocked: true}
	handler := handlers.NewAdminHandler(&fakeEventReader{}, nil, unlocker, nil)

	req := newJSONRequest(t, http.MethodPost, "/admin/accounts/unlock", handlers.UnlockAccountRequest{Email: "a@x.com"})
	req.RemoteAddr = "203.0.113.9:1234"
	w := httptest.NewRecorder()
	handler.UnlockAccount(w, withUser(req, "admin-1", models.RoleAdmin))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[map[string]any](t, w)
	assert.Equal(t, true, resp["unlocked"])
	assert.Equal(t, "a@x.com", unlocker.email)
	assert.Equal(t, "admin-1", unlocker.adminID)
	assert.Equal(t, "203.0.113.9", unlocker.ip)

	w = httptest.NewRecorder()
	handler.UnlockAccount(w, withUser(newJSONRequest(t, http.MethodPost, "/admin/accounts/unlock", map[string]string{"email": "bad"}), "admin-1", models.RoleAdmin))
	assertErrorResponse(t, w, http.StatusBadRequest, models.CodeInvalidInput)
}

func TestHealth(t *testing.T) {
	healthy := handlers.NewHealthHandler(map[string]handlers.HealthCheckFunc{
		"store": func(context.Context) error { return nil },
	})
	w := httptest.NewRecorder()
	healthy.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "up", decodeBody[handlers.HealthResponse](t, w).Components["store"])

	degraded := handlers.NewHealthHandler(map[string]handlers.HealthCheckFunc{
		"store":    func(context.Context) error { return nil },
		"database": func(context.Context) error { return errors.New("down") },
	})
	w = httptest.NewRecorder()
	degraded.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeBody[handlers.HealthResponse](t, w)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "down", resp.Components["database"])
}

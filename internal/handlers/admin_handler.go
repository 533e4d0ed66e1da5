package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

const maxEventPage = 200

// SecurityEventReader exposes the in-memory event buffer
type SecurityEventReader interface {
	Recent(limit int, filter services.EventFilter) []models.SecurityEvent
	DispatcherStats() (dropped, failed uint64)
}

// SecurityEventHistory reads persisted events; nil when no database is configured
type SecurityEventHistory interface {
	ListByIP(ctx context.Context, ip string, since time.Time, limit int) ([]models.SecurityEvent, error)
}

// AccountUnlocker clears account lockouts
type AccountUnlocker interface {
	UnlockAccount(ctx context.Context, email, adminID string, client services.ClientInfo) (bool, error)
}

// AdminHandler handles security administration requests
type AdminHandler struct {
	events   SecurityEventReader
	history  SecurityEventHistory
	unlocker AccountUnlocker
	ipConfig *pkghttp.IPConfig
}

// NewAdminHandler creates a new AdminHandler. history may be nil.
func NewAdminHandler(events SecurityEventReader, history SecurityEventHistory, unlocker AccountUnlocker, ipConfig *pkghttp.IPConfig) *AdminHandler {
	return &AdminHandler{
		events:   events,
		history:  history,
		unlocker: unlocker,
		ipConfig: ipConfig,
	}
}

// UnlockAccountRequest represents the request body for an admin unlock
type UnlockAccountRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// SecurityEventsResponse is a page of security events
type SecurityEventsResponse struct {
	Events  []models.SecurityEvent `json:"events"`
	Dropped uint64                 `json:"dropped"`
	Failed  uint64                 `json:"failed"`
}

// GetSecurityEvents handles GET /admin/security/events
// Accepts optional ?type=, ?ip=, ?severity= and ?limit= (1-200, default 50).
func (h *AdminHandler) GetSecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > maxEventPage {
		limit = 50
	}

	filter := services.EventFilter{
		Type:      strings.ToUpper(q.Get("type")),
		IPAddress: q.Get("ip"),
	}
	if sev := q.Get("severity"); sev != "" {
		filter.MinSeverity = models.Severity(strings.ToUpper(sev))
		switch filter.MinSeverity {
		case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		default:
			pkghttp.WriteBadRequest(w, "severity must be one of LOW, MEDIUM, HIGH, CRITICAL")
			return
		}
	}

	dropped, failed := h.events.DispatcherStats()
	pkghttp.WriteJSON(w, http.StatusOK, SecurityEventsResponse{
		Events:  h.events.Recent(limit, filter),
		Dropped: dropped,
		Failed:  failed,
	})
}

// GetEventHistory handles GET /admin/security/events/history?ip=&since=
// since is a duration back from now (default 24h).
func (h *AdminHandler) GetEventHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		pkghttp.WriteNotFound(w, "Event history is not enabled")
		return
	}

	ip := r.URL.Query().Get("ip")
	if err := validate.Var(ip, "required,ip"); err != nil {
		pkghttp.WriteBadRequest(w, "ip must be a valid IP address")
		return
	}

	since := 24 * time.Hour
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			pkghttp.WriteBadRequest(w, "since must be a positive duration")
			return
		}
		since = d
	}

	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > maxEventPage {
		limit = 100
	}

	events, err := h.history.ListByIP(r.Context(), ip, time.Now().Add(-since), limit)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to retrieve security events")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SecurityEventsResponse{Events: events})
}

// UnlockAccount handles POST /admin/accounts/unlock
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	admin := auth.GetUserFromContext(r)
	if admin == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req UnlockAccountRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	client := services.ClientInfo{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
	}
	unlocked, err := h.unlocker.UnlockAccount(r.Context(), req.Email, admin.ID, client)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"unlocked": unlocked,
	})
}

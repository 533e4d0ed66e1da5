package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/models"
)

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "a****@*******.com", SanitizedEmail("alice@example.com"))
	assert.Equal(t, "a@*.com", SanitizedEmail("a@x.com"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("not-an-email"))
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("token=abc"))
	assert.True(t, SanitizeQueryString("Email=a%40x.com"))
	assert.False(t, SanitizeQueryString("page=2&sort=asc"))
}

func TestTokenFingerprint(t *testing.T) {
	fp := TokenFingerprint("secret-token")
	assert.Len(t, fp, 8)
	assert.Equal(t, fp, TokenFingerprint("secret-token"))
	assert.NotEqual(t, fp, TokenFingerprint("other-token"))
	assert.Empty(t, TokenFingerprint(""))
}

func TestRedactedAttr(t *testing.T) {
	assert.Equal(t, "[REDACTED]", RedactedAttr("email", "a@x.com", "production").Value.String())
	assert.Equal(t, "a@x.com", RedactedAttr("email", "a@x.com", "development").Value.String())
}

func TestSecurityEventLogger_Levels(t *testing.T) {
	tests := []struct {
		event models.SecurityEvent
		level slog.Level
	}{
		{models.SecurityEvent{Type: models.EventRequestPassed, Severity: models.SeverityLow}, slog.LevelDebug},
		{models.SecurityEvent{Type: models.EventInputSanitized, Severity: models.SeverityLow}, slog.LevelInfo},
		{models.SecurityEvent{Type: models.EventThreatDetected, Severity: models.SeverityMedium}, slog.LevelWarn},
		{models.SecurityEvent{Type: models.EventCSRFValidationFailed, Severity: models.SeverityHigh}, slog.LevelError},
		{models.SecurityEvent{Type: models.EventAlertGenerated, Severity: models.SeverityCritical}, slog.LevelError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.level, LevelFor(tt.event), tt.event.Type)
	}
}

func TestSecurityEventLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	l := NewSecurityEventLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	l.Log(context.Background(), models.SecurityEvent{
		ID:        "evt-1",
		Type:      models.EventRateLimitExceeded,
		Severity:  models.SeverityMedium,
		IPAddress: "203.0.113.9",
		Path:      "/api/login",
		SessionID: "raw-session-id",
		Details:   map[string]any{"limit": 5},
		Timestamp: time.Now(),
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", line["event_type"])
	assert.Equal(t, "203.0.113.9", line["ip_address"])
	assert.NotEqual(t, "raw-session-id", line["session_id"], "session ids are fingerprinted")
}

package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

// SecurityEventLogger writes security events as structured log lines
type SecurityEventLogger struct {
	logger *slog.Logger
}

// NewSecurityEventLogger creates a new security event logger
func NewSecurityEventLogger(logger *slog.Logger) *SecurityEventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecurityEventLogger{logger: logger}
}

// LevelFor maps event severity to a log level. Pass decisions are debug noise.
func LevelFor(event models.SecurityEvent) slog.Level {
	switch event.Severity {
	case models.SeverityCritical, models.SeverityHigh:
		return slog.LevelError
	case models.SeverityMedium:
		return slog.LevelWarn
	default:
		if event.Type == models.EventRequestPassed {
			return slog.LevelDebug
		}
		return slog.LevelInfo
	}
}

// Log writes one event
func (l *SecurityEventLogger) Log(ctx context.Context, event models.SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
		slog.String("severity", string(event.Severity)),
		slog.String("timestamp", event.Timestamp.UTC().Format(time.RFC3339)),
	}

	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.Path != "" {
		attrs = append(attrs, slog.String("path", event.Path))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", TokenFingerprint(event.SessionID)))
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, slog.Any("details", event.Details))
	}

	l.logger.LogAttrs(ctx, LevelFor(event), "security_event", attrs...)
}

package models

import "time"

// Severity of a security event
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRanks = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at least as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return severityRanks[s] >= severityRanks[other]
}

// Security event types
const (
	EventRequestPassed           = "REQUEST_PASSED"
	EventRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	EventCSRFValidationFailed    = "CSRF_VALIDATION_FAILED"
	EventSanitizationBlocked     = "SANITIZATION_BLOCKED"
	EventInputSanitized          = "INPUT_SANITIZED"
	EventThreatDetected          = "THREAT_DETECTED"
	EventThreatBlocked           = "THREAT_BLOCKED"
	EventAuthenticationFailed    = "AUTHENTICATION_FAILED"
	EventAuthorizationFailed     = "AUTHORIZATION_FAILED"
	EventSuspiciousActivity      = "SUSPICIOUS_ACTIVITY"
	EventAccountLocked           = "ACCOUNT_LOCKED"
	EventAccountUnlocked         = "ACCOUNT_UNLOCKED"
	EventAlertGenerated          = "ALERT_GENERATED"
	EventSecurityMiddlewareError = "SECURITY_MIDDLEWARE_ERROR"
)

// SecurityEvent is an immutable record of a pipeline decision or finding
type SecurityEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	IPAddress string         `json:"ip_address"`
	UserAgent string         `json:"user_agent,omitempty"`
	Path      string         `json:"path,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ThreatLevel is the bucketed threat score
type ThreatLevel string

const (
	ThreatNone   ThreatLevel = "NONE"
	ThreatLow    ThreatLevel = "LOW"
	ThreatMedium ThreatLevel = "MEDIUM"
	ThreatHigh   ThreatLevel = "HIGH"
)

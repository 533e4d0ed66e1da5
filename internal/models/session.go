package models

import "time"

// Session is the server-side record of an authenticated browsing context
type Session struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Email            string     `json:"email"`
	Role             Role       `json:"role"`
	Permissions      []string   `json:"permissions"`
	CreatedAt        time.Time  `json:"created_at"`
	LastAccessedAt   time.Time  `json:"last_accessed_at"`
	PreviousAccessAt time.Time  `json:"previous_access_at,omitempty"` // last access before the current request
	ExpiresAt        time.Time  `json:"expires_at"`
	IPAddress        string     `json:"ip_address"`
	Device           string     `json:"device"`
	IsActive         bool       `json:"is_active"`
	IsLocked         bool       `json:"is_locked"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	FailedAttempts   int        `json:"failed_attempts"`
}

// Session validation failure reasons
const (
	SessionErrNotFound = "SESSION_NOT_FOUND"
	SessionErrInactive = "SESSION_INACTIVE"
	SessionErrLocked   = "SESSION_LOCKED"
	SessionErrExpired  = "SESSION_EXPIRED"
	SessionErrStore    = "SESSION_STORE_ERROR"
)

// SessionValidation is the result of validating a session id
type SessionValidation struct {
	IsValid      bool
	Session      *Session
	Error        string
	NeedsRefresh bool
}

// Suspicious activity reasons
const (
	SuspiciousIPChanged      = "ip_address_changed"
	SuspiciousDormantSession = "dormant_session_reactivated"
	SuspiciousConcurrentIPs  = "multiple_concurrent_locations"
)

// SuspiciousActivity is an advisory finding; it never blocks on its own.
type SuspiciousActivity struct {
	IsSuspicious bool
	Reasons      []string
}

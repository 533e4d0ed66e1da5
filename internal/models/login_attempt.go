package models

import "time"

// LoginAttempt represents a single login try, keyed by email+IP in the store
type LoginAttempt struct {
	UserID        string    `json:"user_id,omitempty"`
	Email         string    `json:"email"`
	IPAddress     string    `json:"ip_address"`
	UserAgent     string    `json:"user_agent"`
	AttemptTime   time.Time `json:"attempt_time"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// AccountLockout is the derived lock state for an email
type AccountLockout struct {
	Email        string    `json:"email"`
	LockedAt     time.Time `json:"locked_at"`
	LockedUntil  time.Time `json:"locked_until"`
	AttemptCount int       `json:"attempt_count"`
}

// LockStatus is returned by lockout checks
type LockStatus struct {
	IsLocked    bool
	LockedUntil *time.Time
}

package models

import (
	"errors"
	"net/http"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountLocked    = errors.New("account is temporarily locked")
	ErrEmailNotVerified = errors.New("email address not verified")
	ErrWeakPassword     = errors.New("invalid password")
)

// Error kinds. Each SecurityError matches exactly one of these with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrAuthentication  = errors.New("authentication error")
	ErrAuthorization   = errors.New("authorization error")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrPolicyViolation = errors.New("security policy violation")
)

// Stable machine-readable codes returned to clients
const (
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeInvalidCredentials      = "INVALID_CREDENTIALS"
	CodeInvalidToken            = "INVALID_TOKEN"
	CodeTokenExpired            = "TOKEN_EXPIRED"
	CodeTokenRevoked            = "TOKEN_REVOKED"
	CodeInvalidTokenType        = "INVALID_TOKEN_TYPE"
	CodeInvalidSession          = "INVALID_SESSION"
	CodeEmailNotVerified        = "EMAIL_NOT_VERIFIED"
	CodeInsufficientRole        = "INSUFFICIENT_ROLE"
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	CodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	CodeCSRFValidationFailed    = "CSRF_VALIDATION_FAILED"
	CodeRequestBlocked          = "REQUEST_BLOCKED"
	CodeInvalidInput            = "INVALID_INPUT"
	CodeWeakPassword            = "WEAK_PASSWORD"
	CodeConflict                = "CONFLICT"
	CodeAccountLocked           = "ACCOUNT_LOCKED"
	CodeInternalError           = "INTERNAL_ERROR"
)

// SecurityError is the typed failure returned across subsystem boundaries.
// Kind is one of the error kind sentinels above.
type SecurityError struct {
	Kind    error
	Code    string
	Message string
	Status  int
}

func (e *SecurityError) Error() string {
	return e.Message
}

// Unwrap exposes the kind so errors.Is matches it
func (e *SecurityError) Unwrap() error {
	return e.Kind
}

// NewValidationError builds a 400 error
func NewValidationError(code, message string) *SecurityError {
	return &SecurityError{Kind: ErrValidation, Code: code, Message: message, Status: http.StatusBadRequest}
}

// NewAuthenticationError builds a 401 error
func NewAuthenticationError(code, message string) *SecurityError {
	return &SecurityError{Kind: ErrAuthentication, Code: code, Message: message, Status: http.StatusUnauthorized}
}

// NewAuthorizationError builds a 403 error
func NewAuthorizationError(code, message string) *SecurityError {
	return &SecurityError{Kind: ErrAuthorization, Code: code, Message: message, Status: http.StatusForbidden}
}

// NewRateLimitError builds a 429 error
func NewRateLimitError(message string) *SecurityError {
	return &SecurityError{Kind: ErrRateLimited, Code: CodeRateLimitExceeded, Message: message, Status: http.StatusTooManyRequests}
}

// NewPolicyViolation builds a policy error; status is 403 or 400 depending on the stage.
func NewPolicyViolation(code, message string, status int) *SecurityError {
	return &SecurityError{Kind: ErrPolicyViolation, Code: code, Message: message, Status: status}
}

// NewAccountLockedError builds a 423 error
func NewAccountLockedError(message string) *SecurityError {
	return &SecurityError{Kind: ErrAccountLocked, Code: CodeAccountLocked, Message: message, Status: http.StatusLocked}
}

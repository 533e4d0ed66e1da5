package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing the authenticated user in context
	UserContextKey contextKey = "user"
)

// SessionValidator is the session capability the authenticator needs
type SessionValidator interface {
	Validate(ctx context.Context, sessionID string) models.SessionValidation
	DetectSuspiciousActivity(ctx context.Context, sessionID, currentIP string) models.SuspiciousActivity
}

// EventRecorder receives security events
type EventRecorder interface {
	Record(ctx context.Context, event models.SecurityEvent) models.SecurityEvent
}

// EmailVerifiedFunc reports whether a user's email address is verified
type EmailVerifiedFunc func(ctx context.Context, userID string) (bool, error)

// AuthOptions selects which checks Authenticate applies
type AuthOptions struct {
	RequiredRole         models.Role
	RequiredPermissions  []string
	SkipPaths            []string // exact paths, or prefixes ending in "*"
	AllowUnverifiedEmail bool
}

// AuthenticatedUser is stored in the request context after a successful check
type AuthenticatedUser struct {
	ID          string
	Email       string
	Role        models.Role
	Permissions []string
	SessionID   string
	Claims      *models.TokenClaims
}

// AuthResult is the outcome of Authenticate. On failure Status/Code/Message
// describe the response to send.
type AuthResult struct {
	Success bool
	User    *AuthenticatedUser
	Status  int
	Code    string
	Message string
}

// Authenticator verifies bearer tokens and their sessions, then applies role
// and permission requirements
type Authenticator struct {
	tokens        *TokenManager
	sessions      SessionValidator
	events        EventRecorder
	emailVerified EmailVerifiedFunc
	ipConfig      *pkghttp.IPConfig
	logger        *slog.Logger
}

// NewAuthenticator creates a new Authenticator
func NewAuthenticator(tokens *TokenManager, sessions SessionValidator, events EventRecorder, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		tokens:   tokens,
		sessions: sessions,
		events:   events,
		logger:   logger,
	}
}

// SetEmailVerifiedCheck enables email verification enforcement
func (a *Authenticator) SetEmailVerifiedCheck(fn EmailVerifiedFunc) {
	a.emailVerified = fn
}

// SetIPConfig sets the trusted proxy configuration used to resolve client IPs
func (a *Authenticator) SetIPConfig(cfg *pkghttp.IPConfig) {
	a.ipConfig = cfg
}

// Authenticate runs, in order: path exemption, bearer token, token verification,
// token type, session validation, suspicious activity (logged only), email
// verification, role and permissions. Every failure is recorded as a security event.
func (a *Authenticator) Authenticate(r *http.Request, opts AuthOptions) AuthResult {
	if pkghttp.MatchPath(r.URL.Path, opts.SkipPaths) {
		return AuthResult{Success: true}
	}

	ctx := r.Context()
	ip := pkghttp.ExtractClientIP(r, a.ipConfig)

	token, ok := pkghttp.BearerToken(r)
	if !ok {
		return a.deny(ctx, r, ip, "", http.StatusUnauthorized, models.CodeUnauthorized, "Authentication required", "missing_token")
	}

	verification := a.tokens.Verify(ctx, token)
	if !verification.IsValid {
		switch {
		case verification.IsBlacklisted:
			return a.deny(ctx, r, ip, "", http.StatusUnauthorized, models.CodeTokenRevoked, "Token has been revoked", verification.Error)
		case verification.IsExpired:
			return a.deny(ctx, r, ip, verification.Claims.Subject, http.StatusUnauthorized, models.CodeTokenExpired, "Token has expired", verification.Error)
		default:
			return a.deny(ctx, r, ip, "", http.StatusUnauthorized, models.CodeInvalidToken, "Invalid token", verification.Error)
		}
	}

	claims := verification.Claims
	if claims.Type != models.TokenTypeAccess {
		return a.deny(ctx, r, ip, claims.Subject, http.StatusUnauthorized, models.CodeInvalidTokenType, "Refresh tokens cannot be used for API access", models.TokenErrWrongType)
	}

	session := a.sessions.Validate(ctx, claims.SessionID)
	if !session.IsValid {
		return a.deny(ctx, r, ip, claims.Subject, http.StatusUnauthorized, models.CodeInvalidSession, "Session is invalid or expired", session.Error)
	}
	if session.Session.UserID != claims.Subject {
		return a.deny(ctx, r, ip, claims.Subject, http.StatusUnauthorized, models.CodeInvalidSession, "Session is invalid or expired", "session_user_mismatch")
	}

	if activity := a.sessions.DetectSuspiciousActivity(ctx, claims.SessionID, ip); activity.IsSuspicious {
		a.record(ctx, r, ip, models.EventSuspiciousActivity, models.SeverityHigh, claims.Subject, claims.SessionID, map[string]any{
			"reasons": activity.Reasons,
		})
	}

	if !opts.AllowUnverifiedEmail && a.emailVerified != nil {
		verified, err := a.emailVerified(ctx, claims.Subject)
		if err != nil {
			a.logger.Error("email verification lookup failed", slog.String("user_id", claims.Subject), slog.Any("error", err))
		}
		if !verified {
			return a.deny(ctx, r, ip, claims.Subject, http.StatusForbidden, models.CodeEmailNotVerified, "Email address not verified", "email_not_verified")
		}
	}

	if !claims.Role.Satisfies(opts.RequiredRole) {
		return a.deny(ctx, r, ip, claims.Subject, http.StatusForbidden, models.CodeInsufficientRole, "Insufficient role", "role "+string(claims.Role)+" below "+string(opts.RequiredRole))
	}

	if !models.HasAllPermissions(claims.Permissions, opts.RequiredPermissions) {
		return a.deny(ctx, r, ip, claims.Subject, http.StatusForbidden, models.CodeInsufficientPermissions, "Insufficient permissions", "missing_permissions")
	}

	return AuthResult{
		Success: true,
		User: &AuthenticatedUser{
			ID:          claims.Subject,
			Email:       claims.Email,
			Role:        claims.Role,
			Permissions: claims.Permissions,
			SessionID:   claims.SessionID,
			Claims:      claims,
		},
	}
}

func (a *Authenticator) deny(ctx context.Context, r *http.Request, ip, userID string, status int, code, message, reason string) AuthResult {
	eventType := models.EventAuthenticationFailed
	severity := models.SeverityLow
	if status == http.StatusForbidden {
		eventType = models.EventAuthorizationFailed
		severity = models.SeverityMedium
	}

	a.record(ctx, r, ip, eventType, severity, userID, "", map[string]any{
		"code":   code,
		"reason": reason,
		"method": r.Method,
	})

	return AuthResult{Status: status, Code: code, Message: message}
}

func (a *Authenticator) record(ctx context.Context, r *http.Request, ip, eventType string, severity models.Severity, userID, sessionID string, details map[string]any) {
	if a.events == nil {
		return
	}
	a.events.Record(ctx, models.SecurityEvent{
		Type:      eventType,
		Severity:  severity,
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
		UserID:    userID,
		SessionID: sessionID,
		Details:   details,
	})
}

// Middleware wraps Authenticate. Failures are written as JSON errors with a stable code.
func (a *Authenticator) Middleware(opts AuthOptions) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := a.Authenticate(r, opts)
			if !result.Success {
				pkghttp.WriteError(w, result.Status, result.Code, result.Message)
				return
			}
			if result.User == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, result.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole authenticates and requires at least role
func (a *Authenticator) RequireRole(role models.Role) func(next http.Handler) http.Handler {
	return a.Middleware(AuthOptions{RequiredRole: role})
}

// GetUserFromContext extracts the authenticated user from the request context
func GetUserFromContext(r *http.Request) *AuthenticatedUser {
	user, ok := r.Context().Value(UserContextKey).(*AuthenticatedUser)
	if !ok {
		return nil
	}
	return user
}

package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// ClientInfo identifies the caller of an auth operation
type ClientInfo struct {
	IPAddress string
	UserAgent string
	Path      string
}

// AuthConfig holds auth service policy
type AuthConfig struct {
	RequireEmailVerification bool
}

// AuthResponse is returned by register, login and refresh
type AuthResponse struct {
	User                 *UserResponse     `json:"user,omitempty"`
	Tokens               *models.TokenPair `json:"tokens,omitempty"`
	RequiresVerification bool              `json:"requiresVerification,omitempty"`
	SessionID            string            `json:"-"`
}

// AuthService handles registration, login and token lifecycle
type AuthService struct {
	users    UserRepository
	tokens   *auth.TokenManager
	sessions *SessionService
	events   *SecurityEventService
	verifier *EmailVerificationService
	timing   *auth.TimingDelay
	logger   *slog.Logger
	cfg      AuthConfig
}

// NewAuthService creates a new AuthService. verifier and timing may be nil.
func NewAuthService(
	users UserRepository,
	tokens *auth.TokenManager,
	sessions *SessionService,
	events *SecurityEventService,
	verifier *EmailVerificationService,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	cfg AuthConfig,
) *AuthService {
	return &AuthService{
		users:    users,
		tokens:   tokens,
		sessions: sessions,
		events:   events,
		verifier: verifier,
		timing:   timing,
		logger:   logger,
		cfg:      cfg,
	}
}

var errInvalidCredentials = models.NewAuthenticationError(models.CodeInvalidCredentials, "Invalid email or password")

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) delay(ctx context.Context, start time.Time, success bool) {
	if s.timing != nil {
		s.timing.WaitFrom(ctx, start, success)
	}
}

func (s *AuthService) recordEvent(ctx context.Context, eventType string, severity models.Severity, client ClientInfo, userID string, details map[string]any) {
	s.events.Record(ctx, models.SecurityEvent{
		Type:      eventType,
		Severity:  severity,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Path:      client.Path,
		UserID:    userID,
		Details:   details,
	})
}

// Register creates a user account. Tokens are issued unless email verification is required.
func (s *AuthService) Register(ctx context.Context, email, password, name string, client ClientInfo) (*AuthResponse, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)

	if email == "" {
		return nil, models.NewValidationError(models.CodeInvalidInput, "email is required")
	}
	if name == "" {
		return nil, models.NewValidationError(models.CodeInvalidInput, "name is required")
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, models.NewValidationError(models.CodeWeakPassword, err.Error())
	}

	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("registration failed: user already exists")
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check if user exists", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashed, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user, err := s.users.Create(ctx, &models.User{
		Email:              email,
		Name:               name,
		PasswordHash:       hashed.Hash,
		PasswordSalt:       hashed.Salt,
		PasswordAlgorithm:  hashed.Algorithm,
		PasswordIterations: hashed.Iterations,
		Role:               models.RoleUser,
		Permissions:        models.DefaultPermissions(models.RoleUser),
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID))

	if s.verifier != nil && !user.EmailVerified {
		if err := s.verifier.SendVerificationEmail(ctx, user.ID, user.Email); err != nil {
			s.logger.Warn("verification email not sent", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	if s.cfg.RequireEmailVerification && !user.EmailVerified {
		return &AuthResponse{User: userModelToResponse(user), RequiresVerification: true}, nil
	}

	return s.startSession(ctx, user, client)
}

// Login authenticates with email and password. Failed attempts count toward the
// account lockout; a locked account is rejected even with correct credentials.
func (s *AuthService) Login(ctx context.Context, email, password string, client ClientInfo) (*AuthResponse, error) {
	start := time.Now()
	email = normalizeEmail(email)
	if email == "" || password == "" {
		s.delay(ctx, start, false)
		return nil, errInvalidCredentials
	}

	if status := s.sessions.IsAccountLocked(ctx, email); status.IsLocked {
		s.recordEvent(ctx, models.EventAuthenticationFailed, models.SeverityMedium, client, "", map[string]any{
			"reason": "account_locked",
			"email":  pkglogger.SanitizedEmail(email),
		})
		s.delay(ctx, start, false)
		return nil, models.NewAccountLockedError("Account is temporarily locked")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user == nil || !pkgauth.VerifyPassword(password, user.PasswordHash, user.PasswordSalt, user.PasswordIterations) {
		userID := ""
		if user != nil {
			userID = user.ID
		}
		err := s.failLogin(ctx, email, userID, client)
		s.delay(ctx, start, false)
		return nil, err
	}

	if s.cfg.RequireEmailVerification && !user.EmailVerified {
		s.logger.Info("login blocked: email not verified", slog.String("user_id", user.ID))
		s.delay(ctx, start, false)
		return nil, models.NewAuthorizationError(models.CodeEmailNotVerified, "Email address not verified")
	}

	if _, err := s.sessions.RecordLoginAttempt(ctx, models.LoginAttempt{
		UserID:    user.ID,
		Email:     email,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Success:   true,
	}); err != nil {
		s.logger.Error("failed to record login attempt", slog.Any("error", err))
	}

	resp, err := s.startSession(ctx, user, client)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.delay(ctx, start, true)
	return resp, nil
}

// failLogin records a failed attempt and returns the error the caller should see
func (s *AuthService) failLogin(ctx context.Context, email, userID string, client ClientInfo) error {
	status, err := s.sessions.RecordLoginAttempt(ctx, models.LoginAttempt{
		UserID:        userID,
		Email:         email,
		IPAddress:     client.IPAddress,
		UserAgent:     client.UserAgent,
		Success:       false,
		FailureReason: "invalid_credentials",
	})
	if err != nil {
		s.logger.Error("failed to record login attempt", slog.Any("error", err))
	}

	s.recordEvent(ctx, models.EventAuthenticationFailed, models.SeverityMedium, client, userID, map[string]any{
		"reason": "invalid_credentials",
		"email":  pkglogger.SanitizedEmail(email),
	})

	if status.IsLocked {
		details := map[string]any{"email": pkglogger.SanitizedEmail(email)}
		if status.LockedUntil != nil {
			details["lockedUntil"] = status.LockedUntil.UTC().Format(time.RFC3339)
		}
		s.recordEvent(ctx, models.EventAccountLocked, models.SeverityHigh, client, userID, details)
		return models.NewAccountLockedError("Account is temporarily locked")
	}

	return errInvalidCredentials
}

func (s *AuthService) startSession(ctx context.Context, user *models.User, client ClientInfo) (*AuthResponse, error) {
	session, err := s.sessions.Create(ctx, user.ID, user.Email, user.Role, user.Permissions, client.IPAddress, client.UserAgent)
	if err != nil {
		s.logger.Error("failed to create session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	pair, err := s.tokens.IssuePair(ctx, user.ID, user.Email, user.Role, user.Permissions, session.ID)
	if err != nil {
		s.sessions.Destroy(ctx, session.ID)
		s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &AuthResponse{User: userModelToResponse(user), Tokens: pair, SessionID: session.ID}, nil
}

// RefreshToken exchanges a refresh token for a new pair on the same session
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string, client ClientInfo) (*AuthResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, models.NewAuthenticationError(models.CodeUnauthorized, "Refresh token required")
	}

	result := s.tokens.Verify(ctx, refreshToken)
	if result.Claims == nil {
		code := models.CodeInvalidToken
		if result.IsBlacklisted {
			code = models.CodeTokenRevoked
		}
		return nil, s.refreshFailed(ctx, client, "", result.Error, code)
	}
	claims := result.Claims

	if result.IsValid && claims.Type == models.TokenTypeRefresh {
		if v := s.sessions.Validate(ctx, claims.SessionID); !v.IsValid {
			if _, err := s.tokens.RevokeRefresh(ctx, claims.ID); err != nil {
				s.logger.Error("failed to revoke orphaned refresh token", slog.Any("error", err))
			}
			return nil, s.refreshFailed(ctx, client, claims.Subject, v.Error, models.CodeInvalidSession)
		}
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, s.refreshFailed(ctx, client, claims.Subject, "user_not_found", models.CodeInvalidToken)
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.Subject), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	pair, err := s.tokens.Refresh(ctx, refreshToken, user.Email, user.Role, user.Permissions)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRefreshTokenExpired):
			return nil, s.refreshFailed(ctx, client, user.ID, models.TokenErrExpired, models.CodeTokenExpired)
		case errors.Is(err, auth.ErrRefreshTokenRevoked):
			return nil, s.refreshFailed(ctx, client, user.ID, models.TokenErrRefreshRevoked, models.CodeTokenRevoked)
		case errors.Is(err, auth.ErrRefreshTokenInvalid), errors.Is(err, auth.ErrRefreshTokenNotFound):
			return nil, s.refreshFailed(ctx, client, user.ID, err.Error(), models.CodeInvalidToken)
		default:
			s.logger.Error("failed to refresh tokens", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
	}

	s.sessions.Refresh(ctx, claims.SessionID)
	s.logger.Info("token refreshed", slog.String("user_id", user.ID))

	return &AuthResponse{User: userModelToResponse(user), Tokens: pair, SessionID: claims.SessionID}, nil
}

func (s *AuthService) refreshFailed(ctx context.Context, client ClientInfo, userID, reason, code string) error {
	s.recordEvent(ctx, models.EventAuthenticationFailed, models.SeverityLow, client, userID, map[string]any{
		"reason": reason,
		"stage":  "refresh",
	})

	message := "Invalid refresh token"
	switch code {
	case models.CodeTokenExpired:
		message = "Refresh token expired"
	case models.CodeTokenRevoked:
		message = "Refresh token revoked"
	case models.CodeInvalidSession:
		message = "Session is no longer valid"
	}
	return models.NewAuthenticationError(code, message)
}

// Logout blacklists the access token and ends its session
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims) error {
	if claims == nil {
		return models.ErrUnauthorized
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := s.tokens.Blacklist(ctx, claims.ID, expiresAt); err != nil {
		s.logger.Error("failed to blacklist token", slog.String("jti", claims.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if _, err := s.tokens.RevokeSession(ctx, claims.Subject, claims.SessionID); err != nil {
		s.logger.Error("failed to revoke session tokens", slog.String("user_id", claims.Subject), slog.Any("error", err))
		return models.ErrInternalServer
	}
	s.sessions.Destroy(ctx, claims.SessionID)

	s.logger.Info("user logged out", slog.String("user_id", claims.Subject))
	return nil
}

// LogoutAll ends every session and revokes every refresh token for the user.
// The caller's access token is blacklisted; other access tokens fail session validation.
func (s *AuthService) LogoutAll(ctx context.Context, claims *models.TokenClaims) (int, error) {
	if claims == nil {
		return 0, models.ErrUnauthorized
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := s.tokens.Blacklist(ctx, claims.ID, expiresAt); err != nil {
		s.logger.Error("failed to blacklist token", slog.String("jti", claims.ID), slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	if _, err := s.tokens.RevokeAllForUser(ctx, claims.Subject); err != nil {
		s.logger.Error("failed to revoke all user tokens", slog.String("user_id", claims.Subject), slog.Any("error", err))
		return 0, models.ErrInternalServer
	}
	count := s.sessions.DestroyAllForUser(ctx, claims.Subject)

	s.logger.Info("user logged out from all devices",
		slog.String("user_id", claims.Subject),
		slog.Int("sessions", count))
	return count, nil
}

// VerifyEmail redeems an email verification token
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if s.verifier == nil {
		return models.ErrNotFound
	}
	_, err := s.verifier.VerifyEmail(ctx, token)
	return err
}

// UnlockAccount clears a lockout on behalf of an administrator
func (s *AuthService) UnlockAccount(ctx context.Context, email, adminID string, client ClientInfo) (bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return false, models.NewValidationError(models.CodeInvalidInput, "email is required")
	}

	unlocked, err := s.sessions.UnlockAccount(ctx, email)
	if err != nil {
		s.logger.Error("failed to unlock account", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	if unlocked {
		s.recordEvent(ctx, models.EventAccountUnlocked, models.SeverityLow, client, adminID, map[string]any{
			"email": pkglogger.SanitizedEmail(email),
		})
	}
	return unlocked, nil
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password, name string, client services.ClientInfo) (*services.AuthResponse, error)
	Login(ctx context.Context, email, password string, client services.ClientInfo) (*services.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string, client services.ClientInfo) (*services.AuthResponse, error)
	Logout(ctx context.Context, claims *models.TokenClaims) error
	LogoutAll(ctx context.Context, claims *models.TokenClaims) (int, error)
	VerifyEmail(ctx context.Context, token string) error
}

// CookieSettings controls the refresh token cookie set alongside the JSON tokens
type CookieSettings struct {
	Cookie        auth.CookieConfig
	RefreshMaxAge time.Duration
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	csrf     *auth.CSRFTokenManager
	ipConfig *pkghttp.IPConfig
	cookies  CookieSettings
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, csrf *auth.CSRFTokenManager, ipConfig *pkghttp.IPConfig, cookies CookieSettings) *AuthHandler {
	return &AuthHandler{
		service:  service,
		csrf:     csrf,
		ipConfig: ipConfig,
		cookies:  cookies,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
}

// RefreshTokenRequest represents the request body for token refresh.
// The refresh token cookie is used when the body omits it.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// AuthEnvelope is the body returned by register, login and refresh
type AuthEnvelope struct {
	Success              bool                   `json:"success"`
	Message              string                 `json:"message"`
	User                 *services.UserResponse `json:"user,omitempty"`
	Tokens               *models.TokenPair      `json:"tokens,omitempty"`
	RequiresVerification bool                   `json:"requiresVerification,omitempty"`
}

// CSRFTokenResponse carries a fresh double-submit token
type CSRFTokenResponse struct {
	CSRFToken  string `json:"csrfToken"`
	HeaderName string `json:"headerName"`
	ExpiresIn  int    `json:"expiresIn"`
}

func (h *AuthHandler) client(r *http.Request) services.ClientInfo {
	return services.ClientInfo{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
	}
}

// writeAuthResponse sends the envelope and mirrors the refresh token into a cookie
func (h *AuthHandler) writeAuthResponse(w http.ResponseWriter, status int, message string, resp *services.AuthResponse) {
	if resp.Tokens != nil {
		auth.SetRefreshTokenCookie(w, resp.Tokens.RefreshToken, h.cookies.RefreshMaxAge, h.cookies.Cookie)
	}
	pkghttp.WriteJSON(w, status, AuthEnvelope{
		Success:              true,
		Message:              message,
		User:                 resp.User,
		Tokens:               resp.Tokens,
		RequiresVerification: resp.RequiresVerification,
	})
}

// CSRFToken issues a CSRF token and sets the matching cookie
// @Router /auth/csrf-token [get]
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrf.IssueCookie(w)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, CSRFTokenResponse{
		CSRFToken:  token,
		HeaderName: h.csrf.HeaderName(),
		ExpiresIn:  int(h.csrf.MaxAge().Seconds()),
	})
}

// Register handles user registration
// @Summary User registration
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} AuthEnvelope
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name, h.client(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	message := "Registration successful"
	if resp.RequiresVerification {
		message = "Registration successful. Check your email to verify your address."
	}
	h.writeAuthResponse(w, http.StatusCreated, message, resp)
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} AuthEnvelope
// @Failure 401 {object} ErrorResponse
// @Failure 423 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Login(r.Context(), req.Email, req.Password, h.client(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.writeAuthResponse(w, http.StatusOK, "Login successful", resp)
}

// RefreshToken exchanges a refresh token for a new pair
// @Summary Refresh access token
// @Accept json
// @Param request body RefreshTokenRequest false "Refresh token request"
// @Produce json
// @Success 200 {object} AuthEnvelope
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
	}
	if req.RefreshToken == "" {
		if cookie, err := auth.GetRefreshTokenCookie(r); err == nil {
			req.RefreshToken = cookie
		}
	}

	resp, err := h.service.RefreshToken(r.Context(), req.RefreshToken, h.client(r))
	if err != nil {
		auth.ClearRefreshTokenCookie(w, h.cookies.Cookie)
		writeServiceError(w, err)
		return
	}

	h.writeAuthResponse(w, http.StatusOK, "Token refreshed", resp)
}

// Logout revokes the current access token and session
// @Security BearerAuth
// @Success 204
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), user.Claims); err != nil {
		writeServiceError(w, err)
		return
	}

	auth.ClearRefreshTokenCookie(w, h.cookies.Cookie)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll ends every session of the current user
// @Security BearerAuth
// @Success 200
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	count, err := h.service.LogoutAll(r.Context(), user.Claims)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	auth.ClearRefreshTokenCookie(w, h.cookies.Cookie)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"sessionsRevoked": count,
	})
}

// VerifyEmail redeems a verification token
// @Accept json
// @Param request body VerifyEmailRequest true "Verify email request"
// @Success 200
// @Failure 401 {object} ErrorResponse
// @Router /auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteError(w, http.StatusUnauthorized, models.CodeInvalidToken, "Invalid or expired verification token")
			return
		}
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email verified successfully. Please log in.",
	})
}

// writeServiceError maps a service error to a response. Typed security errors
// keep their status and code; anything unrecognised becomes a generic 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var secErr *models.SecurityError
	switch {
	case errors.As(err, &secErr):
		pkghttp.WriteError(w, secErr.Status, secErr.Code, secErr.Message)
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Resource already exists")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Forbidden")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// newJSONRequest creates an HTTP request with a JSON body
func newJSONRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// withUser puts an authenticated user in the request context, as the authenticator would
func withUser(req *http.Request, id string, role models.Role) *http.Request {
	claims := &models.TokenClaims{
		Type:      models.TokenTypeAccess,
		Role:      role,
		SessionID: "sess-" + id,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-" + id,
			Subject:   id,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
		},
	}
	user := &auth.AuthenticatedUser{
		ID:          id,
		Role:        role,
		Permissions: models.DefaultPermissions(role),
		SessionID:   claims.SessionID,
		Claims:      claims,
	}
	return req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, user))
}

// assertErrorResponse checks status and the stable error code
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, code, resp.Code, "Error code mismatch")
	assert.NotEmpty(t, resp.Error, "Error message should not be empty")
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func testTokens() *models.TokenPair {
	return &models.TokenPair{
		AccessToken:  "access_token_123",
		RefreshToken: "refresh_token_123",
		ExpiresAt:    time.Now().Add(15 * time.Minute),
		TokenType:    "Bearer",
	}
}

// MockAuthService implements handlers.AuthServiceInterface
type MockAuthService struct {
	RegisterFunc     func(ctx context.Context, email, password, name string, client services.ClientInfo) (*services.AuthResponse, error)
	LoginFunc        func(ctx context.Context, email, password string, client services.ClientInfo) (*services.AuthResponse, error)
	RefreshTokenFunc func(ctx context.Context, refreshToken string, client services.ClientInfo) (*services.AuthResponse, error)
	LogoutFunc       func(ctx context.Context, claims *models.TokenClaims) error
	LogoutAllFunc    func(ctx context.Context, claims *models.TokenClaims) (int, error)
	VerifyEmailFunc  func(ctx context.Context, token string) error
}

func (m *MockAuthService) Register(ctx context.Context, email, password, name string, client services.ClientInfo) (*services.AuthResponse, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, email, password, name, client)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string, client services.ClientInfo) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password, client)
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string, client services.ClientInfo) (*services.AuthResponse, error) {
	if m.RefreshTokenFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshTokenFunc(ctx, refreshToken, client)
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, claims)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, claims *models.TokenClaims) (int, error) {
	if m.LogoutAllFunc == nil {
		return 0, nil
	}
	return m.LogoutAllFunc(ctx, claims)
}

func (m *MockAuthService) VerifyEmail(ctx context.Context, token string) error {
	if m.VerifyEmailFunc == nil {
		return nil
	}
	return m.VerifyEmailFunc(ctx, token)
}

// MockUserService implements handlers.UserService
type MockUserService struct {
	GetUserFunc   func(ctx context.Context, id string) (*services.UserResponse, error)
	ListUsersFunc func(ctx context.Context, limit, offset int) ([]*services.UserResponse, error)
}

func (m *MockUserService) GetUser(ctx context.Context, id string) (*services.UserResponse, error) {
	if m.GetUserFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetUserFunc(ctx, id)
}

func (m *MockUserService) ListUsers(ctx context.Context, limit, offset int) ([]*services.UserResponse, error) {
	if m.ListUsersFunc == nil {
		return []*services.UserResponse{}, nil
	}
	return m.ListUsersFunc(ctx, limit, offset)
}

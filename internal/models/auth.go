package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type TokenClaims struct {
	Type        string   `json:"type"`
	Email       string   `json:"email,omitempty"`
	Role        Role     `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	SessionID   string   `json:"sid"`
	jwt.RegisteredClaims
}

// TokenPair is returned to clients after login, registration and refresh
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	TokenType    string    `json:"tokenType"`
}

// Token verification failure reasons
const (
	TokenErrMalformed       = "TOKEN_MALFORMED"
	TokenErrSignature       = "TOKEN_SIGNATURE_INVALID"
	TokenErrIssuer          = "TOKEN_ISSUER_INVALID"
	TokenErrAudience        = "TOKEN_AUDIENCE_INVALID"
	TokenErrExpired         = "TOKEN_EXPIRED"
	TokenErrBlacklisted     = "TOKEN_BLACKLISTED"
	TokenErrWrongType       = "TOKEN_WRONG_TYPE"
	TokenErrRefreshNotFound = "REFRESH_TOKEN_NOT_FOUND"
	TokenErrRefreshRevoked  = "REFRESH_TOKEN_REVOKED"
	TokenErrStore           = "TOKEN_STORE_ERROR"
)

// TokenVerification is the result of verifying a token
type TokenVerification struct {
	IsValid       bool
	Claims        *TokenClaims
	Error         string
	IsExpired     bool
	IsBlacklisted bool
}

// RefreshTokenRecord is the server-side registry entry for a refresh token
type RefreshTokenRecord struct {
	TokenID   string    `json:"token_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

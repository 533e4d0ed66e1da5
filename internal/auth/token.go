package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/store"
)

// Refresh exchange failures
var (
	ErrRefreshTokenInvalid  = errors.New("refresh token invalid")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenRevoked  = errors.New("refresh token revoked")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")
)

// TokenConfig holds issuer settings
type TokenConfig struct {
	Issuer             string
	Audience           string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

// TokenManager issues and verifies access/refresh pairs and owns the
// blacklist and refresh-token registry
type TokenManager struct {
	signer        Signer
	store         store.Store
	issuer        string
	audience      string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(signer Signer, st store.Store, cfg TokenConfig) *TokenManager {
	return &TokenManager{
		signer:        signer,
		store:         st,
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		accessExpiry:  cfg.AccessTokenExpiry,
		refreshExpiry: cfg.RefreshTokenExpiry,
		now:           time.Now,
	}
}

// SetClock overrides the time source
func (tm *TokenManager) SetClock(now func() time.Time) {
	tm.now = now
}

// AccessTokenExpiry is the lifetime of issued access tokens
func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessExpiry
}

// RefreshTokenExpiry is the lifetime of issued refresh tokens
func (tm *TokenManager) RefreshTokenExpiry() time.Duration {
	return tm.refreshExpiry
}

func (tm *TokenManager) newClaims(tokenType, userID, email string, role models.Role, permissions []string, sessionID string, ttl time.Duration) *models.TokenClaims {
	now := tm.now()
	return &models.TokenClaims{
		Type:        tokenType,
		Email:       email,
		Role:        role,
		Permissions: permissions,
		SessionID:   sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			Issuer:    tm.issuer,
			Audience:  jwt.ClaimStrings{tm.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
}

// IssuePair signs a new access/refresh pair bound to sessionID and registers the refresh token
func (tm *TokenManager) IssuePair(ctx context.Context, userID, email string, role models.Role, permissions []string, sessionID string) (*models.TokenPair, error) {
	access := tm.newClaims(models.TokenTypeAccess, userID, email, role, permissions, sessionID, tm.accessExpiry)
	accessToken, err := tm.signer.Sign(access)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	// Refresh tokens carry identity only; role and permissions are re-read on exchange
	refresh := tm.newClaims(models.TokenTypeRefresh, userID, email, role, nil, sessionID, tm.refreshExpiry)
	refreshToken, err := tm.signer.Sign(refresh)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	record := models.RefreshTokenRecord{
		TokenID:   refresh.ID,
		UserID:    userID,
		SessionID: sessionID,
		ExpiresAt: refresh.ExpiresAt.Time,
		CreatedAt: tm.now(),
	}
	if err := tm.store.Set(ctx, store.PrefixRefresh+record.TokenID, record, tm.refreshExpiry); err != nil {
		return nil, fmt.Errorf("failed to register refresh token: %w", err)
	}
	if err := tm.store.AddToSet(ctx, store.PrefixUserRefresh+userID, record.TokenID, tm.refreshExpiry); err != nil {
		return nil, fmt.Errorf("failed to index refresh token: %w", err)
	}
	if sessionID != "" {
		if err := tm.store.AddToSet(ctx, store.PrefixSessionRefresh+sessionID, record.TokenID, tm.refreshExpiry); err != nil {
			return nil, fmt.Errorf("failed to index refresh token: %w", err)
		}
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    access.ExpiresAt.Time,
		TokenType:    "Bearer",
	}, nil
}

// Verify checks signature, blacklist, expiry, issuer and audience in that order.
// It never returns an error; failures are reported through the result.
// Expired results still carry the (correctly signed) claims.
func (tm *TokenManager) Verify(ctx context.Context, token string) models.TokenVerification {
	claims, err := tm.signer.Verify(token)
	if err != nil {
		if errors.Is(err, ErrTokenMalformed) {
			return models.TokenVerification{Error: models.TokenErrMalformed}
		}
		return models.TokenVerification{Error: models.TokenErrSignature}
	}

	if claims.ID != "" {
		blacklisted, err := tm.IsBlacklisted(ctx, claims.ID)
		if err != nil {
			slog.Error("blacklist lookup failed", "error", err)
			return models.TokenVerification{Error: models.TokenErrStore}
		}
		if blacklisted {
			return models.TokenVerification{Error: models.TokenErrBlacklisted, IsBlacklisted: true}
		}
	}

	if claims.ExpiresAt == nil || !tm.now().Before(claims.ExpiresAt.Time) {
		return models.TokenVerification{Error: models.TokenErrExpired, IsExpired: true, Claims: claims}
	}

	if claims.Issuer != tm.issuer {
		return models.TokenVerification{Error: models.TokenErrIssuer}
	}
	if !slices.Contains(claims.Audience, tm.audience) {
		return models.TokenVerification{Error: models.TokenErrAudience}
	}

	return models.TokenVerification{IsValid: true, Claims: claims}
}

// Identify returns the subject of a correctly signed, unexpired access token
// without touching the store. Used to key rate limits by user.
func (tm *TokenManager) Identify(token string) (string, bool) {
	claims, err := tm.signer.Verify(token)
	if err != nil || claims.Type != models.TokenTypeAccess || claims.Subject == "" {
		return "", false
	}
	if claims.ExpiresAt == nil || !tm.now().Before(claims.ExpiresAt.Time) {
		return "", false
	}
	return claims.Subject, true
}

// Refresh exchanges a live refresh token for a new pair on the same session.
// The presented token is revoked once its successor is issued.
func (tm *TokenManager) Refresh(ctx context.Context, refreshToken, email string, role models.Role, permissions []string) (*models.TokenPair, error) {
	result := tm.Verify(ctx, refreshToken)
	if result.IsExpired && result.Claims.Type == models.TokenTypeRefresh {
		tm.forgetExpired(ctx, result.Claims)
		return nil, ErrRefreshTokenExpired
	}
	if !result.IsValid {
		return nil, fmt.Errorf("%w: %s", ErrRefreshTokenInvalid, result.Error)
	}
	claims := result.Claims
	if claims.Type != models.TokenTypeRefresh {
		return nil, fmt.Errorf("%w: %s", ErrRefreshTokenInvalid, models.TokenErrWrongType)
	}

	var record models.RefreshTokenRecord
	if err := tm.store.Get(ctx, store.PrefixRefresh+claims.ID, &record); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	if record.Revoked {
		return nil, ErrRefreshTokenRevoked
	}
	if !tm.now().Before(record.ExpiresAt) {
		tm.deleteRefreshRecord(ctx, record)
		return nil, ErrRefreshTokenExpired
	}

	pair, err := tm.IssuePair(ctx, record.UserID, email, role, permissions, record.SessionID)
	if err != nil {
		return nil, err
	}

	if _, err := tm.RevokeRefresh(ctx, claims.ID); err != nil {
		slog.Error("failed to revoke rotated refresh token", "error", err)
	}

	return pair, nil
}

// Blacklist rejects a token id until expiresAt. A zero expiresAt keeps it for
// the refresh lifetime, which outlives every token this manager issues.
func (tm *TokenManager) Blacklist(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return fmt.Errorf("token id is required")
	}
	ttl := tm.refreshExpiry
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(tm.now())
		if ttl <= 0 {
			return nil
		}
	}
	if err := tm.store.Set(ctx, store.PrefixBlacklist+tokenID, true, ttl); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether a token id has been rejected
func (tm *TokenManager) IsBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	var flag bool
	err := tm.store.Get(ctx, store.PrefixBlacklist+tokenID, &flag)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return flag, nil
}

// RevokeRefresh marks a registry entry revoked. Returns false if the token is unknown or already revoked.
func (tm *TokenManager) RevokeRefresh(ctx context.Context, tokenID string) (bool, error) {
	var record models.RefreshTokenRecord
	if err := tm.store.Get(ctx, store.PrefixRefresh+tokenID, &record); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load refresh token: %w", err)
	}
	if record.Revoked {
		return false, nil
	}

	record.Revoked = true
	ttl := record.ExpiresAt.Sub(tm.now())
	if ttl <= 0 {
		tm.deleteRefreshRecord(ctx, record)
		return true, nil
	}
	if err := tm.store.Set(ctx, store.PrefixRefresh+tokenID, record, ttl); err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	tm.unindex(ctx, record)
	return true, nil
}

// RevokeSession revokes every refresh token bound to one session
func (tm *TokenManager) RevokeSession(ctx context.Context, userID, sessionID string) (int, error) {
	ids, err := tm.store.SetMembers(ctx, store.PrefixSessionRefresh+sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to list session tokens: %w", err)
	}
	return tm.revokeIDs(ctx, ids, func(r models.RefreshTokenRecord) bool { return r.UserID == userID })
}

// RevokeAllForUser revokes every refresh token the user holds
func (tm *TokenManager) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := tm.store.SetMembers(ctx, store.PrefixUserRefresh+userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list user tokens: %w", err)
	}
	return tm.revokeIDs(ctx, ids, func(models.RefreshTokenRecord) bool { return true })
}

func (tm *TokenManager) revokeIDs(ctx context.Context, ids []string, match func(models.RefreshTokenRecord) bool) (int, error) {
	count := 0
	for _, id := range ids {
		var record models.RefreshTokenRecord
		if err := tm.store.Get(ctx, store.PrefixRefresh+id, &record); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return count, fmt.Errorf("failed to load refresh token: %w", err)
		}
		if !match(record) {
			continue
		}
		revoked, err := tm.RevokeRefresh(ctx, id)
		if err != nil {
			return count, err
		}
		if revoked {
			count++
		}
	}
	return count, nil
}

// CleanupExpired deletes registry entries past their expiry
func (tm *TokenManager) CleanupExpired(ctx context.Context) (int, error) {
	keys, err := tm.store.Keys(ctx, store.PrefixRefresh)
	if err != nil {
		return 0, fmt.Errorf("failed to list refresh tokens: %w", err)
	}

	now := tm.now()
	removed := 0
	for _, key := range keys {
		var record models.RefreshTokenRecord
		if err := tm.store.Get(ctx, key, &record); err != nil {
			continue
		}
		if now.Before(record.ExpiresAt) {
			continue
		}
		if record.TokenID == "" {
			record.TokenID = strings.TrimPrefix(key, store.PrefixRefresh)
		}
		tm.deleteRefreshRecord(ctx, record)
		removed++
	}
	return removed, nil
}

func (tm *TokenManager) forgetExpired(ctx context.Context, claims *models.TokenClaims) {
	var record models.RefreshTokenRecord
	if err := tm.store.Get(ctx, store.PrefixRefresh+claims.ID, &record); err != nil {
		return
	}
	tm.deleteRefreshRecord(ctx, record)
}

func (tm *TokenManager) deleteRefreshRecord(ctx context.Context, record models.RefreshTokenRecord) {
	if _, err := tm.store.Delete(ctx, store.PrefixRefresh+record.TokenID); err != nil {
		slog.Error("failed to delete refresh token", "error", err)
	}
	tm.unindex(ctx, record)
}

func (tm *TokenManager) unindex(ctx context.Context, record models.RefreshTokenRecord) {
	if err := tm.store.RemoveFromSet(ctx, store.PrefixUserRefresh+record.UserID, record.TokenID); err != nil {
		slog.Error("failed to unindex refresh token", "error", err)
	}
	if record.SessionID != "" {
		if err := tm.store.RemoveFromSet(ctx, store.PrefixSessionRefresh+record.SessionID, record.TokenID); err != nil {
			slog.Error("failed to unindex refresh token", "error", err)
		}
	}
}

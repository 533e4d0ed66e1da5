// Package store abstracts the shared key-value state used by sessions, tokens,
// login attempts, rate limits and verification records.
//
// Values are JSON encoded. A ttl of zero or less means the entry never expires.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

// ErrNotFound is returned by Get when the key is missing or expired
var ErrNotFound = errors.New("store: key not found")

// Store is the shared state backend. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, prefix string) ([]string, error)

	AddToSet(ctx context.Context, key, member string, ttl time.Duration) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	RemoveFromSet(ctx context.Context, key, member string) error

	// IncrementWindow atomically counts a hit in a fixed window. The window
	// restarts when the counter is empty or now is past its reset time.
	IncrementWindow(ctx context.Context, key string, now time.Time, window time.Duration) (models.RateLimitEntry, error)

	Close() error
}

// Key prefixes shared by every consumer of the store
const (
	PrefixSession        = "session:"
	PrefixUserSessions   = "user_sessions:"
	PrefixEmailSessions  = "email_sessions:"
	PrefixRefresh        = "refresh:"
	PrefixUserRefresh    = "user_refresh:"
	PrefixSessionRefresh = "session_refresh:"
	PrefixBlacklist      = "blacklist:"
	PrefixRateLimit      = "ratelimit:"
	PrefixLoginAttempts  = "login_attempts:"
	PrefixAttemptIPs     = "login_attempt_ips:"
	PrefixLockout        = "lockout:"
	PrefixEmailVerify    = "email_verify:"
)

func encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}

func decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}

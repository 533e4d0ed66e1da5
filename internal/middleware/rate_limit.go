package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/store"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// RateLimitRule is a fixed-window limit. Pattern is an exact path or a prefix ending in "*".
type RateLimitRule struct {
	Name    string
	Pattern string
	Limit   int
	Window  time.Duration
}

// RateLimitConfig holds the default limit and per-endpoint overrides.
// Overrides are matched in order; the first match wins.
type RateLimitConfig struct {
	Default   RateLimitRule
	Endpoints []RateLimitRule
}

// DefaultRateLimitConfig returns the default limits: 100/min overall, with
// stricter windows for login, registration and search
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Default: RateLimitRule{Name: "default", Limit: 100, Window: time.Minute},
		Endpoints: []RateLimitRule{
			{Name: "login", Pattern: "/auth/login", Limit: 5, Window: 15 * time.Minute},
			{Name: "register", Pattern: "/auth/register", Limit: 3, Window: time.Hour},
			{Name: "search", Pattern: "/api/search*", Limit: 60, Window: time.Minute},
		},
	}
}

// TokenIdentifier resolves the subject of a bearer token without side effects
type TokenIdentifier interface {
	Identify(token string) (string, bool)
}

// RateLimiter counts requests per client and endpoint in the shared store.
// Windows are fixed, so a client straddling a reset can send up to twice the
// limit in a short burst.
type RateLimiter struct {
	store    store.Store
	tokens   TokenIdentifier
	cfg      RateLimitConfig
	ipConfig *pkghttp.IPConfig
	now      func() time.Time
}

// NewRateLimiter creates a new RateLimiter. tokens may be nil, in which case
// every client is keyed by IP.
func NewRateLimiter(st store.Store, tokens TokenIdentifier, cfg RateLimitConfig, ipConfig *pkghttp.IPConfig) *RateLimiter {
	if cfg.Default.Limit <= 0 {
		cfg.Default = DefaultRateLimitConfig().Default
	}
	return &RateLimiter{
		store:    st,
		tokens:   tokens,
		cfg:      cfg,
		ipConfig: ipConfig,
		now:      time.Now,
	}
}

// SetClock overrides the time source
func (l *RateLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// rule returns the limit for a path and the endpoint component of the counter key
func (l *RateLimiter) rule(path string) (RateLimitRule, string) {
	for _, rule := range l.cfg.Endpoints {
		if pkghttp.MatchPath(path, []string{rule.Pattern}) {
			return rule, rule.Name
		}
	}
	return l.cfg.Default, path
}

// identity keys authenticated clients by user and everyone else by IP
func (l *RateLimiter) identity(r *http.Request) string {
	if l.tokens != nil {
		if token, ok := pkghttp.BearerToken(r); ok {
			if userID, ok := l.tokens.Identify(token); ok {
				return "user:" + userID
			}
		}
	}
	return "ip:" + pkghttp.ExtractClientIP(r, l.ipConfig)
}

// Check counts the request and reports whether it is within its window
func (l *RateLimiter) Check(ctx context.Context, r *http.Request) (models.RateLimitResult, error) {
	rule, endpoint := l.rule(r.URL.Path)
	key := store.PrefixRateLimit + l.identity(r) + ":" + endpoint

	now := l.now()
	entry, err := l.store.IncrementWindow(ctx, key, now, rule.Window)
	if err != nil {
		return models.RateLimitResult{}, fmt.Errorf("failed to count request: %w", err)
	}

	remaining := rule.Limit - int(entry.Count)
	if remaining < 0 {
		remaining = 0
	}
	result := models.RateLimitResult{
		Allowed:    entry.Count <= int64(rule.Limit),
		Limit:      rule.Limit,
		Remaining:  remaining,
		ResetTime:  entry.ResetTime,
		RetryAfter: entry.ResetTime.Sub(now),
	}
	if result.RetryAfter < 0 {
		result.RetryAfter = 0
	}
	if !result.Allowed && result.RetryAfter < time.Second {
		result.RetryAfter = time.Second
	}
	return result, nil
}

// SetRateLimitHeaders writes Retry-After and the X-RateLimit-* headers
func SetRateLimitHeaders(w http.ResponseWriter, result models.RateLimitResult) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
	h.Set("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
}

// RateLimit is the limiter as a standalone middleware. Store failures fail open.
func RateLimit(limiter *RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := limiter.Check(r.Context(), r)
			if err != nil {
				logger.Error("rate limit check failed", slog.Any("error", err), slog.String("path", r.URL.Path))
				next.ServeHTTP(w, r)
				return
			}

			SetRateLimitHeaders(w, result)
			if !result.Allowed {
				pkghttp.WriteTooManyRequests(w, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// FloodGuard is a coarse in-process per-IP cap applied ahead of the gatekeeper
func FloodGuard(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests")
		}),
	)
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	// Used only outside production when the variable is unset
	devJWTSecret  = "dev-only-jwt-secret-do-not-use-in-production"
	devCSRFSecret = "dev-only-csrf-secret-do-not-use-in-production"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	Security SecurityConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	URL               string // takes precedence over the DB_* fields when set
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	URL string
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret                string
	TokenIssuer              string
	TokenAudience            string
	AccessTokenExpiry        time.Duration
	RefreshTokenExpiry       time.Duration
	SessionTimeout           time.Duration
	MaxSessionsPerUser       int
	MaxLoginAttempts         int
	LoginAttemptWindow       time.Duration
	LockoutDuration          time.Duration
	RequireEmailVerification bool
	CleanupInterval          time.Duration
	EventRetention           time.Duration
	TimingBaseDelay          time.Duration
	TimingRandomDelay        time.Duration
	AdminEmail               string
	AdminPassword            string
}

type SecurityConfig struct {
	CSRFSecret        string
	CSRFCookieName    string
	CSRFHeaderName    string
	CSRFMaxAge        time.Duration
	CSRFTrustedHosts  []string
	CSRFExcludedPaths []string
	ThreatLow         int
	ThreatMedium      int
	ThreatHigh        int
	RateLimitDefault  int
	RateLimitWindow   time.Duration
	FloodLimit        int
	ExcludedPaths     []string
	MaxBodyBytes      int64
}

type EmailConfig struct {
	Provider            string // "log" or "ses"
	AWSRegion           string
	From                string
	VerificationURLBase string
	TokenExpiry         time.Duration
}

// Load reads configuration from the environment, after an optional .env file
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", EnvDevelopment)

	cfg := &Config{
		Database: DatabaseConfig{
			URL:               getEnv("DATABASE_URL", ""),
			Host:              getEnv("DB_HOST", ""),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "sentinel"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES", nil),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:                getEnv("JWT_SECRET", ""),
			TokenIssuer:              getEnv("TOKEN_ISSUER", "sentinel"),
			TokenAudience:            getEnv("TOKEN_AUDIENCE", "sentinel-api"),
			AccessTokenExpiry:        getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:       getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			SessionTimeout:           getEnvAsDuration("SESSION_TIMEOUT", 24*time.Hour),
			MaxSessionsPerUser:       getEnvAsInt("MAX_SESSIONS_PER_USER", 5),
			MaxLoginAttempts:         getEnvAsInt("MAX_LOGIN_ATTEMPTS", 5),
			LoginAttemptWindow:       getEnvAsDuration("LOGIN_ATTEMPT_WINDOW", 15*time.Minute),
			LockoutDuration:          getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
			RequireEmailVerification: getEnvAsBool("REQUIRE_EMAIL_VERIFICATION", false),
			CleanupInterval:          getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			EventRetention:           getEnvAsDuration("SECURITY_EVENT_RETENTION", 90*24*time.Hour),
			TimingBaseDelay:          getEnvAsDuration("TIMING_DELAY_BASE", 500*time.Millisecond),
			TimingRandomDelay:        getEnvAsDuration("TIMING_DELAY_RANDOM", 100*time.Millisecond),
			AdminEmail:               getEnv("ADMIN_EMAIL", ""),
			AdminPassword:            getEnv("ADMIN_PASSWORD", ""),
		},
		Security: SecurityConfig{
			CSRFSecret:        getEnv("CSRF_SECRET", ""),
			CSRFCookieName:    getEnv("CSRF_COOKIE_NAME", "_csrf"),
			CSRFHeaderName:    getEnv("CSRF_HEADER_NAME", "x-csrf-token"),
			CSRFMaxAge:        getEnvAsDuration("CSRF_MAX_AGE", 24*time.Hour),
			CSRFTrustedHosts:  getEnvAsList("CSRF_TRUSTED_HOSTS", nil),
			CSRFExcludedPaths: getEnvAsList("CSRF_EXCLUDED_PATHS", []string{"/auth/csrf-token"}),
			ThreatLow:         getEnvAsInt("THREAT_LOW", 30),
			ThreatMedium:      getEnvAsInt("THREAT_MEDIUM", 60),
			ThreatHigh:        getEnvAsInt("THREAT_HIGH", 80),
			RateLimitDefault:  getEnvAsInt("RATE_LIMIT_DEFAULT", 100),
			RateLimitWindow:   getEnvAsDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			FloodLimit:        getEnvAsInt("FLOOD_LIMIT", 600),
			ExcludedPaths:     getEnvAsList("SECURITY_EXCLUDED_PATHS", []string{"/health"}),
			MaxBodyBytes:      int64(getEnvAsInt("MAX_BODY_BYTES", 1<<20)),
		},
		Email: EmailConfig{
			Provider:            strings.ToLower(getEnv("EMAIL_PROVIDER", "log")),
			AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
			From:                getEnv("EMAIL_FROM", "no-reply@localhost"),
			VerificationURLBase: getEnv("VERIFICATION_URL_BASE", "http://localhost:8080/auth/verify-email"),
			TokenExpiry:         getEnvAsDuration("VERIFICATION_TOKEN_EXPIRY", 24*time.Hour),
		},
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	switch cfg.Email.Provider {
	case "log", "ses":
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be log or ses (got %q)", cfg.Email.Provider)
	}

	if cfg.Security.ThreatLow >= cfg.Security.ThreatMedium || cfg.Security.ThreatMedium >= cfg.Security.ThreatHigh {
		return nil, errors.New("THREAT_LOW < THREAT_MEDIUM < THREAT_HIGH must hold")
	}

	return cfg, nil
}

// IsProduction reports whether ENV is production
func (c *Config) IsProduction() bool {
	return c.Server.Env == EnvProduction
}

// HasDatabase reports whether a Postgres connection is configured
func (c *DatabaseConfig) HasDatabase() bool {
	return c.URL != "" || c.Host != ""
}

// resolveSecrets applies development fallbacks and enforces the production policy
func (c *Config) resolveSecrets() error {
	env := c.Server.Env

	if c.Auth.JWTSecret == "" {
		if env == EnvProduction {
			return errors.New("JWT_SECRET is required in production")
		}
		slog.Warn("JWT_SECRET not set, using insecure development secret")
		c.Auth.JWTSecret = devJWTSecret
	}
	if c.Security.CSRFSecret == "" {
		if env == EnvProduction {
			return errors.New("CSRF_SECRET is required in production")
		}
		slog.Warn("CSRF_SECRET not set, using insecure development secret")
		c.Security.CSRFSecret = devCSRFSecret
	}

	if err := validateSecret("JWT_SECRET", c.Auth.JWTSecret, env); err != nil {
		return err
	}
	if err := validateSecret("CSRF_SECRET", c.Security.CSRFSecret, env); err != nil {
		return err
	}

	if env == EnvProduction && c.Auth.JWTSecret == c.Security.CSRFSecret {
		return errors.New("JWT_SECRET and CSRF_SECRET must differ")
	}

	return nil
}

// validateSecret enforces minimum security standards for signing secrets
func validateSecret(name, secret, env string) error {
	minLength := 16
	if env == EnvProduction {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak || strings.Repeat(weak, len(secretLower)/len(weak)) == secretLower {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	if env == EnvProduction && strings.HasPrefix(secret, "dev-only-") {
		return fmt.Errorf("%s uses the development default", name)
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma-separated value, dropping empty entries
func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if origins := getEnvAsList("ALLOWED_ORIGINS", nil); origins != nil {
		return origins
	}
	if env == EnvProduction {
		return []string{} // Default to no origins in production
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}

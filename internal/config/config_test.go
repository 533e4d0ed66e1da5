package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	strongJWTSecret  = "k3v9W2pXq8LmN4rT7yB1cZ6hJ0sD5fGa"
	strongCSRFSecret = "Qw8eR2tY6uI0oP4aS9dF3gH7jK1lZ5xC"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENV", "JWT_SECRET", "CSRF_SECRET", "DATABASE_URL", "DB_HOST", "REDIS_URL",
		"ALLOWED_ORIGINS", "TRUSTED_PROXIES", "EMAIL_PROVIDER", "THREAT_LOW", "THREAT_MEDIUM",
		"THREAT_HIGH", "SERVER_READ_TIMEOUT", "SERVER_WRITE_TIMEOUT", "SERVER_IDLE_TIMEOUT",
		"REQUIRE_EMAIL_VERIFICATION", "SECURITY_EXCLUDED_PATHS", "CSRF_EXCLUDED_PATHS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_DevelopmentDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.IsProduction())
	assert.Equal(t, devJWTSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, devCSRFSecret, cfg.Security.CSRFSecret)
	assert.False(t, cfg.Database.HasDatabase())
	assert.Empty(t, cfg.Redis.URL)

	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenExpiry)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTokenExpiry)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTimeout)
	assert.Equal(t, 5, cfg.Auth.MaxSessionsPerUser)
	assert.Equal(t, 5, cfg.Auth.MaxLoginAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Auth.LockoutDuration)

	assert.Equal(t, "_csrf", cfg.Security.CSRFCookieName)
	assert.Equal(t, "x-csrf-token", cfg.Security.CSRFHeaderName)
	assert.Equal(t, []string{"/health"}, cfg.Security.ExcludedPaths)
	assert.Equal(t, 30, cfg.Security.ThreatLow)
	assert.Equal(t, 80, cfg.Security.ThreatHigh)
	assert.Equal(t, "log", cfg.Email.Provider)
	assert.Contains(t, cfg.Server.AllowedOrigins, "http://localhost:3000")
}

func TestServerConfig_Timeouts(t *testing.T) {
	tests := []struct {
		name                 string
		env                  map[string]string
		read, write, idleDur time.Duration
	}{
		{
			name:    "defaults",
			read:    15 * time.Second,
			write:   15 * time.Second,
			idleDur: 60 * time.Second,
		},
		{
			name: "custom",
			env: map[string]string{
				"SERVER_READ_TIMEOUT":  "30s",
				"SERVER_WRITE_TIMEOUT": "45s",
				"SERVER_IDLE_TIMEOUT":  "120s",
			},
			read:    30 * time.Second,
			write:   45 * time.Second,
			idleDur: 120 * time.Second,
		},
		{
			name:    "invalid values fall back",
			env:     map[string]string{"SERVER_READ_TIMEOUT": "soon"},
			read:    15 * time.Second,
			write:   15 * time.Second,
			idleDur: 60 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tt.read, cfg.Server.ReadTimeout)
			assert.Equal(t, tt.write, cfg.Server.WriteTimeout)
			assert.Equal(t, tt.idleDur, cfg.Server.IdleTimeout)
		})
	}
}

func TestLoad_ProductionSecretPolicy(t *testing.T) {
	tests := []struct {
		name    string
		jwt     string
		csrf    string
		wantErr string
	}{
		{name: "valid", jwt: strongJWTSecret, csrf: strongCSRFSecret},
		{name: "missing jwt", csrf: strongCSRFSecret, wantErr: "JWT_SECRET is required"},
		{name: "missing csrf", jwt: strongJWTSecret, wantErr: "CSRF_SECRET is required"},
		{name: "short jwt", jwt: "too-short-secret", csrf: strongCSRFSecret, wantErr: "at least 32"},
		{name: "repeated weak jwt", jwt: "secretsecretsecretsecretsecretsecret", csrf: strongCSRFSecret, wantErr: "weak"},
		{name: "same secret", jwt: strongJWTSecret, csrf: strongJWTSecret, wantErr: "must differ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("ENV", EnvProduction)
			t.Setenv("JWT_SECRET", tt.jwt)
			t.Setenv("CSRF_SECRET", tt.csrf)

			cfg, err := Load()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, cfg.IsProduction())
			assert.Empty(t, cfg.Server.AllowedOrigins)
		})
	}
}

func TestLoad_Lists(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com,")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8")
	t.Setenv("SECURITY_EXCLUDED_PATHS", "/health,/static/*")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)
	assert.Equal(t, []string{"/health", "/static/*"}, cfg.Security.ExcludedPaths)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Run("email provider", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("EMAIL_PROVIDER", "smtp")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("threat thresholds out of order", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("THREAT_MEDIUM", "90")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5432, User: "app", Password: "pw", Name: "sentinel", SSLMode: "disable"}
	assert.True(t, cfg.HasDatabase())
	assert.Equal(t, "host=db port=5432 user=app password=pw dbname=sentinel sslmode=disable", cfg.DSN())

	cfg.URL = "postgres://app:pw@db/sentinel"
	assert.Equal(t, "postgres://app:pw@db/sentinel", cfg.DSN())
}

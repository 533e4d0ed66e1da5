package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/background"
	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/handlers"
	"github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/BradenHooton/sentinel/internal/routes"
	"github.com/BradenHooton/sentinel/internal/security"
	"github.com/BradenHooton/sentinel/internal/services"
	"github.com/BradenHooton/sentinel/internal/store"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Key-value store for sessions, tokens, rate limits and verification tokens
	st, storeCheck, err := openStore(startupCtx, cfg.Redis.URL, logger)
	if err != nil {
		logger.Error("failed to connect to store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	healthChecks := map[string]handlers.HealthCheckFunc{"store": storeCheck}

	// Postgres is optional; without it users live in memory and events are not persisted
	var (
		db         *database.DB
		userRepo   services.UserRepository
		dispatcher *services.EventDispatcher
		history    handlers.SecurityEventHistory
		purger     background.EventPurger
	)
	if cfg.Database.HasDatabase() {
		db, err = database.NewConnection(startupCtx, &cfg.Database, logger)
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()

		if err := database.Migrate(startupCtx, db, logger); err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}

		eventRepo := repositories.NewSecurityEventRepository(db)
		userRepo = repositories.NewUserRepository(db)
		dispatcher = services.NewEventDispatcher(services.DispatcherConfig{
			BufferSize:  1024,
			DropIfFull:  true,
			SaveTimeout: 5 * time.Second,
		}, eventRepo, logger)
		history = eventRepo
		purger = eventRepo
		healthChecks["database"] = db.HealthCheck
	} else {
		logger.Warn("no database configured, using in-memory user repository")
		userRepo = repositories.NewMemoryUserRepository()
	}

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	cookieConfig := auth.CookieConfig{Secure: cfg.IsProduction(), SameSite: "strict"}

	// Security event service
	eventService := services.NewSecurityEventService(pkglogger.NewSecurityEventLogger(logger), dispatcher, services.DefaultAlertThresholds())
	eventService.OnAlert(func(alert models.SecurityEvent) {
		logger.Error("security alert",
			slog.String("ip", alert.IPAddress),
			slog.Any("details", alert.Details),
		)
	})

	// Token manager
	tokenManager := auth.NewTokenManager(auth.NewJWTSigner(cfg.Auth.JWTSecret), st, auth.TokenConfig{
		Issuer:             cfg.Auth.TokenIssuer,
		Audience:           cfg.Auth.TokenAudience,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
	})

	// Session and lockout policy
	sessionConfig := services.DefaultSessionConfig()
	sessionConfig.SessionTimeout = cfg.Auth.SessionTimeout
	sessionConfig.MaxSessionsPerUser = cfg.Auth.MaxSessionsPerUser
	sessionConfig.MaxLoginAttempts = cfg.Auth.MaxLoginAttempts
	sessionConfig.AttemptWindow = cfg.Auth.LoginAttemptWindow
	sessionConfig.LockoutDuration = cfg.Auth.LockoutDuration
	sessionService := services.NewSessionService(st, sessionConfig, logger)

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   cfg.Auth.TimingBaseDelay,
		RandomDelay: cfg.Auth.TimingRandomDelay,
	})

	// CSRF token manager
	csrfManager := auth.NewCSRFTokenManager(auth.CSRFConfig{
		Secret:       cfg.Security.CSRFSecret,
		MaxAge:       cfg.Security.CSRFMaxAge,
		CookieName:   cfg.Security.CSRFCookieName,
		HeaderName:   cfg.Security.CSRFHeaderName,
		TrustedHosts: cfg.Security.CSRFTrustedHosts,
		Cookie:       cookieConfig,
	})

	// Email verification
	var emailSender services.EmailSender
	if cfg.Email.Provider == "ses" {
		emailSender, err = services.NewSESEmailService(startupCtx, cfg.Email.AWSRegion, cfg.Email.From, cfg.Email.VerificationURLBase, logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		emailSender = services.NewLogEmailService(cfg.Email.VerificationURLBase, logger)
	}
	verificationService := services.NewEmailVerificationService(st, userRepo, emailSender, logger, cfg.Email.TokenExpiry)

	// Initialize services
	userService := services.NewUserService(userRepo, logger)
	authService := services.NewAuthService(userRepo, tokenManager, sessionService, eventService, verificationService, timingDelay, logger, services.AuthConfig{
		RequireEmailVerification: cfg.Auth.RequireEmailVerification,
	})

	authenticator := auth.NewAuthenticator(tokenManager, sessionService, eventService, logger)
	authenticator.SetIPConfig(ipConfig)
	if cfg.Auth.RequireEmailVerification {
		authenticator.SetEmailVerifiedCheck(verificationService.IsEmailVerified)
	}

	// Security gatekeeper
	rateLimits := middleware.DefaultRateLimitConfig()
	rateLimits.Default.Limit = cfg.Security.RateLimitDefault
	rateLimits.Default.Window = cfg.Security.RateLimitWindow
	limiter := middleware.NewRateLimiter(st, tokenManager, rateLimits, ipConfig)

	sanitizerConfig := security.DefaultSanitizerConfig()
	sanitizerConfig.MaxBodyBytes = cfg.Security.MaxBodyBytes

	threatConfig := security.DefaultThreatConfig()
	threatConfig.LowThreshold = cfg.Security.ThreatLow
	threatConfig.MediumThreshold = cfg.Security.ThreatMedium
	threatConfig.HighThreshold = cfg.Security.ThreatHigh

	gatekeeper := middleware.NewGatekeeper(middleware.GatekeeperConfig{
		Headers:       middleware.SecurityHeadersConfig{Env: cfg.Server.Env},
		ExcludedPaths: cfg.Security.ExcludedPaths,
		IPConfig:      ipConfig,
	}, eventService, logger, middleware.DefaultStages(
		limiter,
		csrfManager,
		cfg.Security.CSRFExcludedPaths,
		security.NewSanitizer(sanitizerConfig),
		security.NewThreatDetector(threatConfig),
	)...)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, cfg, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := routes.NewRouter(routes.RouterConfig{
		Logger:         logger,
		IPConfig:       ipConfig,
		CORS:           middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins, csrfManager.HeaderName()),
		FloodLimit:     cfg.Security.FloodLimit,
		RequestTimeout: 60 * time.Second,
		Gatekeeper:     gatekeeper,
		Authenticator:  authenticator,
		Handlers: routes.Handlers{
			Auth: handlers.NewAuthHandler(authService, csrfManager, ipConfig, handlers.CookieSettings{
				Cookie:        cookieConfig,
				RefreshMaxAge: cfg.Auth.RefreshTokenExpiry,
			}),
			Users:  handlers.NewUserHandler(userService),
			Admin:  handlers.NewAdminHandler(eventService, history, authService, ipConfig),
			Health: handlers.NewHealthHandler(healthChecks),
		},
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(sessionService, tokenManager, eventService, purger, background.CleanupConfig{
		Interval:       cfg.Auth.CleanupInterval,
		EventRetention: cfg.Auth.EventRetention,
	}, logger)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Flush queued security events before the database goes away
	dispatcher.Close()

	logger.Info("server stopped gracefully")
}

// openStore connects to Redis when a URL is configured, else uses the in-process store
func openStore(ctx context.Context, redisURL string, logger *slog.Logger) (store.Store, handlers.HealthCheckFunc, error) {
	if redisURL == "" {
		logger.Warn("no REDIS_URL set, using in-memory store; state is lost on restart")
		return store.NewMemoryStore(), func(context.Context) error { return nil }, nil
	}

	rs, err := store.NewRedisStoreFromURL(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to redis store")
	return rs, rs.Ping, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo services.UserRepository, cfg *config.Config, logger *slog.Logger) error {
	adminEmail := strings.ToLower(strings.TrimSpace(cfg.Auth.AdminEmail))
	adminPassword := cfg.Auth.AdminPassword

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("admin password rejected: %w", err)
	}

	// Hash password
	hashed, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	// Create admin user
	admin := &models.User{
		Email:              adminEmail,
		Name:               "Admin",
		PasswordHash:       hashed.Hash,
		PasswordSalt:       hashed.Salt,
		PasswordAlgorithm:  hashed.Algorithm,
		PasswordIterations: hashed.Iterations,
		EmailVerified:      true,
		Role:               models.RoleAdmin,
		Permissions:        models.DefaultPermissions(models.RoleAdmin),
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully", pkglogger.RedactedAttr("email", adminEmail, cfg.Server.Env))
	return nil
}

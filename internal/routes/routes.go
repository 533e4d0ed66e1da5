package routes

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/handlers"
	"github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes
type Handlers struct {
	Auth   *handlers.AuthHandler
	Users  *handlers.UserHandler
	Admin  *handlers.AdminHandler
	Health *handlers.HealthHandler
}

// RouterConfig holds everything NewRouter needs to build the middleware chain
type RouterConfig struct {
	Logger         *slog.Logger
	IPConfig       *pkghttp.IPConfig
	CORS           *middleware.CORSConfig
	FloodLimit     int // requests per minute per connection address; 0 disables
	RequestTimeout time.Duration
	Gatekeeper     *middleware.Gatekeeper
	Authenticator  *auth.Authenticator
	Handlers       Handlers
}

// NewRouter builds the router: request plumbing, then the security gatekeeper,
// then the routes with their authorization requirements
func NewRouter(cfg RouterConfig) chi.Router {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.SecureLogger(cfg.Logger, cfg.IPConfig))
	router.Use(chimiddleware.Recoverer)
	if cfg.FloodLimit > 0 {
		router.Use(middleware.FloodGuard(cfg.FloodLimit))
	}
	if cfg.CORS != nil {
		router.Use(middleware.CORS(cfg.CORS))
	}
	if cfg.RequestTimeout > 0 {
		router.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}
	router.Use(cfg.Gatekeeper.Handler)

	RegisterRoutes(router, cfg.Handlers, cfg.Authenticator)
	return router
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, authenticator *auth.Authenticator) {
	router.Get("/health", h.Health.Health)

	// Public routes - no authentication required
	router.Route("/auth", func(r chi.Router) {
		r.Get("/csrf-token", h.Auth.CSRFToken)
		r.Post("/register", h.Auth.Register)
		r.Post("/login", h.Auth.Login)
		r.Post("/refresh", h.Auth.RefreshToken)
		r.Post("/verify-email", h.Auth.VerifyEmail)

		// Unverified users must still be able to sign out
		r.Group(func(r chi.Router) {
			r.Use(authenticator.Middleware(auth.AuthOptions{AllowUnverifiedEmail: true}))
			r.Post("/logout", h.Auth.Logout)
			r.Post("/logout-all", h.Auth.LogoutAll)
		})
	})

	// Any authenticated user
	router.Group(func(r chi.Router) {
		r.Use(authenticator.Middleware(auth.AuthOptions{}))
		r.Get("/users/me", h.Users.Me)
	})

	// Admin-only routes
	router.Route("/admin", func(r chi.Router) {
		r.Use(authenticator.RequireRole(models.RoleAdmin))

		r.With(auth.RequireAnyPermission(models.PermissionSecurityRead, models.PermissionSecurityManage)).
			Get("/security/events", h.Admin.GetSecurityEvents)
		r.With(auth.RequireAnyPermission(models.PermissionSecurityRead, models.PermissionSecurityManage)).
			Get("/security/events/history", h.Admin.GetEventHistory)
		r.With(auth.RequirePermissions(models.PermissionUsersManage)).
			Post("/accounts/unlock", h.Admin.UnlockAccount)
		r.With(auth.RequirePermissions(models.PermissionUsersRead)).
			Get("/users", h.Users.ListUsers)
	})
}

package auth

import (
	"net/http"
	"slices"

	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// RequirePermissions creates middleware that requires ALL provided permissions.
// Must run after Authenticator.Middleware.
func RequirePermissions(required ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUserFromContext(r)
			if user == nil {
				pkghttp.WriteError(w, http.StatusUnauthorized, models.CodeUnauthorized, "Authentication required")
				return
			}

			if !models.HasAllPermissions(user.Permissions, required) {
				pkghttp.WriteError(w, http.StatusForbidden, models.CodeInsufficientPermissions, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission creates middleware that allows access if ANY of the provided permissions match
func RequireAnyPermission(allowed ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUserFromContext(r)
			if user == nil {
				pkghttp.WriteError(w, http.StatusUnauthorized, models.CodeUnauthorized, "Authentication required")
				return
			}

			for _, p := range allowed {
				if slices.Contains(user.Permissions, p) {
					next.ServeHTTP(w, r)
					return
				}
			}

			pkghttp.WriteError(w, http.StatusForbidden, models.CodeInsufficientPermissions, "Insufficient permissions")
		})
	}
}

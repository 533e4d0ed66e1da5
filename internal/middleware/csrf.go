package middleware

import (
	"net/http"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// CSRFStage validates double-submit tokens on state-changing requests.
// Safe methods and excluded paths are never checked.
func CSRFStage(manager *auth.CSRFTokenManager, excluded []string) Stage {
	return Stage{
		Name: "csrf",
		Run: func(w http.ResponseWriter, r *http.Request, info *RequestInfo) (Verdict, error) {
			if !isStateChangingMethod(r.Method) || pkghttp.MatchPath(r.URL.Path, excluded) {
				return Verdict{}, nil
			}

			reason, ok := manager.ValidateRequest(r)
			if ok {
				return Verdict{}, nil
			}
			return Verdict{
				Deny:  models.NewPolicyViolation(models.CodeCSRFValidationFailed, "CSRF validation failed", http.StatusForbidden),
				Event: info.event(models.EventCSRFValidationFailed, models.SeverityMedium, map[string]any{"reason": reason}),
			}, nil
		},
	}
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}

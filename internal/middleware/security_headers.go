package middleware

import (
	"net/http"
	"strings"
)

const (
	productionCSP = "default-src 'self'; " +
		"script-src 'self'; " +
		"style-src 'self'; " +
		"img-src 'self' data: https:; " +
		"font-src 'self'; " +
		"connect-src 'self'; " +
		"object-src 'none'; " +
		"frame-ancestors 'none'; " +
		"base-uri 'self'; " +
		"form-action 'self'; " +
		"upgrade-insecure-requests"

	// Allows hot reloading and dev tooling
	developmentCSP = "default-src 'self' http: https: ws:; " +
		"script-src 'self' 'unsafe-inline' 'unsafe-eval' http: https: ws:; " +
		"style-src 'self' 'unsafe-inline' http: https:; " +
		"img-src 'self' data: https: http:; " +
		"font-src 'self' data: http: https:; " +
		"connect-src 'self' http: https: ws: wss:; " +
		"frame-ancestors 'self'; " +
		"base-uri 'self'; " +
		"form-action 'self'"

	permissionsPolicy = "accelerometer=(), camera=(), geolocation=(), gyroscope=(), " +
		"magnetometer=(), microphone=(), payment=(), usb=(), interest-cohort=()"
)

// SecurityHeadersConfig holds security headers configuration
type SecurityHeadersConfig struct {
	Env       string
	CSPReport string // optional report-uri appended to the policy
}

func (c SecurityHeadersConfig) production() bool {
	return strings.EqualFold(c.Env, "production")
}

// ApplySecurityHeaders stamps the response headers. Production enforces a strict
// CSP; development sends a permissive policy in report-only mode.
func ApplySecurityHeaders(w http.ResponseWriter, config SecurityHeadersConfig) {
	h := w.Header()

	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", permissionsPolicy)
	h.Set("X-DNS-Prefetch-Control", "off")
	h.Set("Cross-Origin-Opener-Policy", "same-origin")
	h.Set("Cross-Origin-Resource-Policy", "same-origin")

	if config.production() {
		csp := productionCSP
		if config.CSPReport != "" {
			csp += "; report-uri " + config.CSPReport
		}
		h.Set("Content-Security-Policy", csp)
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		h.Set("Cross-Origin-Embedder-Policy", "require-corp")
		return
	}

	csp := developmentCSP
	if config.CSPReport != "" {
		csp += "; report-uri " + config.CSPReport
	}
	h.Set("Content-Security-Policy-Report-Only", csp)
	h.Set("Strict-Transport-Security", "max-age=300")
	h.Set("Cross-Origin-Embedder-Policy", "credentialless")
}

// SecurityHeaders returns a middleware that adds security headers to all responses
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ApplySecurityHeaders(w, config)
			next.ServeHTTP(w, r)
		})
	}
}

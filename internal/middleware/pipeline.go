package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/security"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// ProcessingTimeHeader reports how long the gatekeeper spent on a request
const ProcessingTimeHeader = "X-Security-Processing-Time"

// RequestInfo carries what the gatekeeper knows about the request being checked
type RequestInfo struct {
	IP        string
	UserAgent string
	Method    string
	Path      string
	Threat    *security.ThreatAssessment // set by the threat stage
}

func (i *RequestInfo) event(eventType string, severity models.Severity, details map[string]any) *models.SecurityEvent {
	return &models.SecurityEvent{
		Type:      eventType,
		Severity:  severity,
		IPAddress: i.IP,
		UserAgent: i.UserAgent,
		Path:      i.Path,
		Details:   details,
	}
}

// Verdict is a stage decision. Deny is nil when the request may continue.
// Event, when set, is recorded whichever way the decision went.
type Verdict struct {
	Deny  *models.SecurityError
	Event *models.SecurityEvent
}

// Stage is one step of the gatekeeper chain. A returned error is an internal
// failure, not a denial.
type Stage struct {
	Name string
	Run  func(w http.ResponseWriter, r *http.Request, info *RequestInfo) (Verdict, error)
}

// GatekeeperConfig holds pipeline settings
type GatekeeperConfig struct {
	Headers       SecurityHeadersConfig
	ExcludedPaths []string // headers are still stamped; every other stage is skipped
	IPConfig      *pkghttp.IPConfig
}

// Gatekeeper runs the security stages in order and stops at the first denial
type Gatekeeper struct {
	cfg    GatekeeperConfig
	stages []Stage
	events auth.EventRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewGatekeeper creates a pipeline over the given stages. events may be nil.
func NewGatekeeper(cfg GatekeeperConfig, events auth.EventRecorder, logger *slog.Logger, stages ...Stage) *Gatekeeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatekeeper{
		cfg:    cfg,
		stages: stages,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// DefaultStages returns rate limiting, CSRF, sanitization and threat scoring
// in that order. Nil components are left out.
func DefaultStages(limiter *RateLimiter, csrf *auth.CSRFTokenManager, csrfExcluded []string, sanitizer *security.Sanitizer, threats *security.ThreatDetector) []Stage {
	var stages []Stage
	if limiter != nil {
		stages = append(stages, RateLimitStage(limiter))
	}
	if csrf != nil {
		stages = append(stages, CSRFStage(csrf, csrfExcluded))
	}
	if sanitizer != nil {
		stages = append(stages, SanitizeStage(sanitizer))
	}
	if threats != nil {
		stages = append(stages, ThreatStage(threats))
	}
	return stages
}

// SetClock overrides the time source
func (g *Gatekeeper) SetClock(now func() time.Time) {
	g.now = now
}

// Handler wraps next with the pipeline
func (g *Gatekeeper) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := g.now()
		ApplySecurityHeaders(w, g.cfg.Headers)

		if pkghttp.MatchPath(r.URL.Path, g.cfg.ExcludedPaths) {
			next.ServeHTTP(w, r)
			return
		}

		info := &RequestInfo{
			IP:        pkghttp.ExtractClientIP(r, g.cfg.IPConfig),
			UserAgent: r.UserAgent(),
			Method:    r.Method,
			Path:      r.URL.Path,
		}

		for _, stage := range g.stages {
			verdict, err := g.run(stage, w, r, info)
			if err != nil {
				g.fail(r.Context(), w, info, stage.Name, err, start)
				return
			}
			if verdict.Event != nil {
				g.record(r.Context(), *verdict.Event)
			}
			if verdict.Deny != nil {
				w.Header().Set(ProcessingTimeHeader, g.now().Sub(start).String())
				pkghttp.WriteError(w, verdict.Deny.Status, verdict.Deny.Code, verdict.Deny.Message)
				return
			}
		}

		elapsed := g.now().Sub(start)
		details := map[string]any{"processingMs": elapsed.Milliseconds()}
		if info.Threat != nil {
			details["threatScore"] = info.Threat.Score
		}
		g.record(r.Context(), *info.event(models.EventRequestPassed, models.SeverityLow, details))

		w.Header().Set(ProcessingTimeHeader, elapsed.String())
		next.ServeHTTP(w, r)
	})
}

// run calls a stage, turning a panic into an error
func (g *Gatekeeper) run(stage Stage, w http.ResponseWriter, r *http.Request, info *RequestInfo) (verdict Verdict, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name, rec)
		}
	}()
	return stage.Run(w, r, info)
}

func (g *Gatekeeper) fail(ctx context.Context, w http.ResponseWriter, info *RequestInfo, stage string, err error, start time.Time) {
	g.logger.Error("security pipeline failure",
		slog.String("stage", stage),
		slog.String("path", info.Path),
		slog.Any("error", err))

	g.record(ctx, *info.event(models.EventSecurityMiddlewareError, models.SeverityHigh, map[string]any{"stage": stage}))

	w.Header().Set(ProcessingTimeHeader, g.now().Sub(start).String())
	pkghttp.WriteInternalError(w, "Internal server error")
}

func (g *Gatekeeper) record(ctx context.Context, event models.SecurityEvent) {
	if g.events != nil {
		g.events.Record(ctx, event)
	}
}

// RateLimitStage counts the request and stamps quota headers on every response
func RateLimitStage(limiter *RateLimiter) Stage {
	return Stage{
		Name: "rate_limit",
		Run: func(w http.ResponseWriter, r *http.Request, info *RequestInfo) (Verdict, error) {
			result, err := limiter.Check(r.Context(), r)
			if err != nil {
				return Verdict{}, err
			}

			SetRateLimitHeaders(w, result)
			if result.Allowed {
				return Verdict{}, nil
			}
			return Verdict{
				Deny: models.NewRateLimitError("Too many requests"),
				Event: info.event(models.EventRateLimitExceeded, models.SeverityMedium, map[string]any{
					"limit":             result.Limit,
					"retryAfterSeconds": int(result.RetryAfter.Seconds()),
				}),
			}, nil
		},
	}
}

// SanitizeStage rewrites unsafe input in place and blocks injection attempts
func SanitizeStage(sanitizer *security.Sanitizer) Stage {
	return Stage{
		Name: "sanitize",
		Run: func(w http.ResponseWriter, r *http.Request, info *RequestInfo) (Verdict, error) {
			result, err := sanitizer.SanitizeRequest(r)
			if errors.Is(err, security.ErrBodyTooLarge) {
				return Verdict{
					Deny:  models.NewPolicyViolation(models.CodeRequestBlocked, "Request body too large", http.StatusRequestEntityTooLarge),
					Event: info.event(models.EventSanitizationBlocked, models.SeverityMedium, map[string]any{"reason": "body_too_large"}),
				}, nil
			}
			if err != nil {
				return Verdict{}, err
			}

			switch {
			case result.Blocked:
				return Verdict{
					Deny: models.NewPolicyViolation(models.CodeRequestBlocked, "Request blocked", http.StatusBadRequest),
					Event: info.event(models.EventSanitizationBlocked, models.SeverityHigh, map[string]any{
						"reason":   result.Reason,
						"findings": findingDetails(result.Findings),
					}),
				}, nil
			case len(result.Findings) > 0:
				return Verdict{
					Event: info.event(models.EventInputSanitized, models.SeverityLow, map[string]any{
						"findings": findingDetails(result.Findings),
					}),
				}, nil
			}
			return Verdict{}, nil
		},
	}
}

func findingDetails(findings []security.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Location+":"+f.Field+":"+f.Category)
	}
	return out
}

// ThreatStage scores the request, blocking HIGH and reporting MEDIUM
func ThreatStage(detector *security.ThreatDetector) Stage {
	return Stage{
		Name: "threat",
		Run: func(w http.ResponseWriter, r *http.Request, info *RequestInfo) (Verdict, error) {
			assessment := detector.Assess(r)
			info.Threat = &assessment

			details := map[string]any{
				"score":   assessment.Score,
				"level":   string(assessment.Level),
				"signals": assessment.Signals,
			}
			switch assessment.Level {
			case models.ThreatHigh:
				return Verdict{
					Deny:  models.NewPolicyViolation(models.CodeRequestBlocked, "Request blocked", http.StatusForbidden),
					Event: info.event(models.EventThreatBlocked, models.SeverityHigh, details),
				}, nil
			case models.ThreatMedium:
				return Verdict{Event: info.event(models.EventThreatDetected, models.SeverityMedium, details)}, nil
			}
			return Verdict{}, nil
		},
	}
}

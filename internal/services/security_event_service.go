package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/models"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

const defaultRecentEvents = 1000

// AlertThreshold triggers an alert after Count events of one type from one IP within Window
type AlertThreshold struct {
	Count  int
	Window time.Duration
}

// DefaultAlertThresholds returns the per-event-type alert policy
func DefaultAlertThresholds() map[string]AlertThreshold {
	return map[string]AlertThreshold{
		models.EventCSRFValidationFailed: {Count: 5, Window: 5 * time.Minute},
		models.EventRateLimitExceeded:    {Count: 10, Window: 5 * time.Minute},
		models.EventSanitizationBlocked:  {Count: 3, Window: 5 * time.Minute},
		models.EventThreatBlocked:        {Count: 3, Window: 10 * time.Minute},
		models.EventAuthenticationFailed: {Count: 10, Window: 10 * time.Minute},
		models.EventAuthorizationFailed:  {Count: 10, Window: 10 * time.Minute},
		models.EventSuspiciousActivity:   {Count: 3, Window: time.Hour},
	}
}

// EventFilter narrows Recent results. Zero values match everything.
type EventFilter struct {
	Type        string
	IPAddress   string
	MinSeverity models.Severity
}

func (f EventFilter) matches(e models.SecurityEvent) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	if f.MinSeverity != "" && !e.Severity.AtLeast(f.MinSeverity) {
		return false
	}
	return true
}

// SecurityEventService records security events: structured log, bounded
// in-memory buffer, optional persistent sink, and per-(type, IP) alerting
type SecurityEventService struct {
	mu         sync.Mutex
	recent     []models.SecurityEvent
	capacity   int
	counters   map[string][]time.Time
	thresholds map[string]AlertThreshold
	logger     *pkglogger.SecurityEventLogger
	dispatcher *EventDispatcher
	onAlert    []func(models.SecurityEvent)
	now        func() time.Time
}

// NewSecurityEventService creates a new SecurityEventService. dispatcher may be nil.
func NewSecurityEventService(logger *pkglogger.SecurityEventLogger, dispatcher *EventDispatcher, thresholds map[string]AlertThreshold) *SecurityEventService {
	if thresholds == nil {
		thresholds = DefaultAlertThresholds()
	}
	if logger == nil {
		logger = pkglogger.NewSecurityEventLogger(nil)
	}
	return &SecurityEventService{
		recent:     make([]models.SecurityEvent, 0, defaultRecentEvents),
		capacity:   defaultRecentEvents,
		counters:   make(map[string][]time.Time),
		thresholds: thresholds,
		logger:     logger,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// SetClock overrides the time source
func (s *SecurityEventService) SetClock(now func() time.Time) {
	s.now = now
}

// SetCapacity changes the size of the recent-events buffer
func (s *SecurityEventService) SetCapacity(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return
	}
	s.capacity = n
	if len(s.recent) > n {
		s.recent = append([]models.SecurityEvent(nil), s.recent[len(s.recent)-n:]...)
	}
}

// OnAlert registers a callback invoked for every ALERT_GENERATED event
func (s *SecurityEventService) OnAlert(fn func(models.SecurityEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAlert = append(s.onAlert, fn)
}

// Record stores an event and, if it crosses its type's threshold for the IP,
// records a CRITICAL alert event as well. Never fails.
func (s *SecurityEventService) Record(ctx context.Context, event models.SecurityEvent) models.SecurityEvent {
	now := s.now()
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}
	if event.Severity == "" {
		event.Severity = models.SeverityLow
	}

	s.mu.Lock()
	s.appendLocked(event)
	alert, triggered := s.countLocked(event, now)
	if triggered {
		s.appendLocked(alert)
	}
	hooks := s.onAlert
	s.mu.Unlock()

	s.emit(ctx, event)
	if triggered {
		s.emit(ctx, alert)
		for _, fn := range hooks {
			fn(alert)
		}
	}

	return event
}

func (s *SecurityEventService) emit(ctx context.Context, event models.SecurityEvent) {
	s.logger.Log(ctx, event)
	s.dispatcher.Emit(ctx, event)
}

func (s *SecurityEventService) appendLocked(event models.SecurityEvent) {
	if len(s.recent) >= s.capacity {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:len(s.recent)-1]
	}
	s.recent = append(s.recent, event)
}

func counterKey(eventType, ip string) string { return eventType + "|" + ip }

// countLocked tracks the sliding window and builds the alert when the threshold is reached
func (s *SecurityEventService) countLocked(event models.SecurityEvent, now time.Time) (models.SecurityEvent, bool) {
	threshold, ok := s.thresholds[event.Type]
	if !ok || threshold.Count <= 0 || event.IPAddress == "" {
		return models.SecurityEvent{}, false
	}

	key := counterKey(event.Type, event.IPAddress)
	hits := pruneBefore(s.counters[key], now.Add(-threshold.Window))
	hits = append(hits, now)

	if len(hits) < threshold.Count {
		s.counters[key] = hits
		return models.SecurityEvent{}, false
	}

	delete(s.counters, key)
	return models.SecurityEvent{
		ID:        uuid.New().String(),
		Type:      models.EventAlertGenerated,
		Severity:  models.SeverityCritical,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Path:      event.Path,
		UserID:    event.UserID,
		Details: map[string]any{
			"triggeredBy":   event.Type,
			"count":         len(hits),
			"windowSeconds": int(threshold.Window.Seconds()),
		},
		Timestamp: now,
	}, true
}

func pruneBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// Recent returns up to limit matching events, newest first
func (s *SecurityEventService) Recent(limit int, filter EventFilter) []models.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.SecurityEvent, 0)
	for i := len(s.recent) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if filter.matches(s.recent[i]) {
			out = append(out, s.recent[i])
		}
	}
	return out
}

// CountByIP counts buffered events from ip within window. Empty eventType counts all types.
func (s *SecurityEventService) CountByIP(ip, eventType string, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	count := 0
	for _, e := range s.recent {
		if e.IPAddress != ip || e.Timestamp.Before(cutoff) {
			continue
		}
		if eventType == "" || e.Type == eventType {
			count++
		}
	}
	return count
}

// PruneCounters drops alert counters that have aged out. Returns how many were removed.
func (s *SecurityEventService) PruneCounters() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, hits := range s.counters {
		eventType := key
		for i := range key {
			if key[i] == '|' {
				eventType = key[:i]
				break
			}
		}
		window := s.thresholds[eventType].Window
		if kept := pruneBefore(hits, now.Add(-window)); len(kept) == 0 {
			delete(s.counters, key)
			removed++
		} else {
			s.counters[key] = kept
		}
	}
	return removed
}

// DispatcherStats reports persistent sink health
func (s *SecurityEventService) DispatcherStats() (dropped, failed uint64) {
	return s.dispatcher.Dropped(), s.dispatcher.Failed()
}

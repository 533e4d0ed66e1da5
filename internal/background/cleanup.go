package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/services"
)

// SessionSweeper purges expired sessions, attempt logs and lockouts
type SessionSweeper interface {
	CleanupExpired(ctx context.Context) (services.SessionCleanupResult, error)
}

// TokenSweeper purges expired refresh records and blacklist entries
type TokenSweeper interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// EventMaintainer prunes alert counters and reports dispatcher health
type EventMaintainer interface {
	PruneCounters() int
	DispatcherStats() (dropped, failed uint64)
}

// EventPurger deletes persisted security events older than a cutoff
type EventPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupConfig controls the sweep interval and event retention
type CleanupConfig struct {
	Interval       time.Duration
	EventRetention time.Duration
	Timeout        time.Duration
}

// CleanupManager periodically removes expired security state
type CleanupManager struct {
	sessions SessionSweeper
	tokens   TokenSweeper
	events   EventMaintainer
	purger   EventPurger // nil when events are not persisted
	cfg      CleanupConfig
	logger   *slog.Logger
	now      func() time.Time
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager. purger may be nil.
func NewCleanupManager(
	sessions SessionSweeper,
	tokens TokenSweeper,
	events EventMaintainer,
	purger EventPurger,
	cfg CleanupConfig,
	logger *slog.Logger,
) *CleanupManager {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CleanupManager{
		sessions: sessions,
		tokens:   tokens,
		events:   events,
		purger:   purger,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.cfg.Interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep. A failing step is logged and the
// remaining steps still run.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, cm.cfg.Timeout)
	defer cancel()

	result, err := cm.sessions.CleanupExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup sessions", slog.Any("error", err))
	} else if result.Sessions+result.AttemptLogs+result.Lockouts > 0 {
		cm.logger.Info("session cleanup completed",
			slog.Int("sessions", result.Sessions),
			slog.Int("attempt_logs", result.AttemptLogs),
			slog.Int("lockouts", result.Lockouts),
		)
	}

	tokens, err := cm.tokens.CleanupExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup tokens", slog.Any("error", err))
	} else if tokens > 0 {
		cm.logger.Info("token cleanup completed", slog.Int("tokens", tokens))
	}

	if pruned := cm.events.PruneCounters(); pruned > 0 {
		cm.logger.Debug("alert counters pruned", slog.Int("counters", pruned))
	}
	if dropped, failed := cm.events.DispatcherStats(); dropped > 0 || failed > 0 {
		cm.logger.Warn("security events not persisted",
			slog.Uint64("dropped", dropped),
			slog.Uint64("failed", failed),
		)
	}

	if cm.purger != nil && cm.cfg.EventRetention > 0 {
		rowsDeleted, err := cm.purger.DeleteOlderThan(cleanupCtx, cm.now().Add(-cm.cfg.EventRetention))
		if err != nil {
			cm.logger.Error("failed to purge security events", slog.Any("error", err))
			return
		}
		if rowsDeleted > 0 {
			cm.logger.Info("security event retention applied", slog.Int64("rows_deleted", rowsDeleted))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}

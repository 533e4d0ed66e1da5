package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// SecurityEventRepository persists security events for later investigation.
// Session ids are stored as fingerprints.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

// Save inserts one event. Replays of the same id are ignored.
func (r *SecurityEventRepository) Save(ctx context.Context, event models.SecurityEvent) error {
	var details []byte
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to encode event details: %w", err)
		}
	}

	var sessionRef string
	if event.SessionID != "" {
		sessionRef = pkglogger.TokenFingerprint(event.SessionID)
	}

	query := `
		INSERT INTO security_events (id, type, severity, ip_address, user_agent, path, user_id, session_ref, details, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		event.ID, event.Type, string(event.Severity), event.IPAddress, event.UserAgent,
		event.Path, event.UserID, sessionRef, details, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListByIP returns events from one address since the given time, newest first
func (r *SecurityEventRepository) ListByIP(ctx context.Context, ip string, since time.Time, limit int) ([]models.SecurityEvent, error) {
	query := `
		SELECT id, type, severity, ip_address, user_agent, path, user_id, session_ref, details, occurred_at
		FROM security_events
		WHERE ip_address = $1 AND occurred_at >= $2
		ORDER BY occurred_at DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, ip, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	events := make([]models.SecurityEvent, 0)
	for rows.Next() {
		var e models.SecurityEvent
		var severity string
		var details []byte
		if err := rows.Scan(&e.ID, &e.Type, &severity, &e.IPAddress, &e.UserAgent, &e.Path, &e.UserID, &e.SessionID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		e.Severity = models.Severity(severity)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode event details: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

// DeleteOlderThan removes events recorded before cutoff
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete security events: %w", err)
	}
	return result.RowsAffected(), nil
}

package sqlite

import (
	"context"
	"time"

	"github.com/apimeter/apimeter/domain/alert"
	"github.com/apimeter/apimeter/ports"
)

// AlertStore implements ports.AlertStore using SQLite.
type AlertStore struct {
	db *DB
}

// NewAlertStore creates a new SQLite alert store.
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db}
}

// Create stores a new alert event.
func (s *AlertStore) Create(ctx context.Context, e alert.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_events (
			id, type, level, identity_id, message, value, threshold, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Type), string(e.Level), e.IdentityID, e.Message,
		e.Value, e.Threshold, string(e.Status), e.CreatedAt.UTC())
	return err
}

// ListActive returns active events for an identity, or all identities when
// identityID is empty.
func (s *AlertStore) ListActive(ctx context.Context, identityID string) ([]alert.Event, error) {
	query := `
		SELECT id, type, level, identity_id, message, value, threshold, status, created_at
		FROM alert_events
		WHERE status = 'active'`
	args := []any{}
	if identityID != "" {
		query += ` AND identity_id = ?`
		args = append(args, identityID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alert.Event
	for rows.Next() {
		var e alert.Event
		var typ, level, status string
		err := rows.Scan(&e.ID, &typ, &level, &e.IdentityID, &e.Message,
			&e.Value, &e.Threshold, &status, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		e.Type = alert.Type(typ)
		e.Level = alert.Level(level)
		e.Status = alert.Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Acknowledge marks an active event acknowledged.
func (s *AlertStore) Acknowledge(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE alert_events
		SET status = 'acknowledged', acknowledged_at = ?
		WHERE id = ? AND status = 'active'
	`, at.UTC(), id)
	return err
}

// Resolve marks an event resolved.
func (s *AlertStore) Resolve(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE alert_events
		SET status = 'resolved', resolved_at = ?
		WHERE id = ? AND status != 'resolved'
	`, at.UTC(), id)
	return err
}

// Ensure interface compliance.
var _ ports.AlertStore = (*AlertStore)(nil)

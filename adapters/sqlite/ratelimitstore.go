package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/apimeter/apimeter/domain/ratelimit"
	"github.com/apimeter/apimeter/ports"
)

// RateLimitStore implements ports.RateLimitStore using SQLite.
//
// CheckAndIncrement runs the read-modify-write inside one immediate
// transaction (see Open's _txlock), so the compare-then-increment step is
// serialized across pipeline instances sharing the database.
type RateLimitStore struct {
	db *DB
}

// NewRateLimitStore creates a new SQLite rate limit store.
func NewRateLimitStore(db *DB) *RateLimitStore {
	return &RateLimitStore{db: db}
}

// CheckAndIncrement atomically checks and updates the window for one
// (identity, scope) key.
func (s *RateLimitStore) CheckAndIncrement(ctx context.Context, identityID string, limit ratelimit.Limit, now time.Time) (ratelimit.Decision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ratelimit.Decision{}, err
	}
	defer tx.Rollback()

	var state ratelimit.WindowState
	err = tx.QueryRowContext(ctx, `
		SELECT count, window_start FROM rate_windows
		WHERE identity_id = ? AND scope = ?
	`, identityID, string(limit.Scope)).Scan(&state.Count, &state.WindowStart)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ratelimit.Decision{}, err
	}

	decision, newState := ratelimit.Check(state, limit, now)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rate_windows (identity_id, scope, count, window_start, window_secs)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity_id, scope) DO UPDATE SET
			count = excluded.count,
			window_start = excluded.window_start,
			window_secs = excluded.window_secs
	`, identityID, string(limit.Scope), newState.Count, newState.WindowStart.UTC(),
		int(limit.Window/time.Second))
	if err != nil {
		return ratelimit.Decision{}, err
	}

	if err := tx.Commit(); err != nil {
		return ratelimit.Decision{}, err
	}
	return decision, nil
}

// Cleanup deletes windows that ended before the cutoff. A window currently
// being incremented always satisfies window_start + window_secs >= cutoff,
// so live windows are never deleted.
func (s *RateLimitStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM rate_windows
		WHERE datetime(window_start, '+' || window_secs || ' seconds') < datetime(?)
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ensure interface compliance.
var _ ports.RateLimitStore = (*RateLimitStore)(nil)

package sqlite

import (
	"context"
	"time"

	"github.com/apimeter/apimeter/domain/usage"
	"github.com/apimeter/apimeter/ports"
)

// Ledger implements ports.UsageLedger using SQLite.
type Ledger struct {
	db *DB
}

// NewLedger creates a new SQLite usage ledger.
func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

// AppendBatch stores usage records in one transaction.
func (l *Ledger) AppendBatch(ctx context.Context, records []usage.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_records (
			id, identity_id, endpoint, method, status_code, response_time_ms, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		// Timestamps are stored in UTC for consistent querying.
		_, err := stmt.ExecContext(ctx,
			r.ID, r.IdentityID, r.Endpoint, r.Method, r.StatusCode,
			r.ResponseTimeMs, r.Timestamp.UTC(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func predicateClause(pred ports.StatusPredicate) string {
	switch pred {
	case ports.StatusErrors:
		return " AND status_code >= 400"
	case ports.StatusUnauthorized:
		return " AND status_code = 401"
	default:
		return ""
	}
}

// CountSince counts records for an identity since a timestamp.
func (l *Ledger) CountSince(ctx context.Context, identityID string, since time.Time, pred ports.StatusPredicate) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM usage_records
		WHERE identity_id = ? AND timestamp >= ?`+predicateClause(pred),
		identityID, since.UTC(),
	).Scan(&n)
	return n, err
}

// AverageResponseTime returns the mean latency in ms since a timestamp.
func (l *Ledger) AverageResponseTime(ctx context.Context, identityID string, since time.Time) (float64, error) {
	var avg float64
	err := l.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(response_time_ms), 0) FROM usage_records
		WHERE identity_id = ? AND timestamp >= ?
	`, identityID, since.UTC()).Scan(&avg)
	return avg, err
}

// CountOnDay counts records for an identity on one UTC calendar day.
func (l *Ledger) CountOnDay(ctx context.Context, identityID string, day time.Time) (int64, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	var n int64
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM usage_records
		WHERE identity_id = ? AND timestamp >= ? AND timestamp < ?
	`, identityID, start, end).Scan(&n)
	return n, err
}

// DailyAverage returns the mean daily count over [from, to) UTC days.
func (l *Ledger) DailyAverage(ctx context.Context, identityID string, from, to time.Time) (float64, error) {
	start := from.UTC().Truncate(24 * time.Hour)
	end := to.UTC().Truncate(24 * time.Hour)
	days := end.Sub(start).Hours() / 24
	if days <= 0 {
		return 0, nil
	}

	var n int64
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM usage_records
		WHERE identity_id = ? AND timestamp >= ? AND timestamp < ?
	`, identityID, start, end).Scan(&n)
	if err != nil {
		return 0, err
	}
	return float64(n) / days, nil
}

// Cleanup removes records older than the cutoff.
func (l *Ledger) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `
		DELETE FROM usage_records WHERE timestamp < ?
	`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ensure interface compliance.
var _ ports.UsageLedger = (*Ledger)(nil)

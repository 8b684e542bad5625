package memory

import (
	"context"
	"sync"
	"time"

	"github.com/apimeter/apimeter/domain/usage"
	"github.com/apimeter/apimeter/ports"
)

// Ledger is an in-memory usage ledger.
type Ledger struct {
	mu      sync.RWMutex
	records []usage.Record
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// AppendBatch stores usage records.
func (l *Ledger) AppendBatch(ctx context.Context, records []usage.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, records...)
	return nil
}

func matches(r usage.Record, pred ports.StatusPredicate) bool {
	switch pred {
	case ports.StatusErrors:
		return r.StatusCode >= 400
	case ports.StatusUnauthorized:
		return r.StatusCode == 401
	default:
		return true
	}
}

// CountSince counts records for an identity since a timestamp.
func (l *Ledger) CountSince(ctx context.Context, identityID string, since time.Time, pred ports.StatusPredicate) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var n int64
	for _, r := range l.records {
		if r.IdentityID == identityID && !r.Timestamp.Before(since) && matches(r, pred) {
			n++
		}
	}
	return n, nil
}

// AverageResponseTime returns the mean latency in ms since a timestamp.
func (l *Ledger) AverageResponseTime(ctx context.Context, identityID string, since time.Time) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum, n int64
	for _, r := range l.records {
		if r.IdentityID == identityID && !r.Timestamp.Before(since) {
			sum += r.ResponseTimeMs
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return float64(sum) / float64(n), nil
}

// CountOnDay counts records for an identity on one UTC calendar day.
func (l *Ledger) CountOnDay(ctx context.Context, identityID string, day time.Time) (int64, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	l.mu.RLock()
	defer l.mu.RUnlock()
	var n int64
	for _, r := range l.records {
		ts := r.Timestamp.UTC()
		if r.IdentityID == identityID && !ts.Before(start) && ts.Before(end) {
			n++
		}
	}
	return n, nil
}

// DailyAverage returns the mean daily count over [from, to) UTC days.
func (l *Ledger) DailyAverage(ctx context.Context, identityID string, from, to time.Time) (float64, error) {
	start := from.UTC().Truncate(24 * time.Hour)
	end := to.UTC().Truncate(24 * time.Hour)
	days := end.Sub(start).Hours() / 24
	if days <= 0 {
		return 0, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	var n int64
	for _, r := range l.records {
		ts := r.Timestamp.UTC()
		if r.IdentityID == identityID && !ts.Before(start) && ts.Before(end) {
			n++
		}
	}
	return float64(n) / days, nil
}

// Cleanup deletes records older than the cutoff.
func (l *Ledger) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.records[:0]
	var deleted int64
	for _, r := range l.records {
		if r.Timestamp.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	l.records = kept
	return deleted, nil
}

// Len returns the number of stored records (for testing).
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Records returns a copy of all stored records (for testing).
func (l *Ledger) Records() []usage.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]usage.Record, len(l.records))
	copy(out, l.records)
	return out
}

// Ensure interface compliance.
var _ ports.UsageLedger = (*Ledger)(nil)

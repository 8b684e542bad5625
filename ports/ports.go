// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/apimeter/apimeter/domain/alert"
	"github.com/apimeter/apimeter/domain/identity"
	"github.com/apimeter/apimeter/domain/ratelimit"
	"github.com/apimeter/apimeter/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// CredentialStore resolves and manages API credentials.
type CredentialStore interface {
	// Resolve maps an opaque raw key to an identity.
	// Returns identity.ErrInvalidKey when no credential matches. The caller
	// distinguishes inactive credentials via Identity.Active; Resolve itself
	// is side-effect-free on the credential record.
	Resolve(ctx context.Context, rawKey string) (identity.Identity, error)

	// Create stores a new credential.
	Create(ctx context.Context, id identity.Identity) error

	// Deactivate marks a credential inactive.
	Deactivate(ctx context.Context, id string, at time.Time) error

	// ListByOwner returns all credentials for an owner.
	ListByOwner(ctx context.Context, ownerID string) ([]identity.Identity, error)

	// UpdateLastUsed updates the last used timestamp.
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
}

// StatusPredicate filters ledger counts by response status.
type StatusPredicate int

// Status predicates for UsageLedger.CountSince.
const (
	StatusAny StatusPredicate = iota
	StatusErrors
	StatusUnauthorized
)

// UsageLedger is the durable append-only record of every request, plus the
// read-side aggregates the alert evaluator consumes.
type UsageLedger interface {
	// AppendBatch stores usage records. Failures must not affect the
	// user-visible response; the ledger is best-effort relative to it.
	AppendBatch(ctx context.Context, records []usage.Record) error

	// CountSince counts records for an identity since a timestamp,
	// filtered by predicate.
	CountSince(ctx context.Context, identityID string, since time.Time, pred StatusPredicate) (int64, error)

	// AverageResponseTime returns the mean latency in milliseconds for an
	// identity since a timestamp.
	AverageResponseTime(ctx context.Context, identityID string, since time.Time) (float64, error)

	// CountOnDay counts records for an identity on one calendar day (UTC).
	CountOnDay(ctx context.Context, identityID string, day time.Time) (int64, error)

	// DailyAverage returns the mean daily request count for an identity
	// over [from, to) calendar days (UTC).
	DailyAverage(ctx context.Context, identityID string, from, to time.Time) (float64, error)

	// Cleanup deletes records older than the cutoff and returns the count.
	// Idempotent and safe to run concurrently with live traffic.
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}

// RateLimitStore persists rate window state. CheckAndIncrement is the one
// atomic unit: compare count to limit, then increment, serialized per
// (identityID, scope) key. A race here would cause over-admission, which is
// the failure mode this contract exists to prevent.
type RateLimitStore interface {
	CheckAndIncrement(ctx context.Context, identityID string, limit ratelimit.Limit, now time.Time) (ratelimit.Decision, error)

	// Cleanup deletes windows that ended before the cutoff and returns the
	// count. Live windows (window_start + window_length >= cutoff) are
	// never deleted.
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertStore persists emitted alert events and their operator-driven
// lifecycle.
type AlertStore interface {
	Create(ctx context.Context, e alert.Event) error
	ListActive(ctx context.Context, identityID string) ([]alert.Event, error)
	Acknowledge(ctx context.Context, id string, at time.Time) error
	Resolve(ctx context.Context, id string, at time.Time) error
}

// -----------------------------------------------------------------------------
// Event Ports
// -----------------------------------------------------------------------------

// NotificationSink delivers alert events to an external channel.
// Delivery is fire-and-forget from the pipeline's perspective: the
// evaluator's responsibility ends at producing the event.
type NotificationSink interface {
	// Name returns the sink name (e.g. "email", "slack").
	Name() string

	// Deliver sends one alert event.
	Deliver(ctx context.Context, e alert.Event) error
}

// LedgerWriter accepts usage records for async processing.
type LedgerWriter interface {
	// Record queues a usage record. Non-blocking.
	Record(r usage.Record)

	// Flush forces immediate processing of queued records.
	Flush(ctx context.Context) error

	// Close stops the writer and flushes remaining records.
	Close() error
}

// Package cache layers an in-process rate window cache over the durable
// rate limit store.
//
// The durable store is the source of truth across restarts and across
// pipeline instances; the cache is advisory. It is only ever used to reject
// early - a cached window that already shows the limit reached short-circuits
// without touching storage - and is rebuilt from durable decisions, so it can
// cause a slightly early rejection on stale data but never an admission the
// durable store did not count.
package cache

import (
	"context"
	"time"

	"github.com/apimeter/apimeter/adapters/memory"
	"github.com/apimeter/apimeter/domain/ratelimit"
	"github.com/apimeter/apimeter/ports"
)

// LayeredRateLimitStore combines a durable store with an in-process cache.
type LayeredRateLimitStore struct {
	durable ports.RateLimitStore
	local   *memory.RateLimitStore
}

// NewLayeredRateLimitStore creates a layered store. The cache starts empty
// after a restart and rebuilds lazily from durable decisions.
func NewLayeredRateLimitStore(durable ports.RateLimitStore, local *memory.RateLimitStore) *LayeredRateLimitStore {
	return &LayeredRateLimitStore{durable: durable, local: local}
}

// CheckAndIncrement consults the cache for a fast rejection, then defers to
// the durable store for the authoritative count. Durable failures propagate
// so the caller can apply its fail-open policy.
func (s *LayeredRateLimitStore) CheckAndIncrement(ctx context.Context, identityID string, limit ratelimit.Limit, now time.Time) (ratelimit.Decision, error) {
	cached := s.local.Peek(identityID, limit.Scope)
	if !cached.WindowStart.IsZero() &&
		now.Before(cached.WindowStart.Add(limit.Window)) &&
		cached.Count >= limit.Limit {
		resetAt := cached.WindowStart.Add(limit.Window)
		retry := int(resetAt.Sub(now) / time.Second)
		if resetAt.Sub(now)%time.Second != 0 {
			retry++
		}
		return ratelimit.Decision{
			Allowed:    false,
			Scope:      limit.Scope,
			Limit:      limit.Limit,
			Remaining:  0,
			RetryAfter: retry,
			ResetAt:    resetAt,
		}, nil
	}

	decision, err := s.durable.CheckAndIncrement(ctx, identityID, limit, now)
	if err != nil {
		return ratelimit.Decision{}, err
	}

	// Mirror the durable outcome. Put keeps the freshest window and the
	// higher count for the same window, so concurrent write-backs cannot
	// roll the cache backwards.
	s.local.Put(identityID, limit.Scope, ratelimit.WindowState{
		Count:       decision.Limit - decision.Remaining,
		WindowStart: decision.ResetAt.Add(-limit.Window),
	})

	return decision, nil
}

// Cleanup sweeps both tiers; the durable count is returned.
func (s *LayeredRateLimitStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	s.local.Cleanup(ctx, cutoff)
	return s.durable.Cleanup(ctx, cutoff)
}

// Ensure interface compliance.
var _ ports.RateLimitStore = (*LayeredRateLimitStore)(nil)

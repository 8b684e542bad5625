// Package ratelimit provides the pure fixed-window rate limiting algorithm.
// All functions are deterministic - same input always produces same output.
//
// The algorithm is a fixed-window counter: O(1) memory and update cost per
// key, at the cost of admitting up to 2x the nominal limit where two
// adjacent windows meet. That boundary slop is a known, documented property
// of the algorithm, not a bug.
package ratelimit

import "time"

// Scope is one rate-limit dimension (per-minute, per-hour, per-endpoint-class).
type Scope string

// Reference scopes.
const (
	ScopeMinute Scope = "minute"
	ScopeHour   Scope = "hour"
	ScopeDay    Scope = "day"
	ScopeAuth   Scope = "auth"
)

// WindowState is the persisted counter for one (identity, scope) pair
// (value type). WindowStart is monotonically non-decreasing for a given key.
type WindowState struct {
	Count       int
	WindowStart time.Time
}

// Limit configures one scope.
type Limit struct {
	Scope  Scope
	Limit  int
	Window time.Duration
	// PathPrefixes restricts this scope to an endpoint class. Empty means
	// the scope applies to every request.
	PathPrefixes []string
}

// Decision is the outcome of a rate limit check (value type).
type Decision struct {
	Allowed    bool
	Scope      Scope
	Limit      int
	Remaining  int
	RetryAfter int       // whole seconds until the window resets (rejections)
	ResetAt    time.Time // when the current window ends
}

// Check performs a fixed-window check against one scope.
// This is a PURE function - the caller persists newState atomically with the
// read that produced state (per-key lock, shard lock, or row transaction).
//
// Rules:
//   - no state, or now >= start+window: the window expired; reset to
//     {count: 0, start: now} before checking (sliding from first request,
//     not clock-aligned).
//   - count >= limit: reject, do NOT increment.
//   - otherwise increment and allow.
func Check(state WindowState, limit Limit, now time.Time) (Decision, WindowState) {
	if state.WindowStart.IsZero() || !now.Before(state.WindowStart.Add(limit.Window)) {
		state = WindowState{Count: 0, WindowStart: now}
	}

	resetAt := state.WindowStart.Add(limit.Window)

	if state.Count >= limit.Limit {
		return Decision{
			Allowed:    false,
			Scope:      limit.Scope,
			Limit:      limit.Limit,
			Remaining:  0,
			RetryAfter: secondsUntil(now, resetAt),
			ResetAt:    resetAt,
		}, state
	}

	state.Count++
	return Decision{
		Allowed:   true,
		Scope:     limit.Scope,
		Limit:     limit.Limit,
		Remaining: limit.Limit - state.Count,
		ResetAt:   resetAt,
	}, state
}

// Freshest returns whichever window is current when two copies of the same
// key disagree (e.g. in-process cache vs durable store). The most recent
// WindowStart wins; the stale copy is treated as expired.
// This is a PURE function.
func Freshest(a, b WindowState) WindowState {
	if b.WindowStart.After(a.WindowStart) {
		return b
	}
	return a
}

// AppliesTo reports whether this limit covers the given endpoint path.
// This is a PURE function.
func (l Limit) AppliesTo(path string) bool {
	if len(l.PathPrefixes) == 0 {
		return true
	}
	for _, p := range l.PathPrefixes {
		if len(path) >= len(p) && path[:len(p)] == p {
			return true
		}
	}
	return false
}

// secondsUntil returns the whole seconds from now until t, rounded up,
// never negative.
func secondsUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/apimeter/apimeter/domain/ratelimit"
	"github.com/apimeter/apimeter/ports"
)

// rateLimitShard is a single shard of the rate limit store.
type rateLimitShard struct {
	mu    sync.Mutex
	state map[string]ratelimit.WindowState
}

// RateLimitStore is a sharded in-memory rate limit store. Sharding reduces
// lock contention under high throughput; the check-and-increment for one key
// runs entirely under its shard lock, so the compare-then-increment step is
// a single atomic unit.
type RateLimitStore struct {
	shards    []*rateLimitShard
	numShards int
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// RateLimitConfig configures the in-memory rate limit store.
type RateLimitConfig struct {
	NumShards       int           // default: 32
	CleanupInterval time.Duration // how often expired windows are dropped (default: 5m)
}

// NewRateLimitStore creates a sharded in-memory rate limit store.
func NewRateLimitStore(cfg RateLimitConfig) *RateLimitStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	s := &RateLimitStore{
		shards:    make([]*rateLimitShard, cfg.NumShards),
		numShards: cfg.NumShards,
		done:      make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &rateLimitShard{state: make(map[string]ratelimit.WindowState)}
	}

	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

// WindowKey builds the storage key for one (identity, scope) pair.
func WindowKey(identityID string, scope ratelimit.Scope) string {
	return identityID + ":" + string(scope)
}

func (s *RateLimitStore) getShard(key string) *rateLimitShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// CheckAndIncrement atomically checks the window for one (identity, scope)
// key and increments on admission.
func (s *RateLimitStore) CheckAndIncrement(ctx context.Context, identityID string, limit ratelimit.Limit, now time.Time) (ratelimit.Decision, error) {
	key := WindowKey(identityID, limit.Scope)
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	decision, newState := ratelimit.Check(shard.state[key], limit, now)
	shard.state[key] = newState
	return decision, nil
}

// Peek returns the current window state for a key without modifying it
// (for the layered cache and tests).
func (s *RateLimitStore) Peek(identityID string, scope ratelimit.Scope) ratelimit.WindowState {
	key := WindowKey(identityID, scope)
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return shard.state[key]
}

// Put overwrites the window state for a key, keeping whichever window is
// freshest so a stale write can never roll a counter back.
func (s *RateLimitStore) Put(identityID string, scope ratelimit.Scope, state ratelimit.WindowState) {
	key := WindowKey(identityID, scope)
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	cur := shard.state[key]
	next := ratelimit.Freshest(cur, state)
	if next.WindowStart.Equal(cur.WindowStart) && cur.Count > next.Count {
		// Same window: the higher count wins, never under-count.
		next.Count = cur.Count
	}
	shard.state[key] = next
}

// Cleanup drops windows that ended before the cutoff. The window length is
// not stored per entry in memory, so entries are dropped once their
// WindowStart is older than the cutoff; live windows always have a fresher
// start than any retention cutoff.
func (s *RateLimitStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, state := range shard.state {
			if state.WindowStart.Before(cutoff) {
				delete(shard.state, key)
				deleted++
			}
		}
		shard.mu.Unlock()
	}
	return deleted, nil
}

func (s *RateLimitStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			// Windows idle for over a day are long expired for every
			// configured scope.
			s.Cleanup(context.Background(), time.Now().Add(-24*time.Hour))
		case <-s.done:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (s *RateLimitStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cleanup.Stop()
	})
	return nil
}

// Len returns the total number of tracked windows (for testing).
func (s *RateLimitStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.state)
		shard.mu.Unlock()
	}
	return total
}

// Ensure interface compliance.
var _ ports.RateLimitStore = (*RateLimitStore)(nil)

package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/apimeter/apimeter/adapters/memory"
	"github.com/apimeter/apimeter/domain/ratelimit"
)

var (
	baseTime    = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	minuteLimit = ratelimit.Limit{
		Scope:  ratelimit.ScopeMinute,
		Limit:  10,
		Window: time.Minute,
	}
)

func TestCheckAndIncrement_EnforcesLimit(t *testing.T) {
	store := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := store.CheckAndIncrement(ctx, "key_1", minuteLimit, baseTime)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	d, err := store.CheckAndIncrement(ctx, "key_1", minuteLimit, baseTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("11th request should be rejected")
	}
	if d.RetryAfter != 60 {
		t.Errorf("retry after = %d, want 60", d.RetryAfter)
	}
}

func TestCheckAndIncrement_KeysAreIndependent(t *testing.T) {
	store := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer store.Close()
	ctx := context.Background()

	tight := ratelimit.Limit{Scope: ratelimit.ScopeMinute, Limit: 1, Window: time.Minute}

	if d, _ := store.CheckAndIncrement(ctx, "key_a", tight, baseTime); !d.Allowed {
		t.Fatal("first request for key_a should pass")
	}
	if d, _ := store.CheckAndIncrement(ctx, "key_a", tight, baseTime); d.Allowed {
		t.Error("second request for key_a should be rejected")
	}
	if d, _ := store.CheckAndIncrement(ctx, "key_b", tight, baseTime); !d.Allowed {
		t.Error("key_b must not share key_a's window")
	}
}

func TestCheckAndIncrement_ScopesAreIndependent(t *testing.T) {
	store := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer store.Close()
	ctx := context.Background()

	minute := ratelimit.Limit{Scope: ratelimit.ScopeMinute, Limit: 1, Window: time.Minute}
	hour := ratelimit.Limit{Scope: ratelimit.ScopeHour, Limit: 100, Window: time.Hour}

	store.CheckAndIncrement(ctx, "key_1", minute, baseTime)
	if d, _ := store.CheckAndIncrement(ctx, "key_1", minute, baseTime); d.Allowed {
		t.Error("minute scope should be exhausted")
	}
	if d, _ := store.CheckAndIncrement(ctx, "key_1", hour, baseTime); !d.Allowed {
		t.Error("hour scope should still admit")
	}
}

func TestCheckAndIncrement_NeverOverAdmitsConcurrently(t *testing.T) {
	store := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer store.Close()
	ctx := context.Background()

	const limit = 50
	cfg := ratelimit.Limit{Scope: ratelimit.ScopeMinute, Limit: limit, Window: time.Minute}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 2*limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.CheckAndIncrement(ctx, "key_1", cfg, baseTime)
			if err != nil {
				t.Error(err)
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("admitted %d requests, want exactly %d", allowed, limit)
	}
}

func TestPut_StaleWriteNeverRollsBack(t *testing.T) {
	store := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer store.Close()

	current := ratelimit.WindowState{Count: 8, WindowStart: baseTime}
	store.Put("key_1", ratelimit.ScopeMinute, current)

	// Stale window from before the current one.
	store.Put("key_1", ratelimit.ScopeMinute, ratelimit.WindowState{
		Count:       2,
		WindowStart: baseTime.Add(-time.Minute),
	})
	if got := store.Peek("key_1", ratelimit.ScopeMinute); got.Count != 8 {
		t.Errorf("count = %d, want 8 (stale window must lose)", got.Count)
	}

	// Same window, lower count.
	store.Put("key_1", ratelimit.ScopeMinute, ratelimit.WindowState{
		Count:       3,
		WindowStart: baseTime,
	})
	if got := store.Peek("key_1", ratelimit.ScopeMinute); got.Count != 8 {
		t.Errorf("count = %d, want 8 (lower count must lose)", got.Count)
	}

	// Fresher window replaces the old one entirely.
	store.Put("key_1", ratelimit.ScopeMinute, ratelimit.WindowState{
		Count:       1,
		WindowStart: baseTime.Add(time.Minute),
	})
	if got := store.Peek("key_1", ratelimit.ScopeMinute); got.Count != 1 {
		t.Errorf("count = %d, want 1 (fresher window wins)", got.Count)
	}
}

func TestCleanup_DropsExpiredWindows(t *testing.T) {
	store := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer store.Close()
	ctx := context.Background()

	store.CheckAndIncrement(ctx, "old", minuteLimit, baseTime.Add(-2*time.Hour))
	store.CheckAndIncrement(ctx, "live", minuteLimit, baseTime)

	deleted, err := store.Cleanup(ctx, baseTime.Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if store.Len() != 1 {
		t.Errorf("remaining windows = %d, want 1", store.Len())
	}
	if got := store.Peek("live", ratelimit.ScopeMinute); got.Count != 1 {
		t.Error("live window must survive cleanup")
	}
}

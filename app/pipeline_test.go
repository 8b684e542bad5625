package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/apimeter/apimeter/adapters/clock"
	"github.com/apimeter/apimeter/adapters/idgen"
	"github.com/apimeter/apimeter/adapters/memory"
	"github.com/apimeter/apimeter/app"
	"github.com/apimeter/apimeter/domain/identity"
	"github.com/apimeter/apimeter/domain/ratelimit"
	"github.com/apimeter/apimeter/domain/usage"
	"github.com/apimeter/apimeter/ports"
	"github.com/rs/zerolog"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

// syncWriter records synchronously for assertions.
type syncWriter struct {
	mu      sync.Mutex
	records []usage.Record
}

func (w *syncWriter) Record(r usage.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, r)
}

func (w *syncWriter) Flush(ctx context.Context) error { return nil }
func (w *syncWriter) Close() error                    { return nil }

func (w *syncWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

func (w *syncWriter) Last() usage.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records[len(w.records)-1]
}

// failingRateLimitStore always errors.
type failingRateLimitStore struct{}

func (failingRateLimitStore) CheckAndIncrement(ctx context.Context, identityID string, limit ratelimit.Limit, now time.Time) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("store down")
}

func (failingRateLimitStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, errors.New("store down")
}

// failingCredentialStore always errors on Resolve; the other methods are
// never reached in these tests.
type failingCredentialStore struct {
	*memory.CredentialStore
}

func (failingCredentialStore) Resolve(ctx context.Context, rawKey string) (identity.Identity, error) {
	return identity.Identity{}, errors.New("db gone")
}

type pipelineFixture struct {
	pipeline *app.Pipeline
	writer   *syncWriter
	clock    *clock.Fake
	creds    *memory.CredentialStore
	rawKey   string
	identity identity.Identity
}

func newFixture(t *testing.T, limits []ratelimit.Limit) *pipelineFixture {
	t.Helper()

	creds := memory.NewCredentialStore()
	rawKey, id := identity.Generate("am_", "acct_1", "test", baseTime)
	if err := creds.Create(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	rateLimit := memory.NewRateLimitStore(memory.RateLimitConfig{})
	t.Cleanup(func() { rateLimit.Close() })

	writer := &syncWriter{}
	fakeClock := clock.NewFake(baseTime)

	p := app.NewPipeline(app.PipelineDeps{
		Credentials: creds,
		RateLimit:   rateLimit,
		Writer:      writer,
		Clock:       fakeClock,
		IDGen:       idgen.NewSequential("rec_"),
		Logger:      zerolog.Nop(),
	}, app.PipelineConfig{
		KeyPrefix: "am_",
		Limits:    limits,
	})

	return &pipelineFixture{
		pipeline: p,
		writer:   writer,
		clock:    fakeClock,
		creds:    creds,
		rawKey:   rawKey,
		identity: id,
	}
}

func defaultLimits() []ratelimit.Limit {
	return []ratelimit.Limit{
		{Scope: ratelimit.ScopeMinute, Limit: 3, Window: time.Minute},
		{Scope: ratelimit.ScopeHour, Limit: 100, Window: time.Hour},
	}
}

func TestAuthorize_MissingKey(t *testing.T) {
	f := newFixture(t, defaultLimits())

	_, rej := f.pipeline.Authorize(context.Background(), app.Request{Method: "GET", Path: "/api/vulns"})
	if rej == nil {
		t.Fatal("expected rejection")
	}
	if rej.Status != 401 {
		t.Errorf("status = %d, want 401", rej.Status)
	}
	if rej.Detail != "Missing API key" {
		t.Errorf("detail = %q, want %q", rej.Detail, "Missing API key")
	}
}

func TestAuthorize_MalformedKey(t *testing.T) {
	f := newFixture(t, defaultLimits())

	_, rej := f.pipeline.Authorize(context.Background(), app.Request{APIKey: "not-a-key", Path: "/"})
	if rej == nil {
		t.Fatal("expected rejection")
	}
	if rej.Status != 401 || rej.Detail != "Invalid API key" {
		t.Errorf("got %d %q, want 401 %q", rej.Status, rej.Detail, "Invalid API key")
	}
}

func TestAuthorize_UnknownKey(t *testing.T) {
	f := newFixture(t, defaultLimits())

	// Well-formed key that matches no credential.
	unknown, _ := identity.Generate("am_", "acct_2", "", baseTime)
	_, rej := f.pipeline.Authorize(context.Background(), app.Request{APIKey: unknown, Path: "/"})
	if rej == nil {
		t.Fatal("expected rejection")
	}
	if rej.Status != 401 || rej.Detail != "Invalid API key" {
		t.Errorf("got %d %q, want 401 %q", rej.Status, rej.Detail, "Invalid API key")
	}
}

func TestAuthorize_InactiveKey(t *testing.T) {
	f := newFixture(t, defaultLimits())
	if err := f.creds.Deactivate(context.Background(), f.identity.ID, baseTime); err != nil {
		t.Fatal(err)
	}

	_, rej := f.pipeline.Authorize(context.Background(), app.Request{APIKey: f.rawKey, Path: "/"})
	if rej == nil {
		t.Fatal("expected rejection")
	}
	if rej.Status != 403 {
		t.Errorf("status = %d, want 403", rej.Status)
	}
	if rej.Detail != "API key is inactive" {
		t.Errorf("detail = %q, want %q", rej.Detail, "API key is inactive")
	}
}

func TestAuthorize_AdmitsAndReportsScopes(t *testing.T) {
	f := newFixture(t, defaultLimits())

	grant, rej := f.pipeline.Authorize(context.Background(), app.Request{APIKey: f.rawKey, Path: "/api/vulns"})
	if rej != nil {
		t.Fatalf("unexpected rejection: %d %s", rej.Status, rej.Detail)
	}
	if grant.Identity.ID != f.identity.ID {
		t.Errorf("identity = %s, want %s", grant.Identity.ID, f.identity.ID)
	}
	if len(grant.Decisions) != 2 {
		t.Fatalf("decisions = %d, want 2", len(grant.Decisions))
	}
	if grant.Decisions[0].Remaining != 2 {
		t.Errorf("minute remaining = %d, want 2", grant.Decisions[0].Remaining)
	}
	if grant.Decisions[1].Remaining != 99 {
		t.Errorf("hour remaining = %d, want 99", grant.Decisions[1].Remaining)
	}
}

func TestAuthorize_RateLimitExceeded(t *testing.T) {
	f := newFixture(t, defaultLimits())
	ctx := context.Background()
	req := app.Request{APIKey: f.rawKey, Path: "/api/vulns"}

	for i := 0; i < 3; i++ {
		if _, rej := f.pipeline.Authorize(ctx, req); rej != nil {
			t.Fatalf("request %d rejected early", i+1)
		}
	}

	_, rej := f.pipeline.Authorize(ctx, req)
	if rej == nil {
		t.Fatal("expected 429 rejection")
	}
	if rej.Status != 429 {
		t.Errorf("status = %d, want 429", rej.Status)
	}
	want := "Rate limit exceeded for minute. Try again in 60 seconds"
	if rej.Detail != want {
		t.Errorf("detail = %q, want %q", rej.Detail, want)
	}
	if rej.Scope != ratelimit.ScopeMinute {
		t.Errorf("scope = %s, want minute", rej.Scope)
	}
	if rej.RetryAfter != 60 {
		t.Errorf("retry after = %d, want 60", rej.RetryAfter)
	}
}

func TestAuthorize_WindowResets(t *testing.T) {
	f := newFixture(t, defaultLimits())
	ctx := context.Background()
	req := app.Request{APIKey: f.rawKey, Path: "/api/vulns"}

	for i := 0; i < 3; i++ {
		f.pipeline.Authorize(ctx, req)
	}
	if _, rej := f.pipeline.Authorize(ctx, req); rej == nil {
		t.Fatal("expected rejection before reset")
	}

	f.clock.Advance(time.Minute)
	if _, rej := f.pipeline.Authorize(ctx, req); rej != nil {
		t.Errorf("expected admission after window reset, got %d %s", rej.Status, rej.Detail)
	}
}

func TestAuthorize_EndpointClassScope(t *testing.T) {
	limits := []ratelimit.Limit{
		{Scope: ratelimit.ScopeAuth, Limit: 1, Window: time.Hour, PathPrefixes: []string{"/api/auth"}},
	}
	f := newFixture(t, limits)
	ctx := context.Background()

	if _, rej := f.pipeline.Authorize(ctx, app.Request{APIKey: f.rawKey, Path: "/api/auth/login"}); rej != nil {
		t.Fatal("first auth request should pass")
	}
	if _, rej := f.pipeline.Authorize(ctx, app.Request{APIKey: f.rawKey, Path: "/api/auth/login"}); rej == nil {
		t.Error("second auth request should hit the auth scope")
	}
	// Other paths are outside the auth endpoint class.
	if _, rej := f.pipeline.Authorize(ctx, app.Request{APIKey: f.rawKey, Path: "/api/vulns"}); rej != nil {
		t.Error("non-auth path must not be limited by the auth scope")
	}
}

func TestAuthorize_FailsOpenOnRateLimitStoreError(t *testing.T) {
	creds := memory.NewCredentialStore()
	rawKey, id := identity.Generate("am_", "acct_1", "", baseTime)
	creds.Create(context.Background(), id)

	p := app.NewPipeline(app.PipelineDeps{
		Credentials: creds,
		RateLimit:   failingRateLimitStore{},
		Writer:      &syncWriter{},
		Clock:       clock.NewFake(baseTime),
		IDGen:       idgen.NewSequential("rec_"),
		Logger:      zerolog.Nop(),
	}, app.PipelineConfig{KeyPrefix: "am_", Limits: defaultLimits()})

	grant, rej := p.Authorize(context.Background(), app.Request{APIKey: rawKey, Path: "/"})
	if rej != nil {
		t.Fatalf("expected fail-open admission, got %d %s", rej.Status, rej.Detail)
	}
	for _, d := range grant.Decisions {
		if !d.Allowed {
			t.Errorf("scope %s should be allowed under fail-open", d.Scope)
		}
	}
}

func TestAuthorize_CredentialStoreOutage(t *testing.T) {
	rawKey, _ := identity.Generate("am_", "acct_1", "", baseTime)

	rateLimit := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer rateLimit.Close()

	p := app.NewPipeline(app.PipelineDeps{
		Credentials: failingCredentialStore{},
		RateLimit:   rateLimit,
		Writer:      &syncWriter{},
		Clock:       clock.NewFake(baseTime),
		IDGen:       idgen.NewSequential("rec_"),
		Logger:      zerolog.Nop(),
	}, app.PipelineConfig{KeyPrefix: "am_", Limits: defaultLimits()})

	_, rej := p.Authorize(context.Background(), app.Request{APIKey: rawKey, Path: "/"})
	if rej == nil {
		t.Fatal("expected rejection during credential outage")
	}
	if rej.Status != 401 || rej.Detail != "Invalid API key" {
		t.Errorf("got %d %q, want 401 %q", rej.Status, rej.Detail, "Invalid API key")
	}
}

func TestComplete_WritesExactlyOneRecord(t *testing.T) {
	f := newFixture(t, defaultLimits())
	req := app.Request{APIKey: f.rawKey, Method: "GET", Path: "/api/vulns"}

	grant, rej := f.pipeline.Authorize(context.Background(), req)
	if rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}

	f.pipeline.Complete(grant, req, 200, 150*time.Millisecond)

	if f.writer.Len() != 1 {
		t.Fatalf("records = %d, want 1", f.writer.Len())
	}
	r := f.writer.Last()
	if r.IdentityID != f.identity.ID {
		t.Errorf("identity = %s, want %s", r.IdentityID, f.identity.ID)
	}
	if r.Endpoint != "/api/vulns" || r.Method != "GET" {
		t.Errorf("endpoint/method = %s %s", r.Method, r.Endpoint)
	}
	if r.StatusCode != 200 {
		t.Errorf("status = %d, want 200", r.StatusCode)
	}
	if r.ResponseTimeMs != 150 {
		t.Errorf("latency = %dms, want 150", r.ResponseTimeMs)
	}
	if !r.Timestamp.Equal(baseTime) {
		t.Errorf("timestamp = %v, want %v", r.Timestamp, baseTime)
	}
}

func TestComplete_RecordsErrorStatus(t *testing.T) {
	f := newFixture(t, defaultLimits())
	req := app.Request{APIKey: f.rawKey, Method: "GET", Path: "/api/vulns"}

	grant, _ := f.pipeline.Authorize(context.Background(), req)
	f.pipeline.Complete(grant, req, 500, 10*time.Millisecond)

	if f.writer.Len() != 1 {
		t.Fatalf("records = %d, want 1", f.writer.Len())
	}
	if !f.writer.Last().IsError() {
		t.Error("500 response should count as an error record")
	}
}

func TestRejectedRequestWritesNoRecord(t *testing.T) {
	f := newFixture(t, defaultLimits())

	f.pipeline.Authorize(context.Background(), app.Request{Path: "/"})
	f.pipeline.Authorize(context.Background(), app.Request{APIKey: "bogus", Path: "/"})

	if f.writer.Len() != 0 {
		t.Errorf("records = %d, want 0 for rejected requests", f.writer.Len())
	}
}

func TestUpdateLimits_SwapsConfiguration(t *testing.T) {
	f := newFixture(t, defaultLimits())
	ctx := context.Background()
	req := app.Request{APIKey: f.rawKey, Path: "/api/vulns"}

	f.pipeline.UpdateLimits([]ratelimit.Limit{
		{Scope: ratelimit.ScopeMinute, Limit: 1, Window: time.Minute},
	})

	if _, rej := f.pipeline.Authorize(ctx, req); rej != nil {
		t.Fatal("first request should pass under the new limit")
	}
	if _, rej := f.pipeline.Authorize(ctx, req); rej == nil {
		t.Error("second request should hit the tightened limit")
	}
}

// Ensure interface compliance of the test writer.
var _ ports.LedgerWriter = (*syncWriter)(nil)

package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/apimeter/apimeter/adapters/clock"
	apihttp "github.com/apimeter/apimeter/adapters/http"
	"github.com/apimeter/apimeter/adapters/idgen"
	"github.com/apimeter/apimeter/adapters/memory"
	"github.com/apimeter/apimeter/app"
	"github.com/apimeter/apimeter/domain/identity"
	"github.com/apimeter/apimeter/domain/ratelimit"
	"github.com/apimeter/apimeter/domain/usage"
	"github.com/rs/zerolog"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

// recordingWriter captures records synchronously for assertions.
type recordingWriter struct {
	mu      sync.Mutex
	records []usage.Record
}

func (w *recordingWriter) Record(r usage.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, r)
}

func (w *recordingWriter) Flush(ctx context.Context) error { return nil }

func (w *recordingWriter) Close() error { return nil }

func (w *recordingWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

func (w *recordingWriter) Last() usage.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records[len(w.records)-1]
}

type middlewareFixture struct {
	mw     *apihttp.Middleware
	writer *recordingWriter
	rawKey string
}

func newMiddlewareFixture(t *testing.T, limit int) *middlewareFixture {
	t.Helper()

	creds := memory.NewCredentialStore()
	rawKey, id := identity.Generate("am_", "owner_1", "test key", baseTime)
	if err := creds.Create(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	windows := memory.NewRateLimitStore(memory.RateLimitConfig{})
	t.Cleanup(func() { windows.Close() })
	writer := &recordingWriter{}
	fakeClock := clock.NewFake(baseTime)

	pipeline := app.NewPipeline(app.PipelineDeps{
		Credentials: creds,
		RateLimit:   windows,
		Writer:      writer,
		Clock:       fakeClock,
		IDGen:       idgen.NewSequential("rec_"),
		Logger:      zerolog.Nop(),
	}, app.PipelineConfig{
		KeyPrefix: "am_",
		Limits: []ratelimit.Limit{
			{Scope: ratelimit.ScopeMinute, Limit: limit, Window: time.Minute},
		},
	})

	return &middlewareFixture{
		mw:     apihttp.NewMiddleware(pipeline, fakeClock, zerolog.Nop(), ""),
		writer: writer,
		rawKey: rawKey,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
}

func get(t *testing.T, h http.Handler, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/vulns", nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWrap_MissingKey(t *testing.T) {
	f := newMiddlewareFixture(t, 10)
	h := f.mw.Wrap(okHandler())

	rec := get(t, h, "")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
	if body := rec.Body.String(); body != "{\"detail\":\"Missing API key\"}\n" {
		t.Errorf("body = %q", body)
	}
	if f.writer.Len() != 0 {
		t.Error("rejected request must not write a usage record")
	}
}

func TestWrap_InvalidKey(t *testing.T) {
	f := newMiddlewareFixture(t, 10)
	h := f.mw.Wrap(okHandler())

	rec := get(t, h, "am_0000000000000000000000000000000000000000000000000000000000000000")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if body := rec.Body.String(); body != "{\"detail\":\"Invalid API key\"}\n" {
		t.Errorf("body = %q", body)
	}
}

func TestWrap_AdmittedRequest(t *testing.T) {
	f := newMiddlewareFixture(t, 100)
	h := f.mw.Wrap(okHandler())

	rec := get(t, h, f.rawKey)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Minute-Limit"); got != "100" {
		t.Errorf("limit header = %q, want 100", got)
	}
	if got := rec.Header().Get("X-RateLimit-Minute-Remaining"); got != "99" {
		t.Errorf("remaining header = %q, want 99", got)
	}
	if got := rec.Header().Get("X-RateLimit-Minute-Reset"); got != "60" {
		t.Errorf("reset header = %q, want 60", got)
	}
	if f.writer.Len() != 1 {
		t.Fatalf("records = %d, want 1", f.writer.Len())
	}
	r := f.writer.Last()
	if r.StatusCode != 200 || r.Endpoint != "/api/vulns" || r.Method != "GET" {
		t.Errorf("record = %+v", r)
	}
}

func TestWrap_RateLimited(t *testing.T) {
	f := newMiddlewareFixture(t, 2)
	h := f.mw.Wrap(okHandler())

	get(t, h, f.rawKey)
	get(t, h, f.rawKey)
	rec := get(t, h, f.rawKey)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	if got := rec.Header().Get("X-RateLimit-Minute-Remaining"); got != "0" {
		t.Errorf("remaining header = %q, want 0", got)
	}
	want := "{\"detail\":\"Rate limit exceeded for minute. Try again in 60 seconds\"}\n"
	if body := rec.Body.String(); body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
	if f.writer.Len() != 2 {
		t.Errorf("records = %d, want 2 (the rejected request is not recorded)", f.writer.Len())
	}
}

func TestWrap_RecordsHandlerStatus(t *testing.T) {
	f := newMiddlewareFixture(t, 10)
	h := f.mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	rec := get(t, h, f.rawKey)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := f.writer.Last().StatusCode; got != 404 {
		t.Errorf("recorded status = %d, want 404", got)
	}
}

func TestWrap_PanicIsRecordedAndRethrown(t *testing.T) {
	f := newMiddlewareFixture(t, 10)
	h := f.mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic must propagate to the outer recoverer")
			}
		}()
		get(t, h, f.rawKey)
	}()

	if f.writer.Len() != 1 {
		t.Fatalf("records = %d, want 1", f.writer.Len())
	}
	if got := f.writer.Last().StatusCode; got != 500 {
		t.Errorf("recorded status = %d, want 500", got)
	}
}

func TestWrap_CustomKeyHeader(t *testing.T) {
	creds := memory.NewCredentialStore()
	rawKey, id := identity.Generate("am_", "owner_1", "custom", baseTime)
	creds.Create(context.Background(), id)
	windows := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer windows.Close()
	fakeClock := clock.NewFake(baseTime)
	pipeline := app.NewPipeline(app.PipelineDeps{
		Credentials: creds,
		RateLimit:   windows,
		Writer:      &recordingWriter{},
		Clock:       fakeClock,
		IDGen:       idgen.NewSequential("rec_"),
		Logger:      zerolog.Nop(),
	}, app.PipelineConfig{KeyPrefix: "am_"})
	mw := apihttp.NewMiddleware(pipeline, fakeClock, zerolog.Nop(), "Authorization-Key")

	req := httptest.NewRequest(http.MethodGet, "/api/vulns", nil)
	req.Header.Set("Authorization-Key", rawKey)
	rec := httptest.NewRecorder()
	mw.Wrap(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 via custom header", rec.Code)
	}
}

// Package http adapts the usage accounting pipeline to net/http.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/apimeter/apimeter/app"
	"github.com/apimeter/apimeter/domain/ratelimit"
	"github.com/apimeter/apimeter/ports"
	"github.com/rs/zerolog"
)

// DefaultKeyHeader is the header the middleware reads the API key from.
const DefaultKeyHeader = "X-API-Key"

// detailBody is the error body shape for 401/403/429 rejections.
type detailBody struct {
	Detail string `json:"detail"`
}

// Middleware wraps an arbitrary handler with authentication, rate limiting,
// and usage accounting. Rejections (401/403/429) never reach the wrapped
// handler and write no usage record; everything admitted is recorded exactly
// once, panics included.
type Middleware struct {
	pipeline  *app.Pipeline
	clock     ports.Clock
	logger    zerolog.Logger
	keyHeader string
}

// NewMiddleware creates the accounting middleware. keyHeader "" means
// DefaultKeyHeader.
func NewMiddleware(pipeline *app.Pipeline, clock ports.Clock, logger zerolog.Logger, keyHeader string) *Middleware {
	if keyHeader == "" {
		keyHeader = DefaultKeyHeader
	}
	return &Middleware{
		pipeline:  pipeline,
		clock:     clock,
		logger:    logger,
		keyHeader: keyHeader,
	}
}

// Wrap returns next guarded by the pipeline.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := app.Request{
			APIKey: r.Header.Get(m.keyHeader),
			Method: r.Method,
			Path:   r.URL.Path,
		}

		grant, rejection := m.pipeline.Authorize(r.Context(), req)
		if rejection != nil {
			m.writeRejection(w, rejection)
			return
		}

		m.setRateLimitHeaders(w, grant.Decisions)

		start := time.Now()
		ww := newStatusRecorder(w)

		// Complete runs exactly once, whether the handler returns or panics.
		// A panic is recorded as a 500 and re-raised for the outer recoverer.
		defer func() {
			status := ww.status
			if rec := recover(); rec != nil {
				status = http.StatusInternalServerError
				m.pipeline.Complete(grant, req, status, time.Since(start))
				panic(rec)
			}
			m.pipeline.Complete(grant, req, status, time.Since(start))
		}()

		next.ServeHTTP(ww, r)
	})
}

func (m *Middleware) writeRejection(w http.ResponseWriter, rej *app.Rejection) {
	m.setRateLimitHeaders(w, rej.Decisions)
	if rej.Status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(rej.RetryAfter))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rej.Status)
	if err := json.NewEncoder(w).Encode(detailBody{Detail: rej.Detail}); err != nil {
		m.logger.Error().Err(err).Msg("failed to write rejection body")
	}
}

// setRateLimitHeaders writes X-RateLimit-<Scope>-Limit/-Remaining/-Reset for
// every scope that was checked. Reset is whole seconds until the window ends.
func (m *Middleware) setRateLimitHeaders(w http.ResponseWriter, decisions []ratelimit.Decision) {
	now := m.clock.Now()
	for _, d := range decisions {
		name := capitalize(string(d.Scope))
		resetIn := int(d.ResetAt.Sub(now).Seconds())
		if resetIn < 0 {
			resetIn = 0
		}
		w.Header().Set(fmt.Sprintf("X-RateLimit-%s-Limit", name), strconv.Itoa(d.Limit))
		w.Header().Set(fmt.Sprintf("X-RateLimit-%s-Remaining", name), strconv.Itoa(d.Remaining))
		w.Header().Set(fmt.Sprintf("X-RateLimit-%s-Reset", name), strconv.Itoa(resetIn))
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusRecorder) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/apimeter/apimeter/adapters/metrics"
	"github.com/apimeter/apimeter/domain/identity"
	"github.com/apimeter/apimeter/domain/ratelimit"
	"github.com/apimeter/apimeter/domain/usage"
	"github.com/apimeter/apimeter/ports"
	"github.com/rs/zerolog"
)

// Pipeline is the per-request usage accounting orchestrator. Each request
// moves through: authenticate -> rate check -> execute (opaque to this
// package) -> log -> evaluate -> respond. Only credential and rate-limit
// outcomes may short-circuit; every other internal failure degrades to its
// component policy and stays invisible to the caller.
type Pipeline struct {
	credentials ports.CredentialStore
	rateLimit   ports.RateLimitStore
	writer      ports.LedgerWriter
	evaluator   *AlertEvaluator
	clock       ports.Clock
	idGen       ports.IDGenerator
	logger      zerolog.Logger
	metrics     *metrics.Collector

	keyPrefix string
	opTimeout time.Duration

	// Hot-reloadable configuration.
	dynamicCfg atomic.Pointer[DynamicConfig]
}

// DynamicConfig contains hot-reloadable pipeline configuration.
type DynamicConfig struct {
	Limits []ratelimit.Limit
}

// PipelineDeps contains dependencies for the pipeline.
type PipelineDeps struct {
	Credentials ports.CredentialStore
	RateLimit   ports.RateLimitStore
	Writer      ports.LedgerWriter
	Evaluator   *AlertEvaluator
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Logger      zerolog.Logger
	Metrics     *metrics.Collector
}

// PipelineConfig contains static pipeline configuration.
type PipelineConfig struct {
	KeyPrefix string
	Limits    []ratelimit.Limit
	// OpTimeout bounds each storage call (credential lookup, rate check).
	// Zero means the 2s default.
	OpTimeout time.Duration
}

// NewPipeline creates a new usage accounting pipeline.
func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 2 * time.Second
	}

	p := &Pipeline{
		credentials: deps.Credentials,
		rateLimit:   deps.RateLimit,
		writer:      deps.Writer,
		evaluator:   deps.Evaluator,
		clock:       deps.Clock,
		idGen:       deps.IDGen,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		keyPrefix:   cfg.KeyPrefix,
		opTimeout:   cfg.OpTimeout,
	}
	p.UpdateLimits(cfg.Limits)
	return p
}

// UpdateLimits swaps the rate limit configuration.
// Thread-safe and callable while handling requests.
func (p *Pipeline) UpdateLimits(limits []ratelimit.Limit) {
	p.dynamicCfg.Store(&DynamicConfig{Limits: limits})
}

// Request is the transport-agnostic view of one inbound request.
type Request struct {
	APIKey string
	Method string
	Path   string
}

// Rejection is a short-circuit outcome (401/403/429) that shapes the
// HTTP response.
type Rejection struct {
	Status     int
	Detail     string
	Scope      ratelimit.Scope // set on 429
	RetryAfter int             // set on 429
	// Decisions carries the per-scope decisions computed before the
	// short-circuit, for response headers.
	Decisions []ratelimit.Decision
}

// Grant is a request admitted past authentication and rate limiting.
type Grant struct {
	Identity  identity.Identity
	Decisions []ratelimit.Decision
}

// Authorize runs the front half of the pipeline: credential resolution and
// every applicable rate limit scope. A nil Rejection means the request may
// execute.
func (p *Pipeline) Authorize(ctx context.Context, req Request) (Grant, *Rejection) {
	now := p.clock.Now()

	// 1. Presence and format (PURE)
	if req.APIKey == "" {
		p.countAuthFailure("missing")
		return Grant{}, &Rejection{Status: 401, Detail: "Missing API key"}
	}
	if _, valid := identity.ValidateFormat(req.APIKey, p.keyPrefix); !valid {
		p.countAuthFailure("invalid")
		return Grant{}, &Rejection{Status: 401, Detail: "Invalid API key"}
	}

	// 2. Resolve credential (I/O, bounded)
	resolveCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
	cred, err := p.credentials.Resolve(resolveCtx, req.APIKey)
	cancel()
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidKey) {
			// Credential storage failure. There is no neutral outcome for
			// authentication, so the caller sees a plain invalid-key 401
			// rather than an error attributable to this subsystem.
			p.logger.Error().Err(err).Msg("credential store unavailable")
			p.countDegraded("credentials")
		}
		p.countAuthFailure("invalid")
		return Grant{}, &Rejection{Status: 401, Detail: "Invalid API key"}
	}
	if !cred.Active {
		p.countAuthFailure("inactive")
		return Grant{}, &Rejection{Status: 403, Detail: "API key is inactive"}
	}

	// 3. Rate limits: every applicable scope must pass (I/O, bounded).
	// Scopes are checked independently; earlier scopes stay incremented
	// when a later scope rejects, matching the fixed-window counter
	// semantics per scope.
	limits := p.dynamicCfg.Load().Limits
	decisions := make([]ratelimit.Decision, 0, len(limits))
	for _, limit := range limits {
		if !limit.AppliesTo(req.Path) {
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
		decision, err := p.rateLimit.CheckAndIncrement(checkCtx, cred.ID, limit, now)
		cancel()
		if err != nil {
			// Fail open: availability over strictness. With the window
			// store unreachable we admit rather than block all traffic.
			p.logger.Warn().Err(err).
				Str("identity_id", cred.ID).
				Str("scope", string(limit.Scope)).
				Msg("rate limit store unreachable, failing open")
			p.countDegraded("ratelimit")
			decision = ratelimit.Decision{
				Allowed:   true,
				Scope:     limit.Scope,
				Limit:     limit.Limit,
				Remaining: limit.Limit,
				ResetAt:   now.Add(limit.Window),
			}
		}
		decisions = append(decisions, decision)

		if !decision.Allowed {
			if p.metrics != nil {
				p.metrics.RateLimitHits.WithLabelValues(string(limit.Scope)).Inc()
			}
			return Grant{}, &Rejection{
				Status: 429,
				Detail: fmt.Sprintf("Rate limit exceeded for %s. Try again in %d seconds",
					limit.Scope, decision.RetryAfter),
				Scope:      limit.Scope,
				RetryAfter: decision.RetryAfter,
				Decisions:  decisions,
			}
		}
	}

	// 4. Track credential use (async I/O)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.opTimeout)
		defer cancel()
		if err := p.credentials.UpdateLastUsed(ctx, cred.ID, now); err != nil {
			p.logger.Debug().Err(err).Str("identity_id", cred.ID).Msg("update last used failed")
		}
	}()

	return Grant{Identity: cred, Decisions: decisions}, nil
}

// Complete runs the back half of the pipeline after the wrapped handler
// finished (or panicked, or the client disconnected): exactly one ledger
// record, then alert evaluation. It deliberately ignores the inbound
// context's cancellation - accounting for a cancelled request still runs to
// completion with the observed outcome.
func (p *Pipeline) Complete(grant Grant, req Request, statusCode int, latency time.Duration) {
	now := p.clock.Now()

	record := usage.Record{
		ID:             p.idGen.New(),
		IdentityID:     grant.Identity.ID,
		Endpoint:       req.Path,
		Method:         req.Method,
		StatusCode:     statusCode,
		ResponseTimeMs: latency.Milliseconds(),
		Timestamp:      now,
	}
	p.writer.Record(record)

	if p.metrics != nil {
		status := fmt.Sprintf("%d", statusCode)
		p.metrics.RequestsTotal.WithLabelValues(req.Method, status).Inc()
		p.metrics.RequestDuration.WithLabelValues(req.Method, status).Observe(latency.Seconds())
	}

	if p.evaluator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), p.opTimeout)
		defer cancel()
		p.evaluator.Evaluate(ctx, grant.Identity.ID, latency.Seconds(), req.Path)
	}
}

func (p *Pipeline) countAuthFailure(reason string) {
	if p.metrics != nil {
		p.metrics.AuthFailures.WithLabelValues(reason).Inc()
	}
}

func (p *Pipeline) countDegraded(component string) {
	if p.metrics != nil {
		p.metrics.DegradedMode.WithLabelValues(component).Inc()
	}
}

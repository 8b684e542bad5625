package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/apimeter/apimeter/adapters/metrics"
	"github.com/apimeter/apimeter/domain/alert"
	"github.com/apimeter/apimeter/ports"
	"github.com/rs/zerolog"
)

// AlertEvaluator runs the four threshold checks over ledger aggregates after
// each request. It never propagates errors back into the request path: a
// failed aggregate read or store write is logged, counted, and treated as
// "no alert" for that check.
type AlertEvaluator struct {
	ledger ports.UsageLedger
	alerts ports.AlertStore
	sinks  []ports.NotificationSink
	clock  ports.Clock
	idGen  ports.IDGenerator
	logger zerolog.Logger
	mx     *metrics.Collector

	thresholds atomic.Pointer[alert.Thresholds]
}

// AlertEvaluatorDeps contains dependencies for the evaluator.
type AlertEvaluatorDeps struct {
	Ledger  ports.UsageLedger
	Alerts  ports.AlertStore
	Sinks   []ports.NotificationSink
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// NewAlertEvaluator creates a new alert evaluator.
func NewAlertEvaluator(deps AlertEvaluatorDeps, th alert.Thresholds) *AlertEvaluator {
	e := &AlertEvaluator{
		ledger: deps.Ledger,
		alerts: deps.Alerts,
		sinks:  deps.Sinks,
		clock:  deps.Clock,
		idGen:  deps.IDGen,
		logger: deps.Logger,
		mx:     deps.Metrics,
	}
	e.UpdateThresholds(th)
	return e
}

// UpdateThresholds swaps the threshold configuration.
// Thread-safe and callable while handling requests.
func (e *AlertEvaluator) UpdateThresholds(th alert.Thresholds) {
	e.thresholds.Store(&th)
}

// Evaluate runs all four checks for one completed request and returns the
// emitted events. observedSeconds is the request's response time.
func (e *AlertEvaluator) Evaluate(ctx context.Context, identityID string, observedSeconds float64, endpoint string) []alert.Event {
	th := *e.thresholds.Load()
	now := e.clock.Now()

	var events []alert.Event

	if ev := alert.CheckResponseTime(observedSeconds, endpoint, th); ev != nil {
		events = append(events, *ev)
	}

	if ev := e.checkErrorRate(ctx, identityID, now, th); ev != nil {
		events = append(events, *ev)
	}

	if ev := e.checkUsageSpike(ctx, identityID, now, th); ev != nil {
		events = append(events, *ev)
	}

	if ev := e.checkUnauthorized(ctx, identityID, now, th); ev != nil {
		events = append(events, *ev)
	}

	for i := range events {
		events[i].ID = e.idGen.New()
		events[i].IdentityID = identityID
		events[i].Status = alert.StatusActive
		events[i].CreatedAt = now
		e.emit(ctx, events[i])
	}
	return events
}

func (e *AlertEvaluator) checkErrorRate(ctx context.Context, identityID string, now time.Time, th alert.Thresholds) *alert.Event {
	hourAgo := now.Add(-time.Hour)

	total, err := e.ledger.CountSince(ctx, identityID, hourAgo, ports.StatusAny)
	if err != nil {
		return e.skip("error_rate", err)
	}
	errs, err := e.ledger.CountSince(ctx, identityID, hourAgo, ports.StatusErrors)
	if err != nil {
		return e.skip("error_rate", err)
	}
	return alert.CheckErrorRate(errs, total, th)
}

func (e *AlertEvaluator) checkUsageSpike(ctx context.Context, identityID string, now time.Time, th alert.Thresholds) *alert.Event {
	today := now.UTC().Truncate(24 * time.Hour)

	// Trailing 7-day daily average, excluding today.
	avg, err := e.ledger.DailyAverage(ctx, identityID, today.AddDate(0, 0, -7), today)
	if err != nil {
		return e.skip("usage_spike", err)
	}
	todayCount, err := e.ledger.CountOnDay(ctx, identityID, today)
	if err != nil {
		return e.skip("usage_spike", err)
	}
	return alert.CheckUsageSpike(todayCount, avg, th)
}

func (e *AlertEvaluator) checkUnauthorized(ctx context.Context, identityID string, now time.Time, th alert.Thresholds) *alert.Event {
	failed, err := e.ledger.CountSince(ctx, identityID, now.Add(-time.Hour), ports.StatusUnauthorized)
	if err != nil {
		return e.skip("unauthorized_access", err)
	}
	return alert.CheckUnauthorized(failed, th)
}

// skip logs a swallowed evaluation error and yields no alert for the check.
func (e *AlertEvaluator) skip(check string, err error) *alert.Event {
	e.logger.Warn().Err(err).Str("check", check).Msg("alert check skipped")
	if e.mx != nil {
		e.mx.EvaluationErrors.Inc()
	}
	return nil
}

// emit persists one event and hands it to every notification sink.
// Delivery is fire-and-forget; the evaluator's responsibility ends here.
func (e *AlertEvaluator) emit(ctx context.Context, ev alert.Event) {
	logEvent := e.logger.Warn()
	if ev.Level == alert.LevelCritical {
		logEvent = e.logger.Error()
	}
	logEvent.
		Str("type", string(ev.Type)).
		Str("level", string(ev.Level)).
		Str("identity_id", ev.IdentityID).
		Float64("value", ev.Value).
		Float64("threshold", ev.Threshold).
		Msg(ev.Message)

	if e.mx != nil {
		e.mx.AlertsEmitted.WithLabelValues(string(ev.Type), string(ev.Level)).Inc()
	}

	if e.alerts != nil {
		if err := e.alerts.Create(ctx, ev); err != nil {
			e.logger.Warn().Err(err).Str("alert_id", ev.ID).Msg("alert persist failed")
		}
	}

	for _, sink := range e.sinks {
		go func(sink ports.NotificationSink) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := sink.Deliver(ctx, ev); err != nil {
				e.logger.Warn().Err(err).
					Str("sink", sink.Name()).
					Str("alert_id", ev.ID).
					Msg("alert delivery failed")
			}
		}(sink)
	}
}

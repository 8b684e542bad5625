// Package alert provides alert event value types and the pure threshold
// checks that produce them.
package alert

import "time"

// Type identifies which check produced an event.
type Type string

// Alert types.
const (
	TypeResponseTime Type = "response_time"
	TypeErrorRate    Type = "error_rate"
	TypeUsageSpike   Type = "usage_spike"
	TypeUnauthorized Type = "unauthorized_access"
)

// Level is the severity tier.
type Level string

// Severity levels.
const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Status tracks the operator-driven lifecycle of an event.
type Status string

// Lifecycle states. Transitions active -> acknowledged -> resolved are
// driven by operator actions, not by the evaluator.
const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Event is one emitted alert (value type).
type Event struct {
	ID         string
	Type       Type
	Level      Level
	IdentityID string
	Message    string
	Value      float64
	Threshold  float64
	Status     Status
	CreatedAt  time.Time

	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
}

// Thresholds configures the four checks.
//
// Comparison convention: the tiered checks (response time, error rate, usage
// spike) use strict greater-than for both warning and critical; the
// unauthorized-access check fires at greater-or-equal, critical only.
type Thresholds struct {
	ResponseTimeWarning  float64 // seconds
	ResponseTimeCritical float64 // seconds
	ErrorRateWarning     float64 // fraction, e.g. 0.05
	ErrorRateCritical    float64
	UsageSpikeWarning    float64 // multiple of the trailing daily average
	UsageSpikeCritical   float64
	UnauthorizedMin      int64 // 401s per trailing hour
}

// DefaultThresholds are the reference defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ResponseTimeWarning:  1.0,
		ResponseTimeCritical: 2.0,
		ErrorRateWarning:     0.05,
		ErrorRateCritical:    0.10,
		UsageSpikeWarning:    2.0,
		UsageSpikeCritical:   3.0,
		UnauthorizedMin:      5,
	}
}

// Acknowledge returns a copy of the event marked acknowledged.
// Only active events can be acknowledged. This is a PURE function.
func Acknowledge(e Event, at time.Time) (Event, bool) {
	if e.Status != StatusActive {
		return e, false
	}
	e.Status = StatusAcknowledged
	e.AcknowledgedAt = &at
	return e, true
}

// Resolve returns a copy of the event marked resolved.
// Active and acknowledged events can be resolved. This is a PURE function.
func Resolve(e Event, at time.Time) (Event, bool) {
	if e.Status == StatusResolved {
		return e, false
	}
	e.Status = StatusResolved
	e.ResolvedAt = &at
	return e, true
}

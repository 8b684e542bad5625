// Package usage provides usage record value types and pure aggregation.
package usage

import "time"

// Record is one entry per completed (or failed) request attempt.
// Append-only: never mutated or deleted except by the retention sweep.
type Record struct {
	ID             string
	IdentityID     string
	Endpoint       string
	Method         string
	StatusCode     int
	ResponseTimeMs int64
	Timestamp      time.Time
}

// IsError reports whether the record counts toward the error rate.
func (r Record) IsError() bool {
	return r.StatusCode >= 400
}

// Summary is an aggregate over a period (value type).
type Summary struct {
	IdentityID   string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	RequestCount int64
	ErrorCount   int64
	AvgLatencyMs int64
}

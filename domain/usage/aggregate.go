package usage

import "time"

// Aggregate combines records into a summary.
// This is a PURE function.
func Aggregate(records []Record, periodStart, periodEnd time.Time) Summary {
	s := Summary{PeriodStart: periodStart, PeriodEnd: periodEnd}
	if len(records) == 0 {
		return s
	}

	var totalLatency int64
	for _, r := range records {
		if s.IdentityID == "" {
			s.IdentityID = r.IdentityID
		}
		s.RequestCount++
		totalLatency += r.ResponseTimeMs
		if r.IsError() {
			s.ErrorCount++
		}
	}

	if s.RequestCount > 0 {
		s.AvgLatencyMs = totalLatency / s.RequestCount
	}
	return s
}

package alert

import "fmt"

// Each check below produces at most one event: critical takes precedence
// over warning, never both. All checks are PURE functions over aggregates
// the caller has already fetched.

// CheckResponseTime compares one observed response time (seconds) against
// the configured tiers.
func CheckResponseTime(observed float64, endpoint string, th Thresholds) *Event {
	if observed > th.ResponseTimeCritical {
		return &Event{
			Type:      TypeResponseTime,
			Level:     LevelCritical,
			Message:   fmt.Sprintf("Critical response time for %s: %.2fs", endpoint, observed),
			Value:     observed,
			Threshold: th.ResponseTimeCritical,
		}
	}
	if observed > th.ResponseTimeWarning {
		return &Event{
			Type:      TypeResponseTime,
			Level:     LevelWarning,
			Message:   fmt.Sprintf("High response time for %s: %.2fs", endpoint, observed),
			Value:     observed,
			Threshold: th.ResponseTimeWarning,
		}
	}
	return nil
}

// CheckErrorRate evaluates errorCount/totalCount over the trailing hour.
// No event when totalCount is zero.
func CheckErrorRate(errorCount, totalCount int64, th Thresholds) *Event {
	if totalCount == 0 {
		return nil
	}
	rate := float64(errorCount) / float64(totalCount)

	if rate > th.ErrorRateCritical {
		return &Event{
			Type:      TypeErrorRate,
			Level:     LevelCritical,
			Message:   fmt.Sprintf("Critical error rate: %.1f%%", rate*100),
			Value:     rate,
			Threshold: th.ErrorRateCritical,
		}
	}
	if rate > th.ErrorRateWarning {
		return &Event{
			Type:      TypeErrorRate,
			Level:     LevelWarning,
			Message:   fmt.Sprintf("High error rate: %.1f%%", rate*100),
			Value:     rate,
			Threshold: th.ErrorRateWarning,
		}
	}
	return nil
}

// CheckUsageSpike compares today's request count against the trailing daily
// average (excluding today). No event when the historical average is zero -
// brand-new identities have no baseline to spike against.
func CheckUsageSpike(todayCount int64, historicalDailyAvg float64, th Thresholds) *Event {
	if historicalDailyAvg == 0 {
		return nil
	}
	ratio := float64(todayCount) / historicalDailyAvg

	if ratio > th.UsageSpikeCritical {
		return &Event{
			Type:      TypeUsageSpike,
			Level:     LevelCritical,
			Message:   fmt.Sprintf("Critical usage spike: %.2fx normal", ratio),
			Value:     ratio,
			Threshold: th.UsageSpikeCritical,
		}
	}
	if ratio > th.UsageSpikeWarning {
		return &Event{
			Type:      TypeUsageSpike,
			Level:     LevelWarning,
			Message:   fmt.Sprintf("Usage spike: %.2fx normal", ratio),
			Value:     ratio,
			Threshold: th.UsageSpikeWarning,
		}
	}
	return nil
}

// CheckUnauthorized evaluates the count of 401 responses over the trailing
// hour. Critical only, at >= the configured minimum; there is no warning
// tier for this check.
func CheckUnauthorized(failedCount int64, th Thresholds) *Event {
	if failedCount >= th.UnauthorizedMin {
		return &Event{
			Type:      TypeUnauthorized,
			Level:     LevelCritical,
			Message:   fmt.Sprintf("Multiple unauthorized access attempts: %d in the last hour", failedCount),
			Value:     float64(failedCount),
			Threshold: float64(th.UnauthorizedMin),
		}
	}
	return nil
}

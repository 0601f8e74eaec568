package webhooks

import "time"

// DefaultRetryIntervals: 1 min after the first failure, 5 min after the second, 15 min after the third.
var DefaultRetryIntervals = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}

// RetrySchedule maps a 1-based failed attempt number to the wait before the next attempt.
type RetrySchedule struct {
	Intervals []time.Duration
}

func DefaultRetrySchedule() RetrySchedule {
	return RetrySchedule{Intervals: append([]time.Duration(nil), DefaultRetryIntervals...)}
}

// Delay returns the wait after attempt. Attempts past the end of the schedule
// reuse the last interval; attempts below 1 use the first.
func (s RetrySchedule) Delay(attempt int) time.Duration {
	iv := s.Intervals
	if len(iv) == 0 {
		iv = DefaultRetryIntervals
	}
	switch {
	case attempt < 1:
		return iv[0]
	case attempt > len(iv):
		return iv[len(iv)-1]
	default:
		return iv[attempt-1]
	}
}

func (s RetrySchedule) NextRetryAt(attempt int, now time.Time) time.Time {
	return now.Add(s.Delay(attempt))
}

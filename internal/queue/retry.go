// Package queue runs settlement tasks: the retry policy around
// ProcessOrder and an in-process worker pool used when no broker is configured.
package queue

import "time"

// RetryPolicy bounds how often a task is attempted. Backoff[i] is the pause
// after attempt i+1; the last entry repeats when there are more attempts.
type RetryPolicy struct {
	Attempts int
	Backoff  []time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Backoff:  []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}
}

// Delay is the pause after the given 1-based attempt failed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 || attempt < 1 {
		return 0
	}
	if attempt > len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt-1]
}

package retry

import (
	"sync/atomic"
	"time"
)

type retryStats struct {
	totalAttempts           atomic.Int64
	successfulRetries       atomic.Int64
	failedRetries           atomic.Int64
	successfulFirstAttempts atomic.Int64
	nonRetryable            atomic.Int64
	maxBackoff              atomic.Int64 // Nanoseconds.
}

// Stats is a snapshot of retry activity.
type Stats struct {
	TotalAttempts     int64         `json:"total_attempts"`
	SuccessfulRetries int64         `json:"successful_retries"`
	FailedRetries     int64         `json:"failed_retries"`
	NonRetryable      int64         `json:"non_retryable"`
	AverageAttempts   float64       `json:"average_attempts"`
	MaxBackoff        time.Duration `json:"max_backoff"`
}

func (r *Retrier) recordBackoff(backoff time.Duration) {
	nanos := backoff.Nanoseconds()
	for {
		current := r.stats.maxBackoff.Load()
		if nanos <= current || r.stats.maxBackoff.CompareAndSwap(current, nanos) {
			return
		}
	}
}

// Stats returns a snapshot of the retry counters.
func (r *Retrier) Stats() Stats {
	total := r.stats.totalAttempts.Load()
	retried := r.stats.successfulRetries.Load()
	failed := r.stats.failedRetries.Load()
	first := r.stats.successfulFirstAttempts.Load()
	nonRetryable := r.stats.nonRetryable.Load()

	average := 1.0
	if requests := first + retried + failed + nonRetryable; requests > 0 {
		average = float64(total) / float64(requests)
	}

	return Stats{
		TotalAttempts:     total,
		SuccessfulRetries: retried,
		FailedRetries:     failed,
		NonRetryable:      nonRetryable,
		AverageAttempts:   average,
		MaxBackoff:        time.Duration(r.stats.maxBackoff.Load()),
	}
}

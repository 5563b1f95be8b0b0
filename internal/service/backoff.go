package service

import "time"

const (
	// BackoffBase is the delay after the first transient failure.
	BackoffBase = time.Minute
	// BackoffCap bounds the exponential growth.
	BackoffCap = time.Hour
	// DefaultMaxSendAttempts is how many transient failures a send step
	// survives before the execution fails.
	DefaultMaxSendAttempts = 5
)

// backoffDelay computes the exponential retry delay for a 1-based attempt:
// base * 2^(attempt-1), capped. Deliberately jitter-free so successive
// delays for one execution are non-decreasing.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= BackoffCap {
			return BackoffCap
		}
	}
	if delay > BackoffCap {
		delay = BackoffCap
	}
	return delay
}

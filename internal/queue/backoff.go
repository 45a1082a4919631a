package queue

import "time"

// BackoffDelay computes the retry delay after a failed attempt:
// base doubled per prior attempt, capped at ceiling.
func BackoffDelay(attempts int, base, ceiling time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

package utils

import (
	"math"
	"time"
)

// CalculateBackoff calculates the backoff duration for a given attempt.
// Attempt 0 gets the initial delay; each subsequent attempt doubles (or
// multiplies by factor), capped at maxDelay.
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration, factor float64) time.Duration {
	delay := float64(initialDelay) * math.Pow(factor, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}

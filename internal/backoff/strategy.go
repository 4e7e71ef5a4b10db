// Package backoff provides delay calculation for the retry layer.
package backoff

import "time"

// Strategy defines the interface for backoff calculation algorithms.
type Strategy interface {
	// Calculate returns the delay before retry attempt number attempt
	// (1-based), given the base delay and an upper ceiling.
	Calculate(attempt int, base, ceiling time.Duration) time.Duration
}

// LinearStrategy scales the base delay by the attempt number. The server
// backing this client throttles bursts rather than sustained load, so a
// gentle linear ramp recovers faster than exponential growth over the two
// retries the client ever makes.
type LinearStrategy struct{}

// Calculate implements the Strategy interface.
func (LinearStrategy) Calculate(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Prevent overflow on absurd attempt numbers.
	if attempt > 1<<10 {
		attempt = 1 << 10
	}
	delay := base * time.Duration(attempt)
	if ceiling > 0 && (delay > ceiling || delay < 0) {
		delay = ceiling
	}
	return delay
}

// FlooredStrategy wraps another strategy and enforces a minimum delay.
// Used for 429 responses, which need a higher floor than ordinary retries.
type FlooredStrategy struct {
	Inner Strategy
	Floor time.Duration
}

// Calculate implements the Strategy interface.
func (s FlooredStrategy) Calculate(attempt int, base, ceiling time.Duration) time.Duration {
	delay := s.Inner.Calculate(attempt, base, ceiling)
	if delay < s.Floor {
		delay = s.Floor
	}
	return delay
}

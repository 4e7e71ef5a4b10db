package roomscore

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mchost252/roomscore-sub003/internal/backoff"
)

// Retry defaults: 2 retries beyond the initial attempt, i.e. 3 total.
const (
	DefaultMaxRetries     = 2
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultRetryMaxDelay  = 10 * time.Second
	DefaultRateLimitFloor = 2 * time.Second
)

// RetryPolicy classifies a failed attempt and computes the delay before the
// next one. attempt is zero-based (the initial attempt is 0).
type RetryPolicy interface {
	ShouldRetry(resp *Response, err error, attempt int) (time.Duration, bool)
}

// LinearRetryPolicy retries transport failures, timeouts, 5xx and 429 with a
// delay of base times the attempt number. 429 responses get a higher floor
// and honor Retry-After. All other 4xx responses are terminal.
type LinearRetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	strategy   backoff.Strategy
	rateLimit  backoff.Strategy
}

// NewLinearRetryPolicy creates the default retry policy. rateLimitFloor is
// the minimum delay applied after a 429.
func NewLinearRetryPolicy(maxRetries int, baseDelay, maxDelay, rateLimitFloor time.Duration) *LinearRetryPolicy {
	linear := backoff.LinearStrategy{}
	return &LinearRetryPolicy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		strategy:   linear,
		rateLimit:  backoff.FlooredStrategy{Inner: linear, Floor: rateLimitFloor},
	}
}

// ShouldRetry implements the RetryPolicy interface.
func (p *LinearRetryPolicy) ShouldRetry(resp *Response, err error, attempt int) (time.Duration, bool) {
	if attempt >= p.maxRetries {
		return 0, false
	}

	switch {
	case err != nil:
		// Transport failure or timeout, no usable response.
		return p.strategy.Calculate(attempt+1, p.baseDelay, p.maxDelay), true
	case resp == nil:
		return 0, false
	case resp.StatusCode == http.StatusTooManyRequests:
		delay := p.rateLimit.Calculate(attempt+1, p.baseDelay, p.maxDelay)
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > delay {
			delay = ra
		}
		return delay, true
	case resp.StatusCode >= 500:
		return p.strategy.Calculate(attempt+1, p.baseDelay, p.maxDelay), true
	default:
		return 0, false
	}
}

// parseRetryAfter parses a Retry-After header value, supporting both
// delay-seconds and HTTP-date formats. Values are capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds <= 0 {
			return 0
		}
		delay := time.Duration(seconds) * time.Second
		if delay > time.Hour {
			delay = time.Hour
		}
		return delay
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

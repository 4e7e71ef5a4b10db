package roomscore

import (
	"sync/atomic"
	"time"
)

// DefaultCooldown is used when a 429 carries no Retry-After header.
const DefaultCooldown = 30 * time.Second

// CooldownGuard tracks a single process-wide rate-limit cooldown deadline.
// A 429 from any endpoint is treated as the whole client being throttled:
// one global deadline trades per-route precision for guaranteed suppression
// of retry storms. While the cooldown is active the pipeline serves cached
// data, stale included, instead of issuing network calls.
type CooldownGuard struct {
	until    atomic.Int64 // unix nanos; 0 means not cooling down
	fallback time.Duration
}

// NewCooldownGuard creates a guard using fallback when a 429 has no
// Retry-After header. A non-positive fallback selects DefaultCooldown.
func NewCooldownGuard(fallback time.Duration) *CooldownGuard {
	if fallback <= 0 {
		fallback = DefaultCooldown
	}
	return &CooldownGuard{fallback: fallback}
}

// RecordRateLimited sets the cooldown deadline to now + retryAfter, or
// now + the configured fallback when retryAfter is not positive. The new
// deadline is visible to every subsequent call immediately.
func (g *CooldownGuard) RecordRateLimited(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = g.fallback
	}
	deadline := time.Now().Add(retryAfter).UnixNano()
	// Never shorten an already longer cooldown.
	for {
		current := g.until.Load()
		if current >= deadline {
			return
		}
		if g.until.CompareAndSwap(current, deadline) {
			return
		}
	}
}

// IsCoolingDown reports whether the cooldown deadline is still in the future.
func (g *CooldownGuard) IsCoolingDown() bool {
	until := g.until.Load()
	if until == 0 {
		return false
	}
	if time.Now().UnixNano() >= until {
		g.until.CompareAndSwap(until, 0)
		return false
	}
	return true
}

// Until returns the current cooldown deadline, or the zero time when the
// guard is inactive.
func (g *CooldownGuard) Until() time.Time {
	until := g.until.Load()
	if until == 0 {
		return time.Time{}
	}
	return time.Unix(0, until)
}

package roomscore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Error taxonomy. The pipeline resolves Network/Timeout/Server/RateLimit
// internally (retry, cooldown) and Auth via a single refresh-and-replay;
// Validation errors are terminal and surface immediately.
const (
	ErrorTypeNetwork    = "Network"
	ErrorTypeTimeout    = "Timeout"
	ErrorTypeServer     = "Server"
	ErrorTypeRateLimit  = "RateLimit"
	ErrorTypeAuth       = "Auth"
	ErrorTypeValidation = "Validation"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrCoolingDown is returned to prefetches and background revalidations
	// issued while the rate-limit cooldown is active and no cached value can
	// serve them. User-initiated reads proceed to the network instead.
	ErrCoolingDown = errors.New("roomscore: rate-limit cooldown active")

	// ErrLoggedOut is returned when a token refresh fails and the stored
	// credentials have been cleared.
	ErrLoggedOut = errors.New("roomscore: logged out")

	// ErrCacheMiss is returned by Client.Cached when no tier holds the key.
	ErrCacheMiss = errors.New("roomscore: cache miss")
)

// ClientError is the error surfaced by the pipeline once internal recovery
// (retries, cooldown, refresh-and-replay) is exhausted. The status code of
// the final response is preserved so callers can map categories to messages.
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	Method     string
	URL        string
	Endpoint   string
	StatusCode int
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// IsTransient reports whether an error represents a transient failure that
// might succeed on retry: network errors, timeouts, 5xx responses and 429.
// 4xx client errors (except 429) and validation errors are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCoolingDown) {
		return true
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeRateLimit:
			return true
		default:
			return false
		}
	}
	return false
}

// isTimeout reports whether err is a request timeout (deadline exceeded or a
// net.Error that timed out). Timeouts are retryable, not silent hangs.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classifyStatus maps a final HTTP status to an error type, or "" for
// statuses that are not errors.
func classifyStatus(status int) string {
	switch {
	case status == 401:
		return ErrorTypeAuth
	case status == 429:
		return ErrorTypeRateLimit
	case status >= 500:
		return ErrorTypeServer
	case status >= 400:
		return ErrorTypeValidation
	default:
		return ""
	}
}

// classifyErr maps a transport error to Network or Timeout.
func classifyErr(err error) string {
	if isTimeout(err) {
		return ErrorTypeTimeout
	}
	return ErrorTypeNetwork
}

package roomscore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClientErrorFormat(t *testing.T) {
	err := &ClientError{Type: ErrorTypeServer, Message: "internal error"}
	if got := err.Error(); got != "Server: internal error" {
		t.Errorf("Error() = %q", got)
	}

	err = &ClientError{
		Type:       ErrorTypeNetwork,
		Message:    "request failed",
		Cause:      errors.New("connection refused"),
		RequestID:  "abc12345",
		Attempt:    2,
		MaxRetries: 2,
	}
	got := err.Error()
	for _, want := range []string{"[abc12345]", "Network: request failed", "connection refused", "attempt 2/2"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestClientErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := &ClientError{Type: ErrorTypeNetwork, Message: "failed", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is must reach the cause")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	var ce *ClientError
	if !errors.As(wrapped, &ce) || ce.Type != ErrorTypeNetwork {
		t.Error("errors.As must find the ClientError through wrapping")
	}
}

func TestClientErrorIsMatchesType(t *testing.T) {
	err := &ClientError{Type: ErrorTypeRateLimit, Message: "throttled"}
	if !errors.Is(err, &ClientError{Type: ErrorTypeRateLimit}) {
		t.Error("same type must match")
	}
	if errors.Is(err, &ClientError{Type: ErrorTypeAuth}) {
		t.Error("different type must not match")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &ClientError{Type: ErrorTypeNetwork}, true},
		{"timeout", &ClientError{Type: ErrorTypeTimeout}, true},
		{"server", &ClientError{Type: ErrorTypeServer}, true},
		{"rate limit", &ClientError{Type: ErrorTypeRateLimit}, true},
		{"auth", &ClientError{Type: ErrorTypeAuth}, false},
		{"validation", &ClientError{Type: ErrorTypeValidation}, false},
		{"cooldown sentinel", ErrCoolingDown, true},
		{"wrapped cooldown", fmt.Errorf("do: %w", ErrCoolingDown), true},
		{"plain error", errors.New("other"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, ""},
		{204, ""},
		{304, ""},
		{400, ErrorTypeValidation},
		{401, ErrorTypeAuth},
		{403, ErrorTypeValidation},
		{404, ErrorTypeValidation},
		{429, ErrorTypeRateLimit},
		{500, ErrorTypeServer},
		{503, ErrorTypeServer},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestClassifyErr(t *testing.T) {
	if got := classifyErr(context.DeadlineExceeded); got != ErrorTypeTimeout {
		t.Errorf("deadline exceeded = %q, want Timeout", got)
	}
	if got := classifyErr(errors.New("refused")); got != ErrorTypeNetwork {
		t.Errorf("plain error = %q, want Network", got)
	}
}

package roomscore

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func newTestPolicy() *LinearRetryPolicy {
	return NewLinearRetryPolicy(2, 100*time.Millisecond, 10*time.Second, 2*time.Second)
}

func TestRetryPolicyTransportErrors(t *testing.T) {
	p := newTestPolicy()

	delay, retry := p.ShouldRetry(nil, errors.New("connection refused"), 0)
	if !retry {
		t.Fatal("transport errors must be retryable")
	}
	if delay != 100*time.Millisecond {
		t.Errorf("attempt 0 delay = %v, want 100ms", delay)
	}

	delay, retry = p.ShouldRetry(nil, errors.New("connection refused"), 1)
	if !retry || delay != 200*time.Millisecond {
		t.Errorf("attempt 1: got (%v, %v), want (200ms, true) from the linear ramp", delay, retry)
	}
}

func TestRetryPolicyServerErrors(t *testing.T) {
	p := newTestPolicy()
	resp := &Response{StatusCode: 503, Header: http.Header{}}

	if _, retry := p.ShouldRetry(resp, nil, 0); !retry {
		t.Error("5xx must be retryable")
	}
}

func TestRetryPolicyClientErrorsTerminal(t *testing.T) {
	p := newTestPolicy()
	for _, status := range []int{400, 401, 403, 404, 422} {
		resp := &Response{StatusCode: status, Header: http.Header{}}
		if _, retry := p.ShouldRetry(resp, nil, 0); retry {
			t.Errorf("status %d must not be retried", status)
		}
	}
}

func TestRetryPolicyRateLimitFloor(t *testing.T) {
	p := newTestPolicy()
	resp := &Response{StatusCode: 429, Header: http.Header{}}

	delay, retry := p.ShouldRetry(resp, nil, 0)
	if !retry {
		t.Fatal("429 must be retryable")
	}
	if delay < 2*time.Second {
		t.Errorf("429 delay %v must respect the floor", delay)
	}
}

func TestRetryPolicyHonorsRetryAfter(t *testing.T) {
	p := newTestPolicy()
	hdr := http.Header{}
	hdr.Set("Retry-After", "5")
	resp := &Response{StatusCode: 429, Header: hdr}

	delay, retry := p.ShouldRetry(resp, nil, 0)
	if !retry || delay != 5*time.Second {
		t.Errorf("got (%v, %v), want Retry-After to win at 5s", delay, retry)
	}
}

func TestRetryPolicyMaxAttempts(t *testing.T) {
	p := newTestPolicy()
	resp := &Response{StatusCode: 503, Header: http.Header{}}

	if _, retry := p.ShouldRetry(resp, nil, 2); retry {
		t.Error("no retry once maxRetries attempts are exhausted")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"10", 10 * time.Second},
		{" 3 ", 3 * time.Second},
		{"0", 0},
		{"-5", 0},
		{"7200", time.Hour}, // capped
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.value); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	if got <= 0 || got > 31*time.Second {
		t.Errorf("HTTP-date Retry-After parsed to %v", got)
	}
}

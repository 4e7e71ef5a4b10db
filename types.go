package roomscore

import (
	"encoding/json"
	"net/http"
	"time"
)

// Middleware represents a middleware function wrapping the transport.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Response is the fully drained result of a pipeline call. It is shared
// verbatim between de-duplicated callers and with the cache, so treat it as
// read-only.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// CacheCondition determines whether a request is eligible for caching.
type CacheCondition func(req *http.Request) bool

// DedupCondition decides whether a request is eligible for de-duplication.
type DedupCondition func(req *http.Request) bool

// Option represents a configuration option.
type Option func(*Client)

// Request-scoped control headers honored by the pipeline. The UI layer sets
// these on individual calls; context helpers below are the in-process
// equivalent.
const (
	HeaderBypassCache = "x-bypass-cache"
	HeaderPrefetch    = "x-prefetch"
)

// Context keys for request-scoped pipeline controls.
type contextKey string

const (
	cacheControlKey contextKey = "roomscore_cache_control"
	bypassCacheKey  contextKey = "roomscore_bypass_cache"
	prefetchKey     contextKey = "roomscore_prefetch"
	invalidateKey   contextKey = "roomscore_invalidate"
	revalidatingKey contextKey = "roomscore_revalidating"
)

// CacheControl holds cache control options for a single request.
type CacheControl struct {
	Enabled bool
	TTL     time.Duration // 0 means use the route rule / default
}

// DefaultCacheCondition enables caching for GET requests only.
func DefaultCacheCondition(req *http.Request) bool {
	return req.Method == http.MethodGet
}

// DefaultDedupCondition enables de-duplication for safe idempotent reads.
func DefaultDedupCondition(req *http.Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead
}

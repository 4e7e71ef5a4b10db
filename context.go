package roomscore

import (
	"context"
	"net/http"
	"time"
)

// WithContextCacheEnabled forces caching for the request regardless of the
// default cache condition.
func WithContextCacheEnabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: true})
}

// WithContextCacheDisabled disables caching for the request.
func WithContextCacheDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: false})
}

// WithContextCacheTTL enables caching for the request with an explicit TTL,
// overriding the route rule.
func WithContextCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: true, TTL: ttl})
}

// WithContextBypassCache skips cache and de-duplication entirely for the
// request, equivalent to the x-bypass-cache header.
func WithContextBypassCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassCacheKey, true)
}

// WithContextPrefetch marks the request as a background prefetch: it must not
// join, nor be joined by, a user-initiated in-flight request. Equivalent to
// the x-prefetch header.
func WithContextPrefetch(ctx context.Context) context.Context {
	return context.WithValue(ctx, prefetchKey, true)
}

// WithContextInvalidate attaches cache patterns to invalidate after the
// request succeeds. Used on writes that are known to affect cached reads,
// e.g. completing a task invalidates the room list and room detail.
func WithContextInvalidate(ctx context.Context, patterns ...string) context.Context {
	return context.WithValue(ctx, invalidateKey, patterns)
}

func bypassRequested(req *http.Request) bool {
	if v, ok := req.Context().Value(bypassCacheKey).(bool); ok && v {
		return true
	}
	return req.Header.Get(HeaderBypassCache) == "true"
}

func prefetchRequested(req *http.Request) bool {
	if v, ok := req.Context().Value(prefetchKey).(bool); ok && v {
		return true
	}
	return req.Header.Get(HeaderPrefetch) == "1"
}

func invalidatePatterns(req *http.Request) []string {
	if v, ok := req.Context().Value(invalidateKey).([]string); ok {
		return v
	}
	return nil
}

func cacheControlFor(req *http.Request) *CacheControl {
	if cc, ok := req.Context().Value(cacheControlKey).(*CacheControl); ok {
		return cc
	}
	return nil
}

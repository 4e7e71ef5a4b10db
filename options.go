package roomscore

import (
	"fmt"
	"net/http"
	"time"
)

// WithBaseURL sets the API base URL prepended to request paths.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-call network timeout ceiling. Timeouts surface as
// retryable errors, never silent hangs.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxRetries sets the number of retries beyond the initial attempt.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryPolicy sets a custom retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithRetryDelays builds the default linear policy with explicit delays.
func WithRetryDelays(base, maxDelay, rateLimitFloor time.Duration) Option {
	return func(c *Client) {
		c.retry = NewLinearRetryPolicy(c.maxRetries, base, maxDelay, rateLimitFloor)
	}
}

// WithCooldown sets the default cooldown applied on a 429 without Retry-After.
func WithCooldown(d time.Duration) Option {
	return func(c *Client) {
		c.guard = NewCooldownGuard(d)
	}
}

// WithMemoryCache enables caching with the default sharded memory store.
func WithMemoryCache() Option {
	return func(c *Client) {
		c.store = NewMemoryStore()
	}
}

// WithCache sets a custom cache store.
func WithCache(store Store) Option {
	return func(c *Client) {
		c.store = store
	}
}

// WithDefaultTTL sets the TTL for routes without an explicit rule.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.defaultTTL = ttl
	}
}

// WithRouteRules registers per-route TTL and persistence rules.
func WithRouteRules(rules ...RouteRule) Option {
	return func(c *Client) {
		c.rules = newRouteTable(rules)
	}
}

// WithStaleWhileRevalidate serves stale cache hits immediately and refreshes
// them once in the background instead of revalidating in the foreground.
func WithStaleWhileRevalidate() Option {
	return func(c *Client) {
		c.swr = true
	}
}

// WithPersistentStore attaches the longer-lived persisted cache tier.
func WithPersistentStore(store *PersistentStore) Option {
	return func(c *Client) {
		c.persist = store
	}
}

// WithCacheCondition sets a custom cache eligibility condition.
func WithCacheCondition(fn CacheCondition) Option {
	return func(c *Client) {
		c.cacheCondition = fn
	}
}

// WithDedupCondition sets a custom de-duplication eligibility condition.
func WithDedupCondition(fn DedupCondition) Option {
	return func(c *Client) {
		c.dedupCondition = fn
	}
}

// WithTokenStore enables the auth layer: the access token is attached to
// every request and a 401 triggers one refresh-and-replay cycle against the
// given endpoint.
func WithTokenStore(store TokenStore, refreshEndpoint string) Option {
	return func(c *Client) {
		c.tokens = store
		c.refresher = NewTokenRefresher(refreshEndpoint, store, nil)
	}
}

// WithLogoutHandler sets the hook fired when a token refresh fails and the
// stored credentials are cleared; the UI layer navigates to the auth entry
// point from here.
func WithLogoutHandler(fn func()) Option {
	return func(c *Client) {
		c.onLogout = fn
		if c.refresher != nil {
			c.refresher.onLogout = fn
		}
	}
}

// WithTokenRefresher sets a fully custom refresher.
func WithTokenRefresher(r *TokenRefresher) Option {
	return func(c *Client) {
		c.refresher = r
		c.tokens = r.store
	}
}

// WithMiddleware appends middleware wrapping the transport. The chain is
// composed once at construction, outermost first.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets the logger for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with the console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithDebug enables debug logging with the current configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// validateConfiguration aggregates configuration problems found at
// construction time.
func (c *Client) validateConfiguration() error {
	var problems []string

	if c.maxRetries < 0 {
		problems = append(problems, "maxRetries must be non-negative")
	}
	if c.httpClient == nil {
		problems = append(problems, "HTTP client cannot be nil")
	} else if c.httpClient.Timeout < 0 {
		problems = append(problems, "timeout must be non-negative")
	}
	if c.defaultTTL <= 0 {
		problems = append(problems, "defaultTTL must be positive")
	}
	if c.debug != nil && c.debug.Enabled && c.logger == nil {
		problems = append(problems, "logger must be set when debug is enabled")
	}
	if c.swr && c.store == nil {
		problems = append(problems, "stale-while-revalidate requires a cache store")
	}
	if c.persist != nil && c.store == nil {
		problems = append(problems, "persisted tier requires a memory store in front")
	}
	for i, mw := range c.middleware {
		if mw == nil {
			problems = append(problems, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	if len(problems) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}
	return nil
}

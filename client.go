package roomscore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mchost252/roomscore-sub003/internal/singleflight"
)

// maxResponseBytes caps how much of a response body the pipeline drains.
const maxResponseBytes = 10 * 1024 * 1024

// Client is the request pipeline every screen goes through: rate-limit
// cooldown with cache fallback, TTL caching, single-flight de-duplication,
// bounded retries, transparent token refresh and write-triggered
// invalidation, layered around the standard net/http client. It is safe for
// concurrent use; construct isolated instances for isolated state.
type Client struct {
	baseURL    string
	httpClient *http.Client
	transport  RoundTripper
	middleware []Middleware

	store      Store
	persist    *PersistentStore
	rules      *routeTable
	defaultTTL time.Duration
	swr        bool
	revalidate *revalidator

	guard *CooldownGuard
	dedup *Deduplicator

	retry      RetryPolicy
	maxRetries int

	tokens    TokenStore
	refresher *TokenRefresher
	onLogout  func()

	cacheCondition CacheCondition
	dedupCondition DedupCondition

	optimistic *Coordinator

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	validationError error
}

// New constructs a Client from the provided functional options. A best-effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		defaultTTL:     3 * time.Minute,
		guard:          NewCooldownGuard(DefaultCooldown),
		dedup:          NewDeduplicator(),
		maxRetries:     DefaultMaxRetries,
		cacheCondition: DefaultCacheCondition,
		dedupCondition: DefaultDedupCondition,
		rules:          newRouteTable(nil),
		optimistic:     NewCoordinator(),
		debug:          DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if client.retry == nil {
		client.retry = NewLinearRetryPolicy(client.maxRetries, DefaultRetryBaseDelay, DefaultRetryMaxDelay, DefaultRateLimitFloor)
	}

	// The middleware chain wraps the raw transport exactly once, at
	// construction, so ordering is fixed and visible.
	client.transport = chainMiddleware(client.middleware, RoundTripperFunc(client.httpClient.Do))

	client.revalidate = newRevalidator(client)
	client.optimistic.metrics = client.metrics
	client.optimistic.logger = client.logger

	// Options apply in any order, so the refresher picks up the logout hook
	// and logger here rather than inside WithTokenStore.
	if client.refresher != nil {
		if client.refresher.onLogout == nil {
			client.refresher.onLogout = client.onLogout
		}
		if client.refresher.logger == nil {
			client.refresher.logger = client.logger
		}
	}

	if err := client.validateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

func chainMiddleware(middleware []Middleware, base RoundTripper) RoundTripper {
	current := base
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return mw(r, next)
		})
	}
	return current
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// Optimistic returns the client's optimistic update coordinator.
func (c *Client) Optimistic() *Coordinator {
	return c.optimistic
}

// Get performs a GET against the configured base URL.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Put performs a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodPut, path, body)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Prefetch issues a background GET that bypasses de-duplication in both
// directions: it neither joins nor blocks a user-initiated fetch for the same
// key. The result still lands in the cache.
func (c *Client) Prefetch(ctx context.Context, path string) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderPrefetch, "1")
	return c.Do(req)
}

// Cached returns the stored response for the request without touching the
// network, stale entries included. Launch-time rendering uses this to paint
// from the previous session before revalidating. Returns ErrCacheMiss when no
// tier holds the key.
func (c *Client) Cached(req *http.Request) (*Response, error) {
	if c.store == nil {
		return nil, ErrCacheMiss
	}
	if entry, _, found := c.lookup(req.Context(), CanonicalKey(req)); found {
		return entry.Response(), nil
	}
	return nil, ErrCacheMiss
}

// Invalidate removes cached entries matching the pattern from every tier.
// Exposed for the UI layer to call after a mutation it knows affects reads.
func (c *Client) Invalidate(pattern string) int {
	removed := 0
	if c.store != nil {
		removed = c.store.Invalidate(pattern)
	}
	if c.persist != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.persist.DeletePrefix(ctx, pattern); err != nil && c.logger != nil {
			c.logger.Warn("Persisted invalidation failed", "pattern", pattern, "error", err.Error())
		}
	}
	return removed
}

// ClearCache removes all cached entries from every tier.
func (c *Client) ClearCache() {
	if c.store != nil {
		c.store.Clear()
	}
	if c.persist != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.persist.Clear(ctx); err != nil && c.logger != nil {
			c.logger.Warn("Persisted clear failed", "error", err.Error())
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	url := path
	if c.baseURL != "" && strings.HasPrefix(path, "/") {
		url = strings.TrimRight(c.baseURL, "/") + path
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("roomscore: encode body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do executes a prepared request through the full pipeline.
func (c *Client) Do(req *http.Request) (*Response, error) {
	start := time.Now()
	endpoint := endpointFromRequest(req)
	key := CanonicalKey(req)
	read := req.Method == http.MethodGet || req.Method == http.MethodHead
	bypass := bypassRequested(req)
	prefetch := prefetchRequested(req)

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}
	if c.debugEnabled(c.debug != nil && c.debug.LogRequests) {
		c.logger.Debug("Starting request", "requestID", requestID, "method", req.Method, "endpoint", endpoint)
	}

	c.metrics.RecordRequestStart(req.Method, endpoint)
	defer c.metrics.RecordRequestEnd(req.Method, endpoint)

	cacheable := read && !bypass && c.store != nil && c.cacheEnabled(req)
	revalidating, _ := req.Context().Value(revalidatingKey).(bool)
	cacheServe := cacheable && !revalidating

	// 1. Cooldown: while throttled, prefer any cached value, stale included,
	// over touching the network.
	if cacheServe && c.guard.IsCoolingDown() {
		if entry, stale, found := c.lookup(req.Context(), key); found {
			if c.debugEnabled(c.debug != nil && c.debug.LogCooldown) {
				c.logger.Debug("Cooldown cache serve", "requestID", requestID, "key", key, "stale", stale)
			}
			c.metrics.RecordCooldownServe(req.Method, endpoint)
			if stale {
				c.metrics.RecordStaleServe(req.Method, endpoint)
			}
			c.metrics.RecordRequest(req.Method, endpoint, entry.StatusCode, time.Since(start))
			return entry.Response(), nil
		}
	}

	// Prefetches and background revalidations are optional traffic; while
	// throttled they are suppressed outright instead of proceeding.
	if prefetch && c.guard.IsCoolingDown() {
		return nil, ErrCoolingDown
	}

	// 2. Fresh cache hit short-circuits network and deduplicator; the
	// response served from cache is never re-stored.
	if cacheServe {
		entry, stale, found := c.lookup(req.Context(), key)
		switch {
		case found && !stale:
			if c.debugEnabled(c.debug != nil && c.debug.LogCache) {
				c.logger.Debug("Cache hit", "requestID", requestID, "key", key)
			}
			c.metrics.RecordCacheHit(req.Method, endpoint)
			c.metrics.RecordRequest(req.Method, endpoint, entry.StatusCode, time.Since(start))
			return entry.Response(), nil
		case found && stale && c.swr:
			// Stale-while-revalidate: serve immediately, refresh once in
			// the background.
			c.metrics.RecordStaleServe(req.Method, endpoint)
			c.revalidate.kick(req, key)
			c.metrics.RecordRequest(req.Method, endpoint, entry.StatusCode, time.Since(start))
			return entry.Response(), nil
		default:
			c.metrics.RecordCacheMiss(req.Method, endpoint)
		}
	}

	// 3. De-duplication: join an identical in-flight read. Prefetches use an
	// independent path in both directions.
	dedupEnabled := read && !bypass && !prefetch && c.dedupCondition != nil && c.dedupCondition(req)
	var call *pendingCall
	owner := true
	if dedupEnabled {
		call, owner = c.dedup.GetOrCreate(key)
		if !owner {
			if c.debugEnabled(c.debug != nil && c.debug.LogDedup) {
				c.logger.Debug("Joined in-flight request", "requestID", requestID, "key", key)
			}
			c.metrics.RecordDedupHit(req.Method, endpoint)
			resp, err := call.Wait(req.Context())
			c.recordOutcome(req.Method, endpoint, resp, start)
			return resp, err
		}
	}

	// 4. Network, wrapped by retry / refresh / cooldown handling.
	resp, err := c.roundTrip(req, requestID, start)

	// Rate-limit fallback: attempts exhausted on 429, so serve stale cache if
	// any exists rather than surfacing the throttle to the caller.
	servedFromCache := false
	if cacheServe && isRateLimited(resp, err) {
		if entry, stale, found := c.lookup(req.Context(), key); found {
			if stale {
				c.metrics.RecordStaleServe(req.Method, endpoint)
			}
			resp, err = entry.Response(), nil
			servedFromCache = true
		}
	}

	if dedupEnabled && owner {
		c.dedup.Complete(key, resp, err)
	}

	// 5. Successful reads land in the cache tiers per route rule; successful
	// writes run their requested invalidations.
	if err == nil && resp != nil && resp.OK() {
		if cacheable && !servedFromCache {
			c.storeResult(req, key, resp)
		}
		if !read {
			for _, pattern := range invalidatePatterns(req) {
				c.Invalidate(pattern)
			}
		}
	}

	c.recordOutcome(req.Method, endpoint, resp, start)
	return resp, err
}

// roundTrip performs the transport call with retries, records 429 cooldowns
// and runs the single refresh-and-replay cycle on 401.
func (c *Client) roundTrip(req *http.Request, requestID string, start time.Time) (*Response, error) {
	endpoint := endpointFromRequest(req)
	attempt := 0
	refreshed := false

	for {
		if attempt > 0 {
			if c.debugEnabled(c.debug != nil && c.debug.LogRetries) {
				c.logger.Info("Retry attempt", "requestID", requestID, "attempt", attempt, "maxRetries", c.maxRetries, "endpoint", endpoint)
			}
			c.metrics.RecordRetry(req.Method, endpoint, attempt)
		}

		httpResp, err := c.transport.RoundTrip(c.cloneForAttempt(req))

		var resp *Response
		if err == nil {
			resp, err = drainResponse(httpResp)
		}

		if err == nil && resp.StatusCode == http.StatusUnauthorized && c.refresher != nil {
			if refreshed {
				// Replay came back 401 again: terminal, no second refresh.
				return resp, c.newError(ErrorTypeAuth, "unauthorized after token refresh", nil, requestID, req, attempt, resp.StatusCode, start)
			}
			refreshed = true
			if c.debugEnabled(c.debug != nil && c.debug.LogAuth) {
				c.logger.Info("Refreshing access token", "requestID", requestID, "endpoint", endpoint)
			}
			if _, rerr := c.refresher.Refresh(req.Context()); rerr != nil {
				c.metrics.RecordTokenRefresh("failure")
				c.metrics.RecordError(ErrorTypeAuth, req.Method, endpoint)
				return nil, rerr
			}
			c.metrics.RecordTokenRefresh("success")
			// Replay the original request exactly once with the new token.
			continue
		}

		if err == nil && resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			c.guard.RecordRateLimited(retryAfter)
			c.metrics.RecordCooldown()
			if c.debugEnabled(c.debug != nil && c.debug.LogCooldown) {
				c.logger.Warn("Rate limited", "requestID", requestID, "endpoint", endpoint, "retryAfter", retryAfter)
			}
		}

		delay, retryable := c.retry.ShouldRetry(resp, err, attempt)
		if retryable {
			if sleepErr := sleepContext(req.Context(), delay); sleepErr != nil {
				return nil, c.newError(classifyErr(sleepErr), "request cancelled during backoff", sleepErr, requestID, req, attempt, 0, start)
			}
			attempt++
			continue
		}

		if err != nil {
			errType := classifyErr(err)
			c.metrics.RecordError(errType, req.Method, endpoint)
			return nil, c.newError(errType, "request failed", err, requestID, req, attempt, 0, start)
		}

		if errType := classifyStatus(resp.StatusCode); errType != "" {
			c.metrics.RecordError(errType, req.Method, endpoint)
			return resp, c.newError(errType, http.StatusText(resp.StatusCode), nil, requestID, req, attempt, resp.StatusCode, start)
		}

		return resp, nil
	}
}

// cloneForAttempt produces a fresh request for each transport attempt, with a
// rewound body and the current access token. Replays after a refresh pick up
// the new token here.
func (c *Client) cloneForAttempt(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			clone.Body = body
		}
	}
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			clone.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return clone
}

// lookup reads the memory tier first, falling back to the persisted tier and
// re-seeding memory on a hit. Persisted entries keep their original StoredAt
// so staleness is revalidated, never assumed.
func (c *Client) lookup(ctx context.Context, key string) (*Entry, bool, bool) {
	if entry, stale, found := c.store.GetWithStaleness(key); found {
		return entry, stale, true
	}
	if c.persist == nil {
		return nil, false, false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	entry, found, err := c.persist.Lookup(lookupCtx, key)
	if err != nil || !found {
		if err != nil && c.logger != nil {
			c.logger.Warn("Persisted lookup failed", "key", key, "error", err.Error())
		}
		return nil, false, false
	}

	c.seedMemory(key, entry)
	return entry, entry.Stale(time.Now()), true
}

// seedMemory restores a persisted entry into the memory tier without
// resetting its StoredAt.
func (c *Client) seedMemory(key string, entry *Entry) {
	if ms, ok := c.store.(*MemoryStore); ok {
		shard := ms.getShard(key)
		shard.mu.Lock()
		shard.store[key] = entry
		shard.mu.Unlock()
	}
}

// storeResult writes a successful read into the cache tiers, applying the
// route rule (or request override) for TTL and persistence.
func (c *Client) storeResult(req *http.Request, key string, resp *Response) {
	ttl, persist := c.ttlForRequest(req)
	if ttl <= 0 {
		return
	}

	entry := &Entry{
		Body:       resp.Body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
	c.store.Set(key, entry, ttl)

	if ms, ok := c.store.(*MemoryStore); ok {
		c.metrics.RecordCacheSize("memory", ms.Len())
	}

	if persist && c.persist != nil {
		persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.persist.Store(persistCtx, key, entry); err != nil && c.logger != nil {
			c.logger.Warn("Persisted store failed", "key", key, "error", err.Error())
		}
	}
}

// ttlForRequest resolves TTL and persistence: request override first, then
// exact route rule, then prefix rule, then the client default.
func (c *Client) ttlForRequest(req *http.Request) (time.Duration, bool) {
	if cc := cacheControlFor(req); cc != nil && cc.TTL > 0 {
		return cc.TTL, false
	}
	if req.URL != nil {
		if rule, ok := c.rules.lookup(req.URL.Path); ok {
			return rule.TTL, rule.Persist
		}
	}
	return c.defaultTTL, false
}

func (c *Client) cacheEnabled(req *http.Request) bool {
	if cc := cacheControlFor(req); cc != nil {
		return cc.Enabled
	}
	return c.cacheCondition == nil || c.cacheCondition(req)
}

func (c *Client) debugEnabled(flag bool) bool {
	return c.debug != nil && c.debug.Enabled && flag && c.logger != nil
}

func (c *Client) recordOutcome(method, endpoint string, resp *Response, start time.Time) {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	c.metrics.RecordRequest(method, endpoint, status, time.Since(start))
}

func (c *Client) newError(errType, message string, cause error, requestID string, req *http.Request, attempt, statusCode int, start time.Time) *ClientError {
	return &ClientError{
		Type:       errType,
		Message:    message,
		Cause:      cause,
		RequestID:  requestID,
		Method:     req.Method,
		URL:        req.URL.String(),
		Endpoint:   endpointFromRequest(req),
		StatusCode: statusCode,
		Attempt:    attempt,
		MaxRetries: c.maxRetries,
		Timestamp:  time.Now(),
		Duration:   time.Since(start),
	}
}

func isRateLimited(resp *Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	var clientErr *ClientError
	return errors.As(err, &clientErr) && clientErr.Type == ErrorTypeRateLimit
}

// drainResponse reads the body fully so the result can be shared between
// joined callers and the cache without racing on a live body.
func drainResponse(httpResp *http.Response) (*Response, error) {
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	_ = httpResp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("roomscore: read response body: %w", err)
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       body,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func endpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}
	host := req.URL.Host
	path := req.URL.Path
	var builder strings.Builder
	builder.WriteString(host)
	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}
	return builder.String()
}

// revalidator issues at most one background refresh per stale key.
type revalidator struct {
	client *Client
	group  *singleflight.Group
}

func newRevalidator(c *Client) *revalidator {
	return &revalidator{client: c, group: singleflight.New()}
}

// kick starts a background revalidation for key unless one is already
// running. The refreshed response lands in the cache through the normal
// pipeline path; the revalidating flag keeps the request from being answered
// by the very stale entry it is refreshing.
func (r *revalidator) kick(req *http.Request, key string) {
	ctx := context.WithValue(context.WithoutCancel(req.Context()), revalidatingKey, true)
	clone := req.Clone(ctx)
	clone.Header.Set(HeaderPrefetch, "1")
	go func() {
		_, _, _ = r.group.TryDo(key, func() (interface{}, error) {
			return r.client.Do(clone)
		})
	}()
}

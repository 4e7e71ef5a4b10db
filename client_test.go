package roomscore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestClientValidation(t *testing.T) {
	client := New(WithBaseURL("http://example.test"), WithMemoryCache())
	if !client.IsValid() {
		t.Errorf("valid configuration rejected: %v", client.ValidationError())
	}

	client = New(WithDefaultTTL(0), WithMaxRetries(-1))
	if client.IsValid() {
		t.Fatal("invalid configuration accepted")
	}
	var ce *ClientError
	if !errors.As(client.ValidationError(), &ce) || ce.Type != ErrorTypeValidation {
		t.Errorf("validation failure must be a validation ClientError, got %v", client.ValidationError())
	}
}

func TestClientCacheHitSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"rooms":[]}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithMemoryCache())

	first, err := client.Get(context.Background(), "/rooms")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	second, err := client.Get(context.Background(), "/rooms")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("fresh cache hit must not touch the network, got %d calls", calls.Load())
	}
	if string(first.Body) != string(second.Body) {
		t.Error("cached response must match the original")
	}
}

func TestClientBypassCacheForcesNetwork(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithMemoryCache())

	if _, err := client.Get(context.Background(), "/rooms"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := client.Get(WithContextBypassCache(context.Background()), "/rooms"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("bypass must skip the cache, got %d calls", calls.Load())
	}
}

func TestClientCacheDisabledByContext(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithMemoryCache())
	ctx := WithContextCacheDisabled(context.Background())

	_, _ = client.Get(ctx, "/tasks")
	_, _ = client.Get(ctx, "/tasks")
	if calls.Load() != 2 {
		t.Errorf("cache-disabled requests must always hit the network, got %d calls", calls.Load())
	}
}

func TestClientDeduplicatesConcurrentReads(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"value":42}`))
	}))
	defer server.Close()

	// No cache: de-duplication alone must collapse the concurrent reads.
	client := New(WithBaseURL(server.URL))

	type result struct {
		resp *Response
		err  error
	}
	results := make(chan result, 6)

	go func() {
		resp, err := client.Get(context.Background(), "/gamification/summary")
		results <- result{resp, err}
	}()

	// The owner registers its in-flight entry before dialing, so once the
	// server has the request every later caller joins instead of dialing.
	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 1 })

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(context.Background(), "/gamification/summary")
			results <- result{resp, err}
		}()
	}
	waitFor(t, 2*time.Second, func() bool { return client.dedup.Pending() == 1 })
	close(release)
	wg.Wait()

	for i := 0; i < 6; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("caller %d error = %v", i, r.err)
		}
		if string(r.resp.Body) != `{"value":42}` {
			t.Errorf("caller %d got body %q", i, r.resp.Body)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("6 concurrent identical reads must produce 1 network call, got %d", calls.Load())
	}
}

func TestClientPrefetchDoesNotJoinInFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			<-release
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))

	ownerDone := make(chan struct{})
	go func() {
		defer close(ownerDone)
		_, _ = client.Get(context.Background(), "/rooms")
	}()
	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 1 })

	// The prefetch must get its own network call instead of waiting on the
	// blocked user-initiated request.
	if _, err := client.Prefetch(context.Background(), "/rooms"); err != nil {
		t.Fatalf("Prefetch() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("prefetch must not join the in-flight read, got %d calls", calls.Load())
	}

	close(release)
	<-ownerDone
}

func TestClientRetriesUntilExhaustion(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithMaxRetries(2),
		WithRetryDelays(time.Millisecond, 10*time.Millisecond, time.Millisecond),
	)

	resp, err := client.Get(context.Background(), "/rooms")
	if err == nil {
		t.Fatal("exhausted retries must surface an error")
	}
	if calls.Load() != 3 {
		t.Errorf("initial attempt plus 2 retries means exactly 3 calls, got %d", calls.Load())
	}

	var ce *ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("error must be a ClientError, got %T", err)
	}
	if ce.Type != ErrorTypeServer || ce.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("ClientError = %+v, want server error with status 503", ce)
	}
	if ce.Attempt != 2 {
		t.Errorf("ClientError.Attempt = %d, want 2", ce.Attempt)
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Error("the final response must still be returned alongside the error")
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithRetryDelays(time.Millisecond, 10*time.Millisecond, time.Millisecond))

	_, err := client.Get(context.Background(), "/rooms/missing")
	var ce *ClientError
	if !errors.As(err, &ce) || ce.Type != ErrorTypeValidation {
		t.Errorf("404 must classify as validation error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx is terminal, got %d calls", calls.Load())
	}
}

func TestClientRateLimitServesStaleAndCoolsDown(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"rooms":["a"]}`))
			return
		}
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithMemoryCache(),
		WithMaxRetries(0),
		WithRouteRules(RouteRule{Route: "/rooms", Prefix: true, TTL: 20 * time.Millisecond}),
	)

	if _, err := client.Get(context.Background(), "/rooms"); err != nil {
		t.Fatalf("seed Get() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond) // entry goes stale

	// The 429 must fall back to the stale entry instead of erroring.
	resp, err := client.Get(context.Background(), "/rooms")
	if err != nil {
		t.Fatalf("rate-limited Get() error = %v, want stale fallback", err)
	}
	if string(resp.Body) != `{"rooms":["a"]}` {
		t.Errorf("stale fallback body = %q", resp.Body)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 network calls so far, got %d", calls.Load())
	}
	if !client.guard.IsCoolingDown() {
		t.Fatal("429 must start the cooldown")
	}

	// During cooldown, cached values are served without touching the network.
	resp, err = client.Get(context.Background(), "/rooms")
	if err != nil {
		t.Fatalf("cooldown Get() error = %v", err)
	}
	if string(resp.Body) != `{"rooms":["a"]}` {
		t.Errorf("cooldown serve body = %q", resp.Body)
	}
	if calls.Load() != 2 {
		t.Errorf("cooldown serve must not hit the network, got %d calls", calls.Load())
	}
}

func TestClientWriteInvalidatesPatterns(t *testing.T) {
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithMemoryCache())

	if _, err := client.Get(context.Background(), "/rooms"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	ctx := WithContextInvalidate(context.Background(), "/rooms")
	if _, err := client.Post(ctx, "/tasks/1/complete", map[string]bool{"done": true}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	if _, err := client.Get(context.Background(), "/rooms"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if gets.Load() != 2 {
		t.Errorf("the write must evict /rooms so the next read refetches, got %d GETs", gets.Load())
	}
}

func TestClientStaleWhileRevalidate(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			_, _ = w.Write([]byte("v1"))
		} else {
			_, _ = w.Write([]byte("v2"))
		}
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithMemoryCache(),
		WithStaleWhileRevalidate(),
		WithRouteRules(RouteRule{Route: "/profile", Prefix: true, TTL: 20 * time.Millisecond}),
	)

	if _, err := client.Get(context.Background(), "/profile"); err != nil {
		t.Fatalf("seed Get() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	// Stale hit: answered immediately from cache, refreshed in the background.
	resp, err := client.Get(context.Background(), "/profile")
	if err != nil {
		t.Fatalf("stale Get() error = %v", err)
	}
	if string(resp.Body) != "v1" {
		t.Errorf("stale serve must return the cached value, got %q", resp.Body)
	}

	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 2 })
	waitFor(t, 2*time.Second, func() bool {
		resp, err := client.Get(context.Background(), "/profile")
		return err == nil && string(resp.Body) == "v2"
	})
}

func TestClientRefreshAndReplayOn401(t *testing.T) {
	var refreshCalls atomic.Int32
	refreshServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "new-access", RefreshToken: "new-refresh"})
	}))
	defer refreshServer.Close()

	var apiCalls atomic.Int32
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer new-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("authorized"))
	}))
	defer apiServer.Close()

	store := NewMemoryTokenStore("stale-access", "valid-refresh")
	client := New(
		WithBaseURL(apiServer.URL),
		WithTokenStore(store, refreshServer.URL),
	)

	resp, err := client.Get(context.Background(), "/profile")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(resp.Body) != "authorized" {
		t.Errorf("replay body = %q", resp.Body)
	}
	if apiCalls.Load() != 2 {
		t.Errorf("401 then replay means exactly 2 API calls, got %d", apiCalls.Load())
	}
	if refreshCalls.Load() != 1 {
		t.Errorf("exactly 1 refresh call expected, got %d", refreshCalls.Load())
	}
	if store.AccessToken() != "new-access" {
		t.Error("store must hold the rotated access token")
	}
}

func TestClient401AfterReplayIsTerminal(t *testing.T) {
	refreshServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "still-bad"})
	}))
	defer refreshServer.Close()

	var apiCalls atomic.Int32
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer apiServer.Close()

	client := New(
		WithBaseURL(apiServer.URL),
		WithTokenStore(NewMemoryTokenStore("a", "r"), refreshServer.URL),
	)

	_, err := client.Get(context.Background(), "/profile")
	var ce *ClientError
	if !errors.As(err, &ce) || ce.Type != ErrorTypeAuth {
		t.Errorf("second 401 must be a terminal auth error, got %v", err)
	}
	if apiCalls.Load() != 2 {
		t.Errorf("only one replay is allowed, got %d API calls", apiCalls.Load())
	}
}

func TestClientRefreshFailureLogsOut(t *testing.T) {
	refreshServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer refreshServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer apiServer.Close()

	store := NewMemoryTokenStore("a", "r")
	logoutFired := false
	client := New(
		WithBaseURL(apiServer.URL),
		WithTokenStore(store, refreshServer.URL),
		WithLogoutHandler(func() { logoutFired = true }),
	)

	_, err := client.Get(context.Background(), "/profile")
	if !errors.Is(err, ErrLoggedOut) {
		t.Errorf("failed refresh must surface ErrLoggedOut, got %v", err)
	}
	if !logoutFired {
		t.Error("failed refresh must fire the logout handler")
	}
	if store.AccessToken() != "" || store.RefreshToken() != "" {
		t.Error("failed refresh must clear the token store")
	}
}

func TestClientLogoutHandlerOrderIndependent(t *testing.T) {
	refreshServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer refreshServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer apiServer.Close()

	// The hook must survive being configured before the token store.
	logoutFired := false
	client := New(
		WithLogoutHandler(func() { logoutFired = true }),
		WithBaseURL(apiServer.URL),
		WithTokenStore(NewMemoryTokenStore("a", "r"), refreshServer.URL),
	)

	if _, err := client.Get(context.Background(), "/profile"); !errors.Is(err, ErrLoggedOut) {
		t.Fatalf("failed refresh must surface ErrLoggedOut, got %v", err)
	}
	if !logoutFired {
		t.Error("logout handler configured before the token store must still fire")
	}
}

func TestClientRefresherInheritsLogger(t *testing.T) {
	logger := NewSimpleLogger()
	client := New(
		WithLogger(logger),
		WithTokenStore(NewMemoryTokenStore("a", "r"), "http://unused.invalid/refresh"),
	)

	if client.refresher.logger != logger {
		t.Error("refresher must pick up the client logger at construction")
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	tag := func(name string) Middleware {
		return func(req *http.Request, next RoundTripper) (*http.Response, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return next.RoundTrip(req)
		}
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithMiddleware(tag("outer"), tag("inner")))
	if _, err := client.Get(context.Background(), "/rooms"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Errorf("middleware must run outermost first, got %v", order)
	}
}

func TestClientNetworkErrorClassification(t *testing.T) {
	client := New(
		WithBaseURL("http://127.0.0.1:1"),
		WithMaxRetries(1),
		WithRetryDelays(time.Millisecond, 10*time.Millisecond, time.Millisecond),
	)

	_, err := client.Get(context.Background(), "/rooms")
	var ce *ClientError
	if !errors.As(err, &ce) || ce.Type != ErrorTypeNetwork {
		t.Errorf("unreachable host must classify as network error, got %v", err)
	}
}

func TestClientCached(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithMemoryCache())

	req, err := client.newRequest(context.Background(), http.MethodGet, "/rooms", nil)
	if err != nil {
		t.Fatalf("newRequest() error = %v", err)
	}
	if _, err := client.Cached(req); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("empty cache must report ErrCacheMiss, got %v", err)
	}

	if _, err := client.Get(context.Background(), "/rooms"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp, err := client.Cached(req)
	if err != nil {
		t.Fatalf("Cached() error = %v", err)
	}
	if string(resp.Body) != "hello" || calls.Load() != 1 {
		t.Errorf("Cached must serve without the network, body %q after %d calls", resp.Body, calls.Load())
	}
}

func TestClientPrefetchSuppressedDuringCooldown(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	client.guard.RecordRateLimited(time.Minute)

	if _, err := client.Prefetch(context.Background(), "/rooms"); !errors.Is(err, ErrCoolingDown) {
		t.Errorf("prefetch during cooldown must report ErrCoolingDown, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("suppressed prefetch must not hit the network, got %d calls", calls.Load())
	}

	// User-initiated reads still proceed when nothing is cached.
	if _, err := client.Get(context.Background(), "/rooms"); err != nil {
		t.Fatalf("Get() during cooldown error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("user-initiated read must proceed, got %d calls", calls.Load())
	}
}

func TestClientInvalidateAndClear(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithMemoryCache())

	_, _ = client.Get(context.Background(), "/rooms")
	_, _ = client.Get(context.Background(), "/profile")

	if removed := client.Invalidate("/rooms"); removed != 1 {
		t.Errorf("Invalidate(/rooms) removed %d entries, want 1", removed)
	}
	_, _ = client.Get(context.Background(), "/profile")
	if calls.Load() != 2 {
		t.Errorf("/profile must still be cached after invalidating /rooms, got %d calls", calls.Load())
	}

	client.ClearCache()
	_, _ = client.Get(context.Background(), "/profile")
	if calls.Load() != 3 {
		t.Errorf("ClearCache must drop every entry, got %d calls", calls.Load())
	}
}

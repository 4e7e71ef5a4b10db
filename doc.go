// Package roomscore provides the resilient API access layer for the RoomScore
// room/habit-tracking client:
//
//   - In-flight de-duplication of identical read requests (single-flight)
//   - TTL response caching with stale-while-revalidate and pattern invalidation
//   - Bounded retries with linear backoff and a dedicated 429 floor
//   - Global rate-limit cooldown that falls back to cached (possibly stale) data
//   - Transparent access-token refresh with a single replay per request
//   - Optimistic local mutations with automatic rollback on remote failure
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area - functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Explicit, constructed state so tests can run isolated clients
//   - Pluggable cache stores (sharded memory, size-bounded, persisted tier)
//
// Typical usage:
//
//	client := roomscore.New(
//	    roomscore.WithBaseURL("https://api.roomscore.app"),
//	    roomscore.WithMemoryCache(),
//	    roomscore.WithRouteRules(roomscore.DefaultRouteRules()...),
//	    roomscore.WithTokenStore(tokens, "https://api.roomscore.app/auth/refresh"),
//	)
//	resp, err := client.Get(ctx, "/rooms")
//
// Writes are never cached or de-duplicated; a successful write may invalidate
// cached reads via WithContextInvalidate. The library avoids opinionated
// logging: provide a Logger (e.g. via WithSimpleLogger or NewZerologLogger)
// and enable debug flags selectively for insight without noise.
package roomscore

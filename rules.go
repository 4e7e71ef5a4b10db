package roomscore

import (
	"strings"
	"time"
)

// RouteRule binds a cache TTL to a route. TTLs are per-route because
// staleness tolerance differs by what the data means: profile data keeps for
// minutes, notification counts for seconds. Persist marks entries for the
// longer-lived persisted tier so a fresh app launch can render from the
// previous session before revalidating.
type RouteRule struct {
	Route   string
	Prefix  bool
	TTL     time.Duration
	Persist bool
}

// routeTable resolves the rule for a path. Exact matches win over prefix
// matches; among prefix matches the longest route wins. New routes require an
// explicit registration rather than implicit string matching.
type routeTable struct {
	rules []RouteRule
}

func newRouteTable(rules []RouteRule) *routeTable {
	return &routeTable{rules: rules}
}

func (t *routeTable) lookup(path string) (RouteRule, bool) {
	var best RouteRule
	bestLen := -1
	for _, r := range t.rules {
		if !r.Prefix {
			if r.Route == path {
				return r, true
			}
			continue
		}
		if strings.HasPrefix(path, r.Route) && len(r.Route) > bestLen {
			best = r
			bestLen = len(r.Route)
		}
	}
	return best, bestLen >= 0
}

// DefaultRouteRules returns the TTL table for the RoomScore API. Profile data
// is long-lived and survives restarts; room listings revalidate every few
// minutes; notification counts go stale almost immediately and are never
// persisted.
func DefaultRouteRules() []RouteRule {
	return []RouteRule{
		{Route: "/profile", Prefix: true, TTL: 10 * time.Minute, Persist: true},
		{Route: "/rooms", Prefix: true, TTL: 3 * time.Minute, Persist: true},
		{Route: "/tasks", Prefix: true, TTL: 2 * time.Minute, Persist: false},
		{Route: "/gamification/summary", TTL: 5 * time.Minute, Persist: true},
		{Route: "/notifications/count", TTL: 30 * time.Second, Persist: false},
		{Route: "/notifications", Prefix: true, TTL: time.Minute, Persist: false},
	}
}

package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/arclabs/arcgate/pkg/config"
	"github.com/arclabs/arcgate/pkg/store"
)

// Route is one entry of the effective route list.
type Route struct {
	PathPrefix  string
	Upstream    string
	RequireAuth bool
	StripPrefix string

	// static routes win over dynamic ones at equal prefix length.
	static bool
}

// RouteCache is the copy-on-write snapshot of the effective route list:
// static config routes and enabled dynamic store routes, sorted for
// longest-prefix matching, plus the implicit /auth/ band and the optional
// default upstream. Reads are an atomic pointer load; Rebuild swaps in a
// fresh snapshot.
type RouteCache struct {
	log          logrus.FieldLogger
	store        store.Store
	staticRoutes []Route
	authUpstream string
	defaultUp    string

	rebuildMu sync.Mutex
	snapshot  atomic.Pointer[[]Route]
}

// NewRouteCache builds a cache over the static config routes and the store.
func NewRouteCache(
	log logrus.FieldLogger,
	st store.Store,
	routing config.RoutingConfig,
	authUpstream string,
) *RouteCache {
	staticRoutes := make([]Route, 0, len(routing.Routes))

	for _, r := range routing.Routes {
		staticRoutes = append(staticRoutes, Route{
			PathPrefix:  r.Path,
			Upstream:    r.Upstream,
			RequireAuth: r.Auth,
			StripPrefix: r.StripPrefix,
			static:      true,
		})
	}

	return &RouteCache{
		log:          log.WithField("component", "routecache"),
		store:        st,
		staticRoutes: staticRoutes,
		authUpstream: authUpstream,
		defaultUp:    routing.DefaultUpstream,
	}
}

// Rebuild loads the enabled dynamic routes and swaps in a new snapshot.
// Serialized so concurrent admin mutations cannot interleave stale swaps.
func (c *RouteCache) Rebuild(ctx context.Context) error {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	dynamic, err := c.store.ListEnabledProxyRoutes(ctx)
	if err != nil {
		return fmt.Errorf("loading dynamic routes: %w", err)
	}

	routes := make([]Route, 0, len(c.staticRoutes)+len(dynamic))
	routes = append(routes, c.staticRoutes...)

	for _, r := range dynamic {
		routes = append(routes, Route{
			PathPrefix:  r.PathPrefix,
			Upstream:    r.Upstream,
			RequireAuth: r.RequireAuth,
			StripPrefix: r.StripPrefix,
		})
	}

	// Longest prefix first; static before dynamic at equal length. The
	// sort is stable so insertion order breaks remaining ties.
	sort.SliceStable(routes, func(i, j int) bool {
		if len(routes[i].PathPrefix) != len(routes[j].PathPrefix) {
			return len(routes[i].PathPrefix) > len(routes[j].PathPrefix)
		}

		return routes[i].static && !routes[j].static
	})

	c.snapshot.Store(&routes)
	c.log.WithField("count", len(routes)).Debug("Route cache rebuilt")

	return nil
}

// AuthUpstream returns the loopback auth API address.
func (c *RouteCache) AuthUpstream() string {
	return c.authUpstream
}

// Match resolves a request path to a route. The implicit /auth/ band and
// the default upstream sit below every configured route; nil means no
// route matches.
func (c *RouteCache) Match(path string) *Route {
	if snap := c.snapshot.Load(); snap != nil {
		for i := range *snap {
			route := &(*snap)[i]
			if strings.HasPrefix(path, route.PathPrefix) {
				return route
			}
		}
	}

	if path == "/auth" || strings.HasPrefix(path, "/auth/") {
		return &Route{
			PathPrefix: "/auth",
			Upstream:   c.authUpstream,
		}
	}

	if c.defaultUp != "" {
		return &Route{
			PathPrefix:  "/",
			Upstream:    c.defaultUp,
			RequireAuth: true,
		}
	}

	return nil
}

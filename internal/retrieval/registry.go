// Package retrieval implements the parallel retrieval engine: the
// intent → provider router, concurrent dispatch with per-provider
// timeouts and result caching, and the fusion step that merges N
// provider lists into one ranked evidence list.
package retrieval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/porchlabs/porchlight/internal/adminconfig"
	"github.com/porchlabs/porchlight/internal/intent"
	"github.com/porchlabs/porchlight/pkg/provider/search"
)

// routesFlag is the admin feature flag overriding the route table. Its
// value is a map of intent name to ordered provider names.
const routesFlag = "retrieval.routes"

// routesRefresh bounds how often the admin override is re-read. The
// admin client caches underneath.
const routesRefresh = 60 * time.Second

// defaultRoutes is the built-in route table. Order matters: fusion
// breaks confidence ties by position in this list.
var defaultRoutes = map[intent.Intent][]string{
	intent.EventSearch:   {"ticketmaster", "seatgeek", "brave", "serpapi"},
	intent.News:          {"brave", "serpapi"},
	intent.LocalBusiness: {"brave", "serpapi"},
	intent.General:       {"brave", "serpapi"},
	intent.Weather:       {"weather"},
	intent.Sports:        {"sports"},
	intent.Airports:      {"airports"},
	// control, greeting, unknown: no retrieval.
}

// Registry maps intents to ordered provider lists. Providers register
// by name; intents route to whichever of their named providers are
// actually configured. Safe for concurrent use.
type Registry struct {
	admin *adminconfig.Client

	mu        sync.RWMutex
	providers map[string]search.Provider
	routes    map[intent.Intent][]string
	routesAt  time.Time
}

// NewRegistry creates a Registry with the built-in route table. admin
// may be nil, in which case the table is never overridden.
func NewRegistry(admin *adminconfig.Client) *Registry {
	return &Registry{
		admin:     admin,
		providers: make(map[string]search.Provider),
		routes:    defaultRoutes,
	}
}

// Register adds a provider under its own Name. Registering the same
// name twice replaces the earlier provider.
func (r *Registry) Register(p search.Provider) {
	r.mu.Lock()
	r.providers[p.Name()] = p
	r.mu.Unlock()
}

// ProvidersFor returns the ordered providers routed for in. Named
// providers that were never registered (missing API key, unconfigured
// endpoint) are silently skipped. Intents with no retrieval return nil.
func (r *Registry) ProvidersFor(ctx context.Context, in intent.Intent) []search.Provider {
	names := r.currentRoutes(ctx)[in]
	if len(names) == 0 {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]search.Provider, 0, len(names))
	for _, name := range names {
		if p, ok := r.providers[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// currentRoutes returns the active route table, applying the admin
// override at most every routesRefresh.
func (r *Registry) currentRoutes(ctx context.Context) map[intent.Intent][]string {
	r.mu.RLock()
	fresh := time.Since(r.routesAt) < routesRefresh
	routes := r.routes
	r.mu.RUnlock()
	if r.admin == nil || fresh {
		return routes
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.routesAt) < routesRefresh {
		return r.routes
	}
	r.routesAt = time.Now()

	var raw map[string][]string
	if !r.admin.GetJSONFlag(ctx, routesFlag, &raw) {
		r.routes = defaultRoutes
		return r.routes
	}
	routes = make(map[intent.Intent][]string, len(raw))
	for name, providers := range raw {
		in := intent.Parse(name)
		if in == intent.Unknown {
			slog.Warn("route override names unknown intent, skipping", "intent", name)
			continue
		}
		routes[in] = providers
	}
	if len(routes) == 0 {
		routes = defaultRoutes
	}
	r.routes = routes
	return r.routes
}

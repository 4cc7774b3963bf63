package retrieval

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/porchlabs/porchlight/internal/cache"
	"github.com/porchlabs/porchlight/internal/intent"
	"github.com/porchlabs/porchlight/internal/observe"
	"github.com/porchlabs/porchlight/pkg/provider/search"
)

const (
	// DefaultProviderTimeout bounds each provider call. Providers run in
	// parallel, so this is also the stage's overall deadline.
	DefaultProviderTimeout = 3 * time.Second

	// DefaultResultTTL is the cache TTL for provider results when neither
	// the intent nor the provider overrides it.
	DefaultResultTTL = 900 * time.Second

	// DefaultTopK is how many fused results survive truncation.
	DefaultTopK = 5
)

// intentTTLs overrides the result TTL per intent. Perishable data gets
// shorter windows than the default.
var intentTTLs = map[intent.Intent]time.Duration{
	intent.Weather:  300 * time.Second,
	intent.Sports:   120 * time.Second,
	intent.Airports: 120 * time.Second,
	intent.News:     600 * time.Second,
}

// Engine dispatches a query to the providers routed for its intent,
// caches per-provider results, and fuses the lists into ranked
// evidence. Safe for concurrent use.
type Engine struct {
	registry *Registry
	store    cache.Store
	metrics  *observe.Metrics

	providerTimeout time.Duration
	defaultTTL      time.Duration
	topK            int
}

// EngineOption is a functional option for NewEngine.
type EngineOption func(*Engine)

// WithProviderTimeout overrides the per-provider timeout.
func WithProviderTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.providerTimeout = d
		}
	}
}

// WithResultTTL overrides the default result cache TTL.
func WithResultTTL(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.defaultTTL = d
		}
	}
}

// WithTopK overrides how many fused results are kept.
func WithTopK(k int) EngineOption {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithMetrics overrides the metrics sink, for tests.
func WithMetrics(m *observe.Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEngine creates an Engine over registry. store may be nil to
// disable result caching.
func NewEngine(registry *Registry, store cache.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:        registry,
		store:           store,
		providerTimeout: DefaultProviderTimeout,
		defaultTTL:      DefaultResultTTL,
		topK:            DefaultTopK,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Retrieve fans the query out to every provider routed for in and
// returns the fused, ranked evidence list. Provider failures and
// timeouts degrade to empty lists with a warning; Retrieve itself never
// fails. An empty return means "no supporting data", which the
// synthesis stage handles with the no-evidence prompt.
func (e *Engine) Retrieve(ctx context.Context, in intent.Intent, q search.Query) []search.Result {
	providers := e.registry.ProvidersFor(ctx, in)
	if len(providers) == 0 {
		return nil
	}
	if q.Limit <= 0 {
		q.Limit = e.topK
	}

	lists := make([][]search.Result, len(providers))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, p := range providers {
		eg.Go(func() error {
			lists[i] = e.fetchOne(egCtx, in, p, q)
			return nil
		})
	}
	// Goroutines never return errors; failures degrade in fetchOne.
	_ = eg.Wait()

	return Fuse(in, lists, e.topK)
}

// fetchOne resolves one provider's results: cache first, then a fetch
// bounded by the per-provider timeout, then a cache fill.
func (e *Engine) fetchOne(ctx context.Context, in intent.Intent, p search.Provider, q search.Query) []search.Result {
	key := cache.SearchKey(p.Name(), q.Text, q.Location)
	if e.store != nil {
		var cached []search.Result
		if e.store.Get(ctx, key, &cached) {
			e.metrics.RecordCacheOp(ctx, "search", true)
			return cached
		}
		e.metrics.RecordCacheOp(ctx, "search", false)
	}

	ctx, cancel := context.WithTimeout(ctx, e.providerTimeout)
	defer cancel()

	start := time.Now()
	results, err := p.Search(ctx, q)
	if err != nil {
		e.metrics.RecordProviderRequest(ctx, p.Name(), "error")
		slog.Warn("retrieval provider failed",
			"provider", p.Name(),
			"intent", in,
			"elapsed", time.Since(start),
			"error", err)
		return nil
	}
	e.metrics.RecordProviderRequest(ctx, p.Name(), "ok")

	if e.store != nil && len(results) > 0 {
		e.store.Set(ctx, key, results, e.resultTTL(in, p))
	}
	return results
}

// resultTTL computes min(intent TTL, provider TTL), ignoring zeroes.
func (e *Engine) resultTTL(in intent.Intent, p search.Provider) time.Duration {
	ttl := e.defaultTTL
	if t, ok := intentTTLs[in]; ok {
		ttl = t
	}
	if pt := p.TTL(); pt > 0 && pt < ttl {
		ttl = pt
	}
	return ttl
}

package intent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/porchlabs/porchlight/internal/adminconfig"
	"github.com/porchlabs/porchlight/internal/cache"
	"github.com/porchlabs/porchlight/pkg/provider/llm"
)

// DefaultCacheTTL is how long classifications stay cached.
const DefaultCacheTTL = 300 * time.Second

// llmClassifierFlag is the admin feature flag gating the LLM stage.
const llmClassifierFlag = "classifier.llm_enabled"

// Classification is the classifier's output.
type Classification struct {
	Intent     Intent            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities,omitempty"`
}

// Classifier runs the two-stage classification with caching. Safe for
// concurrent use.
type Classifier struct {
	store    cache.Store
	admin    *adminconfig.Client
	fast     llm.Provider // nil disables the LLM stage outright
	cacheTTL time.Duration
	llmFlag  bool // config default, admin flag can override

	mu        sync.Mutex
	rules     []rule
	rulesFrom time.Time
}

// rulesRefresh is how often the admin rule override is re-checked. The
// admin client caches underneath, so this only bounds recompilation.
const rulesRefresh = 60 * time.Second

// Option is a functional option for NewClassifier.
type Option func(*Classifier)

// WithCacheTTL overrides the classification cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Classifier) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithLLM enables the LLM classification stage using provider. The
// enabled flag is the configured default; the admin feature flag
// overrides it at runtime.
func WithLLM(provider llm.Provider, enabled bool) Option {
	return func(c *Classifier) {
		c.fast = provider
		c.llmFlag = enabled
	}
}

// NewClassifier creates a Classifier. store may be nil (no caching);
// admin may be nil (built-in rules only).
func NewClassifier(store cache.Store, admin *adminconfig.Client, opts ...Option) *Classifier {
	c := &Classifier{
		store:    store,
		admin:    admin,
		cacheTTL: DefaultCacheTTL,
		rules:    defaultRules,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify categorises query. It is total: every query yields a valid
// intent, a confidence in [0,1], and extracted entities; no error path
// reaches the caller.
func (c *Classifier) Classify(ctx context.Context, query string) Classification {
	normalised := strings.ToLower(strings.TrimSpace(query))
	key := cache.IntentKey(normalised)

	if c.store != nil {
		var cached Classification
		if c.store.Get(ctx, key, &cached) && cached.Intent.IsValid() {
			return cached
		}
	}

	in, conf := c.classify(ctx, query)
	result := Classification{
		Intent:     in,
		Confidence: conf,
		Entities:   ExtractEntities(in, query),
	}

	if c.store != nil {
		c.store.Set(ctx, key, result, c.cacheTTL)
	}
	return result
}

// classify runs the LLM stage (when enabled) then the keyword stage.
func (c *Classifier) classify(ctx context.Context, query string) (Intent, float64) {
	if c.fast != nil && c.llmEnabled(ctx) {
		if in, conf, ok := classifyLLM(ctx, c.fast, query); ok {
			return in, conf
		}
		slog.Debug("llm classifier declined, falling back to keywords")
	}
	return classifyKeyword(c.currentRules(ctx), query)
}

// llmEnabled resolves the LLM-stage toggle: admin flag wins, configured
// default otherwise.
func (c *Classifier) llmEnabled(ctx context.Context) bool {
	if c.admin == nil {
		return c.llmFlag
	}
	return c.admin.GetBoolFlag(ctx, llmClassifierFlag, c.llmFlag)
}

// currentRules returns the active rule table, recompiling the admin
// override at most every rulesRefresh.
func (c *Classifier) currentRules(ctx context.Context) []rule {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.admin != nil && time.Since(c.rulesFrom) >= rulesRefresh {
		c.rulesFrom = time.Now()
		if raw := c.admin.GetRules(ctx); raw != nil {
			if compiled := compileRules(raw); compiled != nil {
				c.rules = compiled
			}
		} else {
			c.rules = defaultRules
		}
	}
	return c.rules
}

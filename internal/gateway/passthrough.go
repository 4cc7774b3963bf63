package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/porchlabs/porchlight/internal/adminconfig"
	"github.com/porchlabs/porchlight/internal/observe"
	"github.com/porchlabs/porchlight/internal/resilience"
	"github.com/porchlabs/porchlight/pkg/provider/llm"
	"github.com/porchlabs/porchlight/pkg/provider/llm/anyllm"
	"github.com/porchlabs/porchlight/pkg/provider/llm/openai"
)

// Passthrough forwards chat requests straight to a model backend. The
// backend list comes from admin config on every call, so operators can
// add, disable, or reprioritise backends without a restart. Each backend
// keeps a persistent circuit breaker; an open breaker skips the backend
// until its reset timeout elapses.
//
// Safe for concurrent use.
type Passthrough struct {
	admin   *adminconfig.Client
	metrics *observe.Metrics
	cbCfg   resilience.CircuitBreakerConfig

	mu        sync.Mutex
	providers map[string]llm.Provider          // provider key → client
	breakers  map[string]*resilience.CircuitBreaker // backend ID → breaker
}

// PassthroughOption is a functional option for NewPassthrough.
type PassthroughOption func(*Passthrough)

// WithBreakerConfig overrides the per-backend circuit breaker settings.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) PassthroughOption {
	return func(p *Passthrough) { p.cbCfg = cfg }
}

// NewPassthrough creates a Passthrough reading backends from admin.
func NewPassthrough(admin *adminconfig.Client, opts ...PassthroughOption) *Passthrough {
	p := &Passthrough{
		admin:     admin,
		metrics:   observe.DefaultMetrics(),
		providers: make(map[string]llm.Provider),
		breakers:  make(map[string]*resilience.CircuitBreaker),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Complete forwards req to the first healthy backend and returns the
// response together with the model name that served it. Backends are
// tried in order: the one matching the requested model first, then the
// rest by operator priority.
func (p *Passthrough) Complete(ctx context.Context, req ChatRequest) (*llm.CompletionResponse, string, error) {
	backends := p.admin.GetBackends(ctx)
	if len(backends) == 0 {
		return nil, "", errors.New("gateway: no model backends configured")
	}

	var lastErr error
	for _, b := range orderBackends(backends, req.Model) {
		prov, err := p.provider(b)
		if err != nil {
			slog.Warn("skipping misconfigured backend", "backend", b.ID, "error", err)
			lastErr = err
			continue
		}

		var resp *llm.CompletionResponse
		start := time.Now()
		err = p.breaker(b).Execute(func() error {
			cctx, cancel := context.WithTimeout(ctx, b.Timeout())
			defer cancel()
			var callErr error
			resp, callErr = prov.Complete(cctx, toCompletionRequest(req, b))
			return callErr
		})
		elapsed := time.Since(start)

		if err == nil {
			p.metrics.RecordBackendCall(ctx, b.ModelName, "passthrough", elapsed)
			p.reportSample(b.ID, elapsed, resp.Usage.CompletionTokens)
			return resp, b.ModelName, nil
		}
		lastErr = err
		if errors.Is(err, resilience.ErrCircuitOpen) {
			slog.Debug("skipping backend (circuit open)", "backend", b.ID)
		} else {
			slog.Warn("backend failed, trying next", "backend", b.ID, "error", err)
		}
	}
	return nil, "", fmt.Errorf("gateway: %w: %v", resilience.ErrAllFailed, lastErr)
}

// reportSample writes the performance sample back to the admin store.
// Detached from the request context so a client disconnect does not drop
// the sample.
func (p *Passthrough) reportSample(backendID string, elapsed time.Duration, completionTokens int) {
	m := adminconfig.BackendMetrics{
		LatencyMS: float64(elapsed.Milliseconds()),
	}
	if secs := elapsed.Seconds(); secs > 0 && completionTokens > 0 {
		m.TokensPerSec = float64(completionTokens) / secs
	}
	go p.admin.ReportBackendMetrics(context.Background(), backendID, m)
}

// provider returns the client for b, constructing and caching it on
// first use. The cache key includes the endpoint and model so an
// operator edit to either produces a fresh client.
func (p *Passthrough) provider(b adminconfig.Backend) (llm.Provider, error) {
	key := b.ID + "|" + b.EndpointURL + "|" + b.ModelName

	p.mu.Lock()
	defer p.mu.Unlock()
	if prov, ok := p.providers[key]; ok {
		return prov, nil
	}

	prov, err := buildProvider(b)
	if err != nil {
		return nil, err
	}
	p.providers[key] = prov
	return prov, nil
}

// buildProvider constructs the client implementation for b.
func buildProvider(b adminconfig.Backend) (llm.Provider, error) {
	switch b.Provider {
	case "", "openai":
		return openai.New(b.EndpointURL, b.ModelName, openai.WithTimeout(b.Timeout()))
	default:
		return anyllm.New(b.Provider, b.ModelName, anyllmlib.WithBaseURL(b.EndpointURL))
	}
}

// breaker returns the persistent circuit breaker for b.
func (p *Passthrough) breaker(b adminconfig.Backend) *resilience.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	cb, ok := p.breakers[b.ID]
	if !ok {
		cfg := p.cbCfg
		cfg.Name = b.ID
		cb = resilience.NewCircuitBreaker(cfg)
		p.breakers[b.ID] = cb
	}
	return cb
}

// orderBackends returns backends with any entry matching requestedModel
// moved to the front; the remainder keep their priority order.
func orderBackends(backends []adminconfig.Backend, requestedModel string) []adminconfig.Backend {
	if requestedModel == "" {
		return backends
	}
	ordered := make([]adminconfig.Backend, 0, len(backends))
	var rest []adminconfig.Backend
	for _, b := range backends {
		if b.ModelName == requestedModel {
			ordered = append(ordered, b)
		} else {
			rest = append(rest, b)
		}
	}
	return append(ordered, rest...)
}

// toCompletionRequest maps the wire envelope onto the provider request,
// applying the backend's defaults and caps.
func toCompletionRequest(req ChatRequest, b adminconfig.Backend) llm.CompletionRequest {
	out := llm.CompletionRequest{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if out.Temperature == 0 {
		out.Temperature = b.TemperatureDefault
	}
	if b.MaxTokens > 0 && (out.MaxTokens <= 0 || out.MaxTokens > b.MaxTokens) {
		out.MaxTokens = b.MaxTokens
	}
	for _, m := range req.Messages {
		if m.Role == "system" && out.SystemPrompt == "" {
			out.SystemPrompt = m.Content
			continue
		}
		out.Messages = append(out.Messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// Package mock provides a test double for search.Provider.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/porchlabs/porchlight/pkg/provider/search"
)

// Provider is a configurable search.Provider double.
type Provider struct {
	// ProviderName is returned by Name.
	ProviderName string

	// Results is returned by Search when SearchFn is nil.
	Results []search.Result

	// Err is returned by Search when non-nil (and SearchFn is nil).
	Err error

	// Delay makes Search sleep before responding, honouring ctx.
	Delay time.Duration

	// SearchFn, when set, handles Search entirely.
	SearchFn func(ctx context.Context, q search.Query) ([]search.Result, error)

	// ResultTTL is returned by TTL.
	ResultTTL time.Duration

	mu    sync.Mutex
	calls []search.Query
}

// Name implements search.Provider.
func (p *Provider) Name() string { return p.ProviderName }

// TTL implements search.Provider.
func (p *Provider) TTL() time.Duration { return p.ResultTTL }

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, q)
	p.mu.Unlock()

	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.SearchFn != nil {
		return p.SearchFn(ctx, q)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([]search.Result, len(p.Results))
	copy(out, p.Results)
	return out, nil
}

// CallCount returns how many times Search was invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Calls returns a copy of the queries seen so far.
func (p *Provider) Calls() []search.Query {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]search.Query, len(p.calls))
	copy(out, p.calls)
	return out
}

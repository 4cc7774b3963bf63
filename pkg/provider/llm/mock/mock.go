// Package mock provides a test double for llm.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/porchlabs/porchlight/pkg/provider/llm"
)

// Provider is a configurable llm.Provider double. Set Response or
// CompleteFn before use; all calls are recorded.
type Provider struct {
	// Response is returned by Complete when CompleteFn is nil.
	Response string

	// Err is returned by Complete when non-nil (and CompleteFn is nil).
	Err error

	// CompleteFn, when set, handles Complete entirely.
	CompleteFn func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// ModelName is returned by Model. Defaults to "mock-model".
	ModelName string

	mu    sync.Mutex
	calls []llm.CompletionRequest
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.CompleteFn != nil {
		return p.CompleteFn(ctx, req)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	return &llm.CompletionResponse{
		Content: p.Response,
		Usage: llm.Usage{
			PromptTokens:     llm.EstimateTokens(req.Messages),
			CompletionTokens: (len(p.Response) + 3) / 4,
		},
	}, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []llm.Message) int {
	return llm.EstimateTokens(messages)
}

// Model implements llm.Provider.
func (p *Provider) Model() string {
	if p.ModelName == "" {
		return "mock-model"
	}
	return p.ModelName
}

// Calls returns a copy of every request seen so far.
func (p *Provider) Calls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Complete invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

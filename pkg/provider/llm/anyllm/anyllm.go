// Package anyllm provides an LLM provider backed by
// github.com/mozilla-ai/any-llm-go, covering local backends that do not
// speak the chat-completions shape natively (Ollama's /api/generate,
// llama.cpp, llamafile).
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"

	"github.com/porchlabs/porchlight/pkg/provider/llm"
)

// Provider implements llm.Provider by wrapping an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider for the named backend kind.
//
// kind is one of "ollama", "llamacpp", "llamafile". Use
// anyllmlib.WithBaseURL to point at a non-default endpoint.
func New(kind, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	backend, err := createBackend(kind, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", kind, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// createBackend instantiates the underlying any-llm-go provider.
func createBackend(kind string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(kind) {
	case "ollama":
		return ollama.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend kind %q; supported: ollama, llamacpp, llamafile", kind)
	}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params := p.buildParams(req)

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	result := &llm.CompletionResponse{
		Content: resp.Choices[0].Message.ContentString(),
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// CountTokens implements llm.Provider using the shared approximation.
func (p *Provider) CountTokens(messages []llm.Message) int {
	return llm.EstimateTokens(messages)
}

// Model implements llm.Provider.
func (p *Provider) Model() string { return p.model }

// buildParams converts our CompletionRequest into anyllm params.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

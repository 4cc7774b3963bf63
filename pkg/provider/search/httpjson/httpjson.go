// Package httpjson adapts Porchlight's retrieval microservices to the
// search.Provider contract.
//
// Every retrieval service speaks the same wire shape — POST /query with
// {query, location?, limit} returning {results:[{title, snippet, url?,
// confidence?, metadata?}], source, fetched_at} — so one adapter covers
// the event APIs, the web searchers, and the dedicated weather/sports/
// airports services. Per-service differences (path, API key header,
// result TTL) are construction options.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/porchlabs/porchlight/pkg/provider/search"
)

// Provider implements search.Provider over a retrieval service's HTTP API.
type Provider struct {
	name    string
	baseURL string
	path    string
	apiKey  string
	ttl     time.Duration
	httpc   *http.Client
}

// Option is a functional option for New.
type Option func(*Provider)

// WithPath overrides the default /query request path.
func WithPath(path string) Option {
	return func(p *Provider) { p.path = path }
}

// WithAPIKey sends the key as an X-API-Key header on every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithTTL sets the provider-specific result TTL.
func WithTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.ttl = ttl }
}

// WithHTTPClient injects an HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(p *Provider) { p.httpc = h }
}

// New creates an adapter named name for the service at baseURL.
func New(name, baseURL string, opts ...Option) (*Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("httpjson: name must not be empty")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("httpjson: baseURL must not be empty")
	}
	p := &Provider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    "/query",
		httpc:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements search.Provider.
func (p *Provider) Name() string { return p.name }

// TTL implements search.Provider.
func (p *Provider) TTL() time.Duration { return p.ttl }

// request is the wire request body.
type request struct {
	Query    string `json:"query"`
	Location string `json:"location,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// response is the documented wire response shape.
type response struct {
	Results []struct {
		Title      string            `json:"title"`
		Snippet    string            `json:"snippet"`
		URL        string            `json:"url,omitempty"`
		Confidence *float64          `json:"confidence,omitempty"`
		Metadata   map[string]string `json:"metadata,omitempty"`
	} `json:"results"`
	Source    string `json:"source"`
	FetchedAt string `json:"fetched_at"`
}

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	body, err := json.Marshal(request{Query: q.Text, Location: q.Location, Limit: q.Limit})
	if err != nil {
		return nil, fmt.Errorf("httpjson: %s: marshal request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpjson: %s: build request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpjson: %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpjson: %s: unexpected status %d", p.name, resp.StatusCode)
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("httpjson: %s: decode response: %w", p.name, err)
	}

	results := make([]search.Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if r.Title == "" && r.Snippet == "" {
			continue
		}
		conf := 0.5 // services that report no confidence get a neutral one
		if r.Confidence != nil {
			conf = clamp01(*r.Confidence)
		}
		results = append(results, search.Result{
			Source:     p.name,
			Title:      r.Title,
			Snippet:    r.Snippet,
			URL:        r.URL,
			Confidence: conf,
			Metadata:   r.Metadata,
		})
	}
	return results, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Package search defines the uniform contract for retrieval providers.
//
// A provider wraps one retrieval microservice (event API, general-web
// search, weather, sports, airports) behind a single Search method. The
// services differ internally; adapters normalise their responses to
// [Result] so the fusion layer can treat all evidence alike.
//
// Providers never surface transport failures as answers: a broken or slow
// provider yields an empty list and the engine carries on degraded.
package search

import (
	"context"
	"time"
)

// Result is one normalised piece of retrieved evidence.
type Result struct {
	// Source identifies the provider that produced the result
	// (e.g. "ticketmaster", "weather").
	Source string `json:"source"`

	// Title is the headline of the result.
	Title string `json:"title"`

	// Snippet is the evidence text passed to the model.
	Snippet string `json:"snippet"`

	// URL optionally links to the underlying document.
	URL string `json:"url,omitempty"`

	// Confidence is the provider's own relevance estimate in [0,1].
	Confidence float64 `json:"confidence"`

	// Metadata carries provider-specific extras (venue, date, league).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Query is one retrieval request.
type Query struct {
	// Text is the user's query, already normalised by the classifier.
	Text string

	// Location optionally scopes the search (extracted entity).
	Location string

	// Limit caps how many results the provider should return.
	Limit int
}

// Provider is the retrieval service contract.
//
// Implementations must be safe for concurrent use. Search must respect
// ctx cancellation; the engine wraps each call in a per-provider timeout.
type Provider interface {
	// Name returns the provider identifier used in cache keys, weights,
	// and Result.Source.
	Name() string

	// Search returns normalised results for q. An empty slice (not an
	// error) is the correct response for "nothing found".
	Search(ctx context.Context, q Query) ([]Result, error)

	// TTL returns how long this provider's results stay fresh. Zero means
	// use the engine default.
	TTL() time.Duration
}

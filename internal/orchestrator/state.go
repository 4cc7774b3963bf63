// Package orchestrator runs the request pipeline: classify the query,
// gate it against the current mode policy, retrieve supporting
// evidence, synthesise an answer, validate it against the evidence, and
// finalise the response. Stages are sequential; every external call is
// deadline-aware and every failure degrades to a safe answer rather
// than an error.
package orchestrator

import (
	"time"

	"github.com/porchlabs/porchlight/internal/intent"
	"github.com/porchlabs/porchlight/internal/mode"
)

// MaxQueryBytes bounds the accepted query size.
const MaxQueryBytes = 4 << 10

// Request is one user utterance entering the pipeline. Immutable once
// created at the gateway.
type Request struct {
	RequestID string            `json:"request_id"`
	Query     string            `json:"query"`
	SessionID string            `json:"session_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// Citation points at a piece of evidence the answer drew on.
type Citation struct {
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Validation is the anti-hallucination gate's verdict.
type Validation struct {
	Passed  bool     `json:"passed"`
	Reason  string   `json:"reason,omitempty"`
	Details []string `json:"details,omitempty"`
}

// Result is the pipeline's response for one request.
type Result struct {
	Answer     string         `json:"answer"`
	Citations  []Citation     `json:"citations"`
	Intent     intent.Intent  `json:"intent"`
	Confidence float64        `json:"confidence"`
	Mode       mode.Mode      `json:"mode"`
	Validation *Validation    `json:"validation,omitempty"`
	Metadata   map[string]any `json:"metadata"`
}

// Tier is the model size class selected by route_info.
type Tier string

const (
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierLarge  Tier = "large"
)

// Tier selection thresholds on the token count of query plus carried
// history, and the output budget each tier grants. Overridable through
// the tiers.* admin flags.
const (
	defaultSmallLimit  = 300
	defaultMediumLimit = 1200

	smallMaxTokens  = 256
	mediumMaxTokens = 512
	largeMaxTokens  = 1024
)

// MaxOutputTokens returns the tier's output budget.
func (t Tier) MaxOutputTokens() int {
	switch t {
	case TierSmall:
		return smallMaxTokens
	case TierMedium:
		return mediumMaxTokens
	default:
		return largeMaxTokens
	}
}

// selectTier maps an input token count onto a tier.
func selectTier(tokens, smallLimit, mediumLimit int) Tier {
	switch {
	case tokens <= smallLimit:
		return TierSmall
	case tokens <= mediumLimit:
		return TierMedium
	default:
		return TierLarge
	}
}

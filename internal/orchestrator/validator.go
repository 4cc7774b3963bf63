package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/porchlabs/porchlight/pkg/provider/llm"
	"github.com/porchlabs/porchlight/pkg/provider/search"
)

// Specific-fact patterns. An answer stating any of these without
// supporting evidence is treated as a hallucination.
var (
	datePattern = regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}\b|\b\d{1,2}/\d{1,2}(?:/\d{2,4})?\b`)
	timePattern = regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}\s*(?:am|pm)?\b|\b\d{1,2}\s*(?:am|pm)\b`)
	// Currency symbol or amount-with-unit; bare numbers are fine.
	moneyPattern = regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d+)?|\b\d[\d,]*(?:\.\d+)?\s?(?:dollars|euros|pounds)\b`)
	phonePattern = regexp.MustCompile(`\(?\d{3}\)?[-.\s]\d{3}[-.\s]?\d{4}\b`)
)

// factPatterns pairs each pattern with the label reported in validation
// details.
var factPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"date", datePattern},
	{"time", timePattern},
	{"money", moneyPattern},
	{"phone", phonePattern},
}

// findSpecificFacts returns the labelled matches of the specific-fact
// patterns in answer.
func findSpecificFacts(answer string) []string {
	var out []string
	for _, fp := range factPatterns {
		for _, m := range fp.re.FindAllString(answer, -1) {
			out = append(out, fp.label+": "+m)
		}
	}
	return out
}

// factCheckPrompt asks a fast model whether the answer makes claims the
// context does not support. The reply must be strict JSON.
const factCheckPrompt = `You check a voice assistant's answer against its source context.
Reply with ONLY a JSON object, no prose:
{"contains_hallucinations": <bool>, "reason": "<short reason>", "specific_claims": ["<claim>", ...]}

Context:
%s

Answer to check:
%s`

// factCheckVerdict is the strict JSON shape the fact-check model must
// return.
type factCheckVerdict struct {
	ContainsHallucinations bool     `json:"contains_hallucinations"`
	Reason                 string   `json:"reason"`
	SpecificClaims         []string `json:"specific_claims"`
}

// llmFactCheck runs the optional model-based check. Any failure (call,
// parse) returns an error; the caller fails closed on it.
func llmFactCheck(ctx context.Context, provider llm.Provider, answer string, retrieved []search.Result) (factCheckVerdict, error) {
	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf(factCheckPrompt, buildEvidenceBlock(retrieved), answer),
		}},
		Temperature: 0.1,
		MaxTokens:   256,
	})
	if err != nil {
		return factCheckVerdict{}, fmt.Errorf("orchestrator: fact check: %w", err)
	}

	// Models sometimes wrap JSON in code fences; strip to the outermost
	// braces before decoding.
	raw := resp.Content
	if i := strings.Index(raw, "{"); i >= 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			raw = raw[i : j+1]
		}
	}
	var v factCheckVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return factCheckVerdict{}, fmt.Errorf("orchestrator: fact check: unparseable verdict: %w", err)
	}
	return v, nil
}

// validate runs the layered anti-hallucination gate over answer.
//
// Layers: regex pattern detection, the evidence support check (specific
// facts with no evidence at all is an automatic fail), and the optional
// LLM fact check. The stage fails closed: when the fact check is enabled
// and its call or verdict parse fails, validation fails and the caller
// serves the safe fallback.
func (o *Orchestrator) validate(ctx context.Context, answer string, retrieved []search.Result) Validation {
	facts := findSpecificFacts(answer)

	if len(facts) > 0 && len(retrieved) == 0 {
		return Validation{
			Passed:  false,
			Reason:  "answer states specific facts with no supporting evidence",
			Details: facts,
		}
	}

	if o.factCheckEnabled(ctx) && o.fast != nil && len(retrieved) > 0 {
		verdict, err := llmFactCheck(ctx, o.fast, answer, retrieved)
		if err != nil {
			return Validation{
				Passed:  false,
				Reason:  "fact check unavailable",
				Details: facts,
			}
		}
		if verdict.ContainsHallucinations {
			return Validation{
				Passed:  false,
				Reason:  verdict.Reason,
				Details: verdict.SpecificClaims,
			}
		}
	}

	return Validation{Passed: true}
}

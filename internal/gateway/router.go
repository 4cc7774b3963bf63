package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/porchlabs/porchlight/pkg/provider/llm"
)

// Route is the admission decision for a request.
type Route string

const (
	// RouteOrchestrate sends the request through the full pipeline:
	// classification, policy gate, retrieval, validated synthesis.
	RouteOrchestrate Route = "orchestrator"

	// RoutePassthrough forwards the request straight to a model backend.
	// General conversation needs no retrieval and no validation gate.
	RoutePassthrough Route = "passthrough"
)

// routerPrompt asks the fast model for a one-word routing decision. Kept
// deliberately short; the reply budget is ten tokens.
const routerPrompt = `Decide how a smart-home voice assistant should handle the user's request.

Reply with exactly one word:
- "orchestrator" if the request needs live external data (weather, news, sports, flights, events, nearby places) or controls a home device
- "passthrough" if it is general conversation or knowledge the model can answer alone

User request: %q`

// routerTemperature keeps the decision deterministic.
const routerTemperature = 0.1

// Router decides whether a request needs the orchestration pipeline or
// can go straight to a model backend. The decision uses the fast model
// when one is configured and falls back to keyword matching when the
// model is absent, errors, or answers ambiguously.
type Router struct {
	fast llm.Provider
}

// NewRouter creates a Router. fast may be nil; routing then relies on
// keywords alone.
func NewRouter(fast llm.Provider) *Router {
	return &Router{fast: fast}
}

// Decide routes the given user query.
func (r *Router) Decide(ctx context.Context, query string) Route {
	if r.fast != nil {
		if route, ok := r.decideLLM(ctx, query); ok {
			return route
		}
	}
	return routeByKeyword(query)
}

// decideLLM asks the fast model for the routing decision.
func (r *Router) decideLLM(ctx context.Context, query string) (Route, bool) {
	resp, err := r.fast.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: fmt.Sprintf(routerPrompt, query)}},
		Temperature: routerTemperature,
		MaxTokens:   10,
	})
	if err != nil {
		slog.Debug("router model unavailable, using keywords", "error", err)
		return "", false
	}
	reply := strings.ToLower(strings.TrimSpace(resp.Content))
	switch {
	case strings.Contains(reply, "orchestr"):
		return RouteOrchestrate, true
	case strings.Contains(reply, "passthrough"):
		return RoutePassthrough, true
	}
	slog.Debug("ambiguous router reply, using keywords", "reply", reply)
	return "", false
}

// orchestrateKeywords are query substrings that indicate live data or
// device control. Matched case-insensitively against the whole query.
var orchestrateKeywords = []string{
	"weather", "forecast", "temperature", "rain", "snow",
	"news", "headline",
	"score", "game", "match", "playing",
	"flight", "airport", "departure", "arrival",
	"concert", "event", "show", "tickets", "happening",
	"near me", "nearby", "restaurant", "open now", "close by",
	"turn on", "turn off", "switch on", "switch off",
	"lights", "thermostat", "lock", "unlock", "dim",
}

// routeByKeyword is the deterministic fallback router.
func routeByKeyword(query string) Route {
	q := strings.ToLower(query)
	for _, kw := range orchestrateKeywords {
		if strings.Contains(q, kw) {
			return RouteOrchestrate
		}
	}
	return RoutePassthrough
}

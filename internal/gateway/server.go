// Package gateway is Porchlight's HTTP admission layer. It accepts
// OpenAI-compatible chat-completions requests plus a native /query
// endpoint, enforces per-client rate limits from the current mode
// policy, and routes each request either through the orchestration
// pipeline or straight to a model backend.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/porchlabs/porchlight/internal/intent"
	"github.com/porchlabs/porchlight/internal/mode"
	"github.com/porchlabs/porchlight/internal/observe"
	"github.com/porchlabs/porchlight/internal/orchestrator"
	"github.com/porchlabs/porchlight/pkg/provider/llm"
)

// orchestrate runs the full pipeline for one request.
type orchestrate interface {
	Handle(ctx context.Context, req orchestrator.Request) orchestrator.Result
}

// completer forwards a request to a model backend.
type completer interface {
	Complete(ctx context.Context, req ChatRequest) (*llm.CompletionResponse, string, error)
}

// policySource supplies the current mode and its per-intent policy.
// Satisfied by [*mode.Service].
type policySource interface {
	Current() mode.Snapshot
	PolicyFor(ctx context.Context, in intent.Intent) mode.Policy
}

// Server handles the public HTTP surface.
type Server struct {
	orch    orchestrate
	pass    completer
	router  *Router
	modes   policySource
	limiter *RateLimiter
	metrics *observe.Metrics
}

// Option is a functional option for New.
type Option func(*Server)

// WithMetrics overrides the metrics sink, for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimiter injects a limiter, for tests that control the clock.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// New creates a Server. pass may be nil when no direct model forwarding
// is wanted; such requests run through the orchestrator instead.
func New(orch orchestrate, pass completer, router *Router, modes policySource, opts ...Option) *Server {
	s := &Server{
		orch:    orch,
		pass:    pass,
		router:  router,
		modes:   modes,
		limiter: NewRateLimiter(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.router == nil {
		s.router = NewRouter(nil)
	}
	return s
}

// Register adds the public routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /query", s.handleQuery)
}

// handleChatCompletions serves the OpenAI-compatible surface.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeChatError(w, http.StatusBadRequest, "malformed JSON body", errTypeInvalidRequest, "invalid_json")
		return
	}
	if req.Stream {
		writeChatError(w, http.StatusBadRequest, "streaming is not supported", errTypeInvalidRequest, "stream_unsupported")
		return
	}
	query := lastUserMessage(req.Messages)
	if query == "" {
		writeChatError(w, http.StatusBadRequest, "messages must contain a user message", errTypeInvalidRequest, "missing_user_message")
		return
	}
	if len(query) > orchestrator.MaxQueryBytes {
		writeChatError(w, http.StatusBadRequest, "query exceeds the 4 KiB limit", errTypeInvalidRequest, "query_too_long")
		return
	}
	// Rate limiting keys on an explicitly supplied session or the client
	// IP, never the derived conversation digest.
	if !s.admit(w, r, explicitSessionID(r, req), "chat") {
		return
	}
	sessionID := chatSessionID(r, req)

	ctx := r.Context()
	if s.pass != nil && s.router.Decide(ctx, query) == RoutePassthrough {
		resp, model, err := s.pass.Complete(ctx, req)
		if err != nil {
			slog.Error("passthrough completion failed", "error", err)
			writeChatError(w, http.StatusBadGateway, "all model backends failed", errTypeAPI, "backend_unavailable")
			return
		}
		writeJSON(w, http.StatusOK, newChatResponse(model, resp.Content, ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}))
		return
	}

	res := s.orch.Handle(ctx, orchestrator.Request{
		RequestID: uuid.NewString(),
		Query:     query,
		SessionID: sessionID,
		UserID:    req.User,
	})
	out := newChatResponse(req.Model, res.Answer, ChatUsage{})
	out.Metadata = map[string]any{
		"intent":    res.Intent,
		"mode":      res.Mode,
		"citations": res.Citations,
	}
	writeJSON(w, http.StatusOK, out)
}

// explicitSessionID returns the session the client named, from the
// session_id body extension or the X-Session-ID header. Empty when the
// client named none.
func explicitSessionID(r *http.Request, req ChatRequest) string {
	if req.SessionID != "" {
		return req.SessionID
	}
	return r.Header.Get("X-Session-ID")
}

// chatSessionID resolves the session for a chat-completions request: the
// explicitly named session when there is one, otherwise a stable digest
// of the conversation prefix so follow-up turns carrying the same history
// land in the same session.
func chatSessionID(r *http.Request, req ChatRequest) string {
	if id := explicitSessionID(r, req); id != "" {
		return id
	}
	h := sha256.New()
	io.WriteString(h, req.User)
	msgs := req.Messages
	if len(msgs) > 0 {
		msgs = msgs[:len(msgs)-1]
	}
	for _, m := range msgs {
		io.WriteString(h, m.Role)
		io.WriteString(h, "\x00")
		io.WriteString(h, m.Content)
		io.WriteString(h, "\x00")
	}
	return "conv-" + hex.EncodeToString(h.Sum(nil))[:16]
}

// queryRequest is the native endpoint's request body.
type queryRequest struct {
	Query     string            `json:"query"`
	SessionID string            `json:"session_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// queryResponse wraps the pipeline result with its request ID.
type queryResponse struct {
	RequestID string `json:"request_id"`
	orchestrator.Result
}

// handleQuery serves the native voice-pipeline endpoint. Every request
// runs through the orchestrator; the router only applies to the
// chat-completions surface.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeChatError(w, http.StatusBadRequest, "malformed JSON body", errTypeInvalidRequest, "invalid_json")
		return
	}
	if req.Query == "" {
		writeChatError(w, http.StatusBadRequest, "query must not be empty", errTypeInvalidRequest, "missing_query")
		return
	}
	if len(req.Query) > orchestrator.MaxQueryBytes {
		writeChatError(w, http.StatusBadRequest, "query exceeds the 4 KiB limit", errTypeInvalidRequest, "query_too_long")
		return
	}
	if !s.admit(w, r, req.SessionID, "query") {
		return
	}

	requestID := uuid.NewString()
	res := s.orch.Handle(r.Context(), orchestrator.Request{
		RequestID: requestID,
		Query:     req.Query,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Context:   req.Context,
	})
	writeJSON(w, http.StatusOK, queryResponse{RequestID: requestID, Result: res})
}

// admit applies the per-client rate limit from the current mode policy.
// The admission check runs before classification, so the general-intent
// policy row supplies the budget. Returns false after writing the 429.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, sessionID, route string) bool {
	perMinute := 0
	if s.modes != nil {
		perMinute = s.modes.PolicyFor(r.Context(), intent.General).RateLimitPerMinute
	}
	if s.limiter.Allow(clientKey(r, sessionID), perMinute) {
		return true
	}
	s.metrics.RecordRateLimited(r.Context(), route)
	w.Header().Set("Retry-After", "60")
	writeChatError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later", errTypeRateLimit, "rate_limit_exceeded")
	return false
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encoding failed", "error", err)
	}
}

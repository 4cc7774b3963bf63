package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/porchlabs/porchlight/internal/intent"
	"github.com/porchlabs/porchlight/internal/mode"
	"github.com/porchlabs/porchlight/internal/orchestrator"
	"github.com/porchlabs/porchlight/pkg/provider/llm"
)

type stubOrchestrator struct {
	result orchestrator.Result
	last   orchestrator.Request
	calls  int
}

func (s *stubOrchestrator) Handle(_ context.Context, req orchestrator.Request) orchestrator.Result {
	s.last = req
	s.calls++
	return s.result
}

type stubCompleter struct {
	content string
	model   string
	err     error
	calls   int
}

func (s *stubCompleter) Complete(context.Context, ChatRequest) (*llm.CompletionResponse, string, error) {
	s.calls++
	if s.err != nil {
		return nil, "", s.err
	}
	return &llm.CompletionResponse{
		Content: s.content,
		Usage:   llm.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
	}, s.model, nil
}

type stubPolicy struct {
	limit int
}

func (s stubPolicy) Current() mode.Snapshot { return mode.Snapshot{Mode: mode.Owner} }
func (s stubPolicy) PolicyFor(context.Context, intent.Intent) mode.Policy {
	return mode.Policy{Allowed: true, RateLimitPerMinute: s.limit}
}

func newTestServer(orch *stubOrchestrator, pass completer, limit int) *http.ServeMux {
	srv := New(orch, pass, NewRouter(nil), stubPolicy{limit: limit})
	mux := http.NewServeMux()
	srv.Register(mux)
	return mux
}

func postJSON(t *testing.T, mux *http.ServeMux, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletions_RejectsStreaming(t *testing.T) {
	mux := newTestServer(&stubOrchestrator{}, nil, 0)

	rec := postJSON(t, mux, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}],"stream":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var body chatError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Type != errTypeInvalidRequest {
		t.Errorf("error type = %q, want %q", body.Error.Type, errTypeInvalidRequest)
	}
	if body.Error.Code != "stream_unsupported" {
		t.Errorf("error code = %q", body.Error.Code)
	}
}

func TestChatCompletions_RejectsMalformedJSON(t *testing.T) {
	mux := newTestServer(&stubOrchestrator{}, nil, 0)
	rec := postJSON(t, mux, "/v1/chat/completions", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatCompletions_RejectsMissingUserMessage(t *testing.T) {
	mux := newTestServer(&stubOrchestrator{}, nil, 0)
	rec := postJSON(t, mux, "/v1/chat/completions",
		`{"messages":[{"role":"system","content":"be brief"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatCompletions_RejectsOversizedQuery(t *testing.T) {
	mux := newTestServer(&stubOrchestrator{}, nil, 0)
	huge := strings.Repeat("a", orchestrator.MaxQueryBytes+1)
	rec := postJSON(t, mux, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"`+huge+`"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatCompletions_OrchestratesDomainQueries(t *testing.T) {
	orch := &stubOrchestrator{result: orchestrator.Result{
		Answer: "It is sunny, 22 degrees.",
		Intent: intent.Weather,
		Mode:   mode.Owner,
	}}
	pass := &stubCompleter{content: "should not be used"}
	mux := newTestServer(orch, pass, 0)

	rec := postJSON(t, mux, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"what's the weather in Lisbon"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if orch.calls != 1 {
		t.Fatalf("orchestrator called %d times, want 1", orch.calls)
	}
	if pass.calls != 0 {
		t.Fatalf("passthrough called %d times, want 0", pass.calls)
	}
	if orch.last.RequestID == "" {
		t.Error("orchestrator request has no request ID")
	}

	var body ChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Choices) != 1 || body.Choices[0].Message.Content != "It is sunny, 22 degrees." {
		t.Errorf("choices = %+v", body.Choices)
	}
	if body.Choices[0].Message.Role != "assistant" {
		t.Errorf("role = %q, want assistant", body.Choices[0].Message.Role)
	}
	if body.Object != "chat.completion" {
		t.Errorf("object = %q", body.Object)
	}
	if body.Metadata["intent"] != "weather" {
		t.Errorf("metadata intent = %v, want weather", body.Metadata["intent"])
	}
}

func TestChatCompletions_PassthroughForGeneralChat(t *testing.T) {
	orch := &stubOrchestrator{}
	pass := &stubCompleter{content: "Here is a joke.", model: "qwen2.5:7b"}
	mux := newTestServer(orch, pass, 0)

	rec := postJSON(t, mux, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"tell me a joke"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if pass.calls != 1 || orch.calls != 0 {
		t.Fatalf("passthrough calls = %d, orchestrator calls = %d", pass.calls, orch.calls)
	}

	var body ChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Model != "qwen2.5:7b" {
		t.Errorf("model = %q, want qwen2.5:7b", body.Model)
	}
	if body.Usage.TotalTokens != 7 {
		t.Errorf("total tokens = %d, want 7", body.Usage.TotalTokens)
	}
}

func TestChatCompletions_PassthroughFailureIs502(t *testing.T) {
	pass := &stubCompleter{err: errors.New("all backends down")}
	mux := newTestServer(&stubOrchestrator{}, pass, 0)

	rec := postJSON(t, mux, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"tell me a joke"}]}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestChatCompletions_NoPassthroughFallsBackToOrchestrator(t *testing.T) {
	orch := &stubOrchestrator{result: orchestrator.Result{Answer: "hello"}}
	mux := newTestServer(orch, nil, 0)

	rec := postJSON(t, mux, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"tell me a joke"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if orch.calls != 1 {
		t.Fatalf("orchestrator calls = %d, want 1", orch.calls)
	}
}

func TestQuery_RoundTrip(t *testing.T) {
	orch := &stubOrchestrator{result: orchestrator.Result{
		Answer:    "The match starts at seven.",
		Citations: []orchestrator.Citation{},
		Intent:    intent.Sports,
		Mode:      mode.Owner,
	}}
	mux := newTestServer(orch, nil, 0)

	rec := postJSON(t, mux, "/query",
		`{"query":"when do the Warriors play","session_id":"sess-1","user_id":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if orch.last.SessionID != "sess-1" || orch.last.UserID != "u1" {
		t.Errorf("request = %+v", orch.last)
	}

	var body queryResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.RequestID == "" {
		t.Error("missing request_id")
	}
	if body.Answer != "The match starts at seven." {
		t.Errorf("answer = %q", body.Answer)
	}
	if body.Intent != intent.Sports {
		t.Errorf("intent = %q", body.Intent)
	}
}

func TestQuery_RejectsEmptyQuery(t *testing.T) {
	mux := newTestServer(&stubOrchestrator{}, nil, 0)
	rec := postJSON(t, mux, "/query", `{"query":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestQuery_RejectsOversizedQuery(t *testing.T) {
	mux := newTestServer(&stubOrchestrator{}, nil, 0)
	huge := strings.Repeat("a", orchestrator.MaxQueryBytes+1)
	rec := postJSON(t, mux, "/query", `{"query":"`+huge+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRateLimit_Returns429(t *testing.T) {
	mux := newTestServer(&stubOrchestrator{result: orchestrator.Result{Answer: "ok"}}, nil, 2)

	body := `{"query":"what's the weather","session_id":"sess-rl"}`
	for i := range 2 {
		if rec := postJSON(t, mux, "/query", body); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := postJSON(t, mux, "/query", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	var errBody chatError
	if err := json.NewDecoder(rec.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody.Error.Type != errTypeRateLimit {
		t.Errorf("error type = %q, want %q", errBody.Error.Type, errTypeRateLimit)
	}
}

func TestRateLimit_SessionsAreIndependent(t *testing.T) {
	mux := newTestServer(&stubOrchestrator{result: orchestrator.Result{Answer: "ok"}}, nil, 1)

	if rec := postJSON(t, mux, "/query", `{"query":"weather","session_id":"a"}`); rec.Code != http.StatusOK {
		t.Fatalf("session a status = %d, want 200", rec.Code)
	}
	if rec := postJSON(t, mux, "/query", `{"query":"weather","session_id":"a"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("session a second status = %d, want 429", rec.Code)
	}
	if rec := postJSON(t, mux, "/query", `{"query":"weather","session_id":"b"}`); rec.Code != http.StatusOK {
		t.Fatalf("session b status = %d, want 200", rec.Code)
	}
}

func TestChatSessionID_Resolution(t *testing.T) {
	base := ChatRequest{Messages: []ChatMessage{
		{Role: "user", Content: "what's the weather"},
		{Role: "assistant", Content: "sunny, 24C"},
		{Role: "user", Content: "and tomorrow?"},
	}}

	r := httptest.NewRequest("POST", "/v1/chat/completions", nil)

	explicit := base
	explicit.SessionID = "sess-42"
	if got := chatSessionID(r, explicit); got != "sess-42" {
		t.Errorf("session = %q, want body extension to win", got)
	}

	withHeader := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	withHeader.Header.Set("X-Session-ID", "hdr-7")
	if got := chatSessionID(withHeader, base); got != "hdr-7" {
		t.Errorf("session = %q, want header value", got)
	}

	derived := chatSessionID(r, base)
	if !strings.HasPrefix(derived, "conv-") {
		t.Fatalf("derived session = %q, want conv- prefix", derived)
	}
	if again := chatSessionID(r, base); again != derived {
		t.Error("derived session not stable for identical history")
	}

	other := base
	other.Messages = []ChatMessage{
		{Role: "user", Content: "turn off the porch light"},
		{Role: "assistant", Content: "done"},
		{Role: "user", Content: "and tomorrow?"},
	}
	if chatSessionID(r, other) == derived {
		t.Error("different conversation prefixes share a session")
	}
}

func TestChatCompletions_HeaderSessionReachesPipeline(t *testing.T) {
	orch := &stubOrchestrator{result: orchestrator.Result{Answer: "ok"}}
	mux := newTestServer(orch, nil, 0)

	req := httptest.NewRequest("POST", "/v1/chat/completions",
		strings.NewReader(`{"messages":[{"role":"user","content":"weather in detroit"}]}`))
	req.Header.Set("X-Session-ID", "hdr-9")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if orch.last.SessionID != "hdr-9" {
		t.Errorf("pipeline session = %q, want hdr-9", orch.last.SessionID)
	}
}

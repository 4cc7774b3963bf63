package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/porchlabs/porchlight/internal/adminconfig"
	"github.com/porchlabs/porchlight/internal/intent"
	"github.com/porchlabs/porchlight/internal/mode"
	"github.com/porchlabs/porchlight/internal/observe"
	"github.com/porchlabs/porchlight/internal/session"
	"github.com/porchlabs/porchlight/pkg/provider/llm"
	"github.com/porchlabs/porchlight/pkg/provider/search"
)

const (
	// DefaultDeadline bounds one end-to-end orchestration.
	DefaultDeadline = 25 * time.Second

	// DefaultHistoryMessages is how many session turns the synthesis
	// prompt carries.
	DefaultHistoryMessages = 6

	// minConfidence is the classification floor below which the pipeline
	// short-circuits to a clarifying answer.
	minConfidence = 0.2
)

// factCheckFlag is the admin feature flag gating the LLM fact check.
const factCheckFlag = "validation.llm_fact_check"

// classifier is the slice of intent.Classifier the pipeline needs.
type classifier interface {
	Classify(ctx context.Context, query string) intent.Classification
}

// retriever is the slice of retrieval.Engine the pipeline needs.
type retriever interface {
	Retrieve(ctx context.Context, in intent.Intent, q search.Query) []search.Result
}

// modeSource is the slice of mode.Service the pipeline needs.
type modeSource interface {
	Current() mode.Snapshot
	PolicyFor(ctx context.Context, in intent.Intent) mode.Policy
}

// Orchestrator runs the request pipeline. Safe for concurrent use; each
// request owns its own working state.
type Orchestrator struct {
	classifier classifier
	engine     retriever
	modes      modeSource
	model      llm.Provider
	fast       llm.Provider // classifier reuse; also runs the fact check
	sessions   *session.Store
	admin      *adminconfig.Client
	metrics    *observe.Metrics

	deadline      time.Duration
	historyInject int
	factCheck     bool // config default; admin flag overrides
}

// Option is a functional option for New.
type Option func(*Orchestrator)

// WithDeadline overrides the end-to-end deadline.
func WithDeadline(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.deadline = d
		}
	}
}

// WithHistoryMessages overrides how many session turns the prompt
// carries.
func WithHistoryMessages(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.historyInject = n
		}
	}
}

// WithFactCheck sets the configured default for the LLM fact check,
// run by fast. The admin feature flag overrides it at runtime.
func WithFactCheck(fast llm.Provider, enabled bool) Option {
	return func(o *Orchestrator) {
		o.fast = fast
		o.factCheck = enabled
	}
}

// WithSessions enables conversation history via store.
func WithSessions(store *session.Store) Option {
	return func(o *Orchestrator) { o.sessions = store }
}

// WithMetrics injects the metrics instance, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. model synthesises answers; admin may be
// nil (built-in defaults everywhere).
func New(cls classifier, engine retriever, modes modeSource, model llm.Provider, admin *adminconfig.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		classifier:    cls,
		engine:        engine,
		modes:         modes,
		model:         model,
		admin:         admin,
		deadline:      DefaultDeadline,
		historyInject: DefaultHistoryMessages,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// pipelineState is the per-request working record. Owned exclusively by
// one Handle call.
type pipelineState struct {
	req       Request
	intent    intent.Intent
	conf      float64
	entities  map[string]string
	mode      mode.Mode
	tier      Tier
	retrieved []search.Result
	answer    string
	citations []Citation
	valid     *Validation
	timings   map[string]float64
	metadata  map[string]any
	sess      session.Session
	start     time.Time
}

// stage runs fn under the stage name, recording its wall time into
// node_timings and the stage metric.
func (o *Orchestrator) stage(ctx context.Context, st *pipelineState, name string, fn func()) {
	start := time.Now()
	fn()
	elapsed := time.Since(start)
	st.timings[name] = elapsed.Seconds()
	o.metrics.RecordStage(ctx, name, elapsed)
}

// Handle runs the full pipeline for req. It never returns an error:
// every internal fault degrades to a safe answer with metadata
// explaining what happened.
func (o *Orchestrator) Handle(ctx context.Context, req Request) Result {
	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	o.metrics.ActiveRequests.Add(ctx, 1)
	defer o.metrics.ActiveRequests.Add(ctx, -1)

	st := &pipelineState{
		req:      req,
		timings:  make(map[string]float64),
		metadata: make(map[string]any),
		start:    time.Now(),
	}

	// classify
	o.stage(ctx, st, "classify", func() {
		c := o.classifier.Classify(ctx, req.Query)
		st.intent, st.conf, st.entities = c.Intent, c.Confidence, c.Entities
	})

	snap := o.modes.Current()
	st.mode = snap.Mode

	if req.SessionID != "" && o.sessions != nil {
		st.sess = o.sessions.Load(ctx, req.SessionID)
	}

	// Policy gate: blocked intents and restricted entities produce a
	// fixed refusal without touching providers or the model.
	pol := o.modes.PolicyFor(ctx, st.intent)
	if !pol.Allowed {
		return o.refuse(ctx, st, "intent not permitted in "+string(st.mode)+" mode")
	}
	if pattern, restricted := pol.EntityRestricted(st.entities); restricted {
		slog.Info("request blocked by entity policy",
			"intent", st.intent, "mode", st.mode, "pattern", pattern)
		return o.refuse(ctx, st, "restricted entity")
	}

	// Short-circuit paths skip retrieval and synthesis entirely.
	switch {
	case st.intent == intent.Control:
		st.answer = controlAck(st.entities)
		st.valid = &Validation{Passed: true}
		return o.finalise(ctx, st, "control")
	case st.intent == intent.Greeting:
		st.answer = greetingReply
		st.valid = &Validation{Passed: true}
		return o.finalise(ctx, st, "greeting")
	case st.intent == intent.Unknown || st.conf < minConfidence:
		st.answer = clarifyReply
		st.valid = &Validation{Passed: true}
		return o.finalise(ctx, st, "clarify")
	}

	// route_info
	o.stage(ctx, st, "route_info", func() {
		st.tier = o.selectTier(ctx, st)
	})

	// retrieve
	o.stage(ctx, st, "retrieve", func() {
		st.retrieved = o.engine.Retrieve(ctx, st.intent, search.Query{
			Text:     req.Query,
			Location: st.entities["location"],
		})
	})
	if len(st.retrieved) > 0 {
		st.metadata["data_source"] = sourceList(st.retrieved)
	}
	if timedOut(ctx) {
		return o.timeout(ctx, st)
	}

	// synthesise
	var synthErr error
	o.stage(ctx, st, "synthesise", func() {
		synthErr = o.synthesise(ctx, st)
	})
	if synthErr != nil {
		if timedOut(ctx) {
			return o.timeout(ctx, st)
		}
		slog.Warn("synthesis failed", "intent", st.intent, "error", synthErr)
		st.metadata["synthesis_error"] = errorKind(synthErr)
		st.answer = safeFallback(st.intent, st.entities)
		st.citations = nil
		return o.finalise(ctx, st, "synthesis_error")
	}

	// validate
	o.stage(ctx, st, "validate", func() {
		v := o.validate(ctx, st.answer, st.retrieved)
		st.valid = &v
	})
	if timedOut(ctx) {
		return o.timeout(ctx, st)
	}
	if !st.valid.Passed {
		o.metrics.RecordValidationFailure(ctx, st.intent.String())
		slog.Info("validation rejected answer",
			"intent", st.intent, "reason", st.valid.Reason)
		st.answer = safeFallback(st.intent, st.entities)
		st.citations = nil
		return o.finalise(ctx, st, "validation_failed")
	}

	st.citations = citationsFor(st.answer, st.retrieved)
	return o.finalise(ctx, st, "ok")
}

// selectTier picks the model size class from the token count of the
// query plus carried history. Thresholds are admin-overridable.
func (o *Orchestrator) selectTier(ctx context.Context, st *pipelineState) Tier {
	msgs := []llm.Message{{Role: "user", Content: st.req.Query}}
	for _, m := range historyMessages(st.sess, o.historyInject) {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}

	tokens := llm.EstimateTokens(msgs)
	if o.model != nil {
		tokens = o.model.CountTokens(msgs)
	}

	smallLimit, mediumLimit := defaultSmallLimit, defaultMediumLimit
	if o.admin != nil {
		smallLimit = o.admin.GetIntFlag(ctx, "tiers.small_limit", smallLimit)
		mediumLimit = o.admin.GetIntFlag(ctx, "tiers.medium_limit", mediumLimit)
	}
	return selectTier(tokens, smallLimit, mediumLimit)
}

// synthesise calls the model with the evidence-appropriate prompt and
// stores the answer on st.
func (o *Orchestrator) synthesise(ctx context.Context, st *pipelineState) error {
	if o.model == nil {
		return errors.New("orchestrator: no model backend configured")
	}

	msgs := make([]llm.Message, 0, o.historyInject+1)
	for _, m := range historyMessages(st.sess, o.historyInject) {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: st.req.Query})

	start := time.Now()
	resp, err := o.model.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(st.intent, st.retrieved),
		Messages:     msgs,
		Temperature:  synthesisTemperature,
		MaxTokens:    st.tier.MaxOutputTokens(),
	})
	o.metrics.RecordBackendCall(ctx, o.model.Model(), "orchestrator", time.Since(start))
	if err != nil {
		return err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return errors.New("orchestrator: model returned empty answer")
	}
	st.answer = strings.TrimSpace(resp.Content)
	return nil
}

// factCheckEnabled resolves the fact-check toggle: admin flag wins.
func (o *Orchestrator) factCheckEnabled(ctx context.Context) bool {
	if o.admin == nil {
		return o.factCheck
	}
	return o.admin.GetBoolFlag(ctx, factCheckFlag, o.factCheck)
}

// refuse produces the fixed policy-refusal result.
func (o *Orchestrator) refuse(ctx context.Context, st *pipelineState, reason string) Result {
	st.answer = refusalReply
	st.valid = &Validation{Passed: true}
	st.metadata["policy_blocked"] = true
	st.metadata["policy_reason"] = reason
	return o.finalise(ctx, st, "policy_blocked")
}

// timeout produces the deadline-exceeded result.
func (o *Orchestrator) timeout(ctx context.Context, st *pipelineState) Result {
	st.answer = safeFallback(st.intent, st.entities)
	st.citations = nil
	st.valid = &Validation{Passed: true}
	st.metadata["timeout"] = true
	return o.finalise(ctx, st, "timeout")
}

// finalise closes out the pipeline: total timing, session append,
// request metric, response assembly. Session write failures are
// swallowed by the cache layer; the caller always gets the answer.
func (o *Orchestrator) finalise(ctx context.Context, st *pipelineState, outcome string) Result {
	total := time.Since(st.start)
	st.timings["total"] = total.Seconds()
	st.metadata["node_timings"] = st.timings
	o.metrics.RecordRequest(ctx, st.intent.String(), outcome, total)

	if st.req.SessionID != "" && o.sessions != nil {
		o.sessions.Append(ctx, st.sess, st.req.RequestID, st.req.Query, st.answer)
	}

	if st.citations == nil {
		st.citations = []Citation{}
	}
	return Result{
		Answer:     st.answer,
		Citations:  st.citations,
		Intent:     st.intent,
		Confidence: st.conf,
		Mode:       st.mode,
		Validation: st.valid,
		Metadata:   st.metadata,
	}
}

// citationsFor selects the retrieved items the answer drew on. The
// heuristic: a result is cited when its snippet shares a content token
// (4+ characters) with the answer. When the heuristic matches nothing,
// every item passed in the prompt is cited.
func citationsFor(answer string, retrieved []search.Result) []Citation {
	if len(retrieved) == 0 {
		return nil
	}
	now := time.Now().UTC()
	lowerAnswer := strings.ToLower(answer)

	var cited []Citation
	for _, r := range retrieved {
		if snippetContributed(lowerAnswer, r.Snippet) {
			cited = append(cited, Citation{
				Source: r.Source, Title: r.Title, URL: r.URL, RetrievedAt: now,
			})
		}
	}
	if cited != nil {
		return cited
	}
	all := make([]Citation, len(retrieved))
	for i, r := range retrieved {
		all[i] = Citation{Source: r.Source, Title: r.Title, URL: r.URL, RetrievedAt: now}
	}
	return all
}

// snippetContributed reports whether any 4+ character token of snippet
// appears in the lowercased answer.
func snippetContributed(lowerAnswer, snippet string) bool {
	for _, tok := range strings.Fields(strings.ToLower(snippet)) {
		tok = strings.Trim(tok, ".,!?:;()[]\"'")
		if len(tok) >= 4 && strings.Contains(lowerAnswer, tok) {
			return true
		}
	}
	return false
}

// sourceList returns the distinct sources in retrieved, in order.
func sourceList(retrieved []search.Result) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range retrieved {
		if !seen[r.Source] {
			seen[r.Source] = true
			out = append(out, r.Source)
		}
	}
	return out
}

// timedOut reports whether the overall deadline has expired.
func timedOut(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// errorKind maps a synthesis error onto the coarse kind reported in
// metadata.
func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "backend_error"
	}
}

// Fixed short-circuit answers.
const (
	greetingReply = "Hello! You can ask me about the weather, local events, sports, flights, or the news."
	clarifyReply  = "I'm not sure I understood that. Could you rephrase your question?"
	refusalReply  = "I'm sorry, but that action isn't available right now."
)

// controlAck acknowledges a device-control request. Actual device
// dispatch happens downstream of the orchestrator; the pipeline only
// confirms intent.
func controlAck(entities map[string]string) string {
	if device, ok := entities["device"]; ok {
		return "Okay, sending the " + device + " command now."
	}
	return "Okay, sending that command now."
}

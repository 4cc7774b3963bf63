package intent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/porchlabs/porchlight/pkg/provider/llm"
)

// llmMinConfidence is the acceptance floor for the LLM classifier. Below
// it the keyword classifier decides instead.
const llmMinConfidence = 0.6

// llmClassifierPrompt instructs a fast model to emit exactly one line in
// the CATEGORY/CONFIDENCE shape. Kept short so the call stays cheap.
const llmClassifierPrompt = `You classify smart-home voice queries into exactly one category.
Categories: control, weather, sports, airports, event_search, news, local_business, general, greeting.
Reply with a single line in this exact format and nothing else:
CATEGORY:<category> CONFIDENCE:<0.0-1.0>`

// llmReplyPattern extracts the category and confidence from the model's
// reply, tolerating surrounding whitespace and case drift.
var llmReplyPattern = regexp.MustCompile(`(?i)CATEGORY:\s*([a-z_]+)\s+CONFIDENCE:\s*([0-9.]+)`)

// classifyLLM asks the fast model to categorise query. Any failure —
// transport, unparseable reply, out-of-set category, low confidence —
// returns ok=false so the caller falls through to the keyword stage.
func classifyLLM(ctx context.Context, provider llm.Provider, query string) (Intent, float64, bool) {
	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: llmClassifierPrompt,
		Messages:     []llm.Message{{Role: "user", Content: query}},
		Temperature:  0.1,
		MaxTokens:    24,
	})
	if err != nil {
		return Unknown, 0, false
	}

	in, conf, err := parseLLMReply(resp.Content)
	if err != nil {
		return Unknown, 0, false
	}
	if conf < llmMinConfidence {
		return Unknown, 0, false
	}
	return in, conf, true
}

// parseLLMReply parses a CATEGORY/CONFIDENCE line.
func parseLLMReply(reply string) (Intent, float64, error) {
	m := llmReplyPattern.FindStringSubmatch(reply)
	if m == nil {
		return Unknown, 0, fmt.Errorf("intent: unparseable classifier reply %q", truncate(reply, 80))
	}
	in := Parse(strings.ToLower(m[1]))
	if in == Unknown {
		return Unknown, 0, fmt.Errorf("intent: classifier returned unknown category %q", m[1])
	}
	conf, err := strconv.ParseFloat(m[2], 64)
	if err != nil || conf < 0 || conf > 1 {
		return Unknown, 0, fmt.Errorf("intent: classifier confidence %q out of range", m[2])
	}
	return in, conf, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

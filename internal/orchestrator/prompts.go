package orchestrator

import (
	"fmt"
	"strings"

	"github.com/porchlabs/porchlight/internal/intent"
	"github.com/porchlabs/porchlight/internal/session"
	"github.com/porchlabs/porchlight/pkg/provider/search"
)

// synthesisTemperature caps sampling for both prompt branches. Answers
// must stay anchored to the evidence, not get creative.
const synthesisTemperature = 0.3

// evidenceSystemPrompt is the with-evidence synthesis instruction.
const evidenceSystemPrompt = `You are a helpful voice assistant. Answer the user's question using ONLY the context provided below.
Rules:
- Base every specific fact (dates, times, names, prices, phone numbers) strictly on the context.
- If the context does not contain the answer, say you don't have that information.
- Keep the answer short and conversational; it will be spoken aloud.
- Mention which source the information came from when relevant.

Context:
%s`

// noEvidenceSystemPrompt is the without-evidence instruction. It must
// keep the model from inventing specifics.
const noEvidenceSystemPrompt = `You are a helpful voice assistant. No current information is available for the user's question.
Rules:
- Acknowledge that you don't have current information on this topic.
- Suggest where the user could look instead (%s).
- Do NOT state any specific dates, times, event names, venue names, monetary amounts, or phone numbers.
- Keep the answer short and conversational.`

// lookupSuggestions names a sensible place to check per intent, used in
// both the no-evidence prompt and the safe fallback answer.
var lookupSuggestions = map[intent.Intent]string{
	intent.Weather:       "a weather app or website",
	intent.Sports:        "a sports news site or the league's website",
	intent.Airports:      "your airline's website or app",
	intent.EventSearch:   "local event listings or ticketing sites",
	intent.News:          "a news website",
	intent.LocalBusiness: "an online map or local directory",
}

func lookupSuggestion(in intent.Intent) string {
	if s, ok := lookupSuggestions[in]; ok {
		return s
	}
	return "reliable sources on the topic"
}

// buildEvidenceBlock renders retrieved results for the prompt, one
// numbered entry per result.
func buildEvidenceBlock(retrieved []search.Result) string {
	var b strings.Builder
	for i, r := range retrieved {
		fmt.Fprintf(&b, "[%d] (%s) %s: %s\n", i+1, r.Source, r.Title, r.Snippet)
	}
	return b.String()
}

// buildSystemPrompt picks the prompt branch from the evidence.
func buildSystemPrompt(in intent.Intent, retrieved []search.Result) string {
	if len(retrieved) == 0 {
		return fmt.Sprintf(noEvidenceSystemPrompt, lookupSuggestion(in))
	}
	return fmt.Sprintf(evidenceSystemPrompt, buildEvidenceBlock(retrieved))
}

// historyMessages converts the newest n session turns into prompt
// messages, oldest first.
func historyMessages(sess session.Session, n int) []promptMessage {
	turns := session.Recent(sess, n)
	out := make([]promptMessage, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		if role != "assistant" {
			role = "user"
		}
		out = append(out, promptMessage{Role: role, Content: t.Text})
	}
	return out
}

// promptMessage mirrors llm.Message without importing it here; the
// pipeline converts at the call site.
type promptMessage struct {
	Role    string
	Content string
}

// safeFallback is the fixed answer used whenever synthesis fails or
// validation rejects the model's output.
func safeFallback(in intent.Intent, entities map[string]string) string {
	topic := topicPhrase(in, entities)
	return fmt.Sprintf(
		"I don't have current information to answer that accurately. I recommend checking %s about %s.",
		lookupSuggestion(in), topic)
}

// topicPhrase paraphrases what the user asked about, preferring the
// extracted location when present.
func topicPhrase(in intent.Intent, entities map[string]string) string {
	base := map[intent.Intent]string{
		intent.Weather:       "the weather",
		intent.Sports:        "the game",
		intent.Airports:      "your flight",
		intent.EventSearch:   "upcoming events",
		intent.News:          "the latest news",
		intent.LocalBusiness: "nearby businesses",
	}[in]
	if base == "" {
		base = "your question"
	}
	if loc, ok := entities["location"]; ok {
		return base + " in " + loc
	}
	return base
}

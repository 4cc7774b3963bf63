package intent

import (
	"log/slog"
	"regexp"

	"github.com/porchlabs/porchlight/internal/adminconfig"
)

// rule is one compiled classification rule. Rules are ordered; the first
// pattern match wins.
type rule struct {
	intent   Intent
	patterns []*regexp.Regexp
}

// keywordConfidence is the confidence assigned to a keyword match. The
// keyword classifier is precise but shallow, so it never claims more.
const keywordConfidence = 0.75

// generalConfidence is assigned when no rule matches and the query falls
// through to the general intent.
const generalConfidence = 0.3

// defaultRules is the built-in rule table, used until the operator
// overrides it via admin config. Order matters: control and greeting are
// checked first because they short-circuit the pipeline.
var defaultRules = compileRules([]adminconfig.ClassificationRule{
	{Intent: "control", Patterns: []string{
		`(?i)\b(turn|switch)\s+(on|off)\b`,
		`(?i)\b(lock|unlock)\s+(the\s+)?\w+`,
		`(?i)\b(dim|brighten)\s+(the\s+)?\w+`,
		`(?i)\bset\s+(the\s+)?(thermostat|temperature|lights?)\b`,
		`(?i)\b(open|close)\s+(the\s+)?(garage|blinds|shades|curtains)\b`,
	}},
	{Intent: "greeting", Patterns: []string{
		`(?i)^\s*(hi|hello|hey|good\s+(morning|afternoon|evening))\b[\s!.,]*$`,
		`(?i)^\s*(thanks|thank\s+you)\b[\s!.,]*$`,
	}},
	{Intent: "weather", Patterns: []string{
		`(?i)\bweather\b`,
		`(?i)\b(temperature|forecast|rain|snow|sunny|humidity|windy?)\b`,
		`(?i)\bhow\s+(hot|cold)\b`,
	}},
	{Intent: "sports", Patterns: []string{
		`(?i)\b(game|score|match|playoffs?)\b`,
		`(?i)\b(nfl|nba|mlb|nhl|mls|ncaa)\b`,
		`(?i)\b(orioles|ravens|yankees|lakers|who\s+(won|plays?))\b`,
	}},
	{Intent: "airports", Patterns: []string{
		`(?i)\b(flight|airport|departure|arrival|gate)\b`,
		`(?i)\b(delayed?|on\s+time)\b.*\b(flight|plane)\b`,
	}},
	{Intent: "event_search", Patterns: []string{
		`(?i)\b(concerts?|shows?|events?|festivals?|gigs?)\b`,
		`(?i)\bwho('s| is)\s+playing\s+at\b`,
		`(?i)\b(tickets?|venues?)\b`,
	}},
	{Intent: "news", Patterns: []string{
		`(?i)\b(news|headlines?|latest)\b`,
		`(?i)\bwhat('s| is)\s+happening\b`,
	}},
	{Intent: "local_business", Patterns: []string{
		`(?i)\b(restaurants?|cafes?|coffee\s+shops?|bars?|pharmacy|grocery)\b`,
		`(?i)\b(open\s+(now|late)|hours)\b`,
		`(?i)\bnear\s+(me|here|by)\b`,
	}},
})

// compileRules compiles an admin rule set, dropping invalid patterns and
// unknown intents with a warning. An entirely empty result is returned as
// nil so callers fall back to the defaults.
func compileRules(raw []adminconfig.ClassificationRule) []rule {
	var out []rule
	for _, r := range raw {
		in := Parse(r.Intent)
		if in == Unknown && r.Intent != string(Unknown) {
			slog.Warn("classification rule names unknown intent, skipping", "intent", r.Intent)
			continue
		}
		var compiled []*regexp.Regexp
		for _, pat := range r.Patterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				slog.Warn("invalid classification pattern, skipping", "pattern", pat, "error", err)
				continue
			}
			compiled = append(compiled, re)
		}
		if len(compiled) > 0 {
			out = append(out, rule{intent: in, patterns: compiled})
		}
	}
	return out
}

// classifyKeyword runs the ordered rule table over query. No match yields
// (general, generalConfidence). It never fails.
func classifyKeyword(rules []rule, query string) (Intent, float64) {
	for _, r := range rules {
		for _, re := range r.patterns {
			if re.MatchString(query) {
				return r.intent, keywordConfidence
			}
		}
	}
	return General, generalConfidence
}

package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/porchlabs/porchlight/internal/adminconfig"
	"github.com/porchlabs/porchlight/internal/cache"
	llmmock "github.com/porchlabs/porchlight/pkg/provider/llm/mock"
)

func TestClassifyKeywordDefaults(t *testing.T) {
	cases := []struct {
		query string
		want  Intent
	}{
		{"turn on the lights", Control},
		{"lock the front door", Control},
		{"set the thermostat to 68", Control},
		{"hello", Greeting},
		{"good morning!", Greeting},
		{"thanks", Greeting},
		{"what's the weather in Baltimore", Weather},
		{"will it rain tomorrow", Weather},
		{"how hot is it outside", Weather},
		{"did the Orioles win last night", Sports},
		{"what's the score of the game", Sports},
		{"is my flight delayed", Airports},
		{"departures at the airport", Airports},
		{"any concerts this weekend", EventSearch},
		{"who's playing at the Ottobar", EventSearch},
		{"latest news headlines", News},
		{"coffee shops near me", LocalBusiness},
		{"restaurants open late", LocalBusiness},
		{"tell me a story about dragons", General},
		{"", General},
	}
	for _, tc := range cases {
		got, conf := classifyKeyword(defaultRules, tc.query)
		if got != tc.want {
			t.Errorf("classifyKeyword(%q) = %s, want %s", tc.query, got, tc.want)
		}
		if conf <= 0 || conf > 1 {
			t.Errorf("classifyKeyword(%q) confidence %v out of range", tc.query, conf)
		}
	}
}

func TestClassifyKeywordRuleOrder(t *testing.T) {
	// "turn on the weather channel" hits both control and weather
	// patterns; control is first in the table and must win.
	got, _ := classifyKeyword(defaultRules, "turn on the weather channel")
	if got != Control {
		t.Fatalf("got %s, want %s", got, Control)
	}
}

func TestCompileRulesSkipsInvalid(t *testing.T) {
	rules := compileRules([]adminconfig.ClassificationRule{
		{Intent: "weather", Patterns: []string{`(?i)\bweather\b`, `[broken`}},
		{Intent: "no_such_intent", Patterns: []string{`ok`}},
		{Intent: "sports", Patterns: []string{`[also broken`}},
	})
	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rules))
	}
	if rules[0].intent != Weather || len(rules[0].patterns) != 1 {
		t.Fatalf("unexpected surviving rule: %+v", rules[0])
	}
}

func TestParseLLMReply(t *testing.T) {
	cases := []struct {
		reply    string
		want     Intent
		wantConf float64
		wantErr  bool
	}{
		{"CATEGORY:weather CONFIDENCE:0.9", Weather, 0.9, false},
		{"  category: sports   confidence: 0.75\n", Sports, 0.75, false},
		{"CATEGORY:event_search CONFIDENCE:1", EventSearch, 1, false},
		{"CATEGORY:nonsense CONFIDENCE:0.9", Unknown, 0, true},
		{"CATEGORY:weather CONFIDENCE:1.5", Unknown, 0, true},
		{"the weather looks nice", Unknown, 0, true},
	}
	for _, tc := range cases {
		in, conf, err := parseLLMReply(tc.reply)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseLLMReply(%q): expected error, got %s/%v", tc.reply, in, conf)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseLLMReply(%q): %v", tc.reply, err)
			continue
		}
		if in != tc.want || conf != tc.wantConf {
			t.Errorf("parseLLMReply(%q) = %s/%v, want %s/%v", tc.reply, in, conf, tc.want, tc.wantConf)
		}
	}
}

func TestClassifierUsesLLMWhenConfident(t *testing.T) {
	fast := &llmmock.Provider{Response: "CATEGORY:sports CONFIDENCE:0.95"}
	c := NewClassifier(nil, nil, WithLLM(fast, true))

	got := c.Classify(context.Background(), "how about them birds")
	if got.Intent != Sports {
		t.Fatalf("intent = %s, want %s", got.Intent, Sports)
	}
	if got.Confidence != 0.95 {
		t.Fatalf("confidence = %v, want 0.95", got.Confidence)
	}
	if fast.CallCount() != 1 {
		t.Fatalf("llm calls = %d, want 1", fast.CallCount())
	}
}

func TestClassifierFallsBackOnLLMFailure(t *testing.T) {
	fast := &llmmock.Provider{Err: errors.New("connection refused")}
	c := NewClassifier(nil, nil, WithLLM(fast, true))

	got := c.Classify(context.Background(), "what's the weather like")
	if got.Intent != Weather {
		t.Fatalf("intent = %s, want %s", got.Intent, Weather)
	}
	if got.Confidence != keywordConfidence {
		t.Fatalf("confidence = %v, want %v", got.Confidence, keywordConfidence)
	}
}

func TestClassifierFallsBackOnLowConfidence(t *testing.T) {
	fast := &llmmock.Provider{Response: "CATEGORY:news CONFIDENCE:0.3"}
	c := NewClassifier(nil, nil, WithLLM(fast, true))

	got := c.Classify(context.Background(), "what's the weather like")
	if got.Intent != Weather {
		t.Fatalf("intent = %s, want %s (keyword fallback)", got.Intent, Weather)
	}
}

func TestClassifierCachesResults(t *testing.T) {
	store := cache.NewMemory()
	fast := &llmmock.Provider{Response: "CATEGORY:weather CONFIDENCE:0.9"}
	c := NewClassifier(store, nil, WithLLM(fast, true))

	first := c.Classify(context.Background(), "Weather in Denver?")
	// Same query modulo case and whitespace must hit the cache.
	second := c.Classify(context.Background(), "  weather in denver?  ")

	if first.Intent != Weather || second.Intent != Weather {
		t.Fatalf("intents = %s/%s, want weather", first.Intent, second.Intent)
	}
	if fast.CallCount() != 1 {
		t.Fatalf("llm calls = %d, want 1 (second lookup should be cached)", fast.CallCount())
	}
}

func TestClassifierLLMDisabled(t *testing.T) {
	fast := &llmmock.Provider{Response: "CATEGORY:sports CONFIDENCE:0.99"}
	c := NewClassifier(nil, nil, WithLLM(fast, false))

	got := c.Classify(context.Background(), "what's the weather like")
	if got.Intent != Weather {
		t.Fatalf("intent = %s, want %s", got.Intent, Weather)
	}
	if fast.CallCount() != 0 {
		t.Fatalf("llm calls = %d, want 0 (stage disabled)", fast.CallCount())
	}
}

func TestExtractEntities(t *testing.T) {
	cases := []struct {
		intent Intent
		query  string
		want   map[string]string
	}{
		{Weather, "what's the weather in Baltimore", map[string]string{"location": "Baltimore"}},
		{EventSearch, "concerts near Fells Point tonight", map[string]string{"location": "Fells Point"}},
		{Airports, "is the flight to BWI delayed", map[string]string{"airport_code": "BWI"}},
		{Sports, "did the orioles win", map[string]string{"team": "orioles"}},
		{Control, "turn off the lights", map[string]string{"device": "lights"}},
		{General, "tell me a joke", nil},
	}
	for _, tc := range cases {
		got := ExtractEntities(tc.intent, tc.query)
		if len(got) != len(tc.want) {
			t.Errorf("ExtractEntities(%s, %q) = %v, want %v", tc.intent, tc.query, got, tc.want)
			continue
		}
		for k, v := range tc.want {
			if got[k] != v {
				t.Errorf("ExtractEntities(%s, %q)[%s] = %q, want %q", tc.intent, tc.query, k, got[k], v)
			}
		}
	}
}

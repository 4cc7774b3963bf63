package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	llmmock "github.com/porchlabs/porchlight/pkg/provider/llm/mock"
	"github.com/porchlabs/porchlight/pkg/provider/search"
)

func TestFindSpecificFacts(t *testing.T) {
	cases := []struct {
		answer string
		want   []string // labels expected, in order of pattern table
	}{
		{"The National is playing at Rams Head Live on March 15 at 7:30 PM", []string{"date", "time"}},
		{"Tickets start at $45 each", []string{"money"}},
		{"Call them at (410) 555-0123", []string{"phone"}},
		{"The show is on 3/15/2026", []string{"date"}},
		{"Doors open at 7 pm", []string{"time"}},
		{"It costs about 20 dollars", []string{"money"}},
		{"It's 72 degrees and sunny right now", nil},
		{"I don't have current event information for Baltimore", nil},
	}
	for _, tc := range cases {
		got := findSpecificFacts(tc.answer)
		if len(got) != len(tc.want) {
			t.Errorf("findSpecificFacts(%q) = %v, want %d facts (%v)", tc.answer, got, len(tc.want), tc.want)
			continue
		}
		for i, label := range tc.want {
			if !strings.HasPrefix(got[i], label+": ") {
				t.Errorf("findSpecificFacts(%q)[%d] = %q, want label %q", tc.answer, i, got[i], label)
			}
		}
	}
}

func TestValidateFlagsUnsupportedFacts(t *testing.T) {
	o := New(nil, nil, nil, nil, nil)

	v := o.validate(context.Background(),
		"The National is playing at Rams Head Live on March 15 at 7:30 PM", nil)
	if v.Passed {
		t.Fatal("expected validation failure for specific facts with no evidence")
	}
	if len(v.Details) == 0 {
		t.Fatal("expected flagged patterns in details")
	}
}

func TestValidatePassesFactsWithEvidence(t *testing.T) {
	o := New(nil, nil, nil, nil, nil)

	retrieved := []search.Result{{
		Source: "ticketmaster", Title: "The National",
		Snippet: "The National, Rams Head Live, March 15, 7:30 PM",
	}}
	v := o.validate(context.Background(),
		"The National plays Rams Head Live on March 15 at 7:30 PM", retrieved)
	if !v.Passed {
		t.Fatalf("expected pass with supporting evidence, got reason %q", v.Reason)
	}
}

func TestValidatePassesCleanNoEvidenceAnswer(t *testing.T) {
	o := New(nil, nil, nil, nil, nil)

	v := o.validate(context.Background(),
		"I don't have current concert listings. Try a local events site.", nil)
	if !v.Passed {
		t.Fatalf("expected pass for fact-free answer, got reason %q", v.Reason)
	}
}

func TestValidateLLMFactCheckRejects(t *testing.T) {
	fast := &llmmock.Provider{
		Response: `{"contains_hallucinations": true, "reason": "venue not in context", "specific_claims": ["Rams Head Live"]}`,
	}
	o := New(nil, nil, nil, nil, nil, WithFactCheck(fast, true))

	retrieved := []search.Result{{Source: "weather", Title: "Forecast", Snippet: "72F Sunny"}}
	v := o.validate(context.Background(), "It's 72 degrees at Rams Head Live", retrieved)
	if v.Passed {
		t.Fatal("expected fact check to reject")
	}
	if v.Reason != "venue not in context" {
		t.Fatalf("reason = %q", v.Reason)
	}
}

func TestValidateLLMFactCheckToleratesCodeFences(t *testing.T) {
	fast := &llmmock.Provider{
		Response: "```json\n{\"contains_hallucinations\": false, \"reason\": \"\", \"specific_claims\": []}\n```",
	}
	o := New(nil, nil, nil, nil, nil, WithFactCheck(fast, true))

	retrieved := []search.Result{{Source: "weather", Title: "Forecast", Snippet: "72F Sunny"}}
	v := o.validate(context.Background(), "It's 72 and sunny", retrieved)
	if !v.Passed {
		t.Fatalf("expected pass, got reason %q", v.Reason)
	}
}

func TestValidateFactCheckFailureFailsClosed(t *testing.T) {
	fast := &llmmock.Provider{Err: errors.New("backend down")}
	o := New(nil, nil, nil, nil, nil, WithFactCheck(fast, true))
	retrieved := []search.Result{{Source: "weather", Title: "Forecast", Snippet: "72F Sunny"}}

	// An answer with no regex-detectable facts can still hallucinate
	// names and venues. A broken checker means a failed stage.
	v := o.validate(context.Background(), "It's warm and sunny out at Rams Head Live", retrieved)
	if v.Passed {
		t.Fatal("expected fail-closed when the fact checker is unavailable")
	}

	v = o.validate(context.Background(), "The game starts at 7:30 PM", retrieved)
	if v.Passed {
		t.Fatal("expected fail-closed for facts with broken fact checker")
	}
}

func TestValidateUnparseableVerdictFailsClosed(t *testing.T) {
	fast := &llmmock.Provider{Response: "I think it looks fine to me"}
	o := New(nil, nil, nil, nil, nil, WithFactCheck(fast, true))
	retrieved := []search.Result{{Source: "weather", Title: "Forecast", Snippet: "72F Sunny"}}

	v := o.validate(context.Background(), "It's warm and sunny out", retrieved)
	if v.Passed {
		t.Fatal("expected fail-closed on an unparseable verdict")
	}
}

package httpjson

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/porchlabs/porchlight/pkg/provider/search"
)

func TestSearch(t *testing.T) {
	var gotPath, gotKey string
	var gotReq request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{
			"results": [
				{"title": "Tigers vs Yankees", "snippet": "7:05 PM at Comerica Park", "url": "https://example.test/game", "confidence": 0.9, "metadata": {"venue": "Comerica Park"}},
				{"title": "", "snippet": ""},
				{"title": "No confidence", "snippet": "service omitted the field"}
			],
			"source": "sports",
			"fetched_at": "2026-08-26T12:00:00Z"
		}`))
	}))
	defer ts.Close()

	p, err := New("sports", ts.URL, WithAPIKey("secret"))
	if err != nil {
		t.Fatal(err)
	}

	results, err := p.Search(context.Background(), search.Query{
		Text:     "tigers game tonight",
		Location: "Detroit",
		Limit:    5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/query" {
		t.Errorf("path = %q, want /query", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotReq.Query != "tigers game tonight" || gotReq.Location != "Detroit" || gotReq.Limit != 5 {
		t.Errorf("request = %+v", gotReq)
	}

	// The empty entry is dropped.
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	first := results[0]
	if first.Source != "sports" || first.Title != "Tigers vs Yankees" || first.Confidence != 0.9 {
		t.Errorf("result = %+v", first)
	}
	if first.Metadata["venue"] != "Comerica Park" {
		t.Errorf("metadata = %v", first.Metadata)
	}
	if results[1].Confidence != 0.5 {
		t.Errorf("default confidence = %v, want 0.5", results[1].Confidence)
	}
}

func TestSearch_ClampsReportedConfidence(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results": [
			{"title": "over", "snippet": "s", "confidence": 1.7},
			{"title": "under", "snippet": "s", "confidence": -0.3}
		]}`))
	}))
	defer ts.Close()

	p, err := New("brave", ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	results, err := p.Search(context.Background(), search.Query{Text: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Confidence != 1 || results[1].Confidence != 0 {
		t.Errorf("confidences = %v, %v, want 1, 0", results[0].Confidence, results[1].Confidence)
	}
}

func TestSearch_NonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream quota exceeded", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	p, err := New("serpapi", ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Search(context.Background(), search.Query{Text: "q"}); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestSearch_RespectsContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body: the server only watches for client disconnect
		// (which cancels r.Context()) once the request body is consumed.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer ts.Close()

	p, err := New("weather", ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Search(ctx, search.Query{Text: "q"}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "http://svc.test"); err == nil {
		t.Error("empty name accepted")
	}
	if _, err := New("weather", ""); err == nil {
		t.Error("empty base URL accepted")
	}
}

func TestOptions(t *testing.T) {
	p, err := New("events", "http://svc.test/",
		WithPath("/v2/search"),
		WithTTL(10*time.Minute),
	)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "events" {
		t.Errorf("name = %q", p.Name())
	}
	if p.TTL() != 10*time.Minute {
		t.Errorf("ttl = %v", p.TTL())
	}
	if p.baseURL != "http://svc.test" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", p.baseURL)
	}
	if p.path != "/v2/search" {
		t.Errorf("path = %q", p.path)
	}
}

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestHealthz_ContentType(t *testing.T) {
	h := New(nil)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestHealth_AllComponentsHealthy(t *testing.T) {
	h := New(func() string { return "owner" },
		Checker{Name: "cache", Check: func(_ context.Context) error { return nil }},
		Checker{Name: "config", Check: func(_ context.Context) error { return nil }},
		Checker{Name: "model", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body Status
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, want %q", body.Status, "healthy")
	}
	if body.Mode != "owner" {
		t.Errorf("mode = %q, want %q", body.Mode, "owner")
	}
	for _, name := range []string{"cache", "config", "model"} {
		if body.Components[name] != "healthy" {
			t.Errorf("%s component = %q, want healthy", name, body.Components[name])
		}
	}
}

func TestHealth_ComponentDown(t *testing.T) {
	h := New(func() string { return "guest" },
		Checker{Name: "cache", Check: func(_ context.Context) error {
			return errors.New("connection refused")
		}},
		Checker{Name: "config", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	// Degraded is still 200: the process serves, a dependency doesn't.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body Status
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want %q", body.Status, "degraded")
	}
	if body.Components["cache"] != "degraded: connection refused" {
		t.Errorf("cache component = %q", body.Components["cache"])
	}
	if body.Components["config"] != "healthy" {
		t.Errorf("config component = %q, want healthy", body.Components["config"])
	}
}

func TestHealth_NoCheckers(t *testing.T) {
	h := New(nil)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body Status
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, want %q", body.Status, "healthy")
	}
	if body.Mode != "" {
		t.Errorf("mode = %q, want empty", body.Mode)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(nil,
		Checker{Name: "test", Check: func(_ context.Context) error { return nil }},
	)

	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/health"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestHealth_RespectsContextCancellation(t *testing.T) {
	h := New(nil,
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req := httptest.NewRequest("GET", "/health", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	var body Status
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
}

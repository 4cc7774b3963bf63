// Package health provides the HTTP health check handler.
//
// The package exposes two endpoints:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /health  — component health; reports "healthy" or "degraded" with a
//     per-component breakdown and the current operating mode.
//
// A degraded response still carries status 200: the process is serving,
// just without all of its dependencies. Callers inspect the components
// map to find out which one is down.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single component check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named component check. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short label for this component (e.g. "cache", "config",
	// "model"). It appears as a key in the components map.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Status is the JSON response body for /health.
type Status struct {
	Status     string            `json:"status"` // "healthy" or "degraded"
	Mode       string            `json:"mode,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// Handler serves /health and /healthz. It is safe for concurrent use;
// the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	mode     func() string // current operating mode, may be nil
}

// New creates a [Handler] that evaluates the given checkers on each /health
// request. mode supplies the current operating mode for the response; pass
// nil to omit the field. Checkers are evaluated sequentially in the order
// provided.
func New(mode func() string, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, mode: mode}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Health reports per-component health. The response is 200 whether the
// service is healthy or degraded; only the body distinguishes them. Each
// checker is given a context with a [checkTimeout] deadline derived from
// the request context.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(h.checkers))
	healthy := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			components[c.Name] = "degraded: " + err.Error()
			healthy = false
		} else {
			components[c.Name] = "healthy"
		}
	}

	res := Status{
		Status:     "healthy",
		Components: components,
	}
	if !healthy {
		res.Status = "degraded"
	}
	if h.mode != nil {
		res.Mode = h.mode()
	}
	writeJSON(w, http.StatusOK, res)
}

// Register adds the /health and /healthz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /health", h.Health)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

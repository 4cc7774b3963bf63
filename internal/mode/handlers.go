package mode

import (
	"encoding/json"
	"net/http"
)

// Register adds the internal diagnostics routes to mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /mode/current", s.handleCurrent)
	mux.HandleFunc("GET /mode/events", s.handleEvents)
}

// handleCurrent serves the published snapshot.
func (s *Service) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Current())
}

// handleEvents serves the most recently parsed calendar events.
func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	events := s.Events()
	if events == nil {
		events = []Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

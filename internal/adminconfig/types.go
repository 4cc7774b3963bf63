// Package adminconfig pulls operator-managed configuration from the admin
// service: model backends, feature flags, classification rules, and
// mode/intent policy rows.
//
// Reads go through an in-process TTL cache (default 60 s). A refresh that
// fails keeps serving the last-known-good value, so a flapping admin
// service degrades freshness, never availability. Concurrent misses for
// the same key coalesce into a single upstream fetch.
package adminconfig

import (
	"encoding/json"
	"time"
)

// Backend describes one model backend as configured by the operator.
// Backends are created and mutated externally; Porchlight only consumes
// them and never persists them.
type Backend struct {
	// ID is the admin-side identifier, used for metric writeback.
	ID string `json:"id"`

	// ModelName is the model identifier clients request (e.g. "qwen2.5:14b").
	ModelName string `json:"model_name"`

	// EndpointURL is the base URL of the backend's API.
	EndpointURL string `json:"endpoint_url"`

	// Provider selects the client implementation: "openai" for
	// chat-completions-shaped backends, "ollama" for Ollama's native API.
	// Empty defaults to "openai".
	Provider string `json:"provider"`

	// Enabled backends are eligible for selection. Disabled rows are
	// filtered out before callers ever see them.
	Enabled bool `json:"enabled"`

	// Priority orders backends; lower is preferred.
	Priority int `json:"priority"`

	// MaxTokens caps completion length for this backend.
	MaxTokens int `json:"max_tokens"`

	// TemperatureDefault is used when the caller does not set one.
	TemperatureDefault float64 `json:"temperature_default"`

	// TimeoutSeconds bounds each call to this backend.
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Timeout returns the per-call timeout, defaulting to 30 s.
func (b Backend) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// FeatureFlag is an operator-managed flag. Value may be a bool, number,
// string, or object.
type FeatureFlag struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// ClassificationRule maps a set of regular expressions to an intent for
// the keyword classifier. Rules are ordered; the first match wins.
type ClassificationRule struct {
	Intent   string   `json:"intent"`
	Patterns []string `json:"patterns"`
}

// Policy is the admin-stored projection of an operating mode onto one
// intent: whether it is allowed and under which limits.
type Policy struct {
	Intent                   string   `json:"intent"`
	Mode                     string   `json:"mode"`
	Allowed                  bool     `json:"allowed"`
	RateLimitPerMinute       int      `json:"rate_limit_per_minute"`
	RestrictedEntityPatterns []string `json:"restricted_entity_patterns"`
	AllowedDeviceDomains     []string `json:"allowed_device_domains"`
}

// ModeOverride is an operator-issued mode override. Overrides trump the
// calendar; the highest-priority active override wins.
type ModeOverride struct {
	Mode        string     `json:"mode"`
	Priority    int        `json:"priority"`
	ActivatedAt time.Time  `json:"activated_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Deactivated bool       `json:"deactivated"`
	Source      string     `json:"source"`
}

// Active reports whether the override applies at the given instant.
func (o ModeOverride) Active(now time.Time) bool {
	if o.Deactivated {
		return false
	}
	if o.ExpiresAt != nil && !now.Before(*o.ExpiresAt) {
		return false
	}
	return !o.ActivatedAt.After(now)
}

// BackendMetrics is the rolling performance sample written back to the
// admin store after each backend call.
type BackendMetrics struct {
	LatencyMS    float64 `json:"latency_ms"`
	TokensPerSec float64 `json:"tokens_per_sec"`
}

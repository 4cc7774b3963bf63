// Package config provides the configuration schema and loader for the
// Porchlight server.
//
// Configuration is layered: built-in defaults, then an optional YAML
// file, then environment variables. The environment wins, so a container
// deployment can run without any file at all.
package config

import "time"

// LogLevel controls log verbosity for the Porchlight server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Porchlight.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Admin        AdminConfig        `yaml:"admin"`
	Cache        CacheConfig        `yaml:"cache"`
	Model        ModelConfig        `yaml:"model"`
	Session      SessionConfig      `yaml:"session"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Mode         ModeConfig         `yaml:"mode"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AdminConfig points at the admin service that owns operator state.
type AdminConfig struct {
	// APIURL is the admin service base URL. Required.
	APIURL string `yaml:"api_url"`

	// RefreshTTLSeconds is the in-process cache TTL for admin reads.
	RefreshTTLSeconds int `yaml:"refresh_ttl_seconds"`
}

// RefreshTTL returns the admin read cache TTL.
func (a AdminConfig) RefreshTTL() time.Duration {
	return time.Duration(a.RefreshTTLSeconds) * time.Second
}

// CacheConfig configures the distributed cache.
type CacheConfig struct {
	// URL is the Redis connection URL. An unreachable cache degrades to
	// an in-process store rather than failing startup.
	URL string `yaml:"url"`
}

// ModelConfig selects the synthesis backend and the optional fast model
// used for routing, classification, and fact checking.
type ModelConfig struct {
	// BackendURL is the chat-completions base URL of the synthesis
	// backend. Required.
	BackendURL string `yaml:"backend_url"`

	// Name is the model identifier at the backend.
	Name string `yaml:"name"`

	// APIKey authenticates against the backend, when it requires one.
	APIKey string `yaml:"api_key"`

	// FastBackendURL optionally points at a small, quick model for
	// one-shot decisions. Empty reuses the synthesis backend.
	FastBackendURL string `yaml:"fast_backend_url"`

	// FastName is the fast model's identifier.
	FastName string `yaml:"fast_name"`
}

// SessionConfig bounds conversation state.
type SessionConfig struct {
	TTLSeconds              int `yaml:"ttl_seconds"`
	MaxHistoryMessages      int `yaml:"max_history_messages"`
	HistoryInjectedMessages int `yaml:"history_injected_messages"`
}

// TTL returns the session sliding expiry.
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// OrchestratorConfig tunes the request pipeline.
type OrchestratorConfig struct {
	DeadlineSeconds           int  `yaml:"deadline_seconds"`
	IntentCacheTTLSeconds     int  `yaml:"intent_cache_ttl_seconds"`
	EnableLLMIntentClassifier bool `yaml:"enable_llm_intent_classifier"`
	EnableLLMFactCheck        bool `yaml:"enable_llm_fact_check"`
}

// Deadline returns the end-to-end request budget.
func (o OrchestratorConfig) Deadline() time.Duration {
	return time.Duration(o.DeadlineSeconds) * time.Second
}

// IntentCacheTTL returns the classification cache TTL.
func (o OrchestratorConfig) IntentCacheTTL() time.Duration {
	return time.Duration(o.IntentCacheTTLSeconds) * time.Second
}

// RetrievalConfig configures the retrieval engine and its providers.
type RetrievalConfig struct {
	ProviderTimeoutSeconds int `yaml:"provider_timeout_seconds"`
	DefaultTTLSeconds      int `yaml:"default_ttl_seconds"`

	// Providers lists the retrieval services to register. Each entry
	// becomes one httpjson adapter.
	Providers []SearchProviderConfig `yaml:"providers"`
}

// ProviderTimeout returns the per-provider search budget.
func (r RetrievalConfig) ProviderTimeout() time.Duration {
	return time.Duration(r.ProviderTimeoutSeconds) * time.Second
}

// DefaultTTL returns the fallback search result cache TTL.
func (r RetrievalConfig) DefaultTTL() time.Duration {
	return time.Duration(r.DefaultTTLSeconds) * time.Second
}

// SearchProviderConfig describes one retrieval microservice.
type SearchProviderConfig struct {
	// Name is the provider identifier used in routing tables and cache
	// keys (e.g. "ticketmaster", "brave", "weather").
	Name string `yaml:"name"`

	// BaseURL is the service's base URL.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as X-API-Key when set.
	APIKey string `yaml:"api_key"`

	// TTLSeconds overrides the result cache TTL for this provider.
	TTLSeconds int `yaml:"ttl_seconds"`
}

// ModeConfig configures the guest/owner mode service.
type ModeConfig struct {
	Enabled                    bool   `yaml:"enabled"`
	ICalURL                    string `yaml:"ical_url"`
	PollIntervalSeconds        int    `yaml:"poll_interval_seconds"`
	BufferBeforeCheckinMinutes int    `yaml:"buffer_before_checkin_minutes"`
	BufferAfterCheckoutMinutes int    `yaml:"buffer_after_checkout_minutes"`
}

// PollInterval returns how often the iCal feed is reconciled.
func (m ModeConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalSeconds) * time.Second
}

// BufferBeforeCheckin returns how early before check-in guest mode starts.
func (m ModeConfig) BufferBeforeCheckin() time.Duration {
	return time.Duration(m.BufferBeforeCheckinMinutes) * time.Minute
}

// BufferAfterCheckout returns how long after checkout guest mode lingers.
func (m ModeConfig) BufferAfterCheckout() time.Duration {
	return time.Duration(m.BufferAfterCheckoutMinutes) * time.Minute
}

// Default returns the built-in configuration. Every numeric field carries
// its documented default so a YAML file or the environment only needs to
// override what actually differs.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Admin: AdminConfig{
			RefreshTTLSeconds: 60,
		},
		Cache: CacheConfig{
			URL: "redis://localhost:6379",
		},
		Session: SessionConfig{
			TTLSeconds:              1800,
			MaxHistoryMessages:      20,
			HistoryInjectedMessages: 6,
		},
		Orchestrator: OrchestratorConfig{
			DeadlineSeconds:       25,
			IntentCacheTTLSeconds: 300,
		},
		Retrieval: RetrievalConfig{
			ProviderTimeoutSeconds: 3,
			DefaultTTLSeconds:      900,
		},
		Mode: ModeConfig{
			PollIntervalSeconds:        600,
			BufferBeforeCheckinMinutes: 120,
			BufferAfterCheckoutMinutes: 60,
		},
	}
}

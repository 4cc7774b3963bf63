package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, overlaid by the
// YAML file at path when path is non-empty, overlaid by the environment.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	FromEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and
// validates the result. The environment is not consulted; useful in
// tests where configs are string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML decodes strictly so a typoed key fails loudly instead of
// being silently dropped.
func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// FromEnv applies environment variable overrides to cfg. Unset variables
// leave the current value untouched; malformed numeric or boolean values
// are ignored rather than failing startup.
func FromEnv(cfg *Config) {
	setString(&cfg.Admin.APIURL, "ADMIN_API_URL")
	setString(&cfg.Model.BackendURL, "MODEL_BACKEND_URL")
	setString(&cfg.Cache.URL, "CACHE_URL")

	setInt(&cfg.Session.TTLSeconds, "SESSION_TTL_SECONDS")
	setInt(&cfg.Session.MaxHistoryMessages, "MAX_HISTORY_MESSAGES")
	setInt(&cfg.Session.HistoryInjectedMessages, "HISTORY_INJECTED_MESSAGES")

	setInt(&cfg.Retrieval.ProviderTimeoutSeconds, "PROVIDER_TIMEOUT_SECONDS")
	setInt(&cfg.Retrieval.DefaultTTLSeconds, "SEARCH_CACHE_DEFAULT_TTL_SECONDS")

	setInt(&cfg.Orchestrator.DeadlineSeconds, "ORCHESTRATOR_DEADLINE_SECONDS")
	setInt(&cfg.Orchestrator.IntentCacheTTLSeconds, "INTENT_CACHE_TTL_SECONDS")
	setBool(&cfg.Orchestrator.EnableLLMIntentClassifier, "ENABLE_LLM_INTENT_CLASSIFIER")
	setBool(&cfg.Orchestrator.EnableLLMFactCheck, "ENABLE_LLM_FACT_CHECK")

	setInt(&cfg.Admin.RefreshTTLSeconds, "CONFIG_REFRESH_TTL_SECONDS")
	setInt(&cfg.Mode.PollIntervalSeconds, "MODE_POLL_INTERVAL_SECONDS")
}

func setString(dest *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dest = v
	}
}

func setInt(dest *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dest = n
	}
}

func setBool(dest *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dest = b
	}
}

// Validate checks that cfg contains a coherent set of values. It returns
// a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Admin.APIURL == "" {
		errs = append(errs, errors.New("admin.api_url is required (ADMIN_API_URL)"))
	}
	if cfg.Model.BackendURL == "" {
		errs = append(errs, errors.New("model.backend_url is required (MODEL_BACKEND_URL)"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Session.TTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("session.ttl_seconds %d must be positive", cfg.Session.TTLSeconds))
	}
	if cfg.Session.MaxHistoryMessages <= 0 {
		errs = append(errs, fmt.Errorf("session.max_history_messages %d must be positive", cfg.Session.MaxHistoryMessages))
	}
	if cfg.Session.HistoryInjectedMessages < 0 {
		errs = append(errs, fmt.Errorf("session.history_injected_messages %d must not be negative", cfg.Session.HistoryInjectedMessages))
	}
	if cfg.Session.HistoryInjectedMessages > cfg.Session.MaxHistoryMessages {
		errs = append(errs, fmt.Errorf("session.history_injected_messages %d exceeds max_history_messages %d",
			cfg.Session.HistoryInjectedMessages, cfg.Session.MaxHistoryMessages))
	}

	if cfg.Orchestrator.DeadlineSeconds <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.deadline_seconds %d must be positive", cfg.Orchestrator.DeadlineSeconds))
	}
	if cfg.Retrieval.ProviderTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.provider_timeout_seconds %d must be positive", cfg.Retrieval.ProviderTimeoutSeconds))
	}
	if cfg.Retrieval.ProviderTimeoutSeconds >= cfg.Orchestrator.DeadlineSeconds {
		errs = append(errs, fmt.Errorf("retrieval.provider_timeout_seconds %d must be below orchestrator.deadline_seconds %d",
			cfg.Retrieval.ProviderTimeoutSeconds, cfg.Orchestrator.DeadlineSeconds))
	}

	seen := make(map[string]int, len(cfg.Retrieval.Providers))
	for i, p := range cfg.Retrieval.Providers {
		prefix := fmt.Sprintf("retrieval.providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of retrieval.providers[%d]", prefix, p.Name, prev))
			}
			seen[p.Name] = i
		}
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required", prefix))
		}
	}

	if cfg.Mode.Enabled && cfg.Mode.ICalURL == "" {
		errs = append(errs, errors.New("mode.ical_url is required when mode.enabled is true"))
	}
	if cfg.Mode.PollIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("mode.poll_interval_seconds %d must be positive", cfg.Mode.PollIntervalSeconds))
	}

	return errors.Join(errs...)
}

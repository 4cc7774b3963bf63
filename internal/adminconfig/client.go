package adminconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNoLastKnownGood is returned by Healthy when the admin service is
// unreachable and no previous fetch ever succeeded.
var ErrNoLastKnownGood = errors.New("adminconfig: no last-known-good configuration")

// DefaultTTL is the in-process cache TTL for admin reads.
const DefaultTTL = 60 * time.Second

// fetchTimeout bounds each upstream request.
const fetchTimeout = 10 * time.Second

// cacheEntry is one cached admin read with its refresh bookkeeping.
// The mutex serialises refreshes so N concurrent misses issue one fetch;
// readers that lose the race wait on the in-flight refresh and then read
// its result (or the last-known-good value) from the warmed entry.
type cacheEntry struct {
	mu        sync.Mutex
	value     any
	fetchedAt time.Time
	everOK    bool
}

// Client reads operator configuration from the admin service with a TTL
// cache and last-known-good fallback. Safe for concurrent use.
type Client struct {
	baseURL string
	ttl     time.Duration
	httpc   *http.Client

	mu      sync.Mutex
	entries map[string]*cacheEntry

	lastSuccess      atomic64Time
	refreshFailCount sync.Map // key → consecutive failures, for log throttling
}

// atomic64Time stores a unix-nano timestamp behind a mutex-free API.
type atomic64Time struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomic64Time) set(t time.Time) { a.mu.Lock(); a.t = t; a.mu.Unlock() }
func (a *atomic64Time) get() time.Time  { a.mu.Lock(); defer a.mu.Unlock(); return a.t }

// Option is a functional option for New.
type Option func(*Client)

// WithTTL overrides the in-process cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithHTTPClient injects an HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// New creates a Client for the admin service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     DefaultTTL,
		httpc:   &http.Client{Timeout: fetchTimeout},
		entries: make(map[string]*cacheEntry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// entry returns the cacheEntry for key, creating it on first use.
func (c *Client) entry(key string) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	return e
}

// cached runs fetch through the TTL cache under key. On refresh failure it
// returns the last-known-good value; when none exists it returns fetch's
// error.
func (c *Client) cached(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.everOK && time.Since(e.fetchedAt) < c.ttl {
		return e.value, nil
	}

	v, err := fetch(ctx)
	if err != nil {
		c.noteFailure(key, err)
		if e.everOK {
			return e.value, nil
		}
		return nil, err
	}

	e.value = v
	e.fetchedAt = time.Now()
	e.everOK = true
	c.lastSuccess.set(e.fetchedAt)
	c.refreshFailCount.Delete(key)
	return v, nil
}

// noteFailure logs a refresh failure, escalating to warn only after the
// failure repeats, since a single blip is routine.
func (c *Client) noteFailure(key string, err error) {
	n := 1
	if v, ok := c.refreshFailCount.Load(key); ok {
		n = v.(int) + 1
	}
	c.refreshFailCount.Store(key, n)
	if n >= 3 {
		slog.Warn("admin config refresh failing", "key", key, "consecutive", n, "error", err)
	} else {
		slog.Debug("admin config refresh failed", "key", key, "error", err)
	}
}

// GetBackends returns the enabled backends sorted ascending by priority.
// Returns an empty slice when the admin service is unreachable and no
// previous fetch succeeded.
func (c *Client) GetBackends(ctx context.Context) []Backend {
	v, err := c.cached(ctx, "backends", func(ctx context.Context) (any, error) {
		var all []Backend
		if err := c.getJSON(ctx, "/api/llm-backends/public", &all); err != nil {
			return nil, err
		}
		enabled := make([]Backend, 0, len(all))
		for _, b := range all {
			if b.Enabled {
				enabled = append(enabled, b)
			}
		}
		sort.SliceStable(enabled, func(i, j int) bool {
			return enabled[i].Priority < enabled[j].Priority
		})
		return enabled, nil
	})
	if err != nil {
		return nil
	}
	return v.([]Backend)
}

// flags returns the feature flag map, empty on total failure.
func (c *Client) flags(ctx context.Context) map[string]json.RawMessage {
	v, err := c.cached(ctx, "flags", func(ctx context.Context) (any, error) {
		var all []FeatureFlag
		if err := c.getJSON(ctx, "/api/features/public", &all); err != nil {
			return nil, err
		}
		m := make(map[string]json.RawMessage, len(all))
		for _, f := range all {
			m[f.Key] = f.Value
		}
		return m, nil
	})
	if err != nil {
		return nil
	}
	return v.(map[string]json.RawMessage)
}

// GetBoolFlag returns the boolean flag at key, or def when the flag is
// absent or not a boolean. String values "true"/"false" are accepted
// because the admin UI stores some toggles as strings.
func (c *Client) GetBoolFlag(ctx context.Context, key string, def bool) bool {
	raw, ok := c.flags(ctx)[key]
	if !ok {
		return def
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	}
	return def
}

// GetStringFlag returns the string flag at key, or def.
func (c *Client) GetStringFlag(ctx context.Context, key string, def string) string {
	raw, ok := c.flags(ctx)[key]
	if !ok {
		return def
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return def
	}
	return s
}

// GetIntFlag returns the numeric flag at key, or def.
func (c *Client) GetIntFlag(ctx context.Context, key string, def int) int {
	raw, ok := c.flags(ctx)[key]
	if !ok {
		return def
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return def
	}
	return int(f)
}

// GetJSONFlag decodes a structured flag value into dest and reports
// whether the flag was present and well-formed.
func (c *Client) GetJSONFlag(ctx context.Context, key string, dest any) bool {
	raw, ok := c.flags(ctx)[key]
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		slog.Warn("malformed structured flag", "key", key, "error", err)
		return false
	}
	return true
}

// GetRules returns the operator-managed classification rules, or nil when
// unset so the caller falls back to the built-in table.
func (c *Client) GetRules(ctx context.Context) []ClassificationRule {
	var rules []ClassificationRule
	if !c.GetJSONFlag(ctx, "classifier.rules", &rules) {
		return nil
	}
	return rules
}

// GetOverrides returns the operator-issued mode overrides, expired and
// deactivated rows included; the mode service filters them.
func (c *Client) GetOverrides(ctx context.Context) []ModeOverride {
	var ov []ModeOverride
	if !c.GetJSONFlag(ctx, "mode.overrides", &ov) {
		return nil
	}
	return ov
}

// GetPolicy returns the policy row for (mode, intent). Absent rows return
// ok=false; the caller applies mode-appropriate defaults.
func (c *Client) GetPolicy(ctx context.Context, mode, intentName string) (Policy, bool) {
	key := "policy:" + mode + ":" + intentName
	v, err := c.cached(ctx, key, func(ctx context.Context) (any, error) {
		var p Policy
		path := "/api/policy/" + intentName + "?mode=" + mode
		if err := c.getJSON(ctx, path, &p); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return Policy{}, false
	}
	return v.(Policy), true
}

// ReportBackendMetrics writes a rolling performance sample for backendID.
// Best-effort: failures are logged and swallowed.
func (c *Client) ReportBackendMetrics(ctx context.Context, backendID string, m BackendMetrics) {
	body, err := json.Marshal(m)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/metrics/backend/"+backendID, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		slog.Debug("backend metrics writeback failed", "backend", backendID, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		slog.Debug("backend metrics writeback rejected", "backend", backendID, "status", resp.StatusCode)
	}
}

// Healthy probes the admin service. When the probe fails but a previous
// fetch succeeded within tolerance, the client is considered degraded but
// healthy; with no last-known-good at all it returns ErrNoLastKnownGood.
func (c *Client) Healthy(ctx context.Context) error {
	var probe []Backend
	err := c.getJSON(ctx, "/api/llm-backends/public", &probe)
	if err == nil {
		return nil
	}
	if c.lastSuccess.get().IsZero() {
		return ErrNoLastKnownGood
	}
	return fmt.Errorf("adminconfig: unreachable (serving last-known-good): %w", err)
}

// LastSuccess returns when any admin fetch last succeeded; zero when none
// ever has. The startup watchdog uses this for the exit-code-2 condition.
func (c *Client) LastSuccess() time.Time { return c.lastSuccess.get() }

// getJSON issues a GET against path and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("adminconfig: build request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("adminconfig: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("adminconfig: %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("adminconfig: %s: decode: %w", path, err)
	}
	return nil
}

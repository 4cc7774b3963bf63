// Command porchlight is the voice-assistant request orchestrator server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/porchlabs/porchlight/internal/adminconfig"
	"github.com/porchlabs/porchlight/internal/cache"
	"github.com/porchlabs/porchlight/internal/config"
	"github.com/porchlabs/porchlight/internal/gateway"
	"github.com/porchlabs/porchlight/internal/health"
	"github.com/porchlabs/porchlight/internal/intent"
	"github.com/porchlabs/porchlight/internal/mode"
	"github.com/porchlabs/porchlight/internal/observe"
	"github.com/porchlabs/porchlight/internal/orchestrator"
	"github.com/porchlabs/porchlight/internal/resilience"
	"github.com/porchlabs/porchlight/internal/retrieval"
	"github.com/porchlabs/porchlight/internal/session"
	"github.com/porchlabs/porchlight/pkg/provider/llm"
	"github.com/porchlabs/porchlight/pkg/provider/llm/openai"
	"github.com/porchlabs/porchlight/pkg/provider/search/httpjson"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// Exit codes: 0 clean shutdown, 1 startup or runtime failure, 2 both the
// cache and the admin service stayed unreachable past the dependency
// grace period with no last-known-good state to serve from.
const (
	exitOK    = 0
	exitError = 1
	exitDeps  = 2
)

// depGracePeriod is how long startup tolerates both hard dependencies
// being down before giving up with exitDeps.
const depGracePeriod = 60 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; environment variables override)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "porchlight: %v\n", err)
		return exitError
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("porchlight starting",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry first so every subsystem records into the real providers.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitError
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// Cache: Redis when reachable, in-process otherwise. The pipeline is
	// correct without a distributed cache, just slower and per-process.
	var store cache.Store
	cachePing := func(ctx context.Context) error { return store.Ping(ctx) }
	redisStore, redisErr := cache.NewRedis(cfg.Cache.URL)
	if redisErr != nil {
		slog.Warn("redis unreachable, using in-process cache", "url", cfg.Cache.URL, "err", redisErr)
		store = cache.NewMemory()
		// The fallback store always pings clean; the watchdog needs the
		// real dependency's state.
		cachePing = func(context.Context) error { return redisErr }
	} else {
		store = redisStore
	}
	defer store.Close()

	admin := adminconfig.New(cfg.Admin.APIURL, adminconfig.WithTTL(cfg.Admin.RefreshTTL()))

	// Model backends. The fast model serves one-shot decisions (routing,
	// classification, fact checking); absent a dedicated one, the
	// synthesis backend does double duty.
	primary, err := buildModel(cfg.Model.BackendURL, cfg.Model.Name, cfg.Model.APIKey)
	if err != nil {
		slog.Error("failed to build model backend", "err", err)
		return exitError
	}
	fast := primary
	if cfg.Model.FastBackendURL != "" {
		fast, err = buildModel(cfg.Model.FastBackendURL, cfg.Model.FastName, cfg.Model.APIKey)
		if err != nil {
			slog.Error("failed to build fast model backend", "err", err)
			return exitError
		}
	}
	model := resilience.NewLLMFallback(primary, cfg.Model.Name, resilience.FallbackConfig{})
	if fast != primary {
		model.AddFallback("fast", fast)
	}

	modes := mode.New(mode.Config{
		Enabled:             cfg.Mode.Enabled,
		ICalURL:             cfg.Mode.ICalURL,
		PollInterval:        cfg.Mode.PollInterval(),
		BufferBeforeCheckin: cfg.Mode.BufferBeforeCheckin(),
		BufferAfterCheckout: cfg.Mode.BufferAfterCheckout(),
	}, admin, store)
	modes.Start(ctx)
	defer modes.Stop()

	classifier := intent.NewClassifier(store, admin,
		intent.WithCacheTTL(cfg.Orchestrator.IntentCacheTTL()),
		intent.WithLLM(fast, cfg.Orchestrator.EnableLLMIntentClassifier),
	)

	registry := retrieval.NewRegistry(admin)
	for _, pc := range cfg.Retrieval.Providers {
		opts := []httpjson.Option{}
		if pc.APIKey != "" {
			opts = append(opts, httpjson.WithAPIKey(pc.APIKey))
		}
		if pc.TTLSeconds > 0 {
			opts = append(opts, httpjson.WithTTL(time.Duration(pc.TTLSeconds)*time.Second))
		}
		p, err := httpjson.New(pc.Name, pc.BaseURL, opts...)
		if err != nil {
			slog.Error("failed to build retrieval provider", "name", pc.Name, "err", err)
			return exitError
		}
		registry.Register(p)
		slog.Info("retrieval provider registered", "name", pc.Name)
	}
	engine := retrieval.NewEngine(registry, store,
		retrieval.WithProviderTimeout(cfg.Retrieval.ProviderTimeout()),
		retrieval.WithResultTTL(cfg.Retrieval.DefaultTTL()),
	)

	sessions := session.NewStore(store,
		session.WithTTL(cfg.Session.TTL()),
		session.WithMaxMessages(cfg.Session.MaxHistoryMessages),
	)

	orch := orchestrator.New(classifier, engine, modes, model, admin,
		orchestrator.WithDeadline(cfg.Orchestrator.Deadline()),
		orchestrator.WithHistoryMessages(cfg.Session.HistoryInjectedMessages),
		orchestrator.WithFactCheck(fast, cfg.Orchestrator.EnableLLMFactCheck),
		orchestrator.WithSessions(sessions),
	)

	gw := gateway.New(orch, gateway.NewPassthrough(admin), gateway.NewRouter(fast), modes)

	checks := health.New(
		func() string { return string(modes.Current().Mode) },
		health.Checker{Name: "cache", Check: store.Ping},
		health.Checker{Name: "config", Check: admin.Healthy},
		health.Checker{Name: "model", Check: modelChecker(cfg.Model.BackendURL)},
	)

	mux := http.NewServeMux()
	gw.Register(mux)
	checks.Register(mux)
	modes.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	depsDown := watchDependencies(ctx, cachePing, admin)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	case err := <-serverErr:
		slog.Error("server error", "err", err)
		return exitError
	case <-depsDown:
		slog.Error("cache and admin service unreachable past grace period with no last-known-good state")
		return exitDeps
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return exitError
	}
	slog.Info("goodbye")
	return exitOK
}

// buildModel constructs a chat-completions client. An empty model name
// falls back to "default", which local inference servers accept.
func buildModel(baseURL, name, apiKey string) (llm.Provider, error) {
	if name == "" {
		name = "default"
	}
	opts := []openai.Option{}
	if apiKey != "" {
		opts = append(opts, openai.WithAPIKey(apiKey))
	}
	return openai.New(baseURL, name, opts...)
}

// modelChecker probes the synthesis backend's model listing endpoint,
// which every chat-completions server exposes.
func modelChecker(backendURL string) func(ctx context.Context) error {
	url := strings.TrimRight(backendURL, "/") + "/models"
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("model backend unreachable: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("model backend returned %d", resp.StatusCode)
		}
		return nil
	}
}

// watchDependencies signals on the returned channel when both the cache
// and the admin service have stayed unreachable for the whole grace
// period with the admin client holding no last-known-good state. Either
// dependency recovering dismisses the watchdog for good: past that
// point the degraded paths (in-process cache, last-known-good config)
// keep the service answerable.
func watchDependencies(ctx context.Context, cachePing func(context.Context) error, admin *adminconfig.Client) <-chan struct{} {
	down := make(chan struct{})
	go func() {
		deadline := time.NewTimer(depGracePeriod)
		defer deadline.Stop()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !admin.LastSuccess().IsZero() {
					return
				}
				pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := cachePing(pctx)
				cancel()
				if err == nil {
					return
				}
			case <-deadline.C:
				close(down)
				return
			}
		}
	}()
	return down
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

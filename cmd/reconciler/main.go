// Command reconciler is the main entry point for the SEAD authority
// reconciliation service.
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
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/humlab-sead/sead-reconciler/internal/app"
	"github.com/humlab-sead/sead-reconciler/internal/config"
	"github.com/humlab-sead/sead-reconciler/internal/httpapi"
	"github.com/humlab-sead/sead-reconciler/internal/observe"
	"github.com/humlab-sead/sead-reconciler/pkg/provider/embeddings"
	embeddingsollama "github.com/humlab-sead/sead-reconciler/pkg/provider/embeddings/ollama"
	embeddingsopenai "github.com/humlab-sead/sead-reconciler/pkg/provider/embeddings/openai"
	"github.com/humlab-sead/sead-reconciler/pkg/provider/llm"
	anyllmprovider "github.com/humlab-sead/sead-reconciler/pkg/provider/llm/anyllm"
	llmopenai "github.com/humlab-sead/sead-reconciler/pkg/provider/llm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ───────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "reconciler: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "reconciler: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("reconciler starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"entities", len(cfg.Entities),
	)

	// ── Provider registry ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Observability ─────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: cfg.Service.Name,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	// ── Application wiring ────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config watcher (report-only; registry changes require a restart) ──
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, diff config.ConfigDiff) {
		if diff.RegistryAffecting() {
			slog.Warn("configuration changed on disk; restart the service to apply provider or entity changes")
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable; on-disk config changes will not be reported", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP transport ────────────────────────────────────────────────────
	handler := httpapi.New(application.Service(), metrics, httpapi.Config{
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	var root http.Handler = handler
	if d, err := time.ParseDuration(cfg.Server.RequestTimeout); err == nil && d > 0 {
		// Every request's context carries the configured request deadline.
		root = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqCtx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			handler.ServeHTTP(w, r.WithContext(reqCtx))
		})
	}
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:    addr,
		Handler: root,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	printStartupSummary(cfg)

	runErr := make(chan error, 1)
	go func() { runErr <- application.Run(ctx) }()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serverErr:
		if err != nil {
			slog.Error("http server error", "err", err)
		}
		stop()
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("run error", "err", err)
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with this service. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm":        {"openai", "openai-sdk", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"embeddings": {"openai", "ollama"},
}

// registerBuiltinProviders registers the embeddings and LLM provider
// factories shipped with this binary.
func registerBuiltinProviders(reg *config.Registry) {
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}

	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		opts := []embeddingsopenai.Option{}
		if e.BaseURL != "" {
			opts = append(opts, embeddingsopenai.WithBaseURL(e.BaseURL))
		}
		return embeddingsopenai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		baseURL := e.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return embeddingsollama.New(baseURL, e.Model)
	})

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllmprovider.NewOpenAI(e.Model, anyllmOptions(e)...)
	})
	// "openai-sdk" talks to OpenAI through the official SDK instead of
	// any-llm-go, for deployments that need SDK-specific behaviour (org
	// scoping, per-request timeouts).
	reg.RegisterLLM("openai-sdk", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterLLM("anthropic", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllmprovider.NewAnthropic(e.Model, anyllmOptions(e)...)
	})
	reg.RegisterLLM("ollama", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllmprovider.NewOllama(e.Model, anyllmOptions(e)...)
	})
	reg.RegisterLLM("gemini", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllmprovider.NewGemini(e.Model, anyllmOptions(e)...)
	})
	reg.RegisterLLM("deepseek", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllmprovider.NewDeepSeek(e.Model, anyllmOptions(e)...)
	})
	reg.RegisterLLM("mistral", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllmprovider.NewMistral(e.Model, anyllmOptions(e)...)
	})
	reg.RegisterLLM("groq", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllmprovider.NewGroq(e.Model, anyllmOptions(e)...)
	})
}

// anyllmOptions converts a [config.ProviderEntry] to any-llm-go options,
// carrying the API key and base URL overrides through when set. Without an
// API key option, any-llm-go falls back to the provider's standard
// environment variable (e.g. OPENAI_API_KEY).
func anyllmOptions(e config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if e.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
	}
	if e.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
	}
	return opts
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not registered — semantic channel disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("llm provider not registered — rerank stage disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║   SEAD reconciler — startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	fmt.Printf("║  Entities registered : %-19d ║\n", len(cfg.Entities))
	fmt.Printf("║  LLM rerank enabled  : %-19t ║\n", cfg.LLMRerank.Enabled)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr         : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-20s: %-19s ║\n", kind, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

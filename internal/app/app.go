// Package app wires the English Corner services together and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"englishcorner/config"
	"englishcorner/internal/cache"
	"englishcorner/internal/conversation"
	"englishcorner/internal/credentials"
	"englishcorner/internal/httpclient"
	"englishcorner/internal/observability"
	"englishcorner/internal/pkg/llmclient"
	"englishcorner/internal/probe"
	"englishcorner/internal/providers"
	"englishcorner/internal/reply"
	"englishcorner/internal/server"
	"englishcorner/internal/storage"
	"englishcorner/internal/usage"
)

// App represents the main application with all its dependencies.
type App struct {
	config  *config.Config
	storage storage.Storage
	usage   usage.Recorder
	models  cache.Cache
	server  *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app config is required")
	}

	app := &App{config: cfg}
	fail := func(step string, err error) (*App, error) {
		if closeErr := app.closeResources(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize %s: %w (also: close error: %v)", step, err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize %s: %w", step, err)
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.storage = store

	credentialStore, err := credentials.NewStore(ctx, store)
	if err != nil {
		return fail("credential store", err)
	}
	conversationStore, err := conversation.NewStore(ctx, store)
	if err != nil {
		return fail("conversation store", err)
	}

	recorder, usageStore, err := usage.New(ctx, cfg.Usage, store)
	if err != nil {
		return fail("usage tracking", err)
	}
	app.usage = recorder
	if mongoStore, ok := usageStore.(*usage.MongoDBStore); ok && cfg.Metrics.Enabled {
		mongoStore.OnPartialWrite = observability.RecordUsagePartialWrite
	}

	models, err := newModelCache(ctx, cfg.Cache)
	if err != nil {
		return fail("model cache", err)
	}
	app.models = models

	cipher, err := credentials.NewCipher(cfg.Security.EncryptionKey, cfg.Security.EncryptionSalt)
	if err != nil {
		return fail("credential cipher", err)
	}
	credentialService := credentials.NewService(credentialStore, cipher)

	httpClient := httpclient.New(httpclient.DefaultConfig())
	client := llmclient.New(httpClient, app.clientConfig())

	replyCfg := cfg.Reply
	if cfg.Metrics.Enabled {
		replyCfg.OnRetry = observability.RecordRetry
	}
	replies := reply.New(credentials.NewResolver(credentialService, cfg.System), client, replyCfg)
	prober := probe.New(client, credentialService, cfg.Probe.Timeout)
	lister := cache.NewLister(models, func(ctx context.Context, baseURL string) ([]string, error) {
		return providers.ListOllamaModels(ctx, httpClient, baseURL)
	})

	var usageReader server.UsageReader
	if usageStore != nil {
		usageReader = usageStore
	}

	app.server = server.New(server.Deps{
		Replies:       replies,
		Conversations: conversation.NewService(conversationStore),
		Credentials:   credentialService,
		Prober:        prober,
		Models:        lister,
		Usage:         recorder,
		UsageReader:   usageReader,
		Storage:       store,
	}, &server.Config{
		MasterKey:       cfg.Server.MasterKey,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
	})

	app.logStartupInfo()
	return app, nil
}

func (a *App) clientConfig() llmclient.Config {
	cfg := llmclient.Config{StreamIdleTimeout: a.config.Provider.StreamIdleTimeout}
	if a.config.Provider.BreakerEnabled {
		breaker := a.config.Provider.CircuitBreaker
		cfg.CircuitBreaker = &breaker
	}
	if a.config.Metrics.Enabled {
		cfg.Hooks = observability.NewPrometheusHooks()
	}
	return cfg
}

func newModelCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Type {
	case "", "local":
		return cache.NewLocalCache(cfg.TTL), nil
	case "redis":
		redisCfg := cfg.Redis
		if redisCfg.TTL == 0 {
			redisCfg.TTL = cfg.TTL
		}
		return cache.NewRedisCache(ctx, redisCfg)
	default:
		return nil, fmt.Errorf("unknown cache type: %s (valid: local, redis)", cfg.Type)
	}
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// the HTTP server first, then the usage recorder (flushing pending
// entries), the model cache and finally storage.
//
// Shutdown is idempotent. It attempts every step and returns the joined errors.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	slog.Info("application shutdown complete")
	return nil
}

// closeResources releases everything but the HTTP server. Each resource is
// closed at most once.
func (a *App) closeResources() error {
	var errs []error
	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			slog.Error("usage recorder close error", "error", err)
			errs = append(errs, fmt.Errorf("usage close: %w", err))
		}
		a.usage = nil
	}
	if a.models != nil {
		if err := a.models.Close(); err != nil {
			slog.Error("model cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
		a.models = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			slog.Error("storage close error", "error", err)
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		a.storage = nil
	}
	return errors.Join(errs...)
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		slog.Warn("MASTER_KEY not set: /api routes accept any caller",
			"recommendation", "set MASTER_KEY when the server is reachable by untrusted clients")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.System.APIKey == "" {
		slog.Warn("KIMI_API_KEY not set: users without their own validated credential cannot chat")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	slog.Info("storage configured", "type", cfg.Storage.Type)
	slog.Info("model cache configured", "type", cfg.Cache.Type, "ttl", cfg.Cache.TTL)

	if cfg.Usage.Enabled {
		slog.Info("usage tracking enabled",
			"buffer_size", cfg.Usage.BufferSize,
			"flush_interval", cfg.Usage.FlushInterval,
			"retention_days", cfg.Usage.RetentionDays,
		)
	} else {
		slog.Info("usage tracking disabled")
	}

	slog.Info("reply settings",
		"max_attempts", cfg.Reply.MaxAttempts,
		"retry_base_delay", cfg.Reply.RetryBaseDelay,
		"circuit_breaker", cfg.Provider.BreakerEnabled,
	)
}

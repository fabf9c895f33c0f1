// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikipath/internal/cache"
	"github.com/JakeFAU/wikipath/internal/config"
	"github.com/JakeFAU/wikipath/internal/diagnostics"
	"github.com/JakeFAU/wikipath/internal/mediawiki"
	"github.com/JakeFAU/wikipath/internal/metrics"
	gcsstorage "github.com/JakeFAU/wikipath/internal/storage/gcs"
	localstorage "github.com/JakeFAU/wikipath/internal/storage/local"
	memorystorage "github.com/JakeFAU/wikipath/internal/storage/memory"
	"github.com/JakeFAU/wikipath/internal/storage/postgres"
)

// App holds the shared services built once per process and closed by the CLI on exit.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *postgres.ArticleStore
	blobs    diagnostics.BlobStore
	closers  []io.Closer
	dumper   *diagnostics.Dumper
	upstream *mediawiki.Client
	cache    *cache.RedisSearchCache
	metrics  *http.Server
}

// New builds every service described by cfg. No network round trip happens here:
// the pool, the Redis client and the collector all connect on first use.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	store, err := postgres.NewArticleStore(ctx, postgres.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: time.Duration(cfg.Database.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("article store init failed: %w", err)
	}
	a.store = store

	if err := a.setupDiagnostics(ctx); err != nil {
		a.Close()
		return nil, err
	}

	fetcher := mediawiki.NewCollyFetcher(mediawiki.CollyConfig{
		UserAgent:   cfg.Upstream.UserAgent,
		Timeout:     cfg.UpstreamTimeout(),
		MaxBodySize: cfg.Upstream.MaxBodyBytes,
	})
	a.upstream, err = mediawiki.NewClient(cfg.Upstream.Endpoint, fetcher)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("upstream client init failed: %w", err)
	}
	logger.Info("upstream configured",
		zap.String("endpoint", cfg.Upstream.Endpoint),
		zap.String("user_agent", cfg.Upstream.UserAgent),
	)

	if cfg.Cache.RedisAddr != "" {
		a.cache = cache.NewRedisSearchCache(cfg.Cache.RedisAddr, cfg.Cache.Prefix, cfg.CacheTTL())
		logger.Info("search cache enabled", zap.String("addr", cfg.Cache.RedisAddr))
	}

	return a, nil
}

func (a *App) setupDiagnostics(ctx context.Context) error {
	cfg := a.cfg.Diagnostics
	switch cfg.Provider {
	case "", "none":
		a.logger.Info("malformed response dumps disabled")
	case "memory":
		a.blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory diagnostics store")
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return fmt.Errorf("local diagnostics store init failed: %w", err)
		}
		a.blobs = store
		a.logger.Info("using local diagnostics store", zap.String("path", cfg.LocalDir))
	case "gcs":
		store, err := gcsstorage.New(ctx, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs diagnostics store init failed: %w", err)
		}
		a.blobs = store
		a.closers = append(a.closers, store)
		a.logger.Info("using GCS diagnostics store", zap.String("bucket", cfg.GCSBucket))
	default:
		return fmt.Errorf("unknown diagnostics provider: %s", cfg.Provider)
	}
	a.dumper = diagnostics.New(a.blobs, cfg.Prefix, a.logger.Named("diagnostics"))
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the Postgres article store.
func (a *App) Store() *postgres.ArticleStore {
	return a.store
}

// BlobStore returns the diagnostics store, or nil when dumps are disabled.
func (a *App) BlobStore() diagnostics.BlobStore {
	return a.blobs
}

// Dumper returns the malformed response dumper.
func (a *App) Dumper() *diagnostics.Dumper {
	return a.dumper
}

// Upstream returns the MediaWiki API client.
func (a *App) Upstream() *mediawiki.Client {
	return a.upstream
}

// Searcher returns the title search backend, wrapped with the Redis cache when one is configured.
func (a *App) Searcher() cache.Searcher {
	if a.cache == nil {
		return a.store
	}
	return cache.NewCachedSearcher(a.store, a.cache, a.logger.Named("search_cache"))
}

// StartMetrics serves /metrics on metrics.addr in the background. It does nothing when the
// address is empty.
func (a *App) StartMetrics() {
	if a.cfg.Metrics.Addr == "" || a.metrics != nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metrics = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := a.metrics
	go func() {
		a.logger.Info("metrics server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Close shuts down every service in the container.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("search cache close failed", zap.Error(err))
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.store.Close()
	// Sync fails on console sinks; it is best effort.
	_ = a.logger.Sync()
}

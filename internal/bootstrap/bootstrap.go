// Package bootstrap wires a Config into a running sync server: storage
// backend, row store, push lock, metrics and the WebSocket transport.
// Both cmd/server and cmd/dbsyncctl build on it so the two binaries
// cannot drift on how a deployment profile translates into components.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/dbsync/internal/config"
	"github.com/vitaliisemenov/dbsync/internal/extension"
	"github.com/vitaliisemenov/dbsync/internal/metrics"
	"github.com/vitaliisemenov/dbsync/internal/middleware"
	"github.com/vitaliisemenov/dbsync/internal/registry"
	"github.com/vitaliisemenov/dbsync/internal/rowstore"
	"github.com/vitaliisemenov/dbsync/internal/storage"
	"github.com/vitaliisemenov/dbsync/internal/storage/lock"
	"github.com/vitaliisemenov/dbsync/internal/storage/postgres"
	"github.com/vitaliisemenov/dbsync/internal/storage/sqlite"
	"github.com/vitaliisemenov/dbsync/internal/syncserver"
	"github.com/vitaliisemenov/dbsync/internal/transport/ws"
)

// nodeCacheSize bounds how many recently-seen nodes Build keeps
// cached in front of the storage backend's NodeByID lookup.
const nodeCacheSize = 4096

// App bundles the running server and everything that needs to be
// closed on shutdown.
type App struct {
	Router  *ws.Server
	Store   storage.Store
	Redis   *redis.Client
	closers []func() error
}

// Close releases the storage backend and (if present) the Redis
// client, in reverse construction order.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build constructs every component a deployment profile needs. The
// registry and extensions are the caller's domain: an embedding
// application installs its own registry.Schemas and extension.Extensions
// before the server starts accepting pushes.
func Build(ctx context.Context, cfg *config.Config, reg *registry.Registry, extensions *extension.Registry, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rawStore, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: build storage: %w", err)
	}
	store, err := storage.NewCachingStore(rawStore, nodeCacheSize)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("bootstrap: build node cache: %w", err)
	}
	app := &App{Store: store, closers: []func() error{closeStore}}

	if err := store.UpsertContentTypes(ctx, reg.ContentTypes()); err != nil {
		app.Close()
		return nil, fmt.Errorf("bootstrap: upsert content types: %w", err)
	}

	var pushLock *lock.PushLock
	if cfg.RequiresRedis() {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			MaxRetries:   cfg.Redis.MaxRetries,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			app.Close()
			return nil, fmt.Errorf("bootstrap: connect redis: %w", err)
		}
		app.Redis = rdb
		app.closers = append(app.closers, func() error { return rdb.Close() })

		pushLock = lock.New(rdb, cfg.Lock.ValuePrefix+":push", lock.Config{
			TTL:            cfg.Lock.TTL,
			MaxRetries:     cfg.Lock.MaxRetries,
			RetryInterval:  cfg.Lock.RetryInterval,
			ReleaseTimeout: cfg.Lock.ReleaseTimeout,
			ValuePrefix:    cfg.Lock.ValuePrefix,
		}, logger)
	}

	reg2 := prometheus.DefaultRegisterer
	metricsRegistry := metrics.NewRegistry(reg2)

	handler := &syncserver.Handler{
		Store:      store,
		Rows:       rowstore.NewMemoryStore(logger),
		Registry:   reg,
		Extensions: extensions,
		Listening:  func() bool { return cfg.Sync.Listening },
	}

	mwStack := middleware.Stack(middleware.Config{
		Logger:         logger,
		Metrics:        metricsRegistry,
		MaxRequestSize: cfg.Push.MaxRequestSize,
		RequestTimeout: cfg.Push.RequestTimeout,
		RateLimiter: &middleware.RateLimitConfig{
			Enabled:    cfg.Push.RateLimiting.Enabled,
			PerNodeRPS: cfg.Push.RateLimiting.PerNodeRPS,
			GlobalRPS:  cfg.Push.RateLimiting.GlobalRPS,
		},
	})

	app.Router = &ws.Server{
		Handler:    handler,
		PushLock:   pushLock,
		Metrics:    metricsRegistry,
		Logger:     logger,
		Middleware: mwStack,
	}
	return app, nil
}

func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func() error, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendSQLite:
		store, err := sqlite.New(ctx, cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.StorageBackendPostgres:
		store, err := postgres.New(ctx, cfg.GetDatabaseURL(), logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { store.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown storage backend %q", cfg.Storage.Backend)
	}
}

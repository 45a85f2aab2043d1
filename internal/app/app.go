package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/data/engine"
	"github.com/yungbote/trialstore/internal/data/lookupcache"
	"github.com/yungbote/trialstore/internal/observability"
	"github.com/yungbote/trialstore/internal/platform/config"
	"github.com/yungbote/trialstore/internal/platform/logger"
)

type App struct {
	Log     *logger.Logger
	Cfg     config.Config
	Metrics *observability.Metrics
	Storage *engine.Storage

	store    docstore.Store
	sqlDB    *gorm.DB
	rdb      goredis.UniversalClient
	shutdown func(context.Context) error
	cancel   context.CancelFunc
}

// New loads configuration from configPath (optional) and the environment,
// then builds the application.
func New(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := NewWithConfig(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return a, nil
}

// NewWithConfig wires the store, the optional lookup cache, metrics and
// tracing, then creates the engine's indexes.
func NewWithConfig(ctx context.Context, log *logger.Logger, cfg config.Config) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	shutdown, err := observability.InitTracing(ctx, log, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "trialstore",
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		Headers:     observability.ParseHeaders(cfg.Tracing.Headers),
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Warn("Tracing disabled", "error", err)
	}

	metrics := observability.New()

	log.Info("Opening document store...", "backend", cfg.Backend)
	store, sqlDB, err := openBackend(ctx, log, cfg)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	a := &App{
		Log:      log,
		Cfg:      cfg,
		Metrics:  metrics,
		store:    store,
		sqlDB:    sqlDB,
		shutdown: shutdown,
	}

	opts := engine.Options{
		Log:          log,
		Hooks:        engine.NewObservabilityHooks(metrics),
		MaxAttempts:  cfg.Engine.RetryAttempts,
		RetryBackoff: cfg.RetryBackoff(),
	}
	if cfg.Redis.Addr != "" {
		rdb, err := lookupcache.Dial(ctx, lookupcache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			// The cache is an optimization; run without it.
			log.Warn("Lookup cache unavailable; continuing without it", "addr", cfg.Redis.Addr, "error", err)
		} else {
			a.rdb = rdb
			opts.Cache = lookupcache.New(rdb, log, metrics, lookupcache.Config{
				Prefix: cfg.Redis.Prefix,
				TTL:    cfg.CacheTTL(),
			})
		}
	}
	a.Storage = engine.New(store, opts)

	if err := a.Storage.EnsureIndexes(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, &BackendBootstrapError{Code: BackendBootstrapErrorIndexFailed, Backend: cfg.Backend, Cause: err}
	}
	return a, nil
}

// Start launches the metrics endpoint and background collectors.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.Metrics.StartServer(ctx, a.Log, a.Cfg.Metrics.Addr)
	a.Metrics.StartPoolCollector(ctx, a.Log, a.sqlDB, 0)
	a.Metrics.StartRedisCollector(ctx, a.Log, a.rdb, 0)
}

func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if a.store != nil {
		if err := a.store.Close(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
	return errors.Join(errs...)
}

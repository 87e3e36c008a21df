package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/FeruzLatifov/univer-front-sub000/config"
	"github.com/FeruzLatifov/univer-front-sub000/internal/observability/statsd"
	"github.com/FeruzLatifov/univer-front-sub000/internal/ports"
	"github.com/FeruzLatifov/univer-front-sub000/internal/service"
)

// App holds the wired session core and the resources it owns.
type App struct {
	Config    *config.AppConfig
	Logger    *slog.Logger
	Session   *service.SessionManager
	Storage   ports.Storage
	SessionID string

	metrics *statsd.Client
	redis   redis.UniversalClient
}

// AppOptions groups dependencies for BuildApp.
type AppOptions struct {
	Config    *config.AppConfig
	Logger    *slog.Logger
	Navigator ports.Navigator
}

// BuildApp connects storage and metrics and builds the session manager.
// The session is not restored; callers decide when to call Restore.
func BuildApp(ctx context.Context, opts AppOptions) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	app := &App{Config: cfg, Logger: logger}

	if cfg.Storage.Mode == config.StorageModeRedis {
		client, err := ConnectRedis(ctx, RedisOptions{Config: cfg.Redis, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.redis = client
	}

	stored, err := BuildStorage(ctx, StorageOptions{Config: cfg.Storage, Redis: app.redis, Logger: logger})
	if err != nil {
		return nil, errors.Join(err, app.Close(ctx))
	}
	app.Storage = stored.Store
	app.SessionID = stored.SessionID

	var sink statsd.Sink = statsd.Discard{}
	if app.metrics = BuildMetrics(ctx, cfg.Observability.Metrics, logger); app.metrics != nil {
		sink = app.metrics
	}

	session, err := BuildSessionManager(SessionOptions{
		Config:    cfg,
		Storage:   app.Storage,
		Navigator: opts.Navigator,
		Metrics:   sink,
		Logger:    logger,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("build session manager: %w", err), app.Close(ctx))
	}
	app.Session = session
	return app, nil
}

// Close waits for background work and releases connections. The stored
// session is left in place so a later process can restore it.
func (a *App) Close(_ context.Context) error {
	if a == nil {
		return nil
	}
	if a.Session != nil {
		a.Session.Wait()
	}
	var errs []error
	if a.metrics != nil {
		if err := a.metrics.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close statsd: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

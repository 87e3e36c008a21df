package bootstrap

import (
	"context"
	"log/slog"

	"github.com/FeruzLatifov/univer-front-sub000/config"
	"github.com/FeruzLatifov/univer-front-sub000/internal/observability/statsd"
)

// BuildMetrics returns the StatsD client when metrics are enabled.
// A dial failure is logged and metrics stay off; the session core never
// depends on metrics being delivered.
func BuildMetrics(ctx context.Context, cfg config.ObservabilityMetricsConfig, logger *slog.Logger) *statsd.Client {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.IsEnabled() {
		return nil
	}

	client, err := statsd.NewClient(ctx, statsd.Config{
		Enabled: true,
		Address: cfg.StatsdAddress,
		Prefix:  cfg.Prefix,
		Logger:  logger,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to initialise statsd client", "error", err)
		return nil
	}
	return client
}

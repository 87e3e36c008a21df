package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/FeruzLatifov/univer-front-sub000/config"
	httpx "github.com/FeruzLatifov/univer-front-sub000/internal/http"
)

// HTTPServerConfig contains configuration for the guard server.
type HTTPServerConfig struct {
	HTTP      config.HTTPConfig
	LoginPath string
	Session   httpx.SessionController
	Logger    *slog.Logger
}

// NewHTTPServer builds the guard server without starting it.
func NewHTTPServer(cfg HTTPServerConfig) *http.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handler := httpx.NewRouter(httpx.RouterOptions{
		Session:   cfg.Session,
		LoginPath: cfg.LoginPath,
		AppPrefix: cfg.HTTP.AppPrefix,
		Logger:    logger,
	})

	addr := cfg.HTTP.Addr
	// Guard against empty addr to avoid listening on all interfaces.
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// RunHTTPServer serves until ctx is done, then shuts down within shutdownTimeout.
func RunHTTPServer(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("HTTP server stopped")
	return nil
}

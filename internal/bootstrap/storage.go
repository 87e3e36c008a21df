package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/FeruzLatifov/univer-front-sub000/config"
	"github.com/FeruzLatifov/univer-front-sub000/internal/adapters/storage"
	"github.com/FeruzLatifov/univer-front-sub000/internal/ports"
)

// StorageOptions groups dependencies for BuildStorage.
type StorageOptions struct {
	Config config.StorageConfig
	// Redis is required in redis mode.
	Redis  redis.UniversalClient
	Logger *slog.Logger
}

// StorageResult is the built store and the session ID it is scoped to.
type StorageResult struct {
	Store     ports.Storage
	SessionID string
}

// BuildStorage selects the session storage adapter for the configured mode.
// File and Redis stores are scoped to a session ID; one is generated when unset.
func BuildStorage(_ context.Context, opts StorageOptions) (StorageResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config

	sessionID := cfg.SessionID
	if sessionID == "" && cfg.Mode != config.StorageModeMemory {
		sessionID = uuid.NewString()
	}

	switch cfg.Mode {
	case config.StorageModeMemory, "":
		logger.Debug("using in-memory session storage")
		return StorageResult{Store: storage.NewMemory()}, nil

	case config.StorageModeFile:
		store, err := storage.NewFile(cfg.Dir, sessionID)
		if err != nil {
			return StorageResult{}, fmt.Errorf("file storage: %w", err)
		}
		logger.Info("using file session storage", "path", store.Path())
		return StorageResult{Store: store, SessionID: sessionID}, nil

	case config.StorageModeRedis:
		if opts.Redis == nil {
			return StorageResult{}, errors.New("redis storage requires a redis client")
		}
		store, err := storage.NewRedis(storage.RedisOptions{
			Client:    opts.Redis,
			SessionID: sessionID,
			Prefix:    cfg.KeyPrefix,
			TTL:       cfg.SessionTTL,
		})
		if err != nil {
			return StorageResult{}, fmt.Errorf("redis storage: %w", err)
		}
		logger.Info("using redis session storage", "key", store.Key())
		return StorageResult{Store: store, SessionID: sessionID}, nil

	default:
		return StorageResult{}, fmt.Errorf("unsupported storage mode %q", cfg.Mode)
	}
}

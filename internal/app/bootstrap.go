package app

import (
	"context"
	"fmt"

	"taskq/internal/config"
	"taskq/internal/storage"
	"taskq/internal/trigger"
	logx "taskq/pkg/logx"
)

// NewConfigManager returns a manager whose validator runs config.Validate
// with trigger schedule checking. Load and every watched reload go through it.
func NewConfigManager(path string) *config.Manager {
	m := config.NewManager(path)
	m.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg, trigger.Validate)
	})
	return m
}

// LoadConfig parses and validates the job file at path.
func LoadConfig(path string) (*config.Config, error) {
	return NewConfigManager(path).Load(context.Background())
}

func LoggingConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func StorageConfig(c config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}, nil
}

// OpenStore opens the configured store; (nil, nil) when disabled.
func OpenStore(c config.StorageConfig, log logx.Logger) (storage.Store, error) {
	sc, err := StorageConfig(c)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return st, nil
}

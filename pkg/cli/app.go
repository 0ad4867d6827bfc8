package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/config"
	"github.com/ekaya-inc/ekaya-tables/pkg/logging"
	"github.com/ekaya-inc/ekaya-tables/pkg/repositories"
	"github.com/ekaya-inc/ekaya-tables/pkg/services"
)

// app is the wiring shared by every command: config, logger, the connected
// storage adapter and the schema service on top of it.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	adapter datasource.StorageAdapter
	schema  services.SchemaService
}

// loadConfig honours an explicit --config path, falls back to config.yaml in
// the working directory and finally to environment variables alone.
func loadConfig(path, version string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path, version)
	}
	if _, err := os.Stat(config.DefaultConfigFile); err == nil {
		return config.LoadFile(config.DefaultConfigFile, version)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", config.DefaultConfigFile, err)
	}
	return config.LoadEnv(version)
}

func openApp(ctx context.Context, opts *rootOptions, version string) (*app, error) {
	cfg, err := loadConfig(opts.configPath, version)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	factory := datasource.NewStorageAdapterFactory(logger)
	adapter, err := factory.NewStorageAdapter(cfg.Storage.Type, cfg.Storage.AdapterConfig())
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to create storage adapter: %w", err)
	}

	if err := adapter.Connect(ctx); err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to connect to %s storage: %w", cfg.Storage.Type, err)
	}

	schema := services.NewSchemaService(adapter, repositories.NewCatalogRepository(), logger)

	return &app{cfg: cfg, logger: logger, adapter: adapter, schema: schema}, nil
}

func (a *app) close() {
	if err := a.adapter.Disconnect(); err != nil {
		a.logger.Warn("Failed to disconnect storage", zap.String("error", logging.SanitizeError(err)))
	}
	_ = a.logger.Sync()
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, opts *rootOptions, version string, fn func(*app) error) error {
	a, err := openApp(ctx, opts, version)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

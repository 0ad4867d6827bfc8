package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/handlers"
	"github.com/ekaya-inc/ekaya-tables/pkg/middleware"
	"github.com/ekaya-inc/ekaya-tables/pkg/services"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to storage, apply startup definitions and serve health endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, version, func(a *app) error {
				return serve(cmd.Context(), a)
			})
		},
	}
}

func serve(ctx context.Context, a *app) error {
	a.logger.Info("Configuration loaded",
		zap.String("env", a.cfg.Env),
		zap.String("version", a.cfg.Version),
		zap.String("storage", a.cfg.Storage.Type))

	if path := a.cfg.Schema.DefinitionsPath; path != "" {
		inputs, err := services.LoadTableDefinitions(path)
		if err != nil {
			return err
		}
		result, err := a.schema.ApplyDefinitions(ctx, inputs)
		if err != nil {
			return fmt.Errorf("failed to apply table definitions from %s: %w", path, err)
		}
		a.logger.Info("Table definitions applied",
			zap.String("path", path),
			zap.Strings("created", result.CreatedTables),
			zap.Strings("added", result.AddedFields))
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(a.cfg, a.adapter, a.logger.Named("http")).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              net.JoinHostPort(a.cfg.BindAddr, a.cfg.Port),
		Handler:           middleware.RequestLogger(a.logger.Named("http"))(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting ekaya-tables", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	a.logger.Info("Server stopped gracefully")
	return nil
}

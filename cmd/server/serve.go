package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/exoplanet-api/internal/config"
	"github.com/Brownie44l1/exoplanet-api/internal/handlers"
	"github.com/Brownie44l1/exoplanet-api/internal/logger"
	"github.com/Brownie44l1/exoplanet-api/internal/metrics"
	"github.com/Brownie44l1/exoplanet-api/internal/prediction"
)

const shutdownTimeout = 10 * time.Second

func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the prediction HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config) error {
	modelServer, err := openModel(cfg)
	if err != nil {
		return err
	}
	defer modelServer.Close()

	observability := metrics.New()
	scorer := prediction.NewScorer(modelServer,
		prediction.WithWorkers(cfg.Batch.Workers),
		prediction.WithObserver(observability),
	)
	handler := handlers.NewHandler(scorer,
		handlers.WithRecorder(observability),
		handlers.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		handlers.WithClasses(modelServer.Metadata.Classes),
	)

	routerCfg := handlers.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Recorder:       observability,
	}
	if cfg.Metrics.Enabled {
		routerCfg.MetricsHandler = observability.Handler()
		routerCfg.MetricsPath = cfg.Metrics.Path
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      handlers.NewRouter(handler, routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "addr", addr, "workers", cfg.Batch.Workers)
		logger.Info("Endpoints",
			"status", "GET /",
			"health", "GET /health",
			"predict", "POST /predict",
			"batch", "POST /predict/batch",
			"metrics", routerCfg.MetricsPath,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

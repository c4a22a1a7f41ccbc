// Package main is the entry point for the imagevault server.
// imagevault stores deduplicated, chunked images and serves them over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/prn-tf/imagevault/internal/auth"
	"github.com/prn-tf/imagevault/internal/bootstrap"
	"github.com/prn-tf/imagevault/internal/config"
	"github.com/prn-tf/imagevault/internal/handler"
	"github.com/prn-tf/imagevault/internal/metrics"
	"github.com/prn-tf/imagevault/internal/pkg/logging"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "imagevault-server",
		Short:         "Serve deduplicated, chunked images over HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "imagevault server %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
			return nil
		},
	})
	return cmd
}

func run(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging, os.Stderr)
	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("Starting imagevault server")

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, repos, err := bootstrap.OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Cache and lock
	coord, err := bootstrap.OpenCoordination(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := coord.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close cache")
		}
	}()

	archiver, err := bootstrap.OpenArchiver(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// Services
	svc := bootstrap.NewServices(cfg, repos, coord, archiver, m, logger)
	svc.Usage.Start()
	defer svc.Usage.Stop()

	if err := svc.Retention.Start(); err != nil {
		return err
	}
	defer svc.Retention.Stop()

	// HTTP
	authConfig := auth.DefaultConfig()
	authConfig.Secret = cfg.Auth.JWTSecret
	authConfig.Issuer = cfg.Auth.Issuer
	authConfig.PrivilegedRoles = cfg.Auth.PrivilegedRoles

	router := handler.NewRouter(handler.RouterConfig{
		ImageHandler: handler.NewImageHandler(
			svc.Ingest, svc.Delivery, svc.Catalog, svc.Retention,
			handler.ImageHandlerConfig{
				MaxUploadSize:            cfg.Images.MaxUploadSize,
				KeepOriginalOnCodecError: cfg.Images.KeepOriginalOnCodecError,
			},
			logger,
		),
		HealthHandler:  handler.NewHealthHandler(db, Version, logger),
		AuthMiddleware: auth.Middleware(authConfig),
		Metrics:        m,
		MetricsPath:    cfg.Metrics.Path,
		Logger:         logger,
	})
	h, err := router.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server exited cleanly")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/bookrec/internal/http"
	"github.com/fyrsmithlabs/bookrec/internal/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recommendation HTTP API",
	Long: `Start the HTTP API on server.host:server.port.

When scheduler.enabled is set, the all-users book and goal refreshes also
run on scheduler.books_cron and scheduler.goals_cron.

Examples:
  # Defaults (0.0.0.0:8000)
  bookrec serve

  # Override through the environment
  SERVER_PORT=9090 DATABASE_DSN=mysql://user:pass@db:3306/books bookrec serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe blocks until the command context is cancelled, then shuts the
// scheduler and HTTP server down within server.shutdown_timeout.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	deps, err := initDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	logger := deps.logger.Underlying()

	srv, err := httpserver.NewServer(deps.svc, logger, &httpserver.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Index:     deps.vectors,
		DB:        deps.repo,
	})
	if err != nil {
		_ = deps.Close(context.Background())
		return err
	}

	var scheduler *jobs.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = jobs.New(deps.svc, cfg.Scheduler, jobs.Options{Location: cfg.Goals.Location()}, logger)
		if err != nil {
			_ = deps.Close(context.Background())
			return err
		}
		scheduler.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("http server stopped", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	errs = append(errs, serveErr)
	if scheduler != nil {
		errs = append(errs, scheduler.Shutdown())
	}
	errs = append(errs, srv.Shutdown(shutdownCtx), deps.Close(shutdownCtx))
	if err := errors.Join(errs...); err != nil {
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

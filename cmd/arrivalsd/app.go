package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"arrivals.transitcore.dev/internal/app"
	"arrivals.transitcore.dev/internal/appconf"
	"arrivals.transitcore.dev/internal/logging"
	"arrivals.transitcore.dev/internal/restapi"
)

// BuildApplication constructs the logger and the full dependency graph,
// then runs the one-time bootstrap ingest so the server has data to serve.
func BuildApplication(ctx context.Context, cfg appconf.Config) (*app.Application, error) {
	logger := logging.NewStructuredLogger(cfg.LogLevel, os.Stdout)

	coreApp, err := app.Build(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	if err := coreApp.Bootstrap(ctx); err != nil {
		logging.LogError(logger, "initial bootstrap failed, continuing with existing data", err)
	}

	return coreApp, nil
}

// CreateServer wires the REST API routes and middleware into an
// *http.Server bound to the configured listen address.
func CreateServer(coreApp *app.Application) *http.Server {
	api := restapi.NewRestAPI(coreApp)

	return &http.Server{
		Addr:         coreApp.Config.ListenAddr,
		Handler:      api.SetupAPIRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(coreApp.Logger.Handler(), slog.LevelError),
	}
}

// Run starts the HTTP server and the two background loops, and blocks
// until ctx is cancelled or the server fails. A server failure is returned
// at once; on cancellation the background loops stop with ctx, the server
// is shut down gracefully and the store is closed.
func Run(ctx context.Context, srv *http.Server, coreApp *app.Application) error {
	logger := coreApp.Logger
	logger.Info("starting server", "addr", srv.Addr)

	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	go coreApp.Reconciler.Run(ctx)
	go coreApp.Scheduler.Run(ctx)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logging.SafeCloseWithLogging(logger, coreApp.Store, "database store")
	logger.Info("server exited")
	return nil
}

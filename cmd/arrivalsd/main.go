// Command arrivalsd serves the stop-centric arrivals API for a single
// regional transit agency: it ingests the static GTFS schedule, reconciles
// GTFS-realtime updates against it, and answers stop queries over HTTP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"arrivals.transitcore.dev/internal/appconf"
)

func main() {
	cfg, err := appconf.FromEnv()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coreApp, err := BuildApplication(ctx, cfg)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to build application", "error", err)
		os.Exit(1)
	}

	srv := CreateServer(coreApp)

	if err := Run(ctx, srv, coreApp); err != nil {
		coreApp.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

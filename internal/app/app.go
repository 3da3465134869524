// Package app wires together the storage layer, the three background
// loops (static ingest on demand, realtime reconciliation, maintenance
// scheduling), and the query service the HTTP API serves from.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"arrivals.transitcore.dev/internal/appconf"
	"arrivals.transitcore.dev/internal/clock"
	"arrivals.transitcore.dev/internal/index"
	"arrivals.transitcore.dev/internal/ingest"
	"arrivals.transitcore.dev/internal/maintenance"
	"arrivals.transitcore.dev/internal/query"
	"arrivals.transitcore.dev/internal/realtime"
	"arrivals.transitcore.dev/internal/store"
)

// Application is the dependency-injection container shared by the HTTP
// handlers and the two background loops.
type Application struct {
	Config  appconf.Config
	Logger  *slog.Logger
	Clock   clock.Clock
	Store   *store.Store

	Spatial              *index.SpatialIndex
	StopIndexBuilder     *index.StopIndexBuilder
	StopTimeIndexBuilder *index.StopTimeIndexBuilder
	Ingester             *ingest.Ingester
	Reconciler           *realtime.Reconciler
	Scheduler            *maintenance.Scheduler
	Query                *query.Service
}

// Build opens the store, runs migrations, and constructs every component
// the server and background loops depend on.
func Build(cfg appconf.Config, logger *slog.Logger) (*Application, error) {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("app: migrate: %w", err)
	}

	realClock := clock.Real{}
	spatial := index.NewSpatialIndex()
	stopIndexBuilder := index.NewStopIndexBuilder(st, spatial, logger)
	stopTimeIndexBuilder := index.NewStopTimeIndexBuilder(st, realClock, logger)
	ingester := ingest.New(st, cfg.GTFSStaticURL, realClock, logger)

	reconciler := realtime.NewReconciler(st, realtime.Config{
		TripUpdatesURL:      cfg.GTFSTripUpdatesURL,
		VehiclePositionsURL: cfg.GTFSVehiclePositionsURL,
		AlertsURL:           cfg.GTFSAlertsURL,
		AuthHeaderName:      cfg.RealtimeAuthHeaderName,
		AuthHeaderValue:     cfg.RealtimeAuthHeaderValue,
	}, realClock, logger)

	scheduler := maintenance.NewScheduler(st, ingester, stopIndexBuilder, stopTimeIndexBuilder, reconciler, realClock, logger)

	queryService := query.NewService(st, spatial)

	return &Application{
		Config:               cfg,
		Logger:               logger,
		Clock:                realClock,
		Store:                st,
		Spatial:              spatial,
		StopIndexBuilder:     stopIndexBuilder,
		StopTimeIndexBuilder: stopTimeIndexBuilder,
		Ingester:             ingester,
		Reconciler:           reconciler,
		Scheduler:            scheduler,
		Query:                queryService,
	}, nil
}

// Bootstrap performs the one-time startup sequence: an initial static
// ingest followed by both index rebuilds, so the server has data to serve
// before it starts accepting traffic.
func (a *Application) Bootstrap(ctx context.Context) error {
	if _, err := a.Ingester.Sync(ctx); err != nil {
		return fmt.Errorf("app: initial ingest: %w", err)
	}
	if err := a.StopIndexBuilder.Rebuild(ctx); err != nil {
		return fmt.Errorf("app: initial stop index: %w", err)
	}
	if err := a.StopTimeIndexBuilder.Rebuild(ctx); err != nil {
		return fmt.Errorf("app: initial stop-time index: %w", err)
	}
	return nil
}

// Close releases the database handles.
func (a *Application) Close() error {
	return a.Store.Close()
}

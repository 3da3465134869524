// Package restapi exposes the stop-centric query API and the management
// endpoints that trigger ingest and reindex on demand.
package restapi

import (
	"time"

	"golang.org/x/time/rate"

	"arrivals.transitcore.dev/internal/app"
)

// RestAPI bundles the application with the handler-scoped middleware that
// depends on its configuration.
type RestAPI struct {
	*app.Application
	adminLimiter *rate.Limiter
}

// NewRestAPI constructs a RestAPI with a fresh admin rate limiter — the
// management endpoints are cheap to call but expensive to run, so they get
// a tight per-process limit rather than per-key accounting.
func NewRestAPI(a *app.Application) *RestAPI {
	return &RestAPI{
		Application:  a,
		adminLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

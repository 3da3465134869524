package restapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// withAdminLimit guards a management handler with the shared admin rate
// limiter. Compression is not added here; SetupAPIRoutes applies it to
// every route.
func (api *RestAPI) withAdminLimit(handler http.HandlerFunc) http.Handler {
	return rateLimited(api.adminLimiter, handler)
}

// SetRoutes registers every endpoint the spec's HTTP table names, plus the
// ambient health and metrics endpoints.
func (api *RestAPI) SetRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", api.healthHandler)
	mux.HandleFunc("GET /ok", api.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /stops", api.stopsHandler)
	mux.HandleFunc("GET /stops/{stop_id}/routes", api.routesForStopHandler)
	mux.HandleFunc("GET /stops/{stop_id}/arrivals", api.arrivalsForStopHandler)

	mux.Handle("POST /management/gtfs/sync", api.withAdminLimit(api.syncHandler))
	mux.Handle("POST /management/gtfs/index-stops", api.withAdminLimit(api.indexStopsHandler))
	mux.Handle("POST /management/gtfs/index-stoptimes", api.withAdminLimit(api.indexStopTimesHandler))
}

// SetupAPIRoutes assembles the full middleware chain around the route
// table: compression innermost, then security headers, request logging,
// and request-ID assignment outermost.
func (api *RestAPI) SetupAPIRoutes() http.Handler {
	mux := http.NewServeMux()
	api.SetRoutes(mux)

	handler := CompressionMiddleware(mux)
	handler = api.WithSecurityHeaders(handler)
	handler = NewRequestLoggingMiddleware(api.Logger)(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}

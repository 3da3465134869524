package restapi

import "net/http"

type syncResponse struct {
	RowsAffected int `json:"rows_affected"`
}

// syncHandler serves POST /management/gtfs/sync: runs the static ingester
// immediately instead of waiting for the maintenance window.
func (api *RestAPI) syncHandler(w http.ResponseWriter, r *http.Request) {
	affected, err := api.Ingester.Sync(r.Context())
	if err != nil {
		api.Logger.Error("manual ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{RowsAffected: affected})
}

// indexStopsHandler serves POST /management/gtfs/index-stops: rebuilds the
// bounding-box index and the in-memory R-tree that accelerates it.
func (api *RestAPI) indexStopsHandler(w http.ResponseWriter, r *http.Request) {
	if err := api.StopIndexBuilder.Rebuild(r.Context()); err != nil {
		api.Logger.Error("manual stop index rebuild failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reindex failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// indexStopTimesHandler serves POST /management/gtfs/index-stoptimes:
// rebuilds the materialized per-day arrival index and TripRun table.
func (api *RestAPI) indexStopTimesHandler(w http.ResponseWriter, r *http.Request) {
	if err := api.StopTimeIndexBuilder.Rebuild(r.Context()); err != nil {
		api.Logger.Error("manual stop-time index rebuild failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reindex failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// healthHandler serves GET /healthz.
func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package restapi

import "net/http"

type routeResponse struct {
	RouteID   string `json:"route_id"`
	ShortName string `json:"short_name,omitempty"`
	LongName  string `json:"long_name,omitempty"`
}

type routesEnvelope struct {
	Routes []routeResponse `json:"routes"`
}

// routesForStopHandler serves GET /stops/{stop_id}/routes.
func (api *RestAPI) routesForStopHandler(w http.ResponseWriter, r *http.Request) {
	stopID := r.PathValue("stop_id")
	if stopID == "" {
		writeError(w, http.StatusBadRequest, "stop_id is required")
		return
	}

	results, err := api.Query.RoutesForStop(r.Context(), stopID)
	if err != nil {
		api.Logger.Error("routes for stop query failed", "error", err, "stop_id", stopID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]routeResponse, 0, len(results))
	for _, rr := range results {
		out = append(out, routeResponse{RouteID: rr.RouteID, ShortName: rr.ShortName, LongName: rr.LongName})
	}
	writeJSON(w, http.StatusOK, routesEnvelope{Routes: out})
}

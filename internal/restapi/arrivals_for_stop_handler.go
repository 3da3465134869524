package restapi

import "net/http"

type arrivalResponse struct {
	TripID                  string `json:"trip_id"`
	StopSequence            int    `json:"stop_sequence"`
	RouteShortName          string `json:"route_short_name"`
	StopHeadsign            string `json:"stop_headsign,omitempty"`
	StartTimestamp          int64  `json:"start_timestamp"`
	ArrivalTimestamp        int64  `json:"arrival_timestamp"`
	UpdatedArrivalTimestamp *int64 `json:"updated_arrival_timestamp,omitempty"`
}

type arrivalsEnvelope struct {
	StopArrivals []arrivalResponse `json:"stop_arrivals"`
}

// arrivalsForStopHandler serves GET /stops/{stop_id}/arrivals: upcoming
// arrivals in the next 24 hours, nearest first, capped at fifty.
func (api *RestAPI) arrivalsForStopHandler(w http.ResponseWriter, r *http.Request) {
	stopID := r.PathValue("stop_id")
	if stopID == "" {
		writeError(w, http.StatusBadRequest, "stop_id is required")
		return
	}

	results, err := api.Query.ArrivalsForStop(r.Context(), stopID, api.Clock.Now())
	if err != nil {
		api.Logger.Error("arrivals for stop query failed", "error", err, "stop_id", stopID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]arrivalResponse, 0, len(results))
	for _, a := range results {
		resp := arrivalResponse{
			TripID:           a.TripID,
			StopSequence:     a.StopSequence,
			RouteShortName:   a.RouteShortName,
			StopHeadsign:     a.StopHeadsign,
			StartTimestamp:   a.StartTimestamp,
			ArrivalTimestamp: a.ArrivalTimestamp,
		}
		if a.UpdatedArrivalTimestamp.Valid {
			resp.UpdatedArrivalTimestamp = &a.UpdatedArrivalTimestamp.Int64
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, arrivalsEnvelope{StopArrivals: out})
}

package restapi

import (
	"net/http"
	"strconv"
)

const defaultRadiusMeters = 1000.0

type stopResponse struct {
	StopID string  `json:"stop_id"`
	Code   string  `json:"code,omitempty"`
	Name   string  `json:"name,omitempty"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

type stopsEnvelope struct {
	Stops []stopResponse `json:"stops"`
}

// stopsHandler serves GET /stops: resolves a stop by exact (or fuzzy,
// FTS5-backed) stop_code, by a lat/lon/radius proximity search, or both at
// once — a code match seeds the proximity search's location when no lat/lon
// was given, and is never duplicated among the nearby results.
func (api *RestAPI) stopsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")

	var lat, lon *float64
	if raw := q.Get("lat"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "lat must be numeric")
			return
		}
		lat = &v
	}
	if raw := q.Get("lon"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "lon must be numeric")
			return
		}
		lon = &v
	}
	if code == "" && (lat == nil || lon == nil) {
		writeError(w, http.StatusBadRequest, "either code or lat and lon is required")
		return
	}

	radius := defaultRadiusMeters
	if raw := q.Get("radius_meters"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "radius_meters must be numeric")
			return
		}
		radius = v
	}

	results, err := api.Query.NearestStops(r.Context(), lat, lon, radius, code)
	if err != nil {
		api.Logger.Error("nearest stops query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]stopResponse, 0, len(results))
	for _, s := range results {
		out = append(out, stopResponse{StopID: s.StopID, Code: s.Code, Name: s.Name, Lat: s.Lat, Lon: s.Lon})
	}
	writeJSON(w, http.StatusOK, stopsEnvelope{Stops: out})
}

// Package realtime implements the realtime reconciler: it polls the
// upstream JSON realtime feed and applies TripUpdate, VehiclePosition,
// Alert, and Shape entities to the live tables.
package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// FeedMessage is the root of the realtime wire format: a header and a list
// of entities, each carrying at most one of {alert, trip_update, vehicle,
// shape}.
type FeedMessage struct {
	Header   FeedHeader   `json:"header"`
	Entities []FeedEntity `json:"entity"`
}

// FeedHeader carries the feed-level freshness timestamp used to decide
// whether a poll made progress.
type FeedHeader struct {
	Timestamp flexibleSeconds `json:"timestamp"`
}

// FeedEntity is a discriminated union; the dispatch order alert, trip
// update, vehicle, shape is first-match-wins when more than one slot is
// populated.
type FeedEntity struct {
	ID              string           `json:"id"`
	Alert           *Alert           `json:"alert,omitempty"`
	TripUpdate      *TripUpdate      `json:"trip_update,omitempty"`
	VehiclePosition *VehiclePosition `json:"vehicle,omitempty"`
	Shape           *ShapeUpdate     `json:"shape,omitempty"`
}

// TripDescriptor identifies the scheduled or duplicated trip an entity
// refers to.
type TripDescriptor struct {
	TripID               string `json:"trip_id,omitempty"`
	RouteID              string `json:"route_id,omitempty"`
	DirectionID          *int   `json:"direction_id,omitempty"`
	StartDate            string `json:"start_date,omitempty"`
	StartTime            string `json:"start_time,omitempty"`
	ScheduleRelationship string `json:"schedule_relationship,omitempty"`
}

// VehicleDescriptor identifies the physical vehicle an update is attached
// to.
type VehicleDescriptor struct {
	ID           string `json:"id,omitempty"`
	Label        string `json:"label,omitempty"`
	LicensePlate string `json:"license_plate,omitempty"`
}

// TripUpdate carries a trip-level schedule_relationship and zero or more
// per-stop updates.
type TripUpdate struct {
	Trip            TripDescriptor            `json:"trip"`
	Vehicle         *VehicleDescriptor        `json:"vehicle,omitempty"`
	StopTimeUpdates oneOrMany[StopTimeUpdate] `json:"stop_time_update,omitempty"`
}

// StopTimeUpdate carries the realtime arrival/departure adjustment for a
// single stop within a trip.
type StopTimeUpdate struct {
	StopSequence *int           `json:"stop_sequence,omitempty"`
	StopID       string         `json:"stop_id,omitempty"`
	Arrival      *StopTimeEvent `json:"arrival,omitempty"`
	Departure    *StopTimeEvent `json:"departure,omitempty"`
}

// StopTimeEvent is an arrival or departure prediction: either an absolute
// time or a delay (seconds) relative to schedule.
type StopTimeEvent struct {
	Delay *int             `json:"delay,omitempty"`
	Time  *flexibleSeconds `json:"time,omitempty"`
}

// VehiclePosition is a standalone vehicle-location report, distinct from
// the optional Vehicle attached to a TripUpdate.
type VehiclePosition struct {
	Trip      *TripDescriptor    `json:"trip,omitempty"`
	Vehicle   *VehicleDescriptor `json:"vehicle,omitempty"`
	Position  *Position          `json:"position,omitempty"`
	Timestamp *flexibleSeconds   `json:"timestamp,omitempty"`
}

// Position is a vehicle's last reported location. Bearing is declared as a
// flexibleNumber because some upstream producers emit it as a numeric
// string rather than a JSON number.
type Position struct {
	Latitude  *float64        `json:"latitude,omitempty"`
	Longitude *float64        `json:"longitude,omitempty"`
	Bearing   *flexibleNumber `json:"bearing,omitempty"`
	Speed     *float64        `json:"speed,omitempty"`
}

// Alert is a service alert targeting zero or more informed entities over
// zero or more active periods.
type Alert struct {
	ActivePeriod    oneOrMany[TimeRange]      `json:"active_period,omitempty"`
	InformedEntity  oneOrMany[EntitySelector] `json:"informed_entity,omitempty"`
	Cause           string                    `json:"cause,omitempty"`
	Effect          string                    `json:"effect,omitempty"`
	HeaderText      *TranslatedString         `json:"header_text,omitempty"`
	DescriptionText *TranslatedString         `json:"description_text,omitempty"`
}

// TimeRange is an alert active period; either bound may be absent.
type TimeRange struct {
	Start *flexibleSeconds `json:"start,omitempty"`
	End   *flexibleSeconds `json:"end,omitempty"`
}

// EntitySelector names one target of an alert.
type EntitySelector struct {
	AgencyID    string          `json:"agency_id,omitempty"`
	RouteID     string          `json:"route_id,omitempty"`
	StopID      string          `json:"stop_id,omitempty"`
	DirectionID *int            `json:"direction_id,omitempty"`
	Trip        *TripDescriptor `json:"trip,omitempty"`
}

// TranslatedString is the feed's {translation: [{text, language}]} wrapper.
type TranslatedString struct {
	Translation []Translation `json:"translation"`
}

// Translation is a single localized string.
type Translation struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// English returns the "en" translation if present, else the first
// translation (the sole one when only one is given), else "".
func (t *TranslatedString) English() string {
	if t == nil || len(t.Translation) == 0 {
		return ""
	}
	if len(t.Translation) == 1 {
		return t.Translation[0].Text
	}
	for _, tr := range t.Translation {
		if tr.Language == "en" {
			return tr.Text
		}
	}
	return t.Translation[0].Text
}

// ShapeUpdate replaces a shape's points with a polyline-encoded path.
type ShapeUpdate struct {
	ShapeID         string `json:"shape_id"`
	EncodedPolyline string `json:"encoded_polyline"`
}

// oneOrMany decodes a JSON field that may arrive as a bare object or as an
// array — the "zero-or-more" convention the realtime JSON mapping uses for
// several fields (stop_time_update, active_period, informed_entity).
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*o = items
		return nil
	}
	var single T
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*o = []T{single}
	return nil
}

// flexibleSeconds decodes a POSIX-seconds timestamp that may be a JSON
// number (possibly fractional) or a numeric string.
type flexibleSeconds float64

func (f *flexibleSeconds) UnmarshalJSON(data []byte) error {
	n, err := parseFlexibleNumber(data)
	if err != nil {
		return fmt.Errorf("realtime: invalid timestamp: %w", err)
	}
	*f = flexibleSeconds(n)
	return nil
}

// Millis returns the timestamp as milliseconds since the Unix epoch.
func (f flexibleSeconds) Millis() int64 {
	return int64(float64(f) * 1000)
}

// flexibleNumber decodes a field documented as numeric but sometimes sent
// as a numeric string (observed for VehiclePosition.bearing).
type flexibleNumber float64

func (f *flexibleNumber) UnmarshalJSON(data []byte) error {
	n, err := parseFlexibleNumber(data)
	if err != nil {
		return fmt.Errorf("realtime: invalid number: %w", err)
	}
	*f = flexibleNumber(n)
	return nil
}

func parseFlexibleNumber(data []byte) (float64, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, err
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", raw)
	}
}

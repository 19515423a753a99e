package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"safety-companion/analytics/internal/geo"
)

// Envelope is the wire shape shared by inbound and outbound events:
// a type discriminator plus a type-specific data object.
type Envelope struct {
	Type string          `json:"type"`
	TS   string          `json:"ts,omitempty"`
	Data json.RawMessage `json:"data"`
}

// InboundEvent is the decoded form of an inbound message. Exactly one of
// WalkStarted, WalkStopped, LocationUpdate or UnknownEvent.
type InboundEvent interface {
	inbound()
}

type WalkStarted struct {
	SessionID string
	UserID    string
	Route     []geo.Point
}

type WalkStopped struct {
	SessionID string
	UserID    string
}

type LocationUpdate struct {
	SessionID string // optional; resolved via user mapping when empty
	UserID    string
	Position  geo.Point
	Timestamp time.Time // zero when the producer sent none
}

// UnknownEvent carries an unrecognized type discriminator. It is
// acknowledged and ignored by the adapter.
type UnknownEvent struct {
	Type string
}

func (WalkStarted) inbound()    {}
func (WalkStopped) inbound()    {}
func (LocationUpdate) inbound() {}
func (UnknownEvent) inbound()   {}

// DecodeInbound parses a raw message body into a tagged inbound event.
// A non-nil error means the message is malformed and must be
// acknowledged-as-failed, never requeued.
func DecodeInbound(body []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("bad envelope: %w", err)
	}

	switch env.Type {
	case "walk.started":
		return decodeWalkStarted(env.Data)
	case "walk.stopped":
		return decodeWalkStopped(env.Data)
	// producers have emitted all three spellings over time
	case "location.update", "location.updated", "loc.updated":
		return decodeLocationUpdate(env.Data)
	default:
		return UnknownEvent{Type: env.Type}, nil
	}
}

func decodeWalkStarted(data json.RawMessage) (InboundEvent, error) {
	var raw struct {
		SessionID flexString        `json:"walking_session_id"`
		UserID    flexString        `json:"user_id"`
		Route     []json.RawMessage `json:"route"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("walk.started: %w", err)
	}
	if raw.SessionID == "" {
		return nil, fmt.Errorf("walk.started: missing walking_session_id")
	}
	if raw.UserID == "" {
		return nil, fmt.Errorf("walk.started: missing user_id")
	}

	route := make([]geo.Point, 0, len(raw.Route))
	for i, v := range raw.Route {
		p, err := decodeVertex(v)
		if err != nil {
			return nil, fmt.Errorf("walk.started: route[%d]: %w", i, err)
		}
		route = append(route, p)
	}

	return WalkStarted{
		SessionID: string(raw.SessionID),
		UserID:    string(raw.UserID),
		Route:     route,
	}, nil
}

func decodeWalkStopped(data json.RawMessage) (InboundEvent, error) {
	var raw struct {
		SessionID flexString `json:"walking_session_id"`
		UserID    flexString `json:"user_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("walk.stopped: %w", err)
	}
	if raw.SessionID == "" && raw.UserID == "" {
		return nil, fmt.Errorf("walk.stopped: needs walking_session_id or user_id")
	}
	return WalkStopped{SessionID: string(raw.SessionID), UserID: string(raw.UserID)}, nil
}

func decodeLocationUpdate(data json.RawMessage) (InboundEvent, error) {
	var raw struct {
		SessionID flexString `json:"walking_session_id"`
		UserID    flexString `json:"user_id"`
		Lon       *float64   `json:"lon"`
		Lat       *float64   `json:"lat"`
		Timestamp string     `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("location update: %w", err)
	}
	if raw.UserID == "" {
		return nil, fmt.Errorf("location update: missing user_id")
	}
	if raw.Lon == nil || raw.Lat == nil {
		return nil, fmt.Errorf("location update: missing lon/lat")
	}
	if err := validateCoords(*raw.Lon, *raw.Lat); err != nil {
		return nil, fmt.Errorf("location update: %w", err)
	}

	var ts time.Time
	if raw.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, raw.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("location update: bad timestamp %q: %w", raw.Timestamp, err)
		}
		ts = parsed
	}

	return LocationUpdate{
		SessionID: string(raw.SessionID),
		UserID:    string(raw.UserID),
		Position:  geo.Point{Lon: *raw.Lon, Lat: *raw.Lat},
		Timestamp: ts,
	}, nil
}

// decodeVertex accepts both route vertex encodings seen on the wire:
// {"lat": .., "lon": ..} objects and [lon, lat] pairs.
func decodeVertex(raw json.RawMessage) (geo.Point, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var pair []float64
		if err := json.Unmarshal(raw, &pair); err != nil {
			return geo.Point{}, err
		}
		if len(pair) != 2 {
			return geo.Point{}, fmt.Errorf("want [lon, lat], got %d elements", len(pair))
		}
		p := geo.Point{Lon: pair[0], Lat: pair[1]}
		return p, validateCoords(p.Lon, p.Lat)
	}

	var obj struct {
		Lon *float64 `json:"lon"`
		Lat *float64 `json:"lat"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return geo.Point{}, err
	}
	if obj.Lon == nil || obj.Lat == nil {
		return geo.Point{}, fmt.Errorf("vertex missing lon/lat")
	}
	p := geo.Point{Lon: *obj.Lon, Lat: *obj.Lat}
	return p, validateCoords(p.Lon, p.Lat)
}

func validateCoords(lon, lat float64) error {
	if math.IsNaN(lon) || math.IsInf(lon, 0) || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return fmt.Errorf("coordinates must be finite")
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return fmt.Errorf("coordinates out of bounds: lon=%f lat=%f", lon, lat)
	}
	return nil
}

// flexString tolerates producers that send identifiers as JSON numbers
// instead of strings (the earliest location producer did).
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

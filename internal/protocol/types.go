package protocol

import "encoding/json"

// IncidentStatus enumerates the lifecycle states an incident moves through.
// The closed state is terminal.
type IncidentStatus string

const (
	StatusReported IncidentStatus = "reported"
	StatusActive   IncidentStatus = "active"
	StatusClosed   IncidentStatus = "closed"
)

// Known reports whether the status is one of the enumerated values.
func (s IncidentStatus) Known() bool {
	switch s {
	case StatusReported, StatusActive, StatusClosed:
		return true
	}
	return false
}

// ETAMethod tags how an ETA estimate was computed.
type ETAMethod string

const (
	ETAMethodRoute        ETAMethod = "route"
	ETAMethodStraightLine ETAMethod = "straightline"
)

// GeoPoint is the wire representation of a coordinate. The upstream contract
// uses GeoJSON ordering: coordinates[0] is longitude, coordinates[1] latitude.
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// NewGeoPoint builds a wire point from a latitude/longitude pair.
func NewGeoPoint(lat, lng float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: [2]float64{lng, lat}}
}

func (p GeoPoint) Lat() float64 { return p.Coordinates[1] }
func (p GeoPoint) Lng() float64 { return p.Coordinates[0] }

// ETAPayload is an ETA estimate as carried on the wire.
type ETAPayload struct {
	Text   string    `json:"etaText" validate:"required"`
	Method ETAMethod `json:"method" validate:"required,oneof=route straightline"`
}

// ResponderETAPayload is an incident-level ETA hint: an estimate published
// before the responder entry itself exists in the snapshot.
type ResponderETAPayload struct {
	ResponderID string    `json:"responderId" validate:"required"`
	Text        string    `json:"etaText" validate:"required"`
	Method      ETAMethod `json:"method" validate:"required,oneof=route straightline"`
}

// LiveStreamPayload references an active broadcast attached to an incident.
type LiveStreamPayload struct {
	PlaybackURL string `json:"playbackUrl"`
	StreamKey   string `json:"streamKey"`
}

// ResponderPayload is a responder record as carried on the wire. Location and
// ETA are optional: a join may precede the first location report, and partial
// updates only carry the fields that changed.
type ResponderPayload struct {
	ResponderID string      `json:"responderId" validate:"required"`
	Name        string      `json:"name"`
	Location    *GeoPoint   `json:"location,omitempty"`
	ETA         *ETAPayload `json:"eta,omitempty"`
}

// IncidentPayload is the full incident record as carried in a snapshot.
type IncidentPayload struct {
	IncidentID     string                `json:"incidentId" validate:"required"`
	Status         IncidentStatus        `json:"status" validate:"required,oneof=reported active closed"`
	Location       GeoPoint              `json:"location"`
	ResponderCount int                   `json:"responderCount" validate:"min=0"`
	ResponderETAs  []ResponderETAPayload `json:"responderEtas,omitempty" validate:"dive"`
	LiveStream     *LiveStreamPayload    `json:"liveStream,omitempty"`
}

// envelope frames every event-stream message: a topic naming the payload
// shape and the payload itself.
type envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// WatchRequest is the outbound control message announcing a watch session.
type WatchRequest struct {
	IncidentID string `json:"incidentId"`
	ViewerID   string `json:"viewerId"`
}

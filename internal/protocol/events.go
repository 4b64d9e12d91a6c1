package protocol

// Event-stream topics. The inbound set is closed: anything else is rejected
// at the decode boundary as malformed.
const (
	TopicIncidentSnapshot        = "incidentSnapshot"
	TopicResponderJoined         = "responderJoined"
	TopicResponderLocationUpdate = "responderLocationUpdate"
	TopicResponderETAUpdate      = "responderEtaUpdate"
	TopicIncidentClosed          = "incidentClosed"

	// TopicWatchIncident is the outbound announce message of a session start.
	TopicWatchIncident = "watchIncident"
)

// Event is one decoded inbound message. The implementations below form the
// complete set; the decoder never hands anything else to the reconciler.
type Event interface {
	Topic() string
}

// SnapshotEvent replaces the entire incident state wholesale.
type SnapshotEvent struct {
	Incident   IncidentPayload
	Responders []ResponderPayload
}

// ResponderJoinedEvent upserts one responder and carries the authoritative
// responder count and incident status alongside it.
type ResponderJoinedEvent struct {
	IncidentID     string
	Responder      ResponderPayload
	ResponderCount int
	Status         IncidentStatus
}

// ResponderLocationEvent moves an already-known responder.
type ResponderLocationEvent struct {
	IncidentID  string
	ResponderID string
	Location    GeoPoint
}

// ResponderETAEvent updates the ETA estimate of an already-known responder.
type ResponderETAEvent struct {
	ResponderID string
	ETA         ETAPayload
}

// IncidentClosedEvent marks the incident terminally closed.
type IncidentClosedEvent struct {
	IncidentID string
}

func (SnapshotEvent) Topic() string          { return TopicIncidentSnapshot }
func (ResponderJoinedEvent) Topic() string   { return TopicResponderJoined }
func (ResponderLocationEvent) Topic() string { return TopicResponderLocationUpdate }
func (ResponderETAEvent) Topic() string      { return TopicResponderETAUpdate }
func (IncidentClosedEvent) Topic() string    { return TopicIncidentClosed }

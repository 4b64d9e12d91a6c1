// Package state owns the canonical in-memory model of the incident being
// watched. All mutation goes through the Reconciler; views only ever see
// copies taken with Snapshot.
package state

import "github.com/jifi-app/livewatch/internal/protocol"

// Location is a plain latitude/longitude pair. Wire ordering quirks stay in
// the protocol package.
type Location struct {
	Lat float64
	Lng float64
}

func locationFromWire(p protocol.GeoPoint) Location {
	return Location{Lat: p.Lat(), Lng: p.Lng()}
}

// ETA is a responder's arrival estimate: display text plus the method that
// produced it.
type ETA struct {
	Text   string
	Method protocol.ETAMethod
}

// LiveStream references an active broadcast attached to the incident.
type LiveStream struct {
	PlaybackURL string
	StreamKey   string
}

// Responder is one responder converging on the incident. Location stays nil
// until the first location report; ETA stays nil until an estimate arrives.
type Responder struct {
	ID       string
	Name     string
	Location *Location
	ETA      *ETA
}

func (r *Responder) clone() Responder {
	out := Responder{ID: r.ID, Name: r.Name}
	if r.Location != nil {
		loc := *r.Location
		out.Location = &loc
	}
	if r.ETA != nil {
		eta := *r.ETA
		out.ETA = &eta
	}
	return out
}

// Incident is the incident under watch. ResponderCount is the authoritative
// count from the event stream, which may exceed the number of individually
// reported responders.
type Incident struct {
	ID             string
	Status         protocol.IncidentStatus
	Location       Location
	ResponderCount int
	LiveStream     *LiveStream
}

func (i *Incident) clone() Incident {
	out := *i
	if i.LiveStream != nil {
		ls := *i.LiveStream
		out.LiveStream = &ls
	}
	return out
}

// Snapshot is a read-only copy of the reconciled state, safe to hand to the
// projector and the view layer. Responders preserve arrival order.
type Snapshot struct {
	Incident   Incident
	Responders []Responder
}

// Package overlay derives map markers from reconciled incident state. The
// projection is a pure function: it never mutates state and never diffs
// against a previous marker set; callers redraw from scratch.
package overlay

import (
	"fmt"

	"github.com/jifi-app/livewatch/internal/state"
)

// Role distinguishes the incident marker from responder markers so the view
// layer can style them differently.
type Role string

const (
	RoleIncident  Role = "incident"
	RoleResponder Role = "responder"
)

// Marker is one renderable map overlay entry.
type Marker struct {
	Position state.Location
	Label    string
	Role     Role
}

// Project derives the marker set for a state snapshot: the incident marker
// first, then one marker per responder with a known location, in arrival
// order. Responders that have not reported a location yet get no marker.
func Project(snap state.Snapshot) []Marker {
	markers := make([]Marker, 0, 1+len(snap.Responders))
	markers = append(markers, Marker{
		Position: snap.Incident.Location,
		Label:    "Incident",
		Role:     RoleIncident,
	})

	for _, r := range snap.Responders {
		if r.Location == nil {
			continue
		}
		markers = append(markers, Marker{
			Position: *r.Location,
			Label:    responderLabel(r),
			Role:     RoleResponder,
		})
	}
	return markers
}

func responderLabel(r state.Responder) string {
	name := r.Name
	if name == "" {
		name = "Responder"
	}
	if r.ETA != nil && r.ETA.Text != "" {
		return fmt.Sprintf("%s (ETA %s)", name, r.ETA.Text)
	}
	return name
}

package state

import (
	"github.com/rs/zerolog"

	"github.com/jifi-app/livewatch/internal/metrics"
	"github.com/jifi-app/livewatch/internal/protocol"
)

// Reconciler applies decoded events to the canonical incident state using the
// domain merge rules: field-level upsert by responder identity, authoritative
// responder counts from the payload, and a terminal closed status.
//
// Every apply operation is total: anomalies (unknown responders, duplicate
// snapshots, events for the wrong incident) are counted and logged, never
// returned as errors. The Reconciler performs no locking of its own; it is
// owned by a single session loop and must only be touched from that loop.
//
// Events are applied strictly in arrival order, with no reordering or
// buffering. Updates to different fields of one responder converge under any
// ordering because merges are field-level; two updates to the same field
// converge to arrival order, which matches chronology only if the transport
// preserved it. The event contract carries no per-field timestamps, so this
// is a known limitation, not something to silently repair here.
type Reconciler struct {
	log zerolog.Logger

	incident   *Incident
	responders map[string]*Responder
	order      []string // responder ids in arrival order

	// pendingETAs holds incident-level ETA hints whose responder entry has
	// not been introduced yet; they are joined in when the responder appears.
	pendingETAs map[string]ETA
}

func NewReconciler(log zerolog.Logger) *Reconciler {
	return &Reconciler{
		log:         log.With().Str("component", "reconciler").Logger(),
		responders:  make(map[string]*Responder),
		pendingETAs: make(map[string]ETA),
	}
}

// Ready reports whether a snapshot has been applied yet. Before that there is
// no incident state and non-snapshot events are dropped.
func (r *Reconciler) Ready() bool { return r.incident != nil }

// Apply dispatches one decoded event to the matching operation.
func (r *Reconciler) Apply(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.SnapshotEvent:
		r.ApplySnapshot(e.Incident, e.Responders)
	case protocol.ResponderJoinedEvent:
		r.ApplyResponderJoined(e)
	case protocol.ResponderLocationEvent:
		r.ApplyResponderLocationUpdate(e.IncidentID, e.ResponderID, e.Location)
	case protocol.ResponderETAEvent:
		r.ApplyResponderETAUpdate(e.ResponderID, e.ETA)
	case protocol.IncidentClosedEvent:
		r.ApplyIncidentClosed(e.IncidentID)
	default:
		// Unreachable while the decoder's event set stays closed.
		r.log.Warn().Str("topic", ev.Topic()).Msg("no reconciler operation for event")
		return
	}
	metrics.EventsApplied.WithLabelValues(ev.Topic()).Inc()
}

// ApplySnapshot replaces the entire state wholesale. The first snapshot
// initialises the session; any later one is treated as a full replace (last
// snapshot wins) and reported as unexpected, but is not fatal.
func (r *Reconciler) ApplySnapshot(incident protocol.IncidentPayload, responders []protocol.ResponderPayload) {
	if r.Ready() {
		metrics.DuplicateSnapshots.Inc()
		r.log.Warn().
			Str("incident_id", incident.IncidentID).
			Msg("unexpected re-snapshot, replacing state")
	}

	r.incident = &Incident{
		ID:             incident.IncidentID,
		Status:         incident.Status,
		Location:       locationFromWire(incident.Location),
		ResponderCount: incident.ResponderCount,
	}
	if incident.LiveStream != nil {
		r.incident.LiveStream = &LiveStream{
			PlaybackURL: incident.LiveStream.PlaybackURL,
			StreamKey:   incident.LiveStream.StreamKey,
		}
	}

	r.responders = make(map[string]*Responder, len(responders))
	r.order = r.order[:0]
	for _, p := range responders {
		if _, dup := r.responders[p.ResponderID]; dup {
			r.log.Warn().Str("responder_id", p.ResponderID).Msg("duplicate responder in snapshot, keeping last")
		} else {
			r.order = append(r.order, p.ResponderID)
		}
		r.responders[p.ResponderID] = responderFromWire(p)
	}

	// Join incident-level ETA hints against the responder entries; hints for
	// responders not yet introduced wait for the matching join.
	r.pendingETAs = make(map[string]ETA)
	for _, hint := range incident.ResponderETAs {
		eta := ETA{Text: hint.Text, Method: hint.Method}
		if resp, ok := r.responders[hint.ResponderID]; ok {
			if resp.ETA == nil {
				resp.ETA = &eta
			}
			continue
		}
		r.pendingETAs[hint.ResponderID] = eta
	}

	r.log.Info().
		Str("incident_id", r.incident.ID).
		Str("status", string(r.incident.Status)).
		Int("responders", len(r.responders)).
		Int("responder_count", r.incident.ResponderCount).
		Msg("snapshot applied")
}

// ApplyResponderJoined upserts a responder by identity. Partial updates only
// replace fields present in the incoming record; fields the record omits are
// kept. The incident-level responder count always comes from the payload, not
// from the local list length.
func (r *Reconciler) ApplyResponderJoined(ev protocol.ResponderJoinedEvent) {
	if !r.guard(ev.IncidentID, "responderJoined") {
		return
	}

	p := ev.Responder
	resp, ok := r.responders[p.ResponderID]
	if !ok {
		resp = responderFromWire(p)
		r.responders[p.ResponderID] = resp
		r.order = append(r.order, p.ResponderID)
	} else {
		if p.Name != "" {
			resp.Name = p.Name
		}
		if p.Location != nil {
			loc := locationFromWire(*p.Location)
			resp.Location = &loc
		}
		if p.ETA != nil {
			resp.ETA = &ETA{Text: p.ETA.Text, Method: p.ETA.Method}
		}
	}
	if eta, pending := r.pendingETAs[p.ResponderID]; pending {
		if resp.ETA == nil {
			e := eta
			resp.ETA = &e
		}
		delete(r.pendingETAs, p.ResponderID)
	}

	r.incident.ResponderCount = ev.ResponderCount
	r.setStatus(ev.Status)

	r.log.Debug().
		Str("responder_id", p.ResponderID).
		Int("responder_count", ev.ResponderCount).
		Bool("known", ok).
		Msg("responder joined")
}

// ApplyResponderLocationUpdate moves a known responder. An update for an
// identity never introduced is dropped: a location alone cannot create a
// responder, the name and ETA would be missing.
func (r *Reconciler) ApplyResponderLocationUpdate(incidentID, responderID string, location protocol.GeoPoint) {
	if !r.guard(incidentID, "responderLocationUpdate") {
		return
	}
	resp, ok := r.responders[responderID]
	if !ok {
		metrics.UnknownResponderUpdates.Inc()
		r.log.Warn().Str("responder_id", responderID).Msg("location update for unknown responder, dropped")
		return
	}
	loc := locationFromWire(location)
	resp.Location = &loc
}

// ApplyResponderETAUpdate updates the ETA of a known responder, with the same
// unknown-identity policy as location updates.
func (r *Reconciler) ApplyResponderETAUpdate(responderID string, eta protocol.ETAPayload) {
	if !r.Ready() {
		r.log.Debug().Str("topic", "responderEtaUpdate").Msg("event before snapshot, dropped")
		return
	}
	resp, ok := r.responders[responderID]
	if !ok {
		metrics.UnknownResponderUpdates.Inc()
		r.log.Warn().Str("responder_id", responderID).Msg("eta update for unknown responder, dropped")
		return
	}
	resp.ETA = &ETA{Text: eta.Text, Method: eta.Method}
}

// ApplyIncidentClosed moves the incident to its terminal status.
func (r *Reconciler) ApplyIncidentClosed(incidentID string) {
	if !r.guard(incidentID, "incidentClosed") {
		return
	}
	r.incident.Status = protocol.StatusClosed
	r.log.Info().Str("incident_id", r.incident.ID).Msg("incident closed")
}

// Snapshot returns a deep copy of the current state for projection. It must
// only be called once Ready reports true.
func (r *Reconciler) Snapshot() Snapshot {
	snap := Snapshot{
		Incident:   r.incident.clone(),
		Responders: make([]Responder, 0, len(r.order)),
	}
	for _, id := range r.order {
		snap.Responders = append(snap.Responders, r.responders[id].clone())
	}
	return snap
}

// Discard drops the reconciled state at session teardown.
func (r *Reconciler) Discard() {
	r.incident = nil
	r.responders = make(map[string]*Responder)
	r.order = nil
	r.pendingETAs = make(map[string]ETA)
}

// guard enforces the two preconditions shared by incremental events: a
// snapshot must have been applied, and the event must reference the incident
// under watch. An empty incident id is accepted.
func (r *Reconciler) guard(incidentID, topic string) bool {
	if !r.Ready() {
		r.log.Debug().Str("topic", topic).Msg("event before snapshot, dropped")
		return false
	}
	if incidentID != "" && incidentID != r.incident.ID {
		r.log.Warn().
			Str("topic", topic).
			Str("incident_id", incidentID).
			Str("watched", r.incident.ID).
			Msg("event for different incident, dropped")
		return false
	}
	return true
}

// setStatus adopts a status carried on an incremental event. Closed is
// terminal: nothing moves the incident back out of it.
func (r *Reconciler) setStatus(status protocol.IncidentStatus) {
	if r.incident.Status == protocol.StatusClosed {
		return
	}
	if status == "" || !status.Known() {
		return
	}
	r.incident.Status = status
}

func responderFromWire(p protocol.ResponderPayload) *Responder {
	resp := &Responder{ID: p.ResponderID, Name: p.Name}
	if p.Location != nil {
		loc := locationFromWire(*p.Location)
		resp.Location = &loc
	}
	if p.ETA != nil {
		resp.ETA = &ETA{Text: p.ETA.Text, Method: p.ETA.Method}
	}
	return resp
}

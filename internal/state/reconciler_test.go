package state

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jifi-app/livewatch/internal/protocol"
)

func newTestReconciler(t *testing.T) *Reconciler {
	t.Helper()
	return NewReconciler(zerolog.Nop())
}

func snapshotPayload(status protocol.IncidentStatus, count int) protocol.IncidentPayload {
	return protocol.IncidentPayload{
		IncidentID:     "inc-1",
		Status:         status,
		Location:       protocol.NewGeoPoint(10, 20),
		ResponderCount: count,
	}
}

func joined(id, name string, count int) protocol.ResponderJoinedEvent {
	return protocol.ResponderJoinedEvent{
		IncidentID:     "inc-1",
		Responder:      protocol.ResponderPayload{ResponderID: id, Name: name},
		ResponderCount: count,
		Status:         protocol.StatusActive,
	}
}

func geo(lat, lng float64) protocol.GeoPoint { return protocol.NewGeoPoint(lat, lng) }

func TestSnapshotInitialisesState(t *testing.T) {
	r := newTestReconciler(t)
	assert.False(t, r.Ready())

	r.ApplySnapshot(snapshotPayload(protocol.StatusActive, 1), []protocol.ResponderPayload{
		{ResponderID: "r-1", Name: "Amina", Location: ptr(geo(11, 21))},
	})

	require.True(t, r.Ready())
	snap := r.Snapshot()
	assert.Equal(t, "inc-1", snap.Incident.ID)
	assert.Equal(t, protocol.StatusActive, snap.Incident.Status)
	assert.Equal(t, Location{Lat: 10, Lng: 20}, snap.Incident.Location)
	require.Len(t, snap.Responders, 1)
	assert.Equal(t, "Amina", snap.Responders[0].Name)
}

func TestResponderJoinedIsIdempotent(t *testing.T) {
	r := newTestReconciler(t)
	r.ApplySnapshot(snapshotPayload(protocol.StatusActive, 0), nil)

	ev := joined("r-1", "Amina", 1)
	r.ApplyResponderJoined(ev)
	once := r.Snapshot()

	r.ApplyResponderJoined(ev)
	twice := r.Snapshot()

	assert.Equal(t, once, twice)
	assert.Len(t, twice.Responders, 1)
	assert.Equal(t, 1, twice.Incident.ResponderCount)
}

func TestResponderCountIsAuthoritative(t *testing.T) {
	// The payload count may legitimately exceed what has been individually
	// reported: count=1 with a single responder entry of length 1, even
	// though no location was ever sent for it.
	r := newTestReconciler(t)
	r.ApplySnapshot(snapshotPayload(protocol.StatusActive, 0), nil)

	r.ApplyResponderJoined(joined("r-1", "Amina", 1))
	snap := r.Snapshot()
	assert.Equal(t, 1, snap.Incident.ResponderCount)
	assert.Len(t, snap.Responders, 1)
	assert.Nil(t, snap.Responders[0].Location)

	// Count can run ahead of the individually reported list.
	r.ApplyResponderJoined(joined("r-2", "Brian", 5))
	snap = r.Snapshot()
	assert.Equal(t, 5, snap.Incident.ResponderCount)
	assert.Len(t, snap.Responders, 2)
}

func TestJoinPartialUpdateKeepsAbsentFields(t *testing.T) {
	r := newTestReconciler(t)
	r.ApplySnapshot(snapshotPayload(protocol.StatusActive, 0), nil)

	r.ApplyResponderJoined(protocol.ResponderJoinedEvent{
		IncidentID: "inc-1",
		Responder: protocol.ResponderPayload{
			ResponderID: "r-1",
			Name:        "Amina",
			Location:    ptr(geo(11, 21)),
			ETA:         &protocol.ETAPayload{Text: "6 min", Method: protocol.ETAMethodRoute},
		},
		ResponderCount: 1,
	})

	// Re-join with only the identity set: location, name and ETA survive.
	r.ApplyResponderJoined(protocol.ResponderJoinedEvent{
		IncidentID:     "inc-1",
		Responder:      protocol.ResponderPayload{ResponderID: "r-1"},
		ResponderCount: 1,
	})

	snap := r.Snapshot()
	require.Len(t, snap.Responders, 1)
	got := snap.Responders[0]
	assert.Equal(t, "Amina", got.Name)
	require.NotNil(t, got.Location)
	assert.Equal(t, Location{Lat: 11, Lng: 21}, *got.Location)
	require.NotNil(t, got.ETA)
	assert.Equal(t, "6 min", got.ETA.Text)
}

func TestLocationLatestWins(t *testing.T) {
	r := newTestReconciler(t)
	r.ApplySnapshot(snapshotPayload(protocol.StatusActive, 0), nil)
	r.ApplyResponderJoined(joined("r-1", "Amina", 1))

	updates := []protocol.GeoPoint{geo(1, 1), geo(2, 2), geo(3, 3)}
	for _, loc := range updates {
		r.ApplyResponderLocationUpdate("inc-1", "r-1", loc)
	}

	snap := r.Snapshot()
	require.NotNil(t, snap.Responders[0].Location)
	assert.Equal(t, Location{Lat: 3, Lng: 3}, *snap.Responders[0].Location)
}

func TestUnknownResponderUpdatesAreDropped(t *testing.T) {
	r := newTestReconciler(t)
	r.ApplySnapshot(snapshotPayload(protocol.StatusActive, 0), nil)

	r.ApplyResponderLocationUpdate("inc-1", "ghost", geo(1, 1))
	r.ApplyResponderETAUpdate("ghost", protocol.ETAPayload{Text: "2 min", Method: protocol.ETAMethodRoute})

	assert.Empty(t, r.Snapshot().Responders, "updates must never create a responder")
}

func TestClosedIsTerminal(t *testing.T) {
	r := newTestReconciler(t)
	r.ApplySnapshot(snapshotPayload(protocol.StatusActive, 0), nil)
	r.ApplyIncidentClosed("inc-1")
	assert.Equal(t, protocol.StatusClosed, r.Snapshot().Incident.Status)

	// Later events are accepted but must not revert the status.
	r.ApplyResponderJoined(joined("r-1", "Amina", 1))
	r.ApplyResponderLocationUpdate("inc-1", "r-1", geo(1, 1))

	snap := r.Snapshot()
	assert.Equal(t, protocol.StatusClosed, snap.Incident.Status)
	assert.Equal(t, 1, snap.Incident.ResponderCount, "non-status fields still apply")
	assert.Len(t, snap.Responders, 1)
}

func TestReSnapshotReplacesWholesale(t *testing.T) {
	r := newTestReconciler(t)
	r.ApplySnapshot(snapshotPayload(protocol.StatusActive, 0), nil)
	r.ApplyResponderJoined(joined("r-1", "Amina", 1))

	r.ApplySnapshot(snapshotPayload(protocol.StatusReported, 3), []protocol.ResponderPayload{
		{ResponderID: "r-9", Name: "Joy"},
	})

	snap := r.Snapshot()
	assert.Equal(t, protocol.StatusReported, snap.Incident.Status)
	assert.Equal(t, 3, snap.Incident.ResponderCount)
	require.Len(t, snap.Responders, 1)
	assert.Equal(t, "r-9", snap.Responders[0].ID, "last snapshot wins, no merge")
}

func TestPendingETAJoinsResponder(t *testing.T) {
	r := newTestReconciler(t)

	incident := snapshotPayload(protocol.StatusActive, 2)
	incident.ResponderETAs = []protocol.ResponderETAPayload{
		{ResponderID: "r-1", Text: "8 min", Method: protocol.ETAMethodStraightLine},
		{ResponderID: "r-2", Text: "15 min", Method: protocol.ETAMethodStraightLine},
	}
	r.ApplySnapshot(incident, []protocol.ResponderPayload{
		{ResponderID: "r-1", Name: "Amina"},
	})

	// Hint for an already-present responder is merged at snapshot time.
	snap := r.Snapshot()
	require.NotNil(t, snap.Responders[0].ETA)
	assert.Equal(t, "8 min", snap.Responders[0].ETA.Text)

	// Hint for r-2 waits until the join introduces the entry.
	r.ApplyResponderJoined(joined("r-2", "Brian", 2))
	snap = r.Snapshot()
	require.Len(t, snap.Responders, 2)
	require.NotNil(t, snap.Responders[1].ETA)
	assert.Equal(t, "15 min", snap.Responders[1].ETA.Text)
}

func TestPendingETADoesNotOverrideOwnRecord(t *testing.T) {
	r := newTestReconciler(t)

	incident := snapshotPayload(protocol.StatusActive, 1)
	incident.ResponderETAs = []protocol.ResponderETAPayload{
		{ResponderID: "r-1", Text: "20 min", Method: protocol.ETAMethodStraightLine},
	}
	r.ApplySnapshot(incident, []protocol.ResponderPayload{
		{ResponderID: "r-1", Name: "Amina", ETA: &protocol.ETAPayload{Text: "5 min", Method: protocol.ETAMethodRoute}},
	})

	snap := r.Snapshot()
	require.NotNil(t, snap.Responders[0].ETA)
	assert.Equal(t, "5 min", snap.Responders[0].ETA.Text, "the responder's own record wins over the hint")
}

func TestEventsBeforeSnapshotAreDropped(t *testing.T) {
	r := newTestReconciler(t)

	r.ApplyResponderJoined(joined("r-1", "Amina", 1))
	r.ApplyResponderLocationUpdate("inc-1", "r-1", geo(1, 1))
	r.ApplyIncidentClosed("inc-1")

	assert.False(t, r.Ready())
}

func TestEventsForOtherIncidentAreDropped(t *testing.T) {
	r := newTestReconciler(t)
	r.ApplySnapshot(snapshotPayload(protocol.StatusActive, 0), nil)

	other := joined("r-1", "Amina", 1)
	other.IncidentID = "inc-2"
	r.ApplyResponderJoined(other)
	r.ApplyIncidentClosed("inc-2")

	snap := r.Snapshot()
	assert.Empty(t, snap.Responders)
	assert.Equal(t, protocol.StatusActive, snap.Incident.Status)
}

func TestSnapshotIsADeepCopy(t *testing.T) {
	r := newTestReconciler(t)
	r.ApplySnapshot(snapshotPayload(protocol.StatusActive, 0), []protocol.ResponderPayload{
		{ResponderID: "r-1", Name: "Amina", Location: ptr(geo(1, 1))},
	})

	snap := r.Snapshot()
	snap.Responders[0].Location.Lat = 99
	snap.Incident.Status = protocol.StatusClosed

	fresh := r.Snapshot()
	assert.Equal(t, 1.0, fresh.Responders[0].Location.Lat)
	assert.Equal(t, protocol.StatusActive, fresh.Incident.Status)
}

func ptr[T any](v T) *T { return &v }

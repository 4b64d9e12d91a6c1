// Package metrics declares the Prometheus collectors shared by the watch
// engine and the simulator. Every reconciler anomaly is absorbed locally and
// surfaced only through these counters and the structured log.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewatch_events_applied_total",
			Help: "Decoded events applied to the incident state, by topic.",
		},
		[]string{"topic"},
	)

	MalformedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livewatch_malformed_messages_total",
			Help: "Inbound frames dropped because they failed to decode or validate.",
		},
	)

	UnknownResponderUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livewatch_unknown_responder_updates_total",
			Help: "Location or ETA updates referencing a responder never introduced by a join or snapshot.",
		},
	)

	DuplicateSnapshots = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livewatch_duplicate_snapshots_total",
			Help: "Snapshots received after the session was already initialised (applied as full replace).",
		},
	)

	ConnectionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livewatch_connection_failures_total",
			Help: "Transport connections that failed to open or terminated abnormally.",
		},
	)

	ChunksRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livewatch_chunks_relayed_total",
			Help: "Media chunks forwarded over the live channel.",
		},
	)

	ChunksDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livewatch_chunks_dropped_total",
			Help: "Media chunks discarded because the live channel was not writable.",
		},
	)

	BytesRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livewatch_bytes_relayed_total",
			Help: "Media bytes forwarded over the live channel.",
		},
	)

	SimChunksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewatch_sim_chunks_received_total",
			Help: "Media chunks accepted by the simulator chunk sink, by stream key.",
		},
		[]string{"stream"},
	)

	SimHTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewatch_sim_http_requests_total",
			Help: "Total number of HTTP requests received by the simulator.",
		},
		[]string{"route", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsApplied,
		MalformedMessages,
		UnknownResponderUpdates,
		DuplicateSnapshots,
		ConnectionFailures,
		ChunksRelayed,
		ChunksDropped,
		BytesRelayed,
		SimChunksReceived,
		SimHTTPRequestsTotal,
	)
}

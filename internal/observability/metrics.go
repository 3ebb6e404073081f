// Package observability wires the module's telemetry: OpenTelemetry tracing
// (otel.go) and Prometheus instrumentation (this file).
//
// The collectors below measure the sync engine rather than HTTP traffic, with
// the same attention to label cardinality:
//
//   - provenance: origin category of a merged batch (initial|history|live),
//     a closed set of three values
//   - outcome:    fetch result (ok|retry|failed), closed set
//
// All collectors are safe for concurrent use and registered once at init.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MergeBatches counts merge operations by batch provenance.
	MergeBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_merge_batches_total",
			Help: "Total number of merged message batches.",
		},
		[]string{"provenance"},
	)

	// MergeBatchSize records the number of entries per merged batch.
	// Buckets are tuned for the server's 30-message page size and typical
	// live burst sizes.
	MergeBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_merge_batch_size",
			Help:    "Number of messages in a merged batch.",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provenance"},
	)

	// DuplicatesDropped counts incoming messages discarded because their id
	// was already stored (first-write-wins).
	DuplicatesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_duplicates_dropped_total",
			Help: "Incoming messages discarded as exact-id duplicates.",
		},
	)

	// MalformedDropped counts per-entry skips of messages missing id or
	// timestamp.
	MalformedDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_malformed_dropped_total",
			Help: "Incoming messages skipped for missing id or timestamp.",
		},
	)

	// UnknownTargetDropped counts receipt/reaction deltas referencing message
	// ids not present in the store. These are dropped, not buffered; the
	// counter makes the loss observable.
	UnknownTargetDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_unknown_target_dropped_total",
			Help: "Receipt/reaction deltas dropped for unknown message ids.",
		},
		[]string{"kind"},
	)

	// HistoryFetches counts history fetch completions by outcome.
	HistoryFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_history_fetches_total",
			Help: "History page fetches by outcome.",
		},
		[]string{"outcome"},
	)

	// IngestFlushSize records how many live messages each queue flush carried.
	IngestFlushSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatsync_ingest_flush_size",
			Help:    "Live messages delivered per ingest queue flush.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	// StaleResponsesDropped counts history responses discarded because their
	// session generation no longer matches the active one.
	StaleResponsesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_stale_responses_dropped_total",
			Help: "Late history responses discarded after a session change.",
		},
	)

	// WireEvents counts inbound websocket events by name. The event vocabulary
	// is the fixed protocol set, so cardinality stays bounded.
	WireEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_wire_events_total",
			Help: "Inbound websocket events by event name.",
		},
		[]string{"event"},
	)

	// WireDecodeErrors counts inbound frames or payloads that failed to decode.
	WireDecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_wire_decode_errors_total",
			Help: "Inbound websocket frames dropped as undecodable.",
		},
	)

	// Reconnects counts successful websocket re-dials.
	Reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_reconnects_total",
			Help: "Successful websocket reconnections.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MergeBatches,
		MergeBatchSize,
		DuplicatesDropped,
		MalformedDropped,
		UnknownTargetDropped,
		HistoryFetches,
		IngestFlushSize,
		StaleResponsesDropped,
		WireEvents,
		WireDecodeErrors,
		Reconnects,
	)
}

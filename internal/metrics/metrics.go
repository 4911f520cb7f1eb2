// Package metrics provides Prometheus metrics for the chat backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedSockets tracks live websocket connections per namespace.
	ConnectedSockets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_connected_sockets",
			Help: "Number of currently connected websocket clients",
		},
		[]string{"namespace"},
	)

	// OnlineUsers tracks the size of the presence set.
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Number of users currently in the online set",
		},
	)

	// PeerMessages counts peer messages accepted for broadcast.
	PeerMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_peer_messages_total",
			Help: "Total number of peer chat messages broadcast",
		},
	)

	// PersistFailures counts failed message writes by namespace.
	PersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_persist_failures_total",
			Help: "Total number of message persistence failures",
		},
		[]string{"namespace"},
	)

	// DroppedDeliveries counts envelopes dropped because a client buffer was full or closed.
	DroppedDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_dropped_deliveries_total",
			Help: "Total number of envelopes that could not be queued for a client",
		},
	)

	// QueueDepth tracks jobs waiting in the generation queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_generation_queue_depth",
			Help: "Number of generation jobs waiting to run",
		},
	)

	// GenerationJobs counts finished generation jobs by outcome.
	GenerationJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_generation_jobs_total",
			Help: "Total number of generation jobs processed",
		},
		[]string{"status"},
	)

	// GenerationDuration tracks how long one assistant turn takes end to end.
	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_generation_duration_seconds",
			Help:    "Duration of assistant turns from dequeue to completion",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// StreamedChunks counts ai_message_chunk events emitted.
	StreamedChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_streamed_chunks_total",
			Help: "Total number of assistant chunks streamed to rooms",
		},
	)
)

// RecordConnect increments the socket gauge for a namespace.
func RecordConnect(namespace string) {
	ConnectedSockets.WithLabelValues(namespace).Inc()
}

// RecordDisconnect decrements the socket gauge for a namespace.
func RecordDisconnect(namespace string) {
	ConnectedSockets.WithLabelValues(namespace).Dec()
}

// RecordJob records a finished generation job.
func RecordJob(status string, seconds float64) {
	GenerationJobs.WithLabelValues(status).Inc()
	GenerationDuration.Observe(seconds)
}

// Package metrics provides Prometheus instrumentation for the chat
// server. It exposes gauges for connection and session counts, counters
// for message throughput and matchmaking outcomes, and histograms for
// latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatserver_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts messages processed, labeled by
	// type: "text", "image", "typing", or "blocked".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatserver_messages_total",
		Help: "Total number of messages processed",
	}, []string{"type"})

	// MatchQueueSize tracks the current number of users in the global queue.
	MatchQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatserver_match_queue_size",
		Help: "Current number of users in the matching queue",
	})

	// MatchWaitSeconds records the time from entering the queue to a match.
	MatchWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatserver_match_wait_seconds",
		Help:    "Time from match request to match found",
		Buckets: []float64{1, 2, 5, 10, 15, 20, 25, 30},
	})

	// ActiveSessions tracks live sessions, labeled "human" or "ghost".
	ActiveSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatserver_active_sessions",
		Help: "Current number of active chat sessions",
	}, []string{"kind"})

	// GhostConversions counts queue waits converted to synthetic partners.
	GhostConversions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatserver_ghost_conversions_total",
		Help: "Total number of queue timeouts converted to synthetic sessions",
	})

	// ResponderFallbacks counts replies served from the canned pool,
	// labeled by cause: "backend" or "refusal".
	ResponderFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatserver_responder_fallbacks_total",
		Help: "Total number of canned replies used instead of a backend completion",
	}, []string{"cause"})

	// ResponderLatency records completion latency in seconds.
	ResponderLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatserver_responder_latency_seconds",
		Help:    "Reply generation latency in seconds",
		Buckets: []float64{.25, .5, 1, 2, 4, 8, 12},
	})

	// SkipsTotal counts skip actions.
	SkipsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatserver_skips_total",
		Help: "Total number of partner skips",
	})

	// PenaltiesTotal counts matchmaking penalties applied.
	PenaltiesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatserver_penalties_total",
		Help: "Total number of skip penalties applied",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		MatchQueueSize,
		MatchWaitSeconds,
		ActiveSessions,
		GhostConversions,
		ResponderFallbacks,
		ResponderLatency,
		SkipsTotal,
		PenaltiesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

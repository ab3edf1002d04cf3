// Package metrics provides Prometheus metrics for the messaging core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the messaging core.
type Metrics struct {
	MessagesSent       prometheus.Counter
	MessagesRolledBack prometheus.Counter
	SettleDuration     prometheus.Histogram

	AttachmentsUploaded prometheus.Counter
	AttachmentsFailed   prometheus.Counter

	TriageUpdatesTotal *prometheus.CounterVec
	TriageRollbacks    prometheus.Counter

	PresenceJoins      prometheus.Counter
	PresenceLeaves     prometheus.Counter
	TypingBroadcasts   prometheus.Counter
	SocketsConnected   prometheus.Gauge
	SocketOverflows    prometheus.Counter
	BroadcastDelivered prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	ServerStartTime time.Time
}

// New creates and registers all messaging metrics on the default registry.
func New() *Metrics {
	m := &Metrics{ServerStartTime: time.Now()}

	m.MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careline_messages_sent_total",
		Help: "Messages confirmed durable by the store",
	})
	m.MessagesRolledBack = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careline_messages_rolled_back_total",
		Help: "Optimistic sends rolled back after a store failure",
	})
	m.SettleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "careline_message_settle_duration_seconds",
		Help:    "Time from optimistic apply to durable confirmation",
		Buckets: prometheus.DefBuckets,
	})

	m.AttachmentsUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careline_attachments_uploaded_total",
		Help: "Attachments committed through the two-phase pipeline",
	})
	m.AttachmentsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careline_attachments_failed_total",
		Help: "Attachment uploads that failed in either phase",
	})

	m.TriageUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "careline_triage_updates_total",
		Help: "Durable triage field updates by field and outcome",
	}, []string{"field", "outcome"})
	m.TriageRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careline_triage_rollbacks_total",
		Help: "Optimistic triage edits reverted after a store failure",
	})

	m.PresenceJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careline_presence_joins_total",
		Help: "Presence channel joins",
	})
	m.PresenceLeaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careline_presence_leaves_total",
		Help: "Presence channel leaves",
	})
	m.TypingBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careline_typing_broadcasts_total",
		Help: "Typing state changes broadcast to conversation members",
	})
	m.SocketsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "careline_sockets_connected",
		Help: "Currently attached websocket sessions",
	})
	m.SocketOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careline_socket_overflows_total",
		Help: "Websocket sessions dropped because the client stopped draining",
	})
	m.BroadcastDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careline_broadcast_deliveries_total",
		Help: "Frames delivered to room members",
	})

	m.CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careline_query_cache_hits_total",
		Help: "Conversation list cache hits",
	})
	m.CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careline_query_cache_misses_total",
		Help: "Conversation list cache misses",
	})

	return m
}

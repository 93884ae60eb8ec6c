package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// VoiceCollector exposes mesh reliability metrics for one voice node.
type VoiceCollector struct {
	peersConnected     prometheus.Gauge
	reconnectAttempts  prometheus.Counter
	reconnectExhausted prometheus.Counter
	gracePeriodsTotal  prometheus.Counter
	teardownsTotal     prometheus.Counter
	heartbeatsSent     prometheus.Counter
	negotiationErrors  prometheus.Counter
}

func NewVoiceCollector() *VoiceCollector {
	return &VoiceCollector{
		peersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicemesh_peers_connected",
			Help: "Number of peers with a live connection record",
		}),
		reconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_reconnect_attempts_total",
			Help: "Total health-triggered reconnection attempts",
		}),
		reconnectExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_reconnects_exhausted_total",
			Help: "Peers dropped after exhausting the reconnect budget",
		}),
		gracePeriodsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_grace_periods_total",
			Help: "Signaling outages that entered the grace period",
		}),
		teardownsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_teardowns_total",
			Help: "Full session teardowns, intentional or grace-expired",
		}),
		heartbeatsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_heartbeats_sent_total",
			Help: "Heartbeat snapshots published to the relay",
		}),
		negotiationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_negotiation_errors_total",
			Help: "Offer/answer negotiation failures",
		}),
	}
}

func (c *VoiceCollector) SetPeersConnected(n int) { c.peersConnected.Set(float64(n)) }
func (c *VoiceCollector) IncReconnectAttempts()   { c.reconnectAttempts.Inc() }
func (c *VoiceCollector) IncReconnectExhausted()  { c.reconnectExhausted.Inc() }
func (c *VoiceCollector) IncGracePeriods()        { c.gracePeriodsTotal.Inc() }
func (c *VoiceCollector) IncTeardowns()           { c.teardownsTotal.Inc() }
func (c *VoiceCollector) IncHeartbeatsSent()      { c.heartbeatsSent.Inc() }
func (c *VoiceCollector) IncNegotiationErrors()   { c.negotiationErrors.Inc() }

// RelayCollector exposes relay-side signaling metrics.
type RelayCollector struct {
	connectionsActive prometheus.Gauge
	roomsActive       prometheus.Gauge
	messagesTotal     *prometheus.CounterVec
	messageBytes      prometheus.Histogram
	rateLimited       prometheus.Counter
}

func NewRelayCollector() *RelayCollector {
	return &RelayCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicemesh_relay_connections_active",
			Help: "Currently registered websocket connections",
		}),
		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicemesh_relay_rooms_active",
			Help: "Rooms with at least one participant",
		}),
		messagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_relay_messages_total",
			Help: "Signaling messages routed, by type",
		}, []string{"type"}),
		messageBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemesh_relay_message_bytes",
			Help:    "Size of routed signaling messages",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}),
		rateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_relay_rate_limited_total",
			Help: "Messages dropped by per-connection rate limiting",
		}),
	}
}

func (c *RelayCollector) SetConnectionsActive(n int) { c.connectionsActive.Set(float64(n)) }
func (c *RelayCollector) SetRoomsActive(n int)       { c.roomsActive.Set(float64(n)) }
func (c *RelayCollector) IncRateLimited()            { c.rateLimited.Inc() }

func (c *RelayCollector) ObserveMessage(messageType string, size int) {
	c.messagesTotal.WithLabelValues(messageType).Inc()
	c.messageBytes.Observe(float64(size))
}

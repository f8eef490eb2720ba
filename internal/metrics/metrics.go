// Package metrics provides Prometheus metrics for the mesh core.
//
// Grounded on postalsys-Muti-Metroo/internal/metrics (Metrics struct,
// NewMetricsWithRegistry/Default singleton pattern, RecordXxx helper
// methods), with the metric set replaced by this domain's own
// concerns: peer transport connections, envelope relay, DHT lookups,
// gossip announcements, and the store-and-forward outbox.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meshnet"

// Metrics contains all Prometheus metrics for the mesh core.
type Metrics struct {
	// Peer/transport metrics
	PeersConnected  prometheus.Gauge
	PeersTotal      prometheus.Counter
	PeerConnections *prometheus.CounterVec
	PeerDisconnects *prometheus.CounterVec

	// Envelope metrics
	EnvelopesSent      *prometheus.CounterVec
	EnvelopesReceived  *prometheus.CounterVec
	EnvelopeDropped    *prometheus.CounterVec
	EnvelopeAuthFailed prometheus.Counter

	// Relay metrics
	RelayForwarded    prometheus.Counter
	RelayBroadcast    prometheus.Counter
	RelayDropped      *prometheus.CounterVec
	RelayHopLatency   prometheus.Histogram

	// DHT metrics
	DHTStoreTotal    prometheus.Counter
	DHTLookupTotal   prometheus.Counter
	DHTLookupLatency prometheus.Histogram
	DHTRecordsHeld   prometheus.Gauge

	// Gossip/discovery metrics
	GossipAnnouncesSent     prometheus.Counter
	GossipAnnouncesReceived prometheus.Counter
	GossipPeersDiscovered   prometheus.Counter

	// Outbox metrics
	OutboxQueued    prometheus.Gauge
	OutboxDelivered prometheus.Counter
	OutboxDiscarded prometheus.Counter
	OutboxRetries   prometheus.Counter

	// Routing table metrics
	RoutingTableSize prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics instance, registered against
// the default Prometheus registerer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a Metrics instance registered on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance on a caller-supplied
// registry, primarily so tests can use an isolated registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PeersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_connected",
			Help:      "Number of currently connected peers",
		}),
		PeersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peers_total",
			Help:      "Total number of peer connections established",
		}),
		PeerConnections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_connections_total",
			Help:      "Total peer connections by transport type",
		}, []string{"transport"}),
		PeerDisconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_disconnects_total",
			Help:      "Total peer disconnections by reason",
		}, []string{"reason"}),

		EnvelopesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_sent_total",
			Help:      "Total envelopes sent by message type",
		}, []string{"message_type"}),
		EnvelopesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_received_total",
			Help:      "Total envelopes received by message type",
		}, []string{"message_type"}),
		EnvelopeDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_dropped_total",
			Help:      "Total envelopes dropped by reason",
		}, []string{"reason"}),
		EnvelopeAuthFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelope_auth_failures_total",
			Help:      "Total envelopes rejected for signature or MAC failure",
		}),

		RelayForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_forwarded_total",
			Help:      "Total packets forwarded to a single closer hop",
		}),
		RelayBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_broadcast_total",
			Help:      "Total packets broadcast for lack of a closer hop",
		}),
		RelayDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_dropped_total",
			Help:      "Total packets dropped by relay, by reason",
		}, []string{"reason"}),
		RelayHopLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_hop_latency_seconds",
			Help:      "Histogram of time spent routing a packet through one relay hop",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),

		DHTStoreTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dht_store_total",
			Help:      "Total DHT store operations",
		}),
		DHTLookupTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dht_lookup_total",
			Help:      "Total DHT lookup operations",
		}),
		DHTLookupLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dht_lookup_latency_seconds",
			Help:      "Histogram of DHT iterative lookup latency",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		DHTRecordsHeld: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dht_records_held",
			Help:      "Number of DHT records currently held locally",
		}),

		GossipAnnouncesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_announces_sent_total",
			Help:      "Total self-announcements broadcast",
		}),
		GossipAnnouncesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_announces_received_total",
			Help:      "Total peer announcements received",
		}),
		GossipPeersDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_peers_discovered_total",
			Help:      "Total distinct peers merged into the routing table via discovery",
		}),

		OutboxQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_queued",
			Help:      "Number of messages currently queued in the store-and-forward outbox",
		}),
		OutboxDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_delivered_total",
			Help:      "Total queued messages successfully delivered",
		}),
		OutboxDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_discarded_total",
			Help:      "Total queued messages discarded after exceeding the retry limit",
		}),
		OutboxRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_retries_total",
			Help:      "Total redelivery attempts made by the outbox",
		}),

		RoutingTableSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routing_table_size",
			Help:      "Number of contacts currently held across all k-buckets",
		}),
	}
}

// Peer/transport helpers

func (m *Metrics) RecordPeerConnect(transport string) {
	m.PeersConnected.Inc()
	m.PeersTotal.Inc()
	m.PeerConnections.WithLabelValues(transport).Inc()
}

func (m *Metrics) RecordPeerDisconnect(reason string) {
	m.PeersConnected.Dec()
	m.PeerDisconnects.WithLabelValues(reason).Inc()
}

// Envelope helpers

func (m *Metrics) RecordEnvelopeSent(messageType string) {
	m.EnvelopesSent.WithLabelValues(messageType).Inc()
}

func (m *Metrics) RecordEnvelopeReceived(messageType string) {
	m.EnvelopesReceived.WithLabelValues(messageType).Inc()
}

func (m *Metrics) RecordEnvelopeDropped(reason string) {
	m.EnvelopeDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordEnvelopeAuthFailure() {
	m.EnvelopeAuthFailed.Inc()
}

// Relay helpers

func (m *Metrics) RecordRelayForward(latencySeconds float64) {
	m.RelayForwarded.Inc()
	m.RelayHopLatency.Observe(latencySeconds)
}

func (m *Metrics) RecordRelayBroadcast(latencySeconds float64) {
	m.RelayBroadcast.Inc()
	m.RelayHopLatency.Observe(latencySeconds)
}

func (m *Metrics) RecordRelayDropped(reason string) {
	m.RelayDropped.WithLabelValues(reason).Inc()
}

// DHT helpers

func (m *Metrics) RecordDHTStore() {
	m.DHTStoreTotal.Inc()
}

func (m *Metrics) RecordDHTLookup(latencySeconds float64) {
	m.DHTLookupTotal.Inc()
	m.DHTLookupLatency.Observe(latencySeconds)
}

func (m *Metrics) SetDHTRecordsHeld(count int) {
	m.DHTRecordsHeld.Set(float64(count))
}

// Gossip helpers

func (m *Metrics) RecordGossipAnnounceSent() {
	m.GossipAnnouncesSent.Inc()
}

func (m *Metrics) RecordGossipAnnounceReceived() {
	m.GossipAnnouncesReceived.Inc()
}

func (m *Metrics) RecordGossipPeerDiscovered() {
	m.GossipPeersDiscovered.Inc()
}

// Outbox helpers

func (m *Metrics) SetOutboxQueued(count int) {
	m.OutboxQueued.Set(float64(count))
}

func (m *Metrics) RecordOutboxDelivered() {
	m.OutboxDelivered.Inc()
}

func (m *Metrics) RecordOutboxDiscarded() {
	m.OutboxDiscarded.Inc()
}

func (m *Metrics) RecordOutboxRetry() {
	m.OutboxRetries.Inc()
}

// Routing table helpers

func (m *Metrics) SetRoutingTableSize(count int) {
	m.RoutingTableSize.Set(float64(count))
}

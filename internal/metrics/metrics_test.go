package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.PeersConnected == nil {
		t.Error("PeersConnected metric is nil")
	}
	if m.DHTRecordsHeld == nil {
		t.Error("DHTRecordsHeld metric is nil")
	}
}

func TestRecordPeerConnect(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordPeerConnect("direct")
	m.RecordPeerConnect("direct")
	m.RecordPeerConnect("radio")

	if got := testutil.ToFloat64(m.PeersConnected); got != 3 {
		t.Errorf("PeersConnected = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.PeersTotal); got != 3 {
		t.Errorf("PeersTotal = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.PeerConnections.WithLabelValues("direct")); got != 2 {
		t.Errorf("PeerConnections[direct] = %v, want 2", got)
	}
}

func TestRecordPeerDisconnect(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordPeerConnect("direct")
	m.RecordPeerConnect("radio")
	m.RecordPeerDisconnect("timeout")

	if got := testutil.ToFloat64(m.PeersConnected); got != 1 {
		t.Errorf("PeersConnected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PeerDisconnects.WithLabelValues("timeout")); got != 1 {
		t.Errorf("PeerDisconnects[timeout] = %v, want 1", got)
	}
}

func TestRecordEnvelopes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordEnvelopeSent("direct_message")
	m.RecordEnvelopeReceived("direct_message")
	m.RecordEnvelopeDropped("ttl_expired")
	m.RecordEnvelopeAuthFailure()

	if got := testutil.ToFloat64(m.EnvelopesSent.WithLabelValues("direct_message")); got != 1 {
		t.Errorf("EnvelopesSent[direct_message] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EnvelopeDropped.WithLabelValues("ttl_expired")); got != 1 {
		t.Errorf("EnvelopeDropped[ttl_expired] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EnvelopeAuthFailed); got != 1 {
		t.Errorf("EnvelopeAuthFailed = %v, want 1", got)
	}
}

func TestRecordRelay(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordRelayForward(0.01)
	m.RecordRelayForward(0.02)
	m.RecordRelayBroadcast(0.03)
	m.RecordRelayDropped("loop_detected")

	if got := testutil.ToFloat64(m.RelayForwarded); got != 2 {
		t.Errorf("RelayForwarded = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RelayBroadcast); got != 1 {
		t.Errorf("RelayBroadcast = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RelayDropped.WithLabelValues("loop_detected")); got != 1 {
		t.Errorf("RelayDropped[loop_detected] = %v, want 1", got)
	}
}

func TestRecordDHT(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordDHTStore()
	m.RecordDHTLookup(0.1)
	m.RecordDHTLookup(0.2)
	m.SetDHTRecordsHeld(42)

	if got := testutil.ToFloat64(m.DHTStoreTotal); got != 1 {
		t.Errorf("DHTStoreTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DHTLookupTotal); got != 2 {
		t.Errorf("DHTLookupTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DHTRecordsHeld); got != 42 {
		t.Errorf("DHTRecordsHeld = %v, want 42", got)
	}
}

func TestRecordGossip(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordGossipAnnounceSent()
	m.RecordGossipAnnounceReceived()
	m.RecordGossipAnnounceReceived()
	m.RecordGossipPeerDiscovered()

	if got := testutil.ToFloat64(m.GossipAnnouncesSent); got != 1 {
		t.Errorf("GossipAnnouncesSent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GossipAnnouncesReceived); got != 2 {
		t.Errorf("GossipAnnouncesReceived = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.GossipPeersDiscovered); got != 1 {
		t.Errorf("GossipPeersDiscovered = %v, want 1", got)
	}
}

func TestRecordOutbox(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SetOutboxQueued(5)
	m.RecordOutboxDelivered()
	m.RecordOutboxRetry()
	m.RecordOutboxRetry()
	m.RecordOutboxDiscarded()

	if got := testutil.ToFloat64(m.OutboxQueued); got != 5 {
		t.Errorf("OutboxQueued = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.OutboxDelivered); got != 1 {
		t.Errorf("OutboxDelivered = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OutboxRetries); got != 2 {
		t.Errorf("OutboxRetries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.OutboxDiscarded); got != 1 {
		t.Errorf("OutboxDiscarded = %v, want 1", got)
	}
}

func TestRoutingTableSize(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SetRoutingTableSize(17)

	if got := testutil.ToFloat64(m.RoutingTableSize); got != 17 {
		t.Errorf("RoutingTableSize = %v, want 17", got)
	}
}

func TestDefaultMetrics(t *testing.T) {
	m1 := Default()
	m2 := Default()

	if m1 != m2 {
		t.Error("Default() should return the same instance")
	}
	if m1 == nil {
		t.Error("Default() returned nil")
	}
}

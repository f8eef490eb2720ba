// Package transport defines the capability contract every concrete
// transport (direct, radio, rendezvous) must satisfy (spec §4.4), plus the
// shared RTT-based connection-quality estimator.
//
// Grounded on the teacher's node.go (libp2p host construction, ping-based
// RTT/pingLoop/nearestPeer) generalized from a single hard-wired libp2p
// host into an interface multiple transports implement identically.
package transport

import (
	"context"
	"time"

	"github.com/meshcore/meshnet/internal/identity"
)

// ConnectionState mirrors the peer-record state machine (spec §3).
type ConnectionState int

const (
	StateDiscovered ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PeerInfo is what a transport knows about one remote peer.
type PeerInfo struct {
	PeerID          identity.PeerID
	TransportType   string
	State           ConnectionState
	LastSeen        time.Time
	Quality         int // clamp(100 - rtt_ms/10, 0, 100)
	BytesSent       uint64
	BytesReceived   uint64
}

// Events is the callback set a Transport invokes as things happen
// (spec §4.4).
type Events struct {
	OnMessage          func(from identity.PeerID, data []byte)
	OnPeerConnected    func(info PeerInfo)
	OnPeerDisconnected func(peerID identity.PeerID)
	OnStateChange      func(peerID identity.PeerID, state ConnectionState)
	OnError            func(err error, peerID *identity.PeerID)
}

// Transport is the capability set every concrete transport variant
// implements identically (spec §4.4).
type Transport interface {
	Start(ctx context.Context, events Events) error
	Stop() error
	Connect(ctx context.Context, peerID identity.PeerID, signaling []byte) error
	Disconnect(peerID identity.PeerID) error
	Send(ctx context.Context, peerID identity.PeerID, data []byte) error
	Broadcast(ctx context.Context, data []byte, excluding identity.PeerID) error
	ConnectedPeers() []identity.PeerID
	PeerInfo(peerID identity.PeerID) (PeerInfo, bool)
	ConnectionState(peerID identity.PeerID) ConnectionState
	Name() string
}

// QualityFromRTT implements the spec §4.4 connection-quality estimator:
// clamp(100 - rtt_ms/10, 0, 100).
func QualityFromRTT(rtt time.Duration) int {
	q := 100 - int(rtt.Milliseconds()/10)
	if q < 0 {
		return 0
	}
	if q > 100 {
		return 100
	}
	return q
}

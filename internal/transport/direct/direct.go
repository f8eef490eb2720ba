// Package direct implements the "direct datagram" transport variant of
// spec §4.4 on top of libp2p: NAT-traversing QUIC/TCP/WebRTC connections
// with mDNS local discovery and ping-based RTT.
//
// Grounded on the teacher's node.go (buildListenAddrs, libp2p.New option
// set, mDNS notifee, pingLoop/nearestPeer) and file_transfer.go's stream
// handler pattern, generalized from chat/file-specific streams to a single
// generic byte-message protocol.
package direct

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	lcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/meshcore/meshnet/internal/errs"
	"github.com/meshcore/meshnet/internal/identity"
	"github.com/meshcore/meshnet/internal/transport"
)

// MeshProtocol is the single libp2p stream protocol carrying every
// outbound wire packet, replacing the teacher's separate /chat and /file
// protocols.
const MeshProtocol = "/meshnet/wire/1.0.0"

const mdnsTag = "meshnet-mdns"

func envPort(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
		return p
	}
	return def
}

func buildListenAddrs() []string {
	quicPort := envPort("MESHNET_QUIC_PORT", 4003)
	wrtcPort := envPort("MESHNET_WRTC_PORT", 4004)
	return []string{
		"/ip4/0.0.0.0/tcp/0",
		"/ip6/::/tcp/0",
		fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", quicPort),
		fmt.Sprintf("/ip6/::/udp/%d/quic-v1", quicPort),
		fmt.Sprintf("/ip4/0.0.0.0/udp/%d/webrtc", wrtcPort),
		fmt.Sprintf("/ip6/::/udp/%d/webrtc", wrtcPort),
	}
}

type peerEntry struct {
	libp2pID peer.ID
	state    transport.ConnectionState
	lastSeen time.Time
	sent     uint64
	received uint64
}

// Transport is the libp2p-backed direct transport.
type Transport struct {
	host   host.Host
	events transport.Events

	mu      sync.Mutex
	byMesh  map[identity.PeerID]*peerEntry
	byLibp2p map[peer.ID]identity.PeerID

	rtt *rttTracker

	cancel context.CancelFunc
}

// rttTracker records per-peer round-trip times for the quality estimator.
// Grounded on the teacher's node.go (latMu/rtts map, pingLoop).
type rttTracker struct {
	mu   sync.Mutex
	rtts map[identity.PeerID]time.Duration
}

func newRTTTracker() *rttTracker {
	return &rttTracker{rtts: make(map[identity.PeerID]time.Duration)}
}

func (t *rttTracker) record(peerID identity.PeerID, rtt time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rtts[peerID] = rtt
}

func (t *rttTracker) forget(peerID identity.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rtts, peerID)
}

func (t *rttTracker) quality(peerID identity.PeerID) int {
	t.mu.Lock()
	rtt, ok := t.rtts[peerID]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	return transport.QualityFromRTT(rtt)
}

// New constructs a Transport using signPriv (Ed25519) as the libp2p host
// identity key, so the libp2p peer.ID is a deterministic function of the
// same signing key that derives the mesh peer ID.
func New(signPriv ed25519.PrivateKey) (*Transport, error) {
	libPriv, _, err := lcrypto.KeyPairFromStdKey(&signPriv)
	if err != nil {
		return nil, errs.NewTransport(errs.TransportSendFailed, err)
	}

	h, err := libp2p.New(
		libp2p.Identity(libPriv),
		libp2p.DefaultSecurity,
		libp2p.DefaultMuxers,
		libp2p.DefaultTransports,
		libp2p.ListenAddrStrings(buildListenAddrs()...),
	)
	if err != nil {
		return nil, errs.NewTransport(errs.TransportSendFailed, err)
	}

	t := &Transport{
		host:     h,
		byMesh:   make(map[identity.PeerID]*peerEntry),
		byLibp2p: make(map[peer.ID]identity.PeerID),
		rtt:      newRTTTracker(),
	}
	return t, nil
}

func (t *Transport) Name() string { return "direct" }

type mdnsNotifee struct{ t *Transport }

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	_ = n.t.host.Connect(context.Background(), info)
}

// Start brings the libp2p host's stream handler, mDNS discovery, and ping
// loop online.
func (t *Transport) Start(ctx context.Context, events transport.Events) error {
	t.events = events
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.host.SetStreamHandler(MeshProtocol, t.handleStream)

	if _, err := mdns.NewMdnsService(t.host, mdnsTag, &mdnsNotifee{t: t}); err != nil {
		return errs.NewTransport(errs.TransportSendFailed, err)
	}

	t.host.Network().Notify(&netNotifiee{t: t})

	go t.pingLoop(ctx)
	return nil
}

func (t *Transport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	return t.host.Close()
}

func (t *Transport) handleStream(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()
	meshID, ok := t.meshIDFor(remote)
	if !ok {
		return
	}
	data, err := io.ReadAll(s)
	if err != nil {
		return
	}
	t.mu.Lock()
	if e, ok := t.byMesh[meshID]; ok {
		e.received += uint64(len(data))
	}
	t.mu.Unlock()
	if t.events.OnMessage != nil {
		t.events.OnMessage(meshID, data)
	}
}

func (t *Transport) meshIDFor(lid peer.ID) (identity.PeerID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byLibp2p[lid]
	return id, ok
}

// registerPeer associates a mesh peer ID with its libp2p peer.ID the first
// time they are linked. Only Connect calls it, with the peer.ID taken from
// its signaling payload; mDNS-found and inbound peers are not registered.
func (t *Transport) registerPeer(meshID identity.PeerID, lid peer.ID) *peerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byMesh[meshID]
	if !ok {
		e = &peerEntry{libp2pID: lid}
		t.byMesh[meshID] = e
	}
	t.byLibp2p[lid] = meshID
	return e
}

// Connect dials a peer. signaling carries the libp2p multiaddr-encoded
// peer.AddrInfo (produced out-of-band, e.g. via rendezvous or gossip).
func (t *Transport) Connect(ctx context.Context, peerID identity.PeerID, signaling []byte) error {
	addrInfo, err := peer.AddrInfoFromString(string(signaling))
	if err != nil {
		return errs.NewTransport(errs.TransportSendFailed, err)
	}
	e := t.registerPeer(peerID, addrInfo.ID)
	e.state = transport.StateConnecting
	t.notifyState(peerID, transport.StateConnecting)

	if err := t.host.Connect(ctx, *addrInfo); err != nil {
		e.state = transport.StateDisconnected
		t.notifyState(peerID, transport.StateDisconnected)
		return errs.NewTransport(errs.TransportSendFailed, err)
	}
	e.state = transport.StateConnected
	e.lastSeen = time.Now()
	t.notifyState(peerID, transport.StateConnected)
	if t.events.OnPeerConnected != nil {
		info, _ := t.PeerInfo(peerID)
		t.events.OnPeerConnected(info)
	}
	return nil
}

func (t *Transport) Disconnect(peerID identity.PeerID) error {
	t.mu.Lock()
	e, ok := t.byMesh[peerID]
	t.mu.Unlock()
	if !ok {
		return errs.NewTransport(errs.TransportNotConnected, nil)
	}
	_ = t.host.Network().ClosePeer(e.libp2pID)
	e.state = transport.StateDisconnected
	t.rtt.forget(peerID)
	t.notifyState(peerID, transport.StateDisconnected)
	if t.events.OnPeerDisconnected != nil {
		t.events.OnPeerDisconnected(peerID)
	}
	return nil
}

func (t *Transport) Send(ctx context.Context, peerID identity.PeerID, data []byte) error {
	t.mu.Lock()
	e, ok := t.byMesh[peerID]
	t.mu.Unlock()
	if !ok || e.state != transport.StateConnected {
		return errs.NewTransport(errs.TransportNotConnected, nil)
	}

	s, err := t.host.NewStream(ctx, e.libp2pID, MeshProtocol)
	if err != nil {
		return errs.NewTransport(errs.TransportSendFailed, err)
	}
	defer s.Close()
	if _, err := s.Write(data); err != nil {
		return errs.NewTransport(errs.TransportSendFailed, err)
	}
	t.mu.Lock()
	e.sent += uint64(len(data))
	t.mu.Unlock()
	return nil
}

func (t *Transport) Broadcast(ctx context.Context, data []byte, excluding identity.PeerID) error {
	for _, peerID := range t.ConnectedPeers() {
		if peerID == excluding {
			continue
		}
		_ = t.Send(ctx, peerID, data)
	}
	return nil
}

func (t *Transport) ConnectedPeers() []identity.PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]identity.PeerID, 0, len(t.byMesh))
	for id, e := range t.byMesh {
		if e.state == transport.StateConnected {
			out = append(out, id)
		}
	}
	return out
}

func (t *Transport) PeerInfo(peerID identity.PeerID) (transport.PeerInfo, bool) {
	t.mu.Lock()
	e, ok := t.byMesh[peerID]
	t.mu.Unlock()
	if !ok {
		return transport.PeerInfo{}, false
	}
	return transport.PeerInfo{
		PeerID:        peerID,
		TransportType: t.Name(),
		State:         e.state,
		LastSeen:      e.lastSeen,
		Quality:       t.rtt.quality(peerID),
		BytesSent:     e.sent,
		BytesReceived: e.received,
	}, true
}

func (t *Transport) ConnectionState(peerID identity.PeerID) transport.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byMesh[peerID]
	if !ok {
		return transport.StateDiscovered
	}
	return e.state
}

func (t *Transport) notifyState(peerID identity.PeerID, state transport.ConnectionState) {
	if t.events.OnStateChange != nil {
		t.events.OnStateChange(peerID, state)
	}
}

func (t *Transport) pingLoop(ctx context.Context) {
	svc := ping.NewPingService(t.host)
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			peers := make([]peer.ID, 0, len(t.byLibp2p))
			for lid := range t.byLibp2p {
				peers = append(peers, lid)
			}
			t.mu.Unlock()
			for _, lid := range peers {
				t.pingOnce(ctx, svc, lid)
			}
		}
	}
}

func (t *Transport) pingOnce(ctx context.Context, svc *ping.PingService, lid peer.ID) {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ch := svc.Ping(pctx, lid)
	select {
	case res := <-ch:
		if res.Error == nil {
			if meshID, ok := t.meshIDFor(lid); ok {
				t.rtt.record(meshID, res.RTT)
			}
		}
	case <-pctx.Done():
	}
}

// netNotifiee reacts to libp2p connection events. Only Disconnected acts:
// it disconnects the mesh peer registered for that libp2p peer.ID.
// Connected does nothing, so inbound connections (not established via
// Connect) are not added to byLibp2p, and streams from them are dropped.
type netNotifiee struct{ t *Transport }

func (nn *netNotifiee) Connected(_ network.Network, conn network.Conn) {
	_ = conn
}
func (nn *netNotifiee) Disconnected(_ network.Network, conn network.Conn) {
	nn.t.mu.Lock()
	meshID, ok := nn.t.byLibp2p[conn.RemotePeer()]
	nn.t.mu.Unlock()
	if ok {
		nn.t.Disconnect(meshID)
	}
}
func (nn *netNotifiee) Listen(network.Network, ma.Multiaddr)      {}
func (nn *netNotifiee) ListenClose(network.Network, ma.Multiaddr) {}

package gossip

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/meshcore/meshnet/internal/identity"
)

// wireAnnouncement is the JSON payload carried inside a TypePeerDiscovery
// packet (spec §4.7: "{peerId, publicKey, capabilities, lastSeen}").
type wireAnnouncement struct {
	PeerID       string    `json:"peerId"`
	PublicKey    []byte    `json:"publicKey"`
	Capabilities []string  `json:"capabilities"`
	LastSeen     time.Time `json:"lastSeen"`
}

// EncodeAnnouncement serializes a for transmission as a TypePeerDiscovery
// packet payload.
func EncodeAnnouncement(a Announcement) ([]byte, error) {
	return json.Marshal(wireAnnouncement{
		PeerID:       string(a.PeerID),
		PublicKey:    a.PublicKey,
		Capabilities: a.Capabilities,
		LastSeen:     a.LastSeen,
	})
}

// DecodeAnnouncement parses a TypePeerDiscovery packet payload.
func DecodeAnnouncement(raw []byte) (Announcement, error) {
	var w wireAnnouncement
	if err := json.Unmarshal(raw, &w); err != nil {
		return Announcement{}, err
	}
	return Announcement{
		PeerID:       identity.PeerID(w.PeerID),
		PublicKey:    w.PublicKey,
		Capabilities: w.Capabilities,
		LastSeen:     w.LastSeen,
	}, nil
}

// Broadcaster is satisfied by any object able to send bytes to every
// reachable peer — i.e. a transport.Transport. TransportProvider uses it
// for its periodic announce loop. It is
// grounded on the teacher's discover.go ticker-driven periodic broadcast
// loop, generalized from a single hard-coded transport to any Broadcast
// implementation.
type Broadcaster interface {
	Broadcast(ctx context.Context, data []byte, excluding identity.PeerID) error
}

// TransportProvider periodically announces the local peer over a
// Broadcaster and forwards inbound announcements handed to it via
// HandleInbound. It does not discover peers on its own initiative. The
// mesh facade does not call HandleInbound: it decodes inbound
// TypePeerDiscovery packets and merges them itself.
type TransportProvider struct {
	name     string
	self     func() Announcement
	send     Broadcaster
	interval time.Duration

	mu          sync.Mutex
	onPeerFound func(Announcement)
	cancel      context.CancelFunc
}

// NewTransportProvider constructs a provider that announces self()'s
// current snapshot over send every interval (default
// DefaultAnnounceInterval if interval <= 0).
func NewTransportProvider(name string, self func() Announcement, send Broadcaster, interval time.Duration) *TransportProvider {
	if interval <= 0 {
		interval = DefaultAnnounceInterval
	}
	return &TransportProvider{name: name, self: self, send: send, interval: interval}
}

func (p *TransportProvider) Name() string { return p.name }

func (p *TransportProvider) Start(ctx context.Context, onPeerFound func(Announcement)) error {
	p.mu.Lock()
	p.onPeerFound = onPeerFound
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	go p.announceLoop(ctx)
	return nil
}

func (p *TransportProvider) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (p *TransportProvider) announceLoop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.announceOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.announceOnce(ctx)
		}
	}
}

func (p *TransportProvider) announceOnce(ctx context.Context) {
	payload, err := EncodeAnnouncement(p.self())
	if err != nil {
		return
	}
	_ = p.send.Broadcast(ctx, payload, "")
}

// HandleInbound decodes a received TypePeerDiscovery payload and forwards
// it to the registry's merge callback.
func (p *TransportProvider) HandleInbound(raw []byte) {
	a, err := DecodeAnnouncement(raw)
	if err != nil {
		return
	}
	p.mu.Lock()
	cb := p.onPeerFound
	p.mu.Unlock()
	if cb != nil {
		cb(a)
	}
}

// BootstrapProvider emits a fixed, operator-configured set of known peers
// once at Start, letting a node with no prior routing-table state rejoin
// the mesh (spec §4.7's "bootstrap-list" source).
//
// Grounded on the teacher's discover.go bootstrap-peers config list.
type BootstrapProvider struct {
	peers []Announcement
}

// NewBootstrapProvider constructs a provider over a static peer list.
func NewBootstrapProvider(peers []Announcement) *BootstrapProvider {
	return &BootstrapProvider{peers: peers}
}

func (p *BootstrapProvider) Name() string { return "bootstrap" }

func (p *BootstrapProvider) Start(ctx context.Context, onPeerFound func(Announcement)) error {
	for _, a := range p.peers {
		onPeerFound(a)
	}
	return nil
}

func (p *BootstrapProvider) Stop() error { return nil }

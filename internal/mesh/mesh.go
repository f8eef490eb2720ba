// Package mesh implements the MeshNetwork facade (spec §4.10): it wires
// identity, transports, the routing table, the DHT, discovery, relay,
// and the outbox behind a single-dispatcher API surface. A host still
// constructs the config, identity, transports, adapters, logger and
// metrics it passes to New from their own packages.
//
// Grounded on the teacher's main.go (construction/wiring order: identity
// → network → discovery → servers), node.go (the Node struct's fields
// generalized into MeshNetwork's own state), and server-control.go /
// server-public.go (the Server struct's callback-registration shape,
// generalized from HTTP handlers into the onXxx callback set of spec §6).
package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meshcore/meshnet/internal/adapter"
	"github.com/meshcore/meshnet/internal/config"
	"github.com/meshcore/meshnet/internal/dht"
	"github.com/meshcore/meshnet/internal/gossip"
	"github.com/meshcore/meshnet/internal/identity"
	"github.com/meshcore/meshnet/internal/logging"
	"github.com/meshcore/meshnet/internal/metrics"
	"github.com/meshcore/meshnet/internal/outbox"
	"github.com/meshcore/meshnet/internal/relay"
	"github.com/meshcore/meshnet/internal/routing"
	"github.com/meshcore/meshnet/internal/transport"
	"github.com/meshcore/meshnet/internal/wire"
)

// Callbacks is the event set a host application receives (spec §6).
type Callbacks struct {
	OnMessageDelivered func(sender identity.PeerID, plaintext []byte, timestamp time.Time)
	OnPeerConnected    func(info transport.PeerInfo)
	OnPeerDisconnected func(peerID identity.PeerID)
	OnDeliveryFailed   func(id string, recipientID identity.PeerID, reason string)
	OnDiscoveryUpdate  func(summary string)
	OnError            func(err error, context string)
	OnReady            func()
}

func (c Callbacks) fire(f func()) {
	if f != nil {
		f()
	}
}

// introduction is the payload of a TypePeerIntroduction packet: the full
// public-key material a recipient needs to seal an envelope back (spec
// §4.2/§6), as opposed to the lighter-weight gossip.Announcement which
// carries only the signing key for routing-table admission.
type introduction struct {
	SignPub []byte   `json:"sign_pub"`
	ECDHPub [32]byte `json:"ecdh_pub"`
}

// MeshNetwork is the facade of spec §4.10.
type MeshNetwork struct {
	id  *identity.Identity
	cfg *config.Config
	log *slog.Logger
	met *metrics.Metrics
	cb  Callbacks

	selfKey routing.NodeKey

	transports map[string]transport.Transport

	table  *routing.Table
	dht    *dht.DHT
	gossip *gossip.Registry
	relay  *relay.Relay
	outbox *outbox.Outbox
	rpc    *facadeRPC

	seen    *wire.HashLRU
	limiter *wire.RateLimiter
	reasm   *wire.Reassembler

	mu          sync.RWMutex
	directory   map[identity.PeerID]identity.PublicInfo
	transportOf map[identity.PeerID]string

	dispatch chan func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a MeshNetwork. Construction wires every C1-C9 component
// and re-hydrates the outbox from kv, but starts no transport or network
// I/O; call Start to bring transports and maintenance loops up.
func New(cfg *config.Config, id *identity.Identity, transports []transport.Transport, kv adapter.KeyValueAdapter, clock adapter.Clock, log *slog.Logger, met *metrics.Metrics, cb Callbacks) (*MeshNetwork, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	if met == nil {
		met = metrics.NewMetricsWithRegistry(nil)
	}

	var self routing.NodeKey
	copy(self[:], id.SignKeys.Public)

	m := &MeshNetwork{
		id:          id,
		cfg:         cfg,
		log:         log,
		met:         met,
		cb:          cb,
		selfKey:     self,
		transports:  make(map[string]transport.Transport),
		directory:   make(map[identity.PeerID]identity.PublicInfo),
		transportOf: make(map[identity.PeerID]string),
		seen:        wire.NewHashLRU(cfg.Relay.SeenCacheSize, cfg.Relay.SeenCacheRetain),
		limiter:     wire.NewRateLimiter(),
		reasm:       wire.NewReassembler(),
		dispatch:    make(chan func(), 256),
	}
	for _, t := range transports {
		m.transports[t.Name()] = t
	}

	m.table = routing.NewTable(self, m.livenessProbe)
	m.relay = relay.New(self, m.table)

	m.rpc = newFacadeRPC(m)
	m.dht = dht.New(self, m.table, m.rpc)

	m.gossip = gossip.NewRegistry(m.onAnnouncement)

	ob, err := outbox.New(kv, clock, m.onOutboxDeliveryFailed)
	if err != nil {
		return nil, fmt.Errorf("construct outbox: %w", err)
	}
	m.outbox = ob

	return m, nil
}

// Start brings every transport up, registers discovery providers, and
// schedules gossip/DHT/outbox maintenance (spec §4.10).
func (m *MeshNetwork) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.runDispatcher()

	for name, t := range m.transports {
		events := transport.Events{
			OnMessage:          m.onTransportMessage,
			OnPeerConnected:    m.onPeerConnected,
			OnPeerDisconnected: m.onPeerDisconnected,
			OnStateChange:      func(identity.PeerID, transport.ConnectionState) {},
			OnError:            m.onTransportError,
		}
		if err := t.Start(m.ctx, events); err != nil {
			return fmt.Errorf("start transport %s: %w", name, err)
		}

		bcast := t
		selfAnn := func() gossip.Announcement {
			return gossip.Announcement{
				PeerID:    m.id.ID,
				PublicKey: append([]byte{}, m.id.SignKeys.Public...),
				LastSeen:  time.Now(),
			}
		}
		m.gossip.Register(gossip.NewTransportProvider(name, selfAnn, bcast, m.cfg.Gossip.AnnounceInterval))
	}

	if len(m.cfg.Gossip.BootstrapPeers) > 0 {
		var boot []gossip.Announcement
		for _, p := range m.cfg.Gossip.BootstrapPeers {
			boot = append(boot, gossip.Announcement{PeerID: identity.NormalizePeerID(p), LastSeen: time.Now()})
		}
		m.gossip.Register(gossip.NewBootstrapProvider(boot))
	}

	if err := m.gossip.Start(m.ctx); err != nil {
		return fmt.Errorf("start gossip: %w", err)
	}

	m.wg.Add(2)
	go m.dhtMaintenanceLoop()
	go m.outboxFlushLoop()

	m.log.Info("mesh network started", logging.KeyPeerID, string(m.id.ID))
	m.cb.fire(m.cb.OnReady)
	return nil
}

// Shutdown flushes the outbox, stops transports and discovery, and wipes
// key material (spec §4.10, §5).
func (m *MeshNetwork) Shutdown() error {
	if m.outbox != nil {
		m.outbox.FlushDue(m.outboxSend)
	}

	if m.cancel != nil {
		m.cancel()
	}

	var firstErr error
	if err := m.gossip.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	for name, t := range m.transports {
		if err := t.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop transport %s: %w", name, err)
		}
	}

	m.wg.Wait()

	identity.Wipe(m.id)
	m.log.Info("mesh network shut down")
	return firstErr
}

// do submits f to the single dispatcher goroutine and blocks for its
// result, so every state mutation this facade makes is serialized (spec
// §5: "single logical dispatcher per MeshNetwork instance").
func (m *MeshNetwork) do(f func() error) error {
	done := make(chan error, 1)
	task := func() { done <- f() }
	select {
	case m.dispatch <- task:
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
}

func (m *MeshNetwork) runDispatcher() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case task := <-m.dispatch:
			m.safeRun(task)
		}
	}
}

// safeRun recovers a panic in any dispatched task and surfaces it as an
// onError event instead of crashing the process (spec §4.10).
func (m *MeshNetwork) safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			m.cb.fire(func() {
				if m.cb.OnError != nil {
					m.cb.OnError(fmt.Errorf("recovered panic: %v", r), "dispatcher")
				}
			})
		}
	}()
	task()
}

func (m *MeshNetwork) livenessProbe(c routing.Contact) bool {
	peerID := peerIDForKey(c.Key)
	m.mu.RLock()
	tname, ok := m.transportOf[peerID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	t, ok := m.transports[tname]
	if !ok {
		return false
	}
	return t.ConnectionState(peerID) == transport.StateConnected
}

func peerIDForKey(key routing.NodeKey) identity.PeerID {
	fp := identity.Fingerprint(key[:])
	return identity.PeerID(fp[:16])
}

package mesh

import (
	"context"
	"encoding/json"
	"time"

	"github.com/meshcore/meshnet/internal/errs"
	"github.com/meshcore/meshnet/internal/gossip"
	"github.com/meshcore/meshnet/internal/identity"
	"github.com/meshcore/meshnet/internal/logging"
	"github.com/meshcore/meshnet/internal/relay"
	"github.com/meshcore/meshnet/internal/routing"
	"github.com/meshcore/meshnet/internal/transport"
	"github.com/meshcore/meshnet/internal/wire"
)

// SendMessage encrypts payload for recipientID, frames it, and attempts
// direct delivery; on failure it tries a single relay hop, then falls
// back to the store-and-forward outbox (spec §4.10).
func (m *MeshNetwork) SendMessage(recipientID identity.PeerID, payload []byte) error {
	return m.do(func() error { return m.sendMessageLocked(recipientID, payload) })
}

func (m *MeshNetwork) sendMessageLocked(recipientID identity.PeerID, payload []byte) error {
	m.mu.RLock()
	pub, known := m.directory[recipientID]
	tname, connected := m.transportOf[recipientID]
	m.mu.RUnlock()

	if !known {
		return errs.NewTransport(errs.TransportNotConnected, nil)
	}

	env, err := identity.Seal(m.id, pub, payload)
	if err != nil {
		return err
	}
	envBytes := identity.Encode(env)

	raw, err := wire.Encode(wire.TypeText, m.cfg.Relay.DefaultTTL, m.selfKey, m.id.SignKeys.Private, envBytes)
	if err != nil {
		return err
	}
	msgHash := wire.MessageHash(raw)
	m.seen.SeenOrAdd(msgHash)

	if connected {
		if t, ok := m.transports[tname]; ok {
			if err := t.Send(m.ctx, recipientID, raw); err == nil {
				m.met.RecordEnvelopeSent("text")
				return nil
			}
		}
	}

	var destKey routing.NodeKey
	copy(destKey[:], pub.SignPub)
	if decision, err := m.relay.Route(msgHash, destKey, m.cfg.Relay.DefaultTTL, []routing.NodeKey{m.selfKey}); err == nil {
		switch decision.Action {
		case relay.ActionForward:
			nextPeerID := peerIDForKey(decision.NextHop.Key)
			m.mu.RLock()
			nextT, ok := m.transportOf[nextPeerID]
			m.mu.RUnlock()
			if ok {
				if t, ok := m.transports[nextT]; ok {
					if err := t.Send(m.ctx, nextPeerID, raw); err == nil {
						m.met.RecordRelayForward(0)
						return nil
					}
				}
			}
		case relay.ActionBroadcast:
			for _, t := range m.transports {
				_ = t.Broadcast(m.ctx, raw, recipientID)
			}
			m.met.RecordRelayBroadcast(0)
			return nil
		}
	}

	id, err := m.outbox.Enqueue(recipientID, raw)
	if err != nil {
		return err
	}
	m.met.SetOutboxQueued(m.outbox.Len())
	m.log.Debug("message queued for later delivery", logging.KeyPeerID, string(recipientID), "outbox_id", id)
	return nil
}

// HandleIncomingPacket decodes, validates, and either delivers or
// forwards a raw wire packet (spec §4.10).
func (m *MeshNetwork) HandleIncomingPacket(fromPeerID identity.PeerID, raw []byte) error {
	return m.do(func() error { return m.handleIncomingLocked(fromPeerID, raw) })
}

func (m *MeshNetwork) handleIncomingLocked(fromPeerID identity.PeerID, raw []byte) error {
	pkt, err := wire.Decode(raw)
	if err != nil {
		m.met.RecordEnvelopeDropped("malformed")
		return nil
	}
	if err := wire.Validate(pkt); err != nil {
		m.met.RecordEnvelopeDropped("validation_failed")
		m.log.Debug("dropped invalid packet", logging.KeyError, err.Error())
		return nil
	}

	msgHash := wire.MessageHash(raw)
	if m.seen.SeenOrAdd(msgHash) {
		m.met.RecordEnvelopeDropped("duplicate")
		return nil
	}

	if !wire.VerifySignature(pkt) {
		m.met.RecordEnvelopeAuthFailure()
		return nil
	}

	if !m.limiter.Allow(string(fromPeerID)) {
		m.met.RecordEnvelopeDropped("rate_limited")
		return nil
	}

	var senderKey routing.NodeKey
	copy(senderKey[:], pkt.Header.SenderID[:])
	m.table.Insert(routing.Contact{Key: senderKey, Addr: string(fromPeerID), LastSeen: time.Now()})
	m.met.SetRoutingTableSize(m.table.Len())

	switch pkt.Header.Type {
	case wire.TypePeerIntroduction:
		return m.handleIntroduction(fromPeerID, pkt)
	case wire.TypePeerDiscovery:
		return m.handleDiscoveryPacket(pkt)
	case wire.TypeDHTRequest:
		return m.handleDHTRequest(fromPeerID, pkt)
	case wire.TypeControlPing, wire.TypeControlPong, wire.TypeControlAck:
		return nil
	default:
		return m.handleEnvelopedPacket(fromPeerID, raw, pkt, msgHash)
	}
}

func (m *MeshNetwork) handleEnvelopedPacket(fromPeerID identity.PeerID, raw []byte, pkt *wire.Packet, msgHash [32]byte) error {
	env, err := identity.DecodeEnvelope(pkt.Payload, pkt.Header.Timestamp)
	if err != nil {
		m.met.RecordEnvelopeDropped("malformed_envelope")
		return nil
	}

	plaintext, err := identity.Open(m.id, pkt.Header.SenderID[:], env)
	if err == nil {
		senderPeerID := peerIDForKey(pkt.Header.SenderID)
		m.met.RecordEnvelopeReceived("text")
		m.cb.fire(func() {
			if m.cb.OnMessageDelivered != nil {
				m.cb.OnMessageDelivered(senderPeerID, plaintext, time.UnixMilli(pkt.Header.Timestamp))
			}
		})
		return nil
	}

	// Not addressed to us: a crypto failure on an inbound envelope is the
	// expected outcome whenever this node is a pass-through relay rather
	// than the final recipient, since the envelope format carries no
	// signed relay-path to tell the two cases apart. Rebroadcast the
	// packet verbatim rather than re-signing it — TTL sits inside the
	// signed region, so an intermediate hop cannot decrement it without
	// invalidating the origin's own signature.
	m.log.Debug("envelope not addressed to this node, relaying", logging.KeyMessageHash, fmt32(msgHash))

	if pkt.Header.TTL == 0 {
		m.met.RecordRelayDropped("ttl_expired")
		return nil
	}
	for _, t := range m.transports {
		_ = t.Broadcast(m.ctx, raw, fromPeerID)
	}
	m.met.RecordRelayBroadcast(0)
	return nil
}

func (m *MeshNetwork) handleIntroduction(fromPeerID identity.PeerID, pkt *wire.Packet) error {
	var intro introduction
	if err := json.Unmarshal(pkt.Payload, &intro); err != nil {
		m.met.RecordEnvelopeDropped("malformed_introduction")
		return nil
	}
	senderPeerID := peerIDForKey(pkt.Header.SenderID)
	pub := identity.PublicInfo{ID: senderPeerID, SignPub: intro.SignPub, ECDHPub: intro.ECDHPub}

	// Resolve by the cryptographic sender key the packet itself carries,
	// not the transport's own fromPeerID: radio hands up a synthetic
	// address-based placeholder until the header is decoded, so only
	// senderPeerID is guaranteed to match the key a transport registered
	// the peer under via Connect.
	m.mu.Lock()
	m.directory[senderPeerID] = pub
	m.transportOf[senderPeerID] = transportNameForPeer(senderPeerID, m.transports)
	m.mu.Unlock()
	return nil
}

func (m *MeshNetwork) handleDiscoveryPacket(pkt *wire.Packet) error {
	ann, err := gossip.DecodeAnnouncement(pkt.Payload)
	if err != nil {
		m.met.RecordEnvelopeDropped("malformed_announcement")
		return nil
	}
	m.onAnnouncement(ann)
	return nil
}

func (m *MeshNetwork) onAnnouncement(a gossip.Announcement) {
	m.met.RecordGossipAnnounceReceived()
	if len(a.PublicKey) != 32 {
		return
	}
	var key routing.NodeKey
	copy(key[:], a.PublicKey)
	m.table.Insert(routing.Contact{Key: key, Addr: string(a.PeerID), LastSeen: a.LastSeen})
	m.met.SetRoutingTableSize(m.table.Len())
	m.met.RecordGossipPeerDiscovered()
	m.cb.fire(func() {
		if m.cb.OnDiscoveryUpdate != nil {
			m.cb.OnDiscoveryUpdate("peer " + string(a.PeerID) + " discovered")
		}
	})
}

// ConnectToPeer locates peerID via the known directory or routing table,
// then instructs a transport to dial it (spec §4.10).
func (m *MeshNetwork) ConnectToPeer(ctx context.Context, peerID identity.PeerID) error {
	return m.do(func() error { return m.connectToPeerLocked(ctx, peerID) })
}

func (m *MeshNetwork) connectToPeerLocked(ctx context.Context, peerID identity.PeerID) error {
	m.mu.RLock()
	pub, known := m.directory[peerID]
	m.mu.RUnlock()

	var key routing.NodeKey
	if known {
		copy(key[:], pub.SignPub)
	} else {
		found := false
		for _, c := range m.table.Closest(m.selfKey, routing.K) {
			if peerIDForKey(c.Key) == peerID {
				key = c.Key
				found = true
				break
			}
		}
		if !found {
			return errs.NewDht(errs.DhtNotFound, nil)
		}
	}

	contact, ok := m.lookupContact(key)
	if !ok {
		return errs.NewDht(errs.DhtNotFound, nil)
	}

	var lastErr error
	for name, t := range m.transports {
		if err := t.Connect(ctx, peerID, []byte(contact.Addr)); err == nil {
			m.mu.Lock()
			m.transportOf[peerID] = name
			m.mu.Unlock()
			m.sendIntroduction(ctx, peerID, name)
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = errs.NewTransport(errs.TransportNotConnected, nil)
	}
	return lastErr
}

func (m *MeshNetwork) sendIntroduction(ctx context.Context, peerID identity.PeerID, transportName string) {
	intro := introduction{SignPub: append([]byte{}, m.id.SignKeys.Public...), ECDHPub: m.id.ECDHKeys.Public}
	payload, err := json.Marshal(intro)
	if err != nil {
		return
	}
	raw, err := wire.Encode(wire.TypePeerIntroduction, m.cfg.Relay.DefaultTTL, m.selfKey, m.id.SignKeys.Private, payload)
	if err != nil {
		return
	}
	if t, ok := m.transports[transportName]; ok {
		_ = t.Send(ctx, peerID, raw)
	}
}

func (m *MeshNetwork) lookupContact(key routing.NodeKey) (routing.Contact, bool) {
	for _, c := range m.table.Closest(key, 1) {
		if c.Key == key {
			return c, true
		}
	}
	return routing.Contact{}, false
}

// JoinPublicRoom and SendPublicRoomMessage are thin wrappers over the
// rendezvous transport (spec §4.10) — the room URL is treated as an
// opaque peer identity on the "rendezvous" transport.
func (m *MeshNetwork) JoinPublicRoom(ctx context.Context, url string) error {
	return m.do(func() error {
		t, ok := m.transports["rendezvous"]
		if !ok {
			return errs.NewTransport(errs.TransportNotConnected, nil)
		}
		return t.Connect(ctx, identity.NormalizePeerID(url), nil)
	})
}

func (m *MeshNetwork) SendPublicRoomMessage(ctx context.Context, url string, text string) error {
	return m.do(func() error {
		t, ok := m.transports["rendezvous"]
		if !ok {
			return errs.NewTransport(errs.TransportNotConnected, nil)
		}
		raw, err := wire.Encode(wire.TypeText, m.cfg.Relay.DefaultTTL, m.selfKey, m.id.SignKeys.Private, []byte(text))
		if err != nil {
			return err
		}
		return t.Broadcast(ctx, raw, identity.NormalizePeerID(url))
	})
}

// onTransportMessage is the Events.OnMessage callback every transport
// invokes. DHT responses are handed directly to the waiting RPC caller
// rather than through the single dispatcher: a dispatched DHT lookup
// blocks on exactly this response arriving, and the dispatcher only has
// one worker, so routing a response through it would deadlock against
// the very call awaiting it.
func (m *MeshNetwork) onTransportMessage(from identity.PeerID, data []byte) {
	if pkt, err := wire.Decode(data); err == nil && pkt.Header.Type == wire.TypeDHTResponse {
		if wire.VerifySignature(pkt) {
			m.rpc.deliver(pkt.Payload)
		}
		return
	}
	_ = m.do(func() error { return m.handleIncomingLocked(from, data) })
}

func (m *MeshNetwork) onPeerConnected(info transport.PeerInfo) {
	_ = m.do(func() error {
		m.mu.Lock()
		m.transportOf[info.PeerID] = info.TransportType
		m.mu.Unlock()
		m.met.RecordPeerConnect(info.TransportType)
		m.sendIntroduction(m.ctx, info.PeerID, info.TransportType)
		m.outbox.FlushPeer(info.PeerID, m.outboxSend)
		m.met.SetOutboxQueued(m.outbox.Len())
		m.cb.fire(func() {
			if m.cb.OnPeerConnected != nil {
				m.cb.OnPeerConnected(info)
			}
		})
		return nil
	})
}

func (m *MeshNetwork) onPeerDisconnected(peerID identity.PeerID) {
	_ = m.do(func() error {
		m.mu.Lock()
		delete(m.transportOf, peerID)
		m.mu.Unlock()
		m.limiter.Forget(string(peerID))
		m.met.RecordPeerDisconnect("disconnected")
		m.cb.fire(func() {
			if m.cb.OnPeerDisconnected != nil {
				m.cb.OnPeerDisconnected(peerID)
			}
		})
		return nil
	})
}

func (m *MeshNetwork) onTransportError(err error, peerID *identity.PeerID) {
	ctx := "transport"
	if peerID != nil {
		ctx = "transport:" + string(*peerID)
	}
	m.cb.fire(func() {
		if m.cb.OnError != nil {
			m.cb.OnError(err, ctx)
		}
	})
}

func (m *MeshNetwork) onOutboxDeliveryFailed(id string, peerID identity.PeerID, reason string) {
	m.met.RecordOutboxDiscarded()
	m.cb.fire(func() {
		if m.cb.OnDeliveryFailed != nil {
			m.cb.OnDeliveryFailed(id, peerID, reason)
		}
	})
}

func (m *MeshNetwork) outboxSend(peerID identity.PeerID, payload []byte) error {
	m.mu.RLock()
	tname, ok := m.transportOf[peerID]
	m.mu.RUnlock()
	if !ok {
		return errs.NewTransport(errs.TransportNotConnected, nil)
	}
	t, ok := m.transports[tname]
	if !ok {
		return errs.NewTransport(errs.TransportNotConnected, nil)
	}
	if err := t.Send(m.ctx, peerID, payload); err != nil {
		return err
	}
	m.met.RecordOutboxDelivered()
	return nil
}

func (m *MeshNetwork) dhtMaintenanceLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			_ = m.do(func() error {
				m.dht.SweepExpired()
				return nil
			})
		}
	}
}

func (m *MeshNetwork) outboxFlushLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			_ = m.do(func() error {
				m.outbox.FlushDue(m.outboxSend)
				m.met.SetOutboxQueued(m.outbox.Len())
				return nil
			})
		}
	}
}

func transportNameForPeer(peerID identity.PeerID, transports map[string]transport.Transport) string {
	for name, t := range transports {
		if t.ConnectionState(peerID) == transport.StateConnected {
			return name
		}
	}
	return ""
}

func fmt32(h [32]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 0; i < 4; i++ {
		out[i*2] = hextable[h[i]>>4]
		out[i*2+1] = hextable[h[i]&0x0f]
	}
	return string(out)
}

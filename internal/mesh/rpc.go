package mesh

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshcore/meshnet/internal/dht"
	"github.com/meshcore/meshnet/internal/errs"
	"github.com/meshcore/meshnet/internal/identity"
	"github.com/meshcore/meshnet/internal/routing"
	"github.com/meshcore/meshnet/internal/wire"
)

// dhtKind distinguishes the three DHT RPCs carried over TypeDHTRequest.
type dhtKind string

const (
	dhtFindNode  dhtKind = "find_node"
	dhtFindValue dhtKind = "find_value"
	dhtStore     dhtKind = "store"
)

// dhtWireContact and dhtWireRecord mirror routing.Contact/dht.Record in a
// JSON-friendly shape (NodeKey/[32]byte arrays marshal fine, but a named
// struct keeps the wire payload independent of internal field tags).
type dhtWireContact struct {
	Key      [32]byte  `json:"key"`
	Addr     string    `json:"addr"`
	LastSeen time.Time `json:"last_seen"`
}

type dhtWireRecord struct {
	Key         [32]byte  `json:"key"`
	Value       []byte    `json:"value"`
	StoredAt    time.Time `json:"stored_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	PublisherID [32]byte  `json:"publisher_id"`
}

type dhtRequest struct {
	ReqID  string         `json:"req_id"`
	Kind   dhtKind        `json:"kind"`
	Target [32]byte       `json:"target,omitempty"`
	Key    [32]byte       `json:"key,omitempty"`
	Record *dhtWireRecord `json:"record,omitempty"`
}

type dhtResponse struct {
	ReqID    string           `json:"req_id"`
	Found    bool             `json:"found"`
	Record   *dhtWireRecord   `json:"record,omitempty"`
	Contacts []dhtWireContact `json:"contacts,omitempty"`
	Err      string           `json:"err,omitempty"`
}

const dhtRPCTimeout = 10 * time.Second

// facadeRPC implements dht.RPCClient over the facade's transports, one
// TypeDHTRequest/TypeDHTResponse round trip per call (spec §4.6's
// store/findValue/findNode, carried on the 0x40 range header.go reserves
// for node-to-node control).
type facadeRPC struct {
	m *MeshNetwork

	mu      sync.Mutex
	pending map[string]chan dhtResponse
}

func newFacadeRPC(m *MeshNetwork) *facadeRPC {
	return &facadeRPC{m: m, pending: make(map[string]chan dhtResponse)}
}

func (r *facadeRPC) FindNode(ctx context.Context, peer routing.Contact, target routing.NodeKey) ([]routing.Contact, error) {
	resp, err := r.roundTrip(ctx, peer, dhtRequest{Kind: dhtFindNode, Target: target})
	if err != nil {
		return nil, err
	}
	return toContacts(resp.Contacts), nil
}

func (r *facadeRPC) FindValue(ctx context.Context, peer routing.Contact, key [32]byte) (*dht.Record, []routing.Contact, error) {
	resp, err := r.roundTrip(ctx, peer, dhtRequest{Kind: dhtFindValue, Key: key})
	if err != nil {
		return nil, nil, err
	}
	if resp.Found && resp.Record != nil {
		return toRecord(*resp.Record), nil, nil
	}
	return nil, toContacts(resp.Contacts), nil
}

func (r *facadeRPC) Store(ctx context.Context, peer routing.Contact, rec dht.Record) error {
	wr := fromRecord(rec)
	_, err := r.roundTrip(ctx, peer, dhtRequest{Kind: dhtStore, Key: rec.Key, Record: &wr})
	return err
}

func (r *facadeRPC) roundTrip(ctx context.Context, peer routing.Contact, req dhtRequest) (dhtResponse, error) {
	peerID := peerIDForKey(peer.Key)
	r.m.mu.RLock()
	tname, connected := r.m.transportOf[peerID]
	r.m.mu.RUnlock()
	if !connected {
		return dhtResponse{}, errs.NewTransport(errs.TransportNotConnected, nil)
	}
	t, ok := r.m.transports[tname]
	if !ok {
		return dhtResponse{}, errs.NewTransport(errs.TransportNotConnected, nil)
	}

	req.ReqID = uuid.NewString()
	payload, err := json.Marshal(req)
	if err != nil {
		return dhtResponse{}, err
	}
	raw, err := wire.Encode(wire.TypeDHTRequest, r.m.cfg.Relay.DefaultTTL, r.m.selfKey, r.m.id.SignKeys.Private, payload)
	if err != nil {
		return dhtResponse{}, err
	}

	ch := make(chan dhtResponse, 1)
	r.mu.Lock()
	r.pending[req.ReqID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, req.ReqID)
		r.mu.Unlock()
	}()

	if err := t.Send(ctx, peerID, raw); err != nil {
		return dhtResponse{}, err
	}

	timeout := dhtRPCTimeout
	select {
	case resp := <-ch:
		if resp.Err != "" {
			return dhtResponse{}, errs.NewDht(errs.DhtLookupTimeout, nil)
		}
		return resp, nil
	case <-time.After(timeout):
		return dhtResponse{}, errs.NewDht(errs.DhtLookupTimeout, nil)
	case <-ctx.Done():
		return dhtResponse{}, ctx.Err()
	}
}

// deliver completes the pending round trip matching payload's req_id, if
// any is still waiting. Called directly off the transport's receive path
// (see onTransportMessage), never through the single dispatcher.
func (r *facadeRPC) deliver(payload []byte) {
	var resp dhtResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return
	}
	r.mu.Lock()
	ch, ok := r.pending[resp.ReqID]
	r.mu.Unlock()
	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// handleDHTRequest answers an inbound TypeDHTRequest using this node's
// own routing table and local DHT store, then sends a TypeDHTResponse
// back to the requester (spec §4.6: every node serves the RPCs it
// receives, not just the ones it issues).
func (m *MeshNetwork) handleDHTRequest(fromPeerID identity.PeerID, pkt *wire.Packet) error {
	var req dhtRequest
	if err := json.Unmarshal(pkt.Payload, &req); err != nil {
		return nil
	}

	resp := dhtResponse{ReqID: req.ReqID}
	switch req.Kind {
	case dhtFindNode:
		resp.Contacts = fromContacts(m.table.Closest(req.Target, routing.K))
	case dhtFindValue:
		if rec, ok := m.dht.Lookup(req.Key); ok {
			resp.Found = true
			wr := fromRecord(rec)
			resp.Record = &wr
		} else {
			resp.Contacts = fromContacts(m.table.Closest(keyToNode(req.Key), routing.K))
		}
	case dhtStore:
		if req.Record != nil {
			_ = m.dht.AcceptRemote(toRecord(*req.Record))
		}
	default:
		return nil
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return nil
	}
	raw, err := wire.Encode(wire.TypeDHTResponse, m.cfg.Relay.DefaultTTL, m.selfKey, m.id.SignKeys.Private, payload)
	if err != nil {
		return nil
	}

	m.mu.RLock()
	tname, ok := m.transportOf[fromPeerID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if t, ok := m.transports[tname]; ok {
		_ = t.Send(m.ctx, fromPeerID, raw)
	}
	return nil
}

func keyToNode(k [32]byte) routing.NodeKey {
	var n routing.NodeKey
	copy(n[:], k[:])
	return n
}

func toContacts(in []dhtWireContact) []routing.Contact {
	out := make([]routing.Contact, 0, len(in))
	for _, c := range in {
		out = append(out, routing.Contact{Key: routing.NodeKey(c.Key), Addr: c.Addr, LastSeen: c.LastSeen})
	}
	return out
}

func fromContacts(in []routing.Contact) []dhtWireContact {
	out := make([]dhtWireContact, 0, len(in))
	for _, c := range in {
		out = append(out, dhtWireContact{Key: [32]byte(c.Key), Addr: c.Addr, LastSeen: c.LastSeen})
	}
	return out
}

func toRecord(w dhtWireRecord) *dht.Record {
	return &dht.Record{
		Key:         w.Key,
		Value:       w.Value,
		StoredAt:    w.StoredAt,
		ExpiresAt:   w.ExpiresAt,
		PublisherID: routing.NodeKey(w.PublisherID),
	}
}

func fromRecord(rec dht.Record) dhtWireRecord {
	return dhtWireRecord{
		Key:         rec.Key,
		Value:       rec.Value,
		StoredAt:    rec.StoredAt,
		ExpiresAt:   rec.ExpiresAt,
		PublisherID: [32]byte(rec.PublisherID),
	}
}

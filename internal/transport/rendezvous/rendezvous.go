// Package rendezvous implements the optional serverless "supernode"
// transport variant of spec §4.4/§6: a single WebSocket session to a
// rendezvous endpoint, exchanging `dm`, `poll` and `announce` actions.
// The `register_supernode` action is neither sent nor handled; inbound
// actions other than `dm` and `poll` are ignored. The facade treats it as just another
// transport; packet framing across it is identical to every other
// variant.
//
// Grounded on the teacher's server-public.go/server-control.go HTTP
// peer-facing endpoint shape (writeJSON envelope, POST-action handlers),
// generalized from a bespoke HTTP API into a persistent WebSocket session
// carrying the same wire packets as direct/radio.
package rendezvous

import (
	"context"
	"encoding/base64"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshcore/meshnet/internal/errs"
	"github.com/meshcore/meshnet/internal/identity"
	"github.com/meshcore/meshnet/internal/transport"
)

// action is one JSON message of the rendezvous endpoint's action
// vocabulary, named by its Action field (spec §6).
type action struct {
	Action string `json:"action"`
	To     string `json:"to,omitempty"`
	From   string `json:"from,omitempty"`
	DataB64 string `json:"data,omitempty"`
	URL    string `json:"url,omitempty"`
}

type peerEntry struct {
	state    transport.ConnectionState
	lastSeen time.Time
	sent     uint64
	received uint64
}

// Transport is the WebSocket-backed rendezvous transport.
type Transport struct {
	endpoint url.URL
	self     identity.PeerID

	mu     sync.Mutex
	conn   *websocket.Conn
	peers  map[identity.PeerID]*peerEntry
	events transport.Events

	cancel context.CancelFunc
}

// New constructs a rendezvous Transport for the given supernode endpoint
// (ws:// or wss://) and local peer ID.
func New(endpoint url.URL, self identity.PeerID) *Transport {
	return &Transport{endpoint: endpoint, self: self, peers: make(map[identity.PeerID]*peerEntry)}
}

func (t *Transport) Name() string { return "rendezvous" }

func (t *Transport) Start(ctx context.Context, events transport.Events) error {
	t.events = events
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.endpoint.String(), nil)
	if err != nil {
		return errs.NewTransport(errs.TransportSendFailed, err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if err := t.sendAction(action{Action: "announce", From: string(t.self)}); err != nil {
		return err
	}

	go t.readLoop(ctx)
	return nil
}

func (t *Transport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

func (t *Transport) sendAction(a action) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errs.NewTransport(errs.TransportNotConnected, nil)
	}
	if err := conn.WriteJSON(a); err != nil {
		return errs.NewTransport(errs.TransportSendFailed, err)
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}
		var a action
		if err := conn.ReadJSON(&a); err != nil {
			if t.events.OnError != nil {
				t.events.OnError(errs.NewTransport(errs.TransportClosed, err), nil)
			}
			return
		}
		t.handleAction(a)
	}
}

func (t *Transport) handleAction(a action) {
	switch a.Action {
	case "dm":
		data, err := base64.RawURLEncoding.DecodeString(a.DataB64)
		if err != nil {
			return
		}
		from := identity.PeerID(a.From)
		t.mu.Lock()
		if e, ok := t.peers[from]; ok {
			e.received += uint64(len(data))
		}
		t.mu.Unlock()
		if t.events.OnMessage != nil {
			t.events.OnMessage(from, data)
		}
	case "poll":
		// periodic keepalive from the supernode; no payload to act on.
	}
}

// Connect registers a peer as reachable through the rendezvous supernode.
// signaling is unused: the supernode itself resolves `to` by peer ID.
func (t *Transport) Connect(ctx context.Context, peerID identity.PeerID, signaling []byte) error {
	t.mu.Lock()
	t.peers[peerID] = &peerEntry{state: transport.StateConnected, lastSeen: time.Now()}
	t.mu.Unlock()
	if t.events.OnStateChange != nil {
		t.events.OnStateChange(peerID, transport.StateConnected)
	}
	return nil
}

func (t *Transport) Disconnect(peerID identity.PeerID) error {
	t.mu.Lock()
	delete(t.peers, peerID)
	t.mu.Unlock()
	if t.events.OnPeerDisconnected != nil {
		t.events.OnPeerDisconnected(peerID)
	}
	return nil
}

func (t *Transport) Send(ctx context.Context, peerID identity.PeerID, data []byte) error {
	t.mu.Lock()
	e, ok := t.peers[peerID]
	t.mu.Unlock()
	if !ok {
		return errs.NewTransport(errs.TransportNotConnected, nil)
	}
	err := t.sendAction(action{
		Action:  "dm",
		To:      string(peerID),
		From:    string(t.self),
		DataB64: base64.RawURLEncoding.EncodeToString(data),
	})
	if err != nil {
		return err
	}
	t.mu.Lock()
	e.sent += uint64(len(data))
	t.mu.Unlock()
	return nil
}

// Broadcast has no native meaning over a hub-and-spoke rendezvous link;
// it degrades to individual dm actions against every known peer.
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
	out := make([]identity.PeerID, 0, len(t.peers))
	for id, e := range t.peers {
		if e.state == transport.StateConnected {
			out = append(out, id)
		}
	}
	return out
}

func (t *Transport) PeerInfo(peerID identity.PeerID) (transport.PeerInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.peers[peerID]
	if !ok {
		return transport.PeerInfo{}, false
	}
	return transport.PeerInfo{
		PeerID:        peerID,
		TransportType: t.Name(),
		State:         e.state,
		LastSeen:      e.lastSeen,
		Quality:       50, // no RTT signal over a relayed rendezvous link
		BytesSent:     e.sent,
		BytesReceived: e.received,
	}, true
}

func (t *Transport) ConnectionState(peerID identity.PeerID) transport.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.peers[peerID]; ok {
		return e.state
	}
	return transport.StateDiscovered
}

// JoinRoom sends an `announce` action against a public room URL. The
// facade's JoinPublicRoom does not call it; that wrapper calls Connect
// with the room URL as the peer ID.
func (t *Transport) JoinRoom(roomURL string) error {
	return t.sendAction(action{Action: "announce", From: string(t.self), URL: roomURL})
}

// SendRoomMessage sends `text` to a public room via a `dm`-shaped action
// addressed at the room URL instead of a peer ID.
func (t *Transport) SendRoomMessage(roomURL, text string) error {
	return t.sendAction(action{
		Action:  "dm",
		From:    string(t.self),
		URL:     roomURL,
		DataB64: base64.RawURLEncoding.EncodeToString([]byte(text)),
	})
}

// PollOnce sends a `poll` action, used to keep a serverless rendezvous
// session alive between message bursts.
func (t *Transport) PollOnce() error {
	return t.sendAction(action{Action: "poll", From: string(t.self)})
}

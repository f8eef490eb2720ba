// Package relay implements multi-hop forwarding with TTL and loop
// prevention (spec §4.8): TTL decrement, relay-path loop detection,
// next-hop selection via the routing table, and seen-hash deduplication.
//
// Grounded on the teacher's mixnet.go (relayHandler's peel-one-layer
// loop: TTL check, decrement, forward-to-next; chooseHopsFurthest's
// "closer by XOR distance" next-hop reasoning, inverted here since the
// spec wants the CLOSEST next hop rather than the furthest onion-style
// hop) generalized from a single onion-routing HTTP handler into a
// transport-agnostic next-hop decision the facade applies before
// calling into C4.
package relay

import (
	"bytes"
	"time"

	"github.com/meshcore/meshnet/internal/errs"
	"github.com/meshcore/meshnet/internal/routing"
	"github.com/meshcore/meshnet/internal/wire"
)

// DefaultSeenCapacity and DefaultSeenRetention are the spec §4.8 loop-
// detection LRU defaults.
const (
	DefaultSeenCapacity = 8192
	DefaultSeenRetention = 10 * time.Minute
)

// Action is the outcome of a relay Route decision.
type Action int

const (
	// ActionForward sends to exactly one next-hop peer.
	ActionForward Action = iota
	// ActionBroadcast sends to all directly-reachable peers (last resort).
	ActionBroadcast
)

// Decision is what the caller should do with a packet it cannot deliver
// directly.
type Decision struct {
	Action  Action
	NextHop routing.Contact // valid only when Action == ActionForward
	TTL     byte            // decremented TTL to carry forward
	Path    []routing.NodeKey
}

// Relay applies the spec §4.8 forwarding policy on top of a routing
// table and a seen-hash LRU.
type Relay struct {
	self  routing.NodeKey
	table *routing.Table
	seen  *wire.HashLRU
}

// New constructs a Relay with the spec §4.8 default seen-hash LRU sizing.
func New(self routing.NodeKey, table *routing.Table) *Relay {
	return &Relay{
		self:  self,
		table: table,
		seen:  wire.NewHashLRU(DefaultSeenCapacity, DefaultSeenRetention),
	}
}

// Route decides how to forward a packet bound for dest that this node
// cannot deliver directly (spec §4.8, steps 1-4; step 5's actual send is
// left to the caller via C4).
//
// msgHash dedups against the seen-hash LRU independent of path tracking,
// since a packet may reach this node by more than one physical route
// with an empty or partial relayPath. path is the relayPath accumulated
// so far (nil if the envelope carries none).
func (r *Relay) Route(msgHash [32]byte, dest routing.NodeKey, ttl byte, path []routing.NodeKey) (Decision, error) {
	if r.seen.SeenOrAdd(msgHash) {
		return Decision{}, errs.NewRelay(errs.RelayLoopDetected, nil)
	}
	if ttl == 0 {
		return Decision{}, errs.NewRelay(errs.RelayTTLExpired, nil)
	}
	for _, hop := range path {
		if hop == r.self {
			return Decision{}, errs.NewRelay(errs.RelayLoopDetected, nil)
		}
	}
	nextTTL := ttl - 1
	nextPath := append(append([]routing.NodeKey{}, path...), r.self)

	if hop, ok := r.closerHop(dest, nextPath); ok {
		return Decision{Action: ActionForward, NextHop: hop, TTL: nextTTL, Path: nextPath}, nil
	}
	return Decision{Action: ActionBroadcast, TTL: nextTTL, Path: nextPath}, nil
}

// closerHop returns a routing-table contact whose XOR distance to dest is
// strictly less than this node's own distance to dest, excluding any
// peer already present in path (spec §4.8 step 4).
func (r *Relay) closerHop(dest routing.NodeKey, path []routing.NodeKey) (routing.Contact, bool) {
	selfDist := xorDistance(r.self, dest)
	candidates := r.table.Closest(dest, routing.K)
	for _, c := range candidates {
		if inPath(c.Key, path) {
			continue
		}
		if bytes.Compare(xorDistance(c.Key, dest)[:], selfDist[:]) < 0 {
			return c, true
		}
	}
	return routing.Contact{}, false
}

func inPath(key routing.NodeKey, path []routing.NodeKey) bool {
	for _, p := range path {
		if p == key {
			return true
		}
	}
	return false
}

func xorDistance(a, b routing.NodeKey) [32]byte {
	var out [32]byte
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

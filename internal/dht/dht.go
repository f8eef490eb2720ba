// Package dht implements the Kademlia store/findValue/findNode DHT of
// spec §3/§4.6: replication, quorum acknowledgement, per-publisher quotas,
// and lazy + periodic TTL pruning.
//
// Grounded on the teacher's dht.go (`simpleDHT`'s key→providers map is
// kept as the shape of the local value store, now layered on a real
// routing table instead of being the entire DHT) and server-public.go's
// `/dht/put`/`/dht/get` endpoints (kept as the wire-level RPC shape for
// STORE/FIND_VALUE/FIND_NODE, implemented by whatever RPCClient the
// facade wires in).
package dht

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/meshcore/meshnet/internal/errs"
	"github.com/meshcore/meshnet/internal/routing"
)

const (
	// Alpha is the parallelism factor for iterative lookups (spec §4.6).
	Alpha = 3
	// ReplicationFactor is the number of confirmations store() waits for.
	ReplicationFactor = 3
	// MaxValueSize rejects larger values (spec §4.6).
	MaxValueSize = 64 * 1024
	// MaxPublisherBytes caps one publisher's total local storage.
	MaxPublisherBytes = 1 << 20
	// MaxPublisherKeys caps one publisher's distinct key count.
	MaxPublisherKeys = 256
)

// Record is one DHT value (spec §3).
type Record struct {
	Key         [32]byte
	Value       []byte
	StoredAt    time.Time
	ExpiresAt   time.Time
	PublisherID routing.NodeKey
}

// RPCClient is the wire-level contact the DHT uses to talk to a remote
// peer; the facade supplies a concrete implementation backed by C3/C4.
type RPCClient interface {
	FindNode(ctx context.Context, peer routing.Contact, target routing.NodeKey) ([]routing.Contact, error)
	FindValue(ctx context.Context, peer routing.Contact, key [32]byte) (*Record, []routing.Contact, error)
	Store(ctx context.Context, peer routing.Contact, rec Record) error
}

// localStore holds records this node is directly responsible for,
// enforcing per-publisher quota and value-size limits (spec §4.6).
type localStore struct {
	mu      sync.Mutex
	records map[[32]byte]Record
}

func newLocalStore() *localStore {
	return &localStore{records: make(map[[32]byte]Record)}
}

func (s *localStore) publisherUsage(publisher routing.NodeKey) (bytes int, keys int) {
	for _, r := range s.records {
		if r.PublisherID == publisher {
			bytes += len(r.Value)
			keys++
		}
	}
	return
}

// put applies the quota, size, and tie-break rules before accepting rec.
func (s *localStore) put(rec Record) error {
	if len(rec.Value) > MaxValueSize {
		return errs.NewDht(errs.DhtValueTooLarge, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneExpiredLocked()

	if existing, ok := s.records[rec.Key]; ok {
		if !rec.StoredAt.After(existing.StoredAt) {
			if rec.StoredAt.Equal(existing.StoredAt) {
				if bytes.Compare(rec.PublisherID[:], existing.PublisherID[:]) <= 0 {
					return nil // existing wins tie-break
				}
			} else {
				return nil // existing is newer
			}
		}
	} else {
		usedBytes, usedKeys := s.publisherUsage(rec.PublisherID)
		if usedBytes+len(rec.Value) > MaxPublisherBytes || usedKeys+1 > MaxPublisherKeys {
			return errs.NewDht(errs.DhtQuotaExceeded, nil)
		}
	}

	s.records[rec.Key] = rec
	return nil
}

func (s *localStore) get(key [32]byte) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneExpiredLocked()
	rec, ok := s.records[key]
	return rec, ok
}

func (s *localStore) pruneExpiredLocked() {
	now := time.Now()
	for k, r := range s.records {
		if !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt) {
			delete(s.records, k)
		}
	}
}

// sweepExpired is called periodically by the facade's maintenance loop.
func (s *localStore) sweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneExpiredLocked()
}

// DHT ties the routing table, local value store, and RPC client into the
// store/findValue/findNode operations of spec §4.6.
type DHT struct {
	self  routing.NodeKey
	table *routing.Table
	store *localStore
	rpc   RPCClient
}

// New constructs a DHT.
func New(self routing.NodeKey, table *routing.Table, rpc RPCClient) *DHT {
	return &DHT{self: self, table: table, store: newLocalStore(), rpc: rpc}
}

// SweepExpired runs the periodic TTL sweep (spec §4.6: "eagerly swept
// periodically").
func (d *DHT) SweepExpired() { d.store.sweepExpired() }

// Lookup returns a record this node holds directly, without any network
// round trip. Used to answer an inbound findValue RPC from a peer.
func (d *DHT) Lookup(key [32]byte) (Record, bool) {
	return d.store.get(key)
}

// AcceptRemote applies a record a peer pushed to this node via the store
// RPC, subject to the same quota and tie-break rules as a local StoreValue.
func (d *DHT) AcceptRemote(rec Record) error {
	return d.store.put(rec)
}

// iterativeClosest runs the α-parallel iterative lookup shared by
// findValue and findNode (spec §4.6): start from the α closest known
// peers, query each round, merge newly discovered peers, and continue
// until a round makes no progress.
func (d *DHT) iterativeClosest(ctx context.Context, target routing.NodeKey, onPeer func(routing.Contact) (done bool, next []routing.Contact, err error)) ([]routing.Contact, bool) {
	shortlist := d.table.Closest(target, Alpha)
	queried := make(map[routing.NodeKey]bool)
	best := shortlist

	for {
		progressed := false
		round := pickUnqueried(best, queried, Alpha)
		if len(round) == 0 {
			break
		}
		for _, peer := range round {
			queried[peer.Key] = true
			done, discovered, err := onPeer(peer)
			if err != nil {
				continue
			}
			if done {
				return best, true
			}
			if len(discovered) > 0 {
				for _, c := range discovered {
					d.table.Insert(c)
				}
				best = mergeClosest(best, discovered, target)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return best, false
}

func pickUnqueried(contacts []routing.Contact, queried map[routing.NodeKey]bool, n int) []routing.Contact {
	var out []routing.Contact
	for _, c := range contacts {
		if queried[c.Key] {
			continue
		}
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out
}

func mergeClosest(a, b []routing.Contact, target routing.NodeKey) []routing.Contact {
	seen := make(map[routing.NodeKey]bool)
	var merged []routing.Contact
	for _, c := range append(append([]routing.Contact{}, a...), b...) {
		if seen[c.Key] {
			continue
		}
		seen[c.Key] = true
		merged = append(merged, c)
	}
	sortByXOR(merged, target)
	if len(merged) > Alpha*4 {
		merged = merged[:Alpha*4]
	}
	return merged
}

func sortByXOR(contacts []routing.Contact, target routing.NodeKey) {
	for i := 1; i < len(contacts); i++ {
		for j := i; j > 0 && xorLess(contacts[j].Key, contacts[j-1].Key, target); j-- {
			contacts[j], contacts[j-1] = contacts[j-1], contacts[j]
		}
	}
}

func xorLess(a, b, target routing.NodeKey) bool {
	var da, db [32]byte
	for i := range target {
		da[i] = a[i] ^ target[i]
		db[i] = b[i] ^ target[i]
	}
	return bytes.Compare(da[:], db[:]) < 0
}

// StoreValue sends STORE to the α closest peers to key (spec §4.6),
// acknowledging once replicationFactor peers confirm or the set is
// exhausted, and always applies the record locally too.
func (d *DHT) StoreValue(ctx context.Context, key [32]byte, value []byte, ttl time.Duration, publisher routing.NodeKey) (int, error) {
	rec := Record{
		Key:         key,
		Value:       value,
		StoredAt:    time.Now(),
		PublisherID: publisher,
	}
	if ttl > 0 {
		rec.ExpiresAt = rec.StoredAt.Add(ttl)
	}
	if err := d.store.put(rec); err != nil {
		return 0, err
	}

	var target routing.NodeKey
	copy(target[:], key[:])
	peers := d.table.Closest(target, Alpha)

	confirmed := 0
	for _, p := range peers {
		if confirmed >= ReplicationFactor {
			break
		}
		if err := d.rpc.Store(ctx, p, rec); err == nil {
			confirmed++
		}
	}
	return confirmed, nil
}

// FindValue performs an iterative lookup, returning immediately once any
// peer returns the value (spec §4.6).
func (d *DHT) FindValue(ctx context.Context, key [32]byte) (*Record, error) {
	if rec, ok := d.store.get(key); ok {
		return &rec, nil
	}

	var target routing.NodeKey
	copy(target[:], key[:])

	var found *Record
	d.iterativeClosest(ctx, target, func(peer routing.Contact) (bool, []routing.Contact, error) {
		rec, closer, err := d.rpc.FindValue(ctx, peer, key)
		if err != nil {
			return false, nil, err
		}
		if rec != nil {
			found = rec
			return true, nil, nil
		}
		return false, closer, nil
	})
	if found == nil {
		return nil, errs.NewDht(errs.DhtNotFound, nil)
	}
	return found, nil
}

// FindNode performs the same iterative process as FindValue but without
// early termination on a value (spec §4.6).
func (d *DHT) FindNode(ctx context.Context, target routing.NodeKey) ([]routing.Contact, error) {
	best, _ := d.iterativeClosest(ctx, target, func(peer routing.Contact) (bool, []routing.Contact, error) {
		closer, err := d.rpc.FindNode(ctx, peer, target)
		if err != nil {
			return false, nil, err
		}
		return false, closer, nil
	})
	if len(best) == 0 {
		return nil, errs.NewDht(errs.DhtNoCloserPeers, nil)
	}
	return best, nil
}

// Package routing implements the Kademlia routing table of spec §3/§4.5:
// 256 k-buckets keyed by XOR distance to the local 32-byte public key,
// least-recently-seen eviction gated on a liveness probe.
//
// Grounded on the teacher's dht.go (xorDistance, leftPad — the XOR-metric
// primitives, kept and generalized from a big.Int comparison helper into
// a full bucket index), generalized from the teacher's flat map (which
// had no buckets at all) into a real k-bucket table.
package routing

import (
	"container/list"
	"sync"
	"time"
)

// NodeKey is the 32-byte public key peers are keyed on (spec §4.5: "not
// the truncated peer ID").
type NodeKey [32]byte

// Contact is one routing-table entry.
type Contact struct {
	Key      NodeKey
	Addr     string // transport-specific signaling address, opaque here
	LastSeen time.Time
}

const (
	// BucketCount is one bucket per XOR-distance prefix bit.
	BucketCount = 256
	// K is the default bucket capacity (spec §4.5).
	K = 20
)

type bucket struct {
	mu      sync.Mutex
	entries *list.List // front = most-recently-seen
	byKey   map[NodeKey]*list.Element
}

func newBucket() *bucket {
	return &bucket{entries: list.New(), byKey: make(map[NodeKey]*list.Element)}
}

// LivenessProbe is called to test whether the least-recently-seen entry
// in a full bucket is still alive before evicting it (spec §4.5).
type LivenessProbe func(Contact) bool

// Table is a 256-bucket Kademlia routing table.
type Table struct {
	self    NodeKey
	k       int
	buckets [BucketCount]*bucket
	probe   LivenessProbe
}

// NewTable constructs a Table for self, with a caller-supplied liveness
// probe (Table.Insert calls it synchronously when a full bucket's LRU
// entry must be tested).
func NewTable(self NodeKey, probe LivenessProbe) *Table {
	t := &Table{self: self, k: K, probe: probe}
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	return t
}

// bucketIndex returns the index of the bucket a key belongs in: the
// number of leading zero bits of self XOR key (spec §4.5).
func (t *Table) bucketIndex(key NodeKey) int {
	return leadingZeroBits(xor(t.self, key))
}

func xor(a, b NodeKey) NodeKey {
	var out NodeKey
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func leadingZeroBits(b NodeKey) int {
	for i, byt := range b {
		if byt == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if byt&(0x80>>uint(bit)) != 0 {
				return i*8 + bit
			}
		}
	}
	return len(b) * 8
}

// Insert adds or refreshes a contact (spec §4.5 insertion policy): if the
// bucket has room, append; otherwise probe the LRU entry — if it
// responds, discard the candidate and refresh the LRU; if it fails,
// evict and insert.
func (t *Table) Insert(c Contact) {
	if c.Key == t.self {
		return
	}
	idx := t.bucketIndex(c.Key)
	b := t.buckets[idx]

	b.mu.Lock()
	if el, ok := b.byKey[c.Key]; ok {
		c.LastSeen = time.Now()
		el.Value = c
		b.entries.MoveToFront(el)
		b.mu.Unlock()
		return
	}

	if b.entries.Len() < t.k {
		c.LastSeen = time.Now()
		el := b.entries.PushFront(c)
		b.byKey[c.Key] = el
		b.mu.Unlock()
		return
	}

	lruEl := b.entries.Back()
	lru := lruEl.Value.(Contact)
	b.mu.Unlock()

	if t.probe != nil && t.probe(lru) {
		// LRU is alive: refresh it, drop the candidate.
		b.mu.Lock()
		lru.LastSeen = time.Now()
		lruEl.Value = lru
		b.entries.MoveToFront(lruEl)
		b.mu.Unlock()
		return
	}

	// LRU failed to respond: evict it, insert the candidate.
	b.mu.Lock()
	b.entries.Remove(lruEl)
	delete(b.byKey, lru.Key)
	c.LastSeen = time.Now()
	el := b.entries.PushFront(c)
	b.byKey[c.Key] = el
	b.mu.Unlock()
}

// Remove deletes a contact immediately (e.g. after a confirmed
// disconnect).
func (t *Table) Remove(key NodeKey) {
	b := t.buckets[t.bucketIndex(key)]
	b.mu.Lock()
	defer b.mu.Unlock()
	if el, ok := b.byKey[key]; ok {
		b.entries.Remove(el)
		delete(b.byKey, key)
	}
}

// Closest returns up to n contacts sorted by ascending XOR distance to
// target (spec §4.5).
func (t *Table) Closest(target NodeKey, n int) []Contact {
	all := t.all()
	sortByDistance(all, target)
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func (t *Table) all() []Contact {
	var out []Contact
	for _, b := range t.buckets {
		b.mu.Lock()
		for el := b.entries.Front(); el != nil; el = el.Next() {
			out = append(out, el.Value.(Contact))
		}
		b.mu.Unlock()
	}
	return out
}

func sortByDistance(contacts []Contact, target NodeKey) {
	less := func(i, j int) bool {
		di := xor(contacts[i].Key, target)
		dj := xor(contacts[j].Key, target)
		return compare(di, dj) < 0
	}
	insertionSort(contacts, less)
}

func compare(a, b NodeKey) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// insertionSort avoids pulling in sort.Slice's reflection-based closure
// overhead for what is, per bucket refresh, a small (≤ BucketCount*K)
// slice.
func insertionSort(c []Contact, less func(i, j int) bool) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

// Len returns the total number of contacts across all buckets.
func (t *Table) Len() int {
	n := 0
	for _, b := range t.buckets {
		b.mu.Lock()
		n += b.entries.Len()
		b.mu.Unlock()
	}
	return n
}

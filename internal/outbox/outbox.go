// Package outbox implements the store-and-forward queue of spec §4.9:
// persistent entries keyed by recipient, exponential backoff with
// jitter, a bounded oldest-first-evicted capacity, and flush-on-reconnect.
//
// Grounded on the teacher's peers_autosave.go (load-on-start/save-loop
// persistence pattern), generalized from a single interval-snapshotted
// blob into per-entry persistence via adapter.KeyValueAdapter so a crash
// loses at most the in-flight entry (spec §3 invariant).
package outbox

import (
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshcore/meshnet/internal/adapter"
	"github.com/meshcore/meshnet/internal/identity"
)

const (
	// MaxStored bounds total queued entries (spec §3).
	MaxStored = 100
	// MaxRetries before an entry is discarded (spec §4.9).
	MaxRetries = 3

	backoffBase   = 5 * time.Second
	backoffFactor = 2
	backoffCap    = 10 * time.Minute

	namespace = "outbox"
)

// Entry is one pending delivery (spec §3).
type Entry struct {
	ID            string
	TargetPeerID  identity.PeerID
	Payload       []byte
	EnqueuedAt    time.Time
	RetryCount    int
	NextAttemptAt time.Time
}

// Sender delivers one entry's payload to its target, returning an error
// if delivery failed (e.g. not currently connected).
type Sender func(peerID identity.PeerID, payload []byte) error

// Outbox is the persistent retry queue.
type Outbox struct {
	mu      sync.Mutex
	store   adapter.KeyValueAdapter
	clock   adapter.Clock
	entries map[string]*Entry
	order   []string // insertion order, for oldest-first eviction

	onDeliveryFailed func(id string, peerID identity.PeerID, reason string)
}

// Delivery failure reasons passed to onDeliveryFailed (spec §4.9's
// DeliveryError variants).
const (
	ReasonEvicted           = "evicted"
	ReasonMaxRetriesExceeded = "max_retries_exceeded"
)

// New constructs an Outbox over store, re-hydrating any entries that
// survived a crash (spec §4.9: "after a crash, all surviving entries are
// re-hydrated on start").
func New(store adapter.KeyValueAdapter, clock adapter.Clock, onDeliveryFailed func(id string, peerID identity.PeerID, reason string)) (*Outbox, error) {
	if clock == nil {
		clock = adapter.SystemClock{}
	}
	o := &Outbox{
		store:            store,
		clock:            clock,
		entries:          make(map[string]*Entry),
		onDeliveryFailed: onDeliveryFailed,
	}
	if err := o.rehydrate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Outbox) rehydrate() error {
	keys, err := o.store.List(namespace)
	if err != nil {
		return err
	}
	for _, k := range keys {
		raw, ok, err := o.store.Get(namespace, k)
		if err != nil || !ok {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		o.entries[e.ID] = &e
		o.order = append(o.order, e.ID)
	}
	sort.SliceStable(o.order, func(i, j int) bool {
		return o.entries[o.order[i]].EnqueuedAt.Before(o.entries[o.order[j]].EnqueuedAt)
	})
	return nil
}

// Enqueue persists a new entry before returning, evicting the oldest
// entry first if the queue is at capacity (spec §3) and surfacing a
// delivery error for the evicted entry (spec §8 boundary behaviors).
func (o *Outbox) Enqueue(target identity.PeerID, payload []byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.order) >= MaxStored {
		oldest := o.entries[o.order[0]]
		o.order = o.order[1:]
		delete(o.entries, oldest.ID)
		_ = o.store.Delete(namespace, oldest.ID)
		if o.onDeliveryFailed != nil {
			o.onDeliveryFailed(oldest.ID, oldest.TargetPeerID, ReasonEvicted)
		}
	}

	now := o.clock.Now()
	e := &Entry{
		ID:            uuid.NewString(),
		TargetPeerID:  target,
		Payload:       payload,
		EnqueuedAt:    now,
		NextAttemptAt: now,
	}
	if err := o.persist(e); err != nil {
		return "", err
	}
	o.entries[e.ID] = e
	o.order = append(o.order, e.ID)
	return e.ID, nil
}

func (o *Outbox) persist(e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return o.store.Put(namespace, e.ID, raw)
}

func (o *Outbox) removeLocked(id string) {
	delete(o.entries, id)
	for i, k := range o.order {
		if k == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	_ = o.store.Delete(namespace, id)
}

// backoff computes the exponential-with-jitter delay for retryCount
// (spec §4.9: base 5s, factor 2, cap 10min).
func backoff(retryCount int) time.Duration {
	d := backoffBase
	for i := 0; i < retryCount; i++ {
		d *= backoffFactor
		if d > backoffCap {
			d = backoffCap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d/2 + jitter
}

// FlushDue attempts delivery for every entry whose NextAttemptAt has
// passed, via send. Entries that succeed are removed; entries that fail
// have their retryCount bumped and NextAttemptAt rescheduled, or are
// discarded past MaxRetries (spec §4.9).
func (o *Outbox) FlushDue(send Sender) {
	now := o.clock.Now()
	o.mu.Lock()
	due := make([]*Entry, 0)
	for _, id := range o.order {
		e := o.entries[id]
		if !now.Before(e.NextAttemptAt) {
			due = append(due, e)
		}
	}
	o.mu.Unlock()

	for _, e := range due {
		o.attempt(e, send)
	}
}

// FlushPeer attempts delivery immediately for every entry targeting
// peerID (spec §4.9: "On onPeerConnected(peerId), all entries targeting
// that peerId are [flushed]").
func (o *Outbox) FlushPeer(peerID identity.PeerID, send Sender) {
	o.mu.Lock()
	due := make([]*Entry, 0)
	for _, id := range o.order {
		e := o.entries[id]
		if e.TargetPeerID == peerID {
			due = append(due, e)
		}
	}
	o.mu.Unlock()

	for _, e := range due {
		o.attempt(e, send)
	}
}

func (o *Outbox) attempt(e *Entry, send Sender) {
	if send(e.TargetPeerID, e.Payload) == nil {
		o.mu.Lock()
		o.removeLocked(e.ID)
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	current, ok := o.entries[e.ID]
	if !ok {
		return // already removed concurrently
	}
	current.RetryCount++
	if current.RetryCount > MaxRetries {
		o.removeLocked(current.ID)
		if o.onDeliveryFailed != nil {
			o.onDeliveryFailed(current.ID, current.TargetPeerID, ReasonMaxRetriesExceeded)
		}
		return
	}
	current.NextAttemptAt = o.clock.Now().Add(backoff(current.RetryCount))
	_ = o.persist(current)
}

// Len returns the number of currently queued entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.order)
}

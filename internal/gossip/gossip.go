// Package gossip implements peer discovery and announce gossip (spec
// §4.7): a DiscoveryProvider contract multiple concrete sources satisfy,
// plus the periodic peer-announce broadcaster.
//
// Grounded on the teacher's discover.go (ticker-driven periodic
// broadcaster pattern). The teacher's node.go mDNS discovery is not a
// provider here; it stays inside the direct transport.
package gossip

import (
	"context"
	"sync"
	"time"

	"github.com/meshcore/meshnet/internal/identity"
)

// DefaultAnnounceInterval is the spec §4.7 default gossip period.
const DefaultAnnounceInterval = 30 * time.Second

// Announcement is the compact peer-announce payload gossip exchanges
// (spec §4.7).
type Announcement struct {
	PeerID       identity.PeerID
	PublicKey    []byte
	Capabilities []string
	LastSeen     time.Time
}

// DiscoveryProvider emits onPeerFound as it learns about reachable peers.
// Multiple providers may be registered concurrently (spec §4.7).
type DiscoveryProvider interface {
	Start(ctx context.Context, onPeerFound func(Announcement)) error
	Stop() error
	Name() string
}

// Registry fans discovered peers from every registered provider out to a
// single merge callback, deduplicating by peer ID and enforcing the
// monotonic-lastSeen ordering guarantee (spec §5).
type Registry struct {
	mu        sync.Mutex
	providers []DiscoveryProvider
	lastSeen  map[identity.PeerID]time.Time
	onMerge   func(Announcement)
}

// NewRegistry constructs an empty Registry. onMerge is invoked once per
// accepted (non-stale, deduplicated) announcement.
func NewRegistry(onMerge func(Announcement)) *Registry {
	return &Registry{lastSeen: make(map[identity.PeerID]time.Time), onMerge: onMerge}
}

// Register adds a provider; call before Start.
func (r *Registry) Register(p DiscoveryProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
}

// Start brings every registered provider online.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	providers := append([]DiscoveryProvider{}, r.providers...)
	r.mu.Unlock()
	for _, p := range providers {
		if err := p.Start(ctx, r.handle); err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts down every registered provider.
func (r *Registry) Stop() error {
	r.mu.Lock()
	providers := append([]DiscoveryProvider{}, r.providers...)
	r.mu.Unlock()
	var firstErr error
	for _, p := range providers {
		if err := p.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) handle(a Announcement) {
	r.mu.Lock()
	prior, known := r.lastSeen[a.PeerID]
	if known && !a.LastSeen.After(prior) {
		r.mu.Unlock()
		return // stale relative to what we've already merged
	}
	r.lastSeen[a.PeerID] = a.LastSeen
	r.mu.Unlock()

	if r.onMerge != nil {
		r.onMerge(a)
	}
}

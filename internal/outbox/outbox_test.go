package outbox

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meshcore/meshnet/internal/adapter"
	"github.com/meshcore/meshnet/internal/identity"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Now()} }
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T) adapter.KeyValueAdapter {
	s, err := adapter.NewFileKeyValueStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestEnqueueAndFlushSuccess(t *testing.T) {
	store := newStore(t)
	o, err := New(store, adapter.SystemClock{}, nil)
	require.NoError(t, err)

	id, err := o.Enqueue(identity.PeerID("PEER0001"), []byte("hello"))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, 1, o.Len())

	var delivered []byte
	o.FlushDue(func(peerID identity.PeerID, payload []byte) error {
		delivered = payload
		return nil
	})
	require.Equal(t, []byte("hello"), delivered)
	require.Equal(t, 0, o.Len())
}

func TestFlushDueSkipsEntriesNotYetDue(t *testing.T) {
	clock := newFakeClock()
	store := newStore(t)
	o, err := New(store, clock, nil)
	require.NoError(t, err)

	_, err = o.Enqueue(identity.PeerID("PEER0001"), []byte("a"))
	require.NoError(t, err)

	attempts := 0
	fail := func(peerID identity.PeerID, payload []byte) error {
		attempts++
		return errors.New("not connected")
	}
	o.FlushDue(fail)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, o.Len())

	// not due yet: backoff hasn't elapsed
	o.FlushDue(fail)
	require.Equal(t, 1, attempts)
}

func TestRetryDiscardsAfterMaxRetries(t *testing.T) {
	clock := newFakeClock()
	store := newStore(t)
	var failedID string
	var failedPeer identity.PeerID
	var failedReason string
	o, err := New(store, clock, func(id string, peerID identity.PeerID, reason string) {
		failedID = id
		failedPeer = peerID
		failedReason = reason
	})
	require.NoError(t, err)

	id, err := o.Enqueue(identity.PeerID("PEER0001"), []byte("a"))
	require.NoError(t, err)

	fail := func(peerID identity.PeerID, payload []byte) error {
		return errors.New("not connected")
	}
	for i := 0; i <= MaxRetries; i++ {
		o.FlushDue(fail)
		clock.Advance(20 * time.Minute)
	}

	require.Equal(t, 0, o.Len())
	require.Equal(t, id, failedID)
	require.Equal(t, identity.PeerID("PEER0001"), failedPeer)
	require.Equal(t, ReasonMaxRetriesExceeded, failedReason)
}

func TestFlushPeerTargetsOnlyMatchingEntries(t *testing.T) {
	store := newStore(t)
	o, err := New(store, adapter.SystemClock{}, nil)
	require.NoError(t, err)

	_, err = o.Enqueue(identity.PeerID("PEER0001"), []byte("a"))
	require.NoError(t, err)
	_, err = o.Enqueue(identity.PeerID("PEER0002"), []byte("b"))
	require.NoError(t, err)

	var deliveredTo identity.PeerID
	o.FlushPeer(identity.PeerID("PEER0002"), func(peerID identity.PeerID, payload []byte) error {
		deliveredTo = peerID
		return nil
	})
	require.Equal(t, identity.PeerID("PEER0002"), deliveredTo)
	require.Equal(t, 1, o.Len())
}

func TestEnqueueEvictsOldestWhenFull(t *testing.T) {
	store := newStore(t)
	var evictedID string
	var evictedPeer identity.PeerID
	var evictedReason string
	o, err := New(store, adapter.SystemClock{}, func(id string, peerID identity.PeerID, reason string) {
		evictedID = id
		evictedPeer = peerID
		evictedReason = reason
	})
	require.NoError(t, err)

	var firstID string
	for i := 0; i < MaxStored; i++ {
		id, err := o.Enqueue(identity.PeerID("PEER"), []byte("x"))
		require.NoError(t, err)
		if i == 0 {
			firstID = id
		}
	}
	require.Equal(t, MaxStored, o.Len())
	require.Empty(t, evictedID)

	_, err = o.Enqueue(identity.PeerID("PEER"), []byte("overflow"))
	require.NoError(t, err)
	require.Equal(t, MaxStored, o.Len())

	o.mu.Lock()
	_, stillPresent := o.entries[firstID]
	o.mu.Unlock()
	require.False(t, stillPresent)

	require.Equal(t, firstID, evictedID)
	require.Equal(t, identity.PeerID("PEER"), evictedPeer)
	require.Equal(t, ReasonEvicted, evictedReason)
}

func TestRehydrateRestoresSurvivingEntries(t *testing.T) {
	dir := t.TempDir()
	store, err := adapter.NewFileKeyValueStore(dir)
	require.NoError(t, err)

	o1, err := New(store, adapter.SystemClock{}, nil)
	require.NoError(t, err)
	_, err = o1.Enqueue(identity.PeerID("PEER0001"), []byte("persisted"))
	require.NoError(t, err)

	o2, err := New(store, adapter.SystemClock{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, o2.Len())
}

package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterBlocksBurstAboveMinuteCap(t *testing.T) {
	rl := NewRateLimiter()
	allowed := 0
	for i := 0; i < perMinuteLimit+10; i++ {
		if rl.Allow("peer-a") {
			allowed++
		}
	}
	require.LessOrEqual(t, allowed, perMinuteLimit)
}

func TestRateLimiterPerPeerIsolated(t *testing.T) {
	rl := NewRateLimiter()
	require.True(t, rl.Allow("peer-a"))
	require.True(t, rl.Allow("peer-b"))
}

func TestHashLRUDedup(t *testing.T) {
	l := NewHashLRU(10, time.Minute)
	var h [32]byte
	h[0] = 1
	require.False(t, l.SeenOrAdd(h))
	require.True(t, l.SeenOrAdd(h))
}

func TestHashLRUCapacityEviction(t *testing.T) {
	l := NewHashLRU(2, time.Minute)
	var a, b, c [32]byte
	a[0], b[0], c[0] = 1, 2, 3
	l.SeenOrAdd(a)
	l.SeenOrAdd(b)
	l.SeenOrAdd(c) // evicts a
	require.False(t, l.SeenOrAdd(a))
}

func TestHashLRUExpiry(t *testing.T) {
	l := NewHashLRU(10, time.Millisecond)
	var h [32]byte
	h[0] = 9
	l.SeenOrAdd(h)
	time.Sleep(5 * time.Millisecond)
	require.False(t, l.SeenOrAdd(h))
}

package routing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func key(b byte) NodeKey {
	var k NodeKey
	k[31] = b
	return k
}

func TestInsertAndClosest(t *testing.T) {
	self := key(0)
	tbl := NewTable(self, nil)
	for i := byte(1); i <= 10; i++ {
		tbl.Insert(Contact{Key: key(i), Addr: fmt.Sprintf("addr-%d", i)})
	}
	require.Equal(t, 10, tbl.Len())

	closest := tbl.Closest(key(1), 3)
	require.Len(t, closest, 3)
	require.Equal(t, key(1), closest[0].Key)
}

func TestInsertIgnoresSelf(t *testing.T) {
	self := key(5)
	tbl := NewTable(self, nil)
	tbl.Insert(Contact{Key: self})
	require.Equal(t, 0, tbl.Len())
}

func TestBucketEvictsDeadLRUWhenFull(t *testing.T) {
	self := key(0)
	probeCalls := 0
	tbl := NewTable(self, func(c Contact) bool {
		probeCalls++
		return false // LRU never responds
	})

	// Fill one bucket (all same leading-zero-bit count as self=0 so they
	// share the top bucket is unlikely; use keys guaranteed to collide
	// into bucket 0 by setting the top bit).
	for i := 0; i < K; i++ {
		var k NodeKey
		k[0] = 0x80
		k[31] = byte(i + 1)
		tbl.Insert(Contact{Key: k})
	}
	require.Equal(t, K, tbl.Len())

	var overflow NodeKey
	overflow[0] = 0x80
	overflow[31] = 200
	tbl.Insert(Contact{Key: overflow})

	require.Equal(t, 1, probeCalls)
	require.Equal(t, K, tbl.Len())
}

func TestBucketKeepsLiveLRUWhenFull(t *testing.T) {
	self := key(0)
	tbl := NewTable(self, func(c Contact) bool { return true })

	var first NodeKey
	first[0] = 0x80
	first[31] = 1
	for i := 0; i < K; i++ {
		var k NodeKey
		k[0] = 0x80
		k[31] = byte(i + 1)
		tbl.Insert(Contact{Key: k})
	}

	var overflow NodeKey
	overflow[0] = 0x80
	overflow[31] = 200
	tbl.Insert(Contact{Key: overflow})

	closest := tbl.Closest(first, 1)
	require.Equal(t, first, closest[0].Key)
}

func TestRemove(t *testing.T) {
	self := key(0)
	tbl := NewTable(self, nil)
	tbl.Insert(Contact{Key: key(9)})
	require.Equal(t, 1, tbl.Len())
	tbl.Remove(key(9))
	require.Equal(t, 0, tbl.Len())
}

package dht

import (
	"context"
	"testing"
	"time"

	"github.com/meshcore/meshnet/internal/routing"
	"github.com/stretchr/testify/require"
)

type fakeRPC struct {
	stored    map[[32]byte]Record
	peerStore map[routing.NodeKey]map[[32]byte]Record
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		stored:    make(map[[32]byte]Record),
		peerStore: make(map[routing.NodeKey]map[[32]byte]Record),
	}
}

func (f *fakeRPC) FindNode(ctx context.Context, peer routing.Contact, target routing.NodeKey) ([]routing.Contact, error) {
	return nil, nil
}

func (f *fakeRPC) FindValue(ctx context.Context, peer routing.Contact, key [32]byte) (*Record, []routing.Contact, error) {
	if recs, ok := f.peerStore[peer.Key]; ok {
		if rec, ok := recs[key]; ok {
			return &rec, nil, nil
		}
	}
	return nil, nil, nil
}

func (f *fakeRPC) Store(ctx context.Context, peer routing.Contact, rec Record) error {
	if f.peerStore[peer.Key] == nil {
		f.peerStore[peer.Key] = make(map[[32]byte]Record)
	}
	f.peerStore[peer.Key][rec.Key] = rec
	return nil
}

func nodeKey(b byte) routing.NodeKey {
	var k routing.NodeKey
	k[31] = b
	return k
}

func TestStoreValueAppliesLocallyAndReplicates(t *testing.T) {
	self := nodeKey(0)
	tbl := routing.NewTable(self, nil)
	for i := byte(1); i <= 5; i++ {
		tbl.Insert(routing.Contact{Key: nodeKey(i)})
	}
	rpc := newFakeRPC()
	d := New(self, tbl, rpc)

	var key [32]byte
	key[0] = 0xAB
	confirmed, err := d.StoreValue(context.Background(), key, []byte("hello"), time.Hour, self)
	require.NoError(t, err)
	require.Greater(t, confirmed, 0)

	rec, err := d.FindValue(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), rec.Value)
}

func TestFindValueNotFound(t *testing.T) {
	self := nodeKey(0)
	tbl := routing.NewTable(self, nil)
	d := New(self, tbl, newFakeRPC())

	var key [32]byte
	key[0] = 0x01
	_, err := d.FindValue(context.Background(), key)
	require.Error(t, err)
}

func TestStoreValueRejectsOversizeValue(t *testing.T) {
	self := nodeKey(0)
	tbl := routing.NewTable(self, nil)
	d := New(self, tbl, newFakeRPC())

	var key [32]byte
	_, err := d.StoreValue(context.Background(), key, make([]byte, MaxValueSize+1), time.Hour, self)
	require.Error(t, err)
}

func TestStoreValueRejectsQuotaExceeded(t *testing.T) {
	self := nodeKey(0)
	tbl := routing.NewTable(self, nil)
	d := New(self, tbl, newFakeRPC())

	for i := 0; i < MaxPublisherKeys; i++ {
		var key [32]byte
		key[0] = byte(i % 256)
		key[1] = byte(i / 256)
		_, err := d.StoreValue(context.Background(), key, []byte("x"), time.Hour, self)
		require.NoError(t, err)
	}

	var overflowKey [32]byte
	overflowKey[2] = 1
	_, err := d.StoreValue(context.Background(), overflowKey, []byte("x"), time.Hour, self)
	require.Error(t, err)
}

func TestExpiredRecordPrunedOnRead(t *testing.T) {
	self := nodeKey(0)
	tbl := routing.NewTable(self, nil)
	d := New(self, tbl, newFakeRPC())

	var key [32]byte
	key[0] = 0x10
	_, err := d.StoreValue(context.Background(), key, []byte("v"), time.Millisecond, self)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = d.FindValue(context.Background(), key)
	require.Error(t, err)
}

package relay

import (
	"testing"

	"github.com/meshcore/meshnet/internal/errs"
	"github.com/meshcore/meshnet/internal/routing"
	"github.com/stretchr/testify/require"
)

func nk(b byte) routing.NodeKey {
	var k routing.NodeKey
	k[31] = b
	return k
}

func hash(b byte) [32]byte {
	var h [32]byte
	h[0] = b
	return h
}

func TestRouteDropsOnTTLZero(t *testing.T) {
	self := nk(1)
	tbl := routing.NewTable(self, nil)
	r := New(self, tbl)

	_, err := r.Route(hash(1), nk(99), 0, nil)
	require.Error(t, err)
	var relayErr *errs.RelayError
	require.ErrorAs(t, err, &relayErr)
	require.Equal(t, errs.RelayTTLExpired, relayErr.Kind)
}

func TestRouteDropsOnLoop(t *testing.T) {
	self := nk(1)
	tbl := routing.NewTable(self, nil)
	r := New(self, tbl)

	_, err := r.Route(hash(2), nk(99), 5, []routing.NodeKey{nk(5), self})
	require.Error(t, err)
	var relayErr *errs.RelayError
	require.ErrorAs(t, err, &relayErr)
	require.Equal(t, errs.RelayLoopDetected, relayErr.Kind)
}

func TestRouteDropsOnSeenHash(t *testing.T) {
	self := nk(1)
	tbl := routing.NewTable(self, nil)
	r := New(self, tbl)

	h := hash(3)
	_, err := r.Route(h, nk(99), 5, nil)
	require.NoError(t, err)

	_, err = r.Route(h, nk(99), 5, nil)
	require.Error(t, err)
	var relayErr *errs.RelayError
	require.ErrorAs(t, err, &relayErr)
	require.Equal(t, errs.RelayLoopDetected, relayErr.Kind)
}

func TestRouteForwardsToCloserHop(t *testing.T) {
	self := nk(0)
	tbl := routing.NewTable(self, nil)
	dest := nk(0xFF)
	// a contact strictly closer to dest than self is.
	tbl.Insert(routing.Contact{Key: nk(0xF0)})
	r := New(self, tbl)

	d, err := r.Route(hash(4), dest, 5, nil)
	require.NoError(t, err)
	require.Equal(t, ActionForward, d.Action)
	require.Equal(t, nk(0xF0), d.NextHop.Key)
	require.Equal(t, byte(4), d.TTL)
	require.Equal(t, []routing.NodeKey{self}, d.Path)
}

func TestRouteBroadcastsWhenNoCloserHop(t *testing.T) {
	self := nk(0)
	tbl := routing.NewTable(self, nil)
	r := New(self, tbl)

	d, err := r.Route(hash(5), nk(0xFF), 5, nil)
	require.NoError(t, err)
	require.Equal(t, ActionBroadcast, d.Action)
}

func TestRouteExcludesHopsAlreadyInPath(t *testing.T) {
	self := nk(0)
	tbl := routing.NewTable(self, nil)
	dest := nk(0xFF)
	tbl.Insert(routing.Contact{Key: nk(0xF0)})
	r := New(self, tbl)

	d, err := r.Route(hash(6), dest, 5, []routing.NodeKey{nk(0xF0)})
	require.NoError(t, err)
	require.Equal(t, ActionBroadcast, d.Action)
}

package gossip

import (
	"context"
	"testing"
	"time"

	"github.com/meshcore/meshnet/internal/identity"
	"github.com/stretchr/testify/require"
)

type fakeBroadcaster struct {
	sent [][]byte
}

func (b *fakeBroadcaster) Broadcast(ctx context.Context, data []byte, excluding identity.PeerID) error {
	b.sent = append(b.sent, data)
	return nil
}

func TestAnnouncementRoundTrip(t *testing.T) {
	a := Announcement{
		PeerID:       "ABCDEF0123456789",
		PublicKey:    []byte{1, 2, 3, 4},
		Capabilities: []string{"relay", "dht"},
		LastSeen:     time.Now().Truncate(time.Second),
	}
	raw, err := EncodeAnnouncement(a)
	require.NoError(t, err)
	decoded, err := DecodeAnnouncement(raw)
	require.NoError(t, err)
	require.Equal(t, a.PeerID, decoded.PeerID)
	require.Equal(t, a.PublicKey, decoded.PublicKey)
	require.Equal(t, a.Capabilities, decoded.Capabilities)
	require.True(t, a.LastSeen.Equal(decoded.LastSeen))
}

func TestTransportProviderAnnouncesOnStart(t *testing.T) {
	bc := &fakeBroadcaster{}
	self := Announcement{PeerID: "SELF0000", LastSeen: time.Now()}
	p := NewTransportProvider("direct", func() Announcement { return self }, bc, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx, func(Announcement) {}))
	require.Eventually(t, func() bool { return len(bc.sent) >= 1 }, time.Second, time.Millisecond)
	require.NoError(t, p.Stop())
}

func TestTransportProviderForwardsInbound(t *testing.T) {
	bc := &fakeBroadcaster{}
	p := NewTransportProvider("direct", func() Announcement { return Announcement{} }, bc, time.Hour)

	var found Announcement
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx, func(a Announcement) { found = a }))

	raw, err := EncodeAnnouncement(Announcement{PeerID: "REMOTE01"})
	require.NoError(t, err)
	p.HandleInbound(raw)
	require.Equal(t, identity.PeerID("REMOTE01"), found.PeerID)
	require.NoError(t, p.Stop())
}

func TestBootstrapProviderEmitsOnStart(t *testing.T) {
	peers := []Announcement{{PeerID: "A"}, {PeerID: "B"}}
	p := NewBootstrapProvider(peers)
	var seen []Announcement
	require.NoError(t, p.Start(context.Background(), func(a Announcement) { seen = append(seen, a) }))
	require.Len(t, seen, 2)
	require.NoError(t, p.Stop())
}

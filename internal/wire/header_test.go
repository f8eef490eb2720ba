package wire

import (
	"testing"
	"time"

	mcrypto "github.com/meshcore/meshnet/internal/crypto"
	"github.com/stretchr/testify/require"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	kp, err := mcrypto.GenerateSignKeyPair()
	require.NoError(t, err)

	var senderID [32]byte
	copy(senderID[:], kp.Public)
	payload := []byte("hello")

	raw, err := Encode(TypeText, 5, senderID, kp.Private, payload)
	require.NoError(t, err)
	require.Len(t, raw, HeaderSize+len(payload))

	p, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, ProtocolVersion, p.Header.Version)
	require.Equal(t, TypeText, p.Header.Type)
	require.Equal(t, byte(5), p.Header.TTL)
	require.Equal(t, payload, p.Payload)
	require.True(t, VerifySignature(p))
}

func TestHeaderVerifyRejectsTamperedSignature(t *testing.T) {
	kp, err := mcrypto.GenerateSignKeyPair()
	require.NoError(t, err)
	var senderID [32]byte
	copy(senderID[:], kp.Public)

	raw, err := Encode(TypeText, 5, senderID, kp.Private, []byte("payload"))
	require.NoError(t, err)
	raw[44] ^= 0xFF // mutate first signature byte

	p, err := Decode(raw)
	require.NoError(t, err)
	require.False(t, VerifySignature(p))
}

func TestValidateRejectsBadVersion(t *testing.T) {
	p := &Packet{Header: Header{Version: 0x02, Type: TypeText, TTL: 1}}
	err := Validate(p)
	require.Error(t, err)
}

func TestValidateRejectsUnknownType(t *testing.T) {
	p := &Packet{Header: Header{Version: ProtocolVersion, Type: 0x99, TTL: 1}}
	err := Validate(p)
	require.Error(t, err)
}

func TestValidateRejectsExcessiveTTL(t *testing.T) {
	p := &Packet{Header: Header{Version: ProtocolVersion, Type: TypeText, TTL: MaxTTL + 1}}
	err := Validate(p)
	require.Error(t, err)
}

func TestValidateAcceptsMaxTTL(t *testing.T) {
	p := &Packet{Header: Header{Version: ProtocolVersion, Type: TypeText, TTL: MaxTTL, Timestamp: time.Now().UnixMilli()}}
	require.NoError(t, Validate(p))
}

func TestValidateRejectsOversizePayload(t *testing.T) {
	p := &Packet{
		Header:  Header{Version: ProtocolVersion, Type: TypeText, TTL: 1, Timestamp: time.Now().UnixMilli()},
		Payload: make([]byte, MaxPayloadSize+1),
	}
	require.Error(t, Validate(p))
}

func TestMessageHashDeterministic(t *testing.T) {
	a := MessageHash([]byte("abc"))
	b := MessageHash([]byte("abc"))
	require.Equal(t, a, b)
	c := MessageHash([]byte("abd"))
	require.NotEqual(t, a, c)
}

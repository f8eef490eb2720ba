// Package wire implements the 109-byte signed packet header, message type
// enum, fragmentation/reassembly, and validation policy shared by every
// transport (spec §3/§4.3/§6).
//
// Grounded on the teacher's types.go (ChatMsg/FileManifest/FileChunk
// body-signing pattern, generalized into the header's signed-region
// convention) and command_sync.go (seen-id map, generalized into the
// dedup LRU in dedup.go).
package wire

import (
	"encoding/binary"
	"time"

	mcrypto "github.com/meshcore/meshnet/internal/crypto"
	"github.com/meshcore/meshnet/internal/errs"
)

// MessageType is the 1-byte wire message type (spec §6).
type MessageType byte

const (
	TypeText            MessageType = 0x01
	TypeFileMetadata     MessageType = 0x02
	TypeFileChunk        MessageType = 0x03
	TypeVoice            MessageType = 0x04
	TypeControlAck       MessageType = 0x10
	TypeControlPing      MessageType = 0x11
	TypeControlPong      MessageType = 0x12
	TypePeerDiscovery    MessageType = 0x20
	TypePeerIntroduction MessageType = 0x21
	TypeKeyExchange      MessageType = 0x30
	TypeSessionKey       MessageType = 0x31

	// TypeDHTRequest and TypeDHTResponse carry the findNode/findValue/store
	// RPC of §4.6 between two directly-connected nodes. Not enumerated in
	// §6's message type table, which only names the application-facing
	// types; added in the 0x40 range reserved for node-to-node control so
	// the DHT's RPCClient has a concrete wire transport.
	TypeDHTRequest  MessageType = 0x40
	TypeDHTResponse MessageType = 0x41
)

func validType(t MessageType) bool {
	switch t {
	case TypeText, TypeFileMetadata, TypeFileChunk, TypeVoice,
		TypeControlAck, TypeControlPing, TypeControlPong,
		TypePeerDiscovery, TypePeerIntroduction,
		TypeKeyExchange, TypeSessionKey,
		TypeDHTRequest, TypeDHTResponse:
		return true
	default:
		return false
	}
}

const (
	// ProtocolVersion is the only version this implementation emits or accepts.
	ProtocolVersion byte = 0x01

	// HeaderSize is the fixed encoded header length in bytes.
	HeaderSize = 109

	signedRegionSize = 44 // everything except the 65-byte signature

	// MaxTTL bounds the TTL field (spec §4.3).
	MaxTTL = 64

	// MaxPayloadSize bounds a single packet's payload (spec §4.3).
	MaxPayloadSize = 1 << 20

	// MaxFragmentSize is the threshold above which a payload is split
	// into fragments (spec §4.3).
	MaxFragmentSize = 60 * 1024

	// clockSkew bounds how far a header timestamp may drift from local
	// time in either direction (spec §4.3).
	clockSkew = 24 * time.Hour
)

// Header is the 109-byte signed packet header (spec §3).
type Header struct {
	Version   byte
	Type      MessageType
	TTL       byte
	Timestamp int64 // ms since epoch
	SenderID  [32]byte
	Signature [65]byte
}

// Packet is a decoded header plus its payload.
type Packet struct {
	Header  Header
	Payload []byte
}

// signedRegion returns the first 44 header bytes (everything but the
// signature) concatenated with the payload — the exact byte range a
// sender signs and a receiver re-verifies (spec §3/§6).
func signedRegion(h Header, payload []byte) []byte {
	buf := make([]byte, 0, signedRegionSize+len(payload))
	buf = append(buf, h.Version, byte(h.Type), h.TTL, 0)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(h.Timestamp))
	buf = append(buf, ts[:]...)
	buf = append(buf, h.SenderID[:]...)
	buf = append(buf, payload...)
	return buf
}

// Encode builds a signed 109-byte header followed by payload, bit-exact
// per spec §3/§6.
func Encode(msgType MessageType, ttl byte, senderID [32]byte, senderPriv []byte, payload []byte) ([]byte, error) {
	h := Header{
		Version:   ProtocolVersion,
		Type:      msgType,
		TTL:       ttl,
		Timestamp: time.Now().UnixMilli(),
		SenderID:  senderID,
	}
	sig := mcrypto.Sign(senderPriv, signedRegion(h, payload))
	copy(h.Signature[:], sig)

	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, h.Version, byte(h.Type), h.TTL, 0)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(h.Timestamp))
	out = append(out, ts[:]...)
	out = append(out, h.SenderID[:]...)
	out = append(out, h.Signature[:]...)
	out = append(out, payload...)
	return out, nil
}

// Decode parses a wire packet without verifying its signature. Callers
// MUST call Validate and VerifySignature before any further processing.
func Decode(raw []byte) (*Packet, error) {
	if len(raw) < HeaderSize {
		return nil, errs.NewProtocol(errs.ProtocolType, nil)
	}
	var h Header
	h.Version = raw[0]
	h.Type = MessageType(raw[1])
	h.TTL = raw[2]
	// raw[3] reserved
	h.Timestamp = int64(binary.BigEndian.Uint64(raw[4:12]))
	copy(h.SenderID[:], raw[12:44])
	copy(h.Signature[:], raw[44:109])
	payload := append([]byte{}, raw[109:]...)
	return &Packet{Header: h, Payload: payload}, nil
}

// VerifySignature reconstructs the signed region and checks Ed25519 over
// it using the sender's declared public key (== SenderID field). Only the
// first 64 bytes of the 65-byte Signature field hold the actual Ed25519
// signature; the trailing byte is wire padding.
func VerifySignature(p *Packet) bool {
	return mcrypto.Verify(p.Header.SenderID[:], signedRegion(p.Header, p.Payload), p.Header.Signature[:64])
}

// Validate applies the policy of spec §4.3, independent of signature
// verification (callers should still always verify the signature).
func Validate(p *Packet) error {
	if p.Header.Version != ProtocolVersion {
		return errs.NewProtocol(errs.ProtocolVersion, nil)
	}
	if !validType(p.Header.Type) {
		return errs.NewProtocol(errs.ProtocolType, nil)
	}
	if p.Header.TTL > MaxTTL {
		return errs.NewProtocol(errs.ProtocolTTL, nil)
	}
	if p.Header.Timestamp < 0 {
		return errs.NewProtocol(errs.ProtocolTimestamp, nil)
	}
	now := time.Now().UnixMilli()
	delta := now - p.Header.Timestamp
	if delta < 0 {
		delta = -delta
	}
	if time.Duration(delta)*time.Millisecond > clockSkew {
		return errs.NewProtocol(errs.ProtocolTimestamp, nil)
	}
	if len(p.Payload) > MaxPayloadSize {
		return errs.NewProtocol(errs.ProtocolPayloadTooLarge, nil)
	}
	return nil
}

// MessageHash is SHA-256 over the fully encoded packet, used both for
// deduplication and as a log identifier (spec §4.3).
func MessageHash(raw []byte) [32]byte {
	return mcrypto.SHA256(raw)
}

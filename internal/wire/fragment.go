package wire

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meshcore/meshnet/internal/errs"
)

// Fragment carries one slice of a payload too large for a single packet
// (spec §3/§4.3: payload.len > MaxFragmentSize).
type Fragment struct {
	MessageID uuid.UUID
	Index     uint16
	Total     uint16
	Data      []byte
}

// EncodeFragment serializes a Fragment to bytes: messageId(16B) ‖
// index(2B) ‖ total(2B) ‖ data.
func EncodeFragment(f Fragment) []byte {
	buf := make([]byte, 0, 16+4+len(f.Data))
	buf = append(buf, f.MessageID[:]...)
	var idx, total [2]byte
	binary.BigEndian.PutUint16(idx[:], f.Index)
	binary.BigEndian.PutUint16(total[:], f.Total)
	buf = append(buf, idx[:]...)
	buf = append(buf, total[:]...)
	return append(buf, f.Data...)
}

// DecodeFragment parses bytes produced by EncodeFragment.
func DecodeFragment(raw []byte) (Fragment, error) {
	if len(raw) < 20 {
		return Fragment{}, errs.NewProtocol(errs.ProtocolMalformedFragment, nil)
	}
	var f Fragment
	copy(f.MessageID[:], raw[:16])
	f.Index = binary.BigEndian.Uint16(raw[16:18])
	f.Total = binary.BigEndian.Uint16(raw[18:20])
	f.Data = append([]byte{}, raw[20:]...)
	if f.Total == 0 || f.Index >= f.Total {
		return Fragment{}, errs.NewProtocol(errs.ProtocolMalformedFragment, nil)
	}
	return f, nil
}

// SplitFragments splits payload into ceil(n/MaxFragmentSize) fragments
// sharing a single fresh messageId (spec §4.3).
func SplitFragments(payload []byte) []Fragment {
	id := uuid.New()
	total := (len(payload) + MaxFragmentSize - 1) / MaxFragmentSize
	if total == 0 {
		total = 1
	}
	frags := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * MaxFragmentSize
		end := start + MaxFragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		frags = append(frags, Fragment{
			MessageID: id,
			Index:     uint16(i),
			Total:     uint16(total),
			Data:      payload[start:end],
		})
	}
	return frags
}

// reassemblyEntry buffers fragments for one in-flight messageId.
type reassemblyEntry struct {
	total    uint16
	received map[uint16][]byte
	lastSeen time.Time
}

// Reassembler accumulates fragments across messageIds, purging entries
// idle for more than 60 s (spec §4.3). Out-of-order arrival is supported;
// duplicate fragments are idempotent.
type Reassembler struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*reassemblyEntry
	idle    time.Duration
}

// NewReassembler constructs a Reassembler with the spec-default 60 s idle
// expiry.
func NewReassembler() *Reassembler {
	return &Reassembler{
		entries: make(map[uuid.UUID]*reassemblyEntry),
		idle:    60 * time.Second,
	}
}

// Add feeds one fragment in. It returns (payload, true) once every
// fragment for the messageId has arrived; otherwise (nil, false).
func (r *Reassembler) Add(f Fragment) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictLocked()

	e, ok := r.entries[f.MessageID]
	if !ok {
		e = &reassemblyEntry{total: f.Total, received: make(map[uint16][]byte)}
		r.entries[f.MessageID] = e
	}
	e.lastSeen = time.Now()
	if _, dup := e.received[f.Index]; !dup {
		e.received[f.Index] = f.Data
	}

	if uint16(len(e.received)) < e.total {
		return nil, false
	}

	out := make([]byte, 0)
	for i := uint16(0); i < e.total; i++ {
		out = append(out, e.received[i]...)
	}
	delete(r.entries, f.MessageID)
	return out, true
}

func (r *Reassembler) evictLocked() {
	now := time.Now()
	for id, e := range r.entries {
		if now.Sub(e.lastSeen) > r.idle {
			delete(r.entries, id)
		}
	}
}

package transport

import (
	"encoding/binary"
	"sync"

	"github.com/veilnet/veil/primitives"
	"github.com/veilnet/veil/verror"
)

// bleFrameHeaderLen is the fixed framing overhead on every BLE fragment:
// shard_id (32B) + index (u16 big-endian) + total (u16 big-endian).
const bleFrameHeaderLen = primitives.IDSize + 2 + 2

// FragmentBLE splits payload into frames no larger than mtu bytes
// (including header), each tagged with shardID so the receiving side can
// reassemble without any other out-of-band bookkeeping. mtu must exceed
// bleFrameHeaderLen.
func FragmentBLE(shardID primitives.ShardID, payload []byte, mtu int) ([][]byte, error) {
	if mtu <= bleFrameHeaderLen {
		return nil, verror.New(verror.InvalidInput, "mtu too small to carry BLE framing overhead")
	}
	chunkLen := mtu - bleFrameHeaderLen

	total := (len(payload) + chunkLen - 1) / chunkLen
	if total == 0 {
		total = 1 // an empty payload still yields one empty-bodied frame
	}
	if total > 0xFFFF {
		return nil, verror.New(verror.InvalidInput, "payload requires more fragments than the BLE protocol's u16 total field can represent")
	}

	frames := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkLen
		end := start + chunkLen
		if end > len(payload) {
			end = len(payload)
		}
		frame := make([]byte, bleFrameHeaderLen+(end-start))
		copy(frame[:primitives.IDSize], shardID[:])
		binary.BigEndian.PutUint16(frame[primitives.IDSize:primitives.IDSize+2], uint16(i))
		binary.BigEndian.PutUint16(frame[primitives.IDSize+2:bleFrameHeaderLen], uint16(total))
		copy(frame[bleFrameHeaderLen:], payload[start:end])
		frames = append(frames, frame)
	}
	return frames, nil
}

type bleReassembly struct {
	total    uint16
	received int
	parts    [][]byte
}

// BLEReassembler reconstructs fragmented payloads across multiple calls to
// Feed, keyed by the shard_id carried in each frame. It is safe for
// concurrent use.
type BLEReassembler struct {
	mu      sync.Mutex
	pending map[primitives.ShardID]*bleReassembly
}

// NewBLEReassembler returns an empty reassembler.
func NewBLEReassembler() *BLEReassembler {
	return &BLEReassembler{pending: make(map[primitives.ShardID]*bleReassembly)}
}

// Feed consumes one BLE frame. It returns the reassembled payload and true
// once every fragment for that shard_id has arrived; otherwise it returns
// ok=false while more fragments are awaited. Malformed frames are rejected
// with an error rather than panicking.
func (r *BLEReassembler) Feed(frame []byte) (payload []byte, shardID primitives.ShardID, ok bool, err error) {
	if len(frame) < bleFrameHeaderLen {
		return nil, primitives.ShardID{}, false, verror.New(verror.InvalidInput, "BLE frame shorter than header")
	}
	copy(shardID[:], frame[:primitives.IDSize])
	index := binary.BigEndian.Uint16(frame[primitives.IDSize : primitives.IDSize+2])
	total := binary.BigEndian.Uint16(frame[primitives.IDSize+2 : bleFrameHeaderLen])
	if total == 0 || index >= total {
		return nil, shardID, false, verror.New(verror.InvalidInput, "BLE frame has invalid index/total")
	}
	body := append([]byte(nil), frame[bleFrameHeaderLen:]...)

	r.mu.Lock()
	defer r.mu.Unlock()

	asm, exists := r.pending[shardID]
	if !exists {
		asm = &bleReassembly{total: total, parts: make([][]byte, total)}
		r.pending[shardID] = asm
	}
	if asm.total != total {
		return nil, shardID, false, verror.New(verror.InvalidInput, "BLE frame total disagrees with earlier fragments for this shard")
	}
	if asm.parts[index] == nil {
		asm.parts[index] = body
		asm.received++
	}

	if asm.received < int(asm.total) {
		return nil, shardID, false, nil
	}

	delete(r.pending, shardID)
	full := make([]byte, 0, len(asm.parts)*len(asm.parts[0]))
	for _, p := range asm.parts {
		full = append(full, p...)
	}
	return full, shardID, true, nil
}

// Pending reports how many shard ids currently have partial fragments
// buffered, for observability and eviction policies.
func (r *BLEReassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

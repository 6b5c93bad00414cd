package codec

import (
	"encoding/binary"

	"github.com/veilnet/veil/primitives"
)

// ShardV1Version is the only shard wire version this codec accepts.
const ShardV1Version uint8 = 1

// ErasureMode selects the FEC transform applied before Reed-Solomon coding.
type ErasureMode uint8

const (
	// Systematic is the classic RS mode: the first k shards carry raw data.
	Systematic ErasureMode = 0
	// HardenedNonSystematic masks every shard so none alone reveals
	// whether it is a data or parity block.
	HardenedNonSystematic ErasureMode = 1
)

func (m ErasureMode) valid() bool { return m == Systematic || m == HardenedNonSystematic }

// ShardHeaderV1Len is the fixed on-wire length of ShardHeaderV1:
// 1 (version) + 2 (namespace) + 4 (epoch) + 32 (tag) + 32 (object_root) +
// 2 (profile_id) + 1 (erasure_mode) + 4 (bucket_size) + 2 (k) + 2 (n) +
// 2 (index) = 84 bytes.
const ShardHeaderV1Len = 84

// ShardHeaderV1 is the fixed binary-serializable shard header.
type ShardHeaderV1 struct {
	Version     uint8
	Namespace   primitives.Namespace
	Epoch       primitives.Epoch
	Tag         primitives.Tag
	ObjectRoot  primitives.ObjectRoot
	ProfileID   uint16
	ErasureMode ErasureMode
	BucketSize  uint32
	K           uint16
	N           uint16
	Index       uint16
}

// ShardV1 is a header plus the erasure-coded payload bytes.
type ShardV1 struct {
	Header  ShardHeaderV1
	Payload []byte
}

// EncodeShard writes the fixed binary header followed by the payload.
func EncodeShard(s ShardV1) []byte {
	out := make([]byte, ShardHeaderV1Len+len(s.Payload))
	h := s.Header
	out[0] = h.Version
	binary.BigEndian.PutUint16(out[1:3], uint16(h.Namespace))
	binary.BigEndian.PutUint32(out[3:7], uint32(h.Epoch))
	copy(out[7:39], h.Tag[:])
	copy(out[39:71], h.ObjectRoot[:])
	binary.BigEndian.PutUint16(out[71:73], h.ProfileID)
	out[73] = byte(h.ErasureMode)
	binary.BigEndian.PutUint32(out[74:78], h.BucketSize)
	binary.BigEndian.PutUint16(out[78:80], h.K)
	binary.BigEndian.PutUint16(out[80:82], h.N)
	binary.BigEndian.PutUint16(out[82:84], h.Index)
	copy(out[ShardHeaderV1Len:], s.Payload)
	return out
}

// DecodeShard parses a ShardV1 from bytes, validating the header schema and
// that payload length matches bucket_size - header_len. It never panics.
func DecodeShard(data []byte) (shard ShardV1, err error) {
	defer func() {
		if r := recover(); r != nil {
			shard = ShardV1{}
			err = decodeErr("panic recovered while decoding shard", nil)
		}
	}()
	return decodeShard(data)
}

func decodeShard(data []byte) (ShardV1, error) {
	if len(data) < ShardHeaderV1Len {
		return ShardV1{}, decodeErr("shard shorter than header", nil)
	}

	h := ShardHeaderV1{
		Version:     data[0],
		Namespace:   primitives.Namespace(binary.BigEndian.Uint16(data[1:3])),
		Epoch:       primitives.Epoch(binary.BigEndian.Uint32(data[3:7])),
		ProfileID:   binary.BigEndian.Uint16(data[71:73]),
		ErasureMode: ErasureMode(data[73]),
		BucketSize:  binary.BigEndian.Uint32(data[74:78]),
		K:           binary.BigEndian.Uint16(data[78:80]),
		N:           binary.BigEndian.Uint16(data[80:82]),
		Index:       binary.BigEndian.Uint16(data[82:84]),
	}
	copy(h.Tag[:], data[7:39])
	copy(h.ObjectRoot[:], data[39:71])

	if h.Version != ShardV1Version {
		return ShardV1{}, invalidShardErr("unsupported shard version")
	}
	if !h.ErasureMode.valid() {
		return ShardV1{}, invalidShardErr("unknown erasure mode")
	}
	if h.K == 0 || h.K > h.N {
		return ShardV1{}, invalidShardErr("k must be in [1, n]")
	}
	if h.Index >= h.N {
		return ShardV1{}, invalidShardErr("index must be < n")
	}
	if uint64(h.BucketSize) <= ShardHeaderV1Len {
		return ShardV1{}, invalidShardErr("bucket_size too small for header")
	}

	payload := data[ShardHeaderV1Len:]
	wantPayloadLen := int(h.BucketSize) - ShardHeaderV1Len
	if len(payload) != wantPayloadLen {
		return ShardV1{}, invalidShardErr("payload length does not match bucket_size - header_len")
	}

	return ShardV1{Header: h, Payload: append([]byte(nil), payload...)}, nil
}

// ShardID computes the dedup identifier for a shard: BLAKE3(encode(shard)).
func ShardID(s ShardV1) primitives.ShardID {
	return primitives.ShardID(primitives.Hash(EncodeShard(s)))
}

// SameGroup reports whether two shard headers belong to the same
// reconstruction group: identical namespace, epoch, tag, object_root,
// profile_id, k, n, erasure_mode and bucket_size.
func SameGroup(a, b ShardHeaderV1) bool {
	return a.Namespace == b.Namespace &&
		a.Epoch == b.Epoch &&
		a.Tag == b.Tag &&
		a.ObjectRoot == b.ObjectRoot &&
		a.ProfileID == b.ProfileID &&
		a.ErasureMode == b.ErasureMode &&
		a.K == b.K &&
		a.N == b.N &&
		a.BucketSize == b.BucketSize
}

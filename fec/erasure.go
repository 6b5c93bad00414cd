package fec

import (
	"encoding/binary"

	"github.com/klauspost/reedsolomon"

	"github.com/veilnet/veil/codec"
	"github.com/veilnet/veil/primitives"
	"github.com/veilnet/veil/verror"
)

// lengthPrefixLen is the width of the big-endian length prefix stored at the
// front of the padded block, so ShardsToObject knows where the real object
// ends inside the zero-padded capacity.
const lengthPrefixLen = 4

func choosePayloadLen(p Profile, encodedLen int) (shardPayloadLen int, bucket uint32, err error) {
	need := lengthPrefixLen + encodedLen
	for _, b := range p.PermittedBuckets {
		payloadLen := int(b) - codec.ShardHeaderV1Len
		if payloadLen <= 0 {
			continue
		}
		if payloadLen*int(p.K) >= need {
			return payloadLen, b, nil
		}
	}
	return 0, 0, verror.New(verror.InvalidInput, "object too large for this profile's permitted buckets")
}

func maskSeed(root primitives.ObjectRoot, index uint16) []byte {
	seed := make([]byte, primitives.IDSize+2)
	copy(seed, root[:])
	binary.BigEndian.PutUint16(seed[primitives.IDSize:], index)
	return seed
}

// xorMask is its own inverse: applying it twice with the same root/index
// returns the original payload. Used for HardenedNonSystematic shards so
// no single shard reveals whether it carries data or parity content.
func xorMask(root primitives.ObjectRoot, index uint16, payload []byte) []byte {
	mask := primitives.KeyedBlocks(maskSeed(root, index), len(payload))
	out := make([]byte, len(payload))
	for i := range payload {
		out[i] = payload[i] ^ mask[i]
	}
	return out
}

// ObjectToShards pads encoded to the chosen profile's data capacity,
// Reed-Solomon encodes it, and returns n fully-headered shards. In
// HardenedNonSystematic mode, every shard's payload (data and parity alike)
// is XOR-masked under a key derived from (object_root, index).
func ObjectToShards(encoded []byte, ns primitives.Namespace, epoch primitives.Epoch, tag primitives.Tag, mode codec.ErasureMode) ([]codec.ShardV1, error) {
	root := primitives.HashRoot(encoded)
	profile := ChooseProfile(len(encoded))

	shardPayloadLen, bucket, err := choosePayloadLen(profile, len(encoded))
	if err != nil {
		return nil, err
	}

	dataCapacity := int(profile.K) * shardPayloadLen
	padded := make([]byte, dataCapacity)
	binary.BigEndian.PutUint32(padded[:lengthPrefixLen], uint32(len(encoded)))
	copy(padded[lengthPrefixLen:], encoded)

	shards := make([][]byte, profile.N)
	for i := 0; i < int(profile.K); i++ {
		shards[i] = padded[i*shardPayloadLen : (i+1)*shardPayloadLen]
	}
	for i := int(profile.K); i < int(profile.N); i++ {
		shards[i] = make([]byte, shardPayloadLen)
	}

	enc, err := reedsolomon.New(int(profile.K), int(profile.N-profile.K))
	if err != nil {
		return nil, verror.Wrap(verror.InvalidInput, "construct Reed-Solomon encoder", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, verror.Wrap(verror.InvalidInput, "Reed-Solomon encode failed", err)
	}

	out := make([]codec.ShardV1, profile.N)
	for i, payload := range shards {
		if mode == codec.HardenedNonSystematic {
			payload = xorMask(root, uint16(i), payload)
		}
		out[i] = codec.ShardV1{
			Header: codec.ShardHeaderV1{
				Version:     codec.ShardV1Version,
				Namespace:   ns,
				Epoch:       epoch,
				Tag:         tag,
				ObjectRoot:  root,
				ProfileID:   profile.ID,
				ErasureMode: mode,
				BucketSize:  bucket,
				K:           profile.K,
				N:           profile.N,
				Index:       uint16(i),
			},
			Payload: payload,
		}
	}
	return out, nil
}

// ShardsToObject reconstructs the original encoded object from any k of its
// n shards. It returns an error if the shards disagree on their
// reconstruction group or too few distinct indices are present.
func ShardsToObject(shards []codec.ShardV1) ([]byte, error) {
	if len(shards) == 0 {
		return nil, verror.New(verror.InvalidShard, "no shards supplied")
	}
	header0 := shards[0].Header
	for _, s := range shards[1:] {
		if !codec.SameGroup(header0, s.Header) {
			return nil, verror.New(verror.InvalidShard, "shards disagree on reconstruction group")
		}
	}

	profile, ok := ProfileByID(header0.ProfileID)
	if !ok {
		return nil, verror.New(verror.InvalidShard, "unknown profile id")
	}
	if profile.K != header0.K || profile.N != header0.N {
		return nil, verror.New(verror.InvalidShard, "k/n does not match declared profile")
	}
	if !profile.PermitsBucket(header0.BucketSize) {
		return nil, verror.New(verror.InvalidShard, "bucket_size not permitted for this profile")
	}

	shardPayloadLen := int(header0.BucketSize) - codec.ShardHeaderV1Len
	if shardPayloadLen <= 0 {
		return nil, verror.New(verror.InvalidShard, "bucket_size too small for header")
	}

	present := make([][]byte, header0.N)
	count := 0
	for _, s := range shards {
		idx := s.Header.Index
		if idx >= header0.N || present[idx] != nil {
			continue
		}
		if len(s.Payload) != shardPayloadLen {
			return nil, verror.New(verror.InvalidShard, "payload length mismatch within shard group")
		}
		payload := s.Payload
		if header0.ErasureMode == codec.HardenedNonSystematic {
			payload = xorMask(header0.ObjectRoot, idx, payload)
		}
		present[idx] = payload
		count++
	}
	if count < int(header0.K) {
		return nil, verror.New(verror.InvalidShard, "fewer than k distinct shards supplied")
	}

	enc, err := reedsolomon.New(int(header0.K), int(header0.N-header0.K))
	if err != nil {
		return nil, verror.Wrap(verror.InvalidShard, "construct Reed-Solomon decoder", err)
	}
	if err := enc.Reconstruct(present); err != nil {
		return nil, verror.Wrap(verror.InvalidShard, "Reed-Solomon reconstruction failed", err)
	}

	padded := make([]byte, 0, int(header0.K)*shardPayloadLen)
	for i := 0; i < int(header0.K); i++ {
		padded = append(padded, present[i]...)
	}
	if len(padded) < lengthPrefixLen {
		return nil, verror.New(verror.InvalidShard, "reconstructed block shorter than length prefix")
	}
	origLen := int(binary.BigEndian.Uint32(padded[:lengthPrefixLen]))
	if origLen < 0 || lengthPrefixLen+origLen > len(padded) {
		return nil, verror.New(verror.InvalidShard, "declared object length exceeds reconstructed capacity")
	}
	return padded[lengthPrefixLen : lengthPrefixLen+origLen], nil
}

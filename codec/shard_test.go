package codec

import (
	"bytes"
	"testing"

	"github.com/veilnet/veil/primitives"
)

func sampleShard() ShardV1 {
	h := ShardHeaderV1{
		Version:     ShardV1Version,
		Namespace:   primitives.NamespacePublicFeed,
		Epoch:       7,
		Tag:         primitives.Tag{0x11},
		ObjectRoot:  primitives.ObjectRoot{0x22},
		ProfileID:   1,
		ErasureMode: Systematic,
		BucketSize:  ShardHeaderV1Len + 16,
		K:           4,
		N:           6,
		Index:       2,
	}
	return ShardV1{Header: h, Payload: bytes.Repeat([]byte{0xAA}, 16)}
}

func TestShardRoundTrip(t *testing.T) {
	s := sampleShard()
	enc := EncodeShard(s)
	if len(enc) != ShardHeaderV1Len+len(s.Payload) {
		t.Fatalf("unexpected encoded length %d", len(enc))
	}
	dec, err := DecodeShard(enc)
	if err != nil {
		t.Fatalf("DecodeShard: %v", err)
	}
	if dec.Header != s.Header {
		t.Fatalf("header mismatch: %+v vs %+v", dec.Header, s.Header)
	}
	if !bytes.Equal(dec.Payload, s.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestShardIDDeterministic(t *testing.T) {
	s := sampleShard()
	id1 := ShardID(s)
	id2 := ShardID(s)
	if id1 != id2 {
		t.Fatalf("ShardID not deterministic")
	}
	s.Header.Index = 3
	id3 := ShardID(s)
	if id1 == id3 {
		t.Fatalf("ShardID should differ when header differs")
	}
}

func TestShardDecodeRejectsShortInput(t *testing.T) {
	if _, err := DecodeShard(make([]byte, ShardHeaderV1Len-1)); err == nil {
		t.Fatalf("expected error for header-sized-minus-one input")
	}
}

func TestShardDecodeRejectsBadVersion(t *testing.T) {
	s := sampleShard()
	s.Header.Version = 9
	enc := EncodeShard(s)
	if _, err := DecodeShard(enc); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
}

func TestShardDecodeRejectsBadErasureMode(t *testing.T) {
	s := sampleShard()
	enc := EncodeShard(s)
	enc[73] = 0x07
	if _, err := DecodeShard(enc); err == nil {
		t.Fatalf("expected error for unknown erasure mode")
	}
}

func TestShardDecodeRejectsKOutOfRange(t *testing.T) {
	cases := []struct {
		k, n uint16
	}{
		{0, 6},
		{7, 6},
	}
	for _, c := range cases {
		s := sampleShard()
		s.Header.K, s.Header.N = c.k, c.n
		enc := EncodeShard(s)
		if _, err := DecodeShard(enc); err == nil {
			t.Fatalf("k=%d n=%d: expected error", c.k, c.n)
		}
	}
}

func TestShardDecodeRejectsIndexOutOfRange(t *testing.T) {
	s := sampleShard()
	s.Header.Index = s.Header.N
	enc := EncodeShard(s)
	if _, err := DecodeShard(enc); err == nil {
		t.Fatalf("expected error for index == n")
	}
}

func TestShardDecodeRejectsMismatchedPayloadLength(t *testing.T) {
	s := sampleShard()
	enc := EncodeShard(s)
	truncated := enc[:len(enc)-1]
	if _, err := DecodeShard(truncated); err == nil {
		t.Fatalf("expected error for short payload")
	}
	padded := append(enc, 0x00)
	if _, err := DecodeShard(padded); err == nil {
		t.Fatalf("expected error for overlong payload")
	}
}

func TestShardDecodeNeverPanics(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		{0x00},
		bytes.Repeat([]byte{0xFF}, 10),
		bytes.Repeat([]byte{0x00}, ShardHeaderV1Len),
		bytes.Repeat([]byte{0xAB}, ShardHeaderV1Len*2),
	}
	for i, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("input %d: DecodeShard panicked: %v", i, r)
				}
			}()
			DecodeShard(in)
		}()
	}
}

func TestShardDecodeMutationResilience(t *testing.T) {
	s := sampleShard()
	enc := EncodeShard(s)
	for i := range enc {
		mutated := append([]byte(nil), enc...)
		mutated[i] ^= 0xFF
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("byte %d: DecodeShard panicked: %v", i, r)
				}
			}()
			DecodeShard(mutated)
		}()
	}
}

func TestSameGroup(t *testing.T) {
	a := sampleShard().Header
	b := a
	if !SameGroup(a, b) {
		t.Fatalf("identical headers should be same group")
	}
	b.Index = a.Index + 1
	if !SameGroup(a, b) {
		t.Fatalf("differing index alone must still be same group")
	}
	b.ObjectRoot[0] ^= 0xFF
	if SameGroup(a, b) {
		t.Fatalf("differing object_root must not be same group")
	}
}

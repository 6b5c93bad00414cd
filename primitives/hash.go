package primitives

import "github.com/zeebo/blake3"

// Hash computes the BLAKE3-256 digest of data.
func Hash(data []byte) [IDSize]byte {
	return blake3.Sum256(data)
}

// HashRoot computes the ObjectRoot of an encoded object: BLAKE3(bytes).
func HashRoot(encoded []byte) ObjectRoot {
	return ObjectRoot(Hash(encoded))
}

// keyedBlocks expands seed into a deterministic keystream of length n by
// hashing seed concatenated with a big-endian block counter, one BLAKE3
// block (32 bytes) at a time. Used for the FEC hardened-mode masking
// transform; rendezvous tag derivation is a single Hash and does not use it.
func keyedBlocks(seed []byte, n int) []byte {
	out := make([]byte, 0, n+IDSize)
	var counter uint64
	for len(out) < n {
		block := make([]byte, len(seed)+8)
		copy(block, seed)
		be64(block[len(seed):], counter)
		sum := Hash(block)
		out = append(out, sum[:]...)
		counter++
	}
	return out[:n]
}

func be64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[7-i] = byte(v)
		v >>= 8
	}
}

// KeyedBlocks expands seed into an n-byte deterministic pseudorandom
// stream. Exported so fec's hardened-mode masking and other callers can
// reuse the exact same expansion without redefining it.
func KeyedBlocks(seed []byte, n int) []byte { return keyedBlocks(seed, n) }

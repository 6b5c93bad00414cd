package publisher

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/veilnet/veil/crypto"
)

// NonceSource hands out AEAD nonces. Implementations must never repeat a
// nonce for the lifetime of the encryption key.
type NonceSource interface {
	Next() ([crypto.NonceSize]byte, error)
}

// noncePrefixLen is the random prefix width; the remaining 8 bytes carry a
// big-endian counter, so a single source never collides with itself and
// two sources collide only if their 16-byte prefixes do.
const noncePrefixLen = crypto.NonceSize - 8

// CounterNonce is the default NonceSource: a randomly sampled prefix plus
// a monotonically increasing counter.
type CounterNonce struct {
	prefix  [noncePrefixLen]byte
	counter uint64
}

// NewCounterNonce samples a fresh random prefix from crypto/rand.
func NewCounterNonce() (*CounterNonce, error) {
	var c CounterNonce
	if _, err := rand.Read(c.prefix[:]); err != nil {
		return nil, errors.Wrap(err, "sample nonce prefix")
	}
	return &c, nil
}

// NewSeededCounterNonce fixes the prefix, for deterministic tests and
// simulations. It must not be used with a long-lived production key.
func NewSeededCounterNonce(prefix [noncePrefixLen]byte) *CounterNonce {
	return &CounterNonce{prefix: prefix}
}

func (c *CounterNonce) Next() ([crypto.NonceSize]byte, error) {
	var nonce [crypto.NonceSize]byte
	copy(nonce[:], c.prefix[:])
	binary.BigEndian.PutUint64(nonce[noncePrefixLen:], c.counter)
	c.counter++
	return nonce, nil
}

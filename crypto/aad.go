package crypto

import (
	"encoding/binary"

	"github.com/veilnet/veil/primitives"
)

// BuildAAD constructs the additional authenticated data bound into every
// object's AEAD seal: tag || namespace (big-endian u16) || epoch (big-endian
// u32). Binding the tag and namespace prevents an object sealed for one
// rendezvous tag from being replayed as if it belonged to another.
func BuildAAD(tag primitives.Tag, ns primitives.Namespace, epoch primitives.Epoch) []byte {
	aad := make([]byte, primitives.IDSize+2+4)
	copy(aad, tag[:])
	binary.BigEndian.PutUint16(aad[primitives.IDSize:], uint16(ns))
	binary.BigEndian.PutUint32(aad[primitives.IDSize+2:], uint32(epoch))
	return aad
}

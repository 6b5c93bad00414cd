package codec

import (
	"bytes"

	"github.com/fxamacker/cbor/v2"
	"github.com/veilnet/veil/primitives"
)

// ObjectV1Version is the only version this codec currently accepts.
const ObjectV1Version uint8 = 1

// FlagSigned marks that SenderPubkey and Signature are populated.
const FlagSigned uint8 = 1 << 0

// reservedFlagMask covers every bit this codec doesn't assign a meaning to.
const reservedFlagMask uint8 = ^FlagSigned

// ObjectV1 is the canonical signed-and-encrypted application object.
type ObjectV1 struct {
	Version      uint8
	Namespace    primitives.Namespace
	Epoch        primitives.Epoch
	Flags        uint8
	Tag          primitives.Tag
	ObjectRoot   primitives.ObjectRoot
	SenderPubkey [32]byte // valid only when Flags&FlagSigned != 0
	Signature    [64]byte // valid only when Flags&FlagSigned != 0
	Nonce        [24]byte
	Ciphertext   []byte
	Padding      []byte
}

// Signed reports whether the SIGNED flag is set.
func (o *ObjectV1) Signed() bool { return o.Flags&FlagSigned != 0 }

// objectWire is the exact CBOR-on-the-wire shape: a fixed-order array, so
// field order is stable regardless of map key ordering concerns. Optional
// 32/64-byte fields are represented as a possibly-empty byte string; their
// presence is governed entirely by Flags: a SIGNED object must carry both
// sender_pubkey and signature.
type objectWire struct {
	_            struct{} `cbor:",toarray"`
	Version      uint8
	Namespace    uint16
	Epoch        uint32
	Flags        uint8
	Tag          []byte
	ObjectRoot   []byte
	SenderPubkey []byte
	Signature    []byte
	Nonce        []byte
	Ciphertext   []byte
	Padding      []byte
}

func toWire(o ObjectV1) objectWire {
	w := objectWire{
		Version:    o.Version,
		Namespace:  uint16(o.Namespace),
		Epoch:      uint32(o.Epoch),
		Flags:      o.Flags,
		Tag:        append([]byte(nil), o.Tag[:]...),
		ObjectRoot: append([]byte(nil), o.ObjectRoot[:]...),
		Nonce:      append([]byte(nil), o.Nonce[:]...),
		Ciphertext: o.Ciphertext,
		Padding:    o.Padding,
	}
	if o.Signed() {
		w.SenderPubkey = append([]byte(nil), o.SenderPubkey[:]...)
		w.Signature = append([]byte(nil), o.Signature[:]...)
	}
	return w
}

// EncodeObject produces the canonical CBOR encoding of obj.
func EncodeObject(obj ObjectV1) ([]byte, error) {
	return cbor.Marshal(toWire(obj))
}

// DecodeObject decodes the canonical encoding of an ObjectV1, rejecting
// any trailing bytes. It never panics: malformed or adversarial input
// always yields an error.
func DecodeObject(data []byte) (obj ObjectV1, err error) {
	defer func() {
		if r := recover(); r != nil {
			obj = ObjectV1{}
			err = decodeErr("panic recovered while decoding object", nil)
		}
	}()

	o, consumed, decErr := decodeObjectPrefix(data)
	if decErr != nil {
		return ObjectV1{}, decErr
	}
	if consumed != len(data) {
		return ObjectV1{}, decodeErr("trailing garbage after object", nil)
	}
	return o, nil
}

// DecodeObjectPrefix decodes one ObjectV1 from the start of data, tolerating
// trailing bytes, and reports how many bytes were consumed. It never panics.
func DecodeObjectPrefix(data []byte) (obj ObjectV1, consumed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			obj, consumed = ObjectV1{}, 0
			err = decodeErr("panic recovered while decoding object prefix", nil)
		}
	}()
	return decodeObjectPrefix(data)
}

func decodeObjectPrefix(data []byte) (ObjectV1, int, error) {
	reader := bytes.NewReader(data)
	dec := cbor.NewDecoder(reader)

	var w objectWire
	if err := dec.Decode(&w); err != nil {
		return ObjectV1{}, 0, decodeErr("malformed object CBOR", err)
	}
	consumed := len(data) - reader.Len()

	obj, err := fromWire(w)
	if err != nil {
		return ObjectV1{}, 0, err
	}
	return obj, consumed, nil
}

func fromWire(w objectWire) (ObjectV1, error) {
	if w.Version != ObjectV1Version {
		return ObjectV1{}, invalidObjectErr("unsupported object version")
	}
	if w.Flags&reservedFlagMask != 0 {
		return ObjectV1{}, invalidObjectErr("reserved flag bits set")
	}
	if len(w.Tag) != primitives.IDSize {
		return ObjectV1{}, invalidObjectErr("tag has wrong length")
	}
	if len(w.ObjectRoot) != primitives.IDSize {
		return ObjectV1{}, invalidObjectErr("object_root has wrong length")
	}
	if len(w.Nonce) != 24 {
		return ObjectV1{}, invalidObjectErr("nonce has wrong length")
	}

	obj := ObjectV1{
		Version:   w.Version,
		Namespace: primitives.Namespace(w.Namespace),
		Epoch:     primitives.Epoch(w.Epoch),
		Flags:     w.Flags,
	}
	copy(obj.Tag[:], w.Tag)
	copy(obj.ObjectRoot[:], w.ObjectRoot)
	copy(obj.Nonce[:], w.Nonce)
	obj.Ciphertext = w.Ciphertext
	obj.Padding = w.Padding

	signed := w.Flags&FlagSigned != 0
	switch {
	case signed && len(w.SenderPubkey) != 32:
		return ObjectV1{}, invalidObjectErr("signed object missing sender_pubkey")
	case signed && len(w.Signature) != 64:
		return ObjectV1{}, invalidObjectErr("signed object missing signature")
	case signed:
		copy(obj.SenderPubkey[:], w.SenderPubkey)
		copy(obj.Signature[:], w.Signature)
	case len(w.SenderPubkey) != 0 || len(w.Signature) != 0:
		return ObjectV1{}, invalidObjectErr("unsigned object carries signature material")
	}

	return obj, nil
}

// ObjectSignatureMessageDigest computes BLAKE3 over the canonical encoding
// of obj with the signature field forced to 64 zero bytes — the exact
// message that is signed and verified.
func ObjectSignatureMessageDigest(obj ObjectV1) ([32]byte, error) {
	stripped := obj
	stripped.Signature = [64]byte{}
	encoded, err := EncodeObject(stripped)
	if err != nil {
		return [32]byte{}, decodeErr("failed to encode object for signing", err)
	}
	return primitives.Hash(encoded), nil
}

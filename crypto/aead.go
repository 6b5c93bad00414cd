package crypto

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/veilnet/veil/verror"
)

// NonceSize is the XChaCha20-Poly1305 extended nonce size VEIL objects use.
const NonceSize = chacha20poly1305.NonceSizeX

// AEAD abstracts the envelope cipher so the receive and publish pipelines
// can be instantiated with a test double. XChaCha is the production
// implementation.
type AEAD interface {
	Seal(key [32]byte, nonce [NonceSize]byte, aad, plaintext []byte) ([]byte, error)
	Open(key [32]byte, nonce [NonceSize]byte, aad, ciphertext []byte) ([]byte, error)
}

// XChaCha is the standard AEAD backed by XChaCha20-Poly1305.
type XChaCha struct{}

func (XChaCha) Seal(key [32]byte, nonce [NonceSize]byte, aad, plaintext []byte) ([]byte, error) {
	return Seal(key, nonce, aad, plaintext)
}

func (XChaCha) Open(key [32]byte, nonce [NonceSize]byte, aad, ciphertext []byte) ([]byte, error) {
	return Open(key, nonce, aad, ciphertext)
}

// Seal encrypts and authenticates plaintext under key, binding aad, using the
// caller-supplied 24-byte nonce, which the caller must transmit alongside
// the ciphertext (it is stored verbatim in ObjectV1.Nonce).
func Seal(key [32]byte, nonce [NonceSize]byte, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "construct XChaCha20-Poly1305 AEAD")
	}
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext under key and aad. It reports a
// verror.Crypto error on any authentication failure rather than panicking,
// so a corrupted or forged object is always rejected cleanly.
func Open(key [32]byte, nonce [NonceSize]byte, aad, ciphertext []byte) (plaintext []byte, err error) {
	aead, aeadErr := chacha20poly1305.NewX(key[:])
	if aeadErr != nil {
		return nil, verror.Wrap(verror.Crypto, "construct XChaCha20-Poly1305 AEAD", aeadErr)
	}
	plaintext, openErr := aead.Open(nil, nonce[:], ciphertext, aad)
	if openErr != nil {
		return nil, verror.Wrap(verror.Crypto, "AEAD open failed", openErr)
	}
	return plaintext, nil
}

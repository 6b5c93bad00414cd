// Package crypto binds VEIL's signing and AEAD primitives together: Ed25519
// signatures over the object digest, and XChaCha20-Poly1305 sealing of the
// object ciphertext, both keyed off a single identity secret.
package crypto

import "github.com/veilnet/veil/primitives"

const encryptKeyDomain = "veil/encrypt-key/v1"

// DeriveEncryptKey expands an identity secret into the 32-byte key used to
// seal/open an XChaCha20-Poly1305 AEAD for that identity. The signing key
// takes no such expansion: the identity secret itself is the Ed25519 seed.
func DeriveEncryptKey(secret []byte) [32]byte {
	return primitives.Hash(append([]byte(encryptKeyDomain), secret...))
}

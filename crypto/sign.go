package crypto

import (
	"crypto/ed25519"

	"github.com/veilnet/veil/verror"
)

// Signer produces Ed25519 signatures over a 32-byte message digest. It is a
// deliberately thin interface so a hardware-backed key store could implement
// it without touching anything upstream.
type Signer interface {
	PublicKey() [32]byte
	Sign(digest [32]byte) [64]byte
}

// Verifier checks an Ed25519 signature over a 32-byte message digest.
type Verifier interface {
	Verify(pubkey [32]byte, digest [32]byte, sig [64]byte) bool
}

// IdentitySigner wraps an Ed25519 private key derived from an identity seed.
type IdentitySigner struct {
	priv ed25519.PrivateKey
	pub  [32]byte
}

// NewIdentitySigner derives an Ed25519 keypair from the 32-byte identity
// secret, used directly as the signing seed.
func NewIdentitySigner(seed [32]byte) *IdentitySigner {
	priv := ed25519.NewKeyFromSeed(seed[:])
	s := &IdentitySigner{priv: priv}
	copy(s.pub[:], priv.Public().(ed25519.PublicKey))
	return s
}

func (s *IdentitySigner) PublicKey() [32]byte { return s.pub }

func (s *IdentitySigner) Sign(digest [32]byte) [64]byte {
	var sig [64]byte
	copy(sig[:], ed25519.Sign(s.priv, digest[:]))
	return sig
}

// Ed25519Verifier is the standard Verifier backed by crypto/ed25519.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(pubkey [32]byte, digest [32]byte, sig [64]byte) bool {
	return ed25519.Verify(pubkey[:], digest[:], sig[:])
}

// VerifySignature is a convenience wrapper returning a verror.Crypto error
// instead of a bare bool, for callers that want to propagate a typed error.
func VerifySignature(pubkey [32]byte, digest [32]byte, sig [64]byte) error {
	if !(Ed25519Verifier{}).Verify(pubkey, digest, sig) {
		return verror.New(verror.Crypto, "signature verification failed")
	}
	return nil
}

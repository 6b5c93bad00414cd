package publisher

import (
	"github.com/veilnet/veil/codec"
	"github.com/veilnet/veil/crypto"
	"github.com/veilnet/veil/fec"
	"github.com/veilnet/veil/node"
	"github.com/veilnet/veil/primitives"
	"github.com/veilnet/veil/verror"
)

// Options governs one publish pass.
type Options struct {
	// Signed attaches the pipeline's identity signature when a Signer is
	// configured.
	Signed bool
	// AckRequested registers the object for ACK-driven retries.
	AckRequested bool
	// Mode selects the erasure transform for the object's shards.
	Mode codec.ErasureMode

	// Retry parameters for AckRequested objects.
	MaxRetries     int
	RetryBatchSize int
	BackoffStep    uint64
}

// Published is the result of sealing one payload: the shard-group root and
// the fully encoded shards ready for the transport lanes.
type Published struct {
	Root   primitives.ObjectRoot
	Shards [][]byte
}

// Pipeline seals queued payloads into signed, encrypted, erasure-coded
// objects. Signer may be nil for an unsigned publisher.
type Pipeline struct {
	Batcher    *FeedBatcher
	Signer     crypto.Signer
	EncryptKey [32]byte
	AEAD       crypto.AEAD
	Nonces     NonceSource

	// DrainPerTick caps how many payloads one tick seals; <= 0 drains the
	// whole ready batch.
	DrainPerTick int
}

// PublishTick drains the ready batch and seals each payload into an
// object, returning the encoded shards per object. AckRequested objects
// are registered in the state's pending-ACK table keyed by their
// shard-group root.
func (p *Pipeline) PublishTick(st *node.State, ns primitives.Namespace, epoch primitives.Epoch, tag primitives.Tag, nowStep uint64, opts Options) ([]Published, error) {
	if !p.Batcher.Ready() {
		return nil, nil
	}
	var out []Published
	for _, queued := range p.Batcher.Drain(p.DrainPerTick) {
		pub, err := p.PublishOne(st, ns, epoch, tag, queued.Payload, nowStep, opts)
		if err != nil {
			return out, err
		}
		out = append(out, pub)
	}
	return out, nil
}

// PublishOne seals a single payload: encrypt under a fresh nonce, sign the
// canonical object digest, erasure-code the encoding, and (when requested)
// arm the retry state machine.
func (p *Pipeline) PublishOne(st *node.State, ns primitives.Namespace, epoch primitives.Epoch, tag primitives.Tag, payload []byte, nowStep uint64, opts Options) (Published, error) {
	nonce, err := p.Nonces.Next()
	if err != nil {
		return Published{}, err
	}
	aad := crypto.BuildAAD(tag, ns, epoch)
	ciphertext, err := p.AEAD.Seal(p.EncryptKey, nonce, aad, payload)
	if err != nil {
		return Published{}, err
	}

	obj := codec.ObjectV1{
		Version:    codec.ObjectV1Version,
		Namespace:  ns,
		Epoch:      epoch,
		Tag:        tag,
		ObjectRoot: primitives.ObjectRoot(primitives.Hash(payload)),
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}
	if opts.Signed && p.Signer != nil {
		obj.Flags |= codec.FlagSigned
		obj.SenderPubkey = p.Signer.PublicKey()
		digest, err := codec.ObjectSignatureMessageDigest(obj)
		if err != nil {
			return Published{}, err
		}
		obj.Signature = p.Signer.Sign(digest)
	}

	encoded, err := codec.EncodeObject(obj)
	if err != nil {
		return Published{}, err
	}
	shards, err := fec.ObjectToShards(encoded, ns, epoch, tag, opts.Mode)
	if err != nil {
		return Published{}, err
	}

	root := primitives.HashRoot(encoded)
	encodedShards := make([][]byte, len(shards))
	for i, sh := range shards {
		encodedShards[i] = codec.EncodeShard(sh)
	}

	if opts.AckRequested {
		if opts.MaxRetries <= 0 || opts.RetryBatchSize <= 0 || opts.BackoffStep == 0 {
			return Published{}, verror.New(verror.InvalidInput, "ack_requested needs positive retry parameters")
		}
		st.RegisterPendingAck(root, &node.PendingAck{
			UnsentShards:   encodedShards,
			NextRetryStep:  nowStep + opts.BackoffStep,
			MaxRetries:     opts.MaxRetries,
			RetryBatchSize: opts.RetryBatchSize,
			BackoffStep:    opts.BackoffStep,
		})
	}

	return Published{Root: root, Shards: encodedShards}, nil
}

// RetryTick scans the pending-ACK table: entries whose retry step has
// arrived either contribute a fresh batch of shards to resend, or — once
// retries are exhausted — are dropped and reported as failed.
func RetryTick(st *node.State, nowStep uint64) (resend [][]byte, failed []primitives.ObjectRoot) {
	for _, root := range st.DuePendingAcks(nowStep) {
		pa, ok := st.PendingAckFor(root)
		if !ok {
			continue
		}
		if pa.Retries >= pa.MaxRetries {
			st.ClearPendingAck(root)
			failed = append(failed, root)
			continue
		}
		resend = append(resend, pa.NextBatch()...)
		pa.Reschedule(nowStep)
	}
	return resend, failed
}

package node

import (
	"sort"

	"github.com/veilnet/veil/cache"
	"github.com/veilnet/veil/codec"
	"github.com/veilnet/veil/crypto"
	"github.com/veilnet/veil/fec"
	"github.com/veilnet/veil/primitives"
	"github.com/veilnet/veil/verror"
)

// EventKind classifies the outcome of one shard ingestion.
type EventKind uint8

const (
	// EventNothing means the shard was a duplicate or was dropped.
	EventNothing EventKind = iota
	// EventCached means the shard entered the cache; the forwarder path.
	EventCached
	// EventForwarded means the runtime additionally fanned the shard out.
	EventForwarded
	// EventDelivered means a full object was reconstructed, verified,
	// decrypted and handed up.
	EventDelivered
	// EventAckCleared means the delivered object was an acknowledgement
	// that cleared a pending retry entry.
	EventAckCleared
	// EventAckFailed means a pending entry exhausted its retries and was
	// dropped without ever being acknowledged.
	EventAckFailed
)

func (k EventKind) String() string {
	switch k {
	case EventNothing:
		return "nothing"
	case EventCached:
		return "cached"
	case EventForwarded:
		return "forwarded"
	case EventDelivered:
		return "delivered"
	case EventAckCleared:
		return "ack_cleared"
	case EventAckFailed:
		return "ack_failed"
	default:
		return "unknown"
	}
}

// Event is the result of one shard ingestion (or, for EventAckFailed, one
// retry-exhaustion observation on the publish side).
type Event struct {
	Kind    EventKind
	ShardID primitives.ShardID
	Tag     primitives.Tag
	Root    primitives.ObjectRoot
	Payload []byte // decrypted plaintext, EventDelivered only

	// Forward is set when the shard was new and tag-subscribed, telling
	// the runtime to fan it out to peers regardless of Kind.
	Forward bool
}

// ReceiveConfig carries the per-tick inputs the ingestion pipeline needs
// beyond the state itself.
type ReceiveConfig struct {
	NowStep    uint64
	TTLSteps   uint64
	DecryptKey [32]byte
	AEAD       crypto.AEAD
	Verifier   crypto.Verifier
	Tier       cache.TrustTier
}

// ShouldForward reports whether a shard with the given id and tag would be
// fanned out on ingestion: it must be unseen and the tag must be
// subscribed.
func ShouldForward(s *State, id primitives.ShardID, tag primitives.Tag) bool {
	return !s.cache.Has(id) && s.Subscribed(tag)
}

// ReceiveShard ingests one encoded shard. Duplicates freshen the cache and
// produce EventNothing; new shards are cached and, when tag-subscribed,
// buffered in the inbox until k distinct indices allow reconstruction.
// A reconstructed object is decoded, signature-verified, decrypted and
// delivered exactly once per root.
//
// The returned error is informational: malformed or unverifiable input is
// dropped, never escalated, so adversarial bytes cannot stall the pump.
func ReceiveShard(s *State, encoded []byte, cfg ReceiveConfig) (Event, error) {
	sid := primitives.ShardID(primitives.Hash(encoded))
	if s.cache.Has(sid) {
		s.cache.Observe(sid, nil, 0, cfg.NowStep, cfg.Tier)
		s.cache.IncRequestCount(sid)
		return Event{Kind: EventNothing, ShardID: sid}, nil
	}

	shard, err := codec.DecodeShard(encoded)
	if err != nil {
		return Event{Kind: EventNothing, ShardID: sid}, err
	}
	if err := validateProfile(shard.Header); err != nil {
		return Event{Kind: EventNothing, ShardID: sid}, err
	}

	s.cache.Observe(sid, encoded, cfg.NowStep+cfg.TTLSteps, cfg.NowStep, cfg.Tier)

	ev := Event{Kind: EventCached, ShardID: sid, Tag: shard.Header.Tag}
	if !s.Subscribed(shard.Header.Tag) {
		return ev, nil
	}
	ev.Forward = true

	root := shard.Header.ObjectRoot
	if _, already := s.delivered[root]; already {
		return ev, nil
	}

	g, ok := s.inbox[root]
	if !ok {
		g = &inboxGroup{shards: make(map[uint16]codec.ShardV1), firstStep: cfg.NowStep}
		s.inbox[root] = g
	}
	if _, dup := g.shards[shard.Header.Index]; !dup {
		g.shards[shard.Header.Index] = shard
	}
	if len(g.shards) < int(shard.Header.K) {
		return ev, nil
	}

	plaintext, err := reconstructAndOpen(g, cfg)
	delete(s.inbox, root)
	if err != nil {
		return ev, err
	}
	s.delivered[root] = cfg.NowStep + cfg.TTLSteps

	if target, isAck := DecodeAck(plaintext); isAck && s.ClearPendingAck(target) {
		return Event{Kind: EventAckCleared, ShardID: sid, Tag: shard.Header.Tag, Root: target, Forward: ev.Forward}, nil
	}
	return Event{Kind: EventDelivered, ShardID: sid, Tag: shard.Header.Tag, Root: root, Payload: plaintext, Forward: ev.Forward}, nil
}

// reconstructAndOpen turns a complete inbox group into a verified,
// decrypted plaintext, or an error describing why the group was dropped.
func reconstructAndOpen(g *inboxGroup, cfg ReceiveConfig) ([]byte, error) {
	collected := make([]codec.ShardV1, 0, len(g.shards))
	for _, sh := range g.shards {
		collected = append(collected, sh)
	}
	sort.Slice(collected, func(i, j int) bool {
		return collected[i].Header.Index < collected[j].Header.Index
	})

	encObj, err := fec.ShardsToObject(collected)
	if err != nil {
		return nil, err
	}
	obj, err := codec.DecodeObject(encObj)
	if err != nil {
		return nil, err
	}

	if obj.Signed() {
		digest, err := codec.ObjectSignatureMessageDigest(obj)
		if err != nil {
			return nil, err
		}
		if !cfg.Verifier.Verify(obj.SenderPubkey, digest, obj.Signature) {
			return nil, verror.New(verror.Crypto, "object signature does not verify")
		}
	}

	aad := crypto.BuildAAD(obj.Tag, obj.Namespace, obj.Epoch)
	plaintext, err := cfg.AEAD.Open(cfg.DecryptKey, obj.Nonce, aad, obj.Ciphertext)
	if err != nil {
		return nil, err
	}
	if primitives.ObjectRoot(primitives.Hash(plaintext)) != obj.ObjectRoot {
		return nil, verror.New(verror.InvalidObject, "decrypted payload does not hash to object_root")
	}
	return plaintext, nil
}

// validateProfile rejects shards whose header passed wire-level decoding
// but names parameters no known profile permits.
func validateProfile(h codec.ShardHeaderV1) error {
	profile, ok := fec.ProfileByID(h.ProfileID)
	if !ok {
		return verror.New(verror.InvalidShard, "unknown profile id")
	}
	if profile.K != h.K || profile.N != h.N {
		return verror.New(verror.InvalidShard, "k/n does not match declared profile")
	}
	if !profile.PermitsBucket(h.BucketSize) {
		return verror.New(verror.InvalidShard, "bucket_size not permitted for this profile")
	}
	return nil
}

// Package runtime glues the receive and publish pipelines to two
// transport lanes and drives both with a single deterministic tick.
package runtime

import (
	"encoding/binary"

	"github.com/veilnet/veil/cache"
	"github.com/veilnet/veil/crypto"
	"github.com/veilnet/veil/node"
	"github.com/veilnet/veil/primitives"
	"github.com/veilnet/veil/publisher"
	"github.com/veilnet/veil/transport"
	"github.com/veilnet/veil/verror"
)

// Lane couples one transport adapter with its peer list and forwarding
// fanout. The fast lane is drained before the fallback lane on every tick.
type Lane struct {
	Adapter transport.Adapter
	Peers   []string
	Fanout  int
}

// Config fixes the per-node runtime parameters.
type Config struct {
	MaxCacheShards int
	TTLSteps       uint64
	// DrainBatch caps how many inbound frames one tick drains per lane.
	DrainBatch int
	// Tier is the trust tier assigned to shards arriving over the lanes.
	Tier cache.TrustTier
	// EmitAcks makes the node answer every delivered object with an
	// acknowledgement object published on the same tag.
	EmitAcks bool

	// Publish context applied to payloads drained from the batcher and to
	// synthesized acknowledgements.
	PublishNamespace primitives.Namespace
	PublishEpoch     primitives.Epoch
	PublishTag       primitives.Tag
	PublishOptions   publisher.Options
}

// Stats is the per-tick counter delta.
type Stats struct {
	ParsedShards uint64
	Forwarded    uint64
	Delivered    uint64
	AckCleared   uint64
	SendFailures uint64
}

// Add accumulates another delta into s.
func (s *Stats) Add(d Stats) {
	s.ParsedShards += d.ParsedShards
	s.Forwarded += d.Forwarded
	s.Delivered += d.Delivered
	s.AckCleared += d.AckCleared
	s.SendFailures += d.SendFailures
}

// Runtime owns one node's state, its two lanes and its publish pipeline.
// PumpOnce is the only mutating entry point; two ticks must never run
// concurrently against the same Runtime.
type Runtime struct {
	cfg        Config
	state      *node.State
	fast       Lane
	fallback   Lane
	pub        *publisher.Pipeline
	decryptKey [32]byte
	aead       crypto.AEAD
	verifier   crypto.Verifier
}

// New assembles a runtime. pub may be nil for a pure forwarder node; such
// a node neither publishes nor acknowledges.
func New(cfg Config, st *node.State, fast, fallback Lane, pub *publisher.Pipeline, decryptKey [32]byte, aead crypto.AEAD, verifier crypto.Verifier) *Runtime {
	return &Runtime{
		cfg:        cfg,
		state:      st,
		fast:       fast,
		fallback:   fallback,
		pub:        pub,
		decryptKey: decryptKey,
		aead:       aead,
		verifier:   verifier,
	}
}

// State exposes the node state for subscription management and admin
// read-only status.
func (r *Runtime) State() *node.State { return r.state }

// PumpOnce advances the node by one tick at nowStep: sweep, drain both
// lanes through the receive pipeline, run the ACK retry pass, seal and
// emit queued payloads, and send everything outbound. It returns the
// tick's counter delta and every event raised, in processing order.
//
// A non-nil error is soft: either every configured peer refused sends this
// tick, or sealing a queued payload or an ACK failed, in which case the
// tick returns before anything outbound (retries included) is sent. State
// has still advanced and the next tick may proceed.
func (r *Runtime) PumpOnce(nowStep uint64) (Stats, []node.Event, error) {
	var stats Stats
	var events []node.Event

	r.state.Sweep(nowStep, r.cfg.TTLSteps)

	rcfg := node.ReceiveConfig{
		NowStep:    nowStep,
		TTLSteps:   r.cfg.TTLSteps,
		DecryptKey: r.decryptKey,
		AEAD:       r.aead,
		Verifier:   r.verifier,
		Tier:       r.cfg.Tier,
	}

	var ackPayloads [][]byte
	attempted, failed := 0, 0

	for _, lane := range []*Lane{&r.fast, &r.fallback} {
		for drained := 0; r.cfg.DrainBatch <= 0 || drained < r.cfg.DrainBatch; drained++ {
			in, ok := lane.Adapter.Recv()
			if !ok {
				break
			}
			ev, err := node.ReceiveShard(r.state, in.Payload, rcfg)
			if err != nil {
				// Adversarial or corrupt bytes: dropped, never fatal.
				continue
			}
			if ev.Kind != node.EventNothing {
				stats.ParsedShards++
			}
			if ev.Forward {
				sent, att, fl := r.forward(lane, in.PeerID, in.Payload, ev.ShardID)
				attempted += att
				failed += fl
				stats.SendFailures += uint64(fl)
				if sent > 0 {
					stats.Forwarded++
					if ev.Kind == node.EventCached {
						ev.Kind = node.EventForwarded
					}
				}
			}
			switch ev.Kind {
			case node.EventDelivered:
				stats.Delivered++
				if r.cfg.EmitAcks && r.pub != nil {
					ackPayloads = append(ackPayloads, node.EncodeAck(ev.Root))
				}
			case node.EventAckCleared:
				stats.AckCleared++
			}
			events = append(events, ev)
		}
	}

	var outbound [][]byte
	if r.pub != nil {
		resend, exhausted := publisher.RetryTick(r.state, nowStep)
		outbound = append(outbound, resend...)
		for _, root := range exhausted {
			events = append(events, node.Event{Kind: node.EventAckFailed, Root: root})
		}

		published, err := r.pub.PublishTick(r.state, r.cfg.PublishNamespace, r.cfg.PublishEpoch, r.cfg.PublishTag, nowStep, r.cfg.PublishOptions)
		if err != nil {
			return stats, events, err
		}
		for _, pub := range published {
			outbound = append(outbound, pub.Shards...)
		}

		ackOpts := r.cfg.PublishOptions
		ackOpts.AckRequested = false
		for _, payload := range ackPayloads {
			pub, err := r.pub.PublishOne(r.state, r.cfg.PublishNamespace, r.cfg.PublishEpoch, r.cfg.PublishTag, payload, nowStep, ackOpts)
			if err != nil {
				return stats, events, err
			}
			outbound = append(outbound, pub.Shards...)
		}
	}

	att, fl := r.sendSplit(outbound)
	attempted += att
	failed += fl
	stats.SendFailures += uint64(fl)

	if attempted > 0 && failed == attempted {
		return stats, events, verror.New(verror.TransportFailure, "every configured peer refused sends this tick")
	}
	return stats, events, nil
}

// forward multicasts an encoded shard to up to lane.Fanout peers on the
// ingress lane, excluding the peer it arrived from. Peer selection rotates
// deterministically, seeded by the shard id.
func (r *Runtime) forward(lane *Lane, ingressPeer string, encoded []byte, sid primitives.ShardID) (sent, attempted, failed int) {
	candidates := make([]string, 0, len(lane.Peers))
	for _, p := range lane.Peers {
		if p != ingressPeer {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 || lane.Fanout <= 0 {
		return 0, 0, 0
	}

	start := int(binary.BigEndian.Uint16(sid[:2])) % len(candidates)
	count := lane.Fanout
	if count > len(candidates) {
		count = len(candidates)
	}
	for i := 0; i < count; i++ {
		peer := candidates[(start+i)%len(candidates)]
		attempted++
		if err := lane.Adapter.Send(peer, encoded); err != nil {
			failed++
			continue
		}
		sent++
	}
	return sent, attempted, failed
}

// sendSplit partitions outbound shards across the two lanes by their
// configured fanouts: each repeating window of fast.Fanout+fallback.Fanout
// shards sends the first fast.Fanout on the fast lane and the rest on the
// fallback lane. Within a lane, shards rotate across the peer list.
func (r *Runtime) sendSplit(outbound [][]byte) (attempted, failed int) {
	window := r.fast.Fanout + r.fallback.Fanout
	if window <= 0 {
		window = 1
	}
	for i, payload := range outbound {
		lane := &r.fast
		if i%window >= r.fast.Fanout {
			lane = &r.fallback
		}
		if len(lane.Peers) == 0 {
			continue
		}
		peer := lane.Peers[i%len(lane.Peers)]
		attempted++
		if err := lane.Adapter.Send(peer, payload); err != nil {
			failed++
		}
	}
	return attempted, failed
}

// Package node implements the per-node runtime state and the shard
// ingestion pipeline: dedup, caching, inbox assembly, reconstruction,
// signature verification, decryption and ACK recognition.
package node

import (
	"sort"

	"github.com/veilnet/veil/cache"
	"github.com/veilnet/veil/codec"
	"github.com/veilnet/veil/primitives"
)

// backoffShiftCap bounds the exponential retry backoff so the shift never
// overflows and the longest retry interval stays finite.
const backoffShiftCap = 6

// PendingAck tracks one published object awaiting acknowledgement. The
// entry rotates through UnsentShards on each retry so repeated losses of
// the same subset don't starve reconstruction on the far side.
type PendingAck struct {
	UnsentShards   [][]byte // encoded shards available for resending
	NextRetryStep  uint64
	Retries        int
	MaxRetries     int
	RetryBatchSize int
	BackoffStep    uint64

	cursor int
}

// NextBatch returns up to RetryBatchSize encoded shards, advancing the
// rotation cursor so consecutive retries cover different shards.
func (p *PendingAck) NextBatch() [][]byte {
	if len(p.UnsentShards) == 0 || p.RetryBatchSize <= 0 {
		return nil
	}
	count := p.RetryBatchSize
	if count > len(p.UnsentShards) {
		count = len(p.UnsentShards)
	}
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, p.UnsentShards[p.cursor])
		p.cursor = (p.cursor + 1) % len(p.UnsentShards)
	}
	return out
}

// Reschedule advances the retry bookkeeping after one resend pass:
// retries is incremented and the next retry step backs off exponentially.
func (p *PendingAck) Reschedule(nowStep uint64) {
	p.Retries++
	shift := p.Retries
	if shift > backoffShiftCap {
		shift = backoffShiftCap
	}
	p.NextRetryStep = nowStep + p.BackoffStep<<uint(shift)
}

type inboxGroup struct {
	shards    map[uint16]codec.ShardV1
	firstStep uint64
}

// State is the complete mutable state of one VEIL node: its tag
// subscriptions, the shard cache, the reconstruction inbox, the
// at-most-once delivery ledger and the publisher's pending-ACK table.
// It is exclusively owned by the node's tick loop and is not safe for
// concurrent mutation.
type State struct {
	subscriptions map[primitives.Tag]struct{}
	cache         *cache.Cache
	inbox         map[primitives.ObjectRoot]*inboxGroup
	delivered     map[primitives.ObjectRoot]uint64 // root -> dedup expiry step
	pendingAcks   map[primitives.ObjectRoot]*PendingAck
}

// NewState creates an empty node state whose cache holds at most
// maxCacheShards shards.
func NewState(maxCacheShards int) *State {
	return &State{
		subscriptions: make(map[primitives.Tag]struct{}),
		cache:         cache.New(maxCacheShards),
		inbox:         make(map[primitives.ObjectRoot]*inboxGroup),
		delivered:     make(map[primitives.ObjectRoot]uint64),
		pendingAcks:   make(map[primitives.ObjectRoot]*PendingAck),
	}
}

// Cache exposes the shard cache for tier updates and observability.
func (s *State) Cache() *cache.Cache { return s.cache }

// Subscribe adds tag to the node's subscription set.
func (s *State) Subscribe(tag primitives.Tag) { s.subscriptions[tag] = struct{}{} }

// Unsubscribe removes tag from the node's subscription set.
func (s *State) Unsubscribe(tag primitives.Tag) { delete(s.subscriptions, tag) }

// Subscribed reports whether the node currently holds tag.
func (s *State) Subscribed(tag primitives.Tag) bool {
	_, ok := s.subscriptions[tag]
	return ok
}

// SubscriptionCount returns the number of subscribed tags.
func (s *State) SubscriptionCount() int { return len(s.subscriptions) }

// SubscribeRendezvousWindow derives the rendezvous tag for the current
// epoch window (and, near a boundary, the next window's tag) and
// subscribes to both, so objects published right before an epoch rollover
// are not missed. It returns the tags it subscribed to.
func (s *State) SubscribeRendezvousWindow(recipientKey [primitives.IDSize]byte, ns primitives.Namespace, nowSeconds, epochSeconds, overlapSeconds uint64) []primitives.Tag {
	current, next := primitives.RendezvousWindow(recipientKey, ns, nowSeconds, epochSeconds, overlapSeconds)
	tags := []primitives.Tag{current}
	s.Subscribe(current)
	if next != nil {
		s.Subscribe(*next)
		tags = append(tags, *next)
	}
	return tags
}

// InboxGroups returns the number of object roots with partial shards
// buffered.
func (s *State) InboxGroups() int { return len(s.inbox) }

// RegisterPendingAck records a published object awaiting acknowledgement.
func (s *State) RegisterPendingAck(root primitives.ObjectRoot, pa *PendingAck) {
	s.pendingAcks[root] = pa
}

// PendingAckFor returns the pending entry for root, if any.
func (s *State) PendingAckFor(root primitives.ObjectRoot) (*PendingAck, bool) {
	pa, ok := s.pendingAcks[root]
	return pa, ok
}

// ClearPendingAck removes the pending entry for root, reporting whether
// one existed.
func (s *State) ClearPendingAck(root primitives.ObjectRoot) bool {
	if _, ok := s.pendingAcks[root]; !ok {
		return false
	}
	delete(s.pendingAcks, root)
	return true
}

// PendingAckCount returns the number of objects still awaiting an ACK.
func (s *State) PendingAckCount() int { return len(s.pendingAcks) }

// DuePendingAcks returns the roots whose next_retry_step has arrived, in a
// stable order so two identical runs retry in the same sequence.
func (s *State) DuePendingAcks(nowStep uint64) []primitives.ObjectRoot {
	var due []primitives.ObjectRoot
	for root, pa := range s.pendingAcks {
		if pa.NextRetryStep <= nowStep {
			due = append(due, root)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return due
}

// Sweep advances the state to nowStep: expired shards leave the cache,
// inbox groups older than ttlSteps are dropped, and delivery-dedup entries
// past their window are forgotten.
func (s *State) Sweep(nowStep, ttlSteps uint64) {
	s.cache.EvictExpired(nowStep)
	for root, g := range s.inbox {
		if g.firstStep+ttlSteps < nowStep {
			delete(s.inbox, root)
		}
	}
	for root, expiry := range s.delivered {
		if expiry < nowStep {
			delete(s.delivered, root)
		}
	}
}

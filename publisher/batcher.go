// Package publisher implements the publish side of a VEIL node: batching
// app payloads, sealing and signing them into objects, splitting the
// result into shards, and the ACK-driven retry state machine.
package publisher

import "github.com/veilnet/veil/primitives"

// QueuedPayload is one application payload waiting to be published.
type QueuedPayload struct {
	ID        uint64               `json:"id"`
	Namespace primitives.Namespace `json:"namespace"`
	Payload   []byte               `json:"payload"`
}

// StoreSnapshot is the serializable value handed to a caller-supplied
// store: the pending publish queue only. Cache and inbox contents are
// deliberately not part of it.
type StoreSnapshot struct {
	Queue []QueuedPayload `json:"queue"`
}

// FeedBatcher is an ordered queue of app payloads with a configurable
// flush trigger: once flushAt payloads are queued a tick drains them, or
// every tick drains whatever is queued when flushAt <= 0 (interactive
// mode).
type FeedBatcher struct {
	queue   []QueuedPayload
	nextID  uint64
	flushAt int
}

// NewFeedBatcher creates a batcher that becomes ready once flushAt
// payloads are queued; flushAt <= 0 selects interactive mode.
func NewFeedBatcher(flushAt int) *FeedBatcher {
	return &FeedBatcher{flushAt: flushAt, nextID: 1}
}

// Enqueue appends payload to the queue and returns its queue id.
func (b *FeedBatcher) Enqueue(ns primitives.Namespace, payload []byte) uint64 {
	id := b.nextID
	b.nextID++
	b.queue = append(b.queue, QueuedPayload{
		ID:        id,
		Namespace: ns,
		Payload:   append([]byte(nil), payload...),
	})
	return id
}

// Len returns the number of queued payloads.
func (b *FeedBatcher) Len() int { return len(b.queue) }

// Ready reports whether the flush trigger has fired.
func (b *FeedBatcher) Ready() bool {
	if len(b.queue) == 0 {
		return false
	}
	return b.flushAt <= 0 || len(b.queue) >= b.flushAt
}

// Drain removes and returns up to max payloads in enqueue order; max <= 0
// drains everything.
func (b *FeedBatcher) Drain(max int) []QueuedPayload {
	if max <= 0 || max > len(b.queue) {
		max = len(b.queue)
	}
	out := b.queue[:max]
	b.queue = append([]QueuedPayload(nil), b.queue[max:]...)
	return out
}

// Snapshot captures the queued payloads in the store-snapshot shape.
func (b *FeedBatcher) Snapshot() StoreSnapshot {
	queue := make([]QueuedPayload, len(b.queue))
	for i, q := range b.queue {
		queue[i] = QueuedPayload{
			ID:        q.ID,
			Namespace: q.Namespace,
			Payload:   append([]byte(nil), q.Payload...),
		}
	}
	return StoreSnapshot{Queue: queue}
}

// RestoreSnapshot replaces the queue with a previously captured snapshot,
// resuming id allocation past the highest restored id.
func (b *FeedBatcher) RestoreSnapshot(snap StoreSnapshot) {
	b.queue = make([]QueuedPayload, len(snap.Queue))
	maxID := uint64(0)
	for i, q := range snap.Queue {
		b.queue[i] = QueuedPayload{
			ID:        q.ID,
			Namespace: q.Namespace,
			Payload:   append([]byte(nil), q.Payload...),
		}
		if q.ID > maxID {
			maxID = q.ID
		}
	}
	b.nextID = maxID + 1
}

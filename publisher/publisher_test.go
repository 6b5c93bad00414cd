package publisher

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/veilnet/veil/crypto"
	"github.com/veilnet/veil/node"
	"github.com/veilnet/veil/primitives"
)

func testPipeline() *Pipeline {
	var seed [32]byte
	seed[0] = 0x42
	return &Pipeline{
		Batcher:    NewFeedBatcher(0),
		Signer:     crypto.NewIdentitySigner(seed),
		EncryptKey: crypto.DeriveEncryptKey([]byte("publisher-test-secret")),
		AEAD:       crypto.XChaCha{},
		Nonces:     NewSeededCounterNonce([16]byte{0x07}),
	}
}

func TestBatcherFlushTrigger(t *testing.T) {
	b := NewFeedBatcher(3)
	b.Enqueue(100, []byte("one"))
	b.Enqueue(100, []byte("two"))
	if b.Ready() {
		t.Fatalf("batcher must not be ready below its flush threshold")
	}
	b.Enqueue(100, []byte("three"))
	if !b.Ready() {
		t.Fatalf("batcher must be ready at its flush threshold")
	}

	drained := b.Drain(0)
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained payloads, got %d", len(drained))
	}
	for i, want := range []string{"one", "two", "three"} {
		if string(drained[i].Payload) != want {
			t.Fatalf("drain order broken at %d: got %q", i, drained[i].Payload)
		}
	}
	if b.Len() != 0 {
		t.Fatalf("queue should be empty after a full drain")
	}
}

func TestBatcherInteractiveMode(t *testing.T) {
	b := NewFeedBatcher(0)
	if b.Ready() {
		t.Fatalf("empty batcher is never ready")
	}
	b.Enqueue(100, []byte("now"))
	if !b.Ready() {
		t.Fatalf("interactive batcher is ready with any queued payload")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	b := NewFeedBatcher(0)
	b.Enqueue(7, []byte("alpha"))
	b.Enqueue(8, []byte("beta"))

	raw, err := json.Marshal(b.Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var snap StoreSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	restored := NewFeedBatcher(0)
	restored.RestoreSnapshot(snap)
	if restored.Len() != 2 {
		t.Fatalf("expected 2 restored payloads, got %d", restored.Len())
	}
	drained := restored.Drain(0)
	if drained[0].ID != 1 || !bytes.Equal(drained[0].Payload, []byte("alpha")) {
		t.Fatalf("first restored payload mismatch: %+v", drained[0])
	}
	if drained[1].Namespace != 8 {
		t.Fatalf("restored namespace mismatch: %d", drained[1].Namespace)
	}

	// Id allocation resumes past the restored ids.
	if id := restored.Enqueue(9, []byte("gamma")); id != 3 {
		t.Fatalf("id allocation should resume at 3, got %d", id)
	}
}

func TestCounterNonceNeverRepeats(t *testing.T) {
	src := NewSeededCounterNonce([16]byte{0xAA})
	seen := make(map[[crypto.NonceSize]byte]struct{})
	for i := 0; i < 1000; i++ {
		n, err := src.Next()
		if err != nil {
			t.Fatalf("nonce source failed: %v", err)
		}
		if _, dup := seen[n]; dup {
			t.Fatalf("nonce repeated at iteration %d", i)
		}
		seen[n] = struct{}{}
	}
}

func TestPublishRegistersPendingAck(t *testing.T) {
	p := testPipeline()
	st := node.NewState(0)

	pub, err := p.PublishOne(st, 42, 1, primitives.Tag{0x11}, []byte("needs ack"), 10, Options{
		AckRequested: true, MaxRetries: 3, RetryBatchSize: 2, BackoffStep: 5,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	pa, ok := st.PendingAckFor(pub.Root)
	if !ok {
		t.Fatalf("pending ack not registered under the shard-group root")
	}
	if pa.NextRetryStep != 15 {
		t.Fatalf("first retry should be armed at now+backoff, got %d", pa.NextRetryStep)
	}
	if len(pa.UnsentShards) != len(pub.Shards) {
		t.Fatalf("pending entry should hold every encoded shard")
	}
}

func TestPublishWithoutRetryParamsFails(t *testing.T) {
	p := testPipeline()
	st := node.NewState(0)
	_, err := p.PublishOne(st, 42, 1, primitives.Tag{0x11}, []byte("x"), 0, Options{AckRequested: true})
	if err == nil {
		t.Fatalf("ack_requested without retry parameters must be rejected")
	}
}

func TestRetryTickRotatesAndBacksOff(t *testing.T) {
	p := testPipeline()
	st := node.NewState(0)
	pub, err := p.PublishOne(st, 42, 1, primitives.Tag{0x11}, []byte("retry me"), 0, Options{
		AckRequested: true, MaxRetries: 5, RetryBatchSize: 2, BackoffStep: 10,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Not yet due.
	if resend, _ := RetryTick(st, 5); len(resend) != 0 {
		t.Fatalf("retry fired before next_retry_step")
	}

	first, failed := RetryTick(st, 10)
	if len(failed) != 0 {
		t.Fatalf("unexpected retry exhaustion")
	}
	if len(first) != 2 {
		t.Fatalf("expected a batch of 2 shards, got %d", len(first))
	}
	pa, _ := st.PendingAckFor(pub.Root)
	if pa.Retries != 1 {
		t.Fatalf("retries should be 1, got %d", pa.Retries)
	}
	// Backoff doubles: now + backoff<<1.
	if pa.NextRetryStep != 10+10<<1 {
		t.Fatalf("backoff not applied, next retry at %d", pa.NextRetryStep)
	}

	second, _ := RetryTick(st, pa.NextRetryStep)
	if len(second) != 2 {
		t.Fatalf("expected another batch of 2")
	}
	if bytes.Equal(first[0], second[0]) {
		t.Fatalf("retry batches should rotate across shards")
	}
}

func TestRetryExhaustionDropsEntry(t *testing.T) {
	p := testPipeline()
	st := node.NewState(0)
	pub, err := p.PublishOne(st, 42, 1, primitives.Tag{0x11}, []byte("never acked"), 0, Options{
		AckRequested: true, MaxRetries: 2, RetryBatchSize: 1, BackoffStep: 1,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	now := uint64(1)
	var failed []primitives.ObjectRoot
	for i := 0; i < 10 && st.PendingAckCount() > 0; i++ {
		pa, _ := st.PendingAckFor(pub.Root)
		if pa != nil && pa.NextRetryStep > now {
			now = pa.NextRetryStep
		}
		_, f := RetryTick(st, now)
		failed = append(failed, f...)
		now++
	}
	if st.PendingAckCount() != 0 {
		t.Fatalf("exhausted entry was never dropped")
	}
	if len(failed) != 1 || failed[0] != pub.Root {
		t.Fatalf("expected exactly one failure for the published root, got %v", failed)
	}
}

func TestPublishTickDrainsBatch(t *testing.T) {
	p := testPipeline()
	st := node.NewState(0)
	p.Batcher.Enqueue(42, []byte("first"))
	p.Batcher.Enqueue(42, []byte("second"))

	published, err := p.PublishTick(st, 42, 1, primitives.Tag{0x11}, 0, Options{Signed: true})
	if err != nil {
		t.Fatalf("publish tick: %v", err)
	}
	if len(published) != 2 {
		t.Fatalf("expected 2 published objects, got %d", len(published))
	}
	if published[0].Root == published[1].Root {
		t.Fatalf("distinct payloads must yield distinct roots")
	}
	if p.Batcher.Len() != 0 {
		t.Fatalf("batcher should be drained")
	}
}

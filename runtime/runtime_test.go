package runtime

import (
	"bytes"
	"testing"

	"github.com/veilnet/veil/cache"
	"github.com/veilnet/veil/crypto"
	"github.com/veilnet/veil/node"
	"github.com/veilnet/veil/primitives"
	"github.com/veilnet/veil/publisher"
	"github.com/veilnet/veil/transport"
)

var (
	e2eTag    = primitives.Tag{0x11, 0x22, 0x33}
	e2eNS     = primitives.Namespace(42)
	e2eEpoch  = primitives.Epoch(123456)
	e2eSecret = []byte("runtime-e2e-shared-secret")
)

func e2ePipeline(noncePrefix byte) *publisher.Pipeline {
	var seed [32]byte
	seed[0] = 0x42
	return &publisher.Pipeline{
		Batcher:    publisher.NewFeedBatcher(0),
		Signer:     crypto.NewIdentitySigner(seed),
		EncryptKey: crypto.DeriveEncryptKey(e2eSecret),
		AEAD:       crypto.XChaCha{},
		Nonces:     publisher.NewSeededCounterNonce([16]byte{noncePrefix}),
	}
}

func e2eConfig() Config {
	return Config{
		MaxCacheShards:   1024,
		TTLSteps:         100,
		DrainBatch:       64,
		Tier:             cache.TierCommunity,
		PublishNamespace: e2eNS,
		PublishEpoch:     e2eEpoch,
		PublishTag:       e2eTag,
		PublishOptions:   publisher.Options{Signed: true},
	}
}

func newRuntime(cfg Config, fast, fallback Lane, pub *publisher.Pipeline) *Runtime {
	st := node.NewState(cfg.MaxCacheShards)
	st.Subscribe(e2eTag)
	return New(cfg, st, fast, fallback, pub, crypto.DeriveEncryptKey(e2eSecret), crypto.XChaCha{}, crypto.Ed25519Verifier{})
}

func TestLaneSplitPartitionsShards(t *testing.T) {
	fastAdapter := transport.NewMemory()
	fallbackAdapter := transport.NewMemory()

	cfg := e2eConfig()
	pub := e2ePipeline(0x01)
	rt := newRuntime(cfg,
		Lane{Adapter: fastAdapter, Peers: []string{"fast-peer"}, Fanout: 2},
		Lane{Adapter: fallbackAdapter, Peers: []string{"fallback-peer"}, Fanout: 1},
		pub)

	pub.Batcher.Enqueue(e2eNS, []byte("lane split probe"))
	if _, _, err := rt.PumpOnce(0); err != nil {
		t.Fatalf("pump: %v", err)
	}

	fastSent := fastAdapter.Sent()
	fallbackSent := fallbackAdapter.Sent()
	if len(fastSent) != 2 {
		t.Fatalf("expected 2 shards on the fast lane, got %d", len(fastSent))
	}
	if len(fallbackSent) != 1 {
		t.Fatalf("expected 1 shard on the fallback lane, got %d", len(fallbackSent))
	}

	// A subscriber fed only the fallback lane's single shard cannot reach
	// k and never delivers.
	fallbackOnly := newRuntime(e2eConfig(),
		Lane{Adapter: transport.NewMemory(), Peers: nil},
		Lane{Adapter: transport.NewMemory(), Peers: nil},
		nil)
	ev, err := node.ReceiveShard(fallbackOnly.State(), fallbackSent[0].Payload, node.ReceiveConfig{
		NowStep: 0, TTLSteps: 100,
		DecryptKey: crypto.DeriveEncryptKey(e2eSecret),
		AEAD:       crypto.XChaCha{}, Verifier: crypto.Ed25519Verifier{},
	})
	if err != nil {
		t.Fatalf("receive fallback shard: %v", err)
	}
	if ev.Kind == node.EventDelivered {
		t.Fatalf("one shard of three must not deliver")
	}

	// Fed both lanes, the same subscriber delivers.
	both := newRuntime(e2eConfig(),
		Lane{Adapter: transport.NewMemory(), Peers: nil},
		Lane{Adapter: transport.NewMemory(), Peers: nil},
		nil)
	delivered := 0
	step := uint64(0)
	for _, in := range append(fastSent, fallbackSent...) {
		ev, err := node.ReceiveShard(both.State(), in.Payload, node.ReceiveConfig{
			NowStep: step, TTLSteps: 100,
			DecryptKey: crypto.DeriveEncryptKey(e2eSecret),
			AEAD:       crypto.XChaCha{}, Verifier: crypto.Ed25519Verifier{},
		})
		step++
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if ev.Kind == node.EventDelivered {
			delivered++
			if !bytes.Equal(ev.Payload, []byte("lane split probe")) {
				t.Fatalf("delivered payload mismatch")
			}
		}
	}
	if delivered != 1 {
		t.Fatalf("expected exactly one delivery across both lanes, got %d", delivered)
	}
}

// wirePair builds two runtimes whose fast lanes are connected back to
// back over in-memory adapters.
func wirePair(pubOpts publisher.Options, subEmitsAcks bool) (pubRT, subRT *Runtime, pubPipe *publisher.Pipeline) {
	pubFast := transport.NewMemory()
	subFast := transport.NewMemory()
	transport.Wire(pubFast, subFast, "pub", "sub")

	pubCfg := e2eConfig()
	pubCfg.PublishOptions = pubOpts
	pubPipe = e2ePipeline(0x01)
	pubRT = newRuntime(pubCfg,
		Lane{Adapter: pubFast, Peers: []string{"sub"}, Fanout: 3},
		Lane{Adapter: transport.NewMemory(), Peers: nil, Fanout: 0},
		pubPipe)

	subCfg := e2eConfig()
	subCfg.EmitAcks = subEmitsAcks
	subRT = newRuntime(subCfg,
		Lane{Adapter: subFast, Peers: []string{"pub"}, Fanout: 3},
		Lane{Adapter: transport.NewMemory(), Peers: nil, Fanout: 0},
		e2ePipeline(0x02))
	return pubRT, subRT, pubPipe
}

func TestAckLoopClearsPending(t *testing.T) {
	pubRT, subRT, pubPipe := wirePair(publisher.Options{
		Signed: true, AckRequested: true, MaxRetries: 3, RetryBatchSize: 2, BackoffStep: 5,
	}, true)

	pubPipe.Batcher.Enqueue(e2eNS, []byte("acknowledge me"))
	if _, _, err := pubRT.PumpOnce(0); err != nil {
		t.Fatalf("publisher tick: %v", err)
	}
	if pubRT.State().PendingAckCount() != 1 {
		t.Fatalf("pending ack should be armed after publishing")
	}

	stats, events, err := subRT.PumpOnce(1)
	if err != nil {
		t.Fatalf("subscriber tick: %v", err)
	}
	if stats.Delivered != 1 {
		t.Fatalf("subscriber should deliver exactly once, got %d", stats.Delivered)
	}
	sawDelivered := false
	for _, ev := range events {
		if ev.Kind == node.EventDelivered && bytes.Equal(ev.Payload, []byte("acknowledge me")) {
			sawDelivered = true
		}
	}
	if !sawDelivered {
		t.Fatalf("expected a delivered event with the original payload")
	}

	stats, _, err = pubRT.PumpOnce(2)
	if err != nil {
		t.Fatalf("publisher ack tick: %v", err)
	}
	if stats.AckCleared != 1 {
		t.Fatalf("expected one ack_cleared, got %d", stats.AckCleared)
	}
	if pubRT.State().PendingAckCount() != 0 {
		t.Fatalf("pending ack table should be empty after the ACK round-trip")
	}
}

func TestSuppressedAckRetriesToExhaustion(t *testing.T) {
	pubRT, _, pubPipe := wirePair(publisher.Options{
		Signed: true, AckRequested: true, MaxRetries: 2, RetryBatchSize: 1, BackoffStep: 5,
	}, false)

	pubPipe.Batcher.Enqueue(e2eNS, []byte("shouting into the void"))

	sawFailure := false
	for step := uint64(0); step < 60; step++ {
		_, events, err := pubRT.PumpOnce(step)
		if err != nil {
			t.Fatalf("tick %d: %v", step, err)
		}
		for _, ev := range events {
			if ev.Kind == node.EventAckFailed {
				sawFailure = true
			}
		}
	}
	if !sawFailure {
		t.Fatalf("expected an ack_failed event after retries exhausted")
	}
	if pubRT.State().PendingAckCount() != 0 {
		t.Fatalf("exhausted entry should be dropped")
	}
}

func TestPumpDeterminism(t *testing.T) {
	run := func() (Stats, Stats) {
		pubRT, subRT, pubPipe := wirePair(publisher.Options{
			Signed: true, AckRequested: true, MaxRetries: 3, RetryBatchSize: 2, BackoffStep: 5,
		}, true)
		pubPipe.Batcher.Enqueue(e2eNS, []byte("deterministic run"))

		var pubTotal, subTotal Stats
		for step := uint64(0); step < 10; step++ {
			d1, _, _ := pubRT.PumpOnce(step)
			pubTotal.Add(d1)
			d2, _, _ := subRT.PumpOnce(step)
			subTotal.Add(d2)
		}
		return pubTotal, subTotal
	}

	p1, s1 := run()
	p2, s2 := run()
	if p1 != p2 {
		t.Fatalf("publisher stats diverged between identical runs: %+v vs %+v", p1, p2)
	}
	if s1 != s2 {
		t.Fatalf("subscriber stats diverged between identical runs: %+v vs %+v", s1, s2)
	}
}

func TestCacheCapHoldsAcrossTicks(t *testing.T) {
	cfg := e2eConfig()
	cfg.MaxCacheShards = 4
	adapter := transport.NewMemory()
	rt := New(cfg, node.NewState(4),
		Lane{Adapter: adapter, Peers: nil, Fanout: 0},
		Lane{Adapter: transport.NewMemory(), Peers: nil, Fanout: 0},
		nil, crypto.DeriveEncryptKey(e2eSecret), crypto.XChaCha{}, crypto.Ed25519Verifier{})

	pipe := e2ePipeline(0x05)
	st := node.NewState(0)
	for i := 0; i < 5; i++ {
		pub, err := pipe.PublishOne(st, e2eNS, e2eEpoch, e2eTag, []byte{byte(i)}, 0, publisher.Options{})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		for _, sh := range pub.Shards {
			adapter.EnqueueInbound("peer", sh)
		}
	}

	for step := uint64(0); step < 4; step++ {
		if _, _, err := rt.PumpOnce(step); err != nil {
			t.Fatalf("pump: %v", err)
		}
		if rt.State().Cache().Len() > 4 {
			t.Fatalf("cache exceeded cap after tick %d: %d", step, rt.State().Cache().Len())
		}
	}
}

func TestDriverRunSteps(t *testing.T) {
	fastAdapter := transport.NewMemory()
	pub := e2ePipeline(0x03)
	rt := newRuntime(e2eConfig(),
		Lane{Adapter: fastAdapter, Peers: []string{"peer"}, Fanout: 1},
		Lane{Adapter: transport.NewMemory(), Peers: nil, Fanout: 0},
		pub)

	pub.Batcher.Enqueue(e2eNS, []byte("driver probe"))
	stats, err := RunSteps(rt, 0, 3, DriverConfig{}, nil)
	if err != nil {
		t.Fatalf("run steps: %v", err)
	}
	if stats.SendFailures != 0 {
		t.Fatalf("memory adapter should never fail sends")
	}
	if len(fastAdapter.Sent()) == 0 {
		t.Fatalf("driver should have pushed shards out")
	}
}

func TestScenarioDropsAreDeterministicAndBounded(t *testing.T) {
	drops := 0
	for i := 0; i < 1000; i++ {
		if PracticalBaseline.Drops(i) != PracticalBaseline.Drops(i) {
			t.Fatalf("drop decision must be deterministic")
		}
		if PracticalBaseline.Drops(i) {
			drops++
		}
	}
	if drops == 0 || drops > 200 {
		t.Fatalf("drop rate implausible for a 10%% scenario: %d/1000", drops)
	}
}

func TestLossyLinkStillDeliversWithRedundancy(t *testing.T) {
	// MICRO coding (k=2, n=3) rides out the baseline loss rate as long as
	// at most one of an object's three shards is dropped.
	pipe := e2ePipeline(0x04)
	st := node.NewState(0)
	pub, err := pipe.PublishOne(st, e2eNS, e2eEpoch, e2eTag, []byte("lossy link"), 0, publisher.Options{Signed: true})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	sub := node.NewState(0)
	sub.Subscribe(e2eTag)
	delivered := 0
	for i, sh := range pub.Shards {
		if PracticalBaseline.Drops(i) {
			continue
		}
		ev, err := node.ReceiveShard(sub, sh, node.ReceiveConfig{
			NowStep: uint64(i), TTLSteps: 100,
			DecryptKey: crypto.DeriveEncryptKey(e2eSecret),
			AEAD:       crypto.XChaCha{}, Verifier: crypto.Ed25519Verifier{},
		})
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if ev.Kind == node.EventDelivered {
			delivered++
		}
	}
	if delivered != 1 {
		t.Fatalf("expected delivery despite baseline loss, got %d", delivered)
	}
}

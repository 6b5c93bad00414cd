package cache

import (
	"testing"

	"github.com/veilnet/veil/primitives"
)

func TestObserveFirstSeenThenFreshens(t *testing.T) {
	c := New(0)
	id := primitives.ShardID{0x01}

	first := c.Observe(id, []byte("data"), 100, 1, TierCommunity)
	if !first {
		t.Fatalf("expected first observation to report firstSeen=true")
	}
	second := c.Observe(id, []byte("data"), 100, 5, TierCommunity)
	if second {
		t.Fatalf("expected second observation to report firstSeen=false")
	}

	shard, tier, ok := c.Get(id)
	if !ok {
		t.Fatalf("expected shard to be present")
	}
	if shard.LastSeenStep != 5 {
		t.Fatalf("last_seen_step not freshened: got %d", shard.LastSeenStep)
	}
	if tier != TierCommunity {
		t.Fatalf("unexpected tier %v", tier)
	}
}

func TestEvictExpired(t *testing.T) {
	c := New(0)
	a := primitives.ShardID{0x01}
	b := primitives.ShardID{0x02}
	c.Observe(a, []byte("a"), 10, 0, TierCommunity)
	c.Observe(b, []byte("b"), 100, 0, TierCommunity)

	evicted := c.EvictExpired(50)
	if len(evicted) != 1 || evicted[0] != a {
		t.Fatalf("expected only shard a to be evicted, got %v", evicted)
	}
	if c.Has(a) {
		t.Fatalf("shard a should have been evicted")
	}
	if !c.Has(b) {
		t.Fatalf("shard b should still be present")
	}
}

func TestEvictOverCapacityOrdersByTier(t *testing.T) {
	c := New(2)
	low := primitives.ShardID{0x01}
	mid := primitives.ShardID{0x02}
	high := primitives.ShardID{0x03}

	c.Observe(low, []byte("low"), 1000, 1, TierUnknown)
	c.Observe(mid, []byte("mid"), 1000, 2, TierTrusted)
	c.Observe(high, []byte("high"), 1000, 3, TierPinned)

	if c.Len() != 2 {
		t.Fatalf("expected cache capped at 2 entries, got %d", c.Len())
	}
	if c.Has(low) {
		t.Fatalf("lowest-tier shard should have been evicted first")
	}
	if !c.Has(mid) || !c.Has(high) {
		t.Fatalf("higher-tier shards should survive eviction")
	}
}

func TestEvictOverCapacityPrefersLeastRecentlySeen(t *testing.T) {
	c := New(2)
	a := primitives.ShardID{0x0A}
	b := primitives.ShardID{0x0B}
	d := primitives.ShardID{0x0D}

	c.Observe(a, []byte("a"), 1000, 1, TierCommunity)
	c.Observe(b, []byte("b"), 1000, 2, TierCommunity)
	c.Observe(d, []byte("d"), 1000, 3, TierCommunity)

	if c.Has(a) {
		t.Fatalf("least-recently-seen shard within the same tier should be evicted")
	}
	if !c.Has(b) || !c.Has(d) {
		t.Fatalf("more recently seen shards should survive")
	}
}

func TestSetTierAndIncRequestCount(t *testing.T) {
	c := New(0)
	id := primitives.ShardID{0x01}
	c.Observe(id, []byte("x"), 10, 0, TierUnknown)
	c.SetTier(id, TierPinned)
	c.IncRequestCount(id)

	_, tier, ok := c.Get(id)
	if !ok || tier != TierPinned {
		t.Fatalf("expected tier to be updated to Pinned, got %v ok=%v", tier, ok)
	}
}

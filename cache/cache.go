package cache

import (
	"sort"
	"sync"

	"github.com/veilnet/veil/primitives"
)

// CachedShard is one shard's encoded bytes plus its lifecycle bookkeeping.
type CachedShard struct {
	Encoded      []byte
	ExpiryStep   uint64
	LastSeenStep uint64
}

type entry struct {
	shard           CachedShard
	tier            TrustTier
	replicaEstimate uint64
	requestCount    uint64
}

// Cache holds every currently-known shard, evicting by expiry and, once the
// configured capacity is exceeded, by the priority order described in
// evictOverCapacity: lowest trust tier first, then least-recently-seen,
// then highest replica estimate, with the lowest request count as a final
// tiebreak. Pinned shards are never evicted for capacity.
type Cache struct {
	mu       sync.Mutex
	capacity int
	shards   map[primitives.ShardID]*entry
}

// New creates a Cache that holds at most capacity shards. capacity <= 0
// means unbounded.
func New(capacity int) *Cache {
	return &Cache{capacity: capacity, shards: make(map[primitives.ShardID]*entry)}
}

// Observe records a shard observation: on first sight it is inserted with
// the given tier and expiry; on every subsequent observation it is
// freshened (last_seen_step updated, replica estimate bumped) regardless of
// tier or expiry arguments. The request count is not touched here; callers
// bump it with IncRequestCount. It reports whether this was the shard's
// first observation.
func (c *Cache) Observe(id primitives.ShardID, encoded []byte, expiryStep, nowStep uint64, tier TrustTier) (firstSeen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.shards[id]; ok {
		e.shard.LastSeenStep = nowStep
		e.replicaEstimate++
		return false
	}

	c.shards[id] = &entry{
		shard: CachedShard{
			Encoded:      append([]byte(nil), encoded...),
			ExpiryStep:   expiryStep,
			LastSeenStep: nowStep,
		},
		tier:            tier,
		replicaEstimate: 1,
	}
	c.evictOverCapacity()
	return true
}

// Get returns the cached shard and its tier, if present.
func (c *Cache) Get(id primitives.ShardID) (CachedShard, TrustTier, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.shards[id]
	if !ok {
		return CachedShard{}, TierUnknown, false
	}
	return e.shard, e.tier, true
}

// Has reports whether id is currently cached.
func (c *Cache) Has(id primitives.ShardID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.shards[id]
	return ok
}

// IncRequestCount bumps the request counter used as an eviction tiebreak,
// e.g. when a peer explicitly asks this node to forward the shard again.
func (c *Cache) IncRequestCount(id primitives.ShardID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.shards[id]; ok {
		e.requestCount++
	}
}

// SetTier updates a cached shard's trust tier, e.g. after the publisher
// identity behind it is verified.
func (c *Cache) SetTier(id primitives.ShardID, tier TrustTier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.shards[id]; ok {
		e.tier = tier
	}
}

// EvictExpired removes every shard whose expiry_step is before nowStep.
func (c *Cache) EvictExpired(nowStep uint64) (evicted []primitives.ShardID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.shards {
		if e.shard.ExpiryStep < nowStep {
			delete(c.shards, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Len returns the number of shards currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.shards)
}

// evictOverCapacity must be called with c.mu held. It removes the
// lowest-priority shards until the cache is back at or under capacity,
// ordered by (tier ascending, last_seen_step ascending, replica_estimate
// descending, request_count ascending).
func (c *Cache) evictOverCapacity() {
	if c.capacity <= 0 || len(c.shards) <= c.capacity {
		return
	}

	type ranked struct {
		id primitives.ShardID
		e  *entry
	}
	// Pinned shards are exempt from cap pressure; only TTL removes them.
	all := make([]ranked, 0, len(c.shards))
	for id, e := range c.shards {
		if e.tier == TierPinned {
			continue
		}
		all = append(all, ranked{id, e})
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].e, all[j].e
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if a.shard.LastSeenStep != b.shard.LastSeenStep {
			return a.shard.LastSeenStep < b.shard.LastSeenStep
		}
		if a.replicaEstimate != b.replicaEstimate {
			return a.replicaEstimate > b.replicaEstimate
		}
		return a.requestCount < b.requestCount
	})

	overflow := len(c.shards) - c.capacity
	if overflow > len(all) {
		overflow = len(all)
	}
	for i := 0; i < overflow; i++ {
		delete(c.shards, all[i].id)
	}
}

package cache

import (
	"encoding/binary"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/blastcore/internal/core/voxel"
)

var _ Materials = (*Sharded)(nil)

// DefaultShards is used when NewSharded is given a non-positive shard count.
const DefaultShards = 16

type shard struct {
	mx      sync.RWMutex
	entries map[uint64]voxel.Material
}

// Sharded is a lock-striped cache safe for concurrent explosion computations over
// the same world.
type Sharded struct {
	backing Backing
	expiry  int64
	shards  []shard
	mask    uint64

	lastCleanup atomic.Int64
	hits        atomic.Uint64
	misses      atomic.Uint64
	cleanups    atomic.Uint64
}

// NewSharded returns a Sharded cache. The shard count is rounded up to a power of two.
func NewSharded(backing Backing, expiry int64, shards int) *Sharded {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if shards <= 0 {
		shards = DefaultShards
	}
	n := 1 << bits.Len(uint(shards-1))

	c := &Sharded{
		backing: backing,
		expiry:  expiry,
		shards:  make([]shard, n),
		mask:    uint64(n - 1),
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[uint64]voxel.Material, 256)
	}
	return c
}

func (c *Sharded) shardFor(key uint64) *shard {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return &c.shards[xxhash.Sum64(buf[:])&c.mask]
}

func (c *Sharded) Material(p voxel.Pos) voxel.Material {
	k := p.Key()
	s := c.shardFor(k)

	s.mx.RLock()
	m, ok := s.entries[k]
	s.mx.RUnlock()
	if ok {
		c.hits.Add(1)
		return m
	}

	c.misses.Add(1)
	m = c.backing.Material(p)

	s.mx.Lock()
	s.entries[k] = m
	s.mx.Unlock()
	return m
}

func (c *Sharded) Resistance(p voxel.Pos) float32 {
	return c.Material(p).Resistance
}

func (c *Sharded) Fluid(p voxel.Pos) bool {
	return c.Material(p).Fluid
}

func (c *Sharded) Cleanup(now int64) bool {
	last := c.lastCleanup.Load()
	if now-last < c.expiry {
		return false
	}
	if !c.lastCleanup.CompareAndSwap(last, now) {
		return false
	}
	c.Clear()
	c.cleanups.Add(1)
	return true
}

func (c *Sharded) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mx.Lock()
		clear(s.entries)
		s.mx.Unlock()
	}
}

func (c *Sharded) Stats() Stats {
	entries := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mx.RLock()
		entries += len(s.entries)
		s.mx.RUnlock()
	}
	return Stats{
		Entries:     entries,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Cleanups:    c.cleanups.Load(),
		LastCleanup: c.lastCleanup.Load(),
	}
}

func (c *Sharded) Warmup(centre voxel.Pos, radius int) {
	sphere(centre, radius, func(p voxel.Pos) { c.Material(p) })
}

// ShardCount returns the number of lock stripes.
func (c *Sharded) ShardCount() int { return len(c.shards) }

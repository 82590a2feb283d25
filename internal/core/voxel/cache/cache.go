package cache

import (
	"github.com/zeusync/blastcore/internal/core/voxel"
)

// DefaultExpiry is the number of ticks after which a cache is cleared wholesale.
const DefaultExpiry int64 = 600

// Backing is where cache misses are resolved.
type Backing interface {
	Material(p voxel.Pos) voxel.Material
}

// Materials memoises per-cell material reads for one world.
type Materials interface {
	Material(p voxel.Pos) voxel.Material
	Resistance(p voxel.Pos) float32
	Fluid(p voxel.Pos) bool

	// Cleanup clears every entry once expiry ticks have passed since the last clear.
	// It reports whether a clear happened.
	Cleanup(now int64) bool
	Clear()
	Stats() Stats
	// Warmup loads every cell within radius of centre.
	Warmup(centre voxel.Pos, radius int)
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Entries     int
	Hits        uint64
	Misses      uint64
	Cleanups    uint64
	LastCleanup int64
}

// HitRate returns hits / (hits + misses), or 0 when nothing was read.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

var _ Materials = (*Plain)(nil)

// Plain is an unsynchronised cache. It must only be used by one goroutine at a time.
type Plain struct {
	backing     Backing
	expiry      int64
	entries     map[uint64]voxel.Material
	lastCleanup int64

	hits, misses, cleanups uint64
}

// New returns a Plain cache over backing. A non-positive expiry uses DefaultExpiry.
func New(backing Backing, expiry int64) *Plain {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Plain{
		backing: backing,
		expiry:  expiry,
		entries: make(map[uint64]voxel.Material, 1024),
	}
}

func (c *Plain) Material(p voxel.Pos) voxel.Material {
	k := p.Key()
	if m, ok := c.entries[k]; ok {
		c.hits++
		return m
	}
	c.misses++
	m := c.backing.Material(p)
	c.entries[k] = m
	return m
}

func (c *Plain) Resistance(p voxel.Pos) float32 {
	return c.Material(p).Resistance
}

func (c *Plain) Fluid(p voxel.Pos) bool {
	return c.Material(p).Fluid
}

func (c *Plain) Cleanup(now int64) bool {
	if now-c.lastCleanup < c.expiry {
		return false
	}
	c.Clear()
	c.lastCleanup = now
	c.cleanups++
	return true
}

func (c *Plain) Clear() {
	clear(c.entries)
}

func (c *Plain) Stats() Stats {
	return Stats{
		Entries:     len(c.entries),
		Hits:        c.hits,
		Misses:      c.misses,
		Cleanups:    c.cleanups,
		LastCleanup: c.lastCleanup,
	}
}

func (c *Plain) Warmup(centre voxel.Pos, radius int) {
	sphere(centre, radius, func(p voxel.Pos) { c.Material(p) })
}

func sphere(centre voxel.Pos, radius int, fn func(voxel.Pos)) {
	r2 := radius * radius
	for x := -radius; x <= radius; x++ {
		for y := -radius; y <= radius; y++ {
			for z := -radius; z <= radius; z++ {
				if x*x+y*y+z*z <= r2 {
					fn(centre.Add(voxel.P(x, y, z)))
				}
			}
		}
	}
}

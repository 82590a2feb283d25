package explosion

import (
	"math"

	"github.com/google/uuid"

	"github.com/zeusync/blastcore/internal/core/voxel"
)

// Pending is an explosion waiting to be batched.
type Pending struct {
	Center  voxel.Vec3
	Power   float64
	Ignites bool
	Source  uuid.UUID
}

// Batch groups explosions queued in the same tick and chunk.
type Batch struct {
	Tick    int64
	CX, CZ  int
	Members []Pending
}

// Merged folds the members into one explosion at their mean centre whose power is
// the root of the summed squared powers.
func (b *Batch) Merged() Pending {
	if len(b.Members) == 1 {
		return b.Members[0]
	}
	var (
		center voxel.Vec3
		energy float64
		out    Pending
	)
	for _, m := range b.Members {
		center = center.Add(m.Center)
		energy += m.Power * m.Power
		out.Ignites = out.Ignites || m.Ignites
	}
	out.Center = center.Mul(1 / float64(len(b.Members)))
	out.Power = math.Sqrt(energy)
	out.Source = b.Members[0].Source
	return out
}

type batchKey struct {
	tick   int64
	cx, cz int
}

// BatchCollector buckets pending explosions by tick and chunk. It is not safe for
// concurrent use; the world loop owns it.
type BatchCollector struct {
	max     int
	batches map[batchKey]*Batch
	order   []batchKey
}

func NewBatchCollector(maxSize int) *BatchCollector {
	if maxSize < 2 {
		maxSize = 2
	}
	return &BatchCollector{max: maxSize, batches: make(map[batchKey]*Batch)}
}

// Add queues p. When its batch reaches the maximum size the batch is removed and
// returned so the caller can run it right away.
func (c *BatchCollector) Add(tick int64, p Pending) *Batch {
	cx, cz := voxel.PosOf(p.Center).Chunk()
	k := batchKey{tick: tick, cx: cx, cz: cz}

	b, ok := c.batches[k]
	if !ok {
		b = &Batch{Tick: tick, CX: cx, CZ: cz}
		c.batches[k] = b
		c.order = append(c.order, k)
	}
	b.Members = append(b.Members, p)

	if len(b.Members) < c.max {
		return nil
	}
	c.remove(k)
	return b
}

// Flush removes and returns the batches collected before tick, oldest first.
func (c *BatchCollector) Flush(before int64) []*Batch {
	var out []*Batch
	keep := c.order[:0]
	for _, k := range c.order {
		if k.tick < before {
			out = append(out, c.batches[k])
			delete(c.batches, k)
			continue
		}
		keep = append(keep, k)
	}
	c.order = keep
	return out
}

// Len returns the number of open batches.
func (c *BatchCollector) Len() int { return len(c.batches) }

func (c *BatchCollector) remove(k batchKey) {
	delete(c.batches, k)
	for i, o := range c.order {
		if o == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

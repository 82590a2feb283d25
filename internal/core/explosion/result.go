package explosion

import (
	"github.com/google/uuid"

	"github.com/zeusync/blastcore/internal/core/voxel"
	"github.com/zeusync/blastcore/pkg/generic"
)

// DefaultPoolSize is the number of idle Results a ResultPool keeps.
const DefaultPoolSize = 16

// Result is the outcome of one calculation. It is consumed once by the applier and
// then released; accessors panic on a released Result.
type Result struct {
	snapshotID uint64
	ignites    bool

	destroyed []voxel.Pos
	knockback map[uuid.UUID]voxel.Vec3
	order     []uuid.UUID

	released bool
}

func newResult() *Result {
	return &Result{
		destroyed: make([]voxel.Pos, 0, 256),
		knockback: make(map[uuid.UUID]voxel.Vec3, 8),
	}
}

func (r *Result) live() {
	if r.released {
		panic(ErrResultReleased)
	}
}

func (r *Result) reset() {
	r.snapshotID = 0
	r.ignites = false
	r.destroyed = r.destroyed[:0]
	clear(r.knockback)
	r.order = r.order[:0]
	r.released = true
}

// bind ties an empty Result to the snapshot it is computed from.
func (r *Result) bind(s *Snapshot) {
	r.snapshotID = s.ID()
	r.ignites = s.Ignites
}

func (r *Result) addDestroyed(p voxel.Pos) {
	r.destroyed = append(r.destroyed, p)
}

func (r *Result) setKnockback(id uuid.UUID, v voxel.Vec3) {
	if _, ok := r.knockback[id]; !ok {
		r.order = append(r.order, id)
	}
	r.knockback[id] = v
}

// SnapshotID is the ID of the snapshot the Result was computed against.
func (r *Result) SnapshotID() uint64 {
	r.live()
	return r.snapshotID
}

// Destroyed lists destroyed cells in discovery order. The slice is owned by the Result.
func (r *Result) Destroyed() []voxel.Pos {
	r.live()
	return r.destroyed
}

// Knockback returns the knockback for one entity.
func (r *Result) Knockback(id uuid.UUID) (voxel.Vec3, bool) {
	r.live()
	v, ok := r.knockback[id]
	return v, ok
}

// Entities lists entities with knockback in the order they were computed.
func (r *Result) Entities() []uuid.UUID {
	r.live()
	return r.order
}

func (r *Result) Ignites() bool {
	r.live()
	return r.ignites
}

// Released reports whether the Result went back to its pool.
func (r *Result) Released() bool { return r.released }

// Empty reports whether nothing is destroyed and nobody is pushed.
func (r *Result) Empty() bool {
	r.live()
	return len(r.destroyed) == 0 && len(r.knockback) == 0
}

// ResultPool is a fixed-capacity free list of Results.
type ResultPool struct {
	pool *generic.FixedPool[*Result]
}

func NewResultPool(capacity int) *ResultPool {
	if capacity < 0 {
		capacity = DefaultPoolSize
	}
	return &ResultPool{
		pool: generic.NewFixedPool(capacity, newResult, (*Result).reset),
	}
}

// Acquire returns an empty Result.
func (p *ResultPool) Acquire() *Result {
	r := p.pool.Get()
	r.released = false
	return r
}

// Release clears r and keeps it for reuse when there is room. Releasing twice is a no-op.
func (p *ResultPool) Release(r *Result) {
	if r == nil || r.released {
		return
	}
	p.pool.Put(r)
}

// Idle returns the number of pooled Results.
func (p *ResultPool) Idle() int { return p.pool.Len() }

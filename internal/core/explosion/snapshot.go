package explosion

import (
	"math"
	"sync/atomic"

	"github.com/zeusync/blastcore/internal/core/voxel"
)

const (
	// maxEntityRadius caps the entity search and damage radius.
	maxEntityRadius = 8.0

	shieldStep       = 0.5
	shieldHard       = 20
	shieldSoft       = 5
	shieldSoftNeeded = 2
)

var snapshotSeq atomic.Uint64

// CaptureOptions tune what Capture records besides cell materials.
type CaptureOptions struct {
	// Protector enables land protection when set.
	Protector voxel.Protector
	// Locker enables container lock protection when set.
	Locker voxel.Locker
	// ShieldEntities drops entities hidden behind explosion-proof cells.
	ShieldEntities bool
	// Seed drives the per-ray power jitter.
	Seed int64
}

// Snapshot is an immutable copy of the world around an explosion. It holds no
// references to live world objects.
type Snapshot struct {
	id uint64

	Center  voxel.Vec3
	Power   float64
	Ignites bool
	Seed    int64
	Tick    int64

	// Min and Max bound the copied cells, inclusive.
	Min, Max voxel.Pos

	Entities []voxel.EntitySnapshot

	// InFluid is set when the centre cell holds a fluid; no cells are destroyed then.
	InFluid bool
	// CenterProtected is set when the centre lies in protected land.
	CenterProtected bool

	cells     map[uint64]voxel.Material
	protected map[uint64]struct{}
}

// Capture copies the cells within power+1 of center and the entities within
// min(2*power, 8). It reads live state and must run on the world loop.
func Capture(r voxel.Reader, center voxel.Vec3, power float64, ignites bool, opts CaptureOptions) *Snapshot {
	minY, maxY := r.Range()

	s := &Snapshot{
		id:        snapshotSeq.Add(1),
		Center:    center,
		Power:     power,
		Ignites:   ignites,
		Seed:      opts.Seed,
		Tick:      r.CurrentTick(),
		protected: make(map[uint64]struct{}),
	}

	centerCell := voxel.PosOf(center)
	s.InFluid = r.Material(centerCell).Fluid
	if opts.Protector != nil && !opts.Protector.CanExplodeAt(centerCell) {
		s.CenterProtected = true
	}

	reach := power + 1
	s.Min = voxel.Pos{
		X: int(math.Floor(center[0] - reach)),
		Y: max(minY, int(math.Floor(center[1]-reach))),
		Z: int(math.Floor(center[2] - reach)),
	}
	s.Max = voxel.Pos{
		X: int(math.Ceil(center[0] + reach)),
		Y: min(maxY, int(math.Ceil(center[1]+reach))),
		Z: int(math.Ceil(center[2] + reach)),
	}

	size := (s.Max.X - s.Min.X + 1) * max(0, s.Max.Y-s.Min.Y+1) * (s.Max.Z - s.Min.Z + 1)
	s.cells = make(map[uint64]voxel.Material, size)

	land := newLandCheck(opts.Protector)
	checkLand := land != nil && !s.CenterProtected

	for x := s.Min.X; x <= s.Max.X; x++ {
		for y := s.Min.Y; y <= s.Max.Y; y++ {
			for z := s.Min.Z; z <= s.Max.Z; z++ {
				p := voxel.Pos{X: x, Y: y, Z: z}
				m := r.Material(p)
				s.cells[p.Key()] = m

				if checkLand && land.protected(p) {
					s.protected[p.Key()] = struct{}{}
					continue
				}
				if opts.Locker != nil && !m.Air && opts.Locker.Locked(p, m) {
					s.protectHalo(p)
				}
			}
		}
	}

	radius := entityRadius(power)
	search := voxel.BBox{
		Min: center.Sub(voxel.Vec3{radius, radius, radius}),
		Max: center.Add(voxel.Vec3{radius, radius, radius}),
	}
	for _, e := range r.EntitiesIn(search) {
		if opts.ShieldEntities && shielded(r, center, e.Position) {
			continue
		}
		s.Entities = append(s.Entities, e)
	}

	return s
}

// ID identifies the snapshot. Results carry the ID of the snapshot they came from.
func (s *Snapshot) ID() uint64 { return s.id }

// Material returns the copied material at p; ok is false outside the copied box.
func (s *Snapshot) Material(p voxel.Pos) (m voxel.Material, ok bool) {
	m, ok = s.cells[p.Key()]
	return m, ok
}

// Protected reports whether p must survive the explosion.
func (s *Snapshot) Protected(p voxel.Pos) bool {
	_, ok := s.protected[p.Key()]
	return ok
}

// CellCount returns the number of copied cells.
func (s *Snapshot) CellCount() int { return len(s.cells) }

// ProtectedCount returns the number of protected cells.
func (s *Snapshot) ProtectedCount() int { return len(s.protected) }

// EntityRadius returns the radius within which entities are affected.
func (s *Snapshot) EntityRadius() float64 { return entityRadius(s.Power) }

func (s *Snapshot) protectHalo(p voxel.Pos) {
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				s.protected[p.Add(voxel.P(dx, dy, dz)).Key()] = struct{}{}
			}
		}
	}
}

func entityRadius(power float64) float64 {
	return math.Min(power*2, maxEntityRadius)
}

// landCheck memoises chunk-level protection verdicts for one capture.
type landCheck struct {
	protector voxel.Protector
	chunks    voxel.ChunkProtector
	verdicts  map[[2]int]chunkVerdict
}

type chunkVerdict struct {
	allowed, known bool
}

func newLandCheck(p voxel.Protector) *landCheck {
	if p == nil {
		return nil
	}
	lc := &landCheck{protector: p, verdicts: make(map[[2]int]chunkVerdict)}
	lc.chunks, _ = p.(voxel.ChunkProtector)
	return lc
}

func (lc *landCheck) protected(p voxel.Pos) bool {
	if lc.chunks != nil {
		cx, cz := p.Chunk()
		key := [2]int{cx, cz}
		v, ok := lc.verdicts[key]
		if !ok {
			v.allowed, v.known = lc.chunks.ChunkVerdict(cx, cz)
			lc.verdicts[key] = v
		}
		if v.known {
			return !v.allowed
		}
	}
	return !lc.protector.CanExplodeAt(p)
}

// shielded reports whether the sightline from center to target crosses a cell with
// resistance above shieldHard, or one above shieldSoft followed closely by
// shieldSoftNeeded more.
func shielded(r voxel.Reader, center, target voxel.Vec3) bool {
	delta := target.Sub(center)
	dist := delta.Len()
	if dist < 0.1 {
		return false
	}
	dir := delta.Mul(1 / dist)
	steps := int(math.Ceil(dist / shieldStep))

	at := func(i int) voxel.Pos {
		return voxel.PosOf(center.Add(dir.Mul(float64(i) * shieldStep)))
	}

	for i := 1; i < steps; i++ {
		p := at(i)
		m := r.Material(p)
		if m.Air {
			continue
		}
		if m.Resistance > shieldHard {
			return true
		}
		if m.Resistance <= shieldSoft {
			continue
		}
		soft := 0
		for j := i + 1; j < min(i+3, steps); j++ {
			next := at(j)
			if next != p && r.Material(next).Resistance > shieldSoft {
				soft++
			}
		}
		if soft >= shieldSoftNeeded {
			return true
		}
	}
	return false
}

package explosion

import (
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zeusync/blastcore/internal/core/events/bus"
	"github.com/zeusync/blastcore/internal/core/observability/log"
	"github.com/zeusync/blastcore/internal/core/voxel"
)

const (
	// EventDestroy is published before cells are removed. Handlers receive a
	// *DestroyEvent and may veto cells.
	EventDestroy = "explosion.destroy"
	// EventApplied is published after a Result was applied, carrying a Report.
	EventApplied = "explosion.applied"

	eventSource = "explosion"

	recoverRadius     = 8.0
	damageReach       = 8.0
	invulnerableTicks = 10
	submergedDamage   = 0.5
	submergedPush     = 0.7
	debrisParticles   = 16
	fireChance        = 3
)

// DestroyEvent lists the cells an explosion is about to remove, already shuffled.
type DestroyEvent struct {
	Center voxel.Vec3
	Source uuid.UUID
	Cells  []voxel.Pos
	// Cancelled vetoes every cell.
	Cancelled bool
}

// Veto removes p from the cells to destroy.
func (e *DestroyEvent) Veto(p voxel.Pos) {
	e.Cells = slices.DeleteFunc(e.Cells, func(c voxel.Pos) bool { return c == p })
}

// ApplyStats summarises what an apply changed.
type ApplyStats struct {
	Vetoed    int
	Removed   int
	Drops     int
	Notified  int
	Hurt      int
	Recovered int
	Missing   int
	Ignited   int
}

// ApplierOptions configure an Applier.
type ApplierOptions struct {
	Damage      DamageFormula
	VanillaFire bool
	Debug       bool
}

// Applier writes a Result back into the world. It must only be used on the world loop.
type Applier struct {
	opts ApplierOptions
	bus  bus.EventBus
	log  log.Log
}

// NewApplier returns an Applier. events may be nil, in which case no veto happens.
func NewApplier(opts ApplierOptions, events bus.EventBus, logger log.Log) *Applier {
	if opts.Damage == "" {
		opts.Damage = DamageVanilla
	}
	return &Applier{opts: opts, bus: events, log: log.OrNop(logger)}
}

// Apply performs the side effects of res around center. Failures are logged and
// reported in the error; the world is left in whatever state was reached.
func (a *Applier) Apply(tx voxel.Tx, res *Result, source uuid.UUID, center voxel.Vec3) (stats ApplyStats, err error) {
	if res == nil || res.Released() {
		return stats, ErrResultReleased
	}

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("applying explosion panicked", log.String("panic", fmt.Sprint(r)))
			err = errors.Errorf("apply explosion: %v", r)
		}
	}()

	a.effects(tx, center)

	cells := a.filter(tx, res.Destroyed(), source, center)
	stats.Vetoed = len(res.Destroyed()) - len(cells)

	removed := a.remove(tx, cells, &stats)
	stats.Notified = a.notify(tx, removed)

	a.push(tx, res, source, center, &stats)

	if res.Ignites() {
		stats.Ignited = a.ignite(tx, res.Destroyed())
	}

	if a.opts.Debug {
		a.log.Debug("explosion applied",
			log.Int("removed", stats.Removed),
			log.Int("vetoed", stats.Vetoed),
			log.Int("hurt", stats.Hurt),
			log.Int("recovered", stats.Recovered),
			log.Int("missing", stats.Missing),
			log.Int("ignited", stats.Ignited),
		)
	}
	return stats, nil
}

func (a *Applier) effects(tx voxel.Tx, center voxel.Vec3) {
	tx.PlaySound(center, voxel.SoundExplode)
	tx.AddParticle(center, voxel.ParticleEmitter, 1)
	tx.AddParticle(center, voxel.ParticleDebris, debrisParticles)
}

// filter shuffles a copy of cells with a seed drawn from the world and lets event
// handlers veto entries.
func (a *Applier) filter(tx voxel.Tx, cells []voxel.Pos, source uuid.UUID, center voxel.Vec3) []voxel.Pos {
	out := slices.Clone(cells)
	rng := rand.New(rand.NewSource(tx.Rand().Int63()))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })

	if a.bus == nil || len(out) == 0 || !a.bus.HasSubscribers(EventDestroy) {
		return out
	}

	ev := &DestroyEvent{Center: center, Source: source, Cells: out}
	if err := a.bus.Publish(bus.NewEvent(EventDestroy, eventSource, ev, nil)); err != nil {
		a.log.Warn("destroy handlers failed", log.Error(err))
	}
	if ev.Cancelled {
		return nil
	}
	return ev.Cells
}

// remove clears cells and spawns their drops merged per cell. It returns the
// removed cells.
func (a *Applier) remove(tx voxel.Tx, cells []voxel.Pos, stats *ApplyStats) map[voxel.Pos]struct{} {
	removed := make(map[voxel.Pos]struct{}, len(cells))
	type cellDrops struct {
		at    voxel.Pos
		drops []voxel.Drop
	}
	var pending []cellDrops
	index := make(map[voxel.Pos]int)

	for _, p := range cells {
		m := tx.Material(p)
		if m.Air {
			continue
		}
		if drops := m.Drops(); len(drops) > 0 {
			i, ok := index[p]
			if !ok {
				i = len(pending)
				index[p] = i
				pending = append(pending, cellDrops{at: p})
			}
			pending[i].drops = mergeDrops(pending[i].drops, drops)
		}
		tx.SetMaterial(p, voxel.Air)
		removed[p] = struct{}{}
	}

	for _, cd := range pending {
		for _, d := range cd.drops {
			if d.Count > 0 {
				tx.SpawnDrop(cd.at.Centre(), d)
				stats.Drops++
			}
		}
	}
	stats.Removed = len(removed)
	return removed
}

func mergeDrops(into, drops []voxel.Drop) []voxel.Drop {
next:
	for _, d := range drops {
		for i := range into {
			if into[i].Mergeable(d) {
				into[i].Count += d.Count
				continue next
			}
		}
		into = append(into, d)
	}
	return into
}

// notify sends one neighbour update per cell bordering the removed region.
func (a *Applier) notify(tx voxel.Tx, removed map[voxel.Pos]struct{}) int {
	if len(removed) == 0 {
		return 0
	}
	boundary := make(map[voxel.Pos]struct{})
	var order []voxel.Pos
	for p := range removed {
		for _, n := range p.Neighbours() {
			if _, inside := removed[n]; inside {
				continue
			}
			if _, dup := boundary[n]; dup {
				continue
			}
			boundary[n] = struct{}{}
			order = append(order, n)
		}
	}
	slices.SortFunc(order, comparePos)
	for _, p := range order {
		tx.NotifyNeighbour(p)
	}
	return len(order)
}

func (a *Applier) push(tx voxel.Tx, res *Result, source uuid.UUID, center voxel.Vec3, stats *ApplyStats) {
	src := voxel.DamageSource{Cause: voxel.CauseExplosion, Attacker: source}
	for _, id := range res.Entities() {
		kb, _ := res.Knockback(id)

		e, ok := tx.Entity(id)
		if !ok {
			e, ok = a.recoverEntity(tx, id, center)
			if !ok {
				stats.Missing++
				continue
			}
			stats.Recovered++
		}

		dist := e.Position().Sub(center).Len()
		damage := a.damage(dist, kb.Len())
		if e.Submerged() {
			damage *= submergedDamage
			kb = kb.Mul(submergedPush)
		}
		if damage > 0 && e.Hurt(damage, src) {
			stats.Hurt++
		}
		e.SetVelocity(e.Velocity().Add(kb))
		e.SetInvulnerableTicks(max(e.InvulnerableTicks(), invulnerableTicks))
	}
}

// recoverEntity finds an entity by id near center when the direct lookup misses.
func (a *Applier) recoverEntity(tx voxel.Tx, id uuid.UUID, center voxel.Vec3) (voxel.Entity, bool) {
	r := voxel.Vec3{recoverRadius, recoverRadius, recoverRadius}
	for _, e := range tx.EntitiesWithin(voxel.BBox{Min: center.Sub(r), Max: center.Add(r)}) {
		if e.ID() == id {
			return e, true
		}
	}
	return nil, false
}

func (a *Applier) damage(dist, push float64) float64 {
	return Damage(a.opts.Damage, dist, push)
}

// Damage computes explosion damage for an entity dist away from the centre that
// received a knockback of length push.
func Damage(formula DamageFormula, dist, push float64) float64 {
	switch formula {
	case DamageImpact:
		i := (1 - dist/damageReach) * push
		return math.Max(0, i*(i+1)/2*7*8+1)
	default:
		i := math.Max(0, (damageReach-dist)/damageReach)
		return (i*i+i)*7*4 + 1
	}
}

// ignite places fire in a third of the destroyed cells that are now empty and
// rest on a suitable cell.
func (a *Applier) ignite(tx voxel.Tx, cells []voxel.Pos) int {
	rng := tx.Rand()
	var fires []voxel.Pos
	for _, p := range cells {
		if rng.Intn(fireChance) != 0 || !tx.Material(p).Air {
			continue
		}
		below := tx.Material(p.Down())
		if a.opts.VanillaFire && !below.Solid {
			continue
		}
		if !a.opts.VanillaFire && below.Air {
			continue
		}
		fires = append(fires, p)
	}
	for _, p := range fires {
		tx.SetMaterial(p, voxel.Fire)
	}
	return len(fires)
}

func comparePos(a, b voxel.Pos) int {
	switch {
	case a.X != b.X:
		return a.X - b.X
	case a.Y != b.Y:
		return a.Y - b.Y
	default:
		return a.Z - b.Z
	}
}

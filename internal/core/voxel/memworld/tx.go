package memworld

import (
	"bytes"
	"math/rand"
	"slices"

	"github.com/google/uuid"

	"github.com/zeusync/blastcore/internal/core/voxel"
)

var _ voxel.Tx = (*tx)(nil)

type tx struct {
	w *World
}

func (t *tx) Material(p voxel.Pos) voxel.Material { return t.w.Material(p) }

func (t *tx) Range() (int, int) { return t.w.Range() }

func (t *tx) EntitiesIn(box voxel.BBox) []voxel.EntitySnapshot { return t.w.EntitiesIn(box) }

func (t *tx) CurrentTick() int64 { return t.w.CurrentTick() }

func (t *tx) SetMaterial(p voxel.Pos, m voxel.Material) { t.w.Set(p, m) }

func (t *tx) Entity(id uuid.UUID) (voxel.Entity, bool) {
	e, ok := t.w.Lookup(id)
	if !ok {
		return nil, false
	}
	return e, true
}

func (t *tx) EntitiesWithin(box voxel.BBox) []voxel.Entity {
	t.w.mx.RLock()
	found := make([]*Entity, 0, 4)
	for _, e := range t.w.entities {
		if e.boxLocked().Intersects(box) {
			found = append(found, e)
		}
	}
	t.w.mx.RUnlock()

	slices.SortFunc(found, func(a, b *Entity) int { return bytes.Compare(a.id[:], b.id[:]) })
	out := make([]voxel.Entity, len(found))
	for i, e := range found {
		out[i] = e
	}
	return out
}

func (t *tx) PlaySound(at voxel.Vec3, s voxel.Sound) {
	t.w.record(func(e *Effects) { e.Sounds = append(e.Sounds, SoundEvent{At: at, Sound: s}) })
}

func (t *tx) AddParticle(at voxel.Vec3, p voxel.Particle, count int) {
	t.w.record(func(e *Effects) {
		e.Particles = append(e.Particles, ParticleEvent{At: at, Particle: p, Count: count})
	})
}

func (t *tx) SpawnDrop(at voxel.Vec3, d voxel.Drop) {
	t.w.record(func(e *Effects) { e.Drops = append(e.Drops, DropEvent{At: at, Drop: d}) })
}

func (t *tx) NotifyNeighbour(p voxel.Pos) {
	t.w.record(func(e *Effects) { e.Notified = append(e.Notified, p) })
}

func (t *tx) Rand() *rand.Rand { return t.w.rng }

func (w *World) record(f func(e *Effects)) {
	w.mx.Lock()
	f(&w.effects)
	w.mx.Unlock()
}

package memworld

import (
	"github.com/google/uuid"

	"github.com/zeusync/blastcore/internal/core/voxel"
)

var _ voxel.Entity = (*Entity)(nil)

// EntitySpec describes an entity to spawn. A zero ID gets a fresh random one.
type EntitySpec struct {
	ID       uuid.UUID
	Position voxel.Vec3
	Width    float64
	Height   float64
	Health   float64
}

// Hit records one Hurt call.
type Hit struct {
	Damage float64
	Source voxel.DamageSource
}

// Entity is a simple living entity. Position is the centre of its feet.
type Entity struct {
	w *World

	id     uuid.UUID
	pos    voxel.Vec3
	width  float64
	height float64

	vel    voxel.Vec3
	health float64
	invul  int
	hits   []Hit
}

func newEntity(w *World, spec EntitySpec) *Entity {
	if spec.ID == uuid.Nil {
		spec.ID = uuid.New()
	}
	if spec.Width <= 0 {
		spec.Width = 0.6
	}
	if spec.Height <= 0 {
		spec.Height = 1.8
	}
	if spec.Health <= 0 {
		spec.Health = 20
	}
	return &Entity{
		w:      w,
		id:     spec.ID,
		pos:    spec.Position,
		width:  spec.Width,
		height: spec.Height,
		health: spec.Health,
	}
}

func (e *Entity) ID() uuid.UUID { return e.id }

func (e *Entity) Position() voxel.Vec3 {
	e.w.mx.RLock()
	defer e.w.mx.RUnlock()
	return e.pos
}

// Teleport moves the entity.
func (e *Entity) Teleport(p voxel.Vec3) {
	e.w.mx.Lock()
	e.pos = p
	e.w.mx.Unlock()
}

func (e *Entity) Box() voxel.BBox {
	e.w.mx.RLock()
	defer e.w.mx.RUnlock()
	return e.boxLocked()
}

func (e *Entity) boxLocked() voxel.BBox {
	return voxel.EntityBox(e.pos, e.width, e.height)
}

func (e *Entity) Velocity() voxel.Vec3 {
	e.w.mx.RLock()
	defer e.w.mx.RUnlock()
	return e.vel
}

func (e *Entity) SetVelocity(v voxel.Vec3) {
	e.w.mx.Lock()
	e.vel = v
	e.w.mx.Unlock()
}

// Hurt subtracts damage from health. Damage is refused during invulnerability.
func (e *Entity) Hurt(damage float64, src voxel.DamageSource) bool {
	e.w.mx.Lock()
	defer e.w.mx.Unlock()
	if e.invul > 0 || e.health <= 0 {
		return false
	}
	e.health -= damage
	e.hits = append(e.hits, Hit{Damage: damage, Source: src})
	return true
}

func (e *Entity) Health() float64 {
	e.w.mx.RLock()
	defer e.w.mx.RUnlock()
	return e.health
}

// Hits returns every landed Hurt call.
func (e *Entity) Hits() []Hit {
	e.w.mx.RLock()
	defer e.w.mx.RUnlock()
	return append([]Hit(nil), e.hits...)
}

// Submerged reports whether the cell at the entity's feet holds a fluid.
func (e *Entity) Submerged() bool {
	return e.w.Material(voxel.PosOf(e.Position())).Fluid
}

func (e *Entity) InvulnerableTicks() int {
	e.w.mx.RLock()
	defer e.w.mx.RUnlock()
	return e.invul
}

func (e *Entity) SetInvulnerableTicks(ticks int) {
	e.w.mx.Lock()
	e.invul = ticks
	e.w.mx.Unlock()
}

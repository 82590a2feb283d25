package voxel

import (
	"math/rand"

	"github.com/google/uuid"
)

// Reader is read access to a world. Implementations used off the world loop must be
// safe for concurrent reads.
type Reader interface {
	Material(p Pos) Material
	// Range returns the inclusive vertical bounds of the world.
	Range() (minY, maxY int)
	EntitiesIn(box BBox) []EntitySnapshot
	CurrentTick() int64
}

// Protector answers land-protection queries.
type Protector interface {
	CanExplodeAt(p Pos) bool
}

// ChunkProtector is an optional extension of Protector that can answer for a whole
// chunk column at once. known is false when the answer differs per cell.
type ChunkProtector interface {
	Protector
	ChunkVerdict(cx, cz int) (allowed, known bool)
}

// Locker reports containers locked by their owner.
type Locker interface {
	Locked(p Pos, m Material) bool
}

// EntitySnapshot is a by-value copy of an entity taken on the world loop.
type EntitySnapshot struct {
	ID       uuid.UUID
	Position Vec3
	Box      BBox
}

// Entity is a live dynamic entity. Only valid inside a transaction.
type Entity interface {
	ID() uuid.UUID
	Position() Vec3
	Box() BBox
	Velocity() Vec3
	SetVelocity(v Vec3)
	// Hurt applies damage and reports whether it landed.
	Hurt(damage float64, src DamageSource) bool
	// Submerged reports whether the entity is inside a fluid.
	Submerged() bool
	InvulnerableTicks() int
	SetInvulnerableTicks(ticks int)
}

// DamageSource describes why damage was dealt.
type DamageSource struct {
	Cause string
	// Attacker is uuid.Nil when nothing is responsible.
	Attacker uuid.UUID
}

const CauseExplosion = "explosion"

type (
	Sound    string
	Particle string
)

const (
	SoundExplode Sound = "entity.generic.explode"

	ParticleEmitter Particle = "explosion_emitter"
	ParticleDebris  Particle = "explosion"
)

// Tx is mutating access to a world. A Tx is only valid for the duration of the
// transaction it was handed to and must only be used from the world loop.
type Tx interface {
	Reader

	SetMaterial(p Pos, m Material)
	Entity(id uuid.UUID) (Entity, bool)
	EntitiesWithin(box BBox) []Entity

	PlaySound(at Vec3, s Sound)
	AddParticle(at Vec3, p Particle, count int)
	SpawnDrop(at Vec3, d Drop)
	// NotifyNeighbour tells p that an adjacent cell changed.
	NotifyNeighbour(p Pos)

	// Rand is the world's random source. Only the loop draws from it.
	Rand() *rand.Rand
}

// ExecFunc is a transaction run on a world loop.
type ExecFunc func(tx Tx)

// Executor queues transactions on a world loop. The returned channel is closed once
// f has run, or immediately if the loop no longer accepts work.
type Executor interface {
	Exec(f ExecFunc) <-chan struct{}
}

package memworld

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/blastcore/internal/core/voxel"
)

func TestMaterialAndRange(t *testing.T) {
	w := New(Config{MinY: 0, MaxY: 15}, nil)
	w.Set(voxel.P(1, 1, 1), voxel.Stone)
	w.Set(voxel.P(1, 20, 1), voxel.Stone)

	require.Equal(t, voxel.Stone, w.Material(voxel.P(1, 1, 1)))
	require.Equal(t, voxel.Air, w.Material(voxel.P(1, 20, 1)))
	require.Equal(t, 1, w.CellCount())

	w.Fill(voxel.P(0, 0, 0), voxel.P(2, 0, 2), voxel.Dirt)
	require.Equal(t, 10, w.CellCount())

	w.Set(voxel.P(1, 1, 1), voxel.Air)
	require.Equal(t, 9, w.CellCount())
}

func TestExecRunsOnLoop(t *testing.T) {
	w := New(DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	var ran bool
	select {
	case <-w.Exec(func(tx voxel.Tx) {
		tx.SetMaterial(voxel.P(0, 0, 0), voxel.TNT)
		ran = true
	}):
	case <-time.After(time.Second):
		t.Fatal("transaction did not run")
	}
	require.True(t, ran)
	require.Equal(t, voxel.TNT, w.Material(voxel.P(0, 0, 0)))

	w.Close()
	require.NoError(t, <-done)

	select {
	case <-w.Exec(func(voxel.Tx) { t.Error("ran after close") }):
	case <-time.After(time.Second):
		t.Fatal("exec after close blocked")
	}
}

func TestTransactionPanicIsContained(t *testing.T) {
	w := New(DefaultConfig(), nil)
	require.NotPanics(t, func() {
		w.Update(func(voxel.Tx) { panic("boom") })
	})
	w.Update(func(tx voxel.Tx) { tx.SetMaterial(voxel.P(0, 0, 0), voxel.Stone) })
	require.Equal(t, voxel.Stone, w.Material(voxel.P(0, 0, 0)))
}

func TestEntities(t *testing.T) {
	w := New(DefaultConfig(), nil)
	a := w.Spawn(EntitySpec{Position: voxel.Vec3{0.5, 0, 0.5}})
	w.Spawn(EntitySpec{Position: voxel.Vec3{50, 0, 50}})

	near := w.EntitiesIn(voxel.Box(voxel.Vec3{-2, -2, -2}, voxel.Vec3{2, 2, 2}))
	require.Len(t, near, 1)
	require.Equal(t, a.ID(), near[0].ID)
	require.Equal(t, a.Box(), near[0].Box)

	w.Update(func(tx voxel.Tx) {
		e, ok := tx.Entity(a.ID())
		require.True(t, ok)
		require.True(t, e.Hurt(4, voxel.DamageSource{Cause: voxel.CauseExplosion}))
		e.SetInvulnerableTicks(10)
		require.False(t, e.Hurt(4, voxel.DamageSource{Cause: voxel.CauseExplosion}))

		require.Len(t, tx.EntitiesWithin(voxel.Box(voxel.Vec3{-1, -1, -1}, voxel.Vec3{1, 1, 1})), 1)
	})
	require.InDelta(t, 16, a.Health(), 1e-9)
	require.Len(t, a.Hits(), 1)

	w.Remove(a.ID())
	_, ok := w.Lookup(a.ID())
	require.False(t, ok)
}

func TestSubmerged(t *testing.T) {
	w := New(DefaultConfig(), nil)
	e := w.Spawn(EntitySpec{Position: voxel.Vec3{0.5, 1, 0.5}})
	require.False(t, e.Submerged())
	w.Set(voxel.P(0, 1, 0), voxel.Water)
	require.True(t, e.Submerged())
}

func TestProtection(t *testing.T) {
	w := New(DefaultConfig(), nil)
	w.Protect(voxel.Box(voxel.Vec3{0, 0, 0}, voxel.Vec3{4, 4, 4}))
	w.Lock(voxel.P(20, 0, 20))

	require.False(t, w.CanExplodeAt(voxel.P(1, 1, 1)))
	require.True(t, w.CanExplodeAt(voxel.P(5, 1, 1)))

	_, known := w.ChunkVerdict(0, 0)
	require.False(t, known)
	allowed, known := w.ChunkVerdict(3, 3)
	require.True(t, known)
	require.True(t, allowed)

	require.True(t, w.Locked(voxel.P(20, 0, 20), voxel.Chest))
	require.False(t, w.Locked(voxel.P(20, 1, 20), voxel.Chest))
}

func TestEffectsRecorded(t *testing.T) {
	w := New(DefaultConfig(), nil)
	w.Update(func(tx voxel.Tx) {
		tx.PlaySound(voxel.Vec3{}, voxel.SoundExplode)
		tx.AddParticle(voxel.Vec3{}, voxel.ParticleEmitter, 1)
		tx.SpawnDrop(voxel.Vec3{}, voxel.Drop{Item: "dirt", Count: 3})
		tx.NotifyNeighbour(voxel.P(0, 1, 0))
	})

	fx := w.Effects()
	require.Len(t, fx.Sounds, 1)
	require.Len(t, fx.Particles, 1)
	require.Equal(t, 3, fx.DropCount("dirt"))
	require.Equal(t, []voxel.Pos{voxel.P(0, 1, 0)}, fx.Notified)

	w.ResetEffects()
	require.Empty(t, w.Effects().Sounds)
}

package explosion

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/blastcore/internal/core/voxel"
)

func TestCaptureCopiesRegion(t *testing.T) {
	w := newWorld(t)
	w.Set(voxel.P(2, 64, 0), voxel.Stone)
	w.SetTick(40)

	snap := Capture(w, origin, 2, true, CaptureOptions{Seed: 5})

	require.Equal(t, voxel.P(-3, 61, -3), snap.Min)
	require.Equal(t, voxel.P(4, 68, 4), snap.Max)
	require.Equal(t, 8*8*8, snap.CellCount())
	require.Equal(t, int64(40), snap.Tick)
	require.Equal(t, int64(5), snap.Seed)
	require.True(t, snap.Ignites)

	m, ok := snap.Material(voxel.P(2, 64, 0))
	require.True(t, ok)
	require.Equal(t, voxel.Stone, m)

	_, ok = snap.Material(voxel.P(10, 64, 0))
	require.False(t, ok)

	// Later world changes do not leak into the copy.
	w.Set(voxel.P(2, 64, 0), voxel.Air)
	m, _ = snap.Material(voxel.P(2, 64, 0))
	require.Equal(t, voxel.Stone, m)
}

func TestCaptureClampsToWorldHeight(t *testing.T) {
	w := newWorld(t)
	snap := Capture(w, voxel.Vec3{0.5, 1.5, 0.5}, 4, false, CaptureOptions{})
	require.Equal(t, 0, snap.Min.Y)

	snap = Capture(w, voxel.Vec3{0.5, 254.5, 0.5}, 4, false, CaptureOptions{})
	require.Equal(t, 255, snap.Max.Y)
}

func TestCaptureIDsAreUnique(t *testing.T) {
	w := newWorld(t)
	a := Capture(w, origin, 1, false, CaptureOptions{})
	b := Capture(w, origin, 1, false, CaptureOptions{})
	require.NotEqual(t, a.ID(), b.ID())
}

func TestCaptureLandProtection(t *testing.T) {
	w := newWorld(t)
	w.Protect(voxel.Box(voxel.Vec3{2, 60, -4}, voxel.Vec3{6, 70, 4}))

	snap := Capture(w, origin, 3, false, CaptureOptions{Protector: w})
	require.False(t, snap.CenterProtected)
	require.True(t, snap.Protected(voxel.P(3, 64, 0)))
	require.False(t, snap.Protected(voxel.P(1, 64, 0)))

	unprotected := Capture(w, origin, 3, false, CaptureOptions{})
	require.Zero(t, unprotected.ProtectedCount())
}

type countingProtector struct {
	cells, chunks int
}

func (p *countingProtector) CanExplodeAt(voxel.Pos) bool { p.cells++; return true }

func (p *countingProtector) ChunkVerdict(int, int) (bool, bool) { p.chunks++; return true, true }

func TestCaptureMemoisesChunkVerdicts(t *testing.T) {
	w := newWorld(t)
	p := &countingProtector{}

	snap := Capture(w, origin, 3, false, CaptureOptions{Protector: p})
	require.Zero(t, snap.ProtectedCount())
	// Only the centre goes through the per-cell check.
	require.Equal(t, 1, p.cells)
	// The box spans x -4..5 and z -4..5, so chunks -1 and 0 on each axis.
	require.Equal(t, 4, p.chunks)
}

func TestCaptureLockHalo(t *testing.T) {
	w := newWorld(t)
	chest := voxel.P(2, 64, 0)
	w.Set(chest, voxel.Chest)
	w.Lock(chest)

	snap := Capture(w, origin, 3, false, CaptureOptions{Locker: w})
	require.Equal(t, 27, snap.ProtectedCount())
	require.True(t, snap.Protected(chest))
	require.True(t, snap.Protected(voxel.P(1, 63, -1)))
	require.False(t, snap.Protected(voxel.P(0, 64, 0)))
}

func TestCaptureEntityShielding(t *testing.T) {
	w := newWorld(t)
	w.Fill(voxel.P(3, 58, -3), voxel.P(3, 70, 3), voxel.Obsidian)
	hidden := spawnAt(w, voxel.Vec3{5.5, 64, 0.5})
	visible := spawnAt(w, voxel.Vec3{-2.5, 64, 0.5})

	all := Capture(w, origin, 4, false, CaptureOptions{})
	require.Len(t, all.Entities, 2)

	shielded := Capture(w, origin, 4, false, CaptureOptions{ShieldEntities: true})
	require.Len(t, shielded.Entities, 1)
	require.Equal(t, visible.ID(), shielded.Entities[0].ID)
	require.NotEqual(t, hidden.ID(), shielded.Entities[0].ID)
}

func TestCaptureSoftShielding(t *testing.T) {
	w := newWorld(t)
	// Three stacked layers of medium resistance shield; a single layer does not.
	w.Fill(voxel.P(3, 58, -3), voxel.P(5, 70, 3), voxel.Stone)
	spawnAt(w, voxel.Vec3{7.5, 64, 0.5})

	require.Empty(t, Capture(w, origin, 4, false, CaptureOptions{ShieldEntities: true}).Entities)

	w.Fill(voxel.P(4, 58, -3), voxel.P(5, 70, 3), voxel.Air)
	require.Len(t, Capture(w, origin, 4, false, CaptureOptions{ShieldEntities: true}).Entities, 1)
}

func TestEntityRadius(t *testing.T) {
	require.Equal(t, 2.0, entityRadius(1))
	require.Equal(t, 8.0, entityRadius(4))
	require.Equal(t, 8.0, entityRadius(20))
}

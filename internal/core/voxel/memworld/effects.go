package memworld

import (
	"slices"

	"github.com/zeusync/blastcore/internal/core/voxel"
)

type SoundEvent struct {
	At    voxel.Vec3
	Sound voxel.Sound
}

type ParticleEvent struct {
	At       voxel.Vec3
	Particle voxel.Particle
	Count    int
}

type DropEvent struct {
	At   voxel.Vec3
	Drop voxel.Drop
}

// Effects is the log of side effects a World has been asked to perform.
type Effects struct {
	Sounds    []SoundEvent
	Particles []ParticleEvent
	Drops     []DropEvent
	Notified  []voxel.Pos
}

// DropCount sums the item count of every spawned drop of item.
func (e Effects) DropCount(item string) int {
	n := 0
	for _, d := range e.Drops {
		if d.Drop.Item == item {
			n += d.Drop.Count
		}
	}
	return n
}

func (e Effects) clone() Effects {
	return Effects{
		Sounds:    slices.Clone(e.Sounds),
		Particles: slices.Clone(e.Particles),
		Drops:     slices.Clone(e.Drops),
		Notified:  slices.Clone(e.Notified),
	}
}

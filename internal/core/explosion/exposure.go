package explosion

import (
	"math"

	"github.com/zeusync/blastcore/internal/core/voxel"
	"github.com/zeusync/blastcore/internal/core/voxel/trace"
)

// Exposure returns the fraction of sample points on box that have an unobstructed
// sightline from center. Sampling density grows with the box size.
func (c *Calculator) Exposure(src trace.Source, center voxel.Vec3, box voxel.BBox) float64 {
	size := box.Size()
	stepX := 1 / (size[0]*2 + 1)
	stepY := 1 / (size[1]*2 + 1)
	stepZ := 1 / (size[2]*2 + 1)
	if stepX <= 0 || stepY <= 0 || stepZ <= 0 || !voxel.Finite(voxel.Vec3{stepX, stepY, stepZ}) {
		return 0
	}

	var offsetX, offsetZ float64
	if c.fullRaycast {
		offsetX = (1 - math.Floor(1/stepX)*stepX) / 2
		offsetZ = (1 - math.Floor(1/stepZ)*stepZ) / 2
	}

	visible, total := 0, 0
	for x := 0.0; x <= 1; x += stepX {
		for y := 0.0; y <= 1; y += stepY {
			for z := 0.0; z <= 1; z += stepZ {
				target := voxel.Vec3{
					lerp(x, box.Min[0], box.Max[0]) + offsetX,
					lerp(y, box.Min[1], box.Max[1]),
					lerp(z, box.Min[2], box.Max[2]) + offsetZ,
				}
				if !c.detector.Obstructed(src, center, target) {
					visible++
				}
				total++
			}
		}
	}

	if total == 0 {
		return 0
	}
	return float64(visible) / float64(total)
}

func lerp(t, a, b float64) float64 { return a + t*(b-a) }

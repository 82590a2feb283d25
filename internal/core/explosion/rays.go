package explosion

import "github.com/zeusync/blastcore/internal/core/voxel"

const raysPerAxis = 16

var rays = buildRays()

// Rays returns the shared set of unit ray directions, built from a 16x16x16 lattice
// over [-1, 1]^3 in x, y, z order. The slice must not be modified.
func Rays() []voxel.Vec3 { return rays }

// RayCount returns len(Rays()).
func RayCount() int { return len(rays) }

func buildRays() []voxel.Vec3 {
	out := make([]voxel.Vec3, 0, raysPerAxis*raysPerAxis*raysPerAxis)
	for x := 0; x < raysPerAxis; x++ {
		for y := 0; y < raysPerAxis; y++ {
			for z := 0; z < raysPerAxis; z++ {
				d := voxel.Vec3{lattice(x), lattice(y), lattice(z)}
				if d.Len() == 0 {
					continue
				}
				out = append(out, voxel.Normalize(d))
			}
		}
	}
	return out
}

func lattice(i int) float64 {
	return float64(i)/(raysPerAxis-1)*2 - 1
}

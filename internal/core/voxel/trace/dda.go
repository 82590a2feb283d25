// Package trace walks straight lines through the voxel grid.
package trace

import (
	"math"

	"github.com/zeusync/blastcore/internal/core/voxel"
)

const (
	DefaultThreshold float32 = 0.5
	DefaultMaxSteps          = 200

	minDistance = 0.01
)

// Source supplies the cell data a trace inspects. cache.Materials satisfies it.
type Source interface {
	Material(p voxel.Pos) voxel.Material
	Resistance(p voxel.Pos) float32
}

// Detector answers line-of-sight queries using Amanatides-Woo traversal.
// The zero value is usable and takes the defaults.
type Detector struct {
	// Threshold is the resistance above which a non-air cell blocks sight.
	Threshold float32
	// MaxSteps caps the number of cells visited.
	MaxSteps int
}

// NewDetector returns a Detector with the given threshold and the default step cap.
func NewDetector(threshold float32) Detector {
	return Detector{Threshold: threshold, MaxSteps: DefaultMaxSteps}
}

func (d Detector) threshold() float32 {
	if d.Threshold <= 0 {
		return DefaultThreshold
	}
	return d.Threshold
}

func (d Detector) maxSteps() int {
	if d.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return d.MaxSteps
}

// Obstructed reports whether any cell on the segment start..end, the start cell
// included, is non-air with resistance above the threshold. Fluid cells follow the
// same rule. Segments shorter than 0.01 are never obstructed.
func (d Detector) Obstructed(src Source, start, end voxel.Vec3) bool {
	threshold := d.threshold()
	hit := false
	d.Walk(start, end, func(p voxel.Pos) bool {
		m := src.Material(p)
		if m.Air {
			return true
		}
		if src.Resistance(p) > threshold {
			hit = true
			return false
		}
		return true
	})
	return hit
}

// Walk visits the cells crossed by start..end in traversal order until fn returns
// false, the end cell has been visited, or the step cap is reached.
func (d Detector) Walk(start, end voxel.Vec3, fn func(p voxel.Pos) bool) {
	delta := end.Sub(start)
	distance := delta.Len()
	if distance < minDistance {
		return
	}
	dir := delta.Mul(1 / distance)

	cell := voxel.PosOf(start)
	last := voxel.PosOf(end)

	var (
		step   [3]int
		tMax   [3]float64
		tDelta [3]float64
	)
	for axis := 0; axis < 3; axis++ {
		step[axis] = sign(dir[axis])
		tMax[axis] = boundary(start[axis], dir[axis], step[axis])
		if step[axis] != 0 {
			tDelta[axis] = math.Abs(1 / dir[axis])
		} else {
			tDelta[axis] = math.MaxFloat64
		}
	}

	for i, n := 0, d.maxSteps(); i < n; i++ {
		if !fn(cell) {
			return
		}
		if cell == last {
			return
		}

		switch {
		case tMax[0] < tMax[1] && tMax[0] < tMax[2]:
			cell.X += step[0]
			tMax[0] += tDelta[0]
		case tMax[0] < tMax[1]:
			cell.Z += step[2]
			tMax[2] += tDelta[2]
		case tMax[1] < tMax[2]:
			cell.Y += step[1]
			tMax[1] += tDelta[1]
		default:
			cell.Z += step[2]
			tMax[2] += tDelta[2]
		}
	}
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func boundary(current, dir float64, step int) float64 {
	if step == 0 {
		return math.MaxFloat64
	}
	b := math.Floor(current)
	if step > 0 {
		b++
	}
	return (b - current) / dir
}

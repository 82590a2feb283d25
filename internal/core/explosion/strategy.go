package explosion

import (
	"fmt"
	"math"
	"math/bits"
	"runtime"

	"golang.org/x/sys/cpu"

	"github.com/zeusync/blastcore/internal/core/voxel"
)

const (
	StrategyAuto           = "auto"
	StrategyScalarName     = "scalar"
	StrategyVectorizedName = "vectorized"

	laneWidth = 16
	// quantScale maps world units to int8 steps; 8 steps per unit keeps the
	// maximum entity radius well inside the int8 range.
	quantScale = 8.0
)

// StrategyKind tags the entity prefilter variant.
type StrategyKind uint8

const (
	StrategyScalar StrategyKind = iota
	StrategyVectorized
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyScalar:
		return StrategyScalarName
	case StrategyVectorized:
		return StrategyVectorizedName
	default:
		return fmt.Sprintf("strategy(%d)", uint8(k))
	}
}

// Strategy selects the entities worth the exact damage computation. Both variants
// keep every entity whose position lies within the radius, so results never differ.
type Strategy struct {
	kind StrategyKind
}

// Capabilities is what Negotiate knows about the host.
type Capabilities struct {
	CPUs       int
	WideLanes  bool
	Preference string
}

// HostCapabilities probes the running machine once.
func HostCapabilities(preference string) Capabilities {
	return Capabilities{
		CPUs:       runtime.NumCPU(),
		WideLanes:  cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD,
		Preference: preference,
	}
}

// Negotiate resolves capabilities into a Strategy.
func Negotiate(c Capabilities) Strategy {
	switch c.Preference {
	case StrategyScalarName:
		return Strategy{kind: StrategyScalar}
	case StrategyVectorizedName:
		return Strategy{kind: StrategyVectorized}
	}
	if c.CPUs > 1 && c.WideLanes {
		return Strategy{kind: StrategyVectorized}
	}
	return Strategy{kind: StrategyScalar}
}

func (s Strategy) Kind() StrategyKind { return s.kind }

// Candidates appends to dst the indexes of entities that may lie within radius of
// center and returns the extended slice.
func (s Strategy) Candidates(center voxel.Vec3, radius float64, entities []voxel.EntitySnapshot, dst []int) []int {
	switch s.kind {
	case StrategyVectorized:
		return vectorCandidates(center, radius, entities, dst)
	default:
		return scalarCandidates(len(entities), dst)
	}
}

func scalarCandidates(n int, dst []int) []int {
	for i := 0; i < n; i++ {
		dst = append(dst, i)
	}
	return dst
}

// lanes holds one block of quantised boxes, relative to the explosion centre.
type lanes struct {
	minX, minY, minZ [laneWidth]int8
	maxX, maxY, maxZ [laneWidth]int8
}

func vectorCandidates(center voxel.Vec3, radius float64, entities []voxel.EntitySnapshot, dst []int) []int {
	qMin := quantFloor(-radius)
	qMax := quantCeil(radius)

	var l lanes
	for base := 0; base < len(entities); base += laneWidth {
		n := min(laneWidth, len(entities)-base)
		for j := 0; j < n; j++ {
			e := entities[base+j]
			// The position decides membership, so it must be inside the tested box.
			lo := e.Box.Min.Sub(center)
			hi := e.Box.Max.Sub(center)
			rel := e.Position.Sub(center)
			l.minX[j], l.maxX[j] = quantFloor(math.Min(lo[0], rel[0])), quantCeil(math.Max(hi[0], rel[0]))
			l.minY[j], l.maxY[j] = quantFloor(math.Min(lo[1], rel[1])), quantCeil(math.Max(hi[1], rel[1]))
			l.minZ[j], l.maxZ[j] = quantFloor(math.Min(lo[2], rel[2])), quantCeil(math.Max(hi[2], rel[2]))
		}

		mask := overlapMask(&l, qMin, qMax, n)
		for mask != 0 {
			j := bits.TrailingZeros16(mask)
			dst = append(dst, base+j)
			mask &= mask - 1
		}
	}
	return dst
}

func overlapMask(l *lanes, qMin, qMax int8, n int) uint16 {
	var mask uint16
	for j := 0; j < n; j++ {
		in := l.minX[j] <= qMax && qMin <= l.maxX[j] &&
			l.minY[j] <= qMax && qMin <= l.maxY[j] &&
			l.minZ[j] <= qMax && qMin <= l.maxZ[j]
		if in {
			mask |= 1 << j
		}
	}
	return mask
}

func quantFloor(v float64) int8 { return clampInt8(math.Floor(v * quantScale)) }

func quantCeil(v float64) int8 { return clampInt8(math.Ceil(v * quantScale)) }

func clampInt8(v float64) int8 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < math.MinInt8:
		return math.MinInt8
	case v > math.MaxInt8:
		return math.MaxInt8
	default:
		return int8(v)
	}
}

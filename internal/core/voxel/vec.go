package voxel

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec3 is a world-space point or direction.
type Vec3 = mgl64.Vec3

// Up is the unit vector along +Y.
var Up = Vec3{0, 1, 0}

// Normalize returns v scaled to unit length, or the zero vector if v has no length.
func Normalize(v Vec3) Vec3 {
	l := v.Len()
	if l == 0 {
		return Vec3{}
	}
	return v.Mul(1 / l)
}

// Finite reports whether every component is a finite number.
func Finite(v Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// ClampLen scales v down so that its length is at most max.
func ClampLen(v Vec3, max float64) Vec3 {
	l := v.Len()
	if l <= max || l == 0 {
		return v
	}
	return v.Mul(max / l)
}

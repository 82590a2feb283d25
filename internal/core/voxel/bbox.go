package voxel

import "math"

// BBox is an axis-aligned box.
type BBox struct {
	Min, Max Vec3
}

// Box builds a BBox from two corners in any order.
func Box(a, b Vec3) BBox {
	return BBox{
		Min: Vec3{math.Min(a[0], b[0]), math.Min(a[1], b[1]), math.Min(a[2], b[2])},
		Max: Vec3{math.Max(a[0], b[0]), math.Max(a[1], b[1]), math.Max(a[2], b[2])},
	}
}

// EntityBox returns the box of an entity of the given width and height standing at feet.
func EntityBox(feet Vec3, width, height float64) BBox {
	h := width / 2
	return BBox{
		Min: Vec3{feet[0] - h, feet[1], feet[2] - h},
		Max: Vec3{feet[0] + h, feet[1] + height, feet[2] + h},
	}
}

// Size returns the extent along each axis.
func (b BBox) Size() Vec3 { return b.Max.Sub(b.Min) }

// Grow expands the box by d in every direction.
func (b BBox) Grow(d float64) BBox {
	return BBox{
		Min: b.Min.Sub(Vec3{d, d, d}),
		Max: b.Max.Add(Vec3{d, d, d}),
	}
}

// Translate moves the box by v.
func (b BBox) Translate(v Vec3) BBox {
	return BBox{Min: b.Min.Add(v), Max: b.Max.Add(v)}
}

// Contains reports whether v lies inside the box, boundaries included.
func (b BBox) Contains(v Vec3) bool {
	return v[0] >= b.Min[0] && v[0] <= b.Max[0] &&
		v[1] >= b.Min[1] && v[1] <= b.Max[1] &&
		v[2] >= b.Min[2] && v[2] <= b.Max[2]
}

// Intersects reports whether two boxes overlap, touching faces included.
func (b BBox) Intersects(o BBox) bool {
	return b.Min[0] <= o.Max[0] && b.Max[0] >= o.Min[0] &&
		b.Min[1] <= o.Max[1] && b.Max[1] >= o.Min[1] &&
		b.Min[2] <= o.Max[2] && b.Max[2] >= o.Min[2]
}

// Union returns the smallest box containing both.
func (b BBox) Union(o BBox) BBox {
	return Box(
		Vec3{math.Min(b.Min[0], o.Min[0]), math.Min(b.Min[1], o.Min[1]), math.Min(b.Min[2], o.Min[2])},
		Vec3{math.Max(b.Max[0], o.Max[0]), math.Max(b.Max[1], o.Max[1]), math.Max(b.Max[2], o.Max[2])},
	)
}

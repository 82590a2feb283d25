package voxel

import (
	"fmt"
	"math"
)

const (
	bitsXZ = 26
	bitsY  = 12

	maskXZ = 1<<bitsXZ - 1
	maskY  = 1<<bitsY - 1

	offsetX = bitsY + bitsXZ // 38
	offsetZ = bitsY          // 12

	// ChunkSize is the horizontal edge of a chunk column.
	ChunkSize = 16
)

// Pos is an integer cell coordinate.
type Pos struct {
	X, Y, Z int
}

// P is a short constructor used heavily by tests and world builders.
func P(x, y, z int) Pos { return Pos{X: x, Y: y, Z: z} }

// Key packs the position into a single 64-bit value: 26 bits X, 12 bits Y, 26 bits Z.
// Key is bijective for X,Z in [-2^25, 2^25) and Y in [-2048, 2048).
func (p Pos) Key() uint64 {
	return uint64(p.X)&maskXZ<<offsetX | uint64(p.Z)&maskXZ<<offsetZ | uint64(p.Y)&maskY
}

// PosFromKey is the inverse of Pos.Key.
func PosFromKey(k uint64) Pos {
	v := int64(k)
	return Pos{
		X: int(v >> offsetX),
		Y: int(v << (64 - bitsY) >> (64 - bitsY)),
		Z: int(v << (64 - offsetX) >> (64 - bitsXZ)),
	}
}

func (p Pos) Add(o Pos) Pos { return Pos{p.X + o.X, p.Y + o.Y, p.Z + o.Z} }

// Down returns the cell directly below p.
func (p Pos) Down() Pos { return Pos{p.X, p.Y - 1, p.Z} }

// Sides are the six face-adjacent offsets.
var Sides = [6]Pos{
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
	{-1, 0, 0}, {1, 0, 0},
}

// Neighbours returns the six face-adjacent cells.
func (p Pos) Neighbours() [6]Pos {
	var out [6]Pos
	for i, s := range Sides {
		out[i] = p.Add(s)
	}
	return out
}

// Chunk returns the chunk column coordinates containing p.
func (p Pos) Chunk() (cx, cz int) {
	return p.X >> 4, p.Z >> 4
}

// Vec returns the minimum corner of the cell.
func (p Pos) Vec() Vec3 { return Vec3{float64(p.X), float64(p.Y), float64(p.Z)} }

// Centre returns the centre point of the cell.
func (p Pos) Centre() Vec3 { return Vec3{float64(p.X) + 0.5, float64(p.Y) + 0.5, float64(p.Z) + 0.5} }

func (p Pos) String() string { return fmt.Sprintf("(%d, %d, %d)", p.X, p.Y, p.Z) }

// PosOf returns the cell containing v.
func PosOf(v Vec3) Pos {
	return Pos{
		X: int(math.Floor(v[0])),
		Y: int(math.Floor(v[1])),
		Z: int(math.Floor(v[2])),
	}
}

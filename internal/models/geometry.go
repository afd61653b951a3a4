package models

import (
	"fmt"
	"math"
)

// Vec3 is a 3-component vector in x, y, z order
type Vec3 [3]float64

// Dot returns the inner product of two vectors.
func (v Vec3) Dot(w Vec3) float64 {
	return v[0]*w[0] + v[1]*w[1] + v[2]*w[2]
}

// Norm returns the Euclidean length of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Scale multiplies every component by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Normalize returns the unit vector along v, or the zero vector when v has no
// usable length.
func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n < 1e-12 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Vec3{}
	}
	return v.Scale(1 / n)
}

// IsZero reports whether the vector has (numerically) zero length.
func (v Vec3) IsZero() bool {
	return v.Norm() < 1e-12
}

// Point is a continuous index: real-valued coordinates in voxel-index space.
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// PointFromIndex converts integer voxel coordinates to a point.
func PointFromIndex(x, y, z int) Point {
	return Point{X: float64(x), Y: float64(y), Z: float64(z)}
}

// IsFinite reports whether every coordinate is a finite number.
func (p Point) IsFinite() bool {
	for _, c := range [3]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Add moves the point by d (in index units).
func (p Point) Add(d Vec3) Point {
	return Point{X: p.X + d[0], Y: p.Y + d[1], Z: p.Z + d[2]}
}

// Sub returns the index-space displacement from q to p.
func (p Point) Sub(q Point) Vec3 {
	return Vec3{p.X - q.X, p.Y - q.Y, p.Z - q.Z}
}

// Distance returns the Euclidean distance between two points in index units.
func (p Point) Distance(q Point) float64 {
	return p.Sub(q).Norm()
}

// Round returns the nearest integer voxel coordinates.
func (p Point) Round() (x, y, z int) {
	return int(math.Round(p.X)), int(math.Round(p.Y)), int(math.Round(p.Z))
}

func (p Point) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", p.X, p.Y, p.Z)
}

// Path is an ordered sequence of points running from an end point toward the
// start point. The first element is the requested end point.
type Path []Point

// Len returns the number of points in the path.
func (p Path) Len() int {
	return len(p)
}

// Last returns the final point of the path and false when the path is empty.
func (p Path) Last() (Point, bool) {
	if len(p) == 0 {
		return Point{}, false
	}
	return p[len(p)-1], true
}

// Length returns the polyline length of the path in index units.
func (p Path) Length() float64 {
	total := 0.0
	for i := 1; i < len(p); i++ {
		total += p[i].Distance(p[i-1])
	}
	return total
}

// Flatten writes the path as consecutive x, y, z triples.
func (p Path) Flatten() []float32 {
	out := make([]float32, 0, 3*len(p))
	for _, pt := range p {
		out = append(out, float32(pt.X), float32(pt.Y), float32(pt.Z))
	}
	return out
}

// Clone returns a copy that does not share storage with p.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Package sampling implements trilinear interpolation of scalar and vector
// fields at continuous voxel-index coordinates.
//
// Points outside [0, dim-1] are clamped onto the grid before interpolating,
// so sampling never extrapolates and never fails for finite input.
package sampling

import (
	"math"

	"tubulargeodesics/internal/models"
)

// Stencil is the set of eight grid voxels surrounding a point together with
// their trilinear weights. Weights are non-negative and sum to one.
type Stencil struct {
	Offsets [8]int
	Weights [8]float64
}

// Clamp moves p onto the closest point of the grid's index box.
func Clamp(d models.Dims, p models.Point) models.Point {
	return models.Point{
		X: clampAxis(p.X, d.Width),
		Y: clampAxis(p.Y, d.Height),
		Z: clampAxis(p.Z, d.Depth),
	}
}

func clampAxis(v float64, n int) float64 {
	return math.Max(0, math.Min(float64(n-1), v))
}

// axis splits a clamped coordinate into its lower voxel, upper voxel and the
// fractional weight of the upper voxel.
func axis(v float64, n int) (int, int, float64) {
	i0 := int(math.Floor(v))
	if i0 >= n-1 {
		return n - 1, n - 1, 0
	}
	return i0, i0 + 1, v - float64(i0)
}

// NewStencil computes the interpolation stencil of p after clamping.
func NewStencil(d models.Dims, p models.Point) Stencil {
	p = Clamp(d, p)
	x0, x1, fx := axis(p.X, d.Width)
	y0, y1, fy := axis(p.Y, d.Height)
	z0, z1, fz := axis(p.Z, d.Depth)

	var s Stencil
	xs := [2]int{x0, x1}
	ys := [2]int{y0, y1}
	zs := [2]int{z0, z1}
	wx := [2]float64{1 - fx, fx}
	wy := [2]float64{1 - fy, fy}
	wz := [2]float64{1 - fz, fz}

	n := 0
	for k := 0; k < 2; k++ {
		for j := 0; j < 2; j++ {
			for i := 0; i < 2; i++ {
				s.Offsets[n] = d.Index(xs[i], ys[j], zs[k])
				s.Weights[n] = wx[i] * wy[j] * wz[k]
				n++
			}
		}
	}
	return s
}

// Scalar returns the interpolated value of f at p. Non-finite points yield NaN.
func Scalar(f *models.ScalarField, p models.Point) float64 {
	if !p.IsFinite() {
		return math.NaN()
	}
	s := NewStencil(f.Dims, p)
	v := 0.0
	for n, off := range s.Offsets {
		v += s.Weights[n] * f.Data[off]
	}
	return v
}

// Vector returns the component-wise interpolated vector of f at p.
// Non-finite points yield the zero vector.
func Vector(f *models.VectorField, p models.Point) models.Vec3 {
	if !p.IsFinite() {
		return models.Vec3{}
	}
	s := NewStencil(f.Dims, p)
	var v models.Vec3
	for n, off := range s.Offsets {
		w := s.Weights[n]
		if w == 0 {
			continue
		}
		d := f.Data[off]
		v[0] += w * d[0]
		v[1] += w * d[1]
		v[2] += w * d[2]
	}
	return v
}

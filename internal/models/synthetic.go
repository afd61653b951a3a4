package models

import "math"

// NewLineVolume builds a volume holding a straight bright segment from a to b
// on a zero background. Voxels within radius of the segment get intensity;
// radius 0 marks only the voxels the segment passes through.
func NewLineVolume(dims Dims, a, b Point, radius, intensity float64) (*Volume, error) {
	data := make([]float64, dims.Len())
	reach := math.Max(radius, 0.5)
	for z := 0; z < dims.Depth; z++ {
		for y := 0; y < dims.Height; y++ {
			for x := 0; x < dims.Width; x++ {
				if SegmentDistance(PointFromIndex(x, y, z), a, b) <= reach {
					data[dims.Index(x, y, z)] = intensity
				}
			}
		}
	}
	return NewVolume(data, dims, UnitSpacing)
}

// NewSphereVolume builds a volume holding a bright ball, the blob-like
// counterpart of NewLineVolume.
func NewSphereVolume(dims Dims, center Point, radius, intensity float64) (*Volume, error) {
	data := make([]float64, dims.Len())
	for z := 0; z < dims.Depth; z++ {
		for y := 0; y < dims.Height; y++ {
			for x := 0; x < dims.Width; x++ {
				if PointFromIndex(x, y, z).Distance(center) <= radius {
					data[dims.Index(x, y, z)] = intensity
				}
			}
		}
	}
	return NewVolume(data, dims, UnitSpacing)
}

// SegmentDistance returns the distance from p to the closed segment [a, b].
func SegmentDistance(p, a, b Point) float64 {
	ab := b.Sub(a)
	den := ab.Dot(ab)
	if den == 0 {
		return p.Distance(a)
	}
	t := p.Sub(a).Dot(ab) / den
	t = math.Max(0, math.Min(1, t))
	return p.Distance(a.Add(ab.Scale(t)))
}

package models

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidDimensions is returned when a grid has a non-positive extent or
	// its data does not match the declared extent.
	ErrInvalidDimensions = errors.New("invalid grid dimensions")

	// ErrInvalidSpacing is returned when a voxel spacing component is not a
	// finite positive number.
	ErrInvalidSpacing = errors.New("invalid voxel spacing")

	// ErrOutOfBounds is returned when an integer voxel index lies outside the grid.
	ErrOutOfBounds = errors.New("voxel index out of bounds")
)

// Dims holds the extent of a 3D grid in voxels
type Dims struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Depth  int `yaml:"depth"`
}

// Len returns the number of voxels in the grid
func (d Dims) Len() int {
	return d.Width * d.Height * d.Depth
}

// Index converts integer voxel coordinates to the row-major offset used by all
// field storage.
func (d Dims) Index(x, y, z int) int {
	return z*d.Width*d.Height + y*d.Width + x
}

// Coords is the inverse of Index.
func (d Dims) Coords(i int) (x, y, z int) {
	plane := d.Width * d.Height
	z = i / plane
	rem := i - z*plane
	y = rem / d.Width
	x = rem - y*d.Width
	return x, y, z
}

// Contains reports whether the integer coordinates lie inside the grid.
func (d Dims) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < d.Width && y < d.Height && z < d.Depth
}

// ContainsPoint reports whether a continuous point lies within [0, dim-1] on
// every axis.
func (d Dims) ContainsPoint(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.Z >= 0 &&
		p.X <= float64(d.Width-1) && p.Y <= float64(d.Height-1) && p.Z <= float64(d.Depth-1)
}

// Validate checks that every extent is positive.
func (d Dims) Validate() error {
	if d.Width <= 0 || d.Height <= 0 || d.Depth <= 0 {
		return fmt.Errorf("%w: %dx%dx%d", ErrInvalidDimensions, d.Width, d.Height, d.Depth)
	}
	return nil
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.Width, d.Height, d.Depth)
}

// Spacing is the physical size of a voxel along each axis (usually mm)
type Spacing struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// UnitSpacing is the isotropic spacing of 1 along every axis.
var UnitSpacing = Spacing{X: 1, Y: 1, Z: 1}

// Validate checks that every spacing component is finite and positive.
func (s Spacing) Validate() error {
	for _, v := range [3]float64{s.X, s.Y, s.Z} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: (%g, %g, %g)", ErrInvalidSpacing, s.X, s.Y, s.Z)
		}
	}
	return nil
}

// Array returns the spacing as a 3-array in x, y, z order.
func (s Spacing) Array() [3]float64 {
	return [3]float64{s.X, s.Y, s.Z}
}

// Grid describes the geometry shared by every field derived from a volume.
type Grid struct {
	Dims    Dims
	Spacing Spacing
}

// Validate checks both the extent and the spacing of the grid.
func (g Grid) Validate() error {
	if err := g.Dims.Validate(); err != nil {
		return err
	}
	return g.Spacing.Validate()
}

// Volume is the 3D intensity image a search runs on. The pipeline never
// writes to Data.
type Volume struct {
	Grid

	// Data holds the voxel intensities in row-major order (x fastest)
	Data []float64
}

// NewVolume wraps data as a volume after checking that its length matches dims.
func NewVolume(data []float64, dims Dims, spacing Spacing) (*Volume, error) {
	g := Grid{Dims: dims, Spacing: spacing}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if len(data) != dims.Len() {
		return nil, fmt.Errorf("%w: %d values for %s grid", ErrInvalidDimensions, len(data), dims)
	}
	return &Volume{Grid: g, Data: data}, nil
}

// VolumeFromBytes converts an 8-bit voxel buffer into a volume.
func VolumeFromBytes(raw []byte, dims Dims, spacing Spacing) (*Volume, error) {
	data := make([]float64, len(raw))
	for i, b := range raw {
		data[i] = float64(b)
	}
	return NewVolume(data, dims, spacing)
}

// At returns the intensity at integer coordinates.
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Dims.Index(x, y, z)]
}

// Field exposes the intensities as a read-only scalar field sharing the same
// backing array.
func (v *Volume) Field() *ScalarField {
	return &ScalarField{Grid: v.Grid, Data: v.Data}
}

// ScalarField holds one value per voxel: a tubularity score, a traversal cost
// or an arrival time.
type ScalarField struct {
	Grid
	Data []float64
}

// NewScalarField allocates a zero-filled scalar field on the given grid.
func NewScalarField(g Grid) *ScalarField {
	return &ScalarField{Grid: g, Data: make([]float64, g.Dims.Len())}
}

// At returns the value at integer coordinates.
func (f *ScalarField) At(x, y, z int) float64 {
	return f.Data[f.Dims.Index(x, y, z)]
}

// Set stores a value at integer coordinates.
func (f *ScalarField) Set(x, y, z int, v float64) {
	f.Data[f.Dims.Index(x, y, z)] = v
}

// AsVolume views the field as a volume sharing the same backing array, so
// derived fields can be saved and displayed like inputs.
func (f *ScalarField) AsVolume() *Volume {
	return &Volume{Grid: f.Grid, Data: f.Data}
}

// VectorField holds one 3-component vector per voxel: a tube orientation or a
// characteristic direction.
type VectorField struct {
	Grid
	Data []Vec3
}

// NewVectorField allocates a zero-filled vector field on the given grid.
func NewVectorField(g Grid) *VectorField {
	return &VectorField{Grid: g, Data: make([]Vec3, g.Dims.Len())}
}

// At returns the vector at integer coordinates.
func (f *VectorField) At(x, y, z int) Vec3 {
	return f.Data[f.Dims.Index(x, y, z)]
}

// Set stores a vector at integer coordinates.
func (f *VectorField) Set(x, y, z int, v Vec3) {
	f.Data[f.Dims.Index(x, y, z)] = v
}

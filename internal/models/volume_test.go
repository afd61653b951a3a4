package models

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDimsIndexRoundTrip verifies that Coords inverts Index for every voxel
func TestDimsIndexRoundTrip(t *testing.T) {
	d := Dims{Width: 4, Height: 3, Depth: 5}
	for i := 0; i < d.Len(); i++ {
		x, y, z := d.Coords(i)
		require.True(t, d.Contains(x, y, z))
		assert.Equal(t, i, d.Index(x, y, z))
	}
}

// TestNewVolumeValidation verifies that malformed grids are rejected
func TestNewVolumeValidation(t *testing.T) {
	_, err := NewVolume(make([]float64, 8), Dims{Width: 2, Height: 2, Depth: 2}, UnitSpacing)
	require.NoError(t, err)

	_, err = NewVolume(make([]float64, 7), Dims{Width: 2, Height: 2, Depth: 2}, UnitSpacing)
	assert.True(t, errors.Is(err, ErrInvalidDimensions))

	_, err = NewVolume(nil, Dims{Width: 0, Height: 2, Depth: 2}, UnitSpacing)
	assert.True(t, errors.Is(err, ErrInvalidDimensions))

	_, err = NewVolume(make([]float64, 8), Dims{Width: 2, Height: 2, Depth: 2}, Spacing{X: 1, Y: 0, Z: 1})
	assert.True(t, errors.Is(err, ErrInvalidSpacing))

	_, err = NewVolume(make([]float64, 8), Dims{Width: 2, Height: 2, Depth: 2}, Spacing{X: 1, Y: math.Inf(1), Z: 1})
	assert.True(t, errors.Is(err, ErrInvalidSpacing))
}

// TestVolumeFromBytes verifies the 8-bit conversion
func TestVolumeFromBytes(t *testing.T) {
	v, err := VolumeFromBytes([]byte{0, 255, 7, 1}, Dims{Width: 2, Height: 2, Depth: 1}, UnitSpacing)
	require.NoError(t, err)
	assert.Equal(t, 255.0, v.At(1, 0, 0))
	assert.Equal(t, 7.0, v.At(0, 1, 0))
}

// TestLineVolume verifies that the synthetic line covers its axis and nothing far from it
func TestLineVolume(t *testing.T) {
	dims := Dims{Width: 12, Height: 9, Depth: 9}
	v, err := NewLineVolume(dims, Point{X: 2, Y: 4, Z: 4}, Point{X: 9, Y: 4, Z: 4}, 0, 255)
	require.NoError(t, err)

	for x := 2; x <= 9; x++ {
		assert.Equal(t, 255.0, v.At(x, 4, 4))
	}
	assert.Equal(t, 0.0, v.At(5, 6, 4))
	assert.Equal(t, 0.0, v.At(11, 4, 4))
}

// TestPathHelpers verifies length, flattening and cloning of paths
func TestPathHelpers(t *testing.T) {
	p := Path{{X: 0}, {X: 3}, {X: 3, Y: 4}}
	assert.InDelta(t, 7.0, p.Length(), 1e-12)
	assert.Equal(t, []float32{0, 0, 0, 3, 0, 0, 3, 4, 0}, p.Flatten())

	last, ok := p.Last()
	require.True(t, ok)
	assert.Equal(t, Point{X: 3, Y: 4}, last)

	c := p.Clone()
	c[0].X = 42
	assert.Equal(t, 0.0, p[0].X)

	_, ok = Path(nil).Last()
	assert.False(t, ok)
}

// TestVec3Normalize verifies that degenerate vectors normalize to zero
func TestVec3Normalize(t *testing.T) {
	assert.True(t, Vec3{}.Normalize().IsZero())
	n := Vec3{3, 0, 4}.Normalize()
	assert.InDelta(t, 1.0, n.Norm(), 1e-12)
	assert.InDelta(t, 0.6, n[0], 1e-12)
}

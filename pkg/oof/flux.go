package oof

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/config"
)

// Measure computes oriented flux responses of one volume. The Fourier
// transform of the zero-padded volume is computed once and shared by every
// scale; per-scale tensor fields are cached.
//
// A Measure is safe for concurrent use by multiple goroutines.
type Measure struct {
	grid     models.Grid
	sigma    float64
	padded   [3]int
	spectrum []complex128
	fit      *mat.Dense
	mu       sync.Mutex
	tensors  map[float64][]Tensor
}

// NewMeasure prepares the flux filter bank for vol. sigma is the Gaussian
// regularization and maxScale the largest sphere radius that will be
// requested; both are in physical units and size the zero padding that keeps
// the circular convolution from wrapping.
func NewMeasure(vol *models.Volume, sigma, maxScale float64) (*Measure, error) {
	if err := vol.Grid.Validate(); err != nil {
		return nil, err
	}
	if !(sigma > 0) {
		return nil, config.Invalid("smoothingSigma", "must be positive, got %g", sigma)
	}
	if !(maxScale > 0) {
		return nil, config.Invalid("scales", "must be positive, got %g", maxScale)
	}

	dims := [3]int{vol.Dims.Width, vol.Dims.Height, vol.Dims.Depth}
	spacing := vol.Spacing.Array()
	var padded [3]int
	for i := range dims {
		reach := int(math.Ceil((maxScale+3*sigma)/spacing[i])) + 1
		padded[i] = smoothSize(dims[i] + reach)
	}

	m := &Measure{
		grid:    vol.Grid,
		sigma:   sigma,
		padded:  padded,
		fit:     fitMatrix(sampleDirections),
		tensors: make(map[float64][]Tensor),
	}

	plan := newFFT3D(padded[0], padded[1], padded[2])
	m.spectrum = make([]complex128, plan.len())
	for z := 0; z < vol.Dims.Depth; z++ {
		for y := 0; y < vol.Dims.Height; y++ {
			for x := 0; x < vol.Dims.Width; x++ {
				m.spectrum[m.paddedIndex(x, y, z)] = complex(vol.At(x, y, z), 0)
			}
		}
	}
	plan.forward(m.spectrum)
	return m, nil
}

// Grid returns the geometry of the measured volume.
func (m *Measure) Grid() models.Grid {
	return m.grid
}

func (m *Measure) paddedIndex(x, y, z int) int {
	return z*m.padded[0]*m.padded[1] + y*m.padded[0] + x
}

// Tensors returns the oriented flux tensor of every voxel at the given scale,
// in row-major voxel order. Results are cached per scale.
func (m *Measure) Tensors(ctx context.Context, scale float64) ([]Tensor, error) {
	if !(scale > 0) || math.IsInf(scale, 0) {
		return nil, config.Invalid("scales", "must be positive, got %g", scale)
	}

	m.mu.Lock()
	cached, ok := m.tensors[scale]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}

	tensors, err := m.computeTensors(ctx, scale)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.tensors[scale] = tensors
	m.mu.Unlock()
	return tensors, nil
}

// computeTensors filters the spectrum once per sampled direction and folds
// the directional responses into tensor components through the fit matrix.
// gonum FFT plans hold work buffers, so every call builds its own.
func (m *Measure) computeTensors(ctx context.Context, scale float64) ([]Tensor, error) {
	radial, unit := m.kernel(scale)
	dims := m.grid.Dims
	out := make([]Tensor, dims.Len())
	buf := make([]complex128, len(m.spectrum))
	plan := newFFT3D(m.padded[0], m.padded[1], m.padded[2])

	for k, d := range sampleDirections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, s := range m.spectrum {
			proj := unit[i].Dot(d)
			buf[i] = s * complex(radial[i]*proj*proj, 0)
		}
		plan.inverse(buf)

		var coef [6]float64
		for c := range coef {
			coef[c] = m.fit.At(c, k)
		}
		for z := 0; z < dims.Depth; z++ {
			for y := 0; y < dims.Height; y++ {
				for x := 0; x < dims.Width; x++ {
					r := real(buf[m.paddedIndex(x, y, z)])
					t := &out[dims.Index(x, y, z)]
					for c := range coef {
						t[c] += coef[c] * r
					}
				}
			}
		}
	}
	return out, nil
}

// kernel evaluates the radial part of the oriented flux filter for a sphere of
// radius r and the unit frequency direction of every bin:
//
//	ψ̂(u) = 4πr (cos z - sin z / z) exp(-2π²σ²|u|²) / (4πr²),   z = 2πr|u|
//
// Dividing by the sphere area keeps responses comparable across scales.
func (m *Measure) kernel(r float64) ([]float64, []models.Vec3) {
	n := m.padded
	spacing := m.grid.Spacing.Array()
	total := n[0] * n[1] * n[2]
	radial := make([]float64, total)
	unit := make([]models.Vec3, total)
	area := 4 * math.Pi * r * r

	for k := 0; k < n[2]; k++ {
		uz := frequency(k, n[2]) / spacing[2]
		for j := 0; j < n[1]; j++ {
			uy := frequency(j, n[1]) / spacing[1]
			for i := 0; i < n[0]; i++ {
				ux := frequency(i, n[0]) / spacing[0]
				idx := m.paddedIndex(i, j, k)
				u := models.Vec3{ux, uy, uz}
				norm := u.Norm()
				if norm == 0 {
					continue
				}
				z := 2 * math.Pi * r * norm
				gauss := math.Exp(-2 * math.Pi * math.Pi * m.sigma * m.sigma * norm * norm)
				radial[idx] = 4 * math.Pi * r * (math.Cos(z) - math.Sin(z)/z) * gauss / area
				unit[idx] = u.Scale(1 / norm)
			}
		}
	}
	return radial, unit
}

// Evaluate returns the tubularity score and principal direction of a single
// voxel at one scale.
func (m *Measure) Evaluate(ctx context.Context, x, y, z int, scale float64) (Response, error) {
	if !m.grid.Dims.Contains(x, y, z) {
		return Response{}, fmt.Errorf("%w: (%d, %d, %d) in %s", models.ErrOutOfBounds, x, y, z, m.grid.Dims)
	}
	tensors, err := m.Tensors(ctx, scale)
	if err != nil {
		return Response{}, err
	}
	return Analyze(tensors[m.grid.Dims.Index(x, y, z)]), nil
}

// ScaleResponse evaluates every voxel at one scale.
func (m *Measure) ScaleResponse(ctx context.Context, scale float64) (*models.ScalarField, *models.VectorField, error) {
	tensors, err := m.Tensors(ctx, scale)
	if err != nil {
		return nil, nil, err
	}
	score := models.NewScalarField(m.grid)
	dir := models.NewVectorField(m.grid)
	a := newAnalyzer()
	for i, t := range tensors {
		res := a.analyze(t)
		score.Data[i] = res.Score
		dir.Data[i] = res.Direction
	}
	return score, dir, nil
}

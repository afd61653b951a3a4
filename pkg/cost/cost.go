// Package cost maps tubularity scores to traversal costs for front
// propagation.
//
// Scores are normalized by the field maximum to τ ∈ [0, 1] and mapped through
//
//	cost(τ) = floor + (1 - τ)^sensitivity
//
// which is strictly decreasing in τ, equals floor on the strongest tube voxel
// and 1+floor on background. Negative and non-finite scores count as τ = 0.
package cost

import (
	"fmt"
	"math"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/config"
)

// Params controls the tubularity-to-cost mapping.
type Params struct {
	// Floor is the minimum cost; strictly positive
	Floor float64

	// Sensitivity is the contrast exponent; larger values make moderately
	// tubular voxels cheaper
	Sensitivity float64
}

// FromConfig extracts the cost parameters from a configuration.
func FromConfig(c config.Cost) Params {
	return Params{Floor: c.Floor, Sensitivity: c.Sensitivity}
}

// Validate rejects parameters that could produce a non-positive cost.
func (p Params) Validate() error {
	if !(p.Floor > 0) || math.IsInf(p.Floor, 0) {
		return config.Invalid("cost.floor", "must be positive, got %g", p.Floor)
	}
	if !(p.Sensitivity > 0) || math.IsInf(p.Sensitivity, 0) {
		return config.Invalid("cost.sensitivity", "must be positive, got %g", p.Sensitivity)
	}
	return nil
}

// Map returns the cost of a normalized tubularity τ. τ is clamped to [0, 1].
func (p Params) Map(tau float64) float64 {
	if !(tau > 0) {
		tau = 0
	} else if tau > 1 {
		tau = 1
	}
	return p.Floor + math.Pow(1-tau, p.Sensitivity)
}

// Derive builds the cost field of a tubularity field. When orientation is not
// nil, voxels whose orientation is the zero vector have no preferred
// direction and are costed as background.
func Derive(tubularity *models.ScalarField, orientation *models.VectorField, p Params) (*models.ScalarField, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if orientation != nil && orientation.Dims != tubularity.Dims {
		return nil, fmt.Errorf("%w: orientation %s does not match tubularity %s",
			models.ErrInvalidDimensions, orientation.Dims, tubularity.Dims)
	}
	if len(tubularity.Data) != tubularity.Dims.Len() {
		return nil, fmt.Errorf("%w: %d values for %s grid",
			models.ErrInvalidDimensions, len(tubularity.Data), tubularity.Dims)
	}

	peak := 0.0
	for _, v := range tubularity.Data {
		if v > peak && !math.IsInf(v, 1) {
			peak = v
		}
	}

	out := models.NewScalarField(tubularity.Grid)
	for i, v := range tubularity.Data {
		tau := 0.0
		switch {
		case math.IsInf(v, 1):
			tau = 1
		case peak > 0 && v > 0:
			tau = v / peak
		}
		if orientation != nil && orientation.Data[i].IsZero() {
			tau = 0
		}
		out.Data[i] = p.Map(tau)
	}
	return out, nil
}

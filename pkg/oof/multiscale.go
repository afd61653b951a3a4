package oof

import (
	"context"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/config"
	"tubulargeodesics/pkg/logging"
)

// Options controls a multiscale evaluation.
type Options struct {
	// SmoothingSigma is the Gaussian regularization of the flux filter
	SmoothingSigma float64

	// Workers bounds the number of scales evaluated concurrently; zero means
	// one per CPU
	Workers int

	Logger *logging.Logger
}

// Result holds the max-projection of the oriented flux response over scales.
type Result struct {
	// Tubularity is the best score of every voxel over all scales
	Tubularity *models.ScalarField

	// Orientation is the principal direction at the winning scale
	Orientation *models.VectorField

	// Scale is the radius that produced the winning score
	Scale *models.ScalarField
}

// Summary describes the distribution of a tubularity field.
type Summary struct {
	Mean   float64
	StdDev float64
	Max    float64
}

// Summarize computes the mean, standard deviation and maximum of a field.
func Summarize(f *models.ScalarField) Summary {
	if len(f.Data) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(f.Data, nil)
	if len(f.Data) == 1 {
		std = 0
	}
	return Summary{Mean: mean, StdDev: std, Max: floats.Max(f.Data)}
}

// ValidateScales rejects an empty list and any non-positive or non-finite scale.
func ValidateScales(scales []float64) error {
	if len(scales) == 0 {
		return config.Invalid("scales", "must not be empty")
	}
	for _, s := range scales {
		if !(s > 0) || math.IsInf(s, 0) {
			return config.Invalid("scales", "must be positive, got %g", s)
		}
	}
	return nil
}

// Compute evaluates the oriented flux measure of vol at every scale and keeps,
// per voxel, the scale with the highest score. Configuration problems are
// reported before any filtering starts.
func Compute(ctx context.Context, vol *models.Volume, scales []float64, opts Options) (*Result, error) {
	if err := ValidateScales(scales); err != nil {
		return nil, err
	}
	m, err := NewMeasure(vol, opts.SmoothingSigma, floats.Max(scales))
	if err != nil {
		return nil, err
	}
	return m.MultiScale(ctx, scales, opts)
}

// MultiScale runs the max-projection over scales with this measure's filter
// bank. Scales are evaluated in parallel; ties go to the earlier scale in the
// list, so the result does not depend on scheduling.
func (m *Measure) MultiScale(ctx context.Context, scales []float64, opts Options) (*Result, error) {
	if err := ValidateScales(scales); err != nil {
		return nil, err
	}
	log := logging.OrNoop(opts.Logger)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	start := time.Now()

	type scaleResult struct {
		score []float64
		dir   []models.Vec3
	}
	results := make([]scaleResult, len(scales))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, s := range scales {
		g.Go(func() error {
			tensors, err := m.computeTensors(gctx, s)
			if err != nil {
				return err
			}
			a := newAnalyzer()
			r := scaleResult{
				score: make([]float64, len(tensors)),
				dir:   make([]models.Vec3, len(tensors)),
			}
			for v, t := range tensors {
				res := a.analyze(t)
				r.score[v] = res.Score
				r.dir[v] = res.Direction
			}
			results[i] = r
			log.DebugContext(gctx, "scale evaluated", "scale", s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Result{
		Tubularity:  models.NewScalarField(m.grid),
		Orientation: models.NewVectorField(m.grid),
		Scale:       models.NewScalarField(m.grid),
	}
	for v := range out.Tubularity.Data {
		best := 0
		for i := 1; i < len(results); i++ {
			if results[i].score[v] > results[best].score[v] {
				best = i
			}
		}
		out.Tubularity.Data[v] = results[best].score[v]
		out.Orientation.Data[v] = results[best].dir[v]
		out.Scale.Data[v] = scales[best]
	}

	sum := Summarize(out.Tubularity)
	log.InfoContext(ctx, "tubularity computed",
		"scales", len(scales),
		"dims", m.grid.Dims.String(),
		"mean", sum.Mean,
		"max", sum.Max,
		"elapsed", time.Since(start),
	)
	return out, nil
}

// Package tracer back-propagates minimal paths from end points to the
// sources of a front propagation by descending the arrival-time field along
// its characteristic directions.
//
// Each end point runs a small state machine: it starts Initialized, moves to
// Stepping and ends in exactly one of Reached, MaxIter or Diverged. A step
// that would raise the arrival value is rejected and retried at half length,
// so every recorded path is non-increasing in arrival time.
package tracer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/config"
	"tubulargeodesics/pkg/logging"
	"tubulargeodesics/pkg/sampling"
)

// ErrDiverged reports an end point whose descent could not make progress.
var ErrDiverged = errors.New("tracing diverged")

// Status is the state of one end point's descent.
type Status int

const (
	Initialized Status = iota
	Stepping
	Reached
	MaxIter
	Diverged
)

func (s Status) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Stepping:
		return "stepping"
	case Reached:
		return "reached"
	case MaxIter:
		return "max-iter"
	case Diverged:
		return "diverged"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether s is one of the three final states.
func (s Status) Terminal() bool {
	return s == Reached || s == MaxIter || s == Diverged
}

// Params controls the descent.
type Params struct {
	// Step is the nominal step length in physical units
	Step float64

	// MaxIterations bounds the number of accepted steps
	MaxIterations int

	// TerminationDistance stops tracing once the arrival value drops to it
	TerminationDistance float64

	// StartProximity lets the trace finish on a start point's voxel once it
	// is within this index distance of it; zero disables the check
	StartProximity float64

	// MinStepFactor is the fraction of Step below which a rejected step
	// ends the trace as Diverged
	MinStepFactor float64
}

// FromConfig extracts the tracing parameters from a configuration.
func FromConfig(c config.Tracing) Params {
	return Params{
		Step:                c.Step,
		MaxIterations:       c.MaxIterations,
		TerminationDistance: c.TerminationDistance,
		StartProximity:      c.StartProximity,
		MinStepFactor:       c.MinStepFactor,
	}
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// Validate rejects parameters that cannot drive a bounded descent.
func (p Params) Validate() error {
	switch {
	case !positive(p.Step):
		return config.Invalid("tracing.step", "must be positive, got %g", p.Step)
	case p.MaxIterations <= 0:
		return config.Invalid("tracing.maxIterations", "must be positive, got %d", p.MaxIterations)
	case !(p.TerminationDistance >= 0):
		return config.Invalid("tracing.terminationDistance", "must be non-negative, got %g", p.TerminationDistance)
	case !(p.StartProximity >= 0):
		return config.Invalid("tracing.startProximity", "must be non-negative, got %g", p.StartProximity)
	case !positive(p.MinStepFactor) || p.MinStepFactor > 1:
		return config.Invalid("tracing.minStepFactor", "must lie in (0, 1], got %g", p.MinStepFactor)
	}
	return nil
}

// Trace is the outcome of one end point.
type Trace struct {
	// Path runs from the end point toward the sources; Path[0] is the end point
	Path models.Path

	// Status is the terminal state reached
	Status Status

	// Steps counts accepted steps
	Steps int

	// Arrival is the arrival value at the last path point
	Arrival float64
}

// Err returns ErrDiverged for a diverged trace and nil otherwise.
func (t *Trace) Err() error {
	if t.Status == Diverged {
		return ErrDiverged
	}
	return nil
}

// Tracer descends one arrival/direction field pair. It is safe for
// concurrent use once built.
type Tracer struct {
	arrival   *models.ScalarField
	direction *models.VectorField
	inv       [3]float64
	starts    *StartIndex
	params    Params
	log       *logging.Logger
}

// New builds a tracer over the fields of one propagation. starts are the
// propagation sources in index space; they are only used for the proximity
// check.
func New(arrival *models.ScalarField, direction *models.VectorField, starts []models.Point, p Params, logger *logging.Logger) (*Tracer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if arrival == nil || direction == nil {
		return nil, config.Invalid("fields", "arrival and direction fields are required")
	}
	if arrival.Dims != direction.Dims {
		return nil, fmt.Errorf("%w: arrival %s, direction %s", models.ErrInvalidDimensions, arrival.Dims, direction.Dims)
	}
	if err := arrival.Grid.Validate(); err != nil {
		return nil, err
	}
	// Sources sit on the voxels the propagation rounded the starts to.
	sources := make([]models.Point, 0, len(starts))
	for _, p := range starts {
		x, y, z := p.Round()
		sources = append(sources, sampling.Clamp(arrival.Dims, models.Point{X: float64(x), Y: float64(y), Z: float64(z)}))
	}
	h := arrival.Spacing.Array()
	return &Tracer{
		arrival:   arrival,
		direction: direction,
		inv:       [3]float64{1 / h[0], 1 / h[1], 1 / h[2]},
		starts:    NewStartIndex(sources),
		params:    p,
		log:       logging.OrNoop(logger),
	}, nil
}

// reached reports whether pos with arrival t satisfies the success condition
// and returns the point the trace ends on. Within StartProximity of a start
// the trace takes one last step onto that start's source voxel, and succeeds
// only when the arrival there is within the termination distance.
func (tr *Tracer) reached(pos models.Point, t float64, stepsLeft bool) (models.Point, float64, bool) {
	if t <= tr.params.TerminationDistance {
		return pos, t, true
	}
	if tr.params.StartProximity <= 0 || !stepsLeft {
		return pos, t, false
	}
	src, d, ok := tr.starts.Nearest(pos)
	if !ok || d > tr.params.StartProximity {
		return pos, t, false
	}
	st := sampling.Scalar(tr.arrival, src)
	if st > tr.params.TerminationDistance || st > t {
		return pos, t, false
	}
	return src, st, true
}

// Trace descends from end. The context is checked before every step; a
// cancelled trace returns the context error and no path.
func (tr *Tracer) Trace(ctx context.Context, end models.Point) (*Trace, error) {
	if !end.IsFinite() {
		return nil, config.Invalid("endPoint", "non-finite point %v", end)
	}
	if !tr.arrival.Dims.ContainsPoint(end) {
		return nil, config.Invalid("endPoint", "point %v outside %s grid", end, tr.arrival.Dims)
	}

	out := &Trace{Path: models.Path{end}, Status: Initialized}
	pos := end
	t := sampling.Scalar(tr.arrival, pos)
	out.Arrival = t
	if math.IsInf(t, 1) || math.IsNaN(t) {
		// Unreachable from every source.
		out.Status = Diverged
		return out, nil
	}

	var last models.Vec3
	zeros := 0
	minStep := tr.params.MinStepFactor * tr.params.Step
	out.Status = Stepping

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if fin, ft, ok := tr.reached(pos, t, out.Steps < tr.params.MaxIterations); ok {
			if fin != pos {
				out.Path = append(out.Path, fin)
				out.Arrival = ft
				out.Steps++
			}
			out.Status = Reached
			break
		}
		if out.Steps >= tr.params.MaxIterations {
			out.Status = MaxIter
			break
		}

		d := sampling.Vector(tr.direction, pos).Normalize()
		if d.IsZero() {
			zeros++
			// Without an earlier direction the next sample would be the
			// same zero vector.
			if zeros > 1 || last.IsZero() {
				out.Status = Diverged
				break
			}
			d = last
		} else {
			zeros = 0
			last = d
		}

		next, nt, ok := tr.advance(pos, t, d, minStep)
		if !ok {
			out.Status = Diverged
			break
		}
		pos, t = next, nt
		out.Path = append(out.Path, pos)
		out.Arrival = t
		out.Steps++
	}
	return out, nil
}

// advance tries a step of nominal length along d, halving it until the
// arrival value does not increase. ok is false once the step falls below
// minStep.
func (tr *Tracer) advance(pos models.Point, t float64, d models.Vec3, minStep float64) (models.Point, float64, bool) {
	dims := tr.arrival.Dims
	for h := tr.params.Step; h >= minStep; h /= 2 {
		delta := models.Vec3{
			h * d[0] * tr.inv[0],
			h * d[1] * tr.inv[1],
			h * d[2] * tr.inv[2],
		}
		cand := sampling.Clamp(dims, pos.Add(delta))
		if cand == pos {
			return pos, t, false
		}
		if ct := sampling.Scalar(tr.arrival, cand); ct <= t {
			return cand, ct, true
		}
	}
	return pos, t, false
}

// Package eikonal solves |∇T| = cost on a voxel grid with the Fast Marching
// method and derives the characteristic direction field used to trace
// minimal paths back to the sources.
package eikonal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/config"
	"tubulargeodesics/pkg/logging"
)

// ErrNonPositiveCost reports a cost field that breaks the positivity contract.
var ErrNonPositiveCost = errors.New("non-positive traversal cost")

// InvariantError locates the first voxel whose cost is not a finite positive
// number. It is an internal defect, not a user error.
type InvariantError struct {
	Index int
	Cost  float64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("numerical invariant violated: cost %g at voxel %d", e.Cost, e.Index)
}

func (e *InvariantError) Unwrap() error { return ErrNonPositiveCost }

// Result holds the solution of one propagation.
type Result struct {
	// Arrival is the minimal cumulative cost from the nearest source
	Arrival *models.ScalarField

	// Direction is the unit negative gradient of Arrival in physical space,
	// zero at the sources
	Direction *models.VectorField

	// Sources are the voxel offsets seeded with arrival 0
	Sources []int
}

// Options tunes a propagation.
type Options struct {
	Logger *logging.Logger
}

type state uint8

const (
	far state = iota
	trial
	known
)

// neighbour offsets along the three axes, negative side first
var steps = [3][2][3]int{
	{{-1, 0, 0}, {1, 0, 0}},
	{{0, -1, 0}, {0, 1, 0}},
	{{0, 0, -1}, {0, 0, 1}},
}

// Propagate runs the front from every start point across costs. Voxels are
// finalized in non-decreasing order of arrival time, each exactly once; the
// context is checked before every finalization.
func Propagate(ctx context.Context, costs *models.ScalarField, starts []models.Point, opts Options) (*Result, error) {
	log := logging.OrNoop(opts.Logger)
	dims := costs.Dims
	if err := costs.Grid.Validate(); err != nil {
		return nil, err
	}
	if len(costs.Data) != dims.Len() {
		return nil, fmt.Errorf("%w: %d costs for %s grid", models.ErrInvalidDimensions, len(costs.Data), dims)
	}
	if len(starts) == 0 {
		return nil, config.Invalid("startPoints", "must not be empty")
	}
	sources := make([]int, 0, len(starts))
	for _, p := range starts {
		if !p.IsFinite() {
			return nil, config.Invalid("startPoints", "non-finite point %v", p)
		}
		x, y, z := p.Round()
		if !dims.Contains(x, y, z) {
			return nil, config.Invalid("startPoints", "point %v outside %s grid", p, dims)
		}
		sources = append(sources, dims.Index(x, y, z))
	}
	for i, c := range costs.Data {
		if !(c > 0) || math.IsInf(c, 1) {
			return nil, &InvariantError{Index: i, Cost: c}
		}
	}

	s := newSolver(costs, sources)
	start := time.Now()
	finalized, err := s.run(ctx, nil)
	if err != nil {
		return nil, err
	}

	log.DebugContext(ctx, "front propagated",
		"voxels", finalized,
		"sources", len(sources),
		"elapsed", time.Since(start),
	)

	return &Result{
		Arrival:   &models.ScalarField{Grid: costs.Grid, Data: s.arrival},
		Direction: &models.VectorField{Grid: costs.Grid, Data: s.dir},
		Sources:   sources,
	}, nil
}

type solver struct {
	dims    models.Dims
	h       [3]float64
	cost    []float64
	arrival []float64
	dir     []models.Vec3
	state   []state
	front   *frontier
}

func newSolver(costs *models.ScalarField, sources []int) *solver {
	n := costs.Dims.Len()
	s := &solver{
		dims:    costs.Dims,
		h:       costs.Spacing.Array(),
		cost:    costs.Data,
		arrival: make([]float64, n),
		dir:     make([]models.Vec3, n),
		state:   make([]state, n),
	}
	for i := range s.arrival {
		s.arrival[i] = math.Inf(1)
	}
	s.front = newFrontier(s.arrival)
	for _, v := range sources {
		s.arrival[v] = 0
		s.state[v] = trial
		s.front.update(v)
	}
	return s
}

// run drains the frontier. onFinalize, when set, observes every voxel in the
// order it is frozen.
func (s *solver) run(ctx context.Context, onFinalize func(v int)) (int, error) {
	finalized := 0
	for {
		if err := ctx.Err(); err != nil {
			return finalized, err
		}
		v, ok := s.front.pop()
		if !ok {
			return finalized, nil
		}
		s.finalize(v)
		finalized++
		if onFinalize != nil {
			onFinalize(v)
		}
	}
}

// finalize freezes v, records its characteristic direction and relaxes its
// unfinished neighbours.
func (s *solver) finalize(v int) {
	s.state[v] = known
	x, y, z := s.dims.Coords(v)
	s.dir[v] = s.direction(v, x, y, z)

	for ax := 0; ax < 3; ax++ {
		for _, d := range steps[ax] {
			nx, ny, nz := x+d[0], y+d[1], z+d[2]
			if !s.dims.Contains(nx, ny, nz) {
				continue
			}
			n := s.dims.Index(nx, ny, nz)
			if s.state[n] == known {
				continue
			}
			t := s.solve(nx, ny, nz, s.cost[n])
			if t < s.arrival[n] {
				s.arrival[n] = t
				s.state[n] = trial
				s.front.update(n)
			}
		}
	}
}

// upwind returns, for one axis, the smallest arrival among the known
// neighbours of (x, y, z) and the side it lies on (-1 or +1), or ok=false.
func (s *solver) upwind(ax, x, y, z int) (t float64, side int, ok bool) {
	t = math.Inf(1)
	for i, d := range steps[ax] {
		nx, ny, nz := x+d[0], y+d[1], z+d[2]
		if !s.dims.Contains(nx, ny, nz) {
			continue
		}
		n := s.dims.Index(nx, ny, nz)
		if s.state[n] == known && s.arrival[n] < t {
			t = s.arrival[n]
			side = 2*i - 1
			ok = true
		}
	}
	return t, side, ok
}

// solve computes the first-order upwind update at (x, y, z) from its known
// neighbours, adding axes in increasing order of arrival while the quadratic
// solution stays above the next neighbour value.
func (s *solver) solve(x, y, z int, c float64) float64 {
	type term struct{ t, h float64 }
	terms := make([]term, 0, 3)
	for ax := 0; ax < 3; ax++ {
		if t, _, ok := s.upwind(ax, x, y, z); ok {
			terms = append(terms, term{t: t, h: s.h[ax]})
		}
	}
	if len(terms) == 0 {
		return math.Inf(1)
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].t < terms[j].t })

	best := terms[0].t + c*terms[0].h
	var a, b, q float64
	for k, tm := range terms {
		w := 1 / (tm.h * tm.h)
		a += w
		b -= 2 * tm.t * w
		q += tm.t * tm.t * w
		if k == 0 {
			continue
		}
		if best <= tm.t {
			break
		}
		disc := b*b - 4*a*(q-c*c)
		if disc < 0 {
			break
		}
		best = (-b + math.Sqrt(disc)) / (2 * a)
	}
	return best
}

// direction returns the normalized negative upwind gradient of the arrival
// time at a voxel being finalized. Only already-known neighbours contribute,
// so the vector points toward lower arrival, i.e. toward the sources.
func (s *solver) direction(v, x, y, z int) models.Vec3 {
	var g models.Vec3
	for ax := 0; ax < 3; ax++ {
		t, side, ok := s.upwind(ax, x, y, z)
		if !ok || t >= s.arrival[v] {
			continue
		}
		g[ax] = float64(side) * (s.arrival[v] - t) / s.h[ax]
	}
	return g.Normalize()
}

package tracer

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/config"
	"tubulargeodesics/pkg/eikonal"
	"tubulargeodesics/pkg/sampling"
)

func defaultParams() Params {
	return FromConfig(config.DefaultConfig().Tracing)
}

// ramp builds a 1-voxel-thick field along x with arrival f(x) and direction -x.
func ramp(n int, spacing models.Spacing, f func(x int) float64) (*models.ScalarField, *models.VectorField) {
	g := models.Grid{Dims: models.Dims{Width: n, Height: 1, Depth: 1}, Spacing: spacing}
	arrival := models.NewScalarField(g)
	dir := models.NewVectorField(g)
	for x := 0; x < n; x++ {
		arrival.Set(x, 0, 0, f(x))
		dir.Set(x, 0, 0, models.Vec3{-1, 0, 0})
	}
	return arrival, dir
}

func assertMonotone(t *testing.T, arrival *models.ScalarField, path models.Path) {
	t.Helper()
	prev := math.Inf(1)
	for i, p := range path {
		v := sampling.Scalar(arrival, p)
		assert.LessOrEqual(t, v, prev+1e-12, "arrival increases at path point %d", i)
		prev = v
	}
}

// TestTraceUniformMedium verifies descent to the source in a homogeneous medium
func TestTraceUniformMedium(t *testing.T) {
	dims := models.Dims{Width: 9, Height: 9, Depth: 9}
	costs := models.NewScalarField(models.Grid{Dims: dims, Spacing: models.UnitSpacing})
	for i := range costs.Data {
		costs.Data[i] = 1
	}
	src := models.Point{X: 1, Y: 1, Z: 1}
	res, err := eikonal.Propagate(context.Background(), costs, []models.Point{src}, eikonal.Options{})
	require.NoError(t, err)

	p := defaultParams()
	tr, err := New(res.Arrival, res.Direction, []models.Point{src}, p, nil)
	require.NoError(t, err)

	end := models.Point{X: 7, Y: 6, Z: 7}
	out, err := tr.Trace(context.Background(), end)
	require.NoError(t, err)

	assert.Equal(t, Reached, out.Status)
	assert.NoError(t, out.Err())
	assert.Equal(t, end, out.Path[0])
	assert.LessOrEqual(t, out.Steps, p.MaxIterations)
	assert.Equal(t, out.Steps+1, out.Path.Len())
	assertMonotone(t, res.Arrival, out.Path)

	for i := 1; i < out.Path.Len(); i++ {
		assert.LessOrEqual(t, out.Path[i].Distance(out.Path[i-1]), p.Step+1e-9)
	}
	last, _ := out.Path.Last()
	assert.LessOrEqual(t, last.Distance(src), 1.0)
}

// TestTraceFollowsChannel verifies the path stays on a cheap straight channel
func TestTraceFollowsChannel(t *testing.T) {
	dims := models.Dims{Width: 20, Height: 9, Depth: 9}
	costs := models.NewScalarField(models.Grid{Dims: dims, Spacing: models.UnitSpacing})
	for i := range costs.Data {
		costs.Data[i] = 1
	}
	for x := 2; x < 18; x++ {
		costs.Set(x, 4, 4, 0.01)
	}
	src := models.Point{X: 2, Y: 4, Z: 4}
	res, err := eikonal.Propagate(context.Background(), costs, []models.Point{src}, eikonal.Options{})
	require.NoError(t, err)

	tr, err := New(res.Arrival, res.Direction, []models.Point{src}, defaultParams(), nil)
	require.NoError(t, err)
	out, err := tr.Trace(context.Background(), models.Point{X: 17, Y: 4, Z: 4})
	require.NoError(t, err)

	assert.Equal(t, Reached, out.Status)
	for _, p := range out.Path {
		assert.LessOrEqual(t, models.SegmentDistance(p, src, models.Point{X: 17, Y: 4, Z: 4}), math.Sqrt(3))
	}
}

// TestTraceTerminationDistance verifies the arrival threshold stops the descent
func TestTraceTerminationDistance(t *testing.T) {
	arrival, dir := ramp(20, models.UnitSpacing, func(x int) float64 { return float64(x) })
	p := defaultParams()
	p.Step = 1
	p.TerminationDistance = 4.5
	tr, err := New(arrival, dir, nil, p, nil)
	require.NoError(t, err)

	out, err := tr.Trace(context.Background(), models.Point{X: 15})
	require.NoError(t, err)
	assert.Equal(t, Reached, out.Status)
	assert.InDelta(t, 4.0, out.Arrival, 1e-12)
	assert.Equal(t, 11, out.Steps)
}

// TestTraceFinishesOnNearbyStart verifies the proximity check ends the trace
// on the start voxel with its arrival value
func TestTraceFinishesOnNearbyStart(t *testing.T) {
	arrival, dir := ramp(20, models.UnitSpacing, func(x int) float64 { return float64(x) })
	p := defaultParams()
	p.Step = 2
	p.StartProximity = 1.5
	tr, err := New(arrival, dir, []models.Point{{X: 0.4}}, p, nil)
	require.NoError(t, err)

	out, err := tr.Trace(context.Background(), models.Point{X: 9})
	require.NoError(t, err)
	assert.Equal(t, Reached, out.Status)
	assert.Equal(t, 5, out.Steps)
	assert.Equal(t, out.Steps+1, out.Path.Len())
	last, _ := out.Path.Last()
	assert.Equal(t, models.Point{}, last)
	assert.Equal(t, 0.0, out.Arrival)
	assert.LessOrEqual(t, out.Arrival, p.TerminationDistance)
	assertMonotone(t, arrival, out.Path)
}

// TestTraceProximityNeedsTerminationDistance verifies a nearby start whose
// arrival stays above the threshold does not count as reached
func TestTraceProximityNeedsTerminationDistance(t *testing.T) {
	arrival, dir := ramp(12, models.UnitSpacing, func(x int) float64 { return float64(x) + 1 })
	p := defaultParams()
	p.Step = 1
	p.StartProximity = 2
	tr, err := New(arrival, dir, []models.Point{{}}, p, nil)
	require.NoError(t, err)

	out, err := tr.Trace(context.Background(), models.Point{X: 6})
	require.NoError(t, err)
	assert.NotEqual(t, Reached, out.Status)
	assert.Equal(t, Diverged, out.Status)
	assert.Equal(t, 1.0, out.Arrival)
}

// TestTraceMaxIterations verifies the iteration bound yields a partial path
func TestTraceMaxIterations(t *testing.T) {
	arrival, dir := ramp(20, models.UnitSpacing, func(x int) float64 { return float64(x) })
	p := defaultParams()
	p.MaxIterations = 3
	tr, err := New(arrival, dir, []models.Point{{}}, p, nil)
	require.NoError(t, err)

	out, err := tr.Trace(context.Background(), models.Point{X: 19})
	require.NoError(t, err)
	assert.Equal(t, MaxIter, out.Status)
	assert.Equal(t, 3, out.Steps)
	assert.Len(t, out.Path, 4)
	assert.NoError(t, out.Err())
}

// TestTraceBridgesSingleZeroDirection verifies one degenerate sample reuses the previous direction
func TestTraceBridgesSingleZeroDirection(t *testing.T) {
	arrival, dir := ramp(20, models.UnitSpacing, func(x int) float64 { return float64(x) })
	dir.Set(10, 0, 0, models.Vec3{})
	p := defaultParams()
	p.Step = 1
	p.StartProximity = 0
	tr, err := New(arrival, dir, nil, p, nil)
	require.NoError(t, err)

	out, err := tr.Trace(context.Background(), models.Point{X: 15})
	require.NoError(t, err)
	assert.Equal(t, Reached, out.Status)
	assert.Len(t, out.Path, 16)
	assert.Equal(t, 0.0, out.Arrival)
}

// TestTraceDivergesOnZeroDirections verifies two consecutive degenerate samples end the trace
func TestTraceDivergesOnZeroDirections(t *testing.T) {
	arrival, dir := ramp(20, models.UnitSpacing, func(x int) float64 { return float64(x) })
	dir.Set(10, 0, 0, models.Vec3{})
	dir.Set(9, 0, 0, models.Vec3{})
	p := defaultParams()
	p.Step = 1
	tr, err := New(arrival, dir, nil, p, nil)
	require.NoError(t, err)

	out, err := tr.Trace(context.Background(), models.Point{X: 15})
	require.NoError(t, err)
	assert.Equal(t, Diverged, out.Status)
	assert.True(t, errors.Is(out.Err(), ErrDiverged))
	last, _ := out.Path.Last()
	assert.Equal(t, 9.0, last.X)
}

// TestTraceRejectsAscendingSteps verifies step relaxation keeps arrival non-increasing
func TestTraceRejectsAscendingSteps(t *testing.T) {
	arrival, dir := ramp(12, models.UnitSpacing, func(x int) float64 { return math.Abs(float64(x) - 5.25) })
	p := defaultParams()
	p.Step = 1
	p.TerminationDistance = 0
	p.StartProximity = 0
	tr, err := New(arrival, dir, nil, p, nil)
	require.NoError(t, err)

	out, err := tr.Trace(context.Background(), models.Point{X: 9})
	require.NoError(t, err)
	assert.Equal(t, Diverged, out.Status)
	assertMonotone(t, arrival, out.Path)
	last, _ := out.Path.Last()
	assert.Equal(t, 5.0, last.X)
}

// TestTracePhysicalStep verifies the step length is measured in physical units
func TestTracePhysicalStep(t *testing.T) {
	arrival, dir := ramp(20, models.Spacing{X: 2, Y: 1, Z: 1}, func(x int) float64 { return 2 * float64(x) })
	p := defaultParams()
	p.Step = 1
	tr, err := New(arrival, dir, []models.Point{{}}, p, nil)
	require.NoError(t, err)

	out, err := tr.Trace(context.Background(), models.Point{X: 10})
	require.NoError(t, err)
	require.Greater(t, out.Path.Len(), 1)
	assert.InDelta(t, 9.5, out.Path[1].X, 1e-12)
}

// TestTraceUnreachableEndPoint verifies an end point with infinite arrival diverges immediately
func TestTraceUnreachableEndPoint(t *testing.T) {
	arrival, dir := ramp(5, models.UnitSpacing, func(x int) float64 { return math.Inf(1) })
	tr, err := New(arrival, dir, nil, defaultParams(), nil)
	require.NoError(t, err)

	out, err := tr.Trace(context.Background(), models.Point{X: 3})
	require.NoError(t, err)
	assert.Equal(t, Diverged, out.Status)
	assert.Len(t, out.Path, 1)
}

// TestTraceCancelled verifies a cancelled trace publishes no path
func TestTraceCancelled(t *testing.T) {
	arrival, dir := ramp(20, models.UnitSpacing, func(x int) float64 { return float64(x) })
	tr, err := New(arrival, dir, nil, defaultParams(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := tr.Trace(ctx, models.Point{X: 10})
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, context.Canceled))
}

// TestTraceInvalidInput verifies parameter and end point validation
func TestTraceInvalidInput(t *testing.T) {
	arrival, dir := ramp(5, models.UnitSpacing, func(x int) float64 { return float64(x) })

	bad := defaultParams()
	bad.Step = 0
	_, err := New(arrival, dir, nil, bad, nil)
	assert.True(t, errors.Is(err, config.ErrConfiguration))

	bad = defaultParams()
	bad.MaxIterations = 0
	_, err = New(arrival, dir, nil, bad, nil)
	assert.True(t, errors.Is(err, config.ErrConfiguration))

	tr, err := New(arrival, dir, nil, defaultParams(), nil)
	require.NoError(t, err)
	for _, end := range []models.Point{{X: 5}, {X: -0.5}, {X: math.NaN()}} {
		_, err := tr.Trace(context.Background(), end)
		assert.True(t, errors.Is(err, config.ErrConfiguration), "end %v", end)
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "reached", Reached.String())
	assert.Equal(t, "max-iter", MaxIter.String())
	assert.True(t, Diverged.Terminal())
	assert.False(t, Stepping.Terminal())
}

package hostapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/config"
	"tubulargeodesics/pkg/eikonal"
	"tubulargeodesics/pkg/search"
	"tubulargeodesics/pkg/tracer"
	"tubulargeodesics/pkg/volumeio"
)

const (
	nx, ny, nz = 24, 12, 12
	n          = nx * ny * nz
)

var (
	lineStart = models.Point{X: 3, Y: 6, Z: 6}
	lineEnd   = models.Point{X: 20, Y: 6, Z: 6}
)

func lineBytes(t *testing.T) []byte {
	t.Helper()
	vol, err := models.NewLineVolume(models.Dims{Width: nx, Height: ny, Depth: nz}, lineStart, lineEnd, 0, 255)
	require.NoError(t, err)
	out := make([]byte, len(vol.Data))
	for i, v := range vol.Data {
		out[i] = byte(v)
	}
	return out
}

func newHost(t *testing.T) *Host {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Tubularity.Workers = 2
	host := New(cfg, nil, nil)
	t.Cleanup(host.Close)
	return host
}

func filled(size int, v float32) []float32 {
	out := make([]float32, size)
	for i := range out {
		out[i] = v
	}
	return out
}

// TestOrientedFluxEmptyScalesLeavesBuffers verifies configuration errors never touch the outputs
func TestOrientedFluxEmptyScalesLeavesBuffers(t *testing.T) {
	host := newHost(t)
	tub, dir := filled(n, -7), filled(3*n, -7)

	status := host.OrientedFlux(lineBytes(t), nil, nx, ny, nz, 1, 3, 0, tub, dir)
	assert.Equal(t, StatusConfigError, status)
	assert.Equal(t, filled(n, -7), tub)
	assert.Equal(t, filled(3*n, -7), dir)

	for name, call := range map[string]func() int{
		"negative scale": func() int { return host.OrientedFlux(lineBytes(t), nil, nx, ny, nz, -1, 3, 3, tub, dir) },
		"inverted range": func() int { return host.OrientedFlux(lineBytes(t), nil, nx, ny, nz, 3, 1, 3, tub, dir) },
		"short volume":   func() int { return host.OrientedFlux(lineBytes(t)[:10], nil, nx, ny, nz, 1, 3, 3, tub, dir) },
		"bad spacing":    func() int { return host.OrientedFlux(lineBytes(t), []float32{1, 0, 1}, nx, ny, nz, 1, 3, 3, tub, dir) },
		"short output":   func() int { return host.OrientedFlux(lineBytes(t), nil, nx, ny, nz, 1, 3, 3, tub[:5], dir) },
	} {
		assert.Equal(t, StatusConfigError, call(), name)
	}
	assert.Equal(t, filled(n, -7), tub)
}

// TestFindPathOnLine runs oriented flux with a single scale and traces the line
func TestFindPathOnLine(t *testing.T) {
	host := newHost(t)
	tub, dir := make([]float32, n), make([]float32, 3*n)
	require.Equal(t, StatusOK, host.OrientedFlux(lineBytes(t), []float32{1, 1, 1}, nx, ny, nz, 1, 1, 1, tub, dir))

	mid := (6*ny+6)*nx + 12
	assert.Greater(t, tub[mid], tub[mid+nx])
	assert.InDelta(t, 1.0, math.Abs(float64(dir[3*mid])), 1e-3)

	const termination = config.DefaultTerminationDistance
	count := host.FindPath(tub, []int32{3, 6, 6}, []int32{20, 6, 6}, dir, nx, ny, nz, 10000, termination, 0.5, 0.01)
	require.Greater(t, count, 0)

	host.mu.Lock()
	trace := host.lastTrace
	host.mu.Unlock()
	require.NotNil(t, trace)
	assert.Equal(t, tracer.Reached, trace.Status)
	assert.LessOrEqual(t, trace.Arrival, termination)
	last, _ := trace.Path.Last()
	assert.LessOrEqual(t, last.Distance(lineStart), config.DefaultConfig().Tracing.StartProximity)

	out := make([]float32, 3*count)
	require.Equal(t, count, host.GetPath(out))
	assert.Equal(t, []float32{20, 6, 6}, out[:3])
	for i := 0; i < count; i++ {
		p := models.Point{X: float64(out[3*i]), Y: float64(out[3*i+1]), Z: float64(out[3*i+2])}
		assert.LessOrEqual(t, models.SegmentDistance(p, lineStart, lineEnd), math.Sqrt(3))
	}

	assert.Equal(t, StatusBufferTooSmall, host.GetPath(out[:3]))
}

func TestFindPathErrors(t *testing.T) {
	host := newHost(t)
	tub := filled(n, 1)

	assert.Equal(t, StatusConfigError, host.FindPath(tub, []int32{3, 6}, []int32{20, 6, 6}, nil, nx, ny, nz, 100, 0.01, 0.5, 0.01))
	assert.Equal(t, StatusConfigError, host.FindPath(tub, []int32{3, 6, 6}, []int32{20, 6, 6}, nil, nx, ny, nz, 0, 0.01, 0.5, 0.01))
	assert.Equal(t, StatusConfigError, host.FindPath(tub, []int32{3, 6, 6}, []int32{20, 6, 6}, nil, nx, ny, nz, 100, 0.01, 0, 0.01))
	assert.Equal(t, StatusConfigError, host.FindPath(tub, []int32{3, 6, 6}, []int32{20, 6, 6}, nil, nx, ny, nz, 100, 0.01, 0.5, 0))
	assert.Equal(t, StatusConfigError, host.FindPath(tub, []int32{3, 6, 6}, []int32{40, 6, 6}, nil, nx, ny, nz, 100, 0.01, 0.5, 0.01))
	assert.Equal(t, StatusConfigError, host.FindPath(tub[:9], []int32{3, 6, 6}, []int32{20, 6, 6}, nil, nx, ny, nz, 100, 0.01, 0.5, 0.01))
	assert.Equal(t, StatusNoJob, host.GetPath(make([]float32, 30)))
}

func TestFindPathMaxIterationsIsPartial(t *testing.T) {
	host := newHost(t)
	count := host.FindPath(filled(n, 1), []int32{3, 6, 6}, []int32{20, 6, 6}, nil, nx, ny, nz, 4, 0.01, 0.5, 0.01)
	assert.Equal(t, 5, count)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusOK, StatusOf(nil))
	assert.Equal(t, StatusConfigError, StatusOf(config.Invalid("x", "bad")))
	assert.Equal(t, StatusInvariant, StatusOf(fmt.Errorf("propagation: %w", &eikonal.InvariantError{})))
	assert.Equal(t, StatusDiverged, StatusOf(tracer.ErrDiverged))
	assert.Equal(t, StatusCancelled, StatusOf(search.ErrCancelled))
	assert.Equal(t, StatusIOError, StatusOf(volumeio.ErrUnsupportedFormat))
	assert.Equal(t, StatusInternal, StatusOf(errors.New("boom")))
}

type countingSink struct {
	paths chan search.PathResult
	done  chan search.Snapshot
}

func (s *countingSink) OnStage(search.JobID, search.Stage)       {}
func (s *countingSink) OnPath(_ search.JobID, r search.PathResult) { s.paths <- r }
func (s *countingSink) OnDone(snap search.Snapshot)                { s.done <- snap }

func saveLine(t *testing.T) string {
	t.Helper()
	vol, err := models.NewLineVolume(models.Dims{Width: nx, Height: ny, Depth: nz}, lineStart, lineEnd, 0, 255)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "line.yaml")
	require.NoError(t, volumeio.SaveRaw(path, vol, volumeio.Uint8, volumeio.Zstd))
	return path
}

func TestStartSearch(t *testing.T) {
	host := newHost(t)
	sink := &countingSink{paths: make(chan search.PathResult, 2), done: make(chan search.Snapshot, 1)}

	status := host.StartSearch(saveLine(t), []float32{3, 6, 6}, []float32{20, 6, 6, 12, 6, 6}, sink)
	require.Equal(t, StatusOK, status)

	select {
	case snap := <-sink.done:
		assert.Equal(t, search.Completed, snap.State, "job error: %v", snap.Err)
		assert.Len(t, snap.Paths, 2)
	case <-time.After(time.Minute):
		t.Fatal("search did not finish")
	}
	assert.Len(t, sink.paths, 2)

	// GetPath returns the newest path, the second end point's.
	out := make([]float32, 3000)
	count := host.GetPath(out)
	require.Greater(t, count, 0)
	assert.Equal(t, []float32{12, 6, 6}, out[:3])
}

func TestInterruptSearch(t *testing.T) {
	host := newHost(t)
	host.InterruptSearch()

	require.Equal(t, StatusOK, host.StartSearch(saveLine(t), []float32{3, 6, 6}, []float32{20, 6, 6}, nil))
	host.InterruptSearch()

	id, ok := host.ActiveJob()
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	snap, err := host.Controller().Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, search.Cancelled, snap.State)
	assert.Equal(t, StatusNoJob, host.GetPath(make([]float32, 30)))
}

func TestStartSearchRejectsInput(t *testing.T) {
	host := newHost(t)
	assert.Equal(t, StatusIOError, host.StartSearch(filepath.Join(t.TempDir(), "missing.yaml"), []float32{1, 1, 1}, []float32{2, 2, 2}, nil))

	vol := saveLine(t)
	assert.Equal(t, StatusConfigError, host.StartSearch(vol, []float32{1, 1}, []float32{2, 2, 2}, nil))
	assert.Equal(t, StatusConfigError, host.StartSearch(vol, []float32{1, 1, 1}, nil, nil))
	assert.Equal(t, StatusConfigError, host.StartSearch(vol, []float32{100, 1, 1}, []float32{2, 2, 2}, nil))
	_, ok := host.ActiveJob()
	assert.False(t, ok)
}

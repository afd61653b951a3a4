// Package hostapi is the flat entry point used by a host application
// binding. Every call takes and fills plain slices owned by the caller and
// reports its outcome as an integer status: zero or a point count on
// success, a negative Status on failure. Output buffers are written only
// when the call succeeds.
package hostapi

import (
	"context"
	"errors"
	"io/fs"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/config"
	"tubulargeodesics/pkg/cost"
	"tubulargeodesics/pkg/eikonal"
	"tubulargeodesics/pkg/logging"
	"tubulargeodesics/pkg/oof"
	"tubulargeodesics/pkg/search"
	"tubulargeodesics/pkg/tracer"
	"tubulargeodesics/pkg/volumeio"
)

// Status codes returned to the host.
const (
	StatusOK             = 0
	StatusConfigError    = -1
	StatusInvariant      = -2
	StatusDiverged       = -3
	StatusCancelled      = -4
	StatusNoJob          = -5
	StatusNotReady       = -6
	StatusBufferTooSmall = -7
	StatusIOError        = -8
	StatusInternal       = -9
)

// StatusOf maps an error to its status code.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, config.ErrConfiguration),
		errors.Is(err, models.ErrInvalidDimensions),
		errors.Is(err, models.ErrInvalidSpacing):
		return StatusConfigError
	case errors.Is(err, eikonal.ErrNonPositiveCost):
		return StatusInvariant
	case errors.Is(err, tracer.ErrDiverged):
		return StatusDiverged
	case errors.Is(err, context.Canceled):
		return StatusCancelled
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, volumeio.ErrUnsupportedFormat):
		return StatusIOError
	}
	return StatusInternal
}

// Host keeps the state shared by successive calls: the active search and the
// most recent path.
type Host struct {
	cfg  *config.Config
	log  *logging.Logger
	ctrl *search.Controller

	mu        sync.Mutex
	active    search.JobID
	last      models.Path
	lastTrace *tracer.Trace
}

// New creates a host. cfg supplies the parameters the flat calls do not
// carry; nil uses the defaults.
func New(cfg *config.Config, logger *logging.Logger, reg prometheus.Registerer) *Host {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := logging.OrNoop(logger)
	return &Host{
		cfg: cfg.Clone(),
		log: log,
		ctrl: search.NewController(search.Options{
			MaxConcurrentJobs: cfg.Search.MaxConcurrentJobs,
			Logger:            log,
			Registerer:        reg,
		}),
	}
}

// Close interrupts any running search and releases the workers.
func (h *Host) Close() {
	h.ctrl.Close()
}

func gridOf(width, height, depth int, spacing []float32) (models.Grid, error) {
	g := models.Grid{
		Dims:    models.Dims{Width: width, Height: height, Depth: depth},
		Spacing: models.UnitSpacing,
	}
	switch len(spacing) {
	case 0:
	case 3:
		g.Spacing = models.Spacing{X: float64(spacing[0]), Y: float64(spacing[1]), Z: float64(spacing[2])}
	default:
		return g, config.Invalid("spacing", "expected 3 values, got %d", len(spacing))
	}
	return g, g.Validate()
}

func points(field string, flat []float32) ([]models.Point, error) {
	if len(flat) == 0 || len(flat)%3 != 0 {
		return nil, config.Invalid(field, "expected x, y, z triples, got %d values", len(flat))
	}
	out := make([]models.Point, len(flat)/3)
	for i := range out {
		out[i] = models.Point{X: float64(flat[3*i]), Y: float64(flat[3*i+1]), Z: float64(flat[3*i+2])}
	}
	return out, nil
}

func voxels(field string, flat []int32) ([]models.Point, error) {
	if len(flat) == 0 || len(flat)%3 != 0 {
		return nil, config.Invalid(field, "expected x, y, z triples, got %d values", len(flat))
	}
	out := make([]models.Point, len(flat)/3)
	for i := range out {
		out[i] = models.PointFromIndex(int(flat[3*i]), int(flat[3*i+1]), int(flat[3*i+2]))
	}
	return out, nil
}

// OrientedFlux computes the multiscale tubularity of an 8-bit volume over
// scaleCount radii spanning [scaleMin, scaleMax]. outTubularity receives one
// score per voxel and outDirection one x, y, z triple per voxel.
func (h *Host) OrientedFlux(volume []byte, spacing []float32, width, height, depth int,
	scaleMin, scaleMax float64, scaleCount int, outTubularity, outDirection []float32) int {
	res, err := h.orientedFlux(volume, spacing, width, height, depth, scaleMin, scaleMax, scaleCount, len(outTubularity), len(outDirection))
	if err != nil {
		h.log.Warn("oriented flux failed", "error", err)
		return StatusOf(err)
	}
	for i, v := range res.Tubularity.Data {
		outTubularity[i] = float32(v)
	}
	for i, d := range res.Orientation.Data {
		outDirection[3*i] = float32(d[0])
		outDirection[3*i+1] = float32(d[1])
		outDirection[3*i+2] = float32(d[2])
	}
	return StatusOK
}

func (h *Host) orientedFlux(volume []byte, spacing []float32, width, height, depth int,
	scaleMin, scaleMax float64, scaleCount, tubLen, dirLen int) (*oof.Result, error) {
	g, err := gridOf(width, height, depth, spacing)
	if err != nil {
		return nil, err
	}
	n := g.Dims.Len()
	if len(volume) != n {
		return nil, config.Invalid("volume", "%d bytes for %s grid", len(volume), g.Dims)
	}
	if tubLen < n || dirLen < 3*n {
		return nil, config.Invalid("output", "buffers hold %d and %d values, need %d and %d", tubLen, dirLen, n, 3*n)
	}

	r := config.ScaleRange{Min: scaleMin, Max: scaleMax, Count: scaleCount}
	if h.cfg.Tubularity.Range != nil {
		r.Logarithmic = h.cfg.Tubularity.Range.Logarithmic
	}
	if !(scaleMin > 0) || scaleMax < scaleMin {
		return nil, config.Invalid("scales", "invalid range [%g, %g]", scaleMin, scaleMax)
	}
	scales := r.Scales()
	if err := oof.ValidateScales(scales); err != nil {
		return nil, err
	}

	vol, err := models.VolumeFromBytes(volume, g.Dims, g.Spacing)
	if err != nil {
		return nil, err
	}
	return oof.Compute(context.Background(), vol, scales, oof.Options{
		SmoothingSigma: h.cfg.Tubularity.SmoothingSigma,
		Workers:        h.cfg.Tubularity.Workers,
		Logger:         h.log,
	})
}

// FindPath traces a minimal path from end back to the start voxels over a
// precomputed tubularity field. orientation may be empty; when given, voxels
// with a zero orientation are costed as background. It returns the number of
// path points, retrievable with GetPath, or a negative status.
func (h *Host) FindPath(tubularity []float32, start, end []int32, orientation []float32,
	width, height, depth, maxIterations int, terminationDistance, step, costFloor float64) int {
	out, err := h.findPath(tubularity, start, end, orientation, width, height, depth,
		maxIterations, terminationDistance, step, costFloor)
	if err != nil {
		h.log.Warn("find path failed", "error", err)
		return StatusOf(err)
	}

	h.mu.Lock()
	h.last = out.Path
	h.lastTrace = out
	h.mu.Unlock()

	if err := out.Err(); err != nil {
		return StatusOf(err)
	}
	return out.Path.Len()
}

func (h *Host) findPath(tubularity []float32, start, end []int32, orientation []float32,
	width, height, depth, maxIterations int, terminationDistance, step, costFloor float64) (*tracer.Trace, error) {
	g, err := gridOf(width, height, depth, nil)
	if err != nil {
		return nil, err
	}
	n := g.Dims.Len()
	if len(tubularity) != n {
		return nil, config.Invalid("tubularity", "%d values for %s grid", len(tubularity), g.Dims)
	}
	if len(orientation) != 0 && len(orientation) != 3*n {
		return nil, config.Invalid("orientation", "%d values for %s grid", len(orientation), g.Dims)
	}
	starts, err := voxels("start", start)
	if err != nil {
		return nil, err
	}
	ends, err := voxels("end", end)
	if err != nil {
		return nil, err
	}
	if len(ends) != 1 {
		return nil, config.Invalid("end", "expected one end point, got %d", len(ends))
	}

	params := tracer.FromConfig(h.cfg.Tracing)
	params.Step = step
	params.MaxIterations = maxIterations
	params.TerminationDistance = terminationDistance
	if err := params.Validate(); err != nil {
		return nil, err
	}

	tub := models.NewScalarField(g)
	for i, v := range tubularity {
		tub.Data[i] = float64(v)
	}
	var orient *models.VectorField
	if len(orientation) > 0 {
		orient = models.NewVectorField(g)
		for i := range orient.Data {
			orient.Data[i] = models.Vec3{float64(orientation[3*i]), float64(orientation[3*i+1]), float64(orientation[3*i+2])}
		}
	}

	costs, err := cost.Derive(tub, orient, cost.Params{Floor: costFloor, Sensitivity: h.cfg.Cost.Sensitivity})
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	front, err := eikonal.Propagate(ctx, costs, starts, eikonal.Options{Logger: h.log})
	if err != nil {
		return nil, err
	}
	tr, err := tracer.New(front.Arrival, front.Direction, starts, params, h.log)
	if err != nil {
		return nil, err
	}
	return tr.Trace(ctx, ends[0])
}

// GetPath copies the most recent path into out as x, y, z triples and
// returns its point count.
func (h *Host) GetPath(out []float32) int {
	h.mu.Lock()
	path, active := h.last, h.active
	h.mu.Unlock()

	if path == nil {
		if active == uuid.Nil {
			return StatusNoJob
		}
		snap, err := h.ctrl.Poll(active)
		if err != nil || snap.State.Terminal() {
			return StatusNoJob
		}
		return StatusNotReady
	}
	if len(out) < 3*path.Len() {
		return StatusBufferTooSmall
	}
	copy(out, path.Flatten())
	return path.Len()
}

// StartSearch loads the volume at volumePath and starts a search from the
// start points to every end point, both given as x, y, z triples in voxel
// coordinates. A search already running is interrupted first. Progress and
// paths are reported to sink, which may be nil.
func (h *Host) StartSearch(volumePath string, start, ends []float32, sink search.Sink) int {
	starts, err := points("start", start)
	if err != nil {
		return StatusOf(err)
	}
	targets, err := points("ends", ends)
	if err != nil {
		return StatusOf(err)
	}
	vol, err := volumeio.Load(volumePath)
	if err != nil {
		h.log.Warn("volume load failed", "path", volumePath, "error", err)
		return StatusOf(err)
	}

	h.InterruptSearch()

	// Hold the lock across Submit so the sink never sees a stale active job.
	h.mu.Lock()
	defer h.mu.Unlock()
	id, err := h.ctrl.Submit(search.Request{
		Volume: vol,
		Config: h.cfg,
		Starts: starts,
		Ends:   targets,
		Sink:   &hostSink{host: h, next: sink},
	})
	if err != nil {
		h.log.Warn("search rejected", "error", err)
		return StatusOf(err)
	}
	h.active = id
	h.last = nil
	h.lastTrace = nil
	return StatusOK
}

// InterruptSearch requests cancellation of the active search, if any.
func (h *Host) InterruptSearch() {
	h.mu.Lock()
	id := h.active
	h.mu.Unlock()
	if id == uuid.Nil {
		return
	}
	if err := h.ctrl.Interrupt(id); err != nil {
		h.log.Warn("interrupt failed", "job", id.String(), "error", err)
	}
}

// ActiveJob returns the handle of the most recent search.
func (h *Host) ActiveJob() (search.JobID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active, h.active != uuid.Nil
}

// Controller exposes the underlying job controller for polling and waiting.
func (h *Host) Controller() *search.Controller {
	return h.ctrl
}

// hostSink records the newest path of the active job before forwarding.
type hostSink struct {
	host *Host
	next search.Sink
}

func (s *hostSink) OnStage(id search.JobID, stage search.Stage) {
	if s.next != nil {
		s.next.OnStage(id, stage)
	}
}

func (s *hostSink) OnPath(id search.JobID, res search.PathResult) {
	s.host.mu.Lock()
	if s.host.active == id {
		s.host.last = res.Path
	}
	s.host.mu.Unlock()
	if s.next != nil {
		s.next.OnPath(id, res)
	}
}

func (s *hostSink) OnDone(snap search.Snapshot) {
	if s.next != nil {
		s.next.OnDone(snap)
	}
}

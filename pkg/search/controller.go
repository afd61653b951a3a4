// Package search runs point-to-point geodesic searches as cancellable jobs.
//
// A job computes the multiscale tubularity of its volume, derives the cost
// field, propagates the arrival front from the start points once and then
// traces every end point in submission order. Each job runs on its own
// goroutine; the controller bounds how many run at once. Poll and GetPath may
// be called at any time from any goroutine: they read snapshots that the
// worker publishes atomically after each stage and each traced path.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"tubulargeodesics/pkg/config"
	"tubulargeodesics/pkg/logging"
)

// Options configures a Controller.
type Options struct {
	// MaxConcurrentJobs bounds the number of running jobs; queued jobs wait
	MaxConcurrentJobs int

	Logger *logging.Logger

	// Registerer receives the controller metrics; nil keeps them private
	Registerer prometheus.Registerer
}

// Controller owns the submitted jobs.
type Controller struct {
	log     *logging.Logger
	sem     *semaphore.Weighted
	metrics *Metrics

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu   sync.RWMutex
	jobs map[JobID]*job
}

// NewController creates a controller. A non-positive MaxConcurrentJobs
// falls back to the configured default.
func NewController(opts Options) *Controller {
	n := opts.MaxConcurrentJobs
	if n <= 0 {
		n = config.DefaultConfig().Search.MaxConcurrentJobs
	}
	base, stop := context.WithCancel(context.Background())
	return &Controller{
		log:     logging.OrNoop(opts.Logger),
		sem:     semaphore.NewWeighted(int64(n)),
		metrics: NewMetrics(opts.Registerer),
		base:    base,
		stop:    stop,
		jobs:    make(map[JobID]*job),
	}
}

// Submit validates req and starts a job for it. Configuration problems are
// reported here, before any numerical work.
func (c *Controller) Submit(req Request) (JobID, error) {
	if err := c.base.Err(); err != nil {
		return uuid.Nil, fmt.Errorf("controller closed: %w", err)
	}
	if req.Config == nil {
		req.Config = config.DefaultConfig()
	} else {
		req.Config = req.Config.Clone()
	}
	if err := validate(req); err != nil {
		return uuid.Nil, err
	}
	req.Starts = append(req.Starts[:0:0], req.Starts...)
	req.Ends = append(req.Ends[:0:0], req.Ends...)

	ctx, cancel := context.WithCancel(c.base)
	j := &job{
		id:     uuid.New(),
		req:    req,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	j.snap.Store(&Snapshot{
		ID:        j.id,
		State:     Created,
		Stage:     StageQueued,
		EndPoints: len(req.Ends),
		Submitted: time.Now(),
	})

	c.mu.Lock()
	c.jobs[j.id] = j
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(j.done)
		defer cancel()
		c.run(ctx, j)
	}()

	c.log.Info("search submitted",
		"job", j.id.String(),
		"starts", len(req.Starts),
		"end_points", len(req.Ends),
	)
	return j.id, nil
}

func validate(req Request) error {
	if req.Volume == nil {
		return config.Invalid("volume", "is required")
	}
	if err := req.Volume.Grid.Validate(); err != nil {
		return config.Invalid("volume", "%v", err)
	}
	if len(req.Volume.Data) != req.Volume.Dims.Len() {
		return config.Invalid("volume", "%d voxels for %s grid", len(req.Volume.Data), req.Volume.Dims)
	}
	if err := req.Config.Validate(); err != nil {
		return err
	}
	if len(req.Starts) == 0 {
		return config.Invalid("startPoints", "must not be empty")
	}
	if len(req.Ends) == 0 {
		return config.Invalid("endPoints", "must not be empty")
	}
	dims := req.Volume.Dims
	for i, p := range req.Starts {
		if !p.IsFinite() || !dims.ContainsPoint(p) {
			return config.Invalid("startPoints", "point %d %v outside %s grid", i, p, dims)
		}
	}
	for i, p := range req.Ends {
		if !p.IsFinite() || !dims.ContainsPoint(p) {
			return config.Invalid("endPoints", "point %d %v outside %s grid", i, p, dims)
		}
	}
	return nil
}

func (c *Controller) lookup(id JobID) (*job, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	j, ok := c.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j, nil
}

// Poll returns the current snapshot of a job.
func (c *Controller) Poll(id JobID) (Snapshot, error) {
	j, err := c.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return j.snapshot(), nil
}

// Interrupt requests cancellation. The job stops at its next check point;
// interrupting a finished job has no effect.
func (c *Controller) Interrupt(id JobID) error {
	j, err := c.lookup(id)
	if err != nil {
		return err
	}
	j.cancel()
	return nil
}

// GetPath returns the path traced for an end point, or ErrPathNotAvailable
// while it has not been published.
func (c *Controller) GetPath(id JobID, endPoint int) (PathResult, error) {
	j, err := c.lookup(id)
	if err != nil {
		return PathResult{}, err
	}
	snap := j.snap.Load()
	if endPoint < 0 || endPoint >= snap.EndPoints {
		return PathResult{}, config.Invalid("endPoint", "index %d out of range [0, %d)", endPoint, snap.EndPoints)
	}
	if endPoint >= len(snap.Paths) {
		return PathResult{}, fmt.Errorf("%w: job %s end point %d (%s)", ErrPathNotAvailable, id, endPoint, snap.State)
	}
	return snap.Paths[endPoint], nil
}

// Wait blocks until the job reaches a terminal state or ctx is done.
func (c *Controller) Wait(ctx context.Context, id JobID) (Snapshot, error) {
	j, err := c.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// Forget drops a finished job. It returns false while the job is still
// running.
func (c *Controller) Forget(id JobID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok || !j.snap.Load().State.Terminal() {
		return false
	}
	delete(c.jobs, id)
	return true
}

// Close interrupts every job and waits for the workers to exit.
func (c *Controller) Close() {
	c.stop()
	c.wg.Wait()
}

// classify maps a pipeline error to the job's terminal state.
func classify(err error) (State, error) {
	if errors.Is(err, context.Canceled) {
		return Cancelled, ErrCancelled
	}
	return Failed, err
}

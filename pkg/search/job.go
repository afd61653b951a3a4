package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/config"
	"tubulargeodesics/pkg/tracer"
)

var (
	// ErrCancelled marks a job stopped by Interrupt. It matches context.Canceled.
	ErrCancelled = fmt.Errorf("search cancelled: %w", context.Canceled)

	// ErrJobNotFound is returned for an unknown job handle.
	ErrJobNotFound = errors.New("search job not found")

	// ErrPathNotAvailable is returned when an end point has no published path yet.
	ErrPathNotAvailable = errors.New("path not available")
)

// JobID identifies a submitted job.
type JobID = uuid.UUID

// State is the lifecycle state of a job.
type State int

const (
	Created State = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Stage names a step of the job pipeline.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageTubularity  Stage = "tubularity"
	StageCost        Stage = "cost"
	StagePropagation Stage = "propagation"
	StageTracing     Stage = "tracing"
)

// Request is one point-to-point search.
type Request struct {
	Volume *models.Volume

	// Config is copied at submission; later edits do not affect the job
	Config *config.Config

	// Starts are the propagation sources in index space
	Starts []models.Point

	// Ends are traced in order, one path each
	Ends []models.Point

	// Sink, when set, receives progress on the job's worker goroutine
	Sink Sink
}

// PathResult is the outcome of one end point.
type PathResult struct {
	EndPoint int
	Path     models.Path
	Status   tracer.Status
	Steps    int
	Arrival  float64
}

// Err returns the per-end-point error, if any.
func (r PathResult) Err() error {
	if r.Status == tracer.Diverged {
		return fmt.Errorf("end point %d: %w", r.EndPoint, tracer.ErrDiverged)
	}
	return nil
}

// Snapshot is an immutable view of a job. Paths holds one entry per traced
// end point in submission order.
type Snapshot struct {
	ID        JobID
	State     State
	Stage     Stage
	Paths     []PathResult
	EndPoints int
	Err       error
	Submitted time.Time
	Started   time.Time
	Finished  time.Time
}

// Sink receives job progress. Calls happen on the job's worker goroutine in
// pipeline order; implementations must not block for long.
type Sink interface {
	OnStage(id JobID, stage Stage)
	OnPath(id JobID, result PathResult)
	OnDone(snap Snapshot)
}

// job is owned by its worker goroutine. Readers only ever load snap.
type job struct {
	id     JobID
	req    Request
	cancel context.CancelFunc
	done   chan struct{}
	snap   atomic.Pointer[Snapshot]
}

// publish replaces the visible snapshot with a modified copy. Only the
// worker calls it, and never after a terminal state.
func (j *job) publish(update func(s *Snapshot)) Snapshot {
	next := *j.snap.Load()
	next.Paths = append([]PathResult(nil), next.Paths...)
	update(&next)
	j.snap.Store(&next)
	return next
}

func (j *job) snapshot() Snapshot {
	s := *j.snap.Load()
	s.Paths = append([]PathResult(nil), s.Paths...)
	return s
}

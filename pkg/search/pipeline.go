package search

import (
	"context"
	"fmt"
	"time"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/cost"
	"tubulargeodesics/pkg/eikonal"
	"tubulargeodesics/pkg/logging"
	"tubulargeodesics/pkg/oof"
	"tubulargeodesics/pkg/tracer"
)

// run executes one job on the calling goroutine.
func (c *Controller) run(ctx context.Context, j *job) {
	log := c.log.WithJob(j.id.String())

	if err := c.sem.Acquire(ctx, 1); err != nil {
		state, err := classify(err)
		c.finish(j, log, state, err)
		return
	}
	defer c.sem.Release(1)

	c.metrics.active.Inc()
	defer c.metrics.active.Dec()

	j.publish(func(s *Snapshot) {
		s.State = Running
		s.Started = time.Now()
	})

	err := c.execute(ctx, j, log)
	if err == nil {
		// An interrupt that raced with the last trace still wins.
		err = ctx.Err()
	}
	if err == nil {
		c.finish(j, log, Completed, nil)
		return
	}
	state, err := classify(err)
	c.finish(j, log, state, err)
}

// stage runs fn as a named pipeline stage, publishing it and recording its
// duration. fn receives a logger tagged with the stage.
func (c *Controller) stage(ctx context.Context, j *job, log *logging.Logger, name Stage, fn func(log *logging.Logger) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.publish(func(s *Snapshot) { s.Stage = name })
	if j.req.Sink != nil {
		j.req.Sink.OnStage(j.id, name)
	}
	stageLog := log.WithStage(string(name))
	start := time.Now()
	err := fn(stageLog)
	elapsed := time.Since(start)
	c.metrics.stageDuration.WithLabelValues(string(name)).Observe(elapsed.Seconds())
	stageLog.LogStage(ctx, elapsed, err)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (c *Controller) execute(ctx context.Context, j *job, log *logging.Logger) error {
	cfg := j.req.Config

	var tub *oof.Result
	err := c.stage(ctx, j, log, StageTubularity, func(log *logging.Logger) (err error) {
		tub, err = oof.Compute(ctx, j.req.Volume, cfg.ResolvedScales(), oof.Options{
			SmoothingSigma: cfg.Tubularity.SmoothingSigma,
			Workers:        cfg.Tubularity.Workers,
			Logger:         log,
		})
		return err
	})
	if err != nil {
		return err
	}

	var costs *models.ScalarField
	err = c.stage(ctx, j, log, StageCost, func(*logging.Logger) (err error) {
		costs, err = cost.Derive(tub.Tubularity, tub.Orientation, cost.FromConfig(cfg.Cost))
		return err
	})
	if err != nil {
		return err
	}

	var front *eikonal.Result
	err = c.stage(ctx, j, log, StagePropagation, func(log *logging.Logger) (err error) {
		front, err = eikonal.Propagate(ctx, costs, j.req.Starts, eikonal.Options{Logger: log})
		return err
	})
	if err != nil {
		return err
	}

	return c.stage(ctx, j, log, StageTracing, func(log *logging.Logger) error {
		tr, err := tracer.New(front.Arrival, front.Direction, j.req.Starts, tracer.FromConfig(cfg.Tracing), log)
		if err != nil {
			return err
		}
		for i, end := range j.req.Ends {
			out, err := tr.Trace(ctx, end)
			if err != nil {
				return fmt.Errorf("end point %d: %w", i, err)
			}
			res := PathResult{
				EndPoint: i,
				Path:     out.Path,
				Status:   out.Status,
				Steps:    out.Steps,
				Arrival:  out.Arrival,
			}
			j.publish(func(s *Snapshot) { s.Paths = append(s.Paths, res) })
			c.metrics.pathPoints.WithLabelValues(out.Status.String()).Observe(float64(out.Path.Len()))
			log.LogTrace(ctx, i, out.Path.Len(), out.Status.String())
			if j.req.Sink != nil {
				j.req.Sink.OnPath(j.id, res)
			}
		}
		return nil
	})
}

// finish publishes the terminal state exactly once.
func (c *Controller) finish(j *job, log *logging.Logger, state State, err error) {
	snap := j.publish(func(s *Snapshot) {
		s.State = state
		s.Err = err
		s.Finished = time.Now()
	})
	c.metrics.jobs.WithLabelValues(state.String()).Inc()

	switch state {
	case Completed:
		log.Info("search completed", "paths", len(snap.Paths), "elapsed", snap.Finished.Sub(snap.Submitted))
	case Cancelled:
		log.Info("search cancelled", "paths", len(snap.Paths))
	default:
		log.Error("search failed", "error", err)
	}
	if j.req.Sink != nil {
		j.req.Sink.OnDone(snap)
	}
}

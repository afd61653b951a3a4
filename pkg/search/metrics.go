package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the controller's Prometheus instruments. Each controller
// registers its own set so several controllers can coexist in one process.
type Metrics struct {
	// jobs counts finished jobs.
	// Labels: state (completed, failed, cancelled)
	jobs *prometheus.CounterVec

	// active tracks jobs currently holding a worker slot
	active prometheus.Gauge

	// stageDuration measures each pipeline stage.
	// Labels: stage
	stageDuration *prometheus.HistogramVec

	// pathPoints is the distribution of traced path lengths in points.
	// Labels: status (reached, max-iter, diverged)
	pathPoints *prometheus.HistogramVec
}

// NewMetrics creates the instruments on reg. A nil reg uses a private
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tubegeo",
			Subsystem: "search",
			Name:      "jobs_total",
			Help:      "Total search jobs by terminal state",
		}, []string{"state"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tubegeo",
			Subsystem: "search",
			Name:      "active_jobs",
			Help:      "Search jobs currently running",
		}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tubegeo",
			Subsystem: "search",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each search pipeline stage",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"stage"}),
		pathPoints: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tubegeo",
			Subsystem: "search",
			Name:      "path_points",
			Help:      "Number of points per traced path",
			Buckets:   prometheus.ExponentialBuckets(2, 2, 12),
		}, []string{"status"}),
	}
}

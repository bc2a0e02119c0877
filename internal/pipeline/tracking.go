package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ------------------- Prometheus Metrics -------------------

var (
	// stepsAnalyzed counts finished steps by derived status
	stepsAnalyzed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hawkeye_steps_analyzed_total",
		Help: "Total analyzed steps by status",
	}, []string{"status"})

	// stepDuration tracks extraction latency per step
	stepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hawkeye_step_duration_seconds",
		Help:    "Step extraction duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})

	// metricsExtracted counts metric values produced by extraction
	metricsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hawkeye_metrics_extracted_total",
		Help: "Total metric values extracted from reports",
	})

	// analysesTotal counts analysis runs by outcome
	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hawkeye_analyses_total",
		Help: "Total analysis runs by outcome",
	}, []string{"outcome"}) // "completed" or "cancelled"
)

// ------------------- Analysis Tracking -------------------

// Report summarises one analysis run.
type Report struct {
	ID               string        `json:"id"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	Duration         time.Duration `json:"duration"`
	Executions       int           `json:"executions"`
	TotalSteps       int           `json:"total_steps"`
	CompletedSteps   int           `json:"completed_steps"`
	SkippedSteps     int           `json:"skipped_steps"`
	MetricsExtracted int           `json:"metrics_extracted"`
	Cancelled        bool          `json:"cancelled"`
}

// tracker collects counters from concurrent workers.
type tracker struct {
	id        string
	startedAt time.Time
	completed atomic.Int64
	metrics   atomic.Int64
}

func newTracker(id string, start time.Time) *tracker {
	return &tracker{id: id, startedAt: start}
}

// stepDone records one finished step and returns the new completed count.
func (t *tracker) stepDone(status string, metrics int, took time.Duration) int {
	stepsAnalyzed.WithLabelValues(status).Inc()
	stepDuration.Observe(took.Seconds())
	metricsExtracted.Add(float64(metrics))
	t.metrics.Add(int64(metrics))
	return int(t.completed.Add(1))
}

func (t *tracker) report(end time.Time, executions, total, skipped int, cancelled bool) *Report {
	outcome := "completed"
	if cancelled {
		outcome = "cancelled"
	}
	analysesTotal.WithLabelValues(outcome).Inc()
	return &Report{
		ID:               t.id,
		StartedAt:        t.startedAt,
		FinishedAt:       end,
		Duration:         end.Sub(t.startedAt),
		Executions:       executions,
		TotalSteps:       total,
		CompletedSteps:   int(t.completed.Load()),
		SkippedSteps:     skipped,
		MetricsExtracted: int(t.metrics.Load()),
		Cancelled:        cancelled,
	}
}

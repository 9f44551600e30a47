// Package metrics exposes Prometheus metrics for the scheduling engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"siegebot/internal/core"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	RetriesTotal  *prometheus.CounterVec
	DisablesTotal *prometheus.CounterVec
	Executing     prometheus.Gauge
}

// New registers the engine collectors with the given registerer. Passing
// prometheus.DefaultRegisterer wires them into the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siegebot_task_runs_total",
			Help: "Completed task runs by task and outcome.",
		}, []string{"task", "status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "siegebot_task_run_duration_seconds",
			Help:    "Wall-clock duration of completed task runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"task"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siegebot_task_retries_total",
			Help: "Failed runs that left a retry pending.",
		}, []string{"task"}),
		DisablesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siegebot_task_disables_total",
			Help: "Tasks auto-disabled after exhausting their retry budget.",
		}, []string{"task"}),
		Executing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "siegebot_task_executing",
			Help: "1 while a task occupies the single execution slot.",
		}),
	}
}

// RegisterUptime exposes the scheduler's uptime as a gauge backed by fn,
// which should return 0 while the scheduler is stopped.
func RegisterUptime(reg prometheus.Registerer, fn func() float64) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "siegebot_scheduler_uptime_seconds",
		Help: "Seconds since the scheduler started.",
	}, fn))
}

// Recorder adapts Metrics to the engine's observer interface.
type Recorder struct {
	m *Metrics
}

// NewRecorder returns an observer that updates the collectors.
func NewRecorder(m *Metrics) *Recorder {
	return &Recorder{m: m}
}

func (r *Recorder) TaskStateChanged(task string, from, to core.TaskState) {
	switch {
	case to == core.StateExecuting:
		r.m.Executing.Set(1)
	case from == core.StateExecuting:
		r.m.Executing.Set(0)
	}
}

func (r *Recorder) TaskCompleted(rec core.RunRecord) {
	r.m.RunsTotal.WithLabelValues(rec.Task, string(rec.Status)).Inc()
	if rec.Status == core.RunSkipped {
		return
	}
	r.m.RunDuration.WithLabelValues(rec.Task).Observe(rec.DurationSeconds)
	if rec.Status == core.RunFailed {
		if rec.Disabled {
			r.m.DisablesTotal.WithLabelValues(rec.Task).Inc()
		} else {
			r.m.RetriesTotal.WithLabelValues(rec.Task).Inc()
		}
	}
}

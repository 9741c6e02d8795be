package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "strato"

// Metrics holds all Prometheus metrics for the control plane
type Metrics struct {
	// Decision loop metrics
	EvaluateTotal    *prometheus.CounterVec
	EvaluateDuration prometheus.Histogram
	EvaluateErrors   prometheus.Counter

	// Load metrics
	CombinedLoad prometheus.Gauge
	CPUUsage     prometheus.Gauge
	MemoryUsage  prometheus.Gauge
	QueueDepth   *prometheus.GaugeVec

	// Pool metrics
	WorkersCurrent *prometheus.GaugeVec
	WorkersBusy    *prometheus.GaugeVec
	TasksCompleted *prometheus.CounterVec

	// Scaling metrics
	ScaleUpEvents   *prometheus.CounterVec
	ScaleDownEvents *prometheus.CounterVec
	ScaleFailures   *prometheus.CounterVec

	// Persistence metrics
	PersistErrors *prometheus.CounterVec

	// System metrics
	ControllerInfo *prometheus.GaugeVec
	LeaderElection prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		EvaluateTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluate_total",
				Help:      "Total number of scaling evaluations",
			},
			[]string{"decision"},
		),
		EvaluateDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluate_duration_seconds",
				Help:      "Duration of scaling evaluation ticks",
				Buckets:   prometheus.DefBuckets,
			},
		),
		EvaluateErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluate_errors_total",
				Help:      "Total number of scaling evaluation errors",
			},
		),

		CombinedLoad: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "combined_load",
				Help:      "Current normalized combined load score",
			},
		),
		CPUUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cpu_usage_percent",
				Help:      "Sampled host CPU utilization",
			},
		),
		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_percent",
				Help:      "Sampled host memory utilization",
			},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current task queue depth per pool",
			},
			[]string{"pool"},
		),

		WorkersCurrent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_current",
				Help:      "Current number of workers per pool",
			},
			[]string{"pool"},
		),
		WorkersBusy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_busy",
				Help:      "Number of busy workers per pool",
			},
			[]string{"pool"},
		),
		TasksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_completed_total",
				Help:      "Total number of completed tasks per pool",
			},
			[]string{"pool"},
		),

		ScaleUpEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scale_up_events_total",
				Help:      "Total number of scale up events",
			},
			[]string{"pool", "trigger"},
		),
		ScaleDownEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scale_down_events_total",
				Help:      "Total number of scale down events",
			},
			[]string{"pool", "trigger"},
		),
		ScaleFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scale_failures_total",
				Help:      "Total number of failed scaling attempts",
			},
			[]string{"pool", "trigger"},
		),

		PersistErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_errors_total",
				Help:      "Total number of state persistence failures",
			},
			[]string{"store"},
		),

		ControllerInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "controller_info",
				Help:      "Information about the control plane",
			},
			[]string{"version"},
		),
		LeaderElection: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "leader_election_status",
				Help:      "Leader election status (1 if leader, 0 otherwise)",
			},
		),
	}
}

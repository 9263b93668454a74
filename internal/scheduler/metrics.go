package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics метрики планировщика:
// * voxel_scheduler_queue_depth: gauge
// * voxel_scheduler_in_flight: gauge
// * voxel_scheduler_accepted: gauge
// * voxel_scheduler_workers_running: gauge
// * voxel_scheduler_jobs_started_total{stage,direction}: counter
// * voxel_scheduler_jobs_completed_total{stage,direction,status}: counter
// * voxel_scheduler_adjustments_dropped_total{stage}: counter
// * voxel_scheduler_adjustments_requeued_total{stage}: counter
// * voxel_scheduler_job_duration_seconds{stage}: histogram
type Metrics struct {
	queueDepth     prometheus.Gauge
	inFlight       prometheus.Gauge
	accepted       prometheus.Gauge
	workersRunning prometheus.Gauge
	jobsStarted    *prometheus.CounterVec
	jobsCompleted  *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	requeued       *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
}

// NewMetrics создаёт метрики и регистрирует их в reg. При reg == nil
// метрики считаются, но не регистрируются.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const ns, sub = "voxel", "scheduler"
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "queue_depth",
			Help: "Количество изменений областей в очереди.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "in_flight",
			Help: "Чанки с незавершённой задачей.",
		}),
		accepted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "accepted",
			Help: "Принятые, но ещё не отправленные задачи.",
		}),
		workersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "workers_running",
			Help: "Занятые воркеры пула.",
		}),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "jobs_started_total",
			Help: "Отправленные на выполнение задачи.",
		}, []string{"stage", "direction"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "jobs_completed_total",
			Help: "Завершённые задачи.",
		}, []string{"stage", "direction", "status"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "adjustments_dropped_total",
			Help: "Изменения, отброшенные проверкой.",
		}, []string{"stage"}),
		requeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "adjustments_requeued_total",
			Help: "Изменения, возвращённые в очередь.",
		}, []string{"stage"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "job_duration_seconds",
			Help:    "Длительность выполнения задач.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"stage"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.queueDepth, m.inFlight, m.accepted, m.workersRunning,
			m.jobsStarted, m.jobsCompleted, m.dropped, m.requeued, m.jobDuration,
		)
	}
	return m
}

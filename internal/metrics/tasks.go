// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subforge_task_transitions_total",
		Help: "Task state transitions by kind and target status",
	}, []string{"kind", "status"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "subforge_task_duration_seconds",
		Help:    "Wall time from RUNNING to a terminal state",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"kind", "status"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "subforge_stage_duration_seconds",
		Help:    "Pipeline stage wall time",
		Buckets: prometheus.ExponentialBuckets(0.05, 3, 10),
	}, []string{"stage", "outcome"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "subforge_dispatcher_queue_depth",
		Help: "Jobs waiting for a worker",
	})

	workersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "subforge_dispatcher_workers_busy",
		Help: "Workers currently running a job",
	})

	workerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subforge_dispatcher_panics_total",
		Help: "Panics recovered inside dispatcher workers",
	})

	cloudInflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "subforge_cloud_calls_inflight",
		Help: "Outstanding cloud calls holding a gate slot",
	}, []string{"provider"})

	billingOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subforge_billing_total",
		Help: "Settlement attempts by outcome (settled, deferred, failed, free)",
	}, []string{"outcome"})
)

// RecordTaskTransition counts a state change.
func RecordTaskTransition(kind, status string) {
	taskTransitions.WithLabelValues(kind, status).Inc()
}

// ObserveTaskDuration records run time of a finished task.
func ObserveTaskDuration(kind, status string, d time.Duration) {
	taskDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

// ObserveStage records a pipeline stage.
func ObserveStage(stage, outcome string, d time.Duration) {
	stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// SetQueueDepth publishes the dispatcher backlog.
func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

// SetWorkersBusy publishes the number of busy workers.
func SetWorkersBusy(n int) { workersBusy.Set(float64(n)) }

// IncWorkerPanic counts a recovered worker panic.
func IncWorkerPanic() { workerPanics.Inc() }

// AddCloudInflight adjusts the in-flight gauge for provider.
func AddCloudInflight(provider string, delta float64) {
	cloudInflight.WithLabelValues(labelOr(provider)).Add(delta)
}

// RecordBilling counts a settlement outcome.
func RecordBilling(outcome string) {
	billingOutcomes.WithLabelValues(outcome).Inc()
}

var procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "subforge_proc_terminate_total",
	Help: "Signals sent to external tool process groups",
}, []string{"signal", "result"})

// IncProcTerminate counts a termination signal.
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}

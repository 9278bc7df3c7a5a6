package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hivemind_worker_tasks_total",
		Help: "Tasks processed per worker by outcome.",
	}, []string{"worker", "outcome"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hivemind_worker_task_duration_seconds",
		Help:    "Task processing duration per worker.",
		Buckets: prometheus.DefBuckets,
	}, []string{"worker"})
)

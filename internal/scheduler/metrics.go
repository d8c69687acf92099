package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TasksEnqueued - попытки постановки задач по результату
var TasksEnqueued = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "connector",
		Subsystem: "queue",
		Name:      "tasks_enqueued_total",
		Help:      "Account task enqueue attempts",
	},
	[]string{"task", "result"}, // queued, duplicate, overflow, error
)

// TasksFailed - задачи, завершившиеся ошибкой
var TasksFailed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "connector",
		Subsystem: "queue",
		Name:      "tasks_failed_total",
		Help:      "Account tasks finished with an error",
	},
	[]string{"task"},
)

// QueueDepth - задачи, ожидающие воркера
var QueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "connector",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Tasks waiting for a worker",
	},
)

// InFlight - выполняемые задачи
var InFlight = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "connector",
		Subsystem: "queue",
		Name:      "in_flight",
		Help:      "Account tasks currently running",
	},
)

// ScanEnqueued - задачи, поставленные сканерами
var ScanEnqueued = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "connector",
		Subsystem: "scheduler",
		Name:      "scan_enqueued_total",
		Help:      "Tasks enqueued by reconciliation scans",
	},
	[]string{"scan"},
)

// ScanErrors - ошибки сканеров
var ScanErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "connector",
		Subsystem: "scheduler",
		Name:      "scan_errors_total",
		Help:      "Reconciliation scan failures",
	},
	[]string{"scan"},
)

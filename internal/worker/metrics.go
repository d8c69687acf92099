package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики обработки заданий
// ============================================================

// JobsProcessed - обработанные задания по типу и результату
var JobsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "connector",
		Subsystem: "worker",
		Name:      "jobs_processed_total",
		Help:      "Total number of processed connector jobs",
	},
	[]string{"type", "result"}, // result: ok, order_error, account_error, not_found
)

// JobsSuperseded - задания, отброшенные выбором последнего задания ордера
var JobsSuperseded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "connector",
		Subsystem: "worker",
		Name:      "jobs_superseded_total",
		Help:      "Jobs dropped in favor of a later job for the same order",
	},
	[]string{"type"},
)

// RunDuration - длительность запуска по аккаунту
var RunDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "connector",
		Subsystem: "worker",
		Name:      "run_duration_seconds",
		Help:      "Duration of account task runs",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	},
	[]string{"task"},
)

// DrainPasses - число проходов цикла выборки за запуск
var DrainPasses = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "connector",
		Subsystem: "worker",
		Name:      "drain_passes",
		Help:      "Number of due-job passes per orders run",
		Buckets:   []float64{1, 2, 3, 5, 10, 20},
	},
)

// AccountInvalidations - аккаунты, переведенные в invalid
var AccountInvalidations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "connector",
		Subsystem: "worker",
		Name:      "account_invalidations_total",
		Help:      "Accounts invalidated after account-level errors",
	},
	[]string{"kind"},
)

// UnknownOrdersFound - ордера на бирже, отсутствующие в журнале
var UnknownOrdersFound = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "connector",
		Subsystem: "worker",
		Name:      "unknown_orders_found_total",
		Help:      "Exchange orders not present in the order ledger",
	},
)

// ============ Хелперы ============

// RecordJob увеличивает счетчик обработанных заданий
func RecordJob(jobType, result string) {
	JobsProcessed.WithLabelValues(jobType, result).Inc()
}

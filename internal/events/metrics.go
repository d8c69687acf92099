package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished - опубликованные события по получателю, типу и результату
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connector",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published by sink, type and result",
		},
		[]string{"sink", "type", "result"},
	)

	PublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "connector",
			Subsystem: "events",
			Name:      "kafka_publish_seconds",
			Help:      "Kafka publish latency",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// CommandsConsumed - входящие команды по типу и результату
	CommandsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connector",
			Subsystem: "events",
			Name:      "commands_consumed_total",
			Help:      "Commands consumed from Kafka by type and result",
		},
		[]string{"type", "result"},
	)
)

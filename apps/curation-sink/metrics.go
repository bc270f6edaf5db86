package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	correctionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_corrections_total",
			Help: "Count of label corrections received by status",
		},
		[]string{"status"},
	)

	notifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_outbox_notify_total",
			Help: "Count of worker webhook notification attempts",
		},
		[]string{"status"},
	)

	recordsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sink_outbox_records_processed_total",
			Help: "Number of outbox records marked processed",
		},
	)

	recordsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sink_outbox_records_failed_total",
			Help: "Number of outbox records marked failed",
		},
	)
)

func initMetrics() {
	prometheus.MustRegister(correctionsTotal)
	prometheus.MustRegister(notifyTotal)
	prometheus.MustRegister(recordsProcessedTotal)
	prometheus.MustRegister(recordsFailedTotal)
}

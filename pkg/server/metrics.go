package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Self-instrumentation of the monitor itself, exposed on /metrics.
// These are about loadscope's own health, not about the monitored
// cluster; the cluster data lives in the aggregation engine.
var (
	samplesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loadscope",
		Name:      "samples_accepted_total",
		Help:      "Samples accepted by the aggregation engine.",
	})
	samplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loadscope",
		Name:      "samples_rejected_total",
		Help:      "Samples rejected, by reason.",
	}, []string{"reason"})
	aggregations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loadscope",
		Name:      "aggregations_total",
		Help:      "Aggregation queries served, by outcome.",
	}, []string{"outcome"})
	retainedWindows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "loadscope",
		Name:      "retained_windows",
		Help:      "Windows currently retained by the engine.",
	})
	engineGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "loadscope",
		Name:      "engine_generation",
		Help:      "Current mutation generation of the engine.",
	})
)

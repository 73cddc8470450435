package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Enabled = false

var (
	decisions        *prometheus.CounterVec
	processorLatency prometheus.Histogram
	droppedTasks     prometheus.Counter
)

// Init registers the gateway collectors on the default registry.
func Init(enabled bool) {
	Enabled = enabled
	if !Enabled || decisions != nil {
		return
	}

	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imagegateway",
		Subsystem: "requests",
		Name:      "decisions_total",
		Help:      "Optimize requests by outcome.",
	}, []string{"outcome"})
	processorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "imagegateway",
		Subsystem: "processor",
		Name:      "latency_seconds",
		Help:      "Latency of image processor calls.",
		Buckets:   prometheus.DefBuckets,
	})
	droppedTasks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "imagegateway",
		Subsystem: "tasks",
		Name:      "dropped_total",
		Help:      "Background tasks dropped because the pool was saturated.",
	})
}

// Decision counts one request outcome, e.g. "success" or "rate_limited".
func Decision(outcome string) {
	if Enabled {
		decisions.WithLabelValues(outcome).Inc()
	}
}

func ProcessorLatency(seconds float64) {
	if Enabled {
		processorLatency.Observe(seconds)
	}
}

func DroppedTask() {
	if Enabled {
		droppedTasks.Inc()
	}
}

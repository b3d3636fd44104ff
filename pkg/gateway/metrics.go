package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rtc_gateway"

var (
	roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "The number of open rooms.",
	})
	roomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rooms_created_total",
		Help:      "The number of created rooms.",
	})
	workersAlive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workers_alive",
		Help:      "The number of live media workers.",
	})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "queue_depth",
		Help:      "The number of waiting admission tasks.",
	})
	queueLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "task_seconds",
		Help:      "Admission task latency including the time in the queue.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Ingress requests by adapter and status code.",
	}, []string{"ingress", "code"})
)

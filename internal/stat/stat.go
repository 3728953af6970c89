// Package stat exposes agent counters to prometheus.
// Each Stat owns private registry, tests create as many as they like.
package stat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "powermeter"

type Stat struct {
	Registry *prometheus.Registry

	ReadingsEnqueued prometheus.Counter
	SensorErrors     *prometheus.CounterVec // sensor
	SensorsDead      prometheus.Gauge
	QueueDropped     prometheus.Counter
	QueueLength      prometheus.Gauge
	LockTimeouts     *prometheus.CounterVec // op
	Published        *prometheus.CounterVec // topic kind: power|log
	PublishErrors    prometheus.Counter
	Resolves         *prometheus.CounterVec // result: ok|error
	Restarts         *prometheus.CounterVec // reason
	LogErrors        prometheus.Counter
}

func New() *Stat {
	self := &Stat{
		ReadingsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_enqueued_total",
			Help:      "Valid readings handed to publisher.",
		}),
		SensorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_errors_total",
			Help:      "Polls with at least one invalid quantity.",
		}, []string{"sensor"}),
		SensorsDead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensors_dead",
			Help:      "Channels excluded from polling until restart.",
		}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Readings lost because sample queue stayed full.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Readings waiting for publisher.",
		}),
		LockTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_lock_timeouts_total",
			Help:      "Broker link operations skipped on lock wait timeout.",
		}, []string{"op"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Messages handed to broker client.",
		}, []string{"topic"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Publish tokens completed with error.",
		}),
		Resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_resolves_total",
			Help:      "Broker host name resolutions.",
		}, []string{"result"}),
		Restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Restart requests, at most one per run.",
		}, []string{"reason"}),
		LogErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_errors_total",
			Help:      "Lines logged at error level.",
		}),
	}
	self.Registry = prometheus.NewRegistry()
	self.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		self.ReadingsEnqueued,
		self.SensorErrors,
		self.SensorsDead,
		self.QueueDropped,
		self.QueueLength,
		self.LockTimeouts,
		self.Published,
		self.PublishErrors,
		self.Resolves,
		self.Restarts,
		self.LogErrors,
	)
	return self
}

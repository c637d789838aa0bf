// Package metrics exposes Prometheus collectors for the daemon.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "yanhekt"

// Collectors holds every metric the daemon records. It satisfies
// workflow.Observer so pools report task lifecycles directly.
type Collectors struct {
	registry *prometheus.Registry

	TasksStarted  *prometheus.CounterVec
	TasksFinished *prometheus.CounterVec
	TaskDuration  *prometheus.HistogramVec
	TasksInFlight *prometheus.GaugeVec

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	SegmentBytes prometheus.Counter
}

// New registers the collectors on a private registry along with the Go and
// process collectors.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collectors{
		registry: reg,
		TasksStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_started_total",
				Help:      "Worker pool tasks started",
			},
			[]string{"pool", "kind"},
		),
		TasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finished_total",
				Help:      "Worker pool tasks finished, by result",
			},
			[]string{"pool", "kind", "result"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Worker pool task run time",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~2h
			},
			[]string{"pool", "kind"},
		),
		TasksInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_in_flight",
				Help:      "Worker pool tasks currently running",
			},
			[]string{"pool"},
		),
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "API requests served",
			},
			[]string{"route", "code"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "API request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		SegmentBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segment_bytes_total",
				Help:      "Bytes of upload segments accepted",
			},
		),
	}
}

// Registry returns the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// TaskStarted implements workflow.Observer.
func (c *Collectors) TaskStarted(pool, kind string) {
	c.TasksStarted.WithLabelValues(pool, kind).Inc()
	c.TasksInFlight.WithLabelValues(pool).Inc()
}

// TaskFinished implements workflow.Observer.
func (c *Collectors) TaskFinished(pool, kind string, err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.TasksFinished.WithLabelValues(pool, kind, result).Inc()
	c.TaskDuration.WithLabelValues(pool, kind).Observe(elapsed.Seconds())
	c.TasksInFlight.WithLabelValues(pool).Dec()
}

// ObserveRequest records one served API request.
func (c *Collectors) ObserveRequest(route string, code int, elapsed time.Duration) {
	c.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	c.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// AddSegmentBytes counts accepted upload bytes.
func (c *Collectors) AddSegmentBytes(n int64) {
	if n > 0 {
		c.SegmentBytes.Add(float64(n))
	}
}

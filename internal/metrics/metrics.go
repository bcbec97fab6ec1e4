// Package metrics exposes Prometheus metrics for the valve and the board.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/droplet/internal/solenoid"
)

const namespace = "droplet"

// Metrics holds the collectors, registered on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	writes      *prometheus.CounterVec
	writeErrors prometheus.Counter
	pulses      prometheus.Counter
	pulseSecs   prometheus.Histogram
	valveOpen   prometheus.Gauge
}

// New creates the metrics and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		writes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pin",
			Name:      "writes_total",
			Help:      "Successful pin writes by level",
		}, []string{"level"}),
		writeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pin",
			Name:      "write_errors_total",
			Help:      "Failed pin writes",
		}),
		pulses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "valve",
			Name:      "pulses_total",
			Help:      "Completed droplets",
		}),
		pulseSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "valve",
			Name:      "pulse_duration_seconds",
			Help:      "How long each droplet held the valve open",
			Buckets:   []float64{0.05, 0.1, 0.125, 0.25, 0.5, 0.75, 1, 2, 5},
		}),
		valveOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "valve",
			Name:      "open",
			Help:      "1 when the last write opened the valve",
		}),
	}
}

// Observe records a controller event. It is a solenoid.Observer.
func (m *Metrics) Observe(e solenoid.Event) {
	if e.State == solenoid.StateOpen {
		m.valveOpen.Set(1)
	} else {
		m.valveOpen.Set(0)
	}

	switch e.Op {
	case solenoid.OpOpen, solenoid.OpClose:
		if e.Err != nil {
			m.writeErrors.Inc()
			return
		}
		level := "low"
		if e.Op == solenoid.OpOpen {
			level = "high"
		}
		m.writes.WithLabelValues(level).Inc()
	case solenoid.OpPulse:
		if e.Err == nil {
			m.pulses.Inc()
			m.pulseSecs.Observe(e.Duration.Seconds())
		}
	}
}

// RegisterDrain exposes the bytes read from the board. fn must be safe for
// concurrent use.
func (m *Metrics) RegisterDrain(fn func() uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "board",
		Name:      "bytes_drained_total",
		Help:      "Bytes read and discarded from the board connection",
	}, func() float64 { return float64(fn()) }))
}

// Registry returns the registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

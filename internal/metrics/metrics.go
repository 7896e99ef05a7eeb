// Package metrics exports remote call and simulator process counters.
//
// All methods are safe on a nil *Metrics so callers can leave metrics off.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/vrepper/internal/remoteapi"
)

// Metrics holds the collectors of one session, on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	calls           *prometheus.CounterVec
	callLatency     *prometheus.HistogramVec
	connectAttempts prometheus.Counter
	steps           prometheus.Counter
	simCPU          prometheus.Gauge
	simRSS          prometheus.Gauge
	simExitCode     prometheus.Gauge
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vrepper_remote_calls_total",
				Help: "Remote API calls by function and return status",
			},
			[]string{"func", "status"},
		),
		callLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vrepper_remote_call_duration_seconds",
				Help:    "Remote API call latency",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"func"},
		),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vrepper_connect_attempts_total",
			Help: "Connection handshakes attempted",
		}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vrepper_simulation_steps_total",
			Help: "Synchronous simulation steps triggered",
		}),
		simCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vrepper_simulator_cpu_percent",
			Help: "CPU usage of the simulator process",
		}),
		simRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vrepper_simulator_rss_bytes",
			Help: "Resident memory of the simulator process",
		}),
		simExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vrepper_simulator_exit_code",
			Help: "Exit code of the last simulator process",
		}),
	}

	m.registry.MustRegister(
		m.calls,
		m.callLatency,
		m.connectAttempts,
		m.steps,
		m.simCPU,
		m.simRSS,
		m.simExitCode,
	)
	return m
}

// ObserveCall has the remoteapi.CallObserver signature.
func (m *Metrics) ObserveCall(fn string, code remoteapi.ReturnCode, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(fn, code.String()).Inc()
	m.callLatency.WithLabelValues(fn).Observe(elapsed.Seconds())
}

// ConnectAttempt counts one handshake.
func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

// Step counts one synchronous trigger.
func (m *Metrics) Step() {
	if m == nil {
		return
	}
	m.steps.Inc()
}

// SetProcessStats records a resource sample of the simulator.
func (m *Metrics) SetProcessStats(cpuPercent float64, rssBytes uint64) {
	if m == nil {
		return
	}
	m.simCPU.Set(cpuPercent)
	m.simRSS.Set(float64(rssBytes))
}

// SetExitCode records the simulator's exit code.
func (m *Metrics) SetExitCode(code int) {
	if m == nil {
		return
	}
	m.simExitCode.Set(float64(code))
}

// Registry exposes the registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteText dumps every metric family in text format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	encoder := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

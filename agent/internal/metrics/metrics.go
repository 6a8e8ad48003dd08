package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "btscan"

// Metrics holds every collector the agent updates.
type Metrics struct {
	reg *prometheus.Registry

	Lines           prometheus.Counter
	ParseErrors     *prometheus.CounterVec // by kind
	Dropped         *prometheus.CounterVec // by reason
	Sweeps          prometheus.Counter
	StationsRemoved prometheus.Counter
	FlushFailures   prometheus.Counter
	Stations        prometheus.Gauge
	SweepDuration   prometheus.Histogram
	ScanFailures    prometheus.Counter
	CertDaysLeft    *prometheus.GaugeVec // by source
}

// New creates the collectors and registers them, together with the Go and
// process collectors, in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Scan notification lines read from the radio.",
		}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Lines that failed to parse, by error kind.",
		}, []string{"kind"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sightings_dropped_total",
			Help:      "Parsed sightings not cached, by reason.",
		}, []string{"reason"}),
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Station cache sweeps run.",
		}),
		StationsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stations_removed_total",
			Help:      "Stations aged out of the cache.",
		}),
		FlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Sweeps whose sink flush failed.",
		}),
		Stations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stations",
			Help:      "Stations in the cache after the last sweep.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a sweep including the sink flush.",
			Buckets:   prometheus.DefBuckets,
		}),
		ScanFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_failures_total",
			Help:      "Scan commands that failed or timed out.",
		}),
		CertDaysLeft: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cert_days_left",
			Help:      "Days until an mTLS sink certificate expires, by file or endpoint.",
		}, []string{"source"}),
	}
	m.reg.MustRegister(
		m.Lines, m.ParseErrors, m.Dropped, m.Sweeps, m.StationsRemoved,
		m.FlushFailures, m.Stations, m.SweepDuration, m.ScanFailures, m.CertDaysLeft,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered in.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

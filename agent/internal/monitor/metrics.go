package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	registry *prometheus.Registry
	cycles   *prometheus.CounterVec
	duration prometheus.Histogram
	samples  prometheus.Counter
	attempts prometheus.Counter
	failing  prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nginx_azmon_agent_cycles_total",
			Help: "Collection cycles by result and failing stage",
		}, []string{"result", "stage"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nginx_azmon_agent_cycle_duration_seconds",
			Help:    "Duration of collection cycles",
			Buckets: prometheus.DefBuckets,
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nginx_azmon_agent_samples_sent_total",
			Help: "Samples accepted by the ingestion API",
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nginx_azmon_agent_delivery_attempts_total",
			Help: "HTTP delivery attempts, retries included",
		}),
		failing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nginx_azmon_agent_consecutive_failures",
			Help: "Consecutive failed cycles",
		}),
	}
	m.registry.MustRegister(m.cycles, m.duration, m.samples, m.attempts, m.failing)
	return m
}

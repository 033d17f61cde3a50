package route

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors of the route builder. A nil *Metrics records nothing.
type Metrics struct {
	samples       *prometheus.CounterVec
	commits       prometheus.Counter
	vetoes        prometheus.Counter
	anomalies     prometheus.Counter
	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railroute",
			Name:      "terrain_samples_total",
			Help:      "The total number of terrain samples",
		}, []string{"result"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "railroute",
			Name:      "batch_commits_total",
			Help:      "The total number of committed batches",
		}),
		vetoes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "railroute",
			Name:      "batch_vetoes_total",
			Help:      "The total number of batches vetoed for their grade",
		}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "railroute",
			Name:      "anomalous_segments_total",
			Help:      "The total number of recorded anomalous segments",
		}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railroute",
			Name:      "builds_total",
			Help:      "The total number of route builds",
		}, []string{"outcome"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "railroute",
			Name:      "build_duration_seconds",
			Help:      "The duration of route builds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),
	}
	reg.MustRegister(m.samples, m.commits, m.vetoes, m.anomalies, m.builds, m.buildDuration)
	return m
}

func (m *Metrics) sample(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.samples.WithLabelValues(result).Inc()
}

func (m *Metrics) commit() {
	if m != nil {
		m.commits.Inc()
	}
}

func (m *Metrics) veto() {
	if m != nil {
		m.vetoes.Inc()
	}
}

func (m *Metrics) anomaly() {
	if m != nil {
		m.anomalies.Inc()
	}
}

func (m *Metrics) build(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(outcome).Inc()
	m.buildDuration.Observe(time.Since(started).Seconds())
}

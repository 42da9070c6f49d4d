package resolution

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 解析相關指標，nil 時不記錄
type Metrics struct {
	resolutions *prometheus.CounterVec
	probes      *prometheus.CounterVec
	duration    prometheus.Histogram
	usageErrors prometheus.Counter
}

// NewMetrics 建立並註冊指標
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "woolies",
			Subsystem: "resolution",
			Name:      "results_total",
			Help:      "Resolutions by outcome (hit or deferral reason).",
		}, []string{"outcome"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "woolies",
			Subsystem: "resolution",
			Name:      "candidate_probes_total",
			Help:      "Catalog probes of preferred candidates by tier and result.",
		}, []string{"tier", "result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "woolies",
			Subsystem: "resolution",
			Name:      "duration_seconds",
			Help:      "Time spent resolving one ingredient.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		usageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "woolies",
			Subsystem: "resolution",
			Name:      "usage_record_errors_total",
			Help:      "Hits whose usage could not be recorded.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.resolutions, m.probes, m.duration, m.usageErrors)
	}
	return m
}

func (m *Metrics) observeResult(r Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "hit"
	if !r.IsHit() {
		outcome = string(r.Deferred)
	}
	m.resolutions.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeProbe(tier, result string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) observeUsageError() {
	if m == nil {
		return
	}
	m.usageErrors.Inc()
}

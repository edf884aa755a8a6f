package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the engine's prometheus instruments. Verdict counters and
// latency observations are emitted fire-and-forget from the feature guard.
type Metrics struct {
	Registry *prometheus.Registry

	VerdictTotal    *prometheus.CounterVec
	DecisionSeconds *prometheus.HistogramVec
	UsageReports    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		VerdictTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meterwise",
			Name:      "entitlement_verdicts_total",
			Help:      "Feature guard verdicts by feature, verdict and reason.",
		}, []string{"feature", "verdict", "reason"}),
		DecisionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meterwise",
			Name:      "entitlement_decision_seconds",
			Help:      "Feature guard decision latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"feature"}),
		UsageReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meterwise",
			Name:      "usage_reports_total",
			Help:      "Usage reports by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.VerdictTotal, m.DecisionSeconds, m.UsageReports)
	return m
}

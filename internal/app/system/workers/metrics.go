// internal/app/system/workers/metrics.go
package workers

import (
	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sweep outcomes recorded in metrics and Status.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics holds the scheduler's Prometheus collectors.
type Metrics struct {
	sweeps          *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	warned          prometheus.Counter
	retired         prometheus.Counter
	itemErrors      prometheus.Counter
	notifyFailures  *prometheus.CounterVec
	running         *prometheus.GaugeVec
	lastSuccessTime *prometheus.GaugeVec
}

// NewMetrics registers the scheduler collectors with reg. A nil reg yields
// unregistered collectors, which is what most tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stratacohort_sweeps_total",
			Help: "number of sweep runs by kind and outcome",
		}, []string{"kind", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stratacohort_sweep_duration_seconds",
			Help:    "sweep run duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stratacohort_cohort_transitions_total",
			Help: "cohort status transitions applied by the status sweep",
		}, []string{"from", "to"}),
		warned: f.NewCounter(prometheus.CounterOpts{
			Name: "stratacohort_cohorts_warned_total",
			Help: "cohorts whose members were warned of upcoming removal",
		}),
		retired: f.NewCounter(prometheus.CounterOpts{
			Name: "stratacohort_cohorts_retired_total",
			Help: "cohorts permanently removed by the retirement sweep",
		}),
		itemErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "stratacohort_sweep_item_errors_total",
			Help: "per-cohort errors collected during sweeps",
		}),
		notifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stratacohort_notification_failures_total",
			Help: "notifications that could not be delivered",
		}, []string{"kind"}),
		running: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stratacohort_sweep_running",
			Help: "1 while a sweep of the kind is in progress",
		}, []string{"kind"}),
		lastSuccessTime: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stratacohort_sweep_last_success_timestamp_seconds",
			Help: "unix time of the last sweep that finished without a repository error",
		}, []string{"kind"}),
	}
}

func (m *Metrics) started(kind lifecycle.SweepKind) {
	m.running.WithLabelValues(string(kind)).Set(1)
}

func (m *Metrics) skipped(kind lifecycle.SweepKind) {
	m.sweeps.WithLabelValues(string(kind), OutcomeSkipped).Inc()
}

func (m *Metrics) finished(kind lifecycle.SweepKind, res lifecycle.SweepResult, outcome string, seconds float64) {
	k := string(kind)
	m.running.WithLabelValues(k).Set(0)
	m.sweeps.WithLabelValues(k, outcome).Inc()
	m.duration.WithLabelValues(k).Observe(seconds)
	if outcome == OutcomeFailed {
		return
	}
	m.lastSuccessTime.WithLabelValues(k).Set(float64(res.FinishedAt.Unix()))
	for _, t := range res.Transitions {
		m.transitions.WithLabelValues(string(t.From), string(t.To)).Inc()
	}
	switch kind {
	case lifecycle.SweepWarning:
		m.warned.Add(float64(len(res.Candidates)))
	case lifecycle.SweepRetirement:
		m.retired.Add(float64(len(res.Purged)))
	}
	m.itemErrors.Add(float64(len(res.Errors)))
	m.notifyFailures.WithLabelValues(k).Add(float64(res.NotifyFailures))
}

// OutcomeOf classifies a finished run as success, partial or failed.
func OutcomeOf(res lifecycle.SweepResult, err error) string {
	switch {
	case err != nil || res.Failed():
		return OutcomeFailed
	case len(res.Errors) > 0:
		return OutcomePartial
	default:
		return OutcomeSuccess
	}
}

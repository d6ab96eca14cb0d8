// Package metrics exposes Prometheus counters for submissions and derived tasks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "plantline"

// Result labels for SubmissionsTotal.
const (
	ResultCommitted = "committed"
	ResultInvalid   = "invalid"
	ResultFailed    = "failed"
)

type Metrics struct {
	TasksDerived     *prometheus.CounterVec
	SubmissionsTotal *prometheus.CounterVec
	TasksByStatus    *prometheus.GaugeVec
}

// New registers the collectors on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksDerived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_derived_total",
			Help:      "Tasks persisted from production and PDI submissions.",
		}, []string{"task_type", "priority"}),
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Production and PDI submissions by outcome.",
		}, []string{"source", "result"}),
		TasksByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Stored tasks by status, refreshed on scrape.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.TasksDerived, m.SubmissionsTotal, m.TasksByStatus)
	}
	return m
}

func (m *Metrics) ObserveSubmission(source, result string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(source, result).Inc()
}

func (m *Metrics) ObserveTask(taskType, priority string) {
	if m == nil {
		return
	}
	m.TasksDerived.WithLabelValues(taskType, priority).Inc()
}

// SetTaskCounts replaces the status gauge values.
func (m *Metrics) SetTaskCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.TasksByStatus.Reset()
	for status, n := range counts {
		m.TasksByStatus.WithLabelValues(status).Set(float64(n))
	}
}

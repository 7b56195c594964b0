package objectbase

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "objectgraph"

// Metrics are the prometheus collectors of an object base.
type Metrics struct {
	Commits        *prometheus.CounterVec
	CommitDuration prometheus.Histogram
	Statements     *prometheus.CounterVec
	Executions     prometheus.Counter
	LockFailures   prometheus.Counter
	Queries        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them, if a
// registerer is given.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Number of commits by result.",
		}, []string{"result"}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Duration of commits.",
			Buckets:   prometheus.DefBuckets,
		}),
		Statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statements_total",
			Help:      "Number of executed row operations by kind.",
		}, []string{"kind"}),
		Executions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_executions_total",
			Help:      "Number of store calls used to execute row operations.",
		}),
		LockFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_lock_failures_total",
			Help:      "Number of commits failed because of optimistic lock conflicts.",
		}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Number of queries by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.Commits, m.CommitDuration, m.Statements, m.Executions, m.LockFailures, m.Queries)
	}
	return m
}

package processor

import (
	"github.com/prometheus/client_golang/prometheus"

	"stashd/internal/store"
)

// Metrics counts pass outcomes for the status endpoint. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	passes    *prometheus.CounterVec
	jobs      *prometheus.CounterVec
	accounts  *prometheus.CounterVec
	pruned    prometheus.Counter
	pruneErrs prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stashd",
			Name:      "passes_total",
			Help:      "Processing passes by result.",
		}, []string{"result"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stashd",
			Name:      "jobs_finished_total",
			Help:      "Jobs moved to the completed collection, by final status.",
		}, []string{"status"}),
		accounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stashd",
			Name:      "accounts_processed_total",
			Help:      "Per-account operations, by outcome.",
		}, []string{"outcome"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stashd",
			Name:      "artifacts_pruned_total",
			Help:      "Artifacts deleted by retention pruning.",
		}),
		pruneErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stashd",
			Name:      "prune_failures_total",
			Help:      "Artifact deletions that failed and were kept for retry.",
		}),
	}
	reg.MustRegister(m.passes, m.jobs, m.accounts, m.pruned, m.pruneErrs)
	return m
}

func (m *Metrics) passFinished(result string) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(result).Inc()
}

func (m *Metrics) jobFinished(status store.Status) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) accountProcessed(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.accounts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) artifactPruned() {
	if m == nil {
		return
	}
	m.pruned.Inc()
}

func (m *Metrics) pruneFailed() {
	if m == nil {
		return
	}
	m.pruneErrs.Inc()
}

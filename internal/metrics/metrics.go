// Package metrics collects the engine's Prometheus metrics in one registry.
// All record helpers are nil-safe so components can run without metrics in
// tests and one-shot CLI invocations.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all yieldrun metrics.
type Registry struct {
	registry *prometheus.Registry

	ScanCycles   *prometheus.CounterVec
	ScanDuration prometheus.Histogram

	CandidatesEvaluated prometheus.Counter
	CandidatesRejected  *prometheus.CounterVec
	OpportunitiesFound  prometheus.Counter

	SagaOutcomes *prometheus.CounterVec

	FetchFailures *prometheus.CounterVec
	SnapshotAge   *prometheus.GaugeVec
}

// NewRegistry creates and registers all metrics on a private registry.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		ScanCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldrun_scan_cycles_total",
				Help: "Scan cycles by result",
			},
			[]string{"result"},
		),
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "yieldrun_scan_duration_seconds",
				Help:    "Duration of one user scan cycle in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),
		CandidatesEvaluated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "yieldrun_candidates_evaluated_total",
				Help: "Candidate markets evaluated across all scans",
			},
		),
		CandidatesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldrun_candidates_rejected_total",
				Help: "Candidates dropped by each gate",
			},
			[]string{"gate"},
		),
		OpportunitiesFound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "yieldrun_opportunities_found_total",
				Help: "Opportunities surviving every gate",
			},
		),
		SagaOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldrun_saga_outcomes_total",
				Help: "Rebalance saga terminal states",
			},
			[]string{"state"},
		),
		FetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldrun_fetch_failures_total",
				Help: "Per-chain market fetch failures",
			},
			[]string{"chain"},
		),
		SnapshotAge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "yieldrun_snapshot_age_seconds",
				Help: "Age of the last successful snapshot per chain",
			},
			[]string{"chain"},
		),
	}

	r.registry.MustRegister(
		r.ScanCycles,
		r.ScanDuration,
		r.CandidatesEvaluated,
		r.CandidatesRejected,
		r.OpportunitiesFound,
		r.SagaOutcomes,
		r.FetchFailures,
		r.SnapshotAge,
	)
	return r
}

// Handler serves the registry over HTTP.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordScan records one completed scan cycle.
func (r *Registry) RecordScan(result string, dur time.Duration) {
	if r == nil {
		return
	}
	r.ScanCycles.WithLabelValues(result).Inc()
	r.ScanDuration.Observe(dur.Seconds())
}

// RecordComparison records one comparison's gate accounting.
func (r *Registry) RecordComparison(candidates, survivors int, rejectionsByGate map[string]int) {
	if r == nil {
		return
	}
	r.CandidatesEvaluated.Add(float64(candidates))
	r.OpportunitiesFound.Add(float64(survivors))
	for gate, n := range rejectionsByGate {
		r.CandidatesRejected.WithLabelValues(gate).Add(float64(n))
	}
}

// RecordSaga records a saga terminal state.
func (r *Registry) RecordSaga(state string) {
	if r == nil {
		return
	}
	r.SagaOutcomes.WithLabelValues(state).Inc()
}

// RecordFetchFailure counts one failed market fetch for a chain.
func (r *Registry) RecordFetchFailure(chainID int64) {
	if r == nil {
		return
	}
	r.FetchFailures.WithLabelValues(strconv.FormatInt(chainID, 10)).Inc()
}

// SetSnapshotAge records how old a chain's last successful fetch is.
func (r *Registry) SetSnapshotAge(chainID int64, age time.Duration) {
	if r == nil {
		return
	}
	r.SnapshotAge.WithLabelValues(strconv.FormatInt(chainID, 10)).Set(age.Seconds())
}

// Package metrics owns the relayer's Prometheus registry. Its methods match
// the hook signatures of the ledger client, the entity cache and the vote
// authorizer so they can be plugged in directly.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ufedojoa/townsquare/pkg/apperr"
)

const namespace = "townsquare"

type Metrics struct {
	registry *prometheus.Registry

	ledgerCalls   *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	voteOutcomes  *prometheus.CounterVec
	voteLatency   prometheus.Histogram
	invalidations *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
}

func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ledgerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "call_duration_seconds",
			Help:      "Ledger RPC latency by contract method and result code.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"method", "code"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Entity cache lookups by kind and result.",
		}, []string{"kind", "result"}),
		voteOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vote",
			Name:      "requests_total",
			Help:      "Vote requests by final outcome.",
		}, []string{"outcome"}),
		voteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vote",
			Name:      "request_duration_seconds",
			Help:      "End-to-end vote authorization latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache invalidations by kind and source.",
		}, []string{"kind", "source"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "refreshes_total",
			Help:      "Scheduled proposal refreshes by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ledgerCalls, m.cacheLookups, m.voteOutcomes, m.voteLatency, m.invalidations, m.refreshes,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry is exposed for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveLedgerCall matches ledger.Opts.Observer.
func (m *Metrics) ObserveLedgerCall(method string, took time.Duration, err error) {
	code := "OK"
	if err != nil {
		code = string(apperr.CodeOf(err))
	}
	m.ledgerCalls.WithLabelValues(method, code).Observe(took.Seconds())
}

// Hit and Miss implement cache.Recorder.
func (m *Metrics) Hit(kind string)  { m.cacheLookups.WithLabelValues(kind, "hit").Inc() }
func (m *Metrics) Miss(kind string) { m.cacheLookups.WithLabelValues(kind, "miss").Inc() }

// ObserveVote matches vote.Opts.Observe.
func (m *Metrics) ObserveVote(outcome string, took time.Duration) {
	m.voteOutcomes.WithLabelValues(outcome).Inc()
	m.voteLatency.Observe(took.Seconds())
}

func (m *Metrics) Invalidated(kind, source string) {
	m.invalidations.WithLabelValues(kind, source).Inc()
}

func (m *Metrics) Refreshed(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

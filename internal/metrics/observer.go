// Package metrics records federated call metrics with Prometheus.
package metrics

import (
	"cohortq/internal/federation"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Observer is a federation.Observer that records call and per-repository metrics.
type Observer struct {
	callsTotal        *prometheus.CounterVec
	callDuration      *prometheus.HistogramVec
	coverage          *prometheus.GaugeVec
	repositoryResults *prometheus.CounterVec
	repositoryLatency *prometheus.HistogramVec

	mu      sync.Mutex
	started map[string]time.Time
	now     func() time.Time
	logger  *zap.Logger
}

// NewObserver registers the federation metrics with reg under namespace.
func NewObserver(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	return &Observer{
		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "federated_calls_total",
				Help:      "Federated calls by operation and final state or failure kind.",
			},
			[]string{"operation", "outcome"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "federated_call_duration_seconds",
				Help:      "Wall time of a federated call.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "strategy"},
		),
		coverage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "federated_call_coverage_ratio",
				Help:      "Share of the cohort that answered the last call of an operation.",
			},
			[]string{"operation"},
		),
		repositoryResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_responses_total",
				Help:      "Per-repository results: answered or the failure kind.",
			},
			[]string{"repository", "result"},
		),
		repositoryLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "repository_latency_seconds",
				Help:      "Time from dispatch to response for one repository.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"repository"},
		),
		started: make(map[string]time.Time),
		now:     time.Now,
		logger:  logger.With(zap.String("component", "metrics")),
	}
}

func (o *Observer) CallStarted(info federation.CallInfo) {
	o.mu.Lock()
	o.started[info.CallID] = o.now()
	o.mu.Unlock()
}

func (o *Observer) RepositoryAnswered(_ federation.CallInfo, src federation.Source, elapsed time.Duration) {
	id := repositoryLabel(src)
	o.repositoryResults.WithLabelValues(id, "answered").Inc()
	o.repositoryLatency.WithLabelValues(id).Observe(elapsed.Seconds())
}

func (o *Observer) RepositoryFailed(_ federation.CallInfo, src federation.Source, err error, elapsed time.Duration) {
	id := repositoryLabel(src)
	o.repositoryResults.WithLabelValues(id, federation.KindOf(err).String()).Inc()
	o.repositoryLatency.WithLabelValues(id).Observe(elapsed.Seconds())
}

func (o *Observer) CallFinished(info federation.CallInfo, out *federation.Outcome, err error) {
	o.mu.Lock()
	start, ok := o.started[info.CallID]
	delete(o.started, info.CallID)
	o.mu.Unlock()

	if ok {
		o.callDuration.WithLabelValues(info.Operation, info.Strategy).Observe(o.now().Sub(start).Seconds())
	} else {
		o.logger.Debug("call finished without a start", zap.String("call_id", info.CallID))
	}

	if err != nil {
		o.callsTotal.WithLabelValues(info.Operation, federation.KindOf(err).String()).Inc()
		o.coverage.WithLabelValues(info.Operation).Set(0)
		return
	}
	o.callsTotal.WithLabelValues(info.Operation, out.State.String()).Inc()
	if out.Handles > 0 {
		o.coverage.WithLabelValues(info.Operation).Set(float64(out.Answered()) / float64(out.Handles))
	}
}

// Unidentified repositories share one label so cardinality stays bounded.
func repositoryLabel(src federation.Source) string {
	if src.RepositoryID == "" {
		return "unidentified"
	}
	return string(src.RepositoryID)
}

// WriteTextfile writes every metric gathered by g to path in the text
// exposition format, for collection by a node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

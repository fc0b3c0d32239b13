package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector exposes election activity as Prometheus metrics. A nil
// registry yields working but unregistered collectors.
type MetricsCollector struct {
	registrations       *prometheus.CounterVec
	votesCast           prometheus.Counter
	votesRejected       *prometheus.CounterVec
	resets              prometheus.Counter
	persistenceFailures *prometheus.CounterVec
	ballots             prometheus.Gauge
	operationDuration   *prometheus.HistogramVec
}

func NewMetricsCollector(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	return &MetricsCollector{
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotbox_registrations_total",
			Help: "Total number of successful registrations by kind",
		}, []string{"kind"}),
		votesCast: factory.NewCounter(prometheus.CounterOpts{
			Name: "ballotbox_votes_cast_total",
			Help: "Total number of votes recorded in the ledger",
		}),
		votesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotbox_votes_rejected_total",
			Help: "Total number of rejected vote attempts by reason",
		}, []string{"reason"}),
		resets: factory.NewCounter(prometheus.CounterOpts{
			Name: "ballotbox_election_resets_total",
			Help: "Total number of election resets",
		}),
		persistenceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotbox_persistence_failures_total",
			Help: "Total number of failed document writes by operation",
		}, []string{"op"}),
		ballots: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ballotbox_ballots",
			Help: "Number of vote records currently in the ledger",
		}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ballotbox_operation_duration_seconds",
			Help:    "Duration of registry and ledger operations",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
	}
}

func (mc *MetricsCollector) RecordRegistration(kind string) {
	mc.registrations.WithLabelValues(kind).Inc()
}

func (mc *MetricsCollector) RecordVote(ballots int) {
	mc.votesCast.Inc()
	mc.ballots.Set(float64(ballots))
}

func (mc *MetricsCollector) RecordRejection(reason string) {
	mc.votesRejected.WithLabelValues(reason).Inc()
}

func (mc *MetricsCollector) RecordReset() {
	mc.resets.Inc()
	mc.ballots.Set(0)
}

func (mc *MetricsCollector) RecordPersistenceFailure(op string) {
	mc.persistenceFailures.WithLabelValues(op).Inc()
}

func (mc *MetricsCollector) SetBallots(n int) {
	mc.ballots.Set(float64(n))
}

// ObserveDuration records time elapsed since start; use with defer.
func (mc *MetricsCollector) ObserveDuration(op string, start time.Time) {
	mc.operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

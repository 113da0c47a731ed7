package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal tracks submitted operations by kind
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gqlmux_operations_total",
			Help: "Total number of GraphQL operations submitted",
		},
		[]string{"kind"},
	)

	// BatchesTotal tracks physical batch calls by outcome
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gqlmux_batches_total",
			Help: "Total number of batch flushes",
		},
		[]string{"outcome"},
	)

	// BatchSize tracks how full flushed batch windows were
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gqlmux_batch_size",
			Help:    "Number of operations per flushed batch",
			Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
		},
	)

	// FallbacksTotal tracks individual re-dispatches after a batch failure
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gqlmux_batch_fallbacks_total",
			Help: "Total operations re-dispatched individually after a batch failure",
		},
		[]string{"reason"},
	)

	// RetriesTotal tracks retry attempts after retryable faults
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gqlmux_retries_total",
			Help: "Total retry attempts",
		},
	)

	// TransportErrorsTotal tracks transport failures by error kind
	TransportErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gqlmux_transport_errors_total",
			Help: "Total transport failures",
		},
		[]string{"kind"},
	)

	// TransportLatency tracks successful dispatch latency
	TransportLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gqlmux_transport_latency_seconds",
			Help:    "HTTP dispatch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AuthInvalidationsTotal tracks credential removals after auth faults
	AuthInvalidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gqlmux_auth_invalidations_total",
			Help: "Total credential invalidations triggered by auth faults",
		},
	)

	// BatchInterval reports the current adaptive flush interval
	BatchInterval = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gqlmux_batch_interval_seconds",
			Help: "Current adaptive batch flush interval",
		},
	)
)

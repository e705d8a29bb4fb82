package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for document operations. It satisfies
// engine.MetricsRecorder. A disabled Metrics accepts every call and records
// nothing.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	documentBytes     *prometheus.HistogramVec

	// Staging metrics
	cleanupFailures *prometheus.CounterVec

	// Engine metrics
	engineInits        *prometheus.CounterVec
	engineInitDuration prometheus.Histogram

	// Batch metrics
	batches    *prometheus.CounterVec
	batchItems *prometheus.CounterVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of document operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of document operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		documentBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "document_bytes",
				Help:      "Size of documents passed to and produced by the engine",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			},
			[]string{"operation", "direction"},
		),

		cleanupFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_failures_total",
				Help:      "Total number of staged files that could not be removed",
			},
			[]string{"operation"},
		),

		engineInits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_init_total",
				Help:      "Total number of engine initialization attempts",
			},
			[]string{"result"},
		),
		engineInitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_init_duration_seconds",
				Help:      "Duration of engine initialization in seconds",
				Buckets:   buckets,
			},
		),

		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of batches processed",
			},
			[]string{"operation"},
		),
		batchItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_items_total",
				Help:      "Total number of batch items by result",
			},
			[]string{"operation", "result"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations by severity",
			},
			[]string{"policy", "severity"},
		),
	}

	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.documentBytes,
		m.cleanupFailures,
		m.engineInits,
		m.engineInitDuration,
		m.batches,
		m.batchItems,
		m.policyViolations,
	)

	return m, nil
}

// RecordOperation records a finished operation. outcome is "success" or a
// failure kind.
func (m *Metrics) RecordOperation(operation, outcome string, duration time.Duration, inputBytes, outputBytes int) {
	if m.operations == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.documentBytes.WithLabelValues(operation, "in").Observe(float64(inputBytes))
	if outputBytes > 0 {
		m.documentBytes.WithLabelValues(operation, "out").Observe(float64(outputBytes))
	}
}

// RecordCleanupFailure counts a staged file that could not be removed.
func (m *Metrics) RecordCleanupFailure(operation string) {
	if m.cleanupFailures == nil {
		return
	}
	m.cleanupFailures.WithLabelValues(operation).Inc()
}

// RecordEngineInit records an engine initialization attempt.
func (m *Metrics) RecordEngineInit(success bool, duration time.Duration) {
	if m.engineInits == nil {
		return
	}
	m.engineInits.WithLabelValues(strconv.FormatBool(success)).Inc()
	m.engineInitDuration.Observe(duration.Seconds())
}

// RecordBatch records a finished batch.
func (m *Metrics) RecordBatch(operation string, succeeded, failed int) {
	if m.batches == nil {
		return
	}
	m.batches.WithLabelValues(operation).Inc()
	m.batchItems.WithLabelValues(operation, "succeeded").Add(float64(succeeded))
	m.batchItems.WithLabelValues(operation, "failed").Add(float64(failed))
}

// RecordPolicyViolation counts a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Registry returns the underlying registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics on the configured address in the
// background. It returns the server so callers can shut it down, or nil when
// there is nothing to serve.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) *http.Server {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	return server
}

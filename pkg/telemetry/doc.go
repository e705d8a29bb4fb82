// Package telemetry provides observability for docstage: structured logging
// (zerolog), tracing (OpenTelemetry), metrics (Prometheus) and events.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.StartMetricsServer() // no-op without metrics.listen_address
//
// Library packages take a zerolog.Logger; pass tel.Logger.Zerolog() and let
// each component derive its own "component" field.
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("cli").
//	    WithJobID(jobID).
//	    WithOperation("decrypt")
//	logger.Info("Starting")
//
// Passwords are never passed to the logger.
//
// # Tracing
//
// NewTracer installs its provider globally, so the runner's spans
// ("operation.execute", "batch.execute") are exported through whichever
// exporter is configured: "stdout" (stderr, pretty printed), "otlp" (gRPC) or
// "none".
//
// # Metrics
//
// Metrics satisfies engine.MetricsRecorder:
//
//	docstage_operations_total{operation,outcome}
//	docstage_operation_duration_seconds{operation}
//	docstage_document_bytes{operation,direction}
//	docstage_cleanup_failures_total{operation}
//	docstage_engine_init_total{result}
//	docstage_engine_init_duration_seconds
//	docstage_batches_total{operation}
//	docstage_batch_items_total{operation,result}
//	docstage_policy_violations_total{policy,severity}
//
// # Events
//
// EventPublisher delivers progress, operation, batch and policy events to
// subscribers. ProgressNotifier adapts it to engine.Notifier.
package telemetry

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"production with endpoint", func(c *Config) {
			*c = *ProductionConfig()
			c.Tracing.Endpoint = "collector:4317"
		}, false},
		{"otlp without endpoint", func(c *Config) { *c = *ProductionConfig() }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"no service name", func(c *Config) { c.ServiceName = "" }, true},
		{"zero buffer", func(c *Config) { c.Events.BufferSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetrics_RecordOperation(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatal(err)
	}

	m.RecordOperation("decrypt", "success", time.Second, 100, 90)
	m.RecordOperation("decrypt", "bad_password", time.Second, 100, 0)
	m.RecordOperation("decrypt", "bad_password", time.Second, 100, 0)
	m.RecordCleanupFailure("decrypt")
	m.RecordEngineInit(false, time.Millisecond)
	m.RecordBatch("linearize", 2, 1)
	m.RecordPolicyViolation("max-input-size", "error")

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"success", testutil.ToFloat64(m.operations.WithLabelValues("decrypt", "success")), 1},
		{"bad password", testutil.ToFloat64(m.operations.WithLabelValues("decrypt", "bad_password")), 2},
		{"cleanup", testutil.ToFloat64(m.cleanupFailures.WithLabelValues("decrypt")), 1},
		{"init failure", testutil.ToFloat64(m.engineInits.WithLabelValues("false")), 1},
		{"batches", testutil.ToFloat64(m.batches.WithLabelValues("linearize")), 1},
		{"batch succeeded", testutil.ToFloat64(m.batchItems.WithLabelValues("linearize", "succeeded")), 2},
		{"batch failed", testutil.ToFloat64(m.batchItems.WithLabelValues("linearize", "failed")), 1},
		{"policy", testutil.ToFloat64(m.policyViolations.WithLabelValues("max-input-size", "error")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}

	m.RecordOperation("decrypt", "success", time.Second, 1, 1)
	m.RecordCleanupFailure("decrypt")
	m.RecordEngineInit(true, time.Second)
	m.RecordBatch("decrypt", 1, 0)
	m.RecordPolicyViolation("p", "error")

	if m.Registry() != nil {
		t.Error("disabled metrics have a registry")
	}
	if srv := m.StartMetricsServer(FromContext(context.Background()).Zerolog()); srv != nil {
		t.Error("disabled metrics started a server")
	}
}

func TestMetrics_Handler(t *testing.T) {
	m, _ := NewMetrics(MetricsConfig{Enabled: true, Namespace: "docstage"})
	m.RecordOperation("linearize", "success", time.Second, 10, 10)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `docstage_operations_total{operation="linearize",outcome="success"} 1`) {
		t.Errorf("metrics output missing operation counter:\n%s", rec.Body.String())
	}
}

func TestEventPublisher_SyncOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer ep.Shutdown(context.Background())

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.Message) }, nil)

	for _, msg := range []string{"a", "b", "c"} {
		if err := ep.PublishProgress(msg); err != nil {
			t.Fatal(err)
		}
	}

	if strings.Join(got, "") != "abc" {
		t.Errorf("delivered %v, want [a b c]", got)
	}
}

func TestEventPublisher_AsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 64, MaxBatchSize: 4, EnableAsync: true})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	count := 0
	ep.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)

	for i := 0; i < 10; i++ {
		if err := ep.PublishProgress("tick"); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Errorf("delivered %d events, want 10", count)
	}
}

func TestEventPublisher_Disabled(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: false})
	called := false
	ep.Subscribe(func(Event) { called = true }, nil)

	if err := ep.PublishProgress("x"); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("disabled publisher delivered an event")
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestEventPublisher_GlobalFilter(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 8})
	ep.AddFilter(FilterByBatchID("keep"))

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.BatchID) }, nil)

	_ = ep.PublishBatchCompleted("keep", "encrypt", 1, 0)
	_ = ep.PublishBatchCompleted("drop", "encrypt", 1, 0)

	if len(got) != 1 || got[0] != "keep" {
		t.Errorf("delivered %v, want [keep]", got)
	}
}

func TestLogger_Fields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	zl := logger.WithJobID("job-1").WithBatchID("batch-1").WithOperation("decrypt").Zerolog().Output(&buf)
	zl.Info().Msg("done")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	for key, want := range map[string]string{"job_id": "job-1", "batch_id": "batch-1", "operation": "decrypt"} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %s", key, entry[key], want)
		}
	}
}

func TestLogger_Context(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatal(err)
	}

	ctx := logger.WithContext(context.Background())
	if FromContext(ctx) != logger {
		t.Error("FromContext() did not return the stored logger")
	}
	if FromContext(context.Background()) == nil {
		t.Error("FromContext() returned nil without a logger")
	}
}

func TestNewTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("FromTelemetryContext() mismatch")
	}

	var shown []string
	tel.Events.Subscribe(func(e Event) { shown = append(shown, e.Message) }, FilterByType(EventTypeProgressShown))
	tel.Notifier().ShowProgress("Finalizing...")
	if len(shown) != 1 || shown[0] != "Finalizing..." {
		t.Errorf("progress events = %v", shown)
	}

	ctx2, span := tel.Tracer.StartSpan(ctx, "test")
	RecordSuccess(span)
	span.End()
	_ = ctx2

	tel.StartMetricsServer()
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

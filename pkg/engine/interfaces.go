package engine

import (
	"context"
	"time"
)

// Engine is the handle to the embedded document engine. Implementations are
// not required to be safe for concurrent invocation; callers serialize.
type Engine interface {
	// Invoke runs the engine synchronously with the argument vector. A failed
	// invocation returns an error whose text is the engine's diagnostic,
	// typically an *InvocationError.
	Invoke(ctx context.Context, args []string) error

	// Filesystem returns the engine's virtual filesystem.
	Filesystem() Filesystem
}

// Filesystem is the engine's virtual filesystem, addressed by virtual paths.
type Filesystem interface {
	// WriteFile creates or replaces the file at path.
	WriteFile(path string, data []byte) error

	// ReadFile returns the content at path. A missing path returns an error
	// matching fs.ErrNotExist.
	ReadFile(path string) ([]byte, error)

	// Exists reports whether path exists.
	Exists(path string) bool

	// Remove deletes path. A missing path returns an error matching
	// fs.ErrNotExist.
	Remove(path string) error
}

// Factory creates the engine. It is called at most once per Lifecycle.
type Factory func(ctx context.Context) (Engine, error)

// Classifier maps an engine failure message to a FailureKind.
type Classifier interface {
	Classify(kind OperationKind, message string) FailureKind
}

// Notifier receives progress updates. Calls are fire-and-forget.
type Notifier interface {
	ShowProgress(message string)
	HideProgress()
}

// ArchiveEntry is one file of a combined archive.
type ArchiveEntry struct {
	Name string
	Data []byte
}

// Archiver packages several outputs into one artifact.
type Archiver interface {
	Package(entries []ArchiveEntry) ([]byte, error)
}

// PolicyGate decides whether an operation may run on an input.
type PolicyGate interface {
	Check(ctx context.Context, op Operation, inputName string, inputSize int) error
}

// JobRecorder persists execution history.
type JobRecorder interface {
	RecordJob(ctx context.Context, job JobRecord) error
	RecordBatch(ctx context.Context, batch BatchRecord) error
}

// MetricsRecorder receives operation measurements. The telemetry package's
// Metrics satisfies it.
type MetricsRecorder interface {
	RecordOperation(operation, outcome string, duration time.Duration, inputBytes, outputBytes int)
	RecordCleanupFailure(operation string)
	RecordEngineInit(success bool, duration time.Duration)
	RecordBatch(operation string, succeeded, failed int)
}

type nopNotifier struct{}

func (nopNotifier) ShowProgress(string) {}
func (nopNotifier) HideProgress()       {}

type nopMetrics struct{}

func (nopMetrics) RecordOperation(string, string, time.Duration, int, int) {}
func (nopMetrics) RecordCleanupFailure(string)                            {}
func (nopMetrics) RecordEngineInit(bool, time.Duration)                   {}
func (nopMetrics) RecordBatch(string, int, int)                           {}

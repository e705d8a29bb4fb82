package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/docstage/docstage/pkg/engine"

// executionState tracks where an execution is in its lifecycle.
type executionState string

const (
	stateInit       executionState = "init"
	stateStaged     executionState = "staged"
	stateInvoked    executionState = "invoked"
	stateOutputRead executionState = "output_read"
	stateFailed     executionState = "failed"
	stateCleanedUp  executionState = "cleaned_up"
)

// Runner executes one operation end to end: stage, invoke, classify, read,
// clean up. Executions on one Runner are serialized.
type Runner struct {
	// mu serializes executions against the shared engine.
	mu sync.Mutex

	lifecycle  *Lifecycle
	classifier Classifier
	notifier   Notifier
	metrics    MetricsRecorder
	recorder   JobRecorder
	policy     PolicyGate
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClassifier replaces the default KeywordClassifier.
func WithClassifier(c Classifier) RunnerOption {
	return func(r *Runner) {
		if c != nil {
			r.classifier = c
		}
	}
}

// WithNotifier sets the progress notifier.
func WithNotifier(n Notifier) RunnerOption {
	return func(r *Runner) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) RunnerOption {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithJobRecorder sets the history recorder.
func WithJobRecorder(rec JobRecorder) RunnerOption {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithPolicyGate sets the policy gate evaluated before staging.
func WithPolicyGate(p PolicyGate) RunnerOption {
	return func(r *Runner) {
		r.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger.With().Str("component", "runner").Logger()
	}
}

// NewRunner creates a runner that obtains its engine from lifecycle.
func NewRunner(lifecycle *Lifecycle, opts ...RunnerOption) *Runner {
	r := &Runner{
		lifecycle:  lifecycle,
		classifier: KeywordClassifier{},
		notifier:   nopNotifier{},
		metrics:    nopMetrics{},
		tracer:     otel.Tracer(tracerName),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes op on input using fresh staging paths.
func (r *Runner) Run(ctx context.Context, op Operation, input []byte) ([]byte, error) {
	return r.Execute(ctx, Request{Operation: op, Input: input})
}

// Execute runs a single request. The returned error, if any, is an
// *OperationError.
func (r *Runner) Execute(ctx context.Context, req Request) (output []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobID := uuid.New().String()
	kind := operationKind(req.Operation)
	started := time.Now()

	logger := r.logger.With().
		Str("job_id", jobID).
		Str("operation", string(kind)).
		Str("input", req.Name).
		Logger()
	if req.BatchID != "" {
		logger = logger.With().Str("batch_id", req.BatchID).Logger()
	}

	ctx, span := r.tracer.Start(ctx, "operation.execute", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("operation", string(kind)),
		attribute.Int("input.bytes", len(req.Input)),
	))

	defer func() {
		r.finish(ctx, span, logger, jobID, req, started, output, err)
	}()

	eng, err := r.lifecycle.Get(ctx)
	if err != nil {
		return nil, err
	}

	if err := ValidateOperation(req.Operation); err != nil {
		return nil, err
	}

	if r.policy != nil {
		if err := r.policy.Check(ctx, req.Operation, req.Name, len(req.Input)); err != nil {
			return nil, err
		}
	}

	paths := req.Paths
	if paths.IsZero() {
		paths = NewStagedPaths(uuid.New().String(), 0)
	}

	exec := &execution{
		runner:  r,
		engine:  eng,
		staging: NewStaging(eng.Filesystem(), logger, r.metrics),
		op:      req.Operation,
		paths:   paths,
		state:   stateInit,
		logger:  logger,
	}

	r.notifier.ShowProgress("Preparing document...")
	defer r.notifier.HideProgress()

	return exec.run(ctx, req.Input)
}

// finish records the terminal outcome in logs, metrics, tracing and history.
func (r *Runner) finish(ctx context.Context, span trace.Span, logger zerolog.Logger, jobID string,
	req Request, started time.Time, output []byte, err error) {
	duration := time.Since(started)
	kind := operationKind(req.Operation)

	outcome := "success"
	status := JobStatusSucceeded
	failure := FailureKind("")
	message := ""
	if err != nil {
		failure = KindOf(err)
		if failure == "" {
			failure = FailureGeneric
		}
		outcome = string(failure)
		status = JobStatusFailed
		message = err.Error()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Str("failure", string(failure)).Dur("duration", duration).Msg("Operation failed")
	} else {
		span.SetStatus(codes.Ok, "")
		logger.Info().Int("output_bytes", len(output)).Dur("duration", duration).Msg("Operation completed")
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	span.End()

	r.metrics.RecordOperation(string(kind), outcome, duration, len(req.Input), len(output))

	if r.recorder == nil {
		return
	}
	job := JobRecord{
		ID:          jobID,
		BatchID:     req.BatchID,
		Operation:   kind,
		InputName:   req.Name,
		Status:      status,
		FailureKind: failure,
		Message:     message,
		InputBytes:  len(req.Input),
		OutputBytes: len(output),
		StartedAt:   started,
		CompletedAt: started.Add(duration),
	}
	if recErr := r.recorder.RecordJob(context.WithoutCancel(ctx), job); recErr != nil {
		logger.Warn().Err(recErr).Msg("Failed to record job history")
	}
}

// execution holds the state of one staged operation.
type execution struct {
	runner  *Runner
	engine  Engine
	staging *Staging
	op      Operation
	paths   StagedPaths
	state   executionState
	logger  zerolog.Logger
}

func (e *execution) transition(next executionState) {
	e.logger.Debug().Str("from", string(e.state)).Str("to", string(next)).Msg("Execution state changed")
	e.state = next
}

// run stages the input and always unlinks both staged paths before
// returning, whatever the outcome.
func (e *execution) run(ctx context.Context, input []byte) (output []byte, err error) {
	kind := e.op.Kind()

	defer func() {
		e.runner.notifier.ShowProgress("Finalizing...")
		e.staging.TryUnlink(e.paths.Input, kind)
		e.staging.TryUnlink(e.paths.Output, kind)
		e.transition(stateCleanedUp)
	}()

	if err := e.staging.Write(e.paths.Input, input); err != nil {
		e.transition(stateFailed)
		return nil, withOperation(err, kind)
	}
	e.transition(stateStaged)

	args, err := BuildArgs(e.op, e.paths)
	if err != nil {
		e.transition(stateFailed)
		return nil, NewGenericError("failed to build arguments", "", err).
			WithOperation(kind).
			WithCode(ErrCodeInternal)
	}

	e.runner.notifier.ShowProgress("Processing document...")
	if err := e.invoke(ctx, args); err != nil {
		e.transition(stateFailed)
		return nil, e.classify(err)
	}
	e.transition(stateInvoked)

	out, err := e.staging.Read(e.paths.Output)
	if err != nil {
		e.transition(stateFailed)
		return nil, withOperation(err, kind)
	}
	e.transition(stateOutputRead)

	return out, nil
}

// invoke calls the engine. The call is not cancellable once started, and a
// panic inside the engine is converted into an error.
func (e *execution) invoke(ctx context.Context, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked: %v", r)
		}
	}()
	return e.engine.Invoke(context.WithoutCancel(ctx), args)
}

// classify maps an engine error to a typed OperationError.
func (e *execution) classify(err error) *OperationError {
	raw := err.Error()
	kind := e.op.Kind()

	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.WithOperation(kind)
	}

	switch e.runner.classifier.Classify(kind, raw) {
	case FailureBadPassword:
		return NewBadPasswordError(raw).WithOperation(kind)
	case FailureEmptyOutput:
		return NewEmptyOutputError(e.paths.Output).WithOperation(kind)
	default:
		return NewGenericError("document operation failed", raw, err).
			WithOperation(kind).
			WithCode(ErrCodeInvocation)
	}
}

func withOperation(err error, kind OperationKind) error {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.WithOperation(kind)
	}
	return err
}

func operationKind(op Operation) OperationKind {
	if op == nil {
		return ""
	}
	return op.Kind()
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OperationFunc returns the operation for the item at index.
type OperationFunc func(index int, item BatchItem) Operation

// SharedOperation applies op to every item.
func SharedOperation(op Operation) OperationFunc {
	return func(int, BatchItem) Operation { return op }
}

// Namer derives an output file name from the operation and input name.
type Namer func(kind OperationKind, inputName string) string

// BatchCoordinator runs a list of inputs through a Runner one at a time and
// packages the successful outputs into one archive.
type BatchCoordinator struct {
	runner   *Runner
	archiver Archiver
	namer    Namer
	logger   zerolog.Logger
}

// BatchOption configures a BatchCoordinator.
type BatchOption func(*BatchCoordinator)

// WithNamer overrides OutputName for archive entries. An empty name from
// the namer falls back to OutputName.
func WithNamer(n Namer) BatchOption {
	return func(c *BatchCoordinator) {
		c.namer = n
	}
}

// NewBatchCoordinator creates a coordinator. The runner's notifier, metrics
// and recorder are reused for batch-level reporting.
func NewBatchCoordinator(runner *Runner, archiver Archiver, logger zerolog.Logger, opts ...BatchOption) *BatchCoordinator {
	c := &BatchCoordinator{
		runner:   runner,
		archiver: archiver,
		logger:   logger.With().Str("component", "batch").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *BatchCoordinator) outputName(kind OperationKind, inputName string) string {
	if c.namer != nil {
		if name := c.namer(kind, inputName); name != "" {
			return name
		}
	}
	return OutputName(kind, inputName)
}

// Run processes items in input order. A failing item never stops the loop;
// if ctx is cancelled, the items not yet started are marked failed with the
// context error. When no item succeeds the result is returned together with
// a *BatchError.
func (c *BatchCoordinator) Run(ctx context.Context, items []BatchItem, ops OperationFunc) (*BatchResult, error) {
	if ops == nil {
		return nil, errors.New("batch: no operation given")
	}

	batchID := uuid.New().String()
	started := time.Now()
	logger := c.logger.With().Str("batch_id", batchID).Int("items", len(items)).Logger()

	result := &BatchResult{
		ID:    batchID,
		Items: make([]ItemResult, 0, len(items)),
	}

	ctx, span := c.runner.tracer.Start(ctx, "batch.execute", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.items", len(items)),
	))
	defer span.End()

	logger.Info().Msg("Batch started")

	for i, item := range items {
		op := ops(i, item)
		kind := operationKind(op)
		if result.Operation == "" {
			result.Operation = kind
		}

		if err := ctx.Err(); err != nil {
			result.Items = append(result.Items, ItemResult{Name: item.Name, Err: err})
			result.FailureCount++
			continue
		}

		c.runner.notifier.ShowProgress(fmt.Sprintf("Processing %d of %d: %s", i+1, len(items), item.Name))

		output, err := c.runner.Execute(ctx, Request{
			Operation: op,
			Input:     item.Input,
			Name:      item.Name,
			Paths:     NewStagedPaths(batchID, i),
			BatchID:   batchID,
		})
		if err != nil {
			logger.Warn().Err(err).Int("index", i).Str("input", item.Name).Msg("Batch item failed")
			result.Items = append(result.Items, ItemResult{Name: item.Name, Err: err})
			result.FailureCount++
			continue
		}

		result.Items = append(result.Items, ItemResult{
			Name:       item.Name,
			OutputName: c.outputName(kind, item.Name),
			Output:     output,
		})
		result.SuccessCount++
	}

	c.runner.notifier.HideProgress()

	var batchErr error
	if result.SuccessCount > 0 {
		if err := c.buildArchive(result); err != nil {
			batchErr = err
		}
	} else {
		batchErr = &BatchError{Total: len(items)}
	}

	c.runner.metrics.RecordBatch(string(result.Operation), result.SuccessCount, result.FailureCount)
	c.record(ctx, logger, result, started)

	span.SetAttributes(
		attribute.Int("batch.succeeded", result.SuccessCount),
		attribute.Int("batch.failed", result.FailureCount),
	)
	if batchErr != nil {
		span.RecordError(batchErr)
		span.SetStatus(codes.Error, batchErr.Error())
		logger.Error().Err(batchErr).Str("summary", result.Summary()).Msg("Batch failed")
		return result, batchErr
	}

	span.SetStatus(codes.Ok, "")
	logger.Info().Str("summary", result.Summary()).Msg("Batch completed")
	return result, nil
}

// buildArchive packages the successful outputs. Entry names are unique and
// deterministic for a given input order.
func (c *BatchCoordinator) buildArchive(result *BatchResult) error {
	seen := make(map[string]int)
	entries := make([]ArchiveEntry, 0, result.SuccessCount)

	for i := range result.Items {
		item := &result.Items[i]
		if !item.Succeeded() {
			continue
		}
		item.OutputName = uniqueName(seen, item.OutputName)
		entries = append(entries, ArchiveEntry{Name: item.OutputName, Data: item.Output})
	}

	archive, err := c.archiver.Package(entries)
	if err != nil {
		return NewGenericError("failed to build archive", "", err).
			WithOperation(result.Operation).
			WithCode(ErrCodeArchive)
	}

	result.Archive = archive
	result.ArchiveName = OutputPrefix(result.Operation) + "documents.zip"
	return nil
}

// record persists the batch summary; failures are logged only.
func (c *BatchCoordinator) record(ctx context.Context, logger zerolog.Logger, result *BatchResult, started time.Time) {
	if c.runner.recorder == nil {
		return
	}
	rec := BatchRecord{
		ID:           result.ID,
		Operation:    result.Operation,
		Total:        len(result.Items),
		SuccessCount: result.SuccessCount,
		FailureCount: result.FailureCount,
		ArchiveBytes: len(result.Archive),
		StartedAt:    started,
		CompletedAt:  time.Now(),
	}
	if err := c.runner.recorder.RecordBatch(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn().Err(err).Msg("Failed to record batch history")
	}
}

// uniqueName returns name, or name with a -2, -3, ... suffix before the
// extension if it was already used.
func uniqueName(seen map[string]int, name string) string {
	seen[name]++
	if seen[name] == 1 {
		return name
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := seen[name]; ; n++ {
		candidate := fmt.Sprintf("%s-%d%s", base, n, ext)
		if seen[candidate] == 0 {
			seen[candidate] = 1
			return candidate
		}
	}
}

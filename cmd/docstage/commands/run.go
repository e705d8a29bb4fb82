package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docstage/docstage/pkg/engine"
	"github.com/docstage/docstage/pkg/telemetry"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
)

// outputOptions are the delivery flags shared by the tool commands.
type outputOptions struct {
	output string
	dir    string
	force  bool
}

func (o *outputOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "output file (a .zip archive when several inputs are given)")
	cmd.Flags().StringVar(&o.dir, "output-dir", "", "directory for generated output names (default from config, else current directory)")
	cmd.Flags().BoolVarP(&o.force, "force", "f", false, "overwrite existing output files")
}

// toolResult is the --json summary of a tool run.
type toolResult struct {
	Operation engine.OperationKind `json:"operation"`
	BatchID   string               `json:"batch_id,omitempty"`
	Output    string               `json:"output,omitempty"`
	Bytes     int                  `json:"bytes"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Failures  []itemFailure        `json:"failures,omitempty"`
	TraceID   string               `json:"trace_id,omitempty"`
}

type itemFailure struct {
	Input   string             `json:"input"`
	Kind    engine.FailureKind `json:"kind"`
	Message string             `json:"message"`
}

// runTool reads the inputs, runs op on them and delivers the result. One
// input is written as a single document, several as one zip archive.
func runTool(cmd *cobra.Command, opts *globalOptions, out *outputOptions, op engine.Operation, args []string) error {
	items, err := readInputs(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, opts, appOptions{withEngine: true})
	if err != nil {
		return err
	}
	defer a.close()

	if !opts.jsonOutput {
		subscribeProgress(a)
	}

	d := deliverer{
		dir:   firstNonEmpty(out.dir, a.cfg.Output.Dir, "."),
		force: out.force || a.cfg.Output.Force,
	}

	ctx, span := a.tel.Tracer.StartSpan(ctx, "cli."+cmd.Name(),
		attribute.String("operation", string(op.Kind())),
		attribute.Int("inputs", len(items)),
	)
	defer span.End()

	var result *toolResult
	if len(items) == 1 {
		result, err = runSingle(ctx, a, d, out.output, op, items[0])
	} else {
		result, err = runBatch(ctx, a, d, out.output, op, items)
	}
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}

	if result != nil {
		result.TraceID = telemetry.TraceID(ctx)
		if printErr := printResult(cmd.OutOrStdout(), opts.jsonOutput, result); printErr != nil && err == nil {
			err = printErr
		}
	}
	return err
}

func runSingle(ctx context.Context, a *app, d deliverer, output string, op engine.Operation, item engine.BatchItem) (*toolResult, error) {
	kind := op.Kind()
	started := time.Now()

	data, err := a.runner.Execute(ctx, engine.Request{
		Operation: op,
		Input:     item.Input,
		Name:      item.Name,
	})
	if err != nil {
		_ = a.tel.Events.PublishOperationFailed(string(kind), item.Name, string(engine.KindOf(err)), Describe(err))
		return nil, err
	}

	target := output
	if target == "" {
		target = d.path(a.outputName(kind, item.Name))
	}
	if err := d.write(target, data); err != nil {
		return nil, err
	}
	a.tel.Logger.NewComponentLogger("cli").WithOperation(string(kind)).Info("Delivered " + target)
	_ = a.tel.Events.PublishOperationCompleted(string(kind), item.Name, len(data), time.Since(started))

	return &toolResult{
		Operation: kind,
		Output:    target,
		Bytes:     len(data),
		Succeeded: 1,
	}, nil
}

func runBatch(ctx context.Context, a *app, d deliverer, output string, op engine.Operation, items []engine.BatchItem) (*toolResult, error) {
	res, runErr := a.batch.Run(ctx, items, engine.SharedOperation(op))
	if res == nil {
		return nil, runErr
	}
	_ = a.tel.Events.PublishBatchCompleted(res.ID, string(res.Operation), res.SuccessCount, res.FailureCount)

	result := &toolResult{
		Operation: res.Operation,
		BatchID:   res.ID,
		Succeeded: res.SuccessCount,
		Failed:    res.FailureCount,
	}
	logger := a.tel.Logger.NewComponentLogger("cli").WithBatchID(res.ID).WithOperation(string(res.Operation))
	for _, item := range res.Items {
		if item.Succeeded() {
			continue
		}
		logger.Warn("Not included in the archive: " + item.Name)
		kind := engine.KindOf(item.Err)
		if kind == "" {
			kind = engine.FailureGeneric
		}
		result.Failures = append(result.Failures, itemFailure{
			Input:   item.Name,
			Kind:    kind,
			Message: Describe(item.Err),
		})
	}

	if len(res.Archive) > 0 {
		target := output
		if target == "" {
			target = d.path(res.ArchiveName)
		}
		if err := d.write(target, res.Archive); err != nil {
			return result, err
		}
		result.Output = target
		result.Bytes = len(res.Archive)
		logger.Info("Delivered " + target)
	}

	return result, runErr
}

func readInputs(paths []string) ([]engine.BatchItem, error) {
	items := make([]engine.BatchItem, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		items = append(items, engine.BatchItem{Name: filepath.Base(p), Input: data})
	}
	return items, nil
}

// subscribeProgress echoes progress messages to the log.
func subscribeProgress(a *app) {
	logger := a.tel.Logger.NewComponentLogger("cli").Zerolog()
	a.tel.Events.Subscribe(func(e telemetry.Event) {
		logger.Info().Msg(e.Message)
	}, telemetry.FilterByType(telemetry.EventTypeProgressShown))
}

func printResult(w io.Writer, asJSON bool, r *toolResult) error {
	if asJSON {
		return writeJSON(w, r)
	}

	for _, f := range r.Failures {
		fmt.Fprintf(w, "  %s: %s\n", f.Input, f.Message)
	}
	if r.Output == "" {
		return nil
	}
	if r.BatchID != "" {
		fmt.Fprintf(w, "Wrote %s (%d succeeded, %d failed)\n", r.Output, r.Succeeded, r.Failed)
		return nil
	}
	fmt.Fprintf(w, "Wrote %s (%s)\n", r.Output, humanize.Bytes(uint64(r.Bytes)))
	return nil
}

// deliverer writes results to disk.
type deliverer struct {
	dir   string
	force bool
}

func (d deliverer) path(name string) string {
	return filepath.Join(d.dir, filepath.FromSlash(name))
}

// write stores data at target. Existing files are kept unless force is set.
func (d deliverer) write(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if d.force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(target, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return usagef("%s already exists (use --force to overwrite)", target)
		}
		return fmt.Errorf("failed to write output: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write output: %w", err)
	}
	return f.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

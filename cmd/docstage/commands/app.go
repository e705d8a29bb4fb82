package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docstage/docstage/pkg/archive"
	"github.com/docstage/docstage/pkg/config"
	"github.com/docstage/docstage/pkg/engine"
	"github.com/docstage/docstage/pkg/host"
	"github.com/docstage/docstage/pkg/policy"
	"github.com/docstage/docstage/pkg/stores"
	"github.com/docstage/docstage/pkg/telemetry"
	"github.com/rs/zerolog"
)

// shutdownTimeout bounds the time spent flushing telemetry and closing the
// engine on exit.
const shutdownTimeout = 10 * time.Second

// app holds the components shared by the commands.
type app struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	logger    zerolog.Logger
	store     *stores.SQLiteStore
	policies  *policy.Engine
	watcher   *policy.Loader
	lifecycle *engine.Lifecycle
	runner    *engine.Runner
	batch     *engine.BatchCoordinator
	namer     engine.Namer
}

// engineFactory builds the engine factory from the engine section.
var engineFactory = host.NewFactory

// appOptions selects which components newApp builds.
type appOptions struct {
	// withEngine builds the lifecycle, runner and batch coordinator.
	withEngine bool
}

// newApp loads the configuration and wires the components in dependency
// order. The caller must call close.
func newApp(ctx context.Context, opts *globalOptions, ao appOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.Zerolog(),
	}
	if err := a.wire(ctx, ao); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, ao appOptions) error {
	a.tel.StartMetricsServer()

	if !a.cfg.Store.Disabled {
		if err := a.openStore(ctx); err != nil {
			return err
		}
	}

	if !a.cfg.Policy.Disabled {
		if err := a.loadPolicies(ctx); err != nil {
			return err
		}
	}

	if a.cfg.Output.NamingScript != "" {
		script, err := config.LoadNamingScript(a.cfg.Output.NamingScript)
		if err != nil {
			return err
		}
		a.namer = script.Namer(a.logger)
	}

	if ao.withEngine {
		a.buildEngine()
	}
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg.Store.Config
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(cfg)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	a.store = store
	return store.Migrate(ctx)
}

func (a *app) loadPolicies(ctx context.Context) error {
	events := a.tel.Events
	metrics := a.tel.Metrics

	pe, err := policy.NewEngine(a.logger,
		policy.WithMaxInputBytes(a.cfg.Policy.MaxInputBytes),
		policy.WithViolationHandler(func(op engine.OperationKind, v policy.Violation) {
			metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
			_ = events.PublishPolicyViolation(string(op), v.Policy, string(v.Severity), v.Message)
		}),
		policy.WithReloadHandler(func(count int) {
			_ = events.PublishPoliciesReloaded(count)
		}),
	)
	if err != nil {
		return err
	}
	a.policies = pe

	if len(a.cfg.Policy.Paths) == 0 {
		return nil
	}
	if err := pe.LoadPolicies(ctx, a.cfg.Policy.Paths); err != nil {
		return err
	}
	if a.cfg.Policy.Watch {
		watcher, err := pe.Watch(ctx, a.cfg.Policy.Paths)
		if err != nil {
			return err
		}
		a.watcher = watcher
	}
	return nil
}

func (a *app) buildEngine() {
	a.lifecycle = engine.NewLifecycle(engineFactory(a.cfg.Engine, a.logger),
		engine.WithLifecycleLogger(a.logger),
		engine.WithLifecycleMetrics(a.tel.Metrics),
	)

	runnerOpts := []engine.RunnerOption{
		engine.WithNotifier(a.tel.Notifier()),
		engine.WithMetrics(a.tel.Metrics),
		engine.WithLogger(a.logger),
	}
	if a.store != nil {
		runnerOpts = append(runnerOpts, engine.WithJobRecorder(stores.NewRecorder(a.store)))
	}
	if a.policies != nil {
		runnerOpts = append(runnerOpts, engine.WithPolicyGate(a.policies))
	}
	a.runner = engine.NewRunner(a.lifecycle, runnerOpts...)

	var batchOpts []engine.BatchOption
	if a.namer != nil {
		batchOpts = append(batchOpts, engine.WithNamer(a.namer))
	}
	a.batch = engine.NewBatchCoordinator(a.runner, archive.NewZipArchiver(), a.logger, batchOpts...)
}

// outputName names the delivered file for a single input.
func (a *app) outputName(kind engine.OperationKind, input string) string {
	if a.namer != nil {
		if name := a.namer(kind, input); name != "" {
			return name
		}
	}
	return engine.OutputName(kind, input)
}

// close releases everything newApp built, in reverse order.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.lifecycle != nil {
		if err := a.lifecycle.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.watcher != nil {
		if err := a.watcher.StopWatching(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

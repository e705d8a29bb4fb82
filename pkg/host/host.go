package host

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/docstage/docstage/pkg/engine"
)

// WASMEngine runs a WASI build of the document engine under wazero. Each
// Invoke instantiates the compiled module afresh, as one process run, with
// the sandbox mounted as the guest's root directory.
type WASMEngine struct {
	// mu serializes invocations; a guest is not reentrant.
	mu sync.Mutex

	// runtime is the wazero runtime.
	runtime wazero.Runtime

	// compiled is the compiled engine module.
	compiled wazero.CompiledModule

	// sandbox is the staging directory shared with the guest.
	sandbox *Sandbox

	program      string
	successCodes []uint32
	info         Info
	logger       zerolog.Logger
}

// Info describes a loaded engine.
type Info struct {
	Name             string   `json:"name,omitempty"`
	Version          string   `json:"version,omitempty"`
	Program          string   `json:"program"`
	ModulePath       string   `json:"module_path,omitempty"`
	ModuleBytes      int      `json:"module_bytes"`
	Checksum         string   `json:"checksum"`
	Verified         bool     `json:"verified"`
	MemoryLimitPages uint32   `json:"memory_limit_pages"`
	SuccessExitCodes []uint32 `json:"success_exit_codes"`
	StagingDir       string   `json:"staging_dir"`
}

// NewWASMEngine compiles wasmModule and prepares the sandbox.
func NewWASMEngine(ctx context.Context, wasmModule []byte, cfg Config, logger zerolog.Logger) (*WASMEngine, error) {
	cfg = cfg.withDefaults()

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages)

	if cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache: %w", err)
		}
		runtimeConfig = runtimeConfig.WithCompilationCache(cache)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	start := time.Now()
	compiled, err := runtime.CompileModule(ctx, wasmModule)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}

	sandbox, err := NewSandbox(cfg.StagingDir)
	if err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	e := &WASMEngine{
		runtime:      runtime,
		compiled:     compiled,
		sandbox:      sandbox,
		program:      cfg.Program,
		successCodes: slices.Clone(cfg.SuccessExitCodes),
		info: Info{
			Program:          cfg.Program,
			ModulePath:       cfg.Module,
			ModuleBytes:      len(wasmModule),
			Checksum:         Checksum(wasmModule),
			MemoryLimitPages: cfg.MemoryLimitPages,
			SuccessExitCodes: slices.Clone(cfg.SuccessExitCodes),
			StagingDir:       sandbox.Dir(),
		},
		logger: logger.With().Str("component", "wasm-engine").Logger(),
	}

	e.logger.Debug().
		Str("program", cfg.Program).
		Int("module_bytes", len(wasmModule)).
		Dur("compile_duration", time.Since(start)).
		Str("staging_dir", sandbox.Dir()).
		Msg("Engine module compiled")

	return e, nil
}

// Load reads the module named by cfg, through its manifest when one is
// configured, and creates the engine.
func Load(ctx context.Context, cfg Config, logger zerolog.Logger) (*WASMEngine, error) {
	var manifest *Manifest
	if cfg.Manifest != "" {
		m, err := NewManifestLoader("").LoadFromFile(cfg.Manifest)
		if err != nil {
			return nil, err
		}
		manifest = m
		cfg = m.Apply(cfg)
	}

	if cfg.Module == "" {
		return nil, errors.New("no engine module configured")
	}

	wasmModule, err := os.ReadFile(cfg.Module)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine module: %w", err)
	}

	if manifest != nil && manifest.Raw.Checksum != "" {
		if err := manifest.VerifyChecksum(wasmModule); err != nil {
			return nil, err
		}
	}

	e, err := NewWASMEngine(ctx, wasmModule, cfg, logger)
	if err != nil {
		return nil, err
	}

	if manifest != nil {
		e.info.Name = manifest.Raw.Metadata.Name
		e.info.Version = manifest.Raw.Metadata.Version
		e.info.Verified = manifest.Verified
	}
	return e, nil
}

// NewFactory returns an engine.Factory that loads the engine on first use.
func NewFactory(cfg Config, logger zerolog.Logger) engine.Factory {
	return func(ctx context.Context) (engine.Engine, error) {
		e, err := Load(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

// Invoke runs the engine once with args. Arguments are never logged since
// they may contain passwords.
func (e *WASMEngine) Invoke(ctx context.Context, args []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stdout, stderr bytes.Buffer
	config := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{e.program}, args...)...).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithFSConfig(wazero.NewFSConfig().WithDirMount(e.sandbox.Dir(), "/")).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)

	start := time.Now()
	mod, err := e.runtime.InstantiateModule(ctx, e.compiled, config)
	if mod != nil {
		_ = mod.Close(ctx)
	}

	code, err := exitCode(err)
	e.logger.Debug().
		Uint32("exit_code", code).
		Dur("duration", time.Since(start)).
		Msg("Engine invocation finished")

	if err != nil {
		return fmt.Errorf("engine invocation failed: %w", err)
	}
	if slices.Contains(e.successCodes, code) {
		if code != 0 {
			e.logger.Debug().Str("warnings", strings.TrimSpace(stderr.String())).Msg("Engine reported warnings")
		}
		return nil
	}

	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = strings.TrimSpace(stdout.String())
	}
	return &engine.InvocationError{ExitCode: int(code), Message: msg}
}

// exitCode extracts the guest exit code. A nil error is exit code 0; an
// error other than *sys.ExitError is returned as is.
func exitCode(err error) (uint32, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

// Filesystem implements engine.Engine.
func (e *WASMEngine) Filesystem() engine.Filesystem {
	return e.sandbox
}

// Info returns a description of the loaded engine.
func (e *WASMEngine) Info() Info {
	return e.info
}

// Close releases the runtime and the sandbox.
func (e *WASMEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.runtime != nil {
		if err := e.runtime.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close WASM runtime: %w", err))
		}
	}
	if e.sandbox != nil {
		if err := e.sandbox.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

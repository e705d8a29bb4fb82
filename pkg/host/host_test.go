package host

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstage/docstage/pkg/engine"
)

// emptyModule is a valid module with no exports; instantiating it runs nothing.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// exitModule returns a module whose _start calls proc_exit(code).
func exitModule(code byte) []byte {
	wasi := "wasi_snapshot_preview1"
	m := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	// types: (i32) -> (), () -> ()
	m = append(m, 0x01, 0x08, 0x02, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x00, 0x00)

	// import wasi_snapshot_preview1.proc_exit as func type 0
	imp := []byte{0x01, byte(len(wasi))}
	imp = append(imp, wasi...)
	imp = append(imp, 0x09)
	imp = append(imp, "proc_exit"...)
	imp = append(imp, 0x00, 0x00)
	m = append(m, 0x02, byte(len(imp)))
	m = append(m, imp...)

	// one function of type 1
	m = append(m, 0x03, 0x02, 0x01, 0x01)

	// export it as _start
	m = append(m, 0x07, 0x0a, 0x01, 0x06)
	m = append(m, "_start"...)
	m = append(m, 0x00, 0x01)

	// body: i32.const code; call 0; end
	m = append(m, 0x0a, 0x08, 0x01, 0x06, 0x00, 0x41, code, 0x10, 0x00, 0x0b)
	return m
}

func newTestEngine(t *testing.T, module []byte) *WASMEngine {
	t.Helper()
	ctx := context.Background()
	e, err := NewWASMEngine(ctx, module, Config{StagingDir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func TestWASMEngine_Invoke(t *testing.T) {
	tests := []struct {
		name     string
		module   []byte
		wantCode int
	}{
		{name: "no start function", module: emptyModule},
		{name: "exit 0", module: exitModule(0)},
		{name: "exit 3 warnings", module: exitModule(3)},
		{name: "exit 2 error", module: exitModule(2), wantCode: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, tt.module)

			err := e.Invoke(context.Background(), []string{"/in.pdf", "--linearize", "/out.pdf"})
			if tt.wantCode == 0 {
				require.NoError(t, err)
				return
			}

			var invErr *engine.InvocationError
			require.ErrorAs(t, err, &invErr)
			assert.Equal(t, tt.wantCode, invErr.ExitCode)
			assert.Equal(t, "engine exited with code 2", invErr.Error())
		})
	}
}

func TestWASMEngine_InvokeRepeatedly(t *testing.T) {
	e := newTestEngine(t, exitModule(0))
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Invoke(context.Background(), nil))
	}
}

func TestWASMEngine_CustomSuccessCodes(t *testing.T) {
	ctx := context.Background()
	e, err := NewWASMEngine(ctx, exitModule(3), Config{
		StagingDir:       t.TempDir(),
		SuccessExitCodes: []uint32{0},
	}, zerolog.Nop())
	require.NoError(t, err)
	defer e.Close(ctx)

	var invErr *engine.InvocationError
	require.ErrorAs(t, e.Invoke(ctx, nil), &invErr)
	assert.Equal(t, 3, invErr.ExitCode)
}

func TestNewWASMEngine_InvalidModule(t *testing.T) {
	_, err := NewWASMEngine(context.Background(), []byte("not wasm"), Config{StagingDir: t.TempDir()}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile WASM module")
}

func TestWASMEngine_FilesystemIsMountedSandbox(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	e, err := NewWASMEngine(ctx, emptyModule, Config{StagingDir: dir}, zerolog.Nop())
	require.NoError(t, err)
	defer e.Close(ctx)

	require.NoError(t, e.Filesystem().WriteFile("/job-0-input.pdf", []byte("%PDF")))

	data, err := os.ReadFile(filepath.Join(dir, "job-0-input.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))

	info := e.Info()
	assert.Equal(t, DefaultProgram, info.Program)
	assert.Equal(t, dir, info.StagingDir)
	assert.Equal(t, Checksum(emptyModule), info.Checksum)
	assert.Equal(t, uint32(DefaultMemoryLimitPages), info.MemoryLimitPages)
}

func TestWASMEngine_ClosesOwnedStagingDir(t *testing.T) {
	ctx := context.Background()
	e, err := NewWASMEngine(ctx, emptyModule, Config{}, zerolog.Nop())
	require.NoError(t, err)

	dir := e.Info().StagingDir
	require.DirExists(t, dir)
	require.NoError(t, e.Close(ctx))
	assert.NoDirExists(t, dir)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	modulePath := filepath.Join(dir, "qpdf.wasm")
	require.NoError(t, os.WriteFile(modulePath, emptyModule, 0o600))

	t.Run("module path", func(t *testing.T) {
		e, err := Load(context.Background(), Config{Module: modulePath, StagingDir: t.TempDir()}, zerolog.Nop())
		require.NoError(t, err)
		defer e.Close(context.Background())
		assert.Equal(t, modulePath, e.Info().ModulePath)
	})

	t.Run("manifest", func(t *testing.T) {
		manifestPath := filepath.Join(dir, "engine.yaml")
		require.NoError(t, os.WriteFile(manifestPath, []byte(`
metadata:
  name: qpdf
  version: 11.9.1
entrypoint: qpdf.wasm
checksum: `+Checksum(emptyModule)+`
program: qpdf-wasi
`), 0o600))

		e, err := Load(context.Background(), Config{Manifest: manifestPath, StagingDir: t.TempDir()}, zerolog.Nop())
		require.NoError(t, err)
		defer e.Close(context.Background())

		info := e.Info()
		assert.Equal(t, "qpdf", info.Name)
		assert.Equal(t, "11.9.1", info.Version)
		assert.Equal(t, "qpdf-wasi", info.Program)
		assert.True(t, info.Verified)
	})

	t.Run("missing module", func(t *testing.T) {
		_, err := Load(context.Background(), Config{Module: filepath.Join(dir, "missing.wasm")}, zerolog.Nop())
		require.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := Load(context.Background(), Config{}, zerolog.Nop())
		require.Error(t, err)
	})
}

func TestNewFactory_ReportsLoadErrors(t *testing.T) {
	factory := NewFactory(Config{Module: "/does/not/exist.wasm"}, zerolog.Nop())

	lifecycle := engine.NewLifecycle(factory)
	_, err := lifecycle.Get(context.Background())
	require.True(t, errors.Is(err, engine.ErrEngineInit))
}

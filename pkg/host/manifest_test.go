package host

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestLoader_LoadFromBytes(t *testing.T) {
	module := []byte("module bytes")

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "valid without checksum",
			yaml: `
metadata:
  name: qpdf
  version: 11.9.1
entrypoint: qpdf.wasm
`,
		},
		{
			name: "valid with checksum",
			yaml: `
metadata:
  name: qpdf
  version: 11.9.1
entrypoint: qpdf.wasm
checksum: ` + Checksum(module),
		},
		{
			name: "checksum mismatch",
			yaml: `
metadata:
  name: qpdf
  version: 11.9.1
entrypoint: qpdf.wasm
checksum: ` + strings.Repeat("0", 64),
			wantErr: "checksum mismatch",
		},
		{
			name: "malformed checksum",
			yaml: `
metadata:
  name: qpdf
  version: 11.9.1
entrypoint: qpdf.wasm
checksum: abc
`,
			wantErr: "hex sha256",
		},
		{
			name: "missing name",
			yaml: `
metadata:
  version: 1.0.0
entrypoint: qpdf.wasm
`,
			wantErr: "engine name is required",
		},
		{
			name: "missing entrypoint",
			yaml: `
metadata:
  name: qpdf
  version: 1.0.0
`,
			wantErr: "entrypoint is required",
		},
		{
			name:    "not yaml",
			yaml:    "metadata: [",
			wantErr: "failed to parse manifest YAML",
		},
	}

	loader := NewManifestLoader("/tmp")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manifest, err := loader.LoadFromBytes([]byte(tt.yaml), module)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "qpdf", manifest.Raw.Metadata.Name)
			assert.Equal(t, manifest.Raw.Checksum != "", manifest.Verified)
		})
	}
}

func TestManifestLoader_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "qpdf.wasm"), emptyModule, 0o600))

	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
metadata:
  name: qpdf
  version: 11.9.1
entrypoint: qpdf.wasm
success_exit_codes: [0]
`), 0o600))

	manifest, err := NewManifestLoader("").LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "qpdf.wasm"), manifest.WasmPath)

	cfg := manifest.Apply(Config{Program: "qpdf"})
	assert.Equal(t, manifest.WasmPath, cfg.Module)
	assert.Equal(t, []uint32{0}, cfg.SuccessExitCodes)
	assert.Equal(t, "qpdf", cfg.Program)
}

func TestManifestLoader_MissingModule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
metadata:
  name: qpdf
  version: 11.9.1
entrypoint: missing.wasm
`), 0o600))

	_, err := NewManifestLoader("").LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WASM module not found")
}

func TestManifest_VerifyChecksum(t *testing.T) {
	m := &Manifest{Raw: &RawManifest{}}
	require.Error(t, m.VerifyChecksum(emptyModule))

	m.Raw.Checksum = Checksum(emptyModule)
	require.NoError(t, m.VerifyChecksum(emptyModule))
	assert.True(t, m.Verified)
}

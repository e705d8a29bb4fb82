package host

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestMetadata describes the engine build.
type ManifestMetadata struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description,omitempty"`
	License     string `yaml:"license,omitempty"`
}

// RawManifest is the on-disk engine manifest.
type RawManifest struct {
	Metadata ManifestMetadata `yaml:"metadata"`

	// Entrypoint is the WASM module path, relative to the manifest.
	Entrypoint string `yaml:"entrypoint"`

	// Checksum is the hex sha256 of the module. Optional.
	Checksum string `yaml:"checksum,omitempty"`

	// Program overrides argv[0].
	Program string `yaml:"program,omitempty"`

	// SuccessExitCodes overrides the exit codes treated as success.
	SuccessExitCodes []uint32 `yaml:"success_exit_codes,omitempty"`
}

// Manifest is a parsed engine manifest.
type Manifest struct {
	// Raw is the raw manifest data from the YAML file.
	Raw *RawManifest

	// Path is the file path where the manifest was loaded from.
	Path string

	// WasmPath is the resolved path to the WASM module.
	WasmPath string

	// Verified indicates if the WASM module checksum has been verified.
	Verified bool
}

// ManifestLoader loads and parses engine manifests.
type ManifestLoader struct {
	// BaseDir is the base directory for resolving relative paths.
	BaseDir string
}

// NewManifestLoader creates a new manifest loader.
func NewManifestLoader(baseDir string) *ManifestLoader {
	return &ManifestLoader{
		BaseDir: baseDir,
	}
}

// LoadFromFile loads a manifest from a YAML file and resolves its module path.
func (m *ManifestLoader) LoadFromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	raw, err := m.parse(data)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Raw:  raw,
		Path: path,
	}

	if err := m.resolveWasmPath(manifest); err != nil {
		return nil, fmt.Errorf("failed to resolve WASM path: %w", err)
	}

	return manifest, nil
}

// LoadFromBytes loads a manifest from raw bytes and verifies wasmModule
// against its checksum, if any.
func (m *ManifestLoader) LoadFromBytes(data []byte, wasmModule []byte) (*Manifest, error) {
	raw, err := m.parse(data)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{Raw: raw}
	if raw.Checksum != "" {
		if err := manifest.VerifyChecksum(wasmModule); err != nil {
			return nil, err
		}
	}

	return manifest, nil
}

func (m *ManifestLoader) parse(data []byte) (*RawManifest, error) {
	var raw RawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&raw); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	return &raw, nil
}

// validateManifest validates the basic structure of a manifest.
func validateManifest(manifest *RawManifest) error {
	if manifest.Metadata.Name == "" {
		return fmt.Errorf("engine name is required")
	}
	if manifest.Metadata.Version == "" {
		return fmt.Errorf("engine version is required")
	}
	if manifest.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if manifest.Checksum != "" {
		if _, err := hex.DecodeString(manifest.Checksum); err != nil || len(manifest.Checksum) != sha256.Size*2 {
			return fmt.Errorf("checksum must be a hex sha256 digest")
		}
	}
	return nil
}

// resolveWasmPath resolves the path to the WASM module.
func (m *ManifestLoader) resolveWasmPath(manifest *Manifest) error {
	switch {
	case filepath.IsAbs(manifest.Raw.Entrypoint):
		manifest.WasmPath = manifest.Raw.Entrypoint
	case manifest.Path != "":
		manifest.WasmPath = filepath.Join(filepath.Dir(manifest.Path), manifest.Raw.Entrypoint)
	default:
		manifest.WasmPath = filepath.Join(m.BaseDir, manifest.Raw.Entrypoint)
	}

	if _, err := os.Stat(manifest.WasmPath); err != nil {
		return fmt.Errorf("WASM module not found at %s: %w", manifest.WasmPath, err)
	}

	return nil
}

// VerifyChecksum verifies the WASM module checksum against the manifest.
func (m *Manifest) VerifyChecksum(wasmModule []byte) error {
	if m.Raw.Checksum == "" {
		return fmt.Errorf("no checksum in manifest")
	}

	computed := Checksum(wasmModule)
	if computed != m.Raw.Checksum {
		return fmt.Errorf("WASM module checksum mismatch: expected %s, got %s",
			m.Raw.Checksum, computed)
	}

	m.Verified = true
	return nil
}

// Apply overlays the manifest's program and exit codes onto cfg.
func (m *Manifest) Apply(cfg Config) Config {
	cfg.Module = m.WasmPath
	if m.Raw.Program != "" {
		cfg.Program = m.Raw.Program
	}
	if len(m.Raw.SuccessExitCodes) > 0 {
		cfg.SuccessExitCodes = m.Raw.SuccessExitCodes
	}
	return cfg
}

// Checksum returns the hex sha256 of a module.
func Checksum(wasmModule []byte) string {
	hash := sha256.Sum256(wasmModule)
	return hex.EncodeToString(hash[:])
}

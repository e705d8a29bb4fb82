package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docstage/docstage/pkg/host"
	"github.com/docstage/docstage/pkg/stores"
	"github.com/docstage/docstage/pkg/telemetry"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding file settings.
const (
	EnvEngineModule   = "DOCSTAGE_ENGINE_MODULE"
	EnvEngineManifest = "DOCSTAGE_ENGINE_MANIFEST"
	EnvStorePath      = "DOCSTAGE_STORE_PATH"
)

// Config is the docstage configuration file.
type Config struct {
	Engine    host.Config       `yaml:"engine"`
	Store     StoreConfig       `yaml:"store"`
	Policy    PolicyConfig      `yaml:"policy"`
	Output    OutputConfig      `yaml:"output"`
	Telemetry *telemetry.Config `yaml:"telemetry" validate:"required"`
}

// StoreConfig configures the job history database.
type StoreConfig struct {
	stores.Config `yaml:",inline"`

	// Disabled turns history recording off.
	Disabled bool `yaml:"disabled"`
}

// PolicyConfig configures the policy gate.
type PolicyConfig struct {
	// Paths lists .rego/.json files or directories with user policies.
	Paths []string `yaml:"paths"`

	// Watch reloads Paths when they change.
	Watch bool `yaml:"watch"`

	// MaxInputBytes is passed to policies as limits.max_input_bytes.
	// Zero means no limit.
	MaxInputBytes int64 `yaml:"max_input_bytes" validate:"min=0"`

	// Disabled skips policy evaluation entirely.
	Disabled bool `yaml:"disabled"`
}

// OutputConfig controls where results are delivered.
type OutputConfig struct {
	// Dir receives output files. Empty means the current directory.
	Dir string `yaml:"dir"`

	// Force allows overwriting existing files.
	Force bool `yaml:"force"`

	// NamingScript is a Starlark file defining output_name(operation, input).
	NamingScript string `yaml:"naming_script"`
}

// Default returns the built-in configuration.
func Default() *Config {
	data := dataDir()
	return &Config{
		Engine: host.Config{
			Module:           filepath.Join(data, "engine", "qpdf.wasm"),
			Program:          host.DefaultProgram,
			MemoryLimitPages: host.DefaultMemoryLimitPages,
			CacheDir:         filepath.Join(data, "cache"),
		},
		Store: StoreConfig{
			Config: stores.Config{Path: filepath.Join(data, "history.db")},
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// dataDir is $XDG_DATA_HOME/docstage, falling back to ~/.local/share/docstage.
func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "docstage")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "docstage")
	}
	return filepath.Join(os.TempDir(), "docstage")
}

// Load reads path over Default, applies environment overrides and
// validates the result. An empty path loads the defaults only. Relative
// paths inside the file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.resolvePaths(filepath.Dir(path))
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvEngineModule); v != "" {
		c.Engine.Module = v
	}
	if v := os.Getenv(EnvEngineManifest); v != "" {
		c.Engine.Manifest = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		c.Store.Path = v
	}
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p *string) {
		if *p != "" && *p != ":memory:" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&c.Engine.Module)
	resolve(&c.Engine.Manifest)
	resolve(&c.Engine.StagingDir)
	resolve(&c.Engine.CacheDir)
	resolve(&c.Store.Path)
	resolve(&c.Output.NamingScript)
	for i := range c.Policy.Paths {
		resolve(&c.Policy.Paths[i])
	}
}

// Validate checks struct constraints and the telemetry section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.Store.Disabled && c.Store.Path == "" {
		return fmt.Errorf("invalid config: store.path is required unless store.disabled is set")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

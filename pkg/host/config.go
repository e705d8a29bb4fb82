package host

// DefaultProgram is argv[0] passed to the engine module.
const DefaultProgram = "qpdf"

// DefaultMemoryLimitPages caps guest memory at 1 GiB (64 KiB pages).
const DefaultMemoryLimitPages = 16384

// DefaultSuccessExitCodes are the engine exit codes treated as success.
// qpdf exits with 3 when it completed with warnings.
var DefaultSuccessExitCodes = []uint32{0, 3}

// Config configures the WASM engine host.
type Config struct {
	// Manifest is the path to an engine manifest. When set, the module path,
	// checksum, program name and exit codes come from the manifest.
	Manifest string `yaml:"manifest"`

	// Module is the path to the engine WASM module, used without a manifest.
	Module string `yaml:"module" validate:"required_without=Manifest"`

	// Program is argv[0] for the engine.
	Program string `yaml:"program"`

	// MemoryLimitPages is the guest memory limit in 64 KiB pages.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" validate:"omitempty,min=1,max=65536"`

	// StagingDir is the host directory mounted as the guest's root. Empty
	// means a private temporary directory removed on Close.
	StagingDir string `yaml:"staging_dir"`

	// CacheDir enables the wazero compilation cache when set.
	CacheDir string `yaml:"cache_dir"`

	// SuccessExitCodes overrides DefaultSuccessExitCodes.
	SuccessExitCodes []uint32 `yaml:"success_exit_codes"`
}

// withDefaults returns a copy of c with zero fields filled in.
func (c Config) withDefaults() Config {
	if c.Program == "" {
		c.Program = DefaultProgram
	}
	if c.MemoryLimitPages == 0 {
		c.MemoryLimitPages = DefaultMemoryLimitPages
	}
	if len(c.SuccessExitCodes) == 0 {
		c.SuccessExitCodes = DefaultSuccessExitCodes
	}
	return c
}

// Package config loads the docstage configuration file.
//
// The file is YAML, decoded over Default() with unknown fields rejected, and
// validated with go-playground/validator struct tags:
//
//	engine:
//	  manifest: /opt/docstage/engine/manifest.yaml   # or module: qpdf.wasm
//	  memory_limit_pages: 16384
//	  staging_dir: ""        # private temp dir when empty
//	  cache_dir: ~/.local/share/docstage/cache
//	store:
//	  path: ~/.local/share/docstage/history.db
//	policy:
//	  paths: [/etc/docstage/policies]
//	  watch: false
//	  max_input_bytes: 104857600
//	output:
//	  dir: .
//	  force: false
//	  naming_script: naming.star
//	telemetry:
//	  logging: {level: info, format: console}
//
// Relative paths are resolved against the file's directory, except
// output.dir. DOCSTAGE_ENGINE_MODULE, DOCSTAGE_ENGINE_MANIFEST and
// DOCSTAGE_STORE_PATH override the file.
//
// # Naming scripts
//
// output.naming_script points at a Starlark file defining
// output_name(operation, input). The helpers prefix(operation), stem(name)
// and ext(name) are predeclared. Each call runs with an execution step
// limit, and names that are absolute or contain ".." are rejected.
package config

// Package host runs the document engine as a WASI module under wazero.
//
// The engine is compiled once and instantiated per invocation, like a
// process run, with a staging directory mounted as the guest's "/". That
// directory is also the engine.Filesystem used to stage inputs and read
// outputs, so virtual paths such as "/job-0-input.pdf" mean the same file to
// the host and to the guest.
//
// An engine build is described by a YAML manifest:
//
//	metadata:
//	  name: qpdf
//	  version: 11.9.1
//	entrypoint: qpdf.wasm
//	checksum: 5f2b...   # hex sha256, optional
//	program: qpdf
//	success_exit_codes: [0, 3]
package host

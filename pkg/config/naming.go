package config

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/docstage/docstage/pkg/engine"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// namingFunc is the Starlark function a naming script must define.
const namingFunc = "output_name"

// defaultMaxSteps bounds a single output_name call.
const defaultMaxSteps = 100_000

// NamingScript computes output file names with a Starlark function:
//
//	def output_name(operation, input):
//	    return prefix(operation) + stem(input) + ext(input)
//
// Returning "" or None keeps the default name.
type NamingScript struct {
	filename string
	fn       *starlark.Function
	maxSteps uint64
}

// LoadNamingScript reads and compiles a naming script file.
func LoadNamingScript(filename string) (*NamingScript, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read naming script: %w", err)
	}
	return CompileNamingScript(filename, string(src))
}

// CompileNamingScript executes src and looks up output_name.
func CompileNamingScript(filename, src string) (*NamingScript, error) {
	thread := newThread(filename, defaultMaxSteps)
	globals, err := starlark.ExecFile(thread, filename, src, predeclared())
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	v, ok := globals[namingFunc]
	if !ok {
		return nil, fmt.Errorf("%s does not define %s(operation, input)", filename, namingFunc)
	}
	fn, ok := v.(*starlark.Function)
	if !ok || fn.NumParams() != 2 {
		return nil, fmt.Errorf("%s must be a function of (operation, input)", namingFunc)
	}

	return &NamingScript{filename: filename, fn: fn, maxSteps: defaultMaxSteps}, nil
}

// Name returns the script's name for input, or "" to keep the default.
func (n *NamingScript) Name(kind engine.OperationKind, input string) (string, error) {
	thread := newThread(n.filename, n.maxSteps)
	v, err := starlark.Call(thread, n.fn, starlark.Tuple{starlark.String(kind), starlark.String(input)}, nil)
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", namingFunc, err)
	}

	if v == starlark.None {
		return "", nil
	}
	name, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("%s returned %s, want string", namingFunc, v.Type())
	}
	if name == "" {
		return "", nil
	}
	if err := checkName(name); err != nil {
		return "", err
	}
	return name, nil
}

// Namer adapts the script to engine.Namer. Script errors are logged and
// fall back to the default name.
func (n *NamingScript) Namer(logger zerolog.Logger) engine.Namer {
	return func(kind engine.OperationKind, input string) string {
		name, err := n.Name(kind, input)
		if err != nil {
			logger.Warn().Err(err).Str("input", input).Msg("Naming script failed, using default name")
			return ""
		}
		return name
	}
}

// checkName rejects names that would escape the output directory.
func checkName(name string) error {
	if strings.ContainsAny(name, "\\\x00") || path.IsAbs(name) {
		return fmt.Errorf("invalid output name %q", name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("invalid output name %q", name)
	}
	return nil
}

func newThread(name string, maxSteps uint64) *starlark.Thread {
	thread := &starlark.Thread{
		Name:  name,
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(maxSteps)
	return thread
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlarkstruct.Default,
		"prefix": starlark.NewBuiltin("prefix", builtinPrefix),
		"stem":   starlark.NewBuiltin("stem", builtinStem),
		"ext":    starlark.NewBuiltin("ext", builtinExt),
	}
}

// builtinPrefix returns the default output prefix of an operation, e.g.
// "encrypted-".
func builtinPrefix(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var op string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &op); err != nil {
		return nil, err
	}
	return starlark.String(engine.OutputPrefix(engine.OperationKind(op))), nil
}

// builtinStem returns the file name without directory and extension.
func builtinStem(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	base := path.Base(name)
	return starlark.String(strings.TrimSuffix(base, path.Ext(base))), nil
}

// builtinExt returns the extension including the dot.
func builtinExt(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	return starlark.String(path.Ext(name)), nil
}

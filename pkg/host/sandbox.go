package host

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// Sandbox is the host directory the engine sees as its filesystem root.
// Virtual paths such as "/job-0-input.pdf" resolve inside it; paths that
// escape the directory are rejected by os.Root.
type Sandbox struct {
	dir   string
	root  *os.Root
	owned bool
}

// NewSandbox opens dir as a sandbox, creating it if needed. An empty dir
// creates a private temporary directory that Close removes.
func NewSandbox(dir string) (*Sandbox, error) {
	owned := false
	if dir == "" {
		tmp, err := os.MkdirTemp("", "docstage-staging-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create staging directory: %w", err)
		}
		dir = tmp
		owned = true
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		if owned {
			_ = os.RemoveAll(dir)
		}
		return nil, fmt.Errorf("failed to open staging directory: %w", err)
	}

	return &Sandbox{dir: dir, root: root, owned: owned}, nil
}

// Dir returns the host directory backing the sandbox.
func (s *Sandbox) Dir() string {
	return s.dir
}

// name converts a virtual path to a name relative to the sandbox root.
func name(virtual string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+virtual), "/")
	if rel == "" {
		return "", fmt.Errorf("invalid staged path %q", virtual)
	}
	return rel, nil
}

// WriteFile implements engine.Filesystem.
func (s *Sandbox) WriteFile(virtual string, data []byte) error {
	n, err := name(virtual)
	if err != nil {
		return err
	}
	return s.root.WriteFile(n, data, 0o600)
}

// ReadFile implements engine.Filesystem.
func (s *Sandbox) ReadFile(virtual string) ([]byte, error) {
	n, err := name(virtual)
	if err != nil {
		return nil, err
	}
	return s.root.ReadFile(n)
}

// Exists implements engine.Filesystem.
func (s *Sandbox) Exists(virtual string) bool {
	n, err := name(virtual)
	if err != nil {
		return false
	}
	_, err = s.root.Stat(n)
	return err == nil
}

// Remove implements engine.Filesystem.
func (s *Sandbox) Remove(virtual string) error {
	n, err := name(virtual)
	if err != nil {
		return err
	}
	return s.root.Remove(n)
}

// Close releases the directory handle and removes an owned directory.
func (s *Sandbox) Close() error {
	err := s.root.Close()
	if s.owned {
		if rmErr := os.RemoveAll(s.dir); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove staging directory: %w", rmErr)
		}
	}
	return err
}

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
)

// memFS is an in-memory Filesystem that records writes and removals.
type memFS struct {
	mu       sync.Mutex
	files    map[string][]byte
	writes   []string
	removes  map[string]int
	writeErr error
	// removeErr fails Remove for existing paths.
	removeErr error
}

func newMemFS() *memFS {
	return &memFS{
		files:   make(map[string][]byte),
		removes: make(map[string]int),
	}
}

func (m *memFS) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, path)
	if m.writeErr != nil {
		return m.writeErr
	}
	m.files[path] = append([]byte(nil), data...)
	return nil
}

func (m *memFS) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (m *memFS) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

func (m *memFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removes[path]++
	if _, ok := m.files[path]; !ok {
		return fmt.Errorf("remove %s: %w", path, fs.ErrNotExist)
	}
	if m.removeErr != nil {
		return m.removeErr
	}
	delete(m.files, path)
	return nil
}

func (m *memFS) removeCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removes[path]
}

func (m *memFS) fileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// fakeEngine imitates the document engine over a memFS.
//
// Inputs that do not start with "%PDF" fail with a generic engine message.
// Inputs of the form "%PDF locked:<pw>" require --password=<pw> to decrypt.
// The output is the input prefixed with the operation flag.
type fakeEngine struct {
	fs *memFS

	// emptyOutput makes successful invocations write zero bytes.
	emptyOutput bool
	// noOutput makes successful invocations write nothing.
	noOutput bool
	// panicMsg makes Invoke panic.
	panicMsg string

	mu        sync.Mutex
	calls     [][]string
	active    int32
	maxActive int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{fs: newMemFS()}
}

func (f *fakeEngine) Filesystem() Filesystem { return f.fs }

func (f *fakeEngine) Invoke(_ context.Context, args []string) error {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		max := atomic.LoadInt32(&f.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxActive, max, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}

	in, err := f.fs.ReadFile(args[0])
	if err != nil {
		return &InvocationError{ExitCode: 2, Message: "qpdf: " + args[0] + ": can't find file"}
	}
	if !bytes.HasPrefix(in, []byte("%PDF")) {
		return &InvocationError{ExitCode: 2, Message: "qpdf: " + args[0] + ": not a PDF file"}
	}

	if pw, locked := strings.CutPrefix(string(in), "%PDF locked:"); locked {
		if !containsArg(args, "--password="+pw) {
			return &InvocationError{ExitCode: 2, Message: "qpdf: " + args[0] + ": invalid password"}
		}
	}

	out := args[len(args)-1]
	switch {
	case f.noOutput:
		return nil
	case f.emptyOutput:
		return f.fs.WriteFile(out, nil)
	default:
		return f.fs.WriteFile(out, append([]byte(args[1]+" "), in...))
	}
}

func (f *fakeEngine) lastCall() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func hasArgPrefix(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

// recordingNotifier collects progress messages.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	hidden   int
}

func (n *recordingNotifier) ShowProgress(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) HideProgress() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hidden++
}

// memRecorder is an in-memory JobRecorder.
type memRecorder struct {
	mu      sync.Mutex
	jobs    []JobRecord
	batches []BatchRecord
	err     error
}

func (r *memRecorder) RecordJob(_ context.Context, job JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return r.err
}

func (r *memRecorder) RecordBatch(_ context.Context, batch BatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return r.err
}

// listArchiver records entries and returns their names joined by newlines.
type listArchiver struct {
	entries []ArchiveEntry
	err     error
}

func (a *listArchiver) Package(entries []ArchiveEntry) ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	a.entries = append([]ArchiveEntry(nil), entries...)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return []byte(strings.Join(names, "\n")), nil
}

// denyGate rejects every operation.
type denyGate struct{}

func (denyGate) Check(context.Context, Operation, string, int) error {
	return (&OperationError{Kind: FailurePolicyDenied, Message: "denied by test policy"}).WithCode(ErrCodePolicy)
}

var errFactory = errors.New("wasm module missing")

func fixedFactory(eng Engine) Factory {
	return func(context.Context) (Engine, error) { return eng, nil }
}

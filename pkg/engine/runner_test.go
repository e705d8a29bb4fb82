package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func newTestRunner(eng Engine, opts ...RunnerOption) *Runner {
	return NewRunner(NewLifecycle(fixedFactory(eng)), opts...)
}

func assertCleanedUp(t *testing.T, fs *memFS, paths StagedPaths) {
	t.Helper()
	if fs.Exists(paths.Input) || fs.Exists(paths.Output) {
		t.Errorf("staged files left behind: input=%v output=%v", fs.Exists(paths.Input), fs.Exists(paths.Output))
	}
	if got := fs.removeCount(paths.Input); got != 1 {
		t.Errorf("input unlinked %d times, want 1", got)
	}
	if got := fs.removeCount(paths.Output); got != 1 {
		t.Errorf("output unlinked %d times, want 1", got)
	}
}

func TestRunner_Execute(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		op       Operation
		setup    func(*fakeEngine)
		wantKind FailureKind
		wantOut  string
	}{
		{
			name:    "linearize",
			input:   "%PDF doc",
			op:      Linearize{},
			wantOut: "--linearize %PDF doc",
		},
		{
			name:    "encrypt",
			input:   "%PDF doc",
			op:      Encrypt{UserPassword: "u", OwnerPassword: "o"},
			wantOut: "--encrypt %PDF doc",
		},
		{
			name:    "decrypt correct password",
			input:   "%PDF locked:secret",
			op:      Decrypt{Password: "secret"},
			wantOut: "--password=secret %PDF locked:secret",
		},
		{
			name:     "decrypt wrong password",
			input:    "%PDF locked:secret",
			op:       Decrypt{Password: "wrong"},
			wantKind: FailureBadPassword,
		},
		{
			name:     "remove restrictions missing password",
			input:    "%PDF locked:secret",
			op:       RemoveRestrictions{},
			wantKind: FailureBadPassword,
		},
		{
			name:     "not a document",
			input:    "hello",
			op:       Decrypt{Password: "p"},
			wantKind: FailureGeneric,
		},
		{
			name:     "empty output",
			input:    "%PDF doc",
			op:       Linearize{},
			setup:    func(f *fakeEngine) { f.emptyOutput = true },
			wantKind: FailureEmptyOutput,
		},
		{
			name:     "missing output",
			input:    "%PDF doc",
			op:       Linearize{},
			setup:    func(f *fakeEngine) { f.noOutput = true },
			wantKind: FailureEmptyOutput,
		},
		{
			name:     "engine panic",
			input:    "%PDF doc",
			op:       Linearize{},
			setup:    func(f *fakeEngine) { f.panicMsg = "unreachable executed" },
			wantKind: FailureGeneric,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			if tt.setup != nil {
				tt.setup(eng)
			}
			r := newTestRunner(eng)
			paths := NewStagedPaths("job", 0)

			out, err := r.Execute(context.Background(), Request{
				Operation: tt.op,
				Input:     []byte(tt.input),
				Paths:     paths,
			})

			assertCleanedUp(t, eng.fs, paths)

			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("Execute() error = %v", err)
				}
				if string(out) != tt.wantOut {
					t.Errorf("Execute() = %q, want %q", out, tt.wantOut)
				}
				return
			}

			if out != nil {
				t.Errorf("Execute() returned output %q on failure", out)
			}
			if got := KindOf(err); got != tt.wantKind {
				t.Errorf("KindOf(err) = %s, want %s (err = %v)", got, tt.wantKind, err)
			}
			var opErr *OperationError
			if errors.As(err, &opErr) && opErr.Operation != tt.op.Kind() {
				t.Errorf("Operation = %s, want %s", opErr.Operation, tt.op.Kind())
			}
		})
	}
}

func TestRunner_GenericFailureKeepsEngineMessage(t *testing.T) {
	eng := newFakeEngine()
	r := newTestRunner(eng)

	_, err := r.Run(context.Background(), Linearize{}, []byte("plain text"))

	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("error = %v, want *OperationError", err)
	}
	if !strings.Contains(opErr.RawMessage, "not a PDF file") {
		t.Errorf("RawMessage = %q", opErr.RawMessage)
	}
	if opErr.Code != ErrCodeInvocation {
		t.Errorf("Code = %s, want %s", opErr.Code, ErrCodeInvocation)
	}
	if eng.fs.fileCount() != 0 {
		t.Errorf("%d staged files left behind", eng.fs.fileCount())
	}
}

func TestRunner_EngineInitFailureStagesNothing(t *testing.T) {
	calls := 0
	r := NewRunner(NewLifecycle(func(context.Context) (Engine, error) {
		calls++
		return nil, errFactory
	}))

	for i := 0; i < 3; i++ {
		_, err := r.Run(context.Background(), Linearize{}, []byte("%PDF"))
		if !errors.Is(err, ErrEngineInit) {
			t.Fatalf("run %d: error = %v, want engine init failure", i, err)
		}
	}
	if calls != 1 {
		t.Errorf("factory called %d times, want 1", calls)
	}
}

func TestRunner_RejectedBeforeStaging(t *testing.T) {
	tests := []struct {
		name     string
		op       Operation
		opts     []RunnerOption
		wantKind FailureKind
	}{
		{"invalid options", Encrypt{}, nil, FailureInvalidOptions},
		{"policy denied", Linearize{}, []RunnerOption{WithPolicyGate(denyGate{})}, FailurePolicyDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			r := newTestRunner(eng, tt.opts...)

			_, err := r.Run(context.Background(), tt.op, []byte("%PDF"))
			if got := KindOf(err); got != tt.wantKind {
				t.Fatalf("KindOf(err) = %s, want %s", got, tt.wantKind)
			}
			if len(eng.fs.writes) != 0 {
				t.Errorf("staged %v before rejection", eng.fs.writes)
			}
			if eng.callCount() != 0 {
				t.Error("engine invoked after rejection")
			}
		})
	}
}

func TestRunner_SerializesInvocations(t *testing.T) {
	eng := newFakeEngine()
	r := newTestRunner(eng)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Run(context.Background(), Linearize{}, []byte("%PDF doc")); err != nil {
				t.Errorf("Run() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if eng.maxActive != 1 {
		t.Errorf("max concurrent invocations = %d, want 1", eng.maxActive)
	}
	if eng.fs.fileCount() != 0 {
		t.Errorf("%d staged files left behind", eng.fs.fileCount())
	}
}

func TestRunner_CancelledContextStillCompletes(t *testing.T) {
	eng := newFakeEngine()
	r := newTestRunner(eng)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := r.Run(ctx, Linearize{}, []byte("%PDF doc"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out) == 0 {
		t.Error("Run() returned no output")
	}
}

func TestRunner_ProgressAndHistory(t *testing.T) {
	eng := newFakeEngine()
	notifier := &recordingNotifier{}
	recorder := &memRecorder{}
	r := newTestRunner(eng, WithNotifier(notifier), WithJobRecorder(recorder))

	_, err := r.Execute(context.Background(), Request{
		Operation: Decrypt{Password: "wrong-secret"},
		Input:     []byte("%PDF locked:secret"),
		Name:      "statement.pdf",
	})
	if !IsBadPassword(err) {
		t.Fatalf("error = %v, want bad password", err)
	}

	want := []string{"Preparing document...", "Processing document...", "Finalizing..."}
	if strings.Join(notifier.messages, "|") != strings.Join(want, "|") {
		t.Errorf("progress = %q, want %q", notifier.messages, want)
	}
	if notifier.hidden != 1 {
		t.Errorf("HideProgress called %d times, want 1", notifier.hidden)
	}

	if len(recorder.jobs) != 1 {
		t.Fatalf("recorded %d jobs, want 1", len(recorder.jobs))
	}
	job := recorder.jobs[0]
	if job.Status != JobStatusFailed || job.FailureKind != FailureBadPassword {
		t.Errorf("job = %+v", job)
	}
	if job.InputName != "statement.pdf" || job.Operation != OperationDecrypt {
		t.Errorf("job = %+v", job)
	}
	if strings.Contains(job.Message, "wrong-secret") {
		t.Errorf("job message leaks password: %q", job.Message)
	}
}

func TestRunner_RecorderErrorIgnored(t *testing.T) {
	eng := newFakeEngine()
	recorder := &memRecorder{err: errors.New("database locked")}
	r := newTestRunner(eng, WithJobRecorder(recorder))

	if _, err := r.Run(context.Background(), Linearize{}, []byte("%PDF")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docstage/docstage/pkg/engine"
	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.New(nil).Level(zerolog.Disabled), opts...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{
		"max-input-size",
		"owner-password-recommended",
		"pdf-extension",
		"weak-key-length",
	}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, p := range policies {
		if p.Name != expected[i] {
			t.Errorf("policy[%d] = %s, want %s", i, p.Name, expected[i])
		}
		if !p.Builtin || !p.Enabled {
			t.Errorf("policy %s should be an enabled built-in", p.Name)
		}
	}
}

func policyNames(vs []Violation) []string {
	names := make([]string, 0, len(vs))
	for _, v := range vs {
		names = append(names, v.Policy)
	}
	return names
}

func TestEvaluate_Builtins(t *testing.T) {
	tests := []struct {
		name         string
		maxBytes     int64
		op           engine.Operation
		doc          string
		size         int
		wantAllowed  bool
		wantBlocking []string
		wantWarnings []string
	}{
		{
			name:        "linearize small pdf",
			maxBytes:    1000,
			op:          engine.Linearize{},
			doc:         "a.pdf",
			size:        10,
			wantAllowed: true,
		},
		{
			name:         "too large",
			maxBytes:     1000,
			op:           engine.Linearize{},
			doc:          "big.pdf",
			size:         1001,
			wantAllowed:  false,
			wantBlocking: []string{"max-input-size"},
		},
		{
			name:        "no limit configured",
			op:          engine.Decrypt{Password: "pw"},
			doc:         "big.pdf",
			size:        1 << 30,
			wantAllowed: true,
		},
		{
			name:         "encrypt 128 without owner",
			op:           engine.Encrypt{UserPassword: "u", KeyLength: 128},
			doc:          "a.pdf",
			size:         10,
			wantAllowed:  true,
			wantWarnings: []string{"owner-password-recommended", "weak-key-length"},
		},
		{
			name:         "encrypt owner equals user",
			op:           engine.Encrypt{UserPassword: "u", OwnerPassword: "u"},
			doc:          "a.pdf",
			size:         10,
			wantAllowed:  true,
			wantWarnings: []string{"owner-password-recommended"},
		},
		{
			name:        "encrypt 256 with owner",
			op:          engine.Encrypt{UserPassword: "u", OwnerPassword: "o"},
			doc:         "a.PDF",
			size:        10,
			wantAllowed: true,
		},
		{
			name:         "odd extension",
			op:           engine.Linearize{},
			doc:          "scan.bin",
			size:         10,
			wantAllowed:  true,
			wantWarnings: []string{"pdf-extension"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, WithMaxInputBytes(tt.maxBytes))
			result, err := eng.Evaluate(context.Background(), eng.BuildInput(tt.op, tt.doc, tt.size))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}

			if result.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", result.Allowed, tt.wantAllowed)
			}
			if got := strings.Join(policyNames(result.Violations), ","); got != strings.Join(tt.wantBlocking, ",") {
				t.Errorf("violations = %s, want %s", got, strings.Join(tt.wantBlocking, ","))
			}
			if got := strings.Join(policyNames(result.Warnings), ","); got != strings.Join(tt.wantWarnings, ",") {
				t.Errorf("warnings = %s, want %s", got, strings.Join(tt.wantWarnings, ","))
			}
			if len(result.EvaluatedPolicies) != 4 {
				t.Errorf("evaluated %d policies, want 4", len(result.EvaluatedPolicies))
			}
		})
	}
}

func TestBuildInput_NoPasswords(t *testing.T) {
	eng := newTestEngine(t)
	in := eng.BuildInput(engine.Encrypt{UserPassword: "secret-u", OwnerPassword: "secret-o", KeyLength: 128}, "a.pdf", 5)

	if in.Operation.Kind != "encrypt" || in.Operation.KeyLength != 128 {
		t.Errorf("unexpected operation input: %+v", in.Operation)
	}
	if !in.Operation.HasUserPassword || !in.Operation.HasOwnerPassword || !in.Operation.DistinctOwner {
		t.Errorf("password flags not set: %+v", in.Operation)
	}

	in = eng.BuildInput(engine.RemoveRestrictions{}, "a.pdf", 5)
	if in.Operation.HasPassword {
		t.Error("expected HasPassword false for empty password")
	}
	in = eng.BuildInput(engine.Encrypt{UserPassword: "u"}, "a.pdf", 5)
	if in.Operation.KeyLength != engine.DefaultKeyLength {
		t.Errorf("KeyLength = %d, want default", in.Operation.KeyLength)
	}
}

func TestCheck(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	eng := newTestEngine(t,
		WithMaxInputBytes(100),
		WithViolationHandler(func(op engine.OperationKind, v Violation) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, string(op)+":"+v.Policy)
		}),
	)
	ctx := context.Background()

	if err := eng.Check(ctx, engine.Linearize{}, "ok.pdf", 10); err != nil {
		t.Fatalf("Check() on allowed input = %v", err)
	}

	err := eng.Check(ctx, engine.Linearize{}, "big.pdf", 101)
	if !errors.Is(err, engine.ErrPolicyDenied) {
		t.Fatalf("Check() error = %v, want policy denied", err)
	}
	var opErr *engine.OperationError
	if !errors.As(err, &opErr) {
		t.Fatal("expected *engine.OperationError")
	}
	if opErr.Code != engine.ErrCodePolicy {
		t.Errorf("Code = %s, want %s", opErr.Code, engine.ErrCodePolicy)
	}
	if !strings.Contains(opErr.Message, "big.pdf is 101 bytes") {
		t.Errorf("unexpected message %q", opErr.Message)
	}

	if err := eng.Check(ctx, engine.Encrypt{UserPassword: "u", KeyLength: 128}, "a.pdf", 10); err != nil {
		t.Fatalf("warnings must not block: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"linearize:max-input-size",
		"encrypt:owner-password-recommended",
		"encrypt:weak-key-length",
	}
	if strings.Join(seen, " ") != strings.Join(want, " ") {
		t.Errorf("handler saw %v, want %v", seen, want)
	}
}

func TestCheck_CancelledContext(t *testing.T) {
	eng := newTestEngine(t, WithMaxInputBytes(100))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := eng.Check(ctx, engine.Linearize{}, "big.pdf", 500)
	if !errors.Is(err, engine.ErrPolicyDenied) {
		t.Errorf("Check() on cancelled context = %v, want policy denied", err)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t, WithMaxInputBytes(10))
	ctx := context.Background()

	if err := eng.DisablePolicy("max-input-size"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	p, _ := eng.GetPolicy("max-input-size")
	if p.Enabled {
		t.Error("Policy should be disabled")
	}
	if err := eng.Check(ctx, engine.Linearize{}, "big.pdf", 50); err != nil {
		t.Errorf("disabled policy still blocks: %v", err)
	}

	if err := eng.EnablePolicy("max-input-size"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	if err := eng.Check(ctx, engine.Linearize{}, "big.pdf", 50); err == nil {
		t.Error("enabled policy should block")
	}

	if err := eng.EnablePolicy("nonexistent"); err == nil {
		t.Error("Expected error for non-existent policy")
	}
	if _, err := eng.GetPolicy("nonexistent"); err == nil {
		t.Error("Expected error for non-existent policy")
	}
}

const userPolicy = `package docstage.user.nolinearize

import rego.v1

deny contains violation if {
	input.operation.kind == "linearize"
	startswith(input.document.name, "archive-")
	violation := {"message": "archived documents stay as they are", "severity": "critical"}
}
`

func TestLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "no-linearize.rego"), []byte(userPolicy), 0o644); err != nil {
		t.Fatal(err)
	}

	eng := newTestEngine(t)
	ctx := context.Background()
	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	if len(eng.ListPolicies()) != 5 {
		t.Errorf("expected 5 policies, got %d", len(eng.ListPolicies()))
	}

	err := eng.Check(ctx, engine.Linearize{}, "archive-2020.pdf", 10)
	if !errors.Is(err, engine.ErrPolicyDenied) {
		t.Errorf("expected user policy to deny, got %v", err)
	}
	if err := eng.Check(ctx, engine.Linearize{}, "report.pdf", 10); err != nil {
		t.Errorf("unexpected denial: %v", err)
	}
}

func TestReplace(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	user := Policy{Name: "user-rule", Rego: userPolicy, Severity: SeverityError, Enabled: true}
	if err := eng.Replace(ctx, []Policy{user}); err != nil {
		t.Fatal(err)
	}

	broken := Policy{Name: "broken", Rego: "package broken\n deny contains x if {", Enabled: true}
	if err := eng.Replace(ctx, []Policy{broken}); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := eng.GetPolicy("user-rule"); err != nil {
		t.Error("failed replace must keep the previous set")
	}

	shadow := Policy{Name: "max-input-size", Rego: userPolicy, Enabled: true}
	if err := eng.Replace(ctx, []Policy{shadow}); err == nil {
		t.Error("expected error when shadowing a built-in")
	}

	if err := eng.Replace(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.GetPolicy("user-rule"); err == nil {
		t.Error("user policy should be gone")
	}
	if len(eng.ListPolicies()) != 4 {
		t.Errorf("built-ins must survive replace, got %d policies", len(eng.ListPolicies()))
	}
}

func TestWatch_Reload(t *testing.T) {
	dir := t.TempDir()

	reloaded := make(chan int, 4)
	eng := newTestEngine(t, WithReloadHandler(func(n int) { reloaded <- n }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader, err := eng.Watch(ctx, []string{dir})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer loader.StopWatching()

	if err := os.WriteFile(filepath.Join(dir, "no-linearize.rego"), []byte(userPolicy), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case n := <-reloaded:
		if n != 1 {
			t.Errorf("reloaded %d policies, want 1", n)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("policies were not reloaded")
	}

	if _, err := eng.GetPolicy("no-linearize"); err != nil {
		t.Errorf("watched policy not loaded: %v", err)
	}
}

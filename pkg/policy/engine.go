package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docstage/docstage/pkg/engine"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// ViolationHandler observes every violation found by Check.
type ViolationHandler func(op engine.OperationKind, v Violation)

// Engine evaluates Rego policies against document operations. It satisfies
// engine.PolicyGate.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	limits   LimitsInput

	onViolation ViolationHandler
	onReload    func(count int)
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxInputBytes sets limits.max_input_bytes. Zero disables the limit.
func WithMaxInputBytes(n int64) Option {
	return func(e *Engine) {
		e.limits.MaxInputBytes = n
	}
}

// WithViolationHandler sets a callback for violations found by Check.
func WithViolationHandler(h ViolationHandler) Option {
	return func(e *Engine) {
		e.onViolation = h
	}
}

// WithReloadHandler sets a callback run after a successful hot reload.
func WithReloadHandler(fn func(count int)) Option {
	return func(e *Engine) {
		e.onReload = fn
	}
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	builtin, err := compileAll(context.Background(), GetBuiltinPolicies())
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	e.policies = builtin

	e.logger.Debug().
		Int("count", len(builtin)).
		Msg("Built-in policies loaded")

	return e, nil
}

// Check implements engine.PolicyGate. Blocking violations become a
// policy_denied error; the rest are logged and passed to the violation
// handler.
func (e *Engine) Check(ctx context.Context, op engine.Operation, inputName string, inputSize int) error {
	// a started operation runs to completion
	result, err := e.Evaluate(context.WithoutCancel(ctx), e.BuildInput(op, inputName, inputSize))
	if err != nil {
		return err
	}

	for _, v := range result.Warnings {
		e.report(op.Kind(), v)
	}
	for _, v := range result.Violations {
		e.report(op.Kind(), v)
	}

	if result.Allowed {
		return nil
	}

	names := make([]string, 0, len(result.Violations))
	messages := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		names = append(names, v.Policy)
		messages = append(messages, v.Message)
	}

	return engine.NewPolicyDeniedError(strings.Join(messages, "; ")).
		WithOperation(op.Kind()).
		WithDetail("policies", names)
}

func (e *Engine) report(kind engine.OperationKind, v Violation) {
	ev := e.logger.Info()
	switch {
	case v.Severity.Blocking():
		ev = e.logger.Error()
	case v.Severity == SeverityWarning:
		ev = e.logger.Warn()
	}
	ev.Str("policy", v.Policy).
		Str("operation", string(kind)).
		Str("severity", string(v.Severity)).
		Str("document", v.Document).
		Msg(v.Message)

	if e.onViolation != nil {
		e.onViolation(kind, v)
	}
}

// BuildInput converts an operation into policy input. Passwords are reduced
// to presence flags.
func (e *Engine) BuildInput(op engine.Operation, inputName string, inputSize int) *Input {
	in := &Input{
		Operation: OperationInput{Kind: string(op.Kind())},
		Document:  DocumentInput{Name: inputName, Size: inputSize},
		Limits:    e.limits,
	}

	switch o := op.(type) {
	case engine.Encrypt:
		in.Operation.KeyLength = o.EffectiveKeyLength()
		in.Operation.HasUserPassword = o.UserPassword != ""
		in.Operation.HasOwnerPassword = o.OwnerPassword != ""
		in.Operation.DistinctOwner = o.DistinctOwner()
	case engine.Decrypt:
		in.Operation.HasPassword = o.Password != ""
	case engine.RemoveRestrictions:
		in.Operation.HasPassword = o.Password != ""
	}

	return in
}

// Evaluate evaluates all enabled policies against input.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Msg("Policy evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(startTime)

	e.logger.Debug().
		Str("document", input.Document.Name).
		Str("operation", input.Operation.Kind).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// evaluatePolicy evaluates a single compiled policy.
func evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		if denySet, ok := result.Expressions[0].Value.([]interface{}); ok {
			for _, d := range denySet {
				violations = append(violations, createViolation(cp.policy, d, input))
			}
		}
	}

	return violations, nil
}

// createViolation creates a Violation from a deny set member.
func createViolation(policy *Policy, result interface{}, input *Input) Violation {
	violation := Violation{
		Policy:     policy.Name,
		Document:   input.Document.Name,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if rem, ok := v["remediation"].(string); ok {
			violation.Remediation = rem
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compile parses a policy and prepares its deny query.
func compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}, nil
}

func compileAll(ctx context.Context, policies []Policy) (map[string]*compiledPolicy, error) {
	out := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		if _, dup := out[p.Name]; dup {
			return nil, fmt.Errorf("duplicate policy name: %s", p.Name)
		}
		cp, err := compile(ctx, &p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		out[p.Name] = cp
	}
	return out, nil
}

// LoadPolicies loads policy files and adds them to the built-in set.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.Replace(ctx, policies)
}

// Replace swaps the user policies for policies, keeping built-ins. On a
// compile error the current set is left untouched.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	compiled, err := compileAll(ctx, policies)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledPolicy, len(e.policies)+len(compiled))
	for name, cp := range e.policies {
		if cp.policy.Builtin {
			next[name] = cp
		}
	}
	for name, cp := range compiled {
		if existing, ok := next[name]; ok && existing.policy.Builtin {
			return fmt.Errorf("policy %s shadows a built-in policy", name)
		}
		next[name] = cp
	}
	e.policies = next

	e.logger.Info().
		Int("user", len(compiled)).
		Int("total", len(next)).
		Msg("Policies loaded successfully")

	return nil
}

// Watch reloads the user policies under paths whenever they change, until
// ctx is done.
func (e *Engine) Watch(ctx context.Context, paths []string) (*Loader, error) {
	loader := NewLoader(e.logger)
	err := loader.Watch(ctx, paths, func(policies []Policy) error {
		if err := e.Replace(ctx, policies); err != nil {
			return err
		}
		if e.onReload != nil {
			e.onReload(len(policies))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loader, nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	cp.policy.UpdatedAt = time.Now()
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")

	return nil
}

package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity deny the operation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are read from the
	// package's deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with docstage.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	Policy      string    `json:"policy"`
	Document    string    `json:"document,omitempty"`
	Message     string    `json:"message"`
	Severity    Severity  `json:"severity"`
	Remediation string    `json:"remediation,omitempty"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that don't block the operation.
	Warnings []Violation `json:"warnings,omitempty"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document passed to Rego as input.
type Input struct {
	Operation OperationInput `json:"operation"`
	Document  DocumentInput  `json:"document"`
	Limits    LimitsInput    `json:"limits"`
}

// OperationInput describes the requested operation. Passwords are reduced
// to presence flags.
type OperationInput struct {
	Kind             string `json:"kind"`
	KeyLength        int    `json:"key_length,omitempty"`
	HasUserPassword  bool   `json:"has_user_password"`
	HasOwnerPassword bool   `json:"has_owner_password"`
	DistinctOwner    bool   `json:"distinct_owner"`
	HasPassword      bool   `json:"has_password"`
}

// DocumentInput describes the input document.
type DocumentInput struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// LimitsInput carries configured limits. Zero means unlimited.
type LimitsInput struct {
	MaxInputBytes int64 `json:"max_input_bytes"`
}

// Bundle represents a collection of related policies in one JSON file.
type Bundle struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Policies    []Policy  `json:"policies"`
	CreatedAt   time.Time `json:"created_at"`
}

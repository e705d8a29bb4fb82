package engine

import (
	"errors"
	"fmt"
)

// FailureKind classifies why an operation failed.
type FailureKind string

const (
	// FailureEngineInit indicates the engine could not be created.
	// Fatal and not retryable for the lifetime of the process.
	FailureEngineInit FailureKind = "engine_init_failure"

	// FailureBadPassword indicates a wrong or missing password.
	// The user can correct it and retry.
	FailureBadPassword FailureKind = "bad_password"

	// FailureEmptyOutput indicates the engine produced no usable output.
	FailureEmptyOutput FailureKind = "empty_output"

	// FailureGeneric covers every other engine or staging failure.
	FailureGeneric FailureKind = "generic_failure"

	// FailureInvalidOptions indicates the operation options were rejected
	// before anything was staged.
	FailureInvalidOptions FailureKind = "invalid_options"

	// FailurePolicyDenied indicates a policy blocked the operation before
	// anything was staged.
	FailurePolicyDenied FailureKind = "policy_denied"

	// FailureCleanup labels cleanup failures in logs and metrics. It never
	// appears on a returned error.
	FailureCleanup FailureKind = "cleanup_failure"
)

// OperationError is the typed error returned by Lifecycle, Runner and
// BatchCoordinator.
// nolint:revive // OperationError is intentionally named to distinguish from engine messages
type OperationError struct {
	// Kind is the failure classification.
	Kind FailureKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Operation is the operation being performed, if known.
	Operation OperationKind `json:"operation,omitempty"`

	// RawMessage is the engine's original failure text, if any.
	RawMessage string `json:"raw_message,omitempty"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if cause := e.cause(); cause != "" {
		msg = fmt.Sprintf("%s: %s", msg, cause)
	}
	return msg
}

// cause returns the raw engine message or the wrapped error text.
func (e *OperationError) cause() string {
	if e.RawMessage != "" {
		return e.RawMessage
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Unwrap returns the underlying error for error chain inspection.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// Is matches another *OperationError of the same kind, so the sentinels
// below work with errors.Is.
func (e *OperationError) Is(target error) bool {
	t, ok := target.(*OperationError)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return e.Kind == t.Kind
}

// WithOperation adds operation context to an error.
func (e *OperationError) WithOperation(kind OperationKind) *OperationError {
	e.Operation = kind
	return e
}

// WithCode adds an error code to an error.
func (e *OperationError) WithCode(code string) *OperationError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *OperationError) WithDetail(key string, value interface{}) *OperationError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Retryable reports whether retrying with different input can succeed.
func (e *OperationError) Retryable() bool {
	return e.Kind != FailureEngineInit
}

// UserMessage returns text suitable for showing to the person running the
// operation.
func (e *OperationError) UserMessage() string {
	switch e.Kind {
	case FailureBadPassword:
		return "The password is incorrect or missing. Check it and try again."
	case FailureEmptyOutput:
		return "The operation finished but produced an empty document."
	case FailureEngineInit:
		return "The document engine could not be started. Check the engine installation."
	case FailureInvalidOptions, FailurePolicyDenied:
		return e.Message
	default:
		if cause := e.cause(); cause != "" {
			return fmt.Sprintf("%s: %s", e.Message, cause)
		}
		return e.Message
	}
}

// Sentinels for errors.Is.
var (
	ErrEngineInit     = &OperationError{Kind: FailureEngineInit}
	ErrBadPassword    = &OperationError{Kind: FailureBadPassword}
	ErrEmptyOutput    = &OperationError{Kind: FailureEmptyOutput}
	ErrGeneric        = &OperationError{Kind: FailureGeneric}
	ErrInvalidOptions = &OperationError{Kind: FailureInvalidOptions}
	ErrPolicyDenied   = &OperationError{Kind: FailurePolicyDenied}
)

// NewEngineInitError creates an engine initialization error.
func NewEngineInitError(err error) *OperationError {
	return &OperationError{
		Kind:    FailureEngineInit,
		Message: "engine initialization failed",
		Code:    ErrCodeEngineUnavailable,
		Err:     err,
	}
}

// NewBadPasswordError creates a bad password error carrying the raw engine text.
func NewBadPasswordError(raw string) *OperationError {
	return &OperationError{
		Kind:       FailureBadPassword,
		Message:    "incorrect password",
		RawMessage: raw,
	}
}

// NewEmptyOutputError creates an empty output error.
func NewEmptyOutputError(path string) *OperationError {
	return (&OperationError{
		Kind:    FailureEmptyOutput,
		Message: "engine produced no output",
	}).WithDetail("path", path)
}

// NewGenericError creates a generic failure.
func NewGenericError(message, raw string, err error) *OperationError {
	return &OperationError{
		Kind:       FailureGeneric,
		Message:    message,
		RawMessage: raw,
		Err:        err,
	}
}

// NewPolicyDeniedError creates a policy rejection.
func NewPolicyDeniedError(message string) *OperationError {
	return &OperationError{
		Kind:    FailurePolicyDenied,
		Message: message,
		Code:    ErrCodePolicy,
	}
}

// KindOf returns the FailureKind of err, or "" when err is nil or untyped.
func KindOf(err error) FailureKind {
	var e *OperationError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsBadPassword returns true if the error is classified as a bad password.
func IsBadPassword(err error) bool {
	return KindOf(err) == FailureBadPassword
}

// IsEngineInit returns true if the error is an engine initialization failure.
func IsEngineInit(err error) bool {
	return KindOf(err) == FailureEngineInit
}

// InvocationError is returned by an Engine when an invocation fails. Message
// is the engine's own diagnostic text.
type InvocationError struct {
	ExitCode int
	Message  string
}

// Error implements the error interface.
func (e *InvocationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("engine exited with code %d", e.ExitCode)
	}
	return e.Message
}

// BatchError is returned by BatchCoordinator.Run when no item succeeded.
type BatchError struct {
	Total int
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.Total == 0 {
		return "no files to process"
	}
	if e.Total == 1 {
		return "the file failed to process"
	}
	return fmt.Sprintf("all %d files failed to process", e.Total)
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeEngineUnavailable = "ENGINE_UNAVAILABLE"
	ErrCodeStaging           = "STAGING_FAILED"
	ErrCodeInvocation        = "INVOCATION_FAILED"
	ErrCodeArchive           = "ARCHIVE_FAILED"
	ErrCodePolicy            = "POLICY_DENIED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

package engine

import (
	"fmt"
	"time"
)

// OperationKind identifies an Operation variant.
type OperationKind string

const (
	// OperationEncrypt password-protects a document.
	OperationEncrypt OperationKind = "encrypt"

	// OperationDecrypt removes password protection using a known password.
	OperationDecrypt OperationKind = "decrypt"

	// OperationRemoveRestrictions strips permission restrictions.
	OperationRemoveRestrictions OperationKind = "remove_restrictions"

	// OperationLinearize rewrites a document for fast web view.
	OperationLinearize OperationKind = "linearize"
)

// DefaultKeyLength is the encryption key length used when none is set.
const DefaultKeyLength = 256

// Operation is a document operation. The set of variants is closed:
// Encrypt, Decrypt, RemoveRestrictions and Linearize.
type Operation interface {
	// Kind returns the variant identifier.
	Kind() OperationKind

	operation()
}

// Encrypt password-protects a document.
type Encrypt struct {
	// UserPassword is required to open the document.
	UserPassword string `json:"-" validate:"required"`

	// OwnerPassword grants full permissions. When empty or equal to
	// UserPassword no permission restrictions are applied.
	OwnerPassword string `json:"-"`

	// KeyLength is the encryption key length in bits (128 or 256).
	// Zero means DefaultKeyLength.
	KeyLength int `json:"key_length,omitempty" validate:"omitempty,oneof=128 256"`
}

// Kind implements Operation.
func (Encrypt) Kind() OperationKind { return OperationEncrypt }

func (Encrypt) operation() {}

// DistinctOwner reports whether an owner password different from the
// user password was supplied.
func (e Encrypt) DistinctOwner() bool {
	return e.OwnerPassword != "" && e.OwnerPassword != e.UserPassword
}

// EffectiveOwner returns the owner password, falling back to the user password.
func (e Encrypt) EffectiveOwner() string {
	if e.OwnerPassword == "" {
		return e.UserPassword
	}
	return e.OwnerPassword
}

// EffectiveKeyLength returns the key length, falling back to DefaultKeyLength.
func (e Encrypt) EffectiveKeyLength() int {
	if e.KeyLength == 0 {
		return DefaultKeyLength
	}
	return e.KeyLength
}

// Decrypt removes password protection.
type Decrypt struct {
	Password string `json:"-" validate:"required"`
}

// Kind implements Operation.
func (Decrypt) Kind() OperationKind { return OperationDecrypt }

func (Decrypt) operation() {}

// RemoveRestrictions strips permission restrictions. Password may be empty
// for documents without an open password.
type RemoveRestrictions struct {
	Password string `json:"-"`
}

// Kind implements Operation.
func (RemoveRestrictions) Kind() OperationKind { return OperationRemoveRestrictions }

func (RemoveRestrictions) operation() {}

// Linearize rewrites a document for fast web view.
type Linearize struct{}

// Kind implements Operation.
func (Linearize) Kind() OperationKind { return OperationLinearize }

func (Linearize) operation() {}

// OutputPrefix returns the file name prefix used for outputs of the given kind.
func OutputPrefix(kind OperationKind) string {
	switch kind {
	case OperationEncrypt:
		return "encrypted-"
	case OperationDecrypt:
		return "decrypted-"
	case OperationRemoveRestrictions:
		return "unrestricted-"
	case OperationLinearize:
		return "linearized-"
	default:
		return ""
	}
}

// OutputName returns the deterministic output file name for an input name.
func OutputName(kind OperationKind, inputName string) string {
	return OutputPrefix(kind) + inputName
}

// StagedPaths are the virtual paths used by one execution.
type StagedPaths struct {
	Input  string
	Output string
}

// NewStagedPaths returns paths unique to the namespace and index.
func NewStagedPaths(namespace string, index int) StagedPaths {
	return StagedPaths{
		Input:  fmt.Sprintf("/%s-%d-input.pdf", namespace, index),
		Output: fmt.Sprintf("/%s-%d-output.pdf", namespace, index),
	}
}

// IsZero reports whether no paths were set.
func (p StagedPaths) IsZero() bool {
	return p.Input == "" && p.Output == ""
}

// Request describes a single execution.
type Request struct {
	// Operation is the operation to perform.
	Operation Operation

	// Input is the raw input document.
	Input []byte

	// Name is the display name of the input, used for logs and history.
	Name string

	// Paths overrides the staged paths. Zero value means fresh paths.
	Paths StagedPaths

	// BatchID links the execution to a batch, if any.
	BatchID string
}

// BatchItem is one input of a batch.
type BatchItem struct {
	Name  string
	Input []byte
}

// ItemResult is the outcome of one batch item. Exactly one of Output and
// Err is set.
type ItemResult struct {
	Name       string
	OutputName string
	Output     []byte
	Err        error
}

// Succeeded reports whether the item produced output.
func (r ItemResult) Succeeded() bool {
	return r.Err == nil
}

// BatchResult aggregates a batch. SuccessCount+FailureCount == len(Items),
// and Archive is set iff SuccessCount > 0.
type BatchResult struct {
	ID           string
	Operation    OperationKind
	Items        []ItemResult
	SuccessCount int
	FailureCount int
	Archive      []byte
	ArchiveName  string
}

// Summary renders the counts for display, e.g. "3 succeeded, 1 failed".
func (r *BatchResult) Summary() string {
	return fmt.Sprintf("%d succeeded, %d failed", r.SuccessCount, r.FailureCount)
}

// JobStatus is the final status of a recorded execution.
type JobStatus string

const (
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JobRecord is the history entry for one execution. It never carries passwords.
type JobRecord struct {
	ID          string
	BatchID     string
	Operation   OperationKind
	InputName   string
	Status      JobStatus
	FailureKind FailureKind
	Message     string
	InputBytes  int
	OutputBytes int
	StartedAt   time.Time
	CompletedAt time.Time
}

// BatchRecord is the history entry for one batch.
type BatchRecord struct {
	ID           string
	Operation    OperationKind
	Total        int
	SuccessCount int
	FailureCount int
	ArchiveBytes int
	StartedAt    time.Time
	CompletedAt  time.Time
}

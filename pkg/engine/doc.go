// Package engine orchestrates document operations against an embedded,
// command-style document engine.
//
// # Overview
//
// The engine itself is a black box reached through a single synchronous
// contract: stage files into its virtual filesystem, invoke it with an
// argument vector, read the produced file back. This package owns
// everything around that call:
//
//  1. Lifecycle - lazily creates the single process-wide Engine and
//     memoizes it (or its initialization failure)
//  2. Staging - writes, reads and best-effort unlinks virtual paths
//  3. BuildArgs - turns a typed Operation into an ordered argument vector
//  4. Classifier - maps the engine's raw failure text to a FailureKind
//  5. Runner - stage, invoke, classify, read, clean up, for one operation
//  6. BatchCoordinator - runs many inputs sequentially and archives the
//     successful outputs
//
// # Operations
//
// Operation is a closed set of variants:
//
//   - Encrypt: user and owner passwords, key length
//   - Decrypt: password
//   - RemoveRestrictions: optional password
//   - Linearize: no options
//
// # Execution States
//
// A single execution moves through:
//
//	Init -> Staged -> Invoked -> (OutputRead | Failed) -> CleanedUp -> Terminal
//
// Cleanup always runs, including when the engine call panics. Cleanup
// failures are logged and counted but never replace the operation result.
//
// # Error Classification
//
// Every failure crossing the Runner boundary is an *OperationError:
//
//   - engine_init_failure: the engine could not be created; fatal for the process
//   - bad_password: the user can correct the input and retry
//   - empty_output: the engine reported success but produced nothing
//   - generic_failure: anything else, carrying the raw engine message
//   - invalid_options / policy_denied: rejected before anything was staged
//
// Use errors.Is with the sentinels or KindOf to inspect them:
//
//	out, err := runner.Run(ctx, engine.Decrypt{Password: pw}, input)
//	if errors.Is(err, engine.ErrBadPassword) {
//	    // prompt again
//	}
//
// # Thread Safety
//
// The underlying engine is not reentrant. Runner serializes executions with
// a mutex and batches are processed sequentially.
package engine

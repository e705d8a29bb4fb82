package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/docstage/docstage/pkg/engine"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by all commands.
type globalOptions struct {
	configPath string
	verbose    bool
	jsonOutput bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "docstage",
		Short: "docstage - password and linearization tools for PDF documents",
		Long: `docstage runs PDF documents through an embedded qpdf engine compiled
to WebAssembly. Documents are staged into a private sandbox, processed, and
the results written next to the inputs or into a zip archive.

Tools:
  - encrypt              add an open password (and optional owner password)
  - decrypt              remove the open password with a known password
  - remove-restrictions  strip printing/copying restrictions
  - linearize            optimize for fast web view

Passing several files runs them as a batch: every file is attempted, and
the successful results are delivered together in one zip archive.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newEncryptCommand(opts))
	rootCmd.AddCommand(newDecryptCommand(opts))
	rootCmd.AddCommand(newRemoveRestrictionsCommand(opts))
	rootCmd.AddCommand(newLinearizeCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newPoliciesCommand(opts))
	rootCmd.AddCommand(newEngineCommand(opts))
	rootCmd.AddCommand(newConfigCommand(opts))

	return rootCmd
}

// Describe renders err for the terminal, preferring the user-facing
// message of operation errors.
func Describe(err error) string {
	var opErr *engine.OperationError
	if errors.As(err, &opErr) {
		return opErr.UserMessage()
	}
	return err.Error()
}

// Exit codes.
const (
	exitFailure    = 1
	exitUsage      = 2
	exitBadPass    = 3
	exitEngineInit = 4
	exitPolicy     = 5
)

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	var usage *usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	switch engine.KindOf(err) {
	case engine.FailureBadPassword:
		return exitBadPass
	case engine.FailureEngineInit:
		return exitEngineInit
	case engine.FailurePolicyDenied:
		return exitPolicy
	case engine.FailureInvalidOptions:
		return exitUsage
	}
	return exitFailure
}

// usageError marks command line mistakes.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

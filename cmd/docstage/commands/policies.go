package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/docstage/docstage/pkg/engine"
	"github.com/docstage/docstage/pkg/policy"
	"github.com/spf13/cobra"
)

func newPoliciesCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List and try out operation policies",
		Long: `Policies are Rego modules evaluated before every operation. A policy
reports problems through its deny set; violations with severity error or
critical refuse the operation, the rest are logged as warnings.

Built-in policies are always loaded. Additional .rego or .json policies are
read from policy.paths in the configuration.`,
	}

	cmd.AddCommand(newPoliciesListCommand(opts))
	cmd.AddCommand(newPoliciesShowCommand(opts))
	cmd.AddCommand(newPoliciesCheckCommand(opts))

	return cmd
}

// withPolicies runs fn against the configured policy engine.
func withPolicies(cmd *cobra.Command, opts *globalOptions, fn func(pe *policy.Engine) error) error {
	a, err := newApp(cmd.Context(), opts, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	if a.policies == nil {
		return usagef("policies are disabled in the configuration")
	}
	return fn(a.policies)
}

func newPoliciesListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPolicies(cmd, opts, func(pe *policy.Engine) error {
				policies := pe.ListPolicies()
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), policies)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSEVERITY\tSOURCE\tDESCRIPTION")
				for _, p := range policies {
					source := p.Source
					if p.Builtin {
						source = "builtin"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Severity, source, p.Description)
				}
				return tw.Flush()
			})
		},
	}
}

func newPoliciesShowCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print a policy and its Rego source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPolicies(cmd, opts, func(pe *policy.Engine) error {
				p, err := pe.GetPolicy(args[0])
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), p)
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Name:        %s\n", p.Name)
				fmt.Fprintf(w, "Severity:    %s\n", p.Severity)
				fmt.Fprintf(w, "Description: %s\n", p.Description)
				if len(p.Tags) > 0 {
					fmt.Fprintf(w, "Tags:        %s\n", strings.Join(p.Tags, ", "))
				}
				fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(p.Rego))
				return nil
			})
		},
	}
}

func newPoliciesCheckCommand(opts *globalOptions) *cobra.Command {
	var (
		operation     string
		keyLength     int
		distinctOwner bool
	)

	cmd := &cobra.Command{
		Use:   "check FILE...",
		Short: "Evaluate policies against files without running the engine",
		Example: `  # Would a 128-bit encryption of these files be allowed?
  docstage policies check --operation encrypt --key-length 128 *.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := operationFromFlags(operation, keyLength, distinctOwner)
			if err != nil {
				return err
			}

			return withPolicies(cmd, opts, func(pe *policy.Engine) error {
				results := make(map[string]*policy.Result, len(args))
				denied := 0
				for _, path := range args {
					info, err := os.Stat(path)
					if err != nil {
						return fmt.Errorf("failed to read input: %w", err)
					}
					res, err := pe.Evaluate(cmd.Context(), pe.BuildInput(op, filepath.Base(path), int(info.Size())))
					if err != nil {
						return err
					}
					results[path] = res
					if !res.Allowed {
						denied++
					}
				}

				if opts.jsonOutput {
					if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
						return err
					}
				} else {
					printPolicyResults(cmd, args, results)
				}

				if denied > 0 {
					return engine.NewPolicyDeniedError(fmt.Sprintf("%d of %d files would be refused", denied, len(args))).
						WithOperation(op.Kind())
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&operation, "operation", string(engine.OperationEncrypt), "operation to check (encrypt, decrypt, remove-restrictions, linearize)")
	cmd.Flags().IntVar(&keyLength, "key-length", engine.DefaultKeyLength, "encryption key length for encrypt")
	cmd.Flags().BoolVar(&distinctOwner, "distinct-owner", false, "assume a separate owner password for encrypt")

	return cmd
}

// operationFromFlags builds a stand-in operation for policy evaluation.
// Policies only see whether passwords are present, so fixed placeholders
// are used.
func operationFromFlags(name string, keyLength int, distinctOwner bool) (engine.Operation, error) {
	switch engine.OperationKind(strings.ReplaceAll(name, "-", "_")) {
	case engine.OperationEncrypt:
		op := engine.Encrypt{UserPassword: "user", KeyLength: keyLength}
		if distinctOwner {
			op.OwnerPassword = "owner"
		}
		return op, nil
	case engine.OperationDecrypt:
		return engine.Decrypt{Password: "password"}, nil
	case engine.OperationRemoveRestrictions:
		return engine.RemoveRestrictions{}, nil
	case engine.OperationLinearize:
		return engine.Linearize{}, nil
	}
	return nil, usagef("unknown operation %q", name)
}

func printPolicyResults(cmd *cobra.Command, paths []string, results map[string]*policy.Result) {
	w := cmd.OutOrStdout()
	for _, path := range paths {
		res := results[path]
		verdict := "allowed"
		if !res.Allowed {
			verdict = "refused"
		}
		fmt.Fprintf(w, "%s: %s\n", path, verdict)
		for _, v := range res.Violations {
			fmt.Fprintf(w, "  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
		}
		for _, v := range res.Warnings {
			fmt.Fprintf(w, "  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(w, "  [error] %s\n", e)
		}
	}
}

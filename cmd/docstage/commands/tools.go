package commands

import (
	"os"

	"github.com/docstage/docstage/pkg/engine"
	"github.com/spf13/cobra"
)

// Environment variables read when a password flag is not given. Passwords
// on the command line end up in shell history.
const (
	envUserPassword  = "DOCSTAGE_USER_PASSWORD"
	envOwnerPassword = "DOCSTAGE_OWNER_PASSWORD"
	envPassword      = "DOCSTAGE_PASSWORD"
)

// passwordFlag resolves a password from its flag, falling back to env.
func passwordFlag(cmd *cobra.Command, name, value, env string) string {
	if cmd.Flags().Changed(name) {
		return value
	}
	return os.Getenv(env)
}

func newEncryptCommand(opts *globalOptions) *cobra.Command {
	var (
		out           outputOptions
		userPassword  string
		ownerPassword string
		keyLength     int
	)

	cmd := &cobra.Command{
		Use:   "encrypt FILE...",
		Short: "Password-protect documents",
		Long: `Encrypt documents with an open password.

Without an owner password, or with an owner password equal to the open
password, no permission restrictions are applied. A distinct owner password
restricts printing, copying and modification to holders of that password.

Passwords may also be given through DOCSTAGE_USER_PASSWORD and
DOCSTAGE_OWNER_PASSWORD.`,
		Example: `  # Encrypt one document
  docstage encrypt report.pdf --user-password s3cret

  # Restrict permissions with a separate owner password
  docstage encrypt report.pdf --user-password s3cret --owner-password admin

  # Encrypt several documents into one zip archive
  docstage encrypt a.pdf b.pdf --user-password s3cret -o protected.zip`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := engine.Encrypt{
				UserPassword:  passwordFlag(cmd, "user-password", userPassword, envUserPassword),
				OwnerPassword: passwordFlag(cmd, "owner-password", ownerPassword, envOwnerPassword),
				KeyLength:     keyLength,
			}
			if op.UserPassword == "" {
				return usagef("a user password is required (--user-password or %s)", envUserPassword)
			}
			return runTool(cmd, opts, &out, op, args)
		},
	}

	cmd.Flags().StringVar(&userPassword, "user-password", "", "password required to open the document")
	cmd.Flags().StringVar(&ownerPassword, "owner-password", "", "password granting full permissions")
	cmd.Flags().IntVar(&keyLength, "key-length", engine.DefaultKeyLength, "encryption key length in bits (128 or 256)")
	out.register(cmd)

	return cmd
}

func newDecryptCommand(opts *globalOptions) *cobra.Command {
	var (
		out      outputOptions
		password string
	)

	cmd := &cobra.Command{
		Use:   "decrypt FILE...",
		Short: "Remove the open password from documents",
		Long: `Decrypt documents using their known password.

The password may also be given through DOCSTAGE_PASSWORD. A wrong password
is reported as such and exits with status 3.`,
		Example: `  # Decrypt one document
  docstage decrypt statement.pdf --password s3cret

  # Decrypt several documents sharing a password
  DOCSTAGE_PASSWORD=s3cret docstage decrypt jan.pdf feb.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := engine.Decrypt{Password: passwordFlag(cmd, "password", password, envPassword)}
			if op.Password == "" {
				return usagef("a password is required (--password or %s)", envPassword)
			}
			return runTool(cmd, opts, &out, op, args)
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "document password")
	out.register(cmd)

	return cmd
}

func newRemoveRestrictionsCommand(opts *globalOptions) *cobra.Command {
	var (
		out      outputOptions
		password string
	)

	cmd := &cobra.Command{
		Use:   "remove-restrictions FILE...",
		Short: "Strip printing and copying restrictions",
		Long: `Remove permission restrictions from documents.

Documents that open without a password need no --password. For documents
with an open password, give it with --password or DOCSTAGE_PASSWORD.`,
		Example: `  # Unlock a restricted form
  docstage remove-restrictions form.pdf

  # Unlock a document that also has an open password
  docstage remove-restrictions form.pdf --password s3cret`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := engine.RemoveRestrictions{Password: passwordFlag(cmd, "password", password, envPassword)}
			return runTool(cmd, opts, &out, op, args)
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "document password, if it has one")
	out.register(cmd)

	return cmd
}

func newLinearizeCommand(opts *globalOptions) *cobra.Command {
	var out outputOptions

	cmd := &cobra.Command{
		Use:     "linearize FILE...",
		Aliases: []string{"optimize"},
		Short:   "Optimize documents for fast web view",
		Long: `Linearize documents so viewers can display the first page before the
whole file has downloaded.`,
		Example: `  # Linearize a single document into ./out
  docstage linearize manual.pdf --output-dir out

  # Linearize everything in a directory into one archive
  docstage linearize docs/*.pdf -o web.zip`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd, opts, &out, engine.Linearize{}, args)
		},
	}

	out.register(cmd)

	return cmd
}

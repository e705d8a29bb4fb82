package commands

import (
	"fmt"
	"strings"

	"github.com/docstage/docstage/pkg/host"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// infoer is implemented by engines that can describe themselves.
type infoer interface {
	Info() host.Info
}

func newEngineCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Inspect the embedded document engine",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Load the engine and describe it",
		Long: `Load and compile the engine module exactly as a tool command would,
verifying its checksum when a manifest is configured, and print what was
loaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, appOptions{withEngine: true})
			if err != nil {
				return err
			}
			defer a.close()

			eng, err := a.lifecycle.Get(cmd.Context())
			if err != nil {
				return err
			}
			ie, ok := eng.(infoer)
			if !ok {
				return fmt.Errorf("engine does not report its details")
			}
			info := ie.Info()

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), info)
			}

			w := cmd.OutOrStdout()
			if info.Name != "" {
				fmt.Fprintf(w, "Name:          %s %s\n", info.Name, info.Version)
			}
			fmt.Fprintf(w, "Program:       %s\n", info.Program)
			fmt.Fprintf(w, "Module:        %s (%s)\n", info.ModulePath, humanize.Bytes(uint64(info.ModuleBytes)))
			fmt.Fprintf(w, "Checksum:      %s", info.Checksum)
			if info.Verified {
				fmt.Fprint(w, " (verified)")
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Memory limit:  %s\n", humanize.IBytes(uint64(info.MemoryLimitPages)*65536))
			codes := make([]string, 0, len(info.SuccessExitCodes))
			for _, c := range info.SuccessExitCodes {
				codes = append(codes, fmt.Sprint(c))
			}
			fmt.Fprintf(w, "Success codes: %s\n", strings.Join(codes, ", "))
			return nil
		},
	})

	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGCCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Retry deleting files left behind by merges",
		Args:  usage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := a.openBook(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Detach()

			report, err := b.RetryDeletions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.flags.jsonMode {
				return printJSON(out, report)
			}
			fmt.Fprintf(out, "%d removed, %d still pending\n", len(report.Removed), len(report.Failed))
			for _, fe := range report.Failed {
				fmt.Fprintf(out, "  %s: %v\n", fe.Path, fe.Err)
			}
			return nil
		},
	}
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uid>...",
		Short: "Delete contacts",
		Args:  usage(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := a.openBook(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Detach()

			for _, uid := range args {
				if err := b.Delete(cmd.Context(), uid); err != nil {
					return fmt.Errorf("delete %s: %w", uid, err)
				}
				if !a.flags.jsonMode {
					fmt.Fprintln(cmd.OutOrStdout(), "deleted", uid)
				}
			}
			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{"deleted": args})
			}
			return nil
		},
	}
}

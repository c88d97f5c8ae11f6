package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMergeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <canonical-uid> <uid>...",
		Short: "Merge duplicate contacts into the first one",
		Long: `Merge folds every other contact into the first, keeps the first UID,
and deletes the others. Donor files that cannot be deleted are queued;
run "addrbook gc" to retry them.`,
		Args: usage(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := a.openBook(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Detach()

			res, err := b.Merge(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.flags.jsonMode {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "merged into %s, %d deleted\n", res.Canonical, len(res.Deleted))
			for _, fe := range res.DeletionErrors {
				fmt.Fprintf(out, "  pending deletion: %s (%v)\n", fe.Path, fe.Err)
			}
			return nil
		},
	}
}

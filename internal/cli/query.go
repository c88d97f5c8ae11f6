package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/addrbook/pkg/types"
)

func newQueryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query <term>",
		Short: "Look up email addresses (mutt/aerc query format)",
		Long: `Query prints one line per email address of every contact whose name,
nickname or address matches term, as email<TAB>name<TAB>type. The first
line is a status message, which mail clients skip.`,
		Args: usage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			term := args[0]

			b, _, err := a.openBook(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Detach()

			matches, err := b.QueryEmails(cmd.Context(), term)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.flags.jsonMode {
				if matches == nil {
					matches = []types.EmailMatch{}
				}
				return printJSON(out, matches)
			}

			if len(matches) == 0 {
				fmt.Fprintf(out, "No matches for %q\n", term)
				return nil
			}
			fmt.Fprintf(out, "Found %d address(es) matching %q\n", len(matches), term)
			for _, m := range matches {
				kind := m.Type
				if kind == "" {
					kind = " "
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", m.Email, m.FN, kind)
			}
			return nil
		},
	}
}

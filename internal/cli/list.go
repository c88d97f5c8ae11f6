package cli

import (
	"context"
	"fmt"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/addrbook/internal/book"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// contactSource ranks contacts by display name.
type contactSource []types.ContactSummary

func (s contactSource) String(i int) string { return s[i].FN }
func (s contactSource) Len() int            { return len(s) }

// rankFuzzy returns the contacts whose display name fuzzily matches
// pattern, best match first.
func rankFuzzy(pattern string, all []types.ContactSummary) []types.ContactSummary {
	if pattern == "" {
		return all
	}
	matches := fuzzy.FindFrom(pattern, contactSource(all))
	out := make([]types.ContactSummary, 0, len(matches))
	for _, m := range matches {
		out = append(out, all[m.Index])
	}
	return out
}

func listContacts(ctx context.Context, b *book.Book, filter string, fuzzyMode bool) ([]types.ContactSummary, error) {
	if !fuzzyMode {
		return b.List(ctx, filter)
	}
	all, err := b.List(ctx, "")
	if err != nil {
		return nil, err
	}
	return rankFuzzy(filter, all), nil
}

func newListCmd(a *app) *cobra.Command {
	var fuzzyMode bool
	cmd := &cobra.Command{
		Use:   "list [filter]",
		Short: "List contacts",
		Long: `List contacts whose name, nickname, organization, email or phone contains
filter, ignoring case and accents. With --fuzzy, names are ranked by a
fuzzy match instead.`,
		Args: usage(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}

			b, _, err := a.openBook(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Detach()

			contacts, err := listContacts(cmd.Context(), b, filter, fuzzyMode)
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				if contacts == nil {
					contacts = []types.ContactSummary{}
				}
				return printJSON(cmd.OutOrStdout(), contacts)
			}
			for _, c := range contacts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.UID, c.FN)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fuzzyMode, "fuzzy", false, "rank names by fuzzy match")
	return cmd
}

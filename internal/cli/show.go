package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/addrbook/internal/vcard"
)

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <uid>",
		Short: "Print a contact",
		Long:  "Print the vCard of a contact, or with --json what the index holds for it.",
		Args:  usage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := a.openBook(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Detach()

			if a.flags.jsonMode {
				ir, err := b.Indexed(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ir)
			}
			rec, err := b.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(vcard.Render(rec))
			return err
		},
	}
}

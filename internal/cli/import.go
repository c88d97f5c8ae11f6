package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Import vCard files",
		Long: `Import adds every record in the given files ("-" reads stdin). Records
are upgraded to vCard 4.0 and given a UID when they lack one. A file is
imported whole or not at all.`,
		Args: usage(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := make([][]byte, len(args))
			for i, name := range args {
				var (
					data []byte
					err  error
				)
				if name == "-" {
					data, err = io.ReadAll(cmd.InOrStdin())
				} else {
					data, err = os.ReadFile(name)
				}
				if err != nil {
					return userError{fmt.Errorf("read %s: %w", name, err)}
				}
				inputs[i] = data
			}

			b, _, err := a.openBook(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Detach()

			var imported []string
			for i, data := range inputs {
				uids, err := b.Import(cmd.Context(), data)
				if err != nil {
					return fmt.Errorf("import %s: %w", args[i], err)
				}
				imported = append(imported, uids...)
			}

			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{"imported": imported})
			}
			for _, uid := range imported {
				fmt.Fprintln(cmd.OutOrStdout(), uid)
			}
			return nil
		},
	}
}

package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/addrbook/internal/paths"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init [vdir]",
		Short: "Initialize the address book",
		Long: `Write config.yaml if it is missing, create the record directory and the
index, normalize the directory, and index every record.`,
		Args: usage(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.flags.vdir = args[0]
			}
			cfg, err := a.bookConfig()
			if err != nil {
				return err
			}

			wrote, err := writeConfigIfMissing(a.configDir, cfg)
			if err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			b, report, err := a.openBook(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Detach()

			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Address book initialized")
			configPath := filepath.Join(a.configDir, paths.ConfigFileName)
			if wrote {
				configPath += " (created)"
			}
			fmt.Fprintln(out, "  config: ", configPath)
			fmt.Fprintln(out, "  records:", cfg.VDir)
			fmt.Fprintln(out, "  index:  ", cfg.DataDir)
			fmt.Fprintf(out, "  %d files indexed, %d need a manual upgrade\n",
				report.Index.Scanned, len(report.Normalize.NeedsUpgrade))
			return nil
		},
	}
}

package cli

import (
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/addrbook/internal/paths"
	"github.com/mesh-intelligence/addrbook/internal/sync"
	"github.com/mesh-intelligence/addrbook/internal/vdir"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

func newSyncCmd(a *app) *cobra.Command {
	var (
		mirror   string
		conflict string
		pullOnly bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the book with a mirror directory",
		Long: `Sync pulls changes from a mirror directory of vCard files, such as a
folder shared by a file sync tool, then pushes local changes back.
Records changed on both sides are resolved by sync.conflict: "ours"
keeps the local copy, "theirs" takes the mirror's.`,
		Args: usage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if mirror == "" {
				mirror = a.config.GetString(cfgKeySyncMirror)
			}
			if mirror == "" {
				return userError{fmt.Errorf("no mirror directory (use --mirror or set %s)", cfgKeySyncMirror)}
			}
			dir, err := paths.Abs(mirror)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("%w: creating mirror directory: %w", types.ErrIO, err)
			}

			b, _, err := a.openBook(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Detach()

			if conflict == "" {
				conflict = b.Config().Sync.Conflict
			}
			switch conflict {
			case "":
				conflict = sync.Ours
			case sync.Ours, sync.Theirs:
			default:
				return userError{fmt.Errorf("%w: %q", types.ErrConflictPrefUnknown, conflict)}
			}

			fs := osfs.New(dir)
			remote := sync.NewDirRemote(fs, vdir.NewWriter(fs, vdir.WithDirSync(vdir.OSDirSync(dir))))
			s := sync.NewSyncer(dir, remote, b, b, conflict, a.logger)
			res, err := s.Sync(cmd.Context(), pullOnly)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.flags.jsonMode {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "downloaded %d, uploaded %d, deleted %d local and %d remote, %d conflicts\n",
				len(res.Downloaded), len(res.Uploaded), len(res.DeletedLocal), len(res.DeletedRemote), len(res.Conflicts))
			for _, fe := range res.Errors {
				fmt.Fprintf(out, "  %s: %v\n", fe.Path, fe.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mirror, "mirror", "", "mirror directory (default: sync.mirror from config)")
	cmd.Flags().StringVar(&conflict, "conflict", "", "conflict preference, ours or theirs (default: sync.conflict)")
	cmd.Flags().BoolVar(&pullOnly, "pull-only", false, "only download changes")
	return cmd
}

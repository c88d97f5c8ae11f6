// Package cli implements the addrbook command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/addrbook/internal/book"
	"github.com/mesh-intelligence/addrbook/internal/paths"
	"github.com/mesh-intelligence/addrbook/pkg/addrbook"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	vdir      string
	reindex   bool
	jsonMode  bool
	logLevel  string
}

// app is the state shared by the commands of one root command.
type app struct {
	flags     rootFlags
	configDir string
	config    *viper.Viper
	logger    *slog.Logger

	// bookOpts are appended to the options of every opened book.
	bookOpts []book.Option
}

// NewRootCmd creates the top-level "addrbook" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "addrbook",
		Short: "A contact book kept as a directory of vCard files",
		Long: `addrbook keeps contacts as one vCard 4.0 file per record and maintains
a rebuildable SQLite index next to them for search.`,
		Version: addrbook.Version,
		// Do not print usage on errors returned by subcommands.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			configDir, err := paths.ResolveConfigDir(a.flags.configDir)
			if err != nil {
				return fmt.Errorf("resolve config dir: %w", err)
			}
			a.configDir = configDir
			a.config, err = loadConfig(configDir)
			if err != nil {
				return err
			}
			a.logger, err = newLogger(a.config, a.flags.logLevel, cmd.ErrOrStderr())
			return err
		},
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: $XDG_CONFIG_HOME/addrbook)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "index directory (default: $XDG_DATA_HOME/addrbook)")
	root.PersistentFlags().StringVar(&a.flags.vdir, "vdir", "", "directory of vCard files")
	root.PersistentFlags().BoolVar(&a.flags.reindex, "reindex", false, "reparse every file on startup")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return userError{err}
	})

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newIndexCmd(a))
	root.AddCommand(newListCmd(a))
	root.AddCommand(newShowCmd(a))
	root.AddCommand(newQueryCmd(a))
	root.AddCommand(newEditCmd(a))
	root.AddCommand(newImportCmd(a))
	root.AddCommand(newDeleteCmd(a))
	root.AddCommand(newMergeCmd(a))
	root.AddCommand(newGCCmd(a))
	root.AddCommand(newSyncCmd(a))

	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "addrbook:", err)
		return exitCode(err)
	}
	return exitSuccess
}

// userError marks an error caused by the invocation rather than the system.
type userError struct{ err error }

func (e userError) Error() string { return e.err.Error() }
func (e userError) Unwrap() error { return e.err }

// usage wraps a positional argument validator so its failures count as
// user errors.
func usage(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return userError{err}
		}
		return nil
	}
}

// userErrors are the sentinels that describe bad input or state the user
// can fix.
var userErrors = []error{
	types.ErrNotFound,
	types.ErrParse,
	types.ErrVersionMismatch,
	types.ErrReadOnly,
	types.ErrMergeTooFew,
	types.ErrDuplicateUID,
	types.ErrMissingUID,
	types.ErrIndexLocked,
	types.ErrVDirEmpty,
	types.ErrDataDirEmpty,
	types.ErrLabelPolicyUnknown,
	types.ErrConflictPrefUnknown,
	paths.ErrNoVDir,
}

// exitCode maps err to exitUserError or exitSysError.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ue userError
	if errors.As(err, &ue) {
		return exitUserError
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	if strings.HasPrefix(err.Error(), "unknown command") {
		return exitUserError
	}
	return exitSysError
}

// bookConfig assembles the book configuration from flags, config.yaml and
// the environment.
func (a *app) bookConfig() (types.Config, error) {
	v := a.config
	vdir, err := paths.ResolveVDir(a.flags.vdir, v.GetString(cfgKeyVDir))
	if err != nil {
		return types.Config{}, err
	}
	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg := types.Config{
		VDir:            vdir,
		DataDir:         dataDir,
		DisplayLanguage: v.GetString(cfgKeyDisplayLanguage),
		PhoneRegion:     v.GetString(cfgKeyPhoneRegion),
		Merge:           types.MergeConfig{LabelPolicy: v.GetString(cfgKeyLabelPolicy)},
		Sync:            types.SyncConfig{Conflict: v.GetString(cfgKeySyncConflict)},
	}
	return cfg, cfg.Validate()
}

// openBook attaches the configured book. The caller must Detach it.
func (a *app) openBook(ctx context.Context) (*book.Book, book.StartupReport, error) {
	cfg, err := a.bookConfig()
	if err != nil {
		return nil, book.StartupReport{}, err
	}
	opts := append([]book.Option{book.WithLogger(a.logger)}, a.bookOpts...)
	b, report, err := addrbook.Open(ctx, cfg, a.flags.reindex, opts...)
	if err != nil {
		return nil, report, fmt.Errorf("attach book: %w", err)
	}
	if n := len(report.Normalize.NeedsUpgrade); n > 0 {
		a.logger.Warn("records need a manual upgrade to vCard 4.0",
			"component", "cli",
			"action", "attach",
			"count", n,
		)
	}
	return b, report, nil
}

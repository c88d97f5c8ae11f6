package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/addrbook/internal/book"
	"github.com/mesh-intelligence/addrbook/internal/indexer"
	"github.com/mesh-intelligence/addrbook/internal/vdir"
)

const defaultDebounce = 500 * time.Millisecond

func newIndexCmd(a *app) *cobra.Command {
	var (
		rebuild  bool
		watch    bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Bring the search index up to date",
		Long: `Index rescans the record directory and updates the index for files that
changed. --rebuild drops the index first. --watch keeps running and
reindexes whenever record files change.`,
		Args: usage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, _, err := a.openBook(ctx)
			if err != nil {
				return err
			}
			defer b.Detach()

			var report indexer.Report
			if rebuild {
				report, err = b.Rebuild(ctx)
			} else {
				report, err = b.Reindex(ctx, false)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := a.printIndexReport(out, report); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchDirectory(ctx, b, b.Config().VDir, debounce, a.logger, func(r indexer.Report) {
				a.printIndexReport(out, r)
			})
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "drop the index and reparse every file")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep reindexing as files change")
	cmd.Flags().DurationVar(&debounce, "debounce", defaultDebounce, "quiet period before a watched change is indexed")
	return cmd
}

func (a *app) printIndexReport(w io.Writer, r indexer.Report) error {
	if a.flags.jsonMode {
		return printJSON(w, r)
	}
	fmt.Fprintf(w, "scanned %d, reindexed %d, removed %d, failed %d\n",
		r.Scanned, len(r.Reindexed), len(r.Removed), len(r.Failures))
	for _, fe := range r.Failures {
		fmt.Fprintf(w, "  %s: %v\n", fe.Path, fe.Err)
	}
	return nil
}

// watchDirectory reindexes b whenever a record file under root changes,
// until ctx is done. Events closer together than delay collapse into one
// pass.
func watchDirectory(ctx context.Context, b *book.Book, root string, delay time.Duration, logger *slog.Logger, onReport func(indexer.Report)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := addWatchDirs(w, root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}

	timer := time.NewTimer(delay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addWatchDirs(w, ev.Name); err != nil {
						logger.Warn("cannot watch new directory",
							"component", "cli",
							"action", "watch",
							"path", ev.Name,
							"error", err,
						)
					}
					continue
				}
			}
			if !isRecordFile(ev.Name) {
				continue
			}
			timer.Reset(delay)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error",
				"component", "cli",
				"action", "watch",
				"error", err,
			)

		case <-timer.C:
			report, err := b.Reindex(ctx, false)
			if err != nil {
				return err
			}
			onReport(report)
		}
	}
}

// addWatchDirs adds root and every non-hidden directory below it.
func addWatchDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func isRecordFile(name string) bool {
	base := filepath.Base(name)
	return !strings.HasPrefix(base, ".") && strings.EqualFold(filepath.Ext(base), vdir.RecordExt)
}

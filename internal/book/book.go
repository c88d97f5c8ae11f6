// Package book is the address book: the record directory, the cache
// derived from it, and every operation that changes either. Files are
// always written before the cache, so a crash between the two leaves the
// cache stale for one record until the next reindex.
package book

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/mesh-intelligence/addrbook/internal/indexer"
	"github.com/mesh-intelligence/addrbook/internal/merge"
	"github.com/mesh-intelligence/addrbook/internal/sqlite"
	"github.com/mesh-intelligence/addrbook/internal/vdir"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// Book is an attached address book. All methods are safe for concurrent
// use; they run one at a time.
type Book struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config

	fs      billy.Filesystem
	writer  *vdir.Writer
	store   *sqlite.Store
	lock    *sqlite.Lock
	indexer *indexer.Indexer
	engine  *merge.Engine

	logger *slog.Logger
	now    func() time.Time
	newUID func() string
	custom billy.Filesystem
}

// Option configures a Book.
type Option func(*Book)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Book) { b.logger = l }
}

// WithFilesystem makes the book work on fs instead of the on-disk vdir.
// Directory entries are not synced on such filesystems.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(b *Book) { b.custom = fs }
}

// WithClock sets the time source used for REV stamps.
func WithClock(now func() time.Time) Option {
	return func(b *Book) { b.now = now }
}

// WithUIDSource sets the generator for new record identifiers.
func WithUIDSource(fn func() string) Option {
	return func(b *Book) { b.newUID = fn }
}

// New returns a detached Book.
func New(opts ...Option) *Book {
	b := &Book{
		logger: slog.Default(),
		now:    time.Now,
		newUID: vdir.NewUID,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AttachOptions tune the startup sequence.
type AttachOptions struct {
	// ForceReindex reparses every file regardless of its cached hash.
	ForceReindex bool
}

// StartupReport summarizes Attach.
type StartupReport struct {
	Rebuilt   bool                 `json:"rebuilt"`
	Normalize vdir.NormalizeReport `json:"normalize"`
	// NormalizeErr is set when the normalization pass stopped early. The
	// book is still usable; the pass runs again on the next start.
	NormalizeErr error          `json:"-"`
	Index        indexer.Report `json:"index"`
}

// Attach opens the book described by cfg: take the directory lock, open
// the cache, normalize the directory unless its marker is present, then
// reindex. It returns types.ErrAlreadyAttached when called twice.
func (b *Book) Attach(ctx context.Context, cfg types.Config, opts AttachOptions) (StartupReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return StartupReport{}, types.ErrAlreadyAttached
	}
	if err := cfg.Validate(); err != nil {
		return StartupReport{}, err
	}

	lock, err := sqlite.AcquireLock(cfg.DataDir)
	if err != nil {
		return StartupReport{}, err
	}

	store, rebuilt, err := sqlite.OpenIndex(cfg.DataDir)
	if err != nil {
		lock.Release()
		return StartupReport{}, fmt.Errorf("opening index: %w", err)
	}
	if rebuilt {
		b.logger.Warn("index was unreadable and has been recreated",
			"component", "book",
			"action", "attach",
			"path", store.Path(),
		)
	}

	fs, writer, err := b.openDirectory(cfg.VDir)
	if err != nil {
		store.Close()
		lock.Release()
		return StartupReport{}, err
	}

	report := StartupReport{Rebuilt: rebuilt}

	normalizer := vdir.NewNormalizer(fs, writer, b.logger)
	normalizer.Now = b.now
	normalizer.NewUID = b.newUID
	report.Normalize, report.NormalizeErr = normalizer.Run(ctx, vdir.IsNormalized(fs))
	if report.NormalizeErr != nil {
		b.logger.Error("normalization incomplete",
			"component", "book",
			"action", "attach",
			"error", report.NormalizeErr,
		)
	}

	ix := indexer.New(fs, store, cfg.DisplayLanguage, b.logger)
	report.Index, err = ix.Reindex(ctx, opts.ForceReindex || rebuilt)
	if err != nil {
		store.Close()
		lock.Release()
		return report, fmt.Errorf("reindexing: %w", err)
	}

	engine := merge.NewEngine(merge.DefaultNormalizers(cfg.PhoneRegion), cfg.Merge.LabelPolicy)
	engine.Now = b.now

	b.config = cfg
	b.fs, b.writer, b.store, b.lock = fs, writer, store, lock
	b.indexer, b.engine = ix, engine
	b.attached = true

	b.logger.Info("address book attached",
		"component", "book",
		"action", "attach",
		"vdir", cfg.VDir,
		"data_dir", cfg.DataDir,
	)
	return report, nil
}

func (b *Book) openDirectory(root string) (billy.Filesystem, *vdir.Writer, error) {
	if b.custom != nil {
		return b.custom, vdir.NewWriter(b.custom), nil
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, nil, fmt.Errorf("%w: creating record directory: %w", types.ErrIO, err)
	}
	fs := osfs.New(root)
	return fs, vdir.NewWriter(fs, vdir.WithDirSync(vdir.OSDirSync(root))), nil
}

// Detach closes the cache and releases the directory lock.
func (b *Book) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrBookDetached
	}
	b.attached = false

	closeErr := b.store.Close()
	lockErr := b.lock.Release()
	b.store, b.lock, b.indexer, b.engine = nil, nil, nil, nil
	if closeErr != nil {
		return closeErr
	}
	return lockErr
}

// Config returns the configuration the book was attached with.
func (b *Book) Config() types.Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// Reindex rescans the directory. force reparses every file.
func (b *Book) Reindex(ctx context.Context, force bool) (indexer.Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return indexer.Report{}, types.ErrBookDetached
	}
	return b.indexer.Reindex(ctx, force)
}

// Rebuild drops every cached record and reindexes from scratch.
func (b *Book) Rebuild(ctx context.Context) (indexer.Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return indexer.Report{}, types.ErrBookDetached
	}
	if err := b.store.Reset(ctx); err != nil {
		return indexer.Report{}, err
	}
	return b.indexer.Reindex(ctx, true)
}

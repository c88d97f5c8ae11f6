package indexer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/go-git/go-billy/v5"

	"github.com/mesh-intelligence/addrbook/internal/sqlite"
	"github.com/mesh-intelligence/addrbook/internal/vcard"
	"github.com/mesh-intelligence/addrbook/internal/vdir"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// Report describes what a reindex pass did.
type Report struct {
	Scanned   int               `json:"scanned"`
	Reindexed []string          `json:"reindexed,omitempty"`
	Touched   []string          `json:"touched,omitempty"`
	Removed   []string          `json:"removed,omitempty"`
	Failures  []types.FileError `json:"failures,omitempty"`
}

// Indexer compares files with their cached state and refreshes the rows
// of those that changed.
type Indexer struct {
	fs     billy.Filesystem
	store  *sqlite.Store
	lang   string
	logger *slog.Logger
}

// New returns an Indexer reading records from fs into store. lang is the
// active display language.
func New(fs billy.Filesystem, store *sqlite.Store, lang string, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{fs: fs, store: store, lang: lang, logger: logger}
}

// Reindex brings the cache up to date with the directory. A file is
// reparsed when it has no row or its content hash changed; a changed mtime
// alone only refreshes the stored mtime. force reparses everything.
// Files that fail to read or parse are reported and keep their rows.
func (ix *Indexer) Reindex(ctx context.Context, force bool) (Report, error) {
	paths, err := vdir.ListRecordFiles(ix.fs)
	if err != nil {
		return Report{}, err
	}
	stored, err := ix.store.StoredStates(ctx)
	if err != nil {
		return Report{}, err
	}

	onDisk := make(map[string]bool, len(paths))
	for _, p := range paths {
		onDisk[p] = true
	}
	owner := make(map[string]string, len(stored))
	for path, st := range stored {
		if onDisk[path] {
			owner[st.UID] = path
		}
	}

	report := Report{Scanned: len(paths)}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		data, st, err := vdir.ReadFile(ix.fs, path)
		if err != nil {
			report.Failures = append(report.Failures, types.FileError{Path: path, Err: fmt.Errorf("%w: %w", types.ErrIO, err)})
			continue
		}

		prev, ok := stored[path]
		if !force && ok && bytes.Equal(prev.Hash, st.Hash) {
			if !prev.ModTime.Equal(st.ModTime) {
				if err := ix.store.TouchModTime(ctx, path, st.ModTime); err != nil {
					return report, err
				}
				report.Touched = append(report.Touched, path)
			}
			continue
		}

		rec, err := ix.parse(path, data)
		if err != nil {
			report.Failures = append(report.Failures, types.FileError{Path: path, Err: err})
			continue
		}
		uid := rec.UID()
		if other, taken := owner[uid]; taken && other != path {
			report.Failures = append(report.Failures, types.FileError{
				Path: path,
				Err:  fmt.Errorf("%w: %s already indexed from %s", types.ErrDuplicateUID, uid, other),
			})
			continue
		}

		if err := ix.store.Upsert(ctx, Derive(st, rec, ix.lang)); err != nil {
			return report, err
		}
		owner[uid] = path
		report.Reindexed = append(report.Reindexed, path)
	}

	report.Removed, err = ix.store.RemoveMissing(ctx, onDisk)
	if err != nil {
		return report, err
	}

	for _, f := range report.Failures {
		ix.logger.Warn("file not indexed",
			"component", "indexer",
			"action", "reindex",
			"path", f.Path,
			"error", f.Err,
		)
	}
	ix.logger.Info("reindex completed",
		"component", "indexer",
		"action", "reindex",
		"force", force,
		"scanned", report.Scanned,
		"reindexed", len(report.Reindexed),
		"touched", len(report.Touched),
		"removed", len(report.Removed),
		"failures", len(report.Failures),
	)
	return report, nil
}

// IndexFile refreshes the rows of one file without scanning the directory.
// It is used right after the file was written.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (types.IndexedRecord, error) {
	data, st, err := vdir.ReadFile(ix.fs, path)
	if err != nil {
		return types.IndexedRecord{}, fmt.Errorf("%w: %w", types.ErrIO, err)
	}
	rec, err := ix.parse(path, data)
	if err != nil {
		return types.IndexedRecord{}, err
	}
	ir := Derive(st, rec, ix.lang)
	if err := ix.store.Upsert(ctx, ir); err != nil {
		return types.IndexedRecord{}, err
	}
	ix.logger.Debug("file indexed",
		"component", "indexer",
		"action", "index_file",
		"path", path,
		"uid", ir.Item.UID,
	)
	return ir, nil
}

func (ix *Indexer) parse(path string, data []byte) (*vcard.Record, error) {
	recs, err := vcard.Parse(data)
	if err != nil {
		return nil, &types.ParseError{Path: path, Err: err}
	}
	if len(recs) > 1 {
		ix.logger.Warn("file holds several records, indexing the first",
			"component", "indexer",
			"action", "parse",
			"path", path,
			"records", len(recs),
		)
	}
	rec := recs[0]
	if rec.UID() == "" {
		return nil, fmt.Errorf("%w: %s", types.ErrMissingUID, path)
	}
	return rec, nil
}

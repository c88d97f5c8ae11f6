package book

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5/util"

	"github.com/mesh-intelligence/addrbook/internal/vcard"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// recordFile is a parsed record file. A file written outside the book may
// hold several records; only the first is indexed, but every mutation
// keeps the others.
type recordFile struct {
	path    string
	records []*vcard.Record
}

func (b *Book) loadRecordFile(path string) (*recordFile, error) {
	data, err := util.ReadFile(b.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", types.ErrIO, path, err)
	}
	records, err := vcard.Parse(data)
	if err != nil {
		return nil, &types.ParseError{Path: path, Err: err}
	}
	return &recordFile{path: path, records: records}, nil
}

// find returns the position of uid in the file, or -1.
func (f *recordFile) find(uid string) int {
	for i, rec := range f.records {
		if rec != nil && rec.UID() == uid {
			return i
		}
	}
	return -1
}

// drop marks the record at i as removed.
func (f *recordFile) drop(i int) {
	f.records[i] = nil
}

func (f *recordFile) remaining() []*vcard.Record {
	out := make([]*vcard.Record, 0, len(f.records))
	for _, rec := range f.records {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// readRecord loads the record for uid from the file the cache points at,
// together with that file and the record's position in it.
func (b *Book) readRecord(ctx context.Context, uid string) (*vcard.Record, *recordFile, int, error) {
	path, err := b.store.PathOf(ctx, uid)
	if err != nil {
		return nil, nil, -1, err
	}
	file, err := b.loadRecordFile(path)
	if err != nil {
		return nil, nil, -1, err
	}
	i := file.find(uid)
	if i < 0 {
		return nil, nil, -1, fmt.Errorf("%w: %s no longer holds %s", types.ErrNotFound, path, uid)
	}
	return file.records[i], file, i, nil
}

// saveRecordFile writes what is left of file back and reindexes it. A file
// with no records left is removed instead; removed reports that case.
func (b *Book) saveRecordFile(ctx context.Context, file *recordFile) (removed bool, err error) {
	rest := file.remaining()
	if len(rest) == 0 {
		if err := b.writer.Remove(file.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
		return true, nil
	}
	if err := b.writer.Write(file.path, vcard.RenderAll(rest)); err != nil {
		return false, err
	}
	if _, err := b.indexer.IndexFile(ctx, file.path); err != nil {
		if !errors.Is(err, types.ErrMissingUID) {
			return false, err
		}
		// The record now first in the file has no UID; it is picked up
		// once normalization assigns one.
		b.logger.Warn("rewritten file not indexed",
			"component", "book",
			"action", "save",
			"path", file.path,
			"error", err,
		)
	}
	return false, nil
}

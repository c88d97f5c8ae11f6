// Package vdir manages the directory of record files: crash-safe writes,
// enumeration with change-detection metadata, and the one-time
// normalization pass.
package vdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"

	"github.com/mesh-intelligence/addrbook/pkg/types"
)

const (
	filePerm        = 0o600
	dirPerm         = 0o755
	maxTempAttempts = 100
)

// Writer replaces files atomically: write a temp file next to the target,
// sync it, rename it over the target, then sync the directory.
type Writer struct {
	fs      billy.Filesystem
	dirSync func(dir string) error
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithDirSync sets the hook that flushes a directory entry after a rename
// or removal. Without it directory entries are not synced.
func WithDirSync(fn func(dir string) error) WriterOption {
	return func(w *Writer) { w.dirSync = fn }
}

// OSDirSync returns a directory sync hook for an on-disk filesystem rooted
// at root.
func OSDirSync(root string) func(dir string) error {
	return func(dir string) error {
		f, err := os.Open(filepath.Join(root, dir))
		if err != nil {
			return err
		}
		defer f.Close()
		return f.Sync()
	}
}

// NewWriter returns a Writer over fs.
func NewWriter(fs billy.Filesystem, opts ...WriterOption) *Writer {
	w := &Writer{fs: fs}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type syncer interface {
	Sync() error
}

// Write atomically replaces path with data. On any failure before the
// rename the target is untouched and the temp file is removed. A failed
// directory sync after the rename is reported, but the new content is
// already in place.
func (w *Writer) Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := w.fs.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("%w: creating directory %s: %w", types.ErrIO, dir, err)
		}
	}

	tmp, tmpName, err := w.createTemp(dir, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", types.ErrIO, err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		w.fs.Remove(tmpName)
		return fmt.Errorf("%w: writing temp file: %w", types.ErrIO, err)
	}
	if s, ok := tmp.(syncer); ok {
		if err := s.Sync(); err != nil {
			tmp.Close()
			w.fs.Remove(tmpName)
			return fmt.Errorf("%w: syncing temp file: %w", types.ErrIO, err)
		}
	}
	if err := tmp.Close(); err != nil {
		w.fs.Remove(tmpName)
		return fmt.Errorf("%w: closing temp file: %w", types.ErrIO, err)
	}
	if err := w.fs.Rename(tmpName, path); err != nil {
		w.fs.Remove(tmpName)
		return fmt.Errorf("%w: renaming temp file: %w", types.ErrIO, err)
	}
	return w.syncDir(dir)
}

// Remove deletes path and syncs its directory.
func (w *Writer) Remove(path string) error {
	if err := w.fs.Remove(path); err != nil {
		return fmt.Errorf("%w: removing %s: %w", types.ErrIO, path, err)
	}
	return w.syncDir(filepath.Dir(path))
}

func (w *Writer) syncDir(dir string) error {
	if w.dirSync == nil {
		return nil
	}
	if err := w.dirSync(dir); err != nil {
		return fmt.Errorf("%w: syncing directory %s: %w", types.ErrIO, dir, err)
	}
	return nil
}

// createTemp exclusively creates ".<base>.tmp", falling back to
// ".<base>.<n>.tmp" while names are taken.
func (w *Writer) createTemp(dir, base string) (billy.File, string, error) {
	for i := 0; i < maxTempAttempts; i++ {
		name := "." + base + ".tmp"
		if i > 0 {
			name = fmt.Sprintf(".%s.%d.tmp", base, i)
		}
		name = filepath.Join(dir, name)
		f, err := w.fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, filePerm)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free temp name for %s after %d attempts", base, maxTempAttempts)
}

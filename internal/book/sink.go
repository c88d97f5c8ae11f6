package book

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5/util"

	"github.com/mesh-intelligence/addrbook/internal/sqlite"
	"github.com/mesh-intelligence/addrbook/internal/vcard"
	"github.com/mesh-intelligence/addrbook/internal/vdir"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// LocalFiles returns the path and content hash of every record file.
func (b *Book) LocalFiles(ctx context.Context) ([]vdir.FileState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrBookDetached
	}
	paths, err := vdir.ListRecordFiles(b.fs)
	if err != nil {
		return nil, err
	}
	out := make([]vdir.FileState, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, st, err := vdir.ReadFile(b.fs, p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrIO, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// ReadFile returns the bytes of a record file.
func (b *Book) ReadFile(ctx context.Context, path string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrBookDetached
	}
	data, err := util.ReadFile(b.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", types.ErrIO, path, err)
	}
	return data, nil
}

// StoreFile writes a record received from elsewhere and indexes it. The
// record is upgraded to vCard 4.0 when possible and given a UID when it
// has none; otherwise the bytes are kept as received. An empty path
// reuses the file already holding the UID or picks a canonical name.
func (b *Book) StoreFile(ctx context.Context, path string, data []byte) (vdir.FileState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return vdir.FileState{}, types.ErrBookDetached
	}

	rec, err := vcard.ParseOne(data)
	if err != nil {
		return vdir.FileState{}, err
	}
	changed, err := vcard.Coerce(rec)
	if err != nil && !errors.Is(err, types.ErrVersionMismatch) {
		return vdir.FileState{}, err
	}
	if rec.UID() == "" {
		rec.SetUID(b.newUID())
		changed = true
	}

	if path == "" {
		path, err = b.store.PathOf(ctx, rec.UID())
		if errors.Is(err, types.ErrNotFound) {
			path, err = b.newRecordPath(rec.UID())
		}
		if err != nil {
			return vdir.FileState{}, err
		}
	}

	out := data
	if changed {
		out = vcard.Render(rec)
	}
	if err := b.writer.Write(path, out); err != nil {
		return vdir.FileState{}, err
	}
	ir, err := b.indexer.IndexFile(ctx, path)
	if err != nil {
		return vdir.FileState{}, err
	}
	return vdir.FileState{Path: path, Hash: ir.Item.Hash, ModTime: ir.Item.ModTime, Size: int64(len(out))}, nil
}

// RemoveFile deletes a record file and its cache rows. A missing file is
// not an error.
func (b *Book) RemoveFile(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrBookDetached
	}
	if err := b.writer.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return b.store.DeletePath(ctx, path)
}

// SyncStates returns the recorded sync states for remote.
func (b *Book) SyncStates(ctx context.Context, remote string) ([]sqlite.SyncState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrBookDetached
	}
	return b.store.SyncStates(ctx, remote)
}

// PutSyncState records a sync state.
func (b *Book) PutSyncState(ctx context.Context, st sqlite.SyncState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrBookDetached
	}
	return b.store.PutSyncState(ctx, st)
}

// DeleteSyncState forgets a sync state.
func (b *Book) DeleteSyncState(ctx context.Context, remote, href string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrBookDetached
	}
	return b.store.DeleteSyncState(ctx, remote, href)
}

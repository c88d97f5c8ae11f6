package book

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mesh-intelligence/addrbook/internal/vcard"
	"github.com/mesh-intelligence/addrbook/internal/vdir"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// List returns contacts matching filter, ordered by display name.
func (b *Book) List(ctx context.Context, filter string) ([]types.ContactSummary, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrBookDetached
	}
	return b.store.List(ctx, filter)
}

// QueryEmails returns the email addresses of contacts matching term.
func (b *Book) QueryEmails(ctx context.Context, term string) ([]types.EmailMatch, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrBookDetached
	}
	return b.store.QueryEmails(ctx, term)
}

// Get reads the record for uid from its file.
func (b *Book) Get(ctx context.Context, uid string) (*vcard.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrBookDetached
	}
	rec, _, _, err := b.readRecord(ctx, uid)
	return rec, err
}

// Indexed returns what the cache holds for uid.
func (b *Book) Indexed(ctx context.Context, uid string) (types.IndexedRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.IndexedRecord{}, types.ErrBookDetached
	}
	return b.store.Get(ctx, uid)
}

// Edit applies fn to a copy of the record for uid, stamps REV, writes the
// file back with any other records it holds, and refreshes that record's
// cache rows. Records that still need a
// format upgrade are refused with types.ErrReadOnly. fn must not change
// the UID.
func (b *Book) Edit(ctx context.Context, uid string, fn func(*vcard.Record) error) (*vcard.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil, types.ErrBookDetached
	}

	rec, file, i, err := b.readRecord(ctx, uid)
	if err != nil {
		return nil, err
	}
	if rec.Version() != vcard.Version4 {
		return nil, fmt.Errorf("%w: %s", types.ErrReadOnly, uid)
	}

	edited := rec.Clone()
	if err := fn(edited); err != nil {
		return nil, err
	}
	if edited.UID() != uid {
		return nil, fmt.Errorf("%w: edit changed the UID of %s", types.ErrMissingUID, uid)
	}
	edited.TouchRev(b.now())

	file.records[i] = edited
	if _, err := b.saveRecordFile(ctx, file); err != nil {
		return nil, err
	}

	b.logger.Info("record edited",
		"component", "book",
		"action", "edit",
		"uid", uid,
		"path", file.path,
	)
	return edited, nil
}

// Delete removes the record for uid, then its cache rows. The file is
// removed when it held nothing else; otherwise it is rewritten without the
// record and reindexed.
func (b *Book) Delete(ctx context.Context, uid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrBookDetached
	}

	path, err := b.store.PathOf(ctx, uid)
	if err != nil {
		return err
	}
	removed := true
	file, err := b.loadRecordFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return err
	default:
		i := file.find(uid)
		if i < 0 {
			removed = false
			break
		}
		file.drop(i)
		if removed, err = b.saveRecordFile(ctx, file); err != nil {
			return err
		}
	}
	if err := b.store.DeleteUIDs(ctx, uid); err != nil {
		return err
	}

	b.logger.Info("record deleted",
		"component", "book",
		"action", "delete",
		"uid", uid,
		"path", path,
		"file_removed", removed,
	)
	return nil
}

// Import adds every record in data to the book. Records are upgraded to
// vCard 4.0, given a UID when they lack one, and written under their
// canonical name. Nothing is written unless every record can be imported.
// It returns the UIDs in input order.
func (b *Book) Import(ctx context.Context, data []byte) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil, types.ErrBookDetached
	}

	records, err := vcard.Parse(data)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(records))
	for i, rec := range records {
		changed, err := vcard.Coerce(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		uid := rec.UID()
		if uid == "" {
			uid = b.newUID()
			rec.SetUID(uid)
			changed = true
		}
		if seen[uid] {
			return nil, fmt.Errorf("%w: %s appears twice", types.ErrDuplicateUID, uid)
		}
		seen[uid] = true
		if _, err := b.store.PathOf(ctx, uid); err == nil {
			return nil, fmt.Errorf("%w: %s", types.ErrDuplicateUID, uid)
		} else if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		if changed {
			rec.TouchRev(b.now())
		}
	}

	uids := make([]string, 0, len(records))
	for _, rec := range records {
		path, err := b.newRecordPath(rec.UID())
		if err != nil {
			return uids, err
		}
		if err := b.writer.Write(path, vcard.Render(rec)); err != nil {
			return uids, err
		}
		if _, err := b.indexer.IndexFile(ctx, path); err != nil {
			return uids, err
		}
		uids = append(uids, rec.UID())
	}

	b.logger.Info("records imported",
		"component", "book",
		"action", "import",
		"count", len(uids),
	)
	return uids, nil
}

// newRecordPath picks a free canonical file name at the directory root.
func (b *Book) newRecordPath(uid string) (string, error) {
	stem, err := vdir.CanonicalStem(vdir.IdentifierHex(uid), "", func(s string) bool {
		_, err := b.fs.Stat(s + vdir.RecordExt)
		return err == nil
	})
	if err != nil {
		return "", err
	}
	return stem + vdir.RecordExt, nil
}

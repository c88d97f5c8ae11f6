package book

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mesh-intelligence/addrbook/internal/vcard"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// MergeResult reports a merge. The merge succeeded even when
// DeletionErrors is not empty: those donor files are queued and removed by
// RetryDeletions.
type MergeResult struct {
	Canonical      string            `json:"canonical"`
	Deleted        []string          `json:"deleted"`
	DeletionErrors []types.FileError `json:"deletion_errors,omitempty"`
}

// Merge folds the records for uids[1:] into the record for uids[0]. The
// canonical file is written and indexed before any donor is removed. Other
// records sharing a file with the canonical record or a donor are kept.
func (b *Book) Merge(ctx context.Context, uids []string) (MergeResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return MergeResult{}, types.ErrBookDetached
	}

	uids = distinct(uids)
	if len(uids) < 2 {
		return MergeResult{}, fmt.Errorf("%w: got %d", types.ErrMergeTooFew, len(uids))
	}

	files := make(map[string]*recordFile)
	records := make([]*vcard.Record, len(uids))
	owners := make([]*recordFile, len(uids))
	slots := make([]int, len(uids))
	for i, uid := range uids {
		path, err := b.store.PathOf(ctx, uid)
		if err != nil {
			return MergeResult{}, err
		}
		file, ok := files[path]
		if !ok {
			if file, err = b.loadRecordFile(path); err != nil {
				return MergeResult{}, err
			}
			files[path] = file
		}
		slot := file.find(uid)
		if slot < 0 {
			return MergeResult{}, fmt.Errorf("%w: %s no longer holds %s", types.ErrNotFound, path, uid)
		}
		rec := file.records[slot]
		if rec.Version() != vcard.Version4 {
			return MergeResult{}, fmt.Errorf("%w: %s", types.ErrReadOnly, uid)
		}
		records[i], owners[i], slots[i] = rec, file, slot
	}

	res, err := b.engine.Merge(records)
	if err != nil {
		return MergeResult{}, err
	}

	// Donors living in the canonical file go away in the same write.
	canonical := owners[0]
	canonical.records[slots[0]] = res.Record
	var sameFile []string
	for i := 1; i < len(uids); i++ {
		if owners[i] == canonical {
			canonical.drop(slots[i])
			sameFile = append(sameFile, uids[i])
		}
	}
	if _, err := b.saveRecordFile(ctx, canonical); err != nil {
		return MergeResult{}, err
	}

	out := MergeResult{Canonical: uids[0]}
	if len(sameFile) > 0 {
		if err := b.store.DeleteUIDs(ctx, sameFile...); err != nil {
			return out, err
		}
		out.Deleted = append(out.Deleted, sameFile...)
	}

	// Each other donor file is saved once, after all its donors are dropped.
	var order []*recordFile
	donors := make(map[*recordFile][]string)
	for i := 1; i < len(uids); i++ {
		file := owners[i]
		if file == canonical {
			continue
		}
		if _, ok := donors[file]; !ok {
			order = append(order, file)
		}
		file.drop(slots[i])
		donors[file] = append(donors[file], uids[i])
	}
	for _, file := range order {
		gone := donors[file]
		removed, err := b.saveRecordFile(ctx, file)
		if err != nil {
			b.logger.Warn("donor not removed",
				"component", "book",
				"action", "merge",
				"uids", gone,
				"path", file.path,
				"error", err,
			)
			out.DeletionErrors = append(out.DeletionErrors, types.FileError{Path: file.path, Err: err})
			if len(file.remaining()) > 0 {
				// A failed rewrite leaves the donors in place and indexed.
				continue
			}
			for _, uid := range gone {
				if qerr := b.store.AddPendingDeletion(ctx, uid, file.path, err.Error()); qerr != nil {
					return out, qerr
				}
			}
			continue
		}
		if err := b.store.DeleteUIDs(ctx, gone...); err != nil {
			return out, err
		}
		out.Deleted = append(out.Deleted, gone...)
		b.logger.Debug("donor removed",
			"component", "book",
			"action", "merge",
			"uids", gone,
			"path", file.path,
			"file_removed", removed,
		)
	}

	b.logger.Info("records merged",
		"component", "book",
		"action", "merge",
		"canonical", out.Canonical,
		"deleted", len(out.Deleted),
		"pending", len(out.DeletionErrors),
	)
	return out, nil
}

// GCReport lists the outcome of RetryDeletions.
type GCReport struct {
	Removed []string          `json:"removed"`
	Failed  []types.FileError `json:"failed,omitempty"`
}

// RetryDeletions removes donor files that an earlier merge could not
// delete. Files already gone count as removed.
func (b *Book) RetryDeletions(ctx context.Context) (GCReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return GCReport{}, types.ErrBookDetached
	}

	pending, err := b.store.PendingDeletions(ctx)
	if err != nil {
		return GCReport{}, err
	}

	var report GCReport
	for _, d := range pending {
		if err := b.writer.Remove(d.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			report.Failed = append(report.Failed, types.FileError{Path: d.Path, Err: err})
			if qerr := b.store.AddPendingDeletion(ctx, d.UID, d.Path, err.Error()); qerr != nil {
				return report, qerr
			}
			continue
		}
		if err := b.store.DeletePath(ctx, d.Path); err != nil {
			return report, err
		}
		if err := b.store.ResolvePendingDeletion(ctx, d.ID); err != nil {
			return report, err
		}
		report.Removed = append(report.Removed, d.Path)
	}
	return report, nil
}

func distinct(uids []string) []string {
	seen := make(map[string]bool, len(uids))
	out := make([]string, 0, len(uids))
	for _, u := range uids {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

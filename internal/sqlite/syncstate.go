package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// SyncState is the last known agreement between a local file and a remote
// resource.
type SyncState struct {
	Remote     string
	Href       string
	Path       string
	ETag       string
	Hash       []byte
	LastSynced time.Time
}

// SyncStates returns every entry recorded for remote.
func (s *Store) SyncStates(ctx context.Context, remote string) ([]SyncState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT remote, href, path, etag, sha256, last_synced
		FROM sync_state WHERE remote = ? ORDER BY href`, remote)
	if err != nil {
		return nil, fmt.Errorf("querying sync state: %w", err)
	}
	defer rows.Close()

	var out []SyncState
	for rows.Next() {
		st, err := hydrateSyncState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SyncStateByHref returns the entry for one remote resource.
func (s *Store) SyncStateByHref(ctx context.Context, remote, href string) (SyncState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT remote, href, path, etag, sha256, last_synced
		FROM sync_state WHERE remote = ? AND href = ?`, remote, href)
	st, err := hydrateSyncState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncState{}, fmt.Errorf("%w: %s", types.ErrNotFound, href)
	}
	return st, err
}

// PutSyncState records st, replacing any entry for the same href or path.
func (s *Store) PutSyncState(ctx context.Context, st SyncState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", types.ErrTransaction, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_state WHERE remote = ? AND path = ? AND href <> ?`,
		st.Remote, st.Path, st.Href); err != nil {
		return fmt.Errorf("%w: clearing sync path %s: %w", types.ErrTransaction, st.Path, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_state (remote, href, path, etag, sha256, last_synced)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(remote, href) DO UPDATE SET
			path = excluded.path,
			etag = excluded.etag,
			sha256 = excluded.sha256,
			last_synced = excluded.last_synced`,
		st.Remote, st.Href, st.Path, st.ETag, st.Hash, st.LastSynced.UnixNano())
	if err != nil {
		return fmt.Errorf("%w: recording sync state %s: %w", types.ErrTransaction, st.Href, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", types.ErrTransaction, err)
	}
	return nil
}

// DeleteSyncState forgets one remote resource.
func (s *Store) DeleteSyncState(ctx context.Context, remote, href string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_state WHERE remote = ? AND href = ?`, remote, href); err != nil {
		return fmt.Errorf("%w: deleting sync state %s: %w", types.ErrTransaction, href, err)
	}
	return nil
}

func hydrateSyncState(row scanner) (SyncState, error) {
	var (
		st     SyncState
		synced int64
	)
	if err := row.Scan(&st.Remote, &st.Href, &st.Path, &st.ETag, &st.Hash, &synced); err != nil {
		return SyncState{}, err
	}
	st.LastSynced = time.Unix(0, synced)
	return st, nil
}

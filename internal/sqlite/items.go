package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// StoredState is the change-detection data cached for one file.
type StoredState struct {
	UID     string
	Hash    []byte
	ModTime time.Time
}

const itemColumns = "uid, path, fn, fn_norm, rev, has_photo, has_logo, sha256, mtime, lang_pref, read_only"

// Upsert replaces everything cached for rec in one transaction. Rows that
// claimed the same path under another UID are dropped first, so a file
// whose record changed identity does not leave a stale entry behind.
func (s *Store) Upsert(ctx context.Context, rec types.IndexedRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", types.ErrTransaction, err)
	}
	defer tx.Rollback()

	it := rec.Item
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE path = ? AND uid <> ?`, it.Path, it.UID); err != nil {
		return fmt.Errorf("%w: clearing path %s: %w", types.ErrTransaction, it.Path, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			path = excluded.path,
			fn = excluded.fn,
			fn_norm = excluded.fn_norm,
			rev = excluded.rev,
			has_photo = excluded.has_photo,
			has_logo = excluded.has_logo,
			sha256 = excluded.sha256,
			mtime = excluded.mtime,
			lang_pref = excluded.lang_pref,
			read_only = excluded.read_only`,
		it.UID, it.Path, it.FN, it.FNNorm, it.Rev, it.HasPhoto, it.HasLogo,
		it.Hash, it.ModTime.UnixNano(), it.LangPref, it.ReadOnly,
	)
	if err != nil {
		return fmt.Errorf("%w: upserting item %s: %w", types.ErrTransaction, it.UID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM props WHERE uid = ?`, it.UID); err != nil {
		return fmt.Errorf("%w: clearing props of %s: %w", types.ErrTransaction, it.UID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO props (uid, field, value, value_norm, params, seq)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: preparing props insert: %w", types.ErrTransaction, err)
	}
	defer stmt.Close()

	for _, p := range rec.Props {
		params := p.Params
		if params == "" {
			params = "{}"
		}
		if _, err := stmt.ExecContext(ctx, it.UID, p.Field, p.Value, p.ValueNorm, params, p.Seq); err != nil {
			return fmt.Errorf("%w: inserting %s of %s: %w", types.ErrTransaction, p.Field, it.UID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", types.ErrTransaction, err)
	}
	return nil
}

// StoredStates returns the cached change-detection data keyed by path.
func (s *Store) StoredStates(ctx context.Context) (map[string]StoredState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, uid, sha256, mtime FROM items`)
	if err != nil {
		return nil, fmt.Errorf("querying stored states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]StoredState)
	for rows.Next() {
		var (
			path  string
			st    StoredState
			mtime int64
		)
		if err := rows.Scan(&path, &st.UID, &st.Hash, &mtime); err != nil {
			return nil, fmt.Errorf("scanning stored state: %w", err)
		}
		st.ModTime = time.Unix(0, mtime)
		out[path] = st
	}
	return out, rows.Err()
}

// TouchModTime records a new mtime for path without touching its content.
func (s *Store) TouchModTime(ctx context.Context, path string, mtime time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE items SET mtime = ? WHERE path = ?`, mtime.UnixNano(), path); err != nil {
		return fmt.Errorf("%w: touching %s: %w", types.ErrTransaction, path, err)
	}
	return nil
}

// RemoveMissing deletes rows whose path is not in present. It returns the
// removed paths.
func (s *Store) RemoveMissing(ctx context.Context, present map[string]bool) ([]string, error) {
	states, err := s.StoredStates(ctx)
	if err != nil {
		return nil, err
	}
	var gone []string
	for path := range states {
		if !present[path] {
			gone = append(gone, path)
		}
	}
	if len(gone) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", types.ErrTransaction, err)
	}
	defer tx.Rollback()
	for _, path := range gone {
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE path = ?`, path); err != nil {
			return nil, fmt.Errorf("%w: removing %s: %w", types.ErrTransaction, path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", types.ErrTransaction, err)
	}
	return gone, nil
}

// DeletePath removes the record cached for path, if any.
func (s *Store) DeletePath(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE path = ?`, path); err != nil {
		return fmt.Errorf("%w: deleting %s: %w", types.ErrTransaction, path, err)
	}
	return nil
}

// DeleteUIDs removes the given records.
func (s *Store) DeleteUIDs(ctx context.Context, uids ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", types.ErrTransaction, err)
	}
	defer tx.Rollback()
	for _, uid := range uids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE uid = ?`, uid); err != nil {
			return fmt.Errorf("%w: deleting %s: %w", types.ErrTransaction, uid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", types.ErrTransaction, err)
	}
	return nil
}

// Get returns the cached item and props for uid.
func (s *Store) Get(ctx context.Context, uid string) (types.IndexedRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE uid = ?`, uid)
	item, err := hydrateItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.IndexedRecord{}, fmt.Errorf("%w: %s", types.ErrNotFound, uid)
		}
		return types.IndexedRecord{}, fmt.Errorf("getting item %s: %w", uid, err)
	}

	props, err := s.Props(ctx, uid)
	if err != nil {
		return types.IndexedRecord{}, err
	}
	return types.IndexedRecord{Item: item, Props: props}, nil
}

// Props returns the prop rows of uid in record order.
func (s *Store) Props(ctx context.Context, uid string) ([]types.IndexedProp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, field, value, value_norm, params, seq
		FROM props WHERE uid = ? ORDER BY rowid`, uid)
	if err != nil {
		return nil, fmt.Errorf("querying props of %s: %w", uid, err)
	}
	defer rows.Close()
	return hydrateProps(rows)
}

// PathOf returns the file holding uid.
func (s *Store) PathOf(ctx context.Context, uid string) (string, error) {
	var path string
	err := s.db.QueryRowContext(ctx, `SELECT path FROM items WHERE uid = ?`, uid).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", types.ErrNotFound, uid)
	}
	if err != nil {
		return "", fmt.Errorf("looking up %s: %w", uid, err)
	}
	return path, nil
}

// Items returns every cached item ordered by UID.
func (s *Store) Items(ctx context.Context) ([]types.IndexedItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY uid`)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var out []types.IndexedItem
	for rows.Next() {
		it, err := hydrateItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// AllProps returns every cached prop ordered by UID, field, and seq.
func (s *Store) AllProps(ctx context.Context) ([]types.IndexedProp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, field, value, value_norm, params, seq
		FROM props ORDER BY uid, field, seq, value`)
	if err != nil {
		return nil, fmt.Errorf("querying props: %w", err)
	}
	defer rows.Close()
	return hydrateProps(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func hydrateItem(row scanner) (types.IndexedItem, error) {
	var (
		it    types.IndexedItem
		mtime int64
	)
	err := row.Scan(&it.UID, &it.Path, &it.FN, &it.FNNorm, &it.Rev, &it.HasPhoto, &it.HasLogo,
		&it.Hash, &mtime, &it.LangPref, &it.ReadOnly)
	if err != nil {
		return types.IndexedItem{}, err
	}
	it.ModTime = time.Unix(0, mtime)
	return it, nil
}

func hydrateProps(rows *sql.Rows) ([]types.IndexedProp, error) {
	var out []types.IndexedProp
	for rows.Next() {
		var p types.IndexedProp
		if err := rows.Scan(&p.UID, &p.Field, &p.Value, &p.ValueNorm, &p.Params, &p.Seq); err != nil {
			return nil, fmt.Errorf("scanning prop: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

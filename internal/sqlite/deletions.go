package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// PendingDeletion is a donor file a merge could not remove. It is retried
// by the garbage collection pass.
type PendingDeletion struct {
	ID        string    `json:"id"`
	UID       string    `json:"uid"`
	Path      string    `json:"path"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// AddPendingDeletion queues path for removal. Queuing the same path again
// counts another attempt.
func (s *Store) AddPendingDeletion(ctx context.Context, uid, path, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_deletions (id, uid, path, reason, attempts, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(path) DO UPDATE SET
			attempts = attempts + 1,
			reason = excluded.reason`,
		ulid.Make().String(), uid, path, reason, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: queueing deletion of %s: %w", types.ErrTransaction, path, err)
	}
	return nil
}

// PendingDeletions returns the queue oldest first.
func (s *Store) PendingDeletions(ctx context.Context) ([]PendingDeletion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uid, path, reason, attempts, created_at
		FROM pending_deletions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying pending deletions: %w", err)
	}
	defer rows.Close()

	var out []PendingDeletion
	for rows.Next() {
		var (
			d       PendingDeletion
			created int64
		)
		if err := rows.Scan(&d.ID, &d.UID, &d.Path, &d.Reason, &d.Attempts, &created); err != nil {
			return nil, fmt.Errorf("scanning pending deletion: %w", err)
		}
		d.CreatedAt = time.Unix(0, created)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ResolvePendingDeletion drops an entry from the queue.
func (s *Store) ResolvePendingDeletion(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_deletions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: resolving deletion %s: %w", types.ErrTransaction, id, err)
	}
	return nil
}

package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/addrbook/internal/normalize"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// List returns contacts whose display name, nickname, organization, email,
// or phone contains filter. Matching is case and accent insensitive. An
// empty filter lists everything. Results are ordered by display name.
func (s *Store) List(ctx context.Context, filter string) ([]types.ContactSummary, error) {
	key := normalize.SearchKey(filter)
	pattern := normalize.LikePattern(key)

	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, fn, path FROM items
		WHERE ? = ''
		   OR fn_norm LIKE ? ESCAPE '\'
		   OR uid IN (
				SELECT uid FROM props
				WHERE field IN ('NICKNAME', 'ORG', 'EMAIL', 'TEL')
				  AND value_norm LIKE ? ESCAPE '\')
		ORDER BY fn_norm, uid`, key, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	defer rows.Close()

	var out []types.ContactSummary
	for rows.Next() {
		var c types.ContactSummary
		if err := rows.Scan(&c.UID, &c.FN, &c.Path); err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// QueryEmails returns one row per email address whose owner's name or the
// address itself contains term, in the shape mail clients expect.
func (s *Store) QueryEmails(ctx context.Context, term string) ([]types.EmailMatch, error) {
	key := normalize.SearchKey(term)
	pattern := normalize.LikePattern(key)

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.value, i.fn, p.params
		FROM props p JOIN items i ON i.uid = p.uid
		WHERE p.field = 'EMAIL'
		  AND (? = ''
		   OR i.fn_norm LIKE ? ESCAPE '\'
		   OR p.value_norm LIKE ? ESCAPE '\'
		   OR p.uid IN (
				SELECT uid FROM props
				WHERE field = 'NICKNAME' AND value_norm LIKE ? ESCAPE '\'))
		ORDER BY i.fn_norm, p.uid, p.seq`, key, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("querying emails: %w", err)
	}
	defer rows.Close()

	var out []types.EmailMatch
	for rows.Next() {
		var (
			m      types.EmailMatch
			params string
		)
		if err := rows.Scan(&m.Email, &m.FN, &params); err != nil {
			return nil, fmt.Errorf("scanning email: %w", err)
		}
		m.Type = firstType(params)
		out = append(out, m)
	}
	return out, rows.Err()
}

func firstType(params string) string {
	var decoded map[string][]string
	if err := json.Unmarshal([]byte(params), &decoded); err != nil {
		return ""
	}
	if ts := decoded["TYPE"]; len(ts) > 0 {
		return ts[0]
	}
	return ""
}

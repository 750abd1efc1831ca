package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/storage"
)

// MarkDirty records ids as mutated since the last export. Idempotent:
// re-marking only refreshes marked_at.
func (s *Store) MarkDirty(ctx context.Context, ids ...string) error {
	if !s.inTx {
		return s.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
			return tx.(*Store).MarkDirty(ctx, ids...)
		})
	}
	return s.markDirty(ctx, ids...)
}

func (s *Store) markDirty(ctx context.Context, ids ...string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO dirty_elements (element_id, marked_at) VALUES (?, ?)
			ON CONFLICT (element_id) DO UPDATE SET marked_at = excluded.marked_at`,
			id, now)
		if err != nil {
			return wrapDBErrorf(err, "mark dirty %s", id)
		}
	}
	return nil
}

// GetDirtyElements returns the dirty set ordered by mark time.
func (s *Store) GetDirtyElements(ctx context.Context) ([]storage.DirtyElement, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT element_id, marked_at FROM dirty_elements ORDER BY marked_at ASC, element_id ASC`)
	if err != nil {
		return nil, wrapDBError("get dirty elements", err)
	}
	defer rows.Close()
	var out []storage.DirtyElement
	for rows.Next() {
		var d storage.DirtyElement
		if err := rows.Scan(&d.ElementID, &d.MarkedAt); err != nil {
			return nil, wrapDBError("scan dirty element", err)
		}
		d.MarkedAt = d.MarkedAt.UTC()
		out = append(out, d)
	}
	return out, wrapDBError("get dirty elements", rows.Err())
}

// ClearDirtyElements removes ids from the dirty set, typically after a
// successful export. Unknown ids are ignored.
func (s *Store) ClearDirtyElements(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if !s.inTx {
		return s.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
			return tx.(*Store).ClearDirtyElements(ctx, ids)
		})
	}
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM dirty_elements WHERE element_id IN (`+strings.Join(ph, ", ")+`)`, args...)
	return wrapDBError("clear dirty elements", err)
}

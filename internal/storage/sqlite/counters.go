package sqlite

import (
	"context"

	"github.com/stoneforge-ai/stoneforge/internal/storage"
)

// GetNextChildNumber atomically increments and returns the child
// counter for a parent id. Monotone per parent; starts at 1.
func (s *Store) GetNextChildNumber(ctx context.Context, parentID string) (int, error) {
	if !s.inTx {
		var n int
		err := s.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
			var err error
			n, err = tx.(*Store).GetNextChildNumber(ctx, parentID)
			return err
		})
		return n, err
	}
	var n int
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO child_counters (parent_id, last_child) VALUES (?, 1)
		ON CONFLICT (parent_id) DO UPDATE SET last_child = last_child + 1
		RETURNING last_child`,
		parentID).Scan(&n)
	if err != nil {
		return 0, wrapDBErrorf(err, "next child number for %s", parentID)
	}
	return n, nil
}

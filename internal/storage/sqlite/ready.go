package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// activeBlockerExists is the shared predicate: an active blocking edge
// is one whose blocker is neither closed nor tombstoned. Missing
// blockers do not block.
const activeBlockerExists = `EXISTS (
	SELECT 1 FROM dependencies d
	JOIN elements b ON b.id = d.blocker_id
	WHERE d.blocked_id = %s
	  AND d.type IN ('blocks', 'awaits', 'parent-child')
	  AND b.deleted_at IS NULL
	  AND (b.status IS NULL OR b.status != 'closed')
)`

// IsBlocked reports whether at least one active blocking edge names
// taskID as the blocked side.
func (s *Store) IsBlocked(ctx context.Context, taskID string) (bool, error) {
	var blocked bool
	err := s.q.QueryRowContext(ctx, `SELECT `+blockedPredicate("?"), taskID).Scan(&blocked)
	if err != nil {
		return false, wrapDBErrorf(err, "blocked check for %s", taskID)
	}
	return blocked, nil
}

// GetReadyTasks returns open, non-deferred, unblocked tasks sorted by
// priority descending, complexity ascending, then creation time.
// limit 0 means no limit.
func (s *Store) GetReadyTasks(ctx context.Context, limit int, filter storage.ReadyFilter) ([]*types.Element, error) {
	query := `
		SELECT ` + elementColumns + ` FROM elements
		WHERE type = 'task'
		  AND deleted_at IS NULL
		  AND status = 'open'
		  AND (deferred_until IS NULL OR deferred_until <= ?)
		  AND NOT ` + blockedPredicate("elements.id")
	args := []any{time.Now().UTC()}

	if filter.Assignee != "" {
		query += " AND assignee = ?"
		args = append(args, filter.Assignee)
	}
	if filter.CreatedBy != "" {
		query += " AND created_by = ?"
		args = append(args, filter.CreatedBy)
	}
	if filter.Tag != "" {
		query += " AND EXISTS (SELECT 1 FROM json_each(elements.tags) WHERE json_each.value = ?)"
		args = append(args, filter.Tag)
	}

	query += " ORDER BY priority DESC, complexity ASC, created_at ASC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("get ready tasks", err)
	}
	defer rows.Close()

	var out []*types.Element
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, wrapDBError("scan ready task", err)
		}
		out = append(out, el)
	}
	return out, wrapDBError("get ready tasks", rows.Err())
}

// blockedPredicate keeps IsBlocked and GetReadyTasks on one shared
// predicate so the blocked semantics cannot drift between them.
func blockedPredicate(blockedRef string) string {
	return fmt.Sprintf(activeBlockerExists, blockedRef)
}

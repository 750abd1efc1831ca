package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

const elementColumns = `id, type, title, content, created_at, updated_at, created_by,
	tags, metadata, deleted_at, deleted_by,
	status, priority, complexity, assignee, deferred_until, orchestrator`

// CreateElement inserts a validated element and marks it dirty.
// Fails with AlreadyExists when the id is taken.
func (s *Store) CreateElement(ctx context.Context, el *types.Element) error {
	if !s.inTx {
		return s.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
			return tx.(*Store).CreateElement(ctx, el)
		})
	}

	now := time.Now().UTC()
	if el.CreatedAt.IsZero() {
		el.CreatedAt = now
	}
	if el.UpdatedAt.IsZero() {
		el.UpdatedAt = el.CreatedAt
	}
	if err := el.Validate(); err != nil {
		return err
	}
	if el.ID == "" {
		return types.NewError(types.KindValidation, types.CodeInvalidID, "element id is required")
	}

	taken, err := s.ElementExists(ctx, el.ID)
	if err != nil {
		return err
	}
	if taken {
		return types.AlreadyExists(el.ID)
	}

	// A hierarchical id needs a live parent.
	if parent := types.ParentID(el.ID); parent != "" {
		parentExists, err := s.ElementExists(ctx, parent)
		if err != nil {
			return err
		}
		if !parentExists {
			return types.NewError(types.KindNotFound, types.CodeNotFound, fmt.Sprintf("parent element not found: %s", parent))
		}
	}

	args, err := elementArgs(el)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO elements (`+elementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...)
	if err != nil {
		return wrapDBErrorf(err, "create element %s", el.ID)
	}
	return s.markDirty(ctx, el.ID)
}

// GetElement fetches one element by id, tombstones included.
func (s *Store) GetElement(ctx context.Context, id string) (*types.Element, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+elementColumns+` FROM elements WHERE id = ?`, id)
	el, err := scanElement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NotFound(id)
		}
		return nil, wrapDBErrorf(err, "get element %s", id)
	}
	return el, nil
}

// ElementExists reports whether an id is present (tombstones count).
func (s *Store) ElementExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM elements WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, wrapDBErrorf(err, "check element %s", id)
	}
	return n > 0, nil
}

// UpdateElement applies a partial update. Tombstones are immutable;
// identity fields cannot change. Returns the updated element.
func (s *Store) UpdateElement(ctx context.Context, id string, patch storage.ElementPatch, actor string) (*types.Element, error) {
	if !s.inTx {
		var out *types.Element
		err := s.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
			var err error
			out, err = tx.(*Store).UpdateElement(ctx, id, patch, actor)
			return err
		})
		return out, err
	}

	el, err := s.GetElement(ctx, id)
	if err != nil {
		return nil, err
	}
	if el.IsTombstone() {
		return nil, types.NewError(types.KindConstraint, types.CodeImmutable, fmt.Sprintf("element %s is a tombstone", id))
	}

	if patch.Title != nil {
		el.Title = *patch.Title
	}
	if patch.Content != nil {
		el.Content = *patch.Content
	}
	if patch.Tags != nil {
		el.Tags = *patch.Tags
	}
	if patch.Metadata != nil {
		el.Metadata = *patch.Metadata
	}

	taskPatch := patch.Status != nil || patch.Priority != nil || patch.Complexity != nil ||
		patch.Assignee != nil || patch.DeferredUntil != nil || patch.ClearDeferred || patch.Orchestrator != nil
	if taskPatch {
		if el.Type != types.ElementTask {
			return nil, types.NewError(types.KindValidation, types.CodeInvalidInput, fmt.Sprintf("task fields on %s element %s", el.Type, id))
		}
		if el.Task == nil {
			el.Task = &types.TaskData{Status: types.StatusOpen}
		}
		if patch.Status != nil {
			el.Task.Status = *patch.Status
		}
		if patch.Priority != nil {
			el.Task.Priority = *patch.Priority
		}
		if patch.Complexity != nil {
			el.Task.Complexity = *patch.Complexity
		}
		if patch.Assignee != nil {
			el.Task.Assignee = *patch.Assignee
		}
		if patch.ClearDeferred {
			el.Task.DeferredUntil = nil
		} else if patch.DeferredUntil != nil {
			d := *patch.DeferredUntil
			el.Task.DeferredUntil = &d
		}
		if patch.Orchestrator != nil {
			el.Task.Orchestrator = patch.Orchestrator
		}
	}

	now := time.Now().UTC()
	if now.Before(el.CreatedAt) {
		now = el.CreatedAt
	}
	el.UpdatedAt = now

	if err := el.Validate(); err != nil {
		return nil, err
	}
	if err := s.writeElement(ctx, el); err != nil {
		return nil, err
	}
	if err := s.markDirty(ctx, id); err != nil {
		return nil, err
	}
	return el, nil
}

// writeElement replaces the full row for an existing element.
func (s *Store) writeElement(ctx context.Context, el *types.Element) error {
	args, err := elementArgs(el)
	if err != nil {
		return err
	}
	// Shift id to the end for the WHERE clause.
	args = append(args[1:], el.ID)
	res, err := s.q.ExecContext(ctx, `
		UPDATE elements SET
			type = ?, title = ?, content = ?, created_at = ?, updated_at = ?, created_by = ?,
			tags = ?, metadata = ?, deleted_at = ?, deleted_by = ?,
			status = ?, priority = ?, complexity = ?, assignee = ?, deferred_until = ?, orchestrator = ?
		WHERE id = ?`,
		args...)
	if err != nil {
		return wrapDBErrorf(err, "update element %s", el.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NotFound(el.ID)
	}
	return nil
}

// PutElement upserts an element row as-is, bypassing tombstone
// immutability. The merge pipeline uses it to apply resolved winners.
func (s *Store) PutElement(ctx context.Context, el *types.Element) error {
	if !s.inTx {
		return s.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
			return tx.(*Store).PutElement(ctx, el)
		})
	}
	if err := el.Validate(); err != nil {
		return err
	}
	args, err := elementArgs(el)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO elements (`+elementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type, title = excluded.title, content = excluded.content,
			created_at = excluded.created_at, updated_at = excluded.updated_at, created_by = excluded.created_by,
			tags = excluded.tags, metadata = excluded.metadata,
			deleted_at = excluded.deleted_at, deleted_by = excluded.deleted_by,
			status = excluded.status, priority = excluded.priority, complexity = excluded.complexity,
			assignee = excluded.assignee, deferred_until = excluded.deferred_until, orchestrator = excluded.orchestrator`,
		args...)
	if err != nil {
		return wrapDBErrorf(err, "put element %s", el.ID)
	}
	return s.markDirty(ctx, el.ID)
}

// DeleteElement stamps a tombstone. Deleting a tombstone is a no-op.
func (s *Store) DeleteElement(ctx context.Context, id, actor string) error {
	if !s.inTx {
		return s.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
			return tx.(*Store).DeleteElement(ctx, id, actor)
		})
	}
	el, err := s.GetElement(ctx, id)
	if err != nil {
		return err
	}
	if el.IsTombstone() {
		return nil
	}
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE elements SET deleted_at = ?, deleted_by = ?, updated_at = ? WHERE id = ?`,
		now, actor, now, id)
	if err != nil {
		return wrapDBErrorf(err, "delete element %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NotFound(id)
	}
	return s.markDirty(ctx, id)
}

// PurgeExpiredTombstones hard-deletes tombstones past their TTL along
// with their dependency edges. Returns the number of rows removed.
func (s *Store) PurgeExpiredTombstones(ctx context.Context, ttl time.Duration) (int, error) {
	if !s.inTx {
		var n int
		err := s.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
			var err error
			n, err = tx.(*Store).PurgeExpiredTombstones(ctx, ttl)
			return err
		})
		return n, err
	}
	if ttl == 0 {
		ttl = types.DefaultTombstoneTTL
	}
	cutoff := time.Now().UTC().Add(-(ttl + types.ClockSkewGrace))
	rows, err := s.q.QueryContext(ctx,
		`SELECT id FROM elements WHERE deleted_at IS NOT NULL AND deleted_at < ?`, cutoff)
	if err != nil {
		return 0, wrapDBError("purge tombstones", err)
	}
	ids, err := collectStrings(rows)
	if err != nil {
		return 0, wrapDBError("purge tombstones", err)
	}
	for _, id := range ids {
		if _, err := s.q.ExecContext(ctx,
			`DELETE FROM dependencies WHERE blocked_id = ? OR blocker_id = ?`, id, id); err != nil {
			return 0, wrapDBErrorf(err, "purge edges of %s", id)
		}
		if _, err := s.q.ExecContext(ctx, `DELETE FROM elements WHERE id = ?`, id); err != nil {
			return 0, wrapDBErrorf(err, "purge element %s", id)
		}
	}
	return len(ids), nil
}

// ListElements returns elements matching the filter, newest first.
func (s *Store) ListElements(ctx context.Context, filter storage.ElementFilter) ([]*types.Element, error) {
	var conds []string
	var args []any

	if !filter.IncludeTombstones {
		conds = append(conds, "deleted_at IS NULL")
	}
	if len(filter.Types) > 0 {
		ph := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, "type IN ("+strings.Join(ph, ", ")+")")
	}
	if len(filter.Statuses) > 0 {
		ph := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ", ")+")")
	}
	if filter.Assignee != "" {
		conds = append(conds, "assignee = ?")
		args = append(args, filter.Assignee)
	}
	if filter.CreatedBy != "" {
		conds = append(conds, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}
	if filter.Tag != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(elements.tags) WHERE json_each.value = ?)")
		args = append(args, filter.Tag)
	}

	query := `SELECT ` + elementColumns + ` FROM elements`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list elements", err)
	}
	defer rows.Close()

	var out []*types.Element
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, wrapDBError("scan element", err)
		}
		out = append(out, el)
	}
	return out, wrapDBError("list elements", rows.Err())
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanElement(row rowScanner) (*types.Element, error) {
	var el types.Element
	var tags, metadata string
	var deletedAt, deferredUntil sql.NullTime
	var deletedBy, status, assignee, orchestrator sql.NullString
	var priority, complexity sql.NullInt64

	err := row.Scan(&el.ID, &el.Type, &el.Title, &el.Content,
		&el.CreatedAt, &el.UpdatedAt, &el.CreatedBy,
		&tags, &metadata, &deletedAt, &deletedBy,
		&status, &priority, &complexity, &assignee, &deferredUntil, &orchestrator)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &el.Tags); err != nil {
		return nil, fmt.Errorf("corrupt tags for %s: %w", el.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &el.Metadata); err != nil {
		return nil, fmt.Errorf("corrupt metadata for %s: %w", el.ID, err)
	}
	if len(el.Tags) == 0 {
		el.Tags = nil
	}
	if len(el.Metadata) == 0 {
		el.Metadata = nil
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		el.DeletedAt = &t
	}
	el.DeletedBy = deletedBy.String
	el.CreatedAt = el.CreatedAt.UTC()
	el.UpdatedAt = el.UpdatedAt.UTC()

	if el.Type == types.ElementTask && status.Valid {
		task := &types.TaskData{
			Status:     types.TaskStatus(status.String),
			Priority:   int(priority.Int64),
			Complexity: int(complexity.Int64),
			Assignee:   assignee.String,
		}
		if deferredUntil.Valid {
			t := deferredUntil.Time.UTC()
			task.DeferredUntil = &t
		}
		if orchestrator.Valid && orchestrator.String != "" {
			var meta types.OrchestratorMeta
			if err := json.Unmarshal([]byte(orchestrator.String), &meta); err != nil {
				return nil, fmt.Errorf("corrupt orchestrator for %s: %w", el.ID, err)
			}
			task.Orchestrator = &meta
		}
		el.Task = task
	}
	return &el, nil
}

// elementArgs flattens an element into the insert/update argument list,
// in elementColumns order.
func elementArgs(el *types.Element) ([]any, error) {
	tags := el.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, types.WrapError(types.KindValidation, types.CodeInvalidTag, "serialize tags", err)
	}
	md := el.Metadata
	if md == nil {
		md = map[string]any{}
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return nil, types.WrapError(types.KindValidation, types.CodeInvalidMetadata, "serialize metadata", err)
	}

	var deletedAt any
	if el.DeletedAt != nil {
		deletedAt = el.DeletedAt.UTC()
	}
	var deletedBy any
	if el.DeletedBy != "" {
		deletedBy = el.DeletedBy
	}

	var status, assignee, orchestrator, deferredUntil, priority, complexity any
	if el.Task != nil {
		status = string(el.Task.Status)
		priority = el.Task.Priority
		complexity = el.Task.Complexity
		if el.Task.Assignee != "" {
			assignee = el.Task.Assignee
		}
		if el.Task.DeferredUntil != nil {
			deferredUntil = el.Task.DeferredUntil.UTC()
		}
		if el.Task.Orchestrator != nil {
			data, err := json.Marshal(el.Task.Orchestrator)
			if err != nil {
				return nil, types.WrapError(types.KindValidation, types.CodeInvalidInput, "serialize orchestrator", err)
			}
			orchestrator = string(data)
		}
	}

	return []any{
		el.ID, string(el.Type), el.Title, el.Content,
		el.CreatedAt.UTC(), el.UpdatedAt.UTC(), el.CreatedBy,
		string(tagsJSON), string(mdJSON), deletedAt, deletedBy,
		status, priority, complexity, assignee, deferredUntil, orchestrator,
	}, nil
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

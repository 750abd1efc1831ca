package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// AddDependency inserts an edge. Both endpoints must exist. Inserting
// an existing edge key fails with AlreadyExists. Cycle validation is
// the caller's job; the store never runs it implicitly.
func (s *Store) AddDependency(ctx context.Context, dep *types.Dependency) error {
	if !s.inTx {
		return s.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
			return tx.(*Store).AddDependency(ctx, dep)
		})
	}
	if err := dep.Validate(); err != nil {
		return err
	}
	for _, id := range []string{dep.BlockedID, dep.BlockerID} {
		exists, err := s.ElementExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return types.NotFound(id)
		}
	}
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO dependencies (blocked_id, blocker_id, type, created_at, created_by)
		VALUES (?, ?, ?, ?, ?)`,
		dep.BlockedID, dep.BlockerID, string(dep.Type), dep.CreatedAt.UTC(), dep.CreatedBy)
	if err != nil {
		return wrapDBErrorf(err, "add dependency %s -> %s", dep.BlockedID, dep.BlockerID)
	}
	return s.markDirty(ctx, dep.BlockedID)
}

// RemoveDependency deletes one edge by key. Missing edges are a no-op.
func (s *Store) RemoveDependency(ctx context.Context, blockedID, blockerID string, depType types.DependencyType) error {
	if !s.inTx {
		return s.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
			return tx.(*Store).RemoveDependency(ctx, blockedID, blockerID, depType)
		})
	}
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM dependencies WHERE blocked_id = ? AND blocker_id = ? AND type = ?`,
		blockedID, blockerID, string(depType))
	if err != nil {
		return wrapDBErrorf(err, "remove dependency %s -> %s", blockedID, blockerID)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return s.markDirty(ctx, blockedID)
	}
	return nil
}

// GetDependencies returns the edges where id is the blocked side.
func (s *Store) GetDependencies(ctx context.Context, id string, typesAllowed []types.DependencyType) ([]*types.Dependency, error) {
	return s.queryDeps(ctx, "blocked_id", id, typesAllowed)
}

// GetDependents returns the edges where id is the blocker side.
func (s *Store) GetDependents(ctx context.Context, id string, typesAllowed []types.DependencyType) ([]*types.Dependency, error) {
	return s.queryDeps(ctx, "blocker_id", id, typesAllowed)
}

func (s *Store) queryDeps(ctx context.Context, column, id string, typesAllowed []types.DependencyType) ([]*types.Dependency, error) {
	query := `SELECT blocked_id, blocker_id, type, created_at, created_by FROM dependencies WHERE ` + column + ` = ?`
	args := []any{id}
	if len(typesAllowed) > 0 {
		ph := make([]string, len(typesAllowed))
		for i, t := range typesAllowed {
			ph[i] = "?"
			args = append(args, string(t))
		}
		query += ` AND type IN (` + strings.Join(ph, ", ") + `)`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErrorf(err, "query dependencies of %s", id)
	}
	return scanDeps(rows)
}

// AllDependencies returns every edge; the sync exporter and the cycle
// detector read the whole set.
func (s *Store) AllDependencies(ctx context.Context) ([]*types.Dependency, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT blocked_id, blocker_id, type, created_at, created_by
		 FROM dependencies ORDER BY blocked_id, blocker_id, type`)
	if err != nil {
		return nil, wrapDBError("list dependencies", err)
	}
	return scanDeps(rows)
}

func scanDeps(rows *sql.Rows) ([]*types.Dependency, error) {
	defer rows.Close()
	var out []*types.Dependency
	for rows.Next() {
		var d types.Dependency
		if err := rows.Scan(&d.BlockedID, &d.BlockerID, &d.Type, &d.CreatedAt, &d.CreatedBy); err != nil {
			return nil, wrapDBError("scan dependency", err)
		}
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, &d)
	}
	return out, wrapDBError("scan dependencies", rows.Err())
}

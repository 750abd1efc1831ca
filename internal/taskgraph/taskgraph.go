// Package taskgraph computes the reactive blocked set, ready queues,
// and explicit dependency cycle detection.
package taskgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// Engine derives graph views from the store. It holds no state of its
// own; the blocked property is computed, never stored.
type Engine struct {
	store storage.Store
}

// New creates a task graph engine over a store.
func New(store storage.Store) *Engine {
	return &Engine{store: store}
}

// IsBlocked reports whether the task has at least one active blocking
// edge, i.e. a blocker that is neither closed nor tombstoned.
func (e *Engine) IsBlocked(ctx context.Context, taskID string) (bool, error) {
	return e.store.IsBlocked(ctx, taskID)
}

// ReadyTasks returns open, non-deferred, unblocked tasks sorted by
// (priority desc, complexity asc, createdAt asc). limit 0 is unlimited.
func (e *Engine) ReadyTasks(ctx context.Context, limit int, filter storage.ReadyFilter) ([]*types.Element, error) {
	return e.store.GetReadyTasks(ctx, limit, filter)
}

// Backlog returns open tasks that are not actionable right now: blocked
// or deferred into the future.
func (e *Engine) Backlog(ctx context.Context, now time.Time) ([]*types.Element, error) {
	tasks, err := e.store.ListElements(ctx, storage.ElementFilter{
		Types:    []types.ElementType{types.ElementTask},
		Statuses: []types.TaskStatus{types.StatusOpen},
	})
	if err != nil {
		return nil, err
	}
	var out []*types.Element
	for _, task := range tasks {
		if task.Task != nil && task.Task.DeferredUntil != nil && task.Task.DeferredUntil.After(now) {
			out = append(out, task)
			continue
		}
		blocked, err := e.store.IsBlocked(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		if blocked {
			out = append(out, task)
		}
	}
	return out, nil
}

// BlockedTasks returns every non-closed task that is currently blocked.
func (e *Engine) BlockedTasks(ctx context.Context) ([]*types.Element, error) {
	tasks, err := e.store.ListElements(ctx, storage.ElementFilter{
		Types:    []types.ElementType{types.ElementTask},
		Statuses: []types.TaskStatus{types.StatusOpen, types.StatusInProgress},
	})
	if err != nil {
		return nil, err
	}
	var out []*types.Element
	for _, task := range tasks {
		blocked, err := e.store.IsBlocked(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		if blocked {
			out = append(out, task)
		}
	}
	return out, nil
}

// DetectCycle checks whether adding candidate would close a cycle in
// the blocking subgraph. It returns the cycle path (first and last
// entries equal) or nil. Detection is explicit: nothing in the store
// runs it implicitly, the caller decides when integrity matters.
func (e *Engine) DetectCycle(ctx context.Context, candidate *types.Dependency) ([]string, error) {
	if candidate == nil {
		return nil, types.NewError(types.KindValidation, types.CodeInvalidInput, "candidate edge is required")
	}
	if !candidate.Type.IsBlocking() {
		// Informational edges never participate in blocking cycles.
		return nil, nil
	}

	deps, err := e.store.AllDependencies(ctx)
	if err != nil {
		return nil, err
	}
	adj := make(map[string][]string)
	for _, d := range deps {
		if d.Type.IsBlocking() {
			adj[d.BlockedID] = append(adj[d.BlockedID], d.BlockerID)
		}
	}
	adj[candidate.BlockedID] = append(adj[candidate.BlockedID], candidate.BlockerID)

	start := candidate.BlockedID
	visited := make(map[string]bool)
	path := []string{start}

	var dfs func(node string) []string
	dfs = func(node string) []string {
		for _, next := range adj[node] {
			if next == start {
				return append(append([]string(nil), path...), next)
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			path = append(path, next)
			if cycle := dfs(next); cycle != nil {
				return cycle
			}
			path = path[:len(path)-1]
		}
		return nil
	}
	visited[start] = true
	return dfs(start), nil
}

// AddDependencyChecked validates the candidate against cycles before
// inserting it. The plain store path never does this; callers that
// want referential integrity come here.
func (e *Engine) AddDependencyChecked(ctx context.Context, dep *types.Dependency) error {
	if err := dep.Validate(); err != nil {
		return err
	}
	cycle, err := e.DetectCycle(ctx, dep)
	if err != nil {
		return err
	}
	if cycle != nil {
		return types.CycleDetected(cycle)
	}
	return e.store.AddDependency(ctx, dep)
}

// DeleteTask tombstones a task, refusing while active dependents still
// wait on it. force overrides the dependent check.
func (e *Engine) DeleteTask(ctx context.Context, id, actor string, force bool) error {
	if force {
		return e.store.DeleteElement(ctx, id, actor)
	}
	dependents, err := e.store.GetDependents(ctx, id, types.BlockingTypes())
	if err != nil {
		return err
	}
	var active int
	for _, d := range dependents {
		el, err := e.store.GetElement(ctx, d.BlockedID)
		if err != nil {
			if types.IsNotFound(err) {
				continue
			}
			return err
		}
		if el.IsTombstone() {
			continue
		}
		if el.Task != nil && el.Task.Status.IsClosed() {
			continue
		}
		active++
	}
	if active > 0 {
		return types.NewError(types.KindConstraint, types.CodeHasDependents,
			fmt.Sprintf("element %s has %d active dependents", id, active))
	}
	return e.store.DeleteElement(ctx, id, actor)
}

package taskgraph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/storage/sqlite"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

func newEngine(t *testing.T) (*Engine, storage.Store) {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store), store
}

func task(id string) *types.Element {
	now := time.Now().UTC()
	return &types.Element{
		ID: id, Type: types.ElementTask, Title: id,
		CreatedAt: now, UpdatedAt: now, CreatedBy: "tester",
		Task: &types.TaskData{Status: types.StatusOpen, Priority: 1},
	}
}

func edge(blocked, blocker string, dt types.DependencyType) *types.Dependency {
	return &types.Dependency{BlockedID: blocked, BlockerID: blocker, Type: dt}
}

func TestDetectCycleDirect(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()

	require.NoError(t, store.CreateElement(ctx, task("el-aaa001")))
	require.NoError(t, store.CreateElement(ctx, task("el-aaa002")))
	require.NoError(t, store.AddDependency(ctx, edge("el-aaa001", "el-aaa002", types.DepBlocks)))

	// The reverse edge closes a 2-cycle; path has length 3.
	cycle, err := e.DetectCycle(ctx, edge("el-aaa002", "el-aaa001", types.DepBlocks))
	require.NoError(t, err)
	require.NotNil(t, cycle)
	assert.Len(t, cycle, 3)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1])
}

func TestDetectCycleTransitive(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()

	for _, id := range []string{"el-bbb001", "el-bbb002", "el-bbb003"} {
		require.NoError(t, store.CreateElement(ctx, task(id)))
	}
	require.NoError(t, store.AddDependency(ctx, edge("el-bbb001", "el-bbb002", types.DepBlocks)))
	require.NoError(t, store.AddDependency(ctx, edge("el-bbb002", "el-bbb003", types.DepAwaits)))

	cycle, err := e.DetectCycle(ctx, edge("el-bbb003", "el-bbb001", types.DepBlocks))
	require.NoError(t, err)
	require.NotNil(t, cycle)
	assert.Len(t, cycle, 4)
}

func TestDetectCycleNone(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()

	require.NoError(t, store.CreateElement(ctx, task("el-ccc001")))
	require.NoError(t, store.CreateElement(ctx, task("el-ccc002")))
	require.NoError(t, store.AddDependency(ctx, edge("el-ccc001", "el-ccc002", types.DepBlocks)))

	cycle, err := e.DetectCycle(ctx, edge("el-ccc002", "el-ccc001", types.DepRelatesTo))
	require.NoError(t, err)
	assert.Nil(t, cycle, "informational edges never cycle")

	cycle, err = e.DetectCycle(ctx, edge("el-ccc001", "el-ccc002", types.DepAwaits))
	require.NoError(t, err)
	assert.Nil(t, cycle, "parallel edge in the same direction is not a cycle")
}

func TestStoreDoesNotValidateCycles(t *testing.T) {
	// The default insert path accepts cycles; detection is explicit.
	e, store := newEngine(t)
	ctx := context.Background()

	require.NoError(t, store.CreateElement(ctx, task("el-ddd001")))
	require.NoError(t, store.CreateElement(ctx, task("el-ddd002")))
	require.NoError(t, store.AddDependency(ctx, edge("el-ddd001", "el-ddd002", types.DepBlocks)))
	require.NoError(t, store.AddDependency(ctx, edge("el-ddd002", "el-ddd001", types.DepBlocks)))

	cycle, err := e.DetectCycle(ctx, edge("el-ddd001", "el-ddd002", types.DepBlocks))
	require.NoError(t, err)
	require.NotNil(t, cycle)
}

func TestAddDependencyChecked(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()

	require.NoError(t, store.CreateElement(ctx, task("el-eee001")))
	require.NoError(t, store.CreateElement(ctx, task("el-eee002")))

	require.NoError(t, e.AddDependencyChecked(ctx, edge("el-eee001", "el-eee002", types.DepBlocks)))

	err := e.AddDependencyChecked(ctx, edge("el-eee002", "el-eee001", types.DepBlocks))
	require.Error(t, err)
	assert.Equal(t, types.CodeCycleDetected, types.ErrCode(err))
	assert.True(t, types.IsConflict(err))

	// The rejected edge was not inserted.
	deps, err := store.GetDependencies(ctx, "el-eee002", nil)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestBlockedTasks(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()

	require.NoError(t, store.CreateElement(ctx, task("el-fff001")))
	require.NoError(t, store.CreateElement(ctx, task("el-fff002")))
	require.NoError(t, store.CreateElement(ctx, task("el-fff003")))
	require.NoError(t, store.AddDependency(ctx, edge("el-fff001", "el-fff002", types.DepBlocks)))

	blocked, err := e.BlockedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "el-fff001", blocked[0].ID)

	ready, err := e.ReadyTasks(ctx, 0, storage.ReadyFilter{})
	require.NoError(t, err)
	assert.Len(t, ready, 2)
}

func TestDeleteTaskHasDependents(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()

	require.NoError(t, store.CreateElement(ctx, task("el-0a0001")))
	require.NoError(t, store.CreateElement(ctx, task("el-0a0002")))
	require.NoError(t, store.AddDependency(ctx, edge("el-0a0001", "el-0a0002", types.DepBlocks)))

	err := e.DeleteTask(ctx, "el-0a0002", "tester", false)
	require.Error(t, err)
	assert.Equal(t, types.CodeHasDependents, types.ErrCode(err))

	// Closing the dependent releases the guard.
	closed := types.StatusClosed
	_, err = store.UpdateElement(ctx, "el-0a0001", storage.ElementPatch{Status: &closed}, "tester")
	require.NoError(t, err)
	require.NoError(t, e.DeleteTask(ctx, "el-0a0002", "tester", false))

	// Force bypasses the guard entirely.
	require.NoError(t, store.CreateElement(ctx, task("el-0a0003")))
	require.NoError(t, store.CreateElement(ctx, task("el-0a0004")))
	require.NoError(t, store.AddDependency(ctx, edge("el-0a0003", "el-0a0004", types.DepBlocks)))
	require.NoError(t, e.DeleteTask(ctx, "el-0a0004", "tester", true))
}

func TestBacklog(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	blocked := task("el-ddd001")
	blocker := task("el-ddd002")
	deferred := task("el-ddd003")
	future := now.Add(48 * time.Hour)
	deferred.Task.DeferredUntil = &future
	actionable := task("el-ddd004")

	for _, el := range []*types.Element{blocked, blocker, deferred, actionable} {
		require.NoError(t, store.CreateElement(ctx, el))
	}
	require.NoError(t, store.AddDependency(ctx, edge("el-ddd001", "el-ddd002", types.DepBlocks)))

	backlog, err := e.Backlog(ctx, now)
	require.NoError(t, err)
	ids := make([]string, len(backlog))
	for i, el := range backlog {
		ids[i] = el.ID
	}
	assert.ElementsMatch(t, []string{"el-ddd001", "el-ddd003"}, ids)
}

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/eventbus"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/storage/sqlite"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

func TestSlugSanitization(t *testing.T) {
	assert.Equal(t, "fix-the-parser", Slug("Fix the Parser"))
	assert.Equal(t, "caf--task", Slug("Café Task"))
	assert.Equal(t, "a-b-c", Slug("a_b/c"))

	long := Slug("this title is definitely longer than thirty characters total")
	assert.Len(t, long, 30)
}

func TestGenerateBranchName(t *testing.T) {
	branch := GenerateBranchName("Worker One", "el-abc123", "Fix The Parser!")
	assert.Equal(t, "agent/worker-one/el-abc123-fix-the-parser-", branch)
}

func TestGenerateWorktreePath(t *testing.T) {
	wt := GenerateWorktreePath("Worker One", "fix parser")
	assert.Equal(t, ".stoneforge/.worktrees/worker-one-fix-parser", wt)
}

func workerPool(maxSize, maxSlots int) types.Pool {
	return types.Pool{
		Name:    "workers",
		MaxSize: maxSize,
		Enabled: true,
		AgentTypes: []types.AgentType{
			{Role: types.RoleWorker, WorkerMode: types.WorkerEphemeral, Priority: 10, MaxSlots: maxSlots},
			{Role: types.RoleSteward, Priority: 5, MaxSlots: 1},
		},
	}
}

func TestPoolAdmission(t *testing.T) {
	m, err := NewPoolManager([]types.Pool{workerPool(2, 2)})
	require.NoError(t, err)

	req := SpawnRequest{Role: types.RoleWorker, WorkerMode: types.WorkerEphemeral}
	adm := m.SpawnCheck(req)
	assert.True(t, adm.CanSpawn)
	assert.Equal(t, "workers", adm.Pool)

	s1, _, err := m.Acquire(req)
	require.NoError(t, err)
	s2, _, err := m.Acquire(req)
	require.NoError(t, err)

	// Pool is at max_size; even the steward slot is unavailable.
	_, adm, err = m.Acquire(SpawnRequest{Role: types.RoleSteward, StewardFocus: types.FocusMerge})
	require.Error(t, err)
	assert.Equal(t, types.CodePoolExhausted, types.ErrCode(err))
	assert.False(t, adm.CanSpawn)

	s1.Release()
	s1.Release() // idempotent
	assert.Equal(t, 1, m.ActiveCount("workers"))

	s3, _, err := m.Acquire(SpawnRequest{Role: types.RoleSteward, StewardFocus: types.FocusMerge})
	require.NoError(t, err)
	s2.Release()
	s3.Release()
	assert.Equal(t, 0, m.ActiveCount("workers"))
}

func TestPoolPerTypeSlots(t *testing.T) {
	m, err := NewPoolManager([]types.Pool{workerPool(10, 1)})
	require.NoError(t, err)

	req := SpawnRequest{Role: types.RoleWorker, WorkerMode: types.WorkerEphemeral}
	_, _, err = m.Acquire(req)
	require.NoError(t, err)

	// Per-type cap blocks even though the pool has room.
	_, _, err = m.Acquire(req)
	require.Error(t, err)
	assert.Equal(t, types.CodePoolExhausted, types.ErrCode(err))
}

func TestPoolDisabledAndUnmatched(t *testing.T) {
	disabled := workerPool(5, 0)
	disabled.Enabled = false
	m, err := NewPoolManager([]types.Pool{disabled})
	require.NoError(t, err)

	adm := m.SpawnCheck(SpawnRequest{Role: types.RoleWorker, WorkerMode: types.WorkerEphemeral})
	assert.False(t, adm.CanSpawn)
	assert.Empty(t, adm.Pool)
}

func TestRankContenders(t *testing.T) {
	m, err := NewPoolManager([]types.Pool{workerPool(5, 0)})
	require.NoError(t, err)

	low := SpawnRequest{Role: types.RoleSteward, StewardFocus: types.FocusMerge, TaskPriority: 4}
	highLowTask := SpawnRequest{Role: types.RoleWorker, WorkerMode: types.WorkerEphemeral, TaskPriority: 1}
	highHighTask := SpawnRequest{Role: types.RoleWorker, WorkerMode: types.WorkerEphemeral, TaskPriority: 3}

	ranked := m.Rank([]SpawnRequest{low, highLowTask, highHighTask})
	// Agent-type priority dominates task priority.
	assert.Equal(t, highHighTask, ranked[0])
	assert.Equal(t, highLowTask, ranked[1])
	assert.Equal(t, low, ranked[2])
}

func setupDispatch(t *testing.T) (*Dispatcher, storage.Store, *eventbus.Bus) {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	bus := eventbus.New(nil)
	return New(store, bus, nil, "orchestrator"), store, bus
}

func seedAssignment(t *testing.T, store storage.Store, withChannel bool) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	md := map[string]any{"role": "worker", "worker_mode": "ephemeral"}
	if withChannel {
		require.NoError(t, store.CreateElement(ctx, &types.Element{
			ID: "el-c4a001", Type: types.ElementChannel, Title: "worker-inbox",
			CreatedAt: now, UpdatedAt: now, CreatedBy: "tester",
		}))
		md["channel_id"] = "el-c4a001"
	}
	require.NoError(t, store.CreateElement(ctx, &types.Element{
		ID: "el-a6e001", Type: types.ElementEntity, Title: "Worker One",
		Metadata:  md,
		CreatedAt: now, UpdatedAt: now, CreatedBy: "tester",
	}))
	require.NoError(t, store.CreateElement(ctx, &types.Element{
		ID: "el-70a001", Type: types.ElementTask, Title: "Fix The Parser",
		CreatedAt: now, UpdatedAt: now, CreatedBy: "tester",
		Task: &types.TaskData{Status: types.StatusOpen, Priority: 2},
	}))
}

func TestAssignToAgent(t *testing.T) {
	d, store, _ := setupDispatch(t)
	ctx := context.Background()
	seedAssignment(t, store, true)

	task, isNew, err := d.AssignToAgent(ctx, "el-70a001", "el-a6e001", AssignOptions{
		SessionID:     "sess-1",
		MarkAsStarted: true,
	})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "el-a6e001", task.Task.Assignee)
	assert.Equal(t, types.StatusInProgress, task.Task.Status)

	orch := task.Task.Orchestrator
	require.NotNil(t, orch)
	assert.Equal(t, "agent/worker-one/el-70a001-fix-the-parser", orch.Branch)
	assert.Equal(t, ".stoneforge/.worktrees/worker-one-fix-the-parser", orch.Worktree)
	assert.Equal(t, "el-a6e001", orch.AssignedAgent)
	assert.NotNil(t, orch.StartedAt)
	require.Len(t, orch.SessionHistory, 1)
	assert.Equal(t, "sess-1", orch.SessionHistory[0].SessionID)

	// Re-assigning to the same agent is not a new assignment.
	_, isNew, err = d.AssignToAgent(ctx, "el-70a001", "el-a6e001", AssignOptions{})
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestAssignExplicitBranchWins(t *testing.T) {
	d, store, _ := setupDispatch(t)
	ctx := context.Background()
	seedAssignment(t, store, true)

	task, _, err := d.AssignToAgent(ctx, "el-70a001", "el-a6e001", AssignOptions{
		Branch:   "agent/custom/el-70a001-x",
		Worktree: "/tmp/custom",
	})
	require.NoError(t, err)
	assert.Equal(t, "agent/custom/el-70a001-x", task.Task.Orchestrator.Branch)
	assert.Equal(t, "/tmp/custom", task.Task.Orchestrator.Worktree)
}

func TestDispatchHappyPath(t *testing.T) {
	d, store, bus := setupDispatch(t)
	ctx := context.Background()
	seedAssignment(t, store, true)

	var fired *eventbus.Event
	bus.Register(&eventbus.HandlerFunc{
		Name:  "capture",
		Types: []eventbus.EventType{eventbus.EventTaskAssigned},
		Callback: func(_ context.Context, ev *eventbus.Event, _ *eventbus.Result) error {
			fired = ev
			return nil
		},
	})

	res, err := d.Dispatch(ctx, "el-70a001", "el-a6e001", AssignOptions{MarkAsStarted: true})
	require.NoError(t, err)

	assert.True(t, res.IsNewAssignment)
	assert.Equal(t, "el-c4a001", res.Channel.ID)
	assert.False(t, res.DispatchedAt.IsZero())
	assert.Equal(t, "el-a6e001", res.Task.Task.Assignee)

	require.NotNil(t, res.Notification)
	assert.Equal(t, types.ElementDocument, res.Notification.Type)
	assert.Contains(t, res.Notification.Tags, NotificationTag)
	assert.Equal(t, "text", res.Notification.Metadata["content_type"])

	require.NotNil(t, res.Message)
	assert.Equal(t, types.ElementMessage, res.Message.Type)
	assert.Equal(t, "task-assignment", res.Message.Metadata["type"])
	assert.Equal(t, "el-70a001", res.Message.Metadata["taskId"])
	assert.Equal(t, true, res.Message.Metadata["suppressInbox"])
	assert.Equal(t, "el-c4a001", res.Message.Metadata["channel_id"])

	// Both notification elements were persisted.
	doc, err := store.GetElement(ctx, res.Notification.ID)
	require.NoError(t, err)
	assert.Contains(t, doc.Tags, NotificationTag)
	_, err = store.GetElement(ctx, res.Message.ID)
	require.NoError(t, err)

	require.NotNil(t, fired)
	assert.Equal(t, "el-70a001", fired.ElementID)
	assert.Equal(t, "el-a6e001", fired.AgentID)
}

func TestDispatchMissingChannelLeavesTaskUnassigned(t *testing.T) {
	d, store, _ := setupDispatch(t)
	ctx := context.Background()
	seedAssignment(t, store, false)

	_, err := d.Dispatch(ctx, "el-70a001", "el-a6e001", AssignOptions{})
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))

	// The channel lookup runs before the assignment write, so the task
	// is untouched.
	task, err := store.GetElement(ctx, "el-70a001")
	require.NoError(t, err)
	assert.Empty(t, task.Task.Assignee)
	assert.Nil(t, task.Task.Orchestrator)
}

func TestDispatchNotFound(t *testing.T) {
	d, store, _ := setupDispatch(t)
	ctx := context.Background()
	seedAssignment(t, store, true)

	_, err := d.Dispatch(ctx, "el-dead01", "el-a6e001", AssignOptions{})
	assert.True(t, types.IsNotFound(err))

	_, err = d.Dispatch(ctx, "el-70a001", "el-dead02", AssignOptions{})
	assert.True(t, types.IsNotFound(err))
}

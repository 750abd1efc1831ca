package steward

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/eventbus"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/storage/sqlite"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedSteward(t *testing.T, store storage.Store, id string, focus string, triggers []map[string]any) {
	t.Helper()
	now := time.Now().UTC()
	md := map[string]any{"role": "steward", "steward_focus": focus}
	if triggers != nil {
		md["triggers"] = triggers
	}
	require.NoError(t, store.CreateElement(context.Background(), &types.Element{
		ID: id, Type: types.ElementEntity, Title: "steward-" + focus,
		Metadata:  md,
		CreatedAt: now, UpdatedAt: now, CreatedBy: "tester",
	}))
}

func seedPendingTask(t *testing.T, store storage.Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.CreateElement(context.Background(), &types.Element{
		ID: id, Type: types.ElementTask, Title: id,
		CreatedAt: now, UpdatedAt: now, CreatedBy: "tester",
		Task: &types.TaskData{
			Status:       types.StatusClosed,
			Priority:     1,
			Orchestrator: &types.OrchestratorMeta{MergeStatus: types.MergePending},
		},
	}))
}

func TestExecuteStewardNotASteward(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	s := NewScheduler(store, nil, BuiltinExecutor(nil, nil, nil), nil)

	res := s.ExecuteSteward(ctx, "el-dead01", "manual")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	now := time.Now().UTC()
	require.NoError(t, store.CreateElement(ctx, &types.Element{
		ID: "el-a6e0f1", Type: types.ElementEntity, Title: "plain entity",
		Metadata:  map[string]any{"role": "worker"},
		CreatedAt: now, UpdatedAt: now, CreatedBy: "tester",
	}))
	res = s.ExecuteSteward(ctx, "el-a6e0f1", "manual")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not a steward")

	history := s.History()
	require.Len(t, history, 2)
	assert.GreaterOrEqual(t, history[0].DurationMs, int64(0))
}

func TestExecuteStewardErrorIsolation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedSteward(t, store, "el-5de001", "merge", nil)

	failing := func(context.Context, *types.Element, *types.AgentProfile, string) (*ExecuteResult, error) {
		return nil, errors.New("upstream broke")
	}
	s := NewScheduler(store, nil, failing, nil)
	res := s.ExecuteSteward(ctx, "el-5de001", "manual")
	assert.False(t, res.Success)
	assert.Equal(t, "upstream broke", res.Error)

	panicking := func(context.Context, *types.Element, *types.AgentProfile, string) (*ExecuteResult, error) {
		panic("boom")
	}
	s = NewScheduler(store, nil, panicking, nil)
	res = s.ExecuteSteward(ctx, "el-5de001", "manual")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")

	history := s.History()
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
}

func TestBuiltinExecutorUnknownFocus(t *testing.T) {
	store := newStore(t)
	seedSteward(t, store, "el-5de002", "custom", nil)

	s := NewScheduler(store, nil, BuiltinExecutor(nil, nil, nil), nil)
	res := s.ExecuteSteward(context.Background(), "el-5de002", "manual")
	assert.False(t, res.Success)
	assert.Equal(t, "Unknown steward focus", res.Output)

	history := s.History()
	require.Len(t, history, 1)
	assert.GreaterOrEqual(t, history[0].DurationMs, int64(0))
}

type fakeMergeService struct{ stats MergeStats }

func (f *fakeMergeService) ProcessAllPending(context.Context) (*MergeStats, error) {
	return &f.stats, nil
}

func TestBuiltinExecutorMergeFocus(t *testing.T) {
	store := newStore(t)
	seedSteward(t, store, "el-5de003", "merge", nil)

	svc := &fakeMergeService{stats: MergeStats{TotalProcessed: 3, MergedCount: 2, ConflictCount: 1}}
	s := NewScheduler(store, nil, BuiltinExecutor(svc, nil, nil), nil)

	res := s.ExecuteSteward(context.Background(), "el-5de003", "manual")
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.ItemsProcessed)
	assert.Contains(t, res.Output, "2 merged")
	assert.Contains(t, res.Output, "1 conflicts")
	assert.NotContains(t, res.Output, "{", "output reads as a sentence, not serialized stats")
}

type fakeCompleter struct {
	system, prompt string
	reply          string
	err            error
}

func (f *fakeCompleter) Complete(_ context.Context, system, prompt string) (string, error) {
	f.system, f.prompt = system, prompt
	return f.reply, f.err
}

func TestBuiltinExecutorDocsCompletionFallback(t *testing.T) {
	store := newStore(t)
	seedSteward(t, store, "el-5de007", "docs", nil)

	fake := &fakeCompleter{reply: "Docs are current; two runbooks need owners."}
	s := NewScheduler(store, nil, BuiltinExecutor(nil, nil, fake), nil)

	res := s.ExecuteSteward(context.Background(), "el-5de007", "manual")
	assert.True(t, res.Success)
	assert.Equal(t, fake.reply, res.Output)
	assert.Equal(t, 1, res.ItemsProcessed)
	assert.Contains(t, fake.prompt, "steward-docs")

	// Without a session manager or a completer there is nothing to run.
	s = NewScheduler(store, nil, BuiltinExecutor(nil, nil, nil), nil)
	res = s.ExecuteSteward(context.Background(), "el-5de007", "manual")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not configured")

	fake.err = errors.New("api unreachable")
	s = NewScheduler(store, nil, BuiltinExecutor(nil, nil, fake), nil)
	res = s.ExecuteSteward(context.Background(), "el-5de007", "manual")
	assert.False(t, res.Success)
	assert.Equal(t, "api unreachable", res.Error)
}

func TestMergeStewardProcessAllPending(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedPendingTask(t, store, "el-0e1001")
	seedPendingTask(t, store, "el-0e1002")
	seedPendingTask(t, store, "el-0e1003")

	// A task outside the pending state is left alone.
	now := time.Now().UTC()
	require.NoError(t, store.CreateElement(ctx, &types.Element{
		ID: "el-0e1004", Type: types.ElementTask, Title: "already merged",
		CreatedAt: now, UpdatedAt: now, CreatedBy: "tester",
		Task: &types.TaskData{
			Status:       types.StatusClosed,
			Orchestrator: &types.OrchestratorMeta{MergeStatus: types.MergeMerged},
		},
	}))

	runner := func(_ context.Context, task *types.Element) (types.MergeStatus, error) {
		switch task.ID {
		case "el-0e1002":
			return types.MergeConflict, nil
		case "el-0e1003":
			return "", errors.New("git exploded")
		}
		return types.MergeMerged, nil
	}
	ms := NewMergeSteward(store, nil, runner)

	stats, err := ms.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalProcessed)
	assert.Equal(t, 1, stats.MergedCount)
	assert.Equal(t, 1, stats.ConflictCount)
	assert.Equal(t, 1, stats.ErrorCount)

	merged, err := store.GetElement(ctx, "el-0e1001")
	require.NoError(t, err)
	assert.Equal(t, types.MergeMerged, merged.Task.Orchestrator.MergeStatus)
	assert.NotNil(t, merged.Task.Orchestrator.MergedAt)

	failed, err := store.GetElement(ctx, "el-0e1003")
	require.NoError(t, err)
	assert.Equal(t, types.MergeFailed, failed.Task.Orchestrator.MergeStatus)

	// Second pass finds nothing pending.
	stats, err = ms.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalProcessed)
}

func TestCronTick(t *testing.T) {
	store := newStore(t)
	seedSteward(t, store, "el-5de004", "merge", []map[string]any{
		{"kind": "cron", "schedule": "* * * * *"},
	})
	seedSteward(t, store, "el-5de005", "merge", []map[string]any{
		{"kind": "event", "event": "sync.imported"},
	})

	var runs atomic.Int32
	counting := func(context.Context, *types.Element, *types.AgentProfile, string) (*ExecuteResult, error) {
		runs.Add(1)
		return &ExecuteResult{Success: true}, nil
	}
	s := NewScheduler(store, nil, counting, nil)

	s.Tick(context.Background())
	// Only the cron steward fires on a tick.
	assert.Equal(t, int32(1), runs.Load())

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, "el-5de004", history[0].StewardID)
	assert.Equal(t, "cron:* * * * *", history[0].Trigger)
}

func TestEventTrigger(t *testing.T) {
	store := newStore(t)
	bus := eventbus.New(nil)
	seedSteward(t, store, "el-5de006", "merge", []map[string]any{
		{"kind": "event", "event": "sync.imported"},
	})

	var runs atomic.Int32
	counting := func(_ context.Context, agent *types.Element, _ *types.AgentProfile, trigger string) (*ExecuteResult, error) {
		runs.Add(1)
		return &ExecuteResult{Success: true, Output: trigger}, nil
	}
	s := NewScheduler(store, bus, counting, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	_, err := bus.Dispatch(ctx, &eventbus.Event{Type: eventbus.EventSyncImported})
	require.NoError(t, err)
	assert.Equal(t, int32(1), runs.Load())

	// Unrelated events do not fire the trigger.
	_, err = bus.Dispatch(ctx, &eventbus.Event{Type: eventbus.EventElementCreated})
	require.NoError(t, err)
	assert.Equal(t, int32(1), runs.Load())

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, "event:sync.imported", history[0].Trigger)
}

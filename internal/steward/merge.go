package steward

import (
	"context"
	"log/slog"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// MergeRunner integrates one task's branch and reports the resulting
// merge status. The default runner marks tasks merged outright; real
// deployments plug in a runner that drives git and the test suite.
type MergeRunner func(ctx context.Context, task *types.Element) (types.MergeStatus, error)

// MergeSteward drains tasks whose orchestrator record sits in the
// pending merge state.
type MergeSteward struct {
	store  storage.Store
	logger *slog.Logger
	run    MergeRunner
	now    func() time.Time
}

// NewMergeSteward creates a merge steward. A nil runner marks every
// pending task merged.
func NewMergeSteward(store storage.Store, logger *slog.Logger, run MergeRunner) *MergeSteward {
	if logger == nil {
		logger = slog.Default()
	}
	if run == nil {
		run = func(context.Context, *types.Element) (types.MergeStatus, error) {
			return types.MergeMerged, nil
		}
	}
	return &MergeSteward{store: store, logger: logger, run: run, now: time.Now}
}

// ProcessAllPending runs the merge runner over every pending task and
// records the outcome on each task's orchestrator record. Per-task
// failures are counted, not propagated.
func (m *MergeSteward) ProcessAllPending(ctx context.Context) (*MergeStats, error) {
	tasks, err := m.store.ListElements(ctx, storage.ElementFilter{
		Types: []types.ElementType{types.ElementTask},
	})
	if err != nil {
		return nil, err
	}

	stats := &MergeStats{}
	for _, task := range tasks {
		if task.Task == nil || task.Task.Orchestrator == nil {
			continue
		}
		if task.Task.Orchestrator.MergeStatus != types.MergePending {
			continue
		}
		stats.TotalProcessed++

		status, runErr := m.run(ctx, task)
		if runErr != nil {
			status = types.MergeFailed
			m.logger.Warn("merge runner failed", "task", task.ID, "error", runErr)
		}

		orch := task.Task.Orchestrator.Clone()
		orch.MergeStatus = status
		if status == types.MergeMerged {
			now := m.now().UTC()
			orch.MergedAt = &now
		}
		if _, err := m.store.UpdateElement(ctx, task.ID, storage.ElementPatch{Orchestrator: orch}, "merge-steward"); err != nil {
			m.logger.Warn("merge status write failed", "task", task.ID, "error", err)
			stats.ErrorCount++
			continue
		}

		switch status {
		case types.MergeMerged:
			stats.MergedCount++
		case types.MergeConflict:
			stats.ConflictCount++
		case types.MergeTestFailed:
			stats.TestFailedCount++
		default:
			stats.ErrorCount++
		}
	}
	return stats, nil
}

package steward

import (
	"context"
	"fmt"

	"github.com/stoneforge-ai/stoneforge/internal/session"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// MergeService processes tasks waiting in the merge pipeline.
type MergeService interface {
	ProcessAllPending(ctx context.Context) (*MergeStats, error)
}

// MergeStats summarizes one merge steward pass.
type MergeStats struct {
	TotalProcessed  int `json:"totalProcessed"`
	MergedCount     int `json:"mergedCount"`
	ConflictCount   int `json:"conflictCount"`
	TestFailedCount int `json:"testFailedCount"`
	ErrorCount      int `json:"errorCount"`
}

// Summary renders the pass for humans and logs.
func (s *MergeStats) Summary() string {
	return fmt.Sprintf("Processed %d pending tasks: %d merged, %d conflicts, %d test failures, %d errors",
		s.TotalProcessed, s.MergedCount, s.ConflictCount, s.TestFailedCount, s.ErrorCount)
}

// SessionStarter is the slice of the session manager the docs steward
// needs.
type SessionStarter interface {
	StartSession(ctx context.Context, agentID string, opts session.StartOptions) (*session.Headless, error)
}

// Completer is the one-shot completion slice of the API client, the
// docs steward's fallback when no provider session can start.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

const docsDigestSystem = "You are a documentation steward for an agent team. " +
	"Summarize outstanding documentation work in a few sentences."

// BuiltinExecutor wires the built-in steward focuses: merge stewards
// drain the merge pipeline, docs stewards spawn a session (falling back
// to a one-shot API completion when none can start), anything else
// reports an unknown focus without failing the scheduler.
func BuiltinExecutor(merge MergeService, sessions SessionStarter, completer Completer) Executor {
	return func(ctx context.Context, agent *types.Element, profile *types.AgentProfile, trigger string) (*ExecuteResult, error) {
		switch profile.StewardFocus {
		case types.FocusMerge:
			if merge == nil {
				return &ExecuteResult{Success: false, Error: "merge service not configured"}, nil
			}
			stats, err := merge.ProcessAllPending(ctx)
			if err != nil {
				return &ExecuteResult{Success: false, Error: err.Error()}, nil
			}
			return &ExecuteResult{
				Success:        true,
				Output:         stats.Summary(),
				ItemsProcessed: stats.TotalProcessed,
			}, nil

		case types.FocusDocs:
			if sessions != nil {
				h, err := sessions.StartSession(ctx, agent.ID, session.StartOptions{
					Role:       types.RoleSteward,
					Executable: profile.Executable,
				})
				if err == nil {
					return &ExecuteResult{
						Success: true,
						Output:  fmt.Sprintf(`{"spawned":1,"session_id":%q}`, h.ID()),
					}, nil
				}
				if completer == nil {
					return &ExecuteResult{Success: false, Error: err.Error()}, nil
				}
			}
			if completer == nil {
				return &ExecuteResult{Success: false, Error: "session manager not configured"}, nil
			}
			digest, err := completer.Complete(ctx, docsDigestSystem,
				fmt.Sprintf("Draft a documentation status digest for the team served by %s.", agent.Title))
			if err != nil {
				return &ExecuteResult{Success: false, Error: err.Error()}, nil
			}
			return &ExecuteResult{Success: true, Output: digest, ItemsProcessed: 1}, nil
		}

		return &ExecuteResult{Success: false, Output: "Unknown steward focus"}, nil
	}
}

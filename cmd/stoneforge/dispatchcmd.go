package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stoneforge-ai/stoneforge/internal/dispatch"
)

var (
	dispatchBranch   string
	dispatchWorktree string
	dispatchSession  string
	dispatchStart    bool
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <task-id> <agent-id>",
	Short: "Assign a task to an agent and notify its channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := dispatch.New(store, bus, logger, cfg.Actor)
		res, err := d.Dispatch(cmd.Context(), args[0], args[1], dispatch.AssignOptions{
			Branch:        dispatchBranch,
			Worktree:      dispatchWorktree,
			SessionID:     dispatchSession,
			MarkAsStarted: dispatchStart,
		})
		if err != nil {
			return err
		}
		autoExport(cmd)

		verb := "re-dispatched"
		if res.IsNewAssignment {
			verb = "dispatched"
		}
		human := fmt.Sprintf("%s %s to %s\n  branch:   %s\n  channel:  %s\n  notified: %s",
			verb, styleID.Render(res.Task.ID), styleID.Render(res.Agent.ID),
			res.Task.Task.Orchestrator.Branch,
			styleID.Render(res.Channel.ID), styleID.Render(res.Message.ID))
		return emit(res, human)
	},
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchBranch, "branch", "", "work branch (default agent/{name}/{task}-{slug})")
	dispatchCmd.Flags().StringVar(&dispatchWorktree, "worktree", "", "worktree path override")
	dispatchCmd.Flags().StringVar(&dispatchSession, "session-id", "", "session to record in the task history")
	dispatchCmd.Flags().BoolVar(&dispatchStart, "start", false, "move the task to in_progress")
}

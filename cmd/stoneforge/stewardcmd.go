package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stoneforge-ai/stoneforge/internal/session"
	"github.com/stoneforge-ai/stoneforge/internal/steward"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

var stewardCmd = &cobra.Command{
	Use:   "steward",
	Short: "Run background maintenance agents",
}

var stewardRunCmd = &cobra.Command{
	Use:   "run <agent-id>",
	Short: "Execute a steward once, outside its schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sched := steward.NewScheduler(store, bus, builtinExecutor(newLauncher()), logger)
		res := sched.ExecuteSteward(cmd.Context(), args[0], "manual")
		autoExport(cmd)

		human := fmt.Sprintf("steward %s: ok", styleID.Render(args[0]))
		if res.ItemsProcessed > 0 {
			human += fmt.Sprintf(" (%d items)", res.ItemsProcessed)
		}
		if !res.Success {
			human = fmt.Sprintf("steward %s: %s", styleID.Render(args[0]), styleError.Render(res.Error))
		}
		if err := emit(res, human); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("steward execution failed: %s", res.Error)
		}
		return nil
	},
}

// builtinExecutor assembles the built-in steward focuses. The one-shot
// API fallback is only offered when a key is configured.
func builtinExecutor(launch *launcher) steward.Executor {
	merge := steward.NewMergeSteward(store, logger, nil)
	var completer steward.Completer
	if api, err := session.NewAPIClient("", ""); err == nil {
		completer = api
	}
	return steward.BuiltinExecutor(merge, launch, completer)
}

func init() {
	stewardCmd.AddCommand(stewardRunCmd, stewardListCmd)
}

var stewardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List steward agents and their triggers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		els, err := store.ListElements(cmd.Context(), storage.ElementFilter{
			Types: []types.ElementType{types.ElementEntity},
		})
		if err != nil {
			return err
		}
		type stewardRow struct {
			ID       string                 `json:"id"`
			Name     string                 `json:"name"`
			Focus    string                 `json:"focus"`
			Triggers []types.StewardTrigger `json:"triggers,omitempty"`
		}
		var rows []stewardRow
		var lines []string
		for _, el := range els {
			profile, err := types.ProfileFromElement(el)
			if err != nil || profile.Role != types.RoleSteward {
				continue
			}
			rows = append(rows, stewardRow{
				ID: el.ID, Name: el.Title,
				Focus: string(profile.StewardFocus), Triggers: profile.Triggers,
			})
			var trig []string
			for _, t := range profile.Triggers {
				if t.Schedule != "" {
					trig = append(trig, "cron:"+t.Schedule)
				} else {
					trig = append(trig, "event:"+t.Event)
				}
			}
			lines = append(lines, fmt.Sprintf("%s  %s  %s  %s",
				styleID.Render(el.ID), styleTitle.Render(el.Title),
				profile.StewardFocus, styleDim.Render(strings.Join(trig, " "))))
		}
		if rows == nil {
			rows = []stewardRow{}
		}
		human := strings.Join(lines, "\n")
		if human == "" {
			human = styleDim.Render("no stewards")
		}
		return emit(rows, human)
	},
}

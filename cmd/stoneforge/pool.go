package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stoneforge-ai/stoneforge/internal/dispatch"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect concurrency pools",
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the configured pools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var b strings.Builder
		for _, p := range cfg.Pools {
			state := "enabled"
			if !p.Enabled {
				state = styleDim.Render("disabled")
			}
			fmt.Fprintf(&b, "%s  max %d  %s\n", styleTitle.Render(p.Name), p.MaxSize, state)
			for _, at := range p.AgentTypes {
				desc := string(at.Role)
				if at.WorkerMode != "" {
					desc += "/" + string(at.WorkerMode)
				}
				if at.StewardFocus != "" {
					desc += "/" + string(at.StewardFocus)
				}
				slots := "unbounded"
				if at.MaxSlots > 0 {
					slots = fmt.Sprintf("%d slots", at.MaxSlots)
				}
				fmt.Fprintf(&b, "  %-24s priority %d, %s\n", desc, at.Priority, slots)
			}
		}
		human := strings.TrimRight(b.String(), "\n")
		if human == "" {
			human = styleDim.Render("no pools configured")
		}
		return emit(cfg.Pools, human)
	},
}

var (
	poolCheckRole  string
	poolCheckMode  string
	poolCheckFocus string
)

var poolCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether an agent shape would be admitted right now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := dispatch.NewPoolManager(cfg.Pools)
		if err != nil {
			return err
		}
		adm := mgr.SpawnCheck(dispatch.SpawnRequest{
			Role:         types.AgentRole(poolCheckRole),
			WorkerMode:   types.WorkerMode(poolCheckMode),
			StewardFocus: types.StewardFocus(poolCheckFocus),
		})
		human := fmt.Sprintf("pool %s: admitted", styleTitle.Render(adm.Pool))
		if !adm.CanSpawn {
			human = styleError.Render("rejected: ") + adm.Reason
		}
		return emit(adm, human)
	},
}

func init() {
	poolCmd.AddCommand(poolListCmd, poolCheckCmd)
	poolCheckCmd.Flags().StringVar(&poolCheckRole, "role", string(types.RoleWorker), "agent role")
	poolCheckCmd.Flags().StringVar(&poolCheckMode, "mode", "", "worker mode")
	poolCheckCmd.Flags().StringVar(&poolCheckFocus, "focus", "", "steward focus")
}

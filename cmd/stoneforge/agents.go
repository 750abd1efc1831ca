package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stoneforge-ai/stoneforge/internal/playbook"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage agent entities",
}

var agentsApplyCmd = &cobra.Command{
	Use:   "apply [playbook.toml ...]",
	Short: "Materialize playbook agents and channels into the store",
	Long: "Materialize playbook agents and channels into the store.\n" +
		"Without arguments, applies the playbooks listed in config.yaml.",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := args
		if len(paths) == 0 {
			paths = cfg.Playbooks.Paths
		}
		if len(paths) == 0 {
			return types.NewError(types.KindValidation, types.CodeInvalidInput,
				"no playbooks given and none configured")
		}
		books, err := playbook.LoadAll(paths)
		if err != nil {
			return err
		}

		created := 0
		channels := 0
		var human strings.Builder
		for _, pb := range books {
			res, err := playbook.Materialize(cmd.Context(), store, pb, cfg.Actor)
			if err != nil {
				return err
			}
			created += len(res.Agents)
			channels += len(res.Channels)
			fmt.Fprintf(&human, "%s: %d agents, %d channels\n", pb.Name, len(res.Agents), len(res.Channels))
		}
		autoExport(cmd)
		return emit(map[string]any{"agents_created": created, "channels": channels},
			strings.TrimRight(human.String(), "\n"))
	},
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent entities and their profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		els, err := store.ListElements(cmd.Context(), storage.ElementFilter{
			Types: []types.ElementType{types.ElementEntity},
		})
		if err != nil {
			return err
		}

		type agentRow struct {
			ID      string               `json:"id"`
			Name    string               `json:"name"`
			Profile *types.AgentProfile  `json:"profile"`
		}
		var rows []agentRow
		var lines []string
		for _, el := range els {
			profile, err := types.ProfileFromElement(el)
			if err != nil {
				// Entities without a profile are not agents.
				continue
			}
			rows = append(rows, agentRow{ID: el.ID, Name: el.Title, Profile: profile})
			desc := string(profile.Role)
			if profile.WorkerMode != "" {
				desc += "/" + string(profile.WorkerMode)
			}
			if profile.StewardFocus != "" {
				desc += "/" + string(profile.StewardFocus)
			}
			lines = append(lines, fmt.Sprintf("%s  %s  %s",
				styleID.Render(el.ID), styleTitle.Render(el.Title), styleDim.Render(desc)))
		}
		if rows == nil {
			rows = []agentRow{}
		}
		human := strings.Join(lines, "\n")
		if human == "" {
			human = styleDim.Render("no agents")
		}
		return emit(rows, human)
	},
}

func init() {
	agentsCmd.AddCommand(agentsApplyCmd, agentsListCmd)
}

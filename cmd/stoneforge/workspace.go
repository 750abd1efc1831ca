package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stoneforge-ai/stoneforge/internal/config"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

const defaultConfigYAML = `# Stoneforge workspace configuration.
actor: stoneforge
database: stoneforge.db

sync:
  auto_export: true
  elements_file: elements.jsonl
  dependencies_file: dependencies.jsonl

identity:
  mode: config # or "env" to read STONEFORGE_ACTOR

session:
  executable: claude
  fallback_chain: [claude]

log:
  level: info
`

const workspaceGitignore = `stoneforge.db
stoneforge.db-*
.worktrees/
sync/conflicts.jsonl
*.log
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the .stoneforge workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// setup already created the directory tree and database.
		wrote := []string{}
		cfgPath := filepath.Join(cfg.Dir, config.DefaultConfigFile)
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := os.WriteFile(cfgPath, []byte(defaultConfigYAML), 0o644); err != nil {
				return types.WrapError(types.KindStorage, types.CodeDatabaseError, "write config", err)
			}
			wrote = append(wrote, cfgPath)
		}
		ignorePath := filepath.Join(cfg.Dir, ".gitignore")
		if _, err := os.Stat(ignorePath); os.IsNotExist(err) {
			if err := os.WriteFile(ignorePath, []byte(workspaceGitignore), 0o644); err != nil {
				return types.WrapError(types.KindStorage, types.CodeDatabaseError, "write gitignore", err)
			}
			wrote = append(wrote, ignorePath)
		}
		for _, sub := range []string{"playbooks", ".worktrees"} {
			if err := os.MkdirAll(filepath.Join(cfg.Dir, sub), 0o755); err != nil {
				return types.WrapError(types.KindStorage, types.CodeDatabaseError, "create workspace directory", err)
			}
		}
		human := fmt.Sprintf("workspace ready at %s", cfg.Dir)
		if len(wrote) > 0 {
			human += "\n  wrote " + strings.Join(wrote, ", ")
		}
		return emit(map[string]any{"workspace": cfg.Dir, "wrote": wrote}, human)
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Summarize the workspace: element counts, dirty set, config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		els, err := store.ListElements(ctx, storage.ElementFilter{IncludeTombstones: true})
		if err != nil {
			return err
		}
		byType := map[string]int{}
		byStatus := map[string]int{}
		tombstones := 0
		for _, el := range els {
			if el.IsTombstone() {
				tombstones++
				continue
			}
			byType[string(el.Type)]++
			if el.Task != nil {
				byStatus[string(el.Task.Status)]++
			}
		}
		dirty, err := store.GetDirtyElements(ctx)
		if err != nil {
			return err
		}

		var b strings.Builder
		fmt.Fprintf(&b, "workspace  %s\n", cfg.Dir)
		fmt.Fprintf(&b, "actor      %s\n", cfg.Actor)
		fmt.Fprintf(&b, "database   %s\n", cfg.DatabasePath())
		for t, n := range byType {
			fmt.Fprintf(&b, "%-10s %d\n", t, n)
		}
		for s, n := range byStatus {
			fmt.Fprintf(&b, "  %-8s %d\n", s, n)
		}
		fmt.Fprintf(&b, "tombstones %d\n", tombstones)
		fmt.Fprintf(&b, "dirty      %d (pending export)", len(dirty))
		return emit(map[string]any{
			"workspace":  cfg.Dir,
			"actor":      cfg.Actor,
			"by_type":    byType,
			"by_status":  byStatus,
			"tombstones": tombstones,
			"dirty":      len(dirty),
		}, b.String())
	},
}

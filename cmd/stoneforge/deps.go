package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stoneforge-ai/stoneforge/internal/eventbus"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/taskgraph"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage dependency edges",
}

var depType string

var depAddCmd = &cobra.Command{
	Use:   "add <blocked-id> <blocker-id>",
	Short: "Add a dependency edge; blocking edges are cycle-checked",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dep := &types.Dependency{
			BlockedID: args[0],
			BlockerID: args[1],
			Type:      types.DependencyType(depType),
			CreatedAt: time.Now().UTC(),
			CreatedBy: cfg.Actor,
		}
		if err := taskgraph.New(store).AddDependencyChecked(cmd.Context(), dep); err != nil {
			return err
		}
		publish(cmd, &eventbus.Event{Type: eventbus.EventElementUpdated, ElementID: dep.BlockedID, Actor: cfg.Actor})
		autoExport(cmd)
		return emit(dep, fmt.Sprintf("%s now depends on %s (%s)",
			styleID.Render(dep.BlockedID), styleID.Render(dep.BlockerID), dep.Type))
	},
}

var depRemoveCmd = &cobra.Command{
	Use:   "remove <blocked-id> <blocker-id>",
	Short: "Remove a dependency edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := store.RemoveDependency(cmd.Context(), args[0], args[1], types.DependencyType(depType))
		if err != nil {
			return err
		}
		publish(cmd, &eventbus.Event{Type: eventbus.EventElementUpdated, ElementID: args[0], Actor: cfg.Actor})
		autoExport(cmd)
		return emit(map[string]any{"removed": true},
			fmt.Sprintf("removed %s -> %s", styleID.Render(args[0]), styleID.Render(args[1])))
	},
}

var depListCmd = &cobra.Command{
	Use:   "list <id>",
	Short: "List an element's dependencies and dependents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		deps, err := store.GetDependencies(ctx, args[0], nil)
		if err != nil {
			return err
		}
		dependents, err := store.GetDependents(ctx, args[0], nil)
		if err != nil {
			return err
		}
		human := ""
		for _, d := range deps {
			human += fmt.Sprintf("depends on %s (%s)\n", styleID.Render(d.BlockerID), d.Type)
		}
		for _, d := range dependents {
			human += fmt.Sprintf("blocks %s (%s)\n", styleID.Render(d.BlockedID), d.Type)
		}
		if human == "" {
			human = styleDim.Render("no edges")
		}
		return emit(map[string]any{"depends_on": deps, "dependents": dependents}, human)
	},
}

var (
	readyLimit    int
	readyAssignee string
	readyTag      string
)

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Show ready work: open, undeferred, with no open blockers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		els, err := taskgraph.New(store).ReadyTasks(cmd.Context(), readyLimit, storage.ReadyFilter{
			Assignee: readyAssignee,
			Tag:      readyTag,
		})
		if err != nil {
			return err
		}
		if els == nil {
			els = []*types.Element{}
		}
		return emit(els, renderLines(els, "no ready work"))
	},
}

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Show open tasks that are blocked or deferred",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		els, err := taskgraph.New(store).Backlog(cmd.Context(), time.Now().UTC())
		if err != nil {
			return err
		}
		if els == nil {
			els = []*types.Element{}
		}
		return emit(els, renderLines(els, "backlog is empty"))
	},
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "Show open tasks waiting on open blockers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		els, err := taskgraph.New(store).BlockedTasks(cmd.Context())
		if err != nil {
			return err
		}
		if els == nil {
			els = []*types.Element{}
		}
		return emit(els, renderLines(els, "nothing blocked"))
	},
}

func init() {
	depCmd.AddCommand(depAddCmd, depRemoveCmd, depListCmd, depTreeCmd)
	depAddCmd.Flags().StringVarP(&depType, "type", "t", string(types.DepBlocks),
		"edge type (blocks, awaits, parent-child, relates-to, mentions, references)")
	depRemoveCmd.Flags().StringVarP(&depType, "type", "t", string(types.DepBlocks), "edge type")

	readyCmd.Flags().IntVar(&readyLimit, "limit", 20, "max results (0 = all)")
	readyCmd.Flags().StringVar(&readyAssignee, "assignee", "", "filter by assignee")
	readyCmd.Flags().StringVar(&readyTag, "tag", "", "filter by tag")
}

type depNode struct {
	ID       string     `json:"id"`
	Title    string     `json:"title,omitempty"`
	Edge     string     `json:"edge,omitempty"`
	Children []*depNode `json:"depends_on,omitempty"`
}

var depTreeCmd = &cobra.Command{
	Use:   "tree <id>",
	Short: "Show the blocking dependency tree rooted at an element",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := buildDepTree(cmd, args[0], "", map[string]bool{})
		if err != nil {
			return err
		}
		var b strings.Builder
		renderDepTree(&b, root, 0)
		return emit(root, strings.TrimRight(b.String(), "\n"))
	},
}

func buildDepTree(cmd *cobra.Command, id, edge string, seen map[string]bool) (*depNode, error) {
	node := &depNode{ID: id, Edge: edge}
	if el, err := store.GetElement(cmd.Context(), id); err == nil {
		node.Title = el.Title
	}
	if seen[id] {
		// Cycle guard: show the repeated node, do not descend.
		return node, nil
	}
	seen[id] = true
	deps, err := store.GetDependencies(cmd.Context(), id, types.BlockingTypes())
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		child, err := buildDepTree(cmd, d.BlockerID, string(d.Type), seen)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func renderDepTree(b *strings.Builder, n *depNode, depth int) {
	indent := strings.Repeat("  ", depth)
	label := styleID.Render(n.ID)
	if n.Title != "" {
		label += "  " + n.Title
	}
	if n.Edge != "" {
		label += "  " + styleDim.Render("("+n.Edge+")")
	}
	fmt.Fprintf(b, "%s%s\n", indent, label)
	for _, c := range n.Children {
		renderDepTree(b, c, depth+1)
	}
}

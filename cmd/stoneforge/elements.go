package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stoneforge-ai/stoneforge/internal/eventbus"
	"github.com/stoneforge-ai/stoneforge/internal/idgen"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/taskgraph"
	"github.com/stoneforge-ai/stoneforge/internal/timeparsing"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

var (
	createContent    string
	createTags       []string
	createPriority   int
	createComplexity int
	createAssignee   string
	createDefer      string
	createParent     string
)

var createCmd = &cobra.Command{
	Use:   "create <type> <title>",
	Short: "Create an element (task, document, message, entity, channel, ...)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		elType := types.ElementType(args[0])
		if !elType.IsValid() {
			return types.NewError(types.KindValidation, types.CodeInvalidInput,
				fmt.Sprintf("unknown element type %q", args[0]))
		}

		now := time.Now().UTC()
		el := &types.Element{
			Type:      elType,
			Title:     args[1],
			Content:   createContent,
			Tags:      createTags,
			CreatedAt: now,
			UpdatedAt: now,
			CreatedBy: cfg.Actor,
		}
		if elType == types.ElementTask {
			el.Task = &types.TaskData{
				Status:     types.StatusOpen,
				Priority:   createPriority,
				Complexity: createComplexity,
				Assignee:   createAssignee,
			}
			if createDefer != "" {
				until, err := timeparsing.Parse(createDefer, now)
				if err != nil {
					return err
				}
				el.Task.DeferredUntil = &until
			}
		}

		err := store.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
			if createParent != "" {
				n, err := tx.GetNextChildNumber(ctx, createParent)
				if err != nil {
					return err
				}
				el.ID = idgen.ChildID(createParent, n)
			} else {
				id, err := idgen.NewUniqueRootID(elType, cfg.Actor, now, func(id string) (bool, error) {
					return tx.ElementExists(ctx, id)
				})
				if err != nil {
					return err
				}
				el.ID = id
			}
			return tx.CreateElement(ctx, el)
		})
		if err != nil {
			return err
		}

		publish(cmd, &eventbus.Event{Type: eventbus.EventElementCreated, ElementID: el.ID, Actor: cfg.Actor})
		autoExport(cmd)
		return emit(el, renderElement(el))
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one element with its dependency edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		el, err := store.GetElement(ctx, args[0])
		if err != nil {
			return err
		}
		deps, err := store.GetDependencies(ctx, el.ID, nil)
		if err != nil {
			return err
		}
		dependents, err := store.GetDependents(ctx, el.ID, nil)
		if err != nil {
			return err
		}

		human := renderElement(el)
		for _, d := range deps {
			human += fmt.Sprintf("\n  depends on %s (%s)", styleID.Render(d.BlockerID), d.Type)
		}
		for _, d := range dependents {
			human += fmt.Sprintf("\n  blocks %s (%s)", styleID.Render(d.BlockedID), d.Type)
		}
		return emit(map[string]any{
			"element":    el,
			"depends_on": deps,
			"dependents": dependents,
		}, human)
	},
}

var (
	listTypes      []string
	listStatuses   []string
	listAssignee   string
	listTag        string
	listLimit      int
	listOffset     int
	listTombstones bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List elements",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := storage.ElementFilter{
			Assignee:          listAssignee,
			Tag:               listTag,
			IncludeTombstones: listTombstones,
			Limit:             listLimit,
			Offset:            listOffset,
		}
		for _, t := range listTypes {
			filter.Types = append(filter.Types, types.ElementType(t))
		}
		for _, s := range listStatuses {
			filter.Statuses = append(filter.Statuses, types.TaskStatus(s))
		}
		els, err := store.ListElements(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if els == nil {
			els = []*types.Element{}
		}
		return emit(els, renderLines(els, "no elements"))
	},
}

var (
	updateTitle    string
	updateContent  string
	updateTags     []string
	updateStatus   string
	updatePriority int
	updateAssignee string
	updateDefer    string
	updateUndefer  bool
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update element fields; unset flags are left untouched",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch storage.ElementPatch
		flags := cmd.Flags()
		if flags.Changed("title") {
			patch.Title = &updateTitle
		}
		if flags.Changed("content") {
			patch.Content = &updateContent
		}
		if flags.Changed("tag") {
			patch.Tags = &updateTags
		}
		if flags.Changed("status") {
			s := types.TaskStatus(updateStatus)
			patch.Status = &s
		}
		if flags.Changed("priority") {
			patch.Priority = &updatePriority
		}
		if flags.Changed("assignee") {
			patch.Assignee = &updateAssignee
		}
		if flags.Changed("defer") {
			until, err := timeparsing.Parse(updateDefer, time.Now().UTC())
			if err != nil {
				return err
			}
			patch.DeferredUntil = &until
		}
		patch.ClearDeferred = updateUndefer

		el, err := store.UpdateElement(cmd.Context(), args[0], patch, cfg.Actor)
		if err != nil {
			return err
		}
		publish(cmd, &eventbus.Event{Type: eventbus.EventElementUpdated, ElementID: el.ID, Actor: cfg.Actor})
		autoExport(cmd)
		return emit(el, renderElement(el))
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := types.StatusClosed
		el, err := store.UpdateElement(cmd.Context(), args[0], storage.ElementPatch{Status: &status}, cfg.Actor)
		if err != nil {
			return err
		}
		publish(cmd, &eventbus.Event{Type: eventbus.EventTaskCompleted, ElementID: el.ID, Actor: cfg.Actor})
		autoExport(cmd)
		return emit(el, fmt.Sprintf("closed %s", styleID.Render(el.ID)))
	},
}

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete an element (writes a tombstone)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		el, err := store.GetElement(ctx, args[0])
		if err != nil {
			return err
		}
		if el.Type == types.ElementTask {
			// Tasks refuse deletion while dependents point at them.
			err = taskgraph.New(store).DeleteTask(ctx, el.ID, cfg.Actor, deleteForce)
		} else {
			err = store.DeleteElement(ctx, el.ID, cfg.Actor)
		}
		if err != nil {
			return err
		}
		publish(cmd, &eventbus.Event{Type: eventbus.EventElementDeleted, ElementID: el.ID, Actor: cfg.Actor})
		autoExport(cmd)
		return emit(map[string]any{"deleted": el.ID}, fmt.Sprintf("deleted %s", styleID.Render(el.ID)))
	},
}

func init() {
	createCmd.Flags().StringVar(&createContent, "content", "", "element body")
	createCmd.Flags().StringSliceVar(&createTags, "tag", nil, "tag (repeatable)")
	createCmd.Flags().IntVarP(&createPriority, "priority", "p", 2, "task priority (0 highest)")
	createCmd.Flags().IntVar(&createComplexity, "complexity", 0, "task complexity estimate")
	createCmd.Flags().StringVar(&createAssignee, "assignee", "", "task assignee")
	createCmd.Flags().StringVar(&createDefer, "defer", "", "defer until (\"2h\", \"2025-03-01\", \"next monday\")")
	createCmd.Flags().StringVar(&createParent, "parent", "", "parent element id; allocates a child id")

	listCmd.Flags().StringSliceVar(&listTypes, "type", nil, "filter by element type (repeatable)")
	listCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "filter by task status (repeatable)")
	listCmd.Flags().StringVar(&listAssignee, "assignee", "", "filter by assignee")
	listCmd.Flags().StringVar(&listTag, "tag", "", "filter by tag")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "max results (0 = all)")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "skip first N results")
	listCmd.Flags().BoolVar(&listTombstones, "include-deleted", false, "include tombstoned elements")

	updateCmd.Flags().StringVar(&updateTitle, "title", "", "new title")
	updateCmd.Flags().StringVar(&updateContent, "content", "", "new body")
	updateCmd.Flags().StringSliceVar(&updateTags, "tag", nil, "replace tags (repeatable)")
	updateCmd.Flags().StringVar(&updateStatus, "status", "", "new task status")
	updateCmd.Flags().IntVarP(&updatePriority, "priority", "p", 0, "new task priority")
	updateCmd.Flags().StringVar(&updateAssignee, "assignee", "", "new assignee")
	updateCmd.Flags().StringVar(&updateDefer, "defer", "", "defer until")
	updateCmd.Flags().BoolVar(&updateUndefer, "clear-defer", false, "clear the deferral")

	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "delete even with dependents, removing their edges")
}

var deferCmd = &cobra.Command{
	Use:   "defer <id> <until>",
	Short: "Defer a task until a time (\"2d\", \"2025-09-01\", \"next friday\")",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		until, err := timeparsing.Parse(args[1], time.Now().UTC())
		if err != nil {
			return err
		}
		el, err := store.UpdateElement(cmd.Context(), args[0], storage.ElementPatch{DeferredUntil: &until}, cfg.Actor)
		if err != nil {
			return err
		}
		publish(cmd, &eventbus.Event{Type: eventbus.EventElementUpdated, ElementID: el.ID, Actor: cfg.Actor})
		autoExport(cmd)
		return emit(el, fmt.Sprintf("%s deferred until %s", styleID.Render(el.ID), until.Format(time.RFC3339)))
	},
}

var undeferCmd = &cobra.Command{
	Use:   "undefer <id>",
	Short: "Clear a task's deferral",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		el, err := store.UpdateElement(cmd.Context(), args[0], storage.ElementPatch{ClearDeferred: true}, cfg.Actor)
		if err != nil {
			return err
		}
		publish(cmd, &eventbus.Event{Type: eventbus.EventElementUpdated, ElementID: el.ID, Actor: cfg.Actor})
		autoExport(cmd)
		return emit(el, fmt.Sprintf("%s is no longer deferred", styleID.Render(el.ID)))
	},
}

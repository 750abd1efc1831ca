// Package dispatch assigns ready tasks to agents: deterministic branch
// and worktree naming, pool admission, and the atomic assign+notify
// transaction.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/eventbus"
	"github.com/stoneforge-ai/stoneforge/internal/idgen"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// NotificationTag marks dispatch notification documents.
const NotificationTag = "dispatch-notification"

// Dispatcher issues task assignments and channel notifications.
type Dispatcher struct {
	store  storage.Store
	bus    *eventbus.Bus
	logger *slog.Logger
	actor  string
	now    func() time.Time
}

// New creates a dispatcher. The actor is recorded as the creator of
// notification elements and as the update actor on assignments.
func New(store storage.Store, bus *eventbus.Bus, logger *slog.Logger, actor string) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if actor == "" {
		actor = "dispatcher"
	}
	return &Dispatcher{store: store, bus: bus, logger: logger, actor: actor, now: time.Now}
}

// AssignOptions tunes a single assignment. Omitted branch and worktree
// are derived deterministically from the worker name and task title.
type AssignOptions struct {
	Branch        string
	Worktree      string
	SessionID     string
	MarkAsStarted bool
}

// Result is what a successful dispatch returns.
type Result struct {
	Task            *types.Element
	Agent           *types.Element
	Notification    *types.Element // the notification document
	Message         *types.Element // the channel message pointing at it
	Channel         *types.Element
	IsNewAssignment bool
	DispatchedAt    time.Time
}

// AssignToAgent writes the assignment onto the task: assignee,
// orchestrator branch/worktree/session bookkeeping, and optionally the
// in_progress transition. Returns the updated task and whether the
// assignee changed.
func (d *Dispatcher) AssignToAgent(ctx context.Context, taskID, agentID string, opts AssignOptions) (*types.Element, bool, error) {
	var (
		updated *types.Element
		isNew   bool
	)
	err := d.store.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
		var err error
		updated, isNew, err = d.assignTx(ctx, tx, taskID, agentID, opts)
		return err
	})
	return updated, isNew, err
}

func (d *Dispatcher) assignTx(ctx context.Context, tx storage.Store, taskID, agentID string, opts AssignOptions) (*types.Element, bool, error) {
	task, err := tx.GetElement(ctx, taskID)
	if err != nil {
		return nil, false, err
	}
	if task.Type != types.ElementTask || task.Task == nil {
		return nil, false, types.NewError(types.KindValidation, types.CodeInvalidInput,
			fmt.Sprintf("element %s is not a task", taskID))
	}
	agent, err := tx.GetElement(ctx, agentID)
	if err != nil {
		return nil, false, err
	}

	workerName := agent.Title
	if workerName == "" {
		workerName = agent.ID
	}
	branch := opts.Branch
	if branch == "" {
		branch = GenerateBranchName(workerName, taskID, task.Title)
	}
	worktree := opts.Worktree
	if worktree == "" {
		worktree = GenerateWorktreePath(workerName, task.Title)
	}

	isNew := task.Task.Assignee != agentID

	var orch types.OrchestratorMeta
	if task.Task.Orchestrator != nil {
		orch = *task.Task.Orchestrator.Clone()
	}
	orch.Branch = branch
	orch.Worktree = worktree
	orch.AssignedAgent = agentID
	now := d.now().UTC()
	if opts.SessionID != "" {
		orch.SessionID = opts.SessionID
		orch.AppendSessionRecord(types.SessionRecord{
			SessionID: opts.SessionID,
			AgentID:   agentID,
			StartedAt: now,
		})
	}
	patch := storage.ElementPatch{
		Assignee:     &agentID,
		Orchestrator: &orch,
	}
	if opts.MarkAsStarted {
		started := types.StatusInProgress
		patch.Status = &started
		if orch.StartedAt == nil {
			orch.StartedAt = &now
		}
	}
	updated, err := tx.UpdateElement(ctx, taskID, patch, d.actor)
	if err != nil {
		return nil, false, err
	}
	return updated, isNew, nil
}

// Dispatch runs the full assignment flow: resolve task, agent, and
// channel, assign the task, then drop a notification document and a
// channel message. The channel lookup runs before the assignment write
// so a missing channel cannot leave an assignment without its
// notification. Everything commits in one transaction.
func (d *Dispatcher) Dispatch(ctx context.Context, taskID, agentID string, opts AssignOptions) (*Result, error) {
	res := &Result{DispatchedAt: d.now().UTC()}

	err := d.store.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
		_, err := tx.GetElement(ctx, taskID)
		if err != nil {
			return err
		}
		agent, err := tx.GetElement(ctx, agentID)
		if err != nil {
			return err
		}
		profile, err := types.ProfileFromElement(agent)
		if err != nil {
			return err
		}
		if profile.ChannelID == "" {
			return types.NewError(types.KindNotFound, types.CodeNotFound,
				fmt.Sprintf("agent %s has no channel", agentID))
		}
		channel, err := tx.GetElement(ctx, profile.ChannelID)
		if err != nil {
			return err
		}
		if channel.Type != types.ElementChannel {
			return types.NewError(types.KindValidation, types.CodeInvalidInput,
				fmt.Sprintf("element %s is not a channel", channel.ID))
		}

		res.Task, res.IsNewAssignment, err = d.assignTx(ctx, tx, taskID, agentID, opts)
		if err != nil {
			return err
		}
		res.Agent = agent
		res.Channel = channel

		res.Notification, res.Message, err = d.notifyTx(ctx, tx, res.Task, agent, channel)
		return err
	})
	if err != nil {
		return nil, err
	}

	if d.bus != nil {
		_, err := d.bus.Dispatch(ctx, &eventbus.Event{
			Type:      eventbus.EventTaskAssigned,
			ElementID: taskID,
			AgentID:   agentID,
			Actor:     d.actor,
			Payload: map[string]any{
				"channel_id":        res.Channel.ID,
				"is_new_assignment": res.IsNewAssignment,
			},
		})
		if err != nil {
			d.logger.Warn("task.assigned dispatch failed", "task", taskID, "error", err)
		}
	}
	return res, nil
}

// notifyTx creates the notification document and the channel message.
// The message carries suppressInbox so channel members do not accumulate
// inbox entries for routine assignments.
func (d *Dispatcher) notifyTx(ctx context.Context, tx storage.Store, task, agent, channel *types.Element) (*types.Element, *types.Element, error) {
	now := d.now().UTC()
	exists := func(id string) (bool, error) { return tx.ElementExists(ctx, id) }

	docID, err := idgen.NewUniqueRootID(types.ElementDocument, d.actor, now, exists)
	if err != nil {
		return nil, nil, err
	}
	doc := &types.Element{
		ID:        docID,
		Type:      types.ElementDocument,
		Title:     fmt.Sprintf("Task assignment: %s", task.Title),
		Content:   assignmentText(task, agent),
		Tags:      []string{NotificationTag},
		Metadata:  map[string]any{"content_type": "text"},
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: d.actor,
	}
	if err := tx.CreateElement(ctx, doc); err != nil {
		return nil, nil, err
	}

	msgID, err := idgen.NewUniqueRootID(types.ElementMessage, d.actor, now, exists)
	if err != nil {
		return nil, nil, err
	}
	msg := &types.Element{
		ID:      msgID,
		Type:    types.ElementMessage,
		Content: fmt.Sprintf("Assigned %s to %s", task.ID, agent.ID),
		Metadata: map[string]any{
			"type":          "task-assignment",
			"taskId":        task.ID,
			"priority":      task.Task.Priority,
			"suppressInbox": true,
			"channel_id":    channel.ID,
			"document_id":   docID,
		},
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: d.actor,
	}
	if err := tx.CreateElement(ctx, msg); err != nil {
		return nil, nil, err
	}
	return doc, msg, nil
}

func assignmentText(task, agent *types.Element) string {
	text := fmt.Sprintf("Task %s (%s) has been assigned to %s.", task.ID, task.Title, agent.ID)
	if task.Task.Orchestrator != nil && task.Task.Orchestrator.Branch != "" {
		text += fmt.Sprintf("\nBranch: %s\nWorktree: %s",
			task.Task.Orchestrator.Branch, task.Task.Orchestrator.Worktree)
	}
	return text
}

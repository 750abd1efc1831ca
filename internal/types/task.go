package types

import (
	"fmt"
	"time"
)

// TaskStatus represents the workflow state of a task element.
type TaskStatus string

// Task status constants
const (
	StatusOpen       TaskStatus = "open"
	StatusInProgress TaskStatus = "in_progress"
	StatusClosed     TaskStatus = "closed"
)

// IsValid checks if the status value is valid.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// IsClosed reports whether the status counts as closed for blocking and
// merge precedence purposes.
func (s TaskStatus) IsClosed() bool {
	return s == StatusClosed
}

// MergeStatus tracks where a task sits in the merge pipeline.
type MergeStatus string

// Merge status constants
const (
	MergePending       MergeStatus = "pending"
	MergeTesting       MergeStatus = "testing"
	MergeMerging       MergeStatus = "merging"
	MergeMerged        MergeStatus = "merged"
	MergeConflict      MergeStatus = "conflict"
	MergeTestFailed    MergeStatus = "test_failed"
	MergeFailed        MergeStatus = "failed"
	MergeNotApplicable MergeStatus = "not_applicable"
)

// IsValid checks if the merge status value is valid.
func (m MergeStatus) IsValid() bool {
	switch m {
	case MergePending, MergeTesting, MergeMerging, MergeMerged,
		MergeConflict, MergeTestFailed, MergeFailed, MergeNotApplicable, "":
		return true
	}
	return false
}

// MaxSessionHistory caps the orchestrator session history ring.
const MaxSessionHistory = 50

// TaskData is the task-specific payload of a task element.
type TaskData struct {
	Status        TaskStatus `json:"status"`
	Priority      int        `json:"priority"`
	Complexity    int        `json:"complexity,omitempty"`
	Assignee      string     `json:"assignee,omitempty"`
	DeferredUntil *time.Time `json:"deferred_until,omitempty"`

	Orchestrator *OrchestratorMeta `json:"orchestrator,omitempty"`
}

// OrchestratorMeta is the nested orchestrator sub-record on tasks.
type OrchestratorMeta struct {
	Branch         string           `json:"branch,omitempty"`
	Worktree       string           `json:"worktree,omitempty"`
	SessionID      string           `json:"session_id,omitempty"`
	AssignedAgent  string           `json:"assigned_agent,omitempty"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	MergedAt       *time.Time       `json:"merged_at,omitempty"`
	MergeStatus    MergeStatus      `json:"merge_status,omitempty"`
	LastTestResult string           `json:"last_test_result,omitempty"`
	ReportedIssues []string         `json:"reported_issues,omitempty"`
	SessionHistory []SessionRecord  `json:"session_history,omitempty"`
	HandoffHistory []HandoffRecord  `json:"handoff_history,omitempty"`
	LastSyncResult string           `json:"last_sync_result,omitempty"`
}

// SessionRecord is one entry in a task's session history ring.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	StartedAt time.Time `json:"started_at"`
}

// HandoffRecord tracks a task moving between agents.
type HandoffRecord struct {
	FromAgent string    `json:"from_agent"`
	ToAgent   string    `json:"to_agent"`
	At        time.Time `json:"at"`
	Reason    string    `json:"reason,omitempty"`
}

// AppendSessionRecord pushes a record onto the session history, evicting
// the oldest entry once the ring is full.
func (o *OrchestratorMeta) AppendSessionRecord(rec SessionRecord) {
	o.SessionHistory = append(o.SessionHistory, rec)
	if len(o.SessionHistory) > MaxSessionHistory {
		o.SessionHistory = o.SessionHistory[len(o.SessionHistory)-MaxSessionHistory:]
	}
}

// Validate checks task field values.
func (t *TaskData) Validate() error {
	if !t.Status.IsValid() {
		return NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("invalid task status: %s", t.Status))
	}
	if t.Priority < 0 || t.Priority > 4 {
		return NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("priority must be between 0 and 4 (got %d)", t.Priority))
	}
	if t.Complexity < 0 {
		return NewError(KindValidation, CodeInvalidInput, "complexity cannot be negative")
	}
	if t.Orchestrator != nil && !t.Orchestrator.MergeStatus.IsValid() {
		return NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("invalid merge status: %s", t.Orchestrator.MergeStatus))
	}
	return nil
}

// Clone returns a deep copy of the task payload.
func (t *TaskData) Clone() *TaskData {
	out := *t
	if t.DeferredUntil != nil {
		d := *t.DeferredUntil
		out.DeferredUntil = &d
	}
	if t.Orchestrator != nil {
		out.Orchestrator = t.Orchestrator.Clone()
	}
	return &out
}

// Clone returns a deep copy of the orchestrator sub-record.
func (o *OrchestratorMeta) Clone() *OrchestratorMeta {
	out := *o
	out.ReportedIssues = append([]string(nil), o.ReportedIssues...)
	out.SessionHistory = append([]SessionRecord(nil), o.SessionHistory...)
	out.HandoffHistory = append([]HandoffRecord(nil), o.HandoffHistory...)
	if o.StartedAt != nil {
		t := *o.StartedAt
		out.StartedAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		out.CompletedAt = &t
	}
	if o.MergedAt != nil {
		t := *o.MergedAt
		out.MergedAt = &t
	}
	return &out
}

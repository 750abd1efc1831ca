package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// AgentRole categorizes what an agent does.
type AgentRole string

// Agent role constants
const (
	RoleDirector AgentRole = "director"
	RoleWorker   AgentRole = "worker"
	RoleSteward  AgentRole = "steward"
)

// IsValid checks if the role value is valid.
func (r AgentRole) IsValid() bool {
	switch r {
	case RoleDirector, RoleWorker, RoleSteward:
		return true
	}
	return false
}

// WorkerMode distinguishes one-shot workers from long-lived ones.
type WorkerMode string

// Worker mode constants
const (
	WorkerEphemeral  WorkerMode = "ephemeral"
	WorkerPersistent WorkerMode = "persistent"
)

// IsValid checks if the worker mode value is valid.
func (m WorkerMode) IsValid() bool {
	switch m {
	case WorkerEphemeral, WorkerPersistent, "":
		return true
	}
	return false
}

// StewardFocus names what derived state a steward reconciles.
type StewardFocus string

// Steward focus constants
const (
	FocusMerge  StewardFocus = "merge"
	FocusDocs   StewardFocus = "docs"
	FocusCustom StewardFocus = "custom"
)

// IsValid checks if the steward focus value is valid.
func (f StewardFocus) IsValid() bool {
	switch f {
	case FocusMerge, FocusDocs, FocusCustom:
		return true
	}
	return false
}

// TriggerKind distinguishes cron triggers from event triggers.
type TriggerKind string

// Trigger kind constants
const (
	TriggerCron  TriggerKind = "cron"
	TriggerEvent TriggerKind = "event"
)

// StewardTrigger declares one firing condition for a steward.
type StewardTrigger struct {
	Kind     TriggerKind `json:"kind"`
	Schedule string      `json:"schedule,omitempty"` // cron expression, UTC
	Event    string      `json:"event,omitempty"`    // event bus topic
}

// Validate checks the trigger shape.
func (t *StewardTrigger) Validate() error {
	switch t.Kind {
	case TriggerCron:
		if t.Schedule == "" {
			return NewError(KindValidation, CodeInvalidInput, "cron trigger requires a schedule")
		}
	case TriggerEvent:
		if t.Event == "" {
			return NewError(KindValidation, CodeInvalidInput, "event trigger requires an event name")
		}
	default:
		return NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("invalid trigger kind: %s", t.Kind))
	}
	return nil
}

// AgentProfile is the agent-specific view of an entity element's
// metadata. Agents are plain entity elements; the profile lives under
// well-known metadata keys so the store stays schema-free for them.
type AgentProfile struct {
	Role         AgentRole        `json:"role"`
	WorkerMode   WorkerMode       `json:"worker_mode,omitempty"`
	StewardFocus StewardFocus     `json:"steward_focus,omitempty"`
	Triggers     []StewardTrigger `json:"triggers,omitempty"`
	ChannelID    string           `json:"channel_id,omitempty"`
	Executable   string           `json:"executable,omitempty"`
}

// Validate checks role-specific profile invariants.
func (p *AgentProfile) Validate() error {
	if !p.Role.IsValid() {
		return NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("invalid agent role: %s", p.Role))
	}
	if p.Role == RoleWorker && !p.WorkerMode.IsValid() {
		return NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("invalid worker mode: %s", p.WorkerMode))
	}
	if p.Role == RoleSteward {
		if !p.StewardFocus.IsValid() {
			return NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("invalid steward focus: %s", p.StewardFocus))
		}
		for i := range p.Triggers {
			if err := p.Triggers[i].Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProfileFromElement extracts the agent profile from an entity
// element's metadata. Returns EntityNotFound when the element carries
// no agent role.
func ProfileFromElement(el *Element) (*AgentProfile, error) {
	if el.Type != ElementEntity {
		return nil, NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("element %s is not an entity", el.ID))
	}
	data, err := json.Marshal(el.Metadata)
	if err != nil {
		return nil, WrapError(KindValidation, CodeInvalidMetadata, "serialize agent metadata", err)
	}
	var p AgentProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, WrapError(KindValidation, CodeInvalidMetadata, "parse agent metadata", err)
	}
	if p.Role == "" {
		return nil, NewError(KindNotFound, CodeEntityNotFound, fmt.Sprintf("element %s has no agent profile", el.ID))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ToMetadata renders the profile as element metadata keys.
func (p *AgentProfile) ToMetadata() (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, WrapError(KindValidation, CodeInvalidMetadata, "serialize agent profile", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, WrapError(KindValidation, CodeInvalidMetadata, "reparse agent profile", err)
	}
	return out, nil
}

// SessionMode distinguishes headless streaming sessions from interactive
// terminal sessions.
type SessionMode string

// Session mode constants
const (
	SessionHeadless    SessionMode = "headless"
	SessionInteractive SessionMode = "interactive"
)

// SessionStatus tracks the session lifecycle state machine.
type SessionStatus string

// Session status constants
const (
	SessionStarting  SessionStatus = "starting"
	SessionRunning   SessionStatus = "running"
	SessionSuspended SessionStatus = "suspended"
	SessionEnded     SessionStatus = "ended"
	SessionFailed    SessionStatus = "failed"
)

// IsTerminal reports whether the status is a terminal state.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionEnded || s == SessionFailed
}

// SessionInfo is the runtime-only record of an agent session.
type SessionInfo struct {
	SessionID         string        `json:"session_id"`
	AgentID           string        `json:"agent_id"`
	Role              AgentRole     `json:"role,omitempty"`
	ProviderSessionID string        `json:"provider_session_id,omitempty"`
	Mode              SessionMode   `json:"mode"`
	Status            SessionStatus `json:"status"`
	WorkingDirectory  string        `json:"working_directory"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
}

// Resumable reports whether the session captured a provider session id
// and can be resumed after suspension.
func (s *SessionInfo) Resumable() bool {
	return s.ProviderSessionID != ""
}

package types

import "fmt"

// Pool is a named concurrency cap governing how many sessions of which
// agent types may run simultaneously.
type Pool struct {
	Name       string      `json:"name" mapstructure:"name"`
	MaxSize    int         `json:"max_size" mapstructure:"max_size"`
	AgentTypes []AgentType `json:"agent_types" mapstructure:"agent_types"`
	Enabled    bool        `json:"enabled" mapstructure:"enabled"`
}

// AgentType describes one admissible agent shape within a pool.
type AgentType struct {
	Role         AgentRole    `json:"role" mapstructure:"role"`
	WorkerMode   WorkerMode   `json:"worker_mode,omitempty" mapstructure:"worker_mode"`
	StewardFocus StewardFocus `json:"steward_focus,omitempty" mapstructure:"steward_focus"`
	Priority     int          `json:"priority" mapstructure:"priority"`
	MaxSlots     int          `json:"max_slots,omitempty" mapstructure:"max_slots"` // 0 = unbounded within the pool
}

// Key returns the identity used for per-type slot accounting.
func (t AgentType) Key() string {
	return fmt.Sprintf("%s/%s/%s", t.Role, t.WorkerMode, t.StewardFocus)
}

// Matches reports whether a spawn request for the given shape is
// admissible under this agent type. Empty request fields match any.
func (t AgentType) Matches(role AgentRole, mode WorkerMode, focus StewardFocus) bool {
	if t.Role != role {
		return false
	}
	if t.WorkerMode != "" && mode != "" && t.WorkerMode != mode {
		return false
	}
	if t.StewardFocus != "" && focus != "" && t.StewardFocus != focus {
		return false
	}
	return true
}

// Validate checks pool invariants.
func (p *Pool) Validate() error {
	if p.Name == "" {
		return NewError(KindValidation, CodeInvalidInput, "pool name is required")
	}
	if p.MaxSize < 1 || p.MaxSize > 1000 {
		return NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("pool max_size must be in [1,1000] (got %d)", p.MaxSize))
	}
	for _, at := range p.AgentTypes {
		if !at.Role.IsValid() {
			return NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("pool %s: invalid role %s", p.Name, at.Role))
		}
		if at.MaxSlots < 0 {
			return NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("pool %s: max_slots cannot be negative", p.Name))
		}
	}
	return nil
}

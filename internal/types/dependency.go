package types

import "time"

// Dependency is a directed edge between two elements. BlockedID names
// the element that waits; BlockerID names the element it waits on.
// The edge key (BlockedID, BlockerID, Type) is unique.
type Dependency struct {
	BlockedID string         `json:"blocked_id"`
	BlockerID string         `json:"blocker_id"`
	Type      DependencyType `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
	CreatedBy string         `json:"created_by,omitempty"`
}

// DependencyType categorizes the relationship.
type DependencyType string

// Dependency type constants
const (
	// Blocking types (affect the computed blocked predicate)
	DepBlocks      DependencyType = "blocks"
	DepAwaits      DependencyType = "awaits"
	DepParentChild DependencyType = "parent-child"

	// Informational types
	DepRelatesTo  DependencyType = "relates-to"
	DepMentions   DependencyType = "mentions"
	DepReferences DependencyType = "references"
)

// IsValid checks if the dependency type value is one of the closed set.
func (d DependencyType) IsValid() bool {
	switch d {
	case DepBlocks, DepAwaits, DepParentChild, DepRelatesTo, DepMentions, DepReferences:
		return true
	}
	return false
}

// IsBlocking returns true if this dependency type affects the computed
// blocked predicate.
func (d DependencyType) IsBlocking() bool {
	switch d {
	case DepBlocks, DepAwaits, DepParentChild:
		return true
	}
	return false
}

// BlockingTypes lists the dependency types that affect the blocked predicate.
func BlockingTypes() []DependencyType {
	return []DependencyType{DepBlocks, DepAwaits, DepParentChild}
}

// Key returns the unique edge key used for set membership during merge.
func (d *Dependency) Key() string {
	return d.BlockedID + "\x00" + d.BlockerID + "\x00" + string(d.Type)
}

// Validate checks edge invariants: valid type and no self-loop.
func (d *Dependency) Validate() error {
	if d.BlockedID == "" || d.BlockerID == "" {
		return NewError(KindValidation, CodeInvalidInput, "dependency requires both blocked and blocker ids")
	}
	if d.BlockedID == d.BlockerID {
		return NewError(KindValidation, CodeInvalidInput, "dependency cannot reference itself")
	}
	if !d.Type.IsValid() {
		return NewError(KindValidation, CodeInvalidInput, "invalid dependency type: "+string(d.Type))
	}
	return nil
}

// DependencyCounts holds counts for dependencies and dependents.
type DependencyCounts struct {
	DependencyCount int `json:"dependency_count"`
	DependentCount  int `json:"dependent_count"`
}

// Package types defines core data structures for the Stoneforge
// orchestration core.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Element is the base record shared by all first-class entities.
// The Type discriminator selects which optional payload is populated;
// only tasks carry the Task payload today.
type Element struct {
	ID        string         `json:"id"`
	Type      ElementType    `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	CreatedBy string         `json:"created_by"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Content   string         `json:"content,omitempty"`
	Title     string         `json:"title,omitempty"`

	// Tombstone marker: set by soft delete, cleared never.
	// An element with DeletedAt set is a tombstone until its TTL expires.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`

	// Task payload, present only for Type == ElementTask.
	Task *TaskData `json:"task,omitempty"`
}

// ElementType discriminates the closed set of element kinds.
type ElementType string

// Element type constants
const (
	ElementTask     ElementType = "task"
	ElementMessage  ElementType = "message"
	ElementDocument ElementType = "document"
	ElementEntity   ElementType = "entity"
	ElementPlan     ElementType = "plan"
	ElementWorkflow ElementType = "workflow"
	ElementPlaybook ElementType = "playbook"
	ElementChannel  ElementType = "channel"
	ElementLibrary  ElementType = "library"
	ElementTeam     ElementType = "team"
)

// IsValid checks if the element type is one of the closed set.
func (t ElementType) IsValid() bool {
	switch t {
	case ElementTask, ElementMessage, ElementDocument, ElementEntity,
		ElementPlan, ElementWorkflow, ElementPlaybook, ElementChannel,
		ElementLibrary, ElementTeam:
		return true
	}
	return false
}

// DefaultTombstoneTTL is the default time-to-live for tombstones (30 days).
const DefaultTombstoneTTL = 30 * 24 * time.Hour

// ClockSkewGrace is added to TTL to handle clock drift between machines.
const ClockSkewGrace = 1 * time.Hour

// Tag constraints
const (
	MaxTags      = 50
	MaxTagLength = 100
)

// MaxMetadataBytes bounds the serialized metadata mapping (64 KiB).
const MaxMetadataBytes = 64 * 1024

// ReservedMetadataPrefix marks internal metadata keys that callers may not set.
const ReservedMetadataPrefix = "_el_"

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9_:-]+$`)

// IsTombstone returns true if the element has been soft-deleted.
func (e *Element) IsTombstone() bool {
	return e.DeletedAt != nil
}

// IsExpired returns true if the tombstone has exceeded its TTL.
// Non-tombstone elements always return false. A zero ttl means
// DefaultTombstoneTTL; a negative ttl means immediately expired.
func (e *Element) IsExpired(ttl time.Duration, now time.Time) bool {
	if e.DeletedAt == nil {
		return false
	}
	if ttl < 0 {
		return true
	}
	if ttl == 0 {
		ttl = DefaultTombstoneTTL
	}
	effective := ttl
	if ttl > ClockSkewGrace {
		effective = ttl + ClockSkewGrace
	}
	return now.After(e.DeletedAt.Add(effective))
}

// Validate checks element invariants: valid type, well-formed tags,
// bounded metadata, and timestamp ordering.
func (e *Element) Validate() error {
	if e.ID != "" && !IsValidID(e.ID) {
		return NewError(KindValidation, CodeInvalidID, fmt.Sprintf("invalid element id: %s", e.ID))
	}
	if !e.Type.IsValid() {
		return NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("invalid element type: %s", e.Type))
	}
	if !e.UpdatedAt.IsZero() && !e.CreatedAt.IsZero() && e.UpdatedAt.Before(e.CreatedAt) {
		return NewError(KindValidation, CodeInvalidTimestamp, "updated_at must not precede created_at")
	}
	if err := ValidateTags(e.Tags); err != nil {
		return err
	}
	if err := ValidateMetadata(e.Metadata); err != nil {
		return err
	}
	if e.Task != nil {
		if e.Type != ElementTask {
			return NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("task payload on %s element", e.Type))
		}
		if err := e.Task.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTags checks the tag bag: pattern, length, count, and no duplicates.
func ValidateTags(tags []string) error {
	if len(tags) > MaxTags {
		return NewError(KindValidation, CodeInvalidTag, fmt.Sprintf("too many tags: %d (max %d)", len(tags), MaxTags))
	}
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		if len(tag) == 0 || len(tag) > MaxTagLength {
			return NewError(KindValidation, CodeInvalidTag, fmt.Sprintf("tag length must be 1-%d: %q", MaxTagLength, tag))
		}
		if !tagPattern.MatchString(tag) {
			return NewError(KindValidation, CodeInvalidTag, fmt.Sprintf("tag contains invalid characters: %q", tag))
		}
		if seen[tag] {
			return NewError(KindValidation, CodeInvalidTag, fmt.Sprintf("duplicate tag: %q", tag))
		}
		seen[tag] = true
	}
	return nil
}

// ValidateMetadata checks the metadata mapping: JSON round-trippable,
// bounded size, and no reserved-prefix keys.
func ValidateMetadata(md map[string]any) error {
	if md == nil {
		return nil
	}
	for key := range md {
		if strings.HasPrefix(key, ReservedMetadataPrefix) {
			return NewError(KindValidation, CodeInvalidMetadata, fmt.Sprintf("metadata key uses reserved prefix %q: %s", ReservedMetadataPrefix, key))
		}
	}
	data, err := json.Marshal(md)
	if err != nil {
		return NewError(KindValidation, CodeInvalidMetadata, fmt.Sprintf("metadata is not JSON-serializable: %v", err))
	}
	if len(data) > MaxMetadataBytes {
		return NewError(KindValidation, CodeInvalidMetadata, fmt.Sprintf("metadata exceeds %d bytes (got %d)", MaxMetadataBytes, len(data)))
	}
	return nil
}

var idPattern = regexp.MustCompile(`^el-[0-9a-f]{6,10}(\.[0-9]+)*$`)

// IsValidID reports whether id matches the el-<hash> form, optionally
// with hierarchical .n suffixes. IDs are otherwise opaque.
func IsValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ParentID returns the parent of a hierarchical ID, or "" for root IDs.
func ParentID(id string) string {
	idx := strings.LastIndex(id, ".")
	if idx < 0 {
		return ""
	}
	return id[:idx]
}

// Clone returns a deep copy of the element.
func (e *Element) Clone() *Element {
	out := *e
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		out.DeletedAt = &t
	}
	if e.Task != nil {
		out.Task = e.Task.Clone()
	}
	return &out
}

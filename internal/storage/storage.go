// Package storage defines the persistence interface for elements,
// dependencies, dirty tracking, and hierarchical child counters.
package storage

import (
	"context"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// Isolation selects the SQLite transaction mode.
type Isolation string

// Isolation levels
const (
	Deferred  Isolation = "deferred"
	Immediate Isolation = "immediate"
	Exclusive Isolation = "exclusive"
)

// ElementFilter narrows ListElements results. Zero values match everything.
type ElementFilter struct {
	Types             []types.ElementType
	Statuses          []types.TaskStatus
	Assignee          string
	CreatedBy         string
	Tag               string
	IncludeTombstones bool

	// Pagination. Limit 0 means no limit.
	Limit  int
	Offset int
}

// ReadyFilter narrows GetReadyTasks results.
type ReadyFilter struct {
	Assignee  string
	Tag       string
	CreatedBy string
}

// ElementPatch is a partial update. Nil fields are left untouched.
// ID, CreatedAt, and CreatedBy are immutable and have no patch fields.
type ElementPatch struct {
	Title    *string
	Content  *string
	Tags     *[]string
	Metadata *map[string]any

	// Task payload fields, valid only for task elements.
	Status        *types.TaskStatus
	Priority      *int
	Complexity    *int
	Assignee      *string
	DeferredUntil *time.Time
	ClearDeferred bool
	Orchestrator  *types.OrchestratorMeta
}

// DirtyElement is one entry in the dirty set.
type DirtyElement struct {
	ElementID string
	MarkedAt  time.Time
}

// ExportHash records the content hash an element had at last export.
type ExportHash struct {
	ElementID   string
	ContentHash string
	ExportedAt  time.Time
}

// Store is the persistence contract. Every mutating call marks the
// touched element dirty inside the same transaction.
type Store interface {
	// Elements
	CreateElement(ctx context.Context, el *types.Element) error
	UpdateElement(ctx context.Context, id string, patch ElementPatch, actor string) (*types.Element, error)
	// PutElement upserts a row as-is, bypassing tombstone immutability.
	// Reserved for the merge pipeline applying resolved winners.
	PutElement(ctx context.Context, el *types.Element) error
	GetElement(ctx context.Context, id string) (*types.Element, error)
	ListElements(ctx context.Context, filter ElementFilter) ([]*types.Element, error)
	DeleteElement(ctx context.Context, id, actor string) error
	PurgeExpiredTombstones(ctx context.Context, ttl time.Duration) (int, error)
	ElementExists(ctx context.Context, id string) (bool, error)

	// Dependencies
	AddDependency(ctx context.Context, dep *types.Dependency) error
	RemoveDependency(ctx context.Context, blockedID, blockerID string, depType types.DependencyType) error
	GetDependencies(ctx context.Context, id string, typesAllowed []types.DependencyType) ([]*types.Dependency, error)
	GetDependents(ctx context.Context, id string, typesAllowed []types.DependencyType) ([]*types.Dependency, error)
	AllDependencies(ctx context.Context) ([]*types.Dependency, error)

	// Dirty tracking
	MarkDirty(ctx context.Context, ids ...string) error
	GetDirtyElements(ctx context.Context) ([]DirtyElement, error)
	ClearDirtyElements(ctx context.Context, ids []string) error

	// Hierarchical IDs
	GetNextChildNumber(ctx context.Context, parentID string) (int, error)

	// Task graph queries
	IsBlocked(ctx context.Context, taskID string) (bool, error)
	GetReadyTasks(ctx context.Context, limit int, filter ReadyFilter) ([]*types.Element, error)

	// Settings (small key/value rows: rate limits, sync cursors)
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Export bookkeeping for incremental sync
	GetExportHashes(ctx context.Context) (map[string]string, error)
	SetExportHashes(ctx context.Context, hashes []ExportHash) error

	// Transaction runs fn with all Store calls routed through one
	// write transaction. fn must use the Store it is handed, not the
	// outer one.
	Transaction(ctx context.Context, iso Isolation, fn func(tx Store) error) error

	Close() error
}

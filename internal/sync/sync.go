// Package sync moves elements and dependencies between the store and
// the JSONL interchange files, merging on import and journaling
// conflicts.
package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/stoneforge-ai/stoneforge/internal/eventbus"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// Default interchange file names inside the sync directory.
const (
	DefaultElementsFile     = "elements.jsonl"
	DefaultDependenciesFile = "dependencies.jsonl"
	DefaultConflictsFile    = "conflicts.jsonl"

	lockFile = "sync.lock"
)

// depsBaselineKey is the settings row holding the dependency set
// witnessed at the last sync, the baseline for three-way merges.
const depsBaselineKey = "sync.deps_baseline"

// Options configures a Syncer.
type Options struct {
	// Dir is the directory holding the JSONL files.
	Dir string
	// ElementsFile etc. override the default file names.
	ElementsFile     string
	DependenciesFile string
	ConflictsFile    string
	// TombstoneTTL feeds merge classification; zero means the default.
	TombstoneTTL time.Duration
}

// Syncer performs exports and imports against one sync directory.
type Syncer struct {
	store  storage.Store
	bus    *eventbus.Bus
	logger *slog.Logger
	opts   Options
}

// New creates a Syncer. bus may be nil if nothing subscribes to sync
// events; logger nil falls back to slog.Default.
func New(store storage.Store, bus *eventbus.Bus, logger *slog.Logger, opts Options) *Syncer {
	if opts.ElementsFile == "" {
		opts.ElementsFile = DefaultElementsFile
	}
	if opts.DependenciesFile == "" {
		opts.DependenciesFile = DefaultDependenciesFile
	}
	if opts.ConflictsFile == "" {
		opts.ConflictsFile = DefaultConflictsFile
	}
	if opts.TombstoneTTL == 0 {
		opts.TombstoneTTL = types.DefaultTombstoneTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{store: store, bus: bus, logger: logger, opts: opts}
}

func (s *Syncer) elementsPath() string {
	return filepath.Join(s.opts.Dir, s.opts.ElementsFile)
}

func (s *Syncer) dependenciesPath() string {
	return filepath.Join(s.opts.Dir, s.opts.DependenciesFile)
}

func (s *Syncer) conflictsPath() string {
	return filepath.Join(s.opts.Dir, s.opts.ConflictsFile)
}

// withFileLock runs fn while holding the cross-process sync lock.
// Another process exporting into the same directory blocks us until it
// finishes.
func (s *Syncer) withFileLock(ctx context.Context, fn func() error) error {
	lock := flock.New(filepath.Join(s.opts.Dir, lockFile))
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return types.WrapError(types.KindStorage, types.CodeDatabaseError, "acquire sync lock", err)
	}
	if !locked {
		return types.NewError(types.KindStorage, types.CodeDatabaseError, "sync lock unavailable")
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

func (s *Syncer) publish(ctx context.Context, ev *eventbus.Event) {
	if s.bus == nil {
		return
	}
	if _, err := s.bus.Dispatch(ctx, ev); err != nil {
		s.logger.Warn("sync event dispatch failed", "event", string(ev.Type), "error", err)
	}
}

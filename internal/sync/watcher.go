package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// debounceWindow coalesces the burst of write events a single export
// produces into one import.
const debounceWindow = 500 * time.Millisecond

// Watcher triggers an import whenever the interchange files change on
// disk, e.g. after a git pull or another process's export.
type Watcher struct {
	syncer  *Syncer
	logger  *slog.Logger
	fsw     *fsnotify.Watcher
	done    chan struct{}
	started bool
}

// NewWatcher creates a watcher over the syncer's directory. Call Start
// to begin watching.
func NewWatcher(syncer *Syncer, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, types.WrapError(types.KindStorage, types.CodeDatabaseError, "create file watcher", err)
	}
	return &Watcher{syncer: syncer, logger: logger, fsw: fsw, done: make(chan struct{})}, nil
}

// Start begins watching and returns immediately. The watch loop stops
// when ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	// Watch the directory, not the files: atomic renames replace the
	// inode and a file watch would go stale after the first export.
	if err := w.fsw.Add(w.syncer.opts.Dir); err != nil {
		return types.WrapError(types.KindStorage, types.CodeDatabaseError, "watch sync directory", err)
	}
	w.started = true
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	watched := map[string]bool{
		w.syncer.opts.ElementsFile:     true,
		w.syncer.opts.DependenciesFile: true,
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !watched[filepath.Base(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			stats, err := w.syncer.Import(ctx)
			if err != nil {
				w.logger.Error("auto-import failed", "error", err)
				continue
			}
			w.logger.Info("auto-import applied",
				"created", stats.Created, "merged", stats.Merged, "conflicts", stats.Conflicts)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// Close stops the watcher and waits for the loop to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	if w.started {
		<-w.done
	}
	return err
}

package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/eventbus"
	"github.com/stoneforge-ai/stoneforge/internal/merge"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// ImportStats summarizes one import pass.
type ImportStats struct {
	Created      int `json:"created"`
	Merged       int `json:"merged"`
	Unchanged    int `json:"unchanged"`
	Conflicts    int `json:"conflicts"`
	EdgesAdded   int `json:"edges_added"`
	EdgesRemoved int `json:"edges_removed"`
}

// Import reads the JSONL files, merges each record against local
// state, applies dependency set merging against the last-sync
// baseline, and journals every conflict. The whole apply runs in one
// write transaction.
func (s *Syncer) Import(ctx context.Context) (ImportStats, error) {
	var stats ImportStats
	err := s.withFileLock(ctx, func() error {
		var err error
		stats, err = s.importLocked(ctx)
		return err
	})
	if err != nil {
		return stats, err
	}
	s.publish(ctx, &eventbus.Event{
		Type: eventbus.EventSyncImported,
		Payload: map[string]any{
			"created": stats.Created, "merged": stats.Merged, "conflicts": stats.Conflicts,
		},
	})
	return stats, nil
}

func (s *Syncer) importLocked(ctx context.Context) (ImportStats, error) {
	var stats ImportStats

	remoteElements, err := readElementsFile(s.elementsPath())
	if err != nil {
		return stats, err
	}
	remoteDeps, err := readDependenciesFile(s.dependenciesPath())
	if err != nil {
		return stats, err
	}

	var conflicts []*merge.ConflictRecord
	now := time.Now().UTC()

	err = s.store.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
		for _, remote := range remoteElements {
			local, err := tx.GetElement(ctx, remote.ID)
			if err != nil {
				if types.IsNotFound(err) {
					if err := tx.PutElement(ctx, remote); err != nil {
						return err
					}
					stats.Created++
					continue
				}
				return err
			}

			res, err := merge.Elements(local, remote, s.opts.TombstoneTTL, now)
			if err != nil {
				return err
			}
			if res.Resolution == merge.Identical {
				stats.Unchanged++
				continue
			}
			if err := tx.PutElement(ctx, res.Element); err != nil {
				return err
			}
			stats.Merged++
			if res.Conflict != nil {
				conflicts = append(conflicts, res.Conflict)
				stats.Conflicts++
			}
		}

		localDeps, err := tx.AllDependencies(ctx)
		if err != nil {
			return err
		}
		baseline, err := s.loadDepsBaseline(ctx, tx)
		if err != nil {
			return err
		}
		merged := merge.Dependencies(localDeps, remoteDeps, baseline)

		mergedKeys := make(map[string]bool, len(merged))
		for _, d := range merged {
			mergedKeys[d.Key()] = true
		}
		localKeys := make(map[string]bool, len(localDeps))
		for _, d := range localDeps {
			localKeys[d.Key()] = true
			if !mergedKeys[d.Key()] {
				if err := tx.RemoveDependency(ctx, d.BlockedID, d.BlockerID, d.Type); err != nil {
					return err
				}
				stats.EdgesRemoved++
			}
		}
		for _, d := range merged {
			if localKeys[d.Key()] {
				continue
			}
			if err := tx.AddDependency(ctx, d); err != nil {
				// An edge can reference an element the file never
				// carried; skip it rather than abort the import.
				if types.IsNotFound(err) {
					s.logger.Warn("skipping dependency with missing endpoint",
						"blocked", d.BlockedID, "blocker", d.BlockerID, "error", err)
					continue
				}
				return err
			}
			stats.EdgesAdded++
		}

		return s.saveBaselineTx(ctx, tx, merged)
	})
	if err != nil {
		return stats, err
	}

	if err := s.appendConflicts(conflicts); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *Syncer) saveBaselineTx(ctx context.Context, tx storage.Store, deps []*types.Dependency) error {
	data, err := json.Marshal(deps)
	if err != nil {
		return types.WrapError(types.KindStorage, types.CodeDatabaseError, "serialize dependency baseline", err)
	}
	return tx.SetSetting(ctx, depsBaselineKey, string(data))
}

// appendConflicts appends journal lines; the journal is append-only
// history, never rewritten.
func (s *Syncer) appendConflicts(conflicts []*merge.ConflictRecord) error {
	if len(conflicts) == 0 {
		return nil
	}
	f, err := os.OpenFile(s.conflictsPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return types.WrapError(types.KindStorage, types.CodeDatabaseError, "open conflict journal", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, c := range conflicts {
		data, err := json.Marshal(c)
		if err != nil {
			return types.WrapError(types.KindStorage, types.CodeDatabaseError, "serialize conflict record", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return types.WrapError(types.KindStorage, types.CodeDatabaseError, "flush conflict journal", err)
	}
	return nil
}

func readDependenciesFile(path string) ([]*types.Dependency, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapError(types.KindStorage, types.CodeDatabaseError, "open dependencies file", err)
	}
	defer f.Close()

	var out []*types.Dependency
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var dep types.Dependency
		if err := json.Unmarshal(text, &dep); err != nil {
			return nil, types.WrapError(types.KindValidation, types.CodeInvalidInput,
				fmt.Sprintf("malformed dependency record at %s:%d", path, line), err)
		}
		out = append(out, &dep)
	}
	if err := scanner.Err(); err != nil {
		return nil, types.WrapError(types.KindStorage, types.CodeDatabaseError, "read dependencies file", err)
	}
	return out, nil
}

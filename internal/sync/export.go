package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/eventbus"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/synchash"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// ExportStats summarizes one export pass.
type ExportStats struct {
	Exported int `json:"exported"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// Export writes dirty elements (or everything, when full is set) into
// the JSONL files. Elements whose content hash matches the hash
// recorded at last export are skipped; their dirty mark is still
// cleared. The dependency file is always rewritten in full: edges have
// no per-row dirty tracking.
func (s *Syncer) Export(ctx context.Context, full bool) (ExportStats, error) {
	var stats ExportStats
	err := s.withFileLock(ctx, func() error {
		var err error
		stats, err = s.export(ctx, full)
		return err
	})
	if err != nil {
		return stats, err
	}
	s.publish(ctx, &eventbus.Event{
		Type:    eventbus.EventSyncExported,
		Payload: map[string]any{"exported": stats.Exported, "skipped": stats.Skipped},
	})
	return stats, nil
}

func (s *Syncer) export(ctx context.Context, full bool) (ExportStats, error) {
	var stats ExportStats

	if err := os.MkdirAll(s.opts.Dir, 0o750); err != nil {
		return stats, types.WrapError(types.KindStorage, types.CodeDatabaseError, "create sync directory", err)
	}

	fileMap, err := readElementsFile(s.elementsPath())
	if err != nil {
		return stats, err
	}

	var candidates []*types.Element
	var dirtyIDs []string
	if full {
		all, err := s.store.ListElements(ctx, storage.ElementFilter{IncludeTombstones: true})
		if err != nil {
			return stats, err
		}
		candidates = all
		for _, el := range all {
			dirtyIDs = append(dirtyIDs, el.ID)
		}
	} else {
		dirty, err := s.store.GetDirtyElements(ctx)
		if err != nil {
			return stats, err
		}
		for _, d := range dirty {
			dirtyIDs = append(dirtyIDs, d.ElementID)
			el, err := s.store.GetElement(ctx, d.ElementID)
			if err != nil {
				if types.IsNotFound(err) {
					// Hard-purged since it was marked; nothing to export.
					continue
				}
				return stats, err
			}
			candidates = append(candidates, el)
		}
	}

	lastHashes, err := s.store.GetExportHashes(ctx)
	if err != nil {
		return stats, err
	}

	now := time.Now().UTC()
	var newHashes []storage.ExportHash
	for _, el := range candidates {
		h, err := synchash.Hash(el)
		if err != nil {
			return stats, err
		}
		if !full && lastHashes[el.ID] == h {
			stats.Skipped++
			continue
		}
		fileMap[el.ID] = el
		newHashes = append(newHashes, storage.ExportHash{ElementID: el.ID, ContentHash: h, ExportedAt: now})
		stats.Exported++
	}
	stats.Total = len(fileMap)

	if err := writeElementsFile(s.elementsPath(), fileMap); err != nil {
		return stats, err
	}

	deps, err := s.store.AllDependencies(ctx)
	if err != nil {
		return stats, err
	}
	if err := writeDependenciesFile(s.dependenciesPath(), deps); err != nil {
		return stats, err
	}

	if err := s.store.SetExportHashes(ctx, newHashes); err != nil {
		return stats, err
	}
	if err := s.store.ClearDirtyElements(ctx, dirtyIDs); err != nil {
		return stats, err
	}
	if err := s.saveDepsBaseline(ctx, deps); err != nil {
		return stats, err
	}
	return stats, nil
}

// readElementsFile loads a JSONL elements file into a map keyed by id.
// A missing file yields an empty map.
func readElementsFile(path string) (map[string]*types.Element, error) {
	out := make(map[string]*types.Element)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, types.WrapError(types.KindStorage, types.CodeDatabaseError, "open elements file", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var el types.Element
		if err := json.Unmarshal(text, &el); err != nil {
			return nil, types.WrapError(types.KindValidation, types.CodeInvalidInput,
				fmt.Sprintf("malformed element record at %s:%d", path, line), err)
		}
		out[el.ID] = &el
	}
	if err := scanner.Err(); err != nil {
		return nil, types.WrapError(types.KindStorage, types.CodeDatabaseError, "read elements file", err)
	}
	return out, nil
}

// writeElementsFile writes the full element map sorted by id, one JSON
// record per line, atomically via rename.
func writeElementsFile(path string, elements map[string]*types.Element) error {
	ids := make([]string, 0, len(elements))
	for id := range elements {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return writeJSONL(path, len(ids), func(i int) (any, error) {
		return elements[ids[i]], nil
	})
}

func writeDependenciesFile(path string, deps []*types.Dependency) error {
	sorted := append([]*types.Dependency(nil), deps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key() < sorted[j].Key() })
	return writeJSONL(path, len(sorted), func(i int) (any, error) {
		return sorted[i], nil
	})
}

func writeJSONL(path string, n int, record func(i int) (any, error)) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return types.WrapError(types.KindStorage, types.CodeDatabaseError, "create temp file", err)
	}
	w := bufio.NewWriter(f)
	for i := 0; i < n; i++ {
		rec, err := record(i)
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return types.WrapError(types.KindStorage, types.CodeDatabaseError, "serialize record", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return types.WrapError(types.KindStorage, types.CodeDatabaseError, "flush file", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return types.WrapError(types.KindStorage, types.CodeDatabaseError, "close file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return types.WrapError(types.KindStorage, types.CodeDatabaseError, "replace file", err)
	}
	return nil
}

func (s *Syncer) saveDepsBaseline(ctx context.Context, deps []*types.Dependency) error {
	data, err := json.Marshal(deps)
	if err != nil {
		return types.WrapError(types.KindStorage, types.CodeDatabaseError, "serialize dependency baseline", err)
	}
	return s.store.SetSetting(ctx, depsBaselineKey, string(data))
}

// loadDepsBaseline reads the baseline via st, which must be the
// transaction store when called inside a transaction.
func (s *Syncer) loadDepsBaseline(ctx context.Context, st storage.Store) ([]*types.Dependency, error) {
	raw, err := st.GetSetting(ctx, depsBaselineKey)
	if err != nil {
		if types.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var deps []*types.Dependency
	if err := json.Unmarshal([]byte(raw), &deps); err != nil {
		return nil, types.WrapError(types.KindStorage, types.CodeIntegrityFailure, "parse dependency baseline", err)
	}
	return deps, nil
}

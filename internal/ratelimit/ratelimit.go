// Package ratelimit tracks which executables are rate limited and
// picks the first available member of a fallback chain.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// settingKey is the settings row holding the serialized tracker state.
const settingKey = "rateLimits"

// limitEntry is the persisted per-executable record:
// {"resetsAt": ISO8601, "recordedAt": ISO8601}.
type limitEntry struct {
	ResetsAt   time.Time `json:"resetsAt"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Tracker remembers, per executable, when its rate limit resets. State
// is persisted as one JSON-encoded setting; the whole value is written
// under the mutex on every change. Process-global by design: every
// dispatcher shares one view of which executables are limited.
type Tracker struct {
	mu     sync.Mutex
	store  storage.Store
	logger *slog.Logger
	limits map[string]limitEntry
	loaded bool
	now    func() time.Time
}

// New creates a tracker backed by the store's settings table. State is
// hydrated lazily on first use.
func New(store storage.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:  store,
		logger: logger,
		limits: make(map[string]limitEntry),
		now:    time.Now,
	}
}

// hydrate loads persisted state, dropping expired entries and skipping
// malformed ones. Caller holds the mutex.
func (t *Tracker) hydrate(ctx context.Context) {
	if t.loaded {
		return
	}
	t.loaded = true

	raw, err := t.store.GetSetting(ctx, settingKey)
	if err != nil {
		if !types.IsNotFound(err) {
			t.logger.Warn("rate limit state unavailable", "error", err)
		}
		return
	}
	var persisted map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		t.logger.Warn("discarding malformed rate limit state", "error", err)
		return
	}
	now := t.now().UTC()
	for exec, rawEntry := range persisted {
		var entry limitEntry
		if err := json.Unmarshal(rawEntry, &entry); err != nil || entry.ResetsAt.IsZero() {
			t.logger.Warn("skipping malformed rate limit entry", "executable", exec)
			continue
		}
		if !entry.ResetsAt.After(now) {
			continue
		}
		entry.ResetsAt = entry.ResetsAt.UTC()
		entry.RecordedAt = entry.RecordedAt.UTC()
		t.limits[exec] = entry
	}
}

// persist writes the whole state as one JSON value. Caller holds the
// mutex.
func (t *Tracker) persist(ctx context.Context) error {
	data, err := json.Marshal(t.limits)
	if err != nil {
		return types.WrapError(types.KindStorage, types.CodeDatabaseError, "serialize rate limits", err)
	}
	return t.store.SetSetting(ctx, settingKey, string(data))
}

// IsLimited reports whether the executable has an unexpired reset time.
func (t *Tracker) IsLimited(ctx context.Context, executable string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hydrate(ctx)
	entry, ok := t.limits[executable]
	if !ok {
		return false
	}
	if !entry.ResetsAt.After(t.now().UTC()) {
		delete(t.limits, executable)
		return false
	}
	return true
}

// MarkLimited records a rate limit. Upserts, but never downgrades an
// existing entry to an earlier reset time.
func (t *Tracker) MarkLimited(ctx context.Context, executable string, resetsAt time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hydrate(ctx)
	resetsAt = resetsAt.UTC()
	if existing, ok := t.limits[executable]; ok && existing.ResetsAt.After(resetsAt) {
		return nil
	}
	t.limits[executable] = limitEntry{ResetsAt: resetsAt, RecordedAt: t.now().UTC()}
	return t.persist(ctx)
}

// ClearLimit drops the entry for an executable, e.g. after a manual
// reset.
func (t *Tracker) ClearLimit(ctx context.Context, executable string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hydrate(ctx)
	if _, ok := t.limits[executable]; !ok {
		return nil
	}
	delete(t.limits, executable)
	return t.persist(ctx)
}

// GetAvailableExecutable returns the first member of the chain that is
// not currently limited.
func (t *Tracker) GetAvailableExecutable(ctx context.Context, chain []string) (string, error) {
	if len(chain) == 0 {
		return "", types.NewError(types.KindValidation, types.CodeInvalidInput, "executable chain is empty")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hydrate(ctx)
	now := t.now().UTC()
	for _, exec := range chain {
		entry, ok := t.limits[exec]
		if !ok || !entry.ResetsAt.After(now) {
			if ok {
				delete(t.limits, exec)
			}
			return exec, nil
		}
	}
	return "", types.NewError(types.KindConstraint, types.CodeRateLimited,
		fmt.Sprintf("all executables limited until at least %s", earliest(t.limits, chain).Format(time.RFC3339)))
}

// Snapshot returns a copy of the current limits for status display.
func (t *Tracker) Snapshot(ctx context.Context) map[string]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hydrate(ctx)
	out := make(map[string]time.Time, len(t.limits))
	for k, v := range t.limits {
		out[k] = v.ResetsAt
	}
	return out
}

func earliest(limits map[string]limitEntry, chain []string) time.Time {
	var min time.Time
	for _, exec := range chain {
		if entry, ok := limits[exec]; ok {
			if min.IsZero() || entry.ResetsAt.Before(min) {
				min = entry.ResetsAt
			}
		}
	}
	return min
}

// Package steward schedules and runs steward agents: background
// reconcilers declared via agent metadata and fired by cron schedules
// or bus events.
package steward

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/stoneforge-ai/stoneforge/internal/eventbus"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// maxHistory bounds the execution history ring.
const maxHistory = 100

// tickInterval is how often cron schedules are evaluated.
const tickInterval = time.Minute

// ExecuteResult is what one steward invocation reports.
type ExecuteResult struct {
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	Output         string `json:"output,omitempty"`
	ItemsProcessed int    `json:"items_processed,omitempty"`
}

// ExecutionRecord is one entry in the scheduler's history ring.
type ExecutionRecord struct {
	StewardID      string    `json:"steward_id"`
	Trigger        string    `json:"trigger"`
	StartedAt      time.Time `json:"started_at"`
	DurationMs     int64     `json:"duration_ms"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	Output         string    `json:"output,omitempty"`
	ItemsProcessed int       `json:"items_processed,omitempty"`
}

// Executor runs one steward invocation. Implementations may panic or
// error; the scheduler isolates both.
type Executor func(ctx context.Context, agent *types.Element, profile *types.AgentProfile, trigger string) (*ExecuteResult, error)

// Scheduler drives steward executions from cron ticks and bus events.
// One steward's failure never destabilizes its peers or the scheduler.
type Scheduler struct {
	store    storage.Store
	bus      *eventbus.Bus
	executor Executor
	logger   *slog.Logger
	gron     *gronx.Gronx
	now      func() time.Time

	mu      sync.Mutex
	history []ExecutionRecord
	stop    chan struct{}
	started bool
}

// NewScheduler creates a scheduler. The executor decides what each
// steward focus actually does; see BuiltinExecutor.
func NewScheduler(store storage.Store, bus *eventbus.Bus, executor Executor, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		bus:      bus,
		executor: executor,
		logger:   logger,
		gron:     gronx.New(),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Start begins cron evaluation and subscribes event triggers on the
// bus. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Register(&eventbus.HandlerFunc{
			Name:  "steward-scheduler",
			Types: allEventTypes(),
			Order: 100,
			Callback: func(ctx context.Context, ev *eventbus.Event, _ *eventbus.Result) error {
				s.fireEventTriggers(ctx, ev)
				return nil
			},
		})
	}

	go s.loop(ctx)
}

// Stop halts cron evaluation.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		close(s.stop)
		s.started = false
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick evaluates every steward's cron triggers against the current
// minute. Exported so callers (and tests) can drive time themselves.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()
	for _, sw := range s.stewards(ctx) {
		for _, trigger := range sw.profile.Triggers {
			if trigger.Kind != types.TriggerCron {
				continue
			}
			due, err := s.gron.IsDue(trigger.Schedule, now)
			if err != nil {
				s.logger.Warn("invalid cron schedule", "steward", sw.agent.ID, "schedule", trigger.Schedule, "error", err)
				continue
			}
			if due {
				s.ExecuteSteward(ctx, sw.agent.ID, "cron:"+trigger.Schedule)
			}
		}
	}
}

func (s *Scheduler) fireEventTriggers(ctx context.Context, ev *eventbus.Event) {
	for _, sw := range s.stewards(ctx) {
		for _, trigger := range sw.profile.Triggers {
			if trigger.Kind == types.TriggerEvent && trigger.Event == string(ev.Type) {
				s.ExecuteSteward(ctx, sw.agent.ID, "event:"+trigger.Event)
			}
		}
	}
}

type stewardEntry struct {
	agent   *types.Element
	profile *types.AgentProfile
}

// stewards lists entity elements whose metadata declares a steward
// role. Malformed profiles are skipped, not fatal.
func (s *Scheduler) stewards(ctx context.Context) []stewardEntry {
	entities, err := s.store.ListElements(ctx, storage.ElementFilter{
		Types: []types.ElementType{types.ElementEntity},
	})
	if err != nil {
		s.logger.Warn("steward registry listing failed", "error", err)
		return nil
	}
	var out []stewardEntry
	for _, entity := range entities {
		profile, err := types.ProfileFromElement(entity)
		if err != nil || profile.Role != types.RoleSteward {
			continue
		}
		out = append(out, stewardEntry{agent: entity, profile: profile})
	}
	return out
}

// ExecuteSteward runs one steward now. Failures are captured into the
// result, never propagated: a missing agent, an invalid profile, an
// executor error, and an executor panic all come back as
// {success:false}.
func (s *Scheduler) ExecuteSteward(ctx context.Context, agentID, trigger string) *ExecuteResult {
	startedAt := s.now().UTC()
	result := s.execute(ctx, agentID, trigger)
	durationMs := s.now().UTC().Sub(startedAt).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}

	s.mu.Lock()
	s.history = append(s.history, ExecutionRecord{
		StewardID:      agentID,
		Trigger:        trigger,
		StartedAt:      startedAt,
		DurationMs:     durationMs,
		Success:        result.Success,
		Error:          result.Error,
		Output:         result.Output,
		ItemsProcessed: result.ItemsProcessed,
	})
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.mu.Unlock()

	if s.bus != nil {
		_, err := s.bus.Dispatch(ctx, &eventbus.Event{
			Type:    eventbus.EventStewardExecuted,
			AgentID: agentID,
			Payload: map[string]any{
				"trigger": trigger,
				"success": result.Success,
			},
		})
		if err != nil {
			s.logger.Warn("steward.executed dispatch failed", "steward", agentID, "error", err)
		}
	}
	return result
}

func (s *Scheduler) execute(ctx context.Context, agentID, trigger string) (result *ExecuteResult) {
	defer func() {
		if r := recover(); r != nil {
			result = &ExecuteResult{Success: false, Error: fmt.Sprintf("steward panicked: %v", r)}
		}
	}()

	agent, err := s.store.GetElement(ctx, agentID)
	if err != nil {
		return &ExecuteResult{Success: false, Error: err.Error()}
	}
	profile, err := types.ProfileFromElement(agent)
	if err != nil || profile.Role != types.RoleSteward {
		return &ExecuteResult{Success: false, Error: fmt.Sprintf("agent %s is not a steward", agentID)}
	}

	result, err = s.executor(ctx, agent, profile, trigger)
	if err != nil {
		return &ExecuteResult{Success: false, Error: err.Error()}
	}
	if result == nil {
		result = &ExecuteResult{Success: true}
	}
	return result
}

// History returns a copy of the execution history ring, oldest first.
func (s *Scheduler) History() []ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ExecutionRecord, len(s.history))
	copy(out, s.history)
	return out
}

// allEventTypes covers every trigger-eligible event. steward.executed
// is excluded so stewards cannot trigger each other in a loop.
func allEventTypes() []eventbus.EventType {
	return []eventbus.EventType{
		eventbus.EventElementCreated, eventbus.EventElementUpdated, eventbus.EventElementDeleted,
		eventbus.EventTaskAssigned, eventbus.EventTaskCompleted,
		eventbus.EventSessionStarted, eventbus.EventSessionSuspended,
		eventbus.EventSessionEnded, eventbus.EventSessionFailed,
		eventbus.EventSyncExported, eventbus.EventSyncImported,
	}
}

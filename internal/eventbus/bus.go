// Package eventbus dispatches in-process events to registered
// handlers. Steward event triggers and the sync watcher subscribe here.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Handler processes events on the bus. Handlers are called in priority
// order (lower value first) for matching event types.
type Handler interface {
	// ID returns a unique identifier for this handler.
	ID() string

	// Handles returns the event types this handler processes.
	Handles() []EventType

	// Priority determines call order. Lower values run first.
	Priority() int

	// Handle processes one event and may record output on the result.
	// Returning an error logs a warning but does not stop the chain.
	Handle(ctx context.Context, event *Event, result *Result) error
}

// Bus dispatches events to registered handlers, sequentially and
// in-process.
type Bus struct {
	handlers []Handler
	logger   *slog.Logger
	mu       sync.RWMutex
}

// New creates an event bus. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Register adds a handler. Handlers are sorted by priority at dispatch
// time, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Dispatch sends an event to all handlers matching its type. Handler
// errors are logged but do not stop the chain; the bus is resilient.
func (b *Bus) Dispatch(ctx context.Context, event *Event) (*Result, error) {
	if event == nil {
		return nil, fmt.Errorf("eventbus: nil event")
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	b.mu.RUnlock()

	result := &Result{}
	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("eventbus: context cancelled: %w", err)
		}
		if err := h.Handle(ctx, event, result); err != nil {
			b.logger.Warn("event handler failed",
				"handler", h.ID(), "event", string(event.Type), "error", err)
			continue
		}
		result.Handled++
	}
	return result, nil
}

// Handlers returns all registered handlers for introspection.
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

func (b *Bus) matchingHandlers(eventType EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, t := range h.Handles() {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc struct {
	Name     string
	Types    []EventType
	Order    int
	Callback func(ctx context.Context, event *Event, result *Result) error
}

func (f *HandlerFunc) ID() string           { return f.Name }
func (f *HandlerFunc) Handles() []EventType { return f.Types }
func (f *HandlerFunc) Priority() int        { return f.Order }
func (f *HandlerFunc) Handle(ctx context.Context, event *Event, result *Result) error {
	return f.Callback(ctx, event, result)
}

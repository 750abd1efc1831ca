package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stoneforge-ai/stoneforge/internal/eventbus"
)

// busMetrics holds lazily-initialized instruments for event counting.
var busMetrics struct {
	events   metric.Int64Counter
	sessions metric.Int64Counter
}

var busMetricsOnce sync.Once

func initBusMetrics() {
	m := Meter("")
	busMetrics.events, _ = m.Int64Counter("sf.events",
		metric.WithDescription("Events dispatched on the internal bus"),
		metric.WithUnit("{event}"),
	)
	busMetrics.sessions, _ = m.Int64Counter("sf.sessions.started",
		metric.WithDescription("Agent sessions started"),
		metric.WithUnit("{session}"),
	)
}

// NewBusHandler returns an event bus handler that counts every event by
// type. Runs last so instrumentation never delays domain handlers.
func NewBusHandler() *eventbus.HandlerFunc {
	busMetricsOnce.Do(initBusMetrics)
	return &eventbus.HandlerFunc{
		Name: "telemetry",
		Types: []eventbus.EventType{
			eventbus.EventElementCreated, eventbus.EventElementUpdated, eventbus.EventElementDeleted,
			eventbus.EventTaskAssigned, eventbus.EventTaskCompleted,
			eventbus.EventSessionStarted, eventbus.EventSessionSuspended,
			eventbus.EventSessionEnded, eventbus.EventSessionFailed,
			eventbus.EventSyncExported, eventbus.EventSyncImported,
			eventbus.EventStewardExecuted,
		},
		Order: 1000,
		Callback: func(ctx context.Context, ev *eventbus.Event, _ *eventbus.Result) error {
			busMetrics.events.Add(ctx, 1, metric.WithAttributes(
				attribute.String("event.type", string(ev.Type)),
			))
			if ev.Type == eventbus.EventSessionStarted {
				busMetrics.sessions.Add(ctx, 1)
			}
			return nil
		},
	}
}

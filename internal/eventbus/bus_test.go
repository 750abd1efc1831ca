package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchPriorityOrder(t *testing.T) {
	bus := New(nil)
	var order []string

	bus.Register(&HandlerFunc{
		Name: "second", Types: []EventType{EventTaskCompleted}, Order: 10,
		Callback: func(ctx context.Context, e *Event, r *Result) error {
			order = append(order, "second")
			return nil
		},
	})
	bus.Register(&HandlerFunc{
		Name: "first", Types: []EventType{EventTaskCompleted}, Order: 1,
		Callback: func(ctx context.Context, e *Event, r *Result) error {
			order = append(order, "first")
			return nil
		},
	})

	res, err := bus.Dispatch(context.Background(), &Event{Type: EventTaskCompleted, ElementID: "el-aaaaaa"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 2, res.Handled)
}

func TestDispatchOnlyMatchingTypes(t *testing.T) {
	bus := New(nil)
	called := false
	bus.Register(&HandlerFunc{
		Name: "sync-only", Types: []EventType{EventSyncImported}, Order: 0,
		Callback: func(ctx context.Context, e *Event, r *Result) error {
			called = true
			return nil
		},
	})

	_, err := bus.Dispatch(context.Background(), &Event{Type: EventSessionEnded})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestDispatchHandlerErrorDoesNotStopChain(t *testing.T) {
	bus := New(nil)
	var reached bool

	bus.Register(&HandlerFunc{
		Name: "boom", Types: []EventType{EventSessionEnded}, Order: 0,
		Callback: func(ctx context.Context, e *Event, r *Result) error {
			return errors.New("boom")
		},
	})
	bus.Register(&HandlerFunc{
		Name: "after", Types: []EventType{EventSessionEnded}, Order: 1,
		Callback: func(ctx context.Context, e *Event, r *Result) error {
			reached = true
			r.Put("after", "ok")
			return nil
		},
	})

	res, err := bus.Dispatch(context.Background(), &Event{Type: EventSessionEnded})
	require.NoError(t, err)
	assert.True(t, reached)
	assert.Equal(t, 1, res.Handled, "only the successful handler counts")
	assert.Equal(t, "ok", res.Outputs["after"])
}

func TestDispatchNilEvent(t *testing.T) {
	bus := New(nil)
	_, err := bus.Dispatch(context.Background(), nil)
	require.Error(t, err)
}

func TestDispatchCancelledContext(t *testing.T) {
	bus := New(nil)
	bus.Register(&HandlerFunc{
		Name: "never", Types: []EventType{EventTaskAssigned}, Order: 0,
		Callback: func(ctx context.Context, e *Event, r *Result) error {
			t.Fatal("handler should not run on cancelled context")
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := bus.Dispatch(ctx, &Event{Type: EventTaskAssigned})
	require.Error(t, err)
}

func TestDispatchStampsTimestamp(t *testing.T) {
	bus := New(nil)
	ev := &Event{Type: EventSyncExported}
	_, err := bus.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, ev.At.IsZero())
}

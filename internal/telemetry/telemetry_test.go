package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/eventbus"
)

func TestDisabledByDefault(t *testing.T) {
	t.Setenv("STONEFORGE_OTEL_ENABLED", "")
	assert.False(t, Enabled())

	require.NoError(t, Init(context.Background(), "stoneforge-test", "0.0.0"))
	// The noop provider still hands out working meters.
	_, err := Meter("").Int64Counter("sf.test")
	assert.NoError(t, err)
	assert.NoError(t, Shutdown(context.Background()))
}

func TestEnabledInit(t *testing.T) {
	t.Setenv("STONEFORGE_OTEL_ENABLED", "true")
	assert.True(t, Enabled())

	require.NoError(t, Init(context.Background(), "stoneforge-test", "0.0.0"))
	assert.NoError(t, Shutdown(context.Background()))
}

func TestBusHandlerCounts(t *testing.T) {
	t.Setenv("STONEFORGE_OTEL_ENABLED", "")
	require.NoError(t, Init(context.Background(), "stoneforge-test", "0.0.0"))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	bus := eventbus.New(nil)
	bus.Register(NewBusHandler())

	res, err := bus.Dispatch(context.Background(), &eventbus.Event{Type: eventbus.EventSessionStarted})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Handled)
}

package synchash

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

func baseElement() *types.Element {
	created := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	return &types.Element{
		ID:        "el-abc123",
		Type:      types.ElementTask,
		Title:     "ship it",
		CreatedAt: created,
		UpdatedAt: created,
		CreatedBy: "director",
		Tags:      []string{"a", "b"},
		Metadata:  map[string]any{"k": "v"},
		Task:      &types.TaskData{Status: types.StatusOpen, Priority: 2},
	}
}

func TestHashDeterministic(t *testing.T) {
	h1, err := Hash(baseElement())
	require.NoError(t, err)
	h2, err := Hash(baseElement())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashIgnoresUpdatedAt(t *testing.T) {
	a := baseElement()
	b := baseElement()
	b.UpdatedAt = b.UpdatedAt.Add(48 * time.Hour)

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHashIgnoresReservedMetadata(t *testing.T) {
	a := baseElement()
	b := baseElement()
	b.Metadata["_el_exported"] = "2026-01-01"

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	// Only the reserved namespace is dropped.
	c := baseElement()
	c.Metadata["extra"] = true
	hc, err := Hash(c)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestHashSensitiveToContent(t *testing.T) {
	a := baseElement()
	ha, err := Hash(a)
	require.NoError(t, err)

	b := baseElement()
	b.Title = "different"
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)

	c := baseElement()
	c.Task.Status = types.StatusClosed
	hc, err := Hash(c)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestHashArrayOrderMatters(t *testing.T) {
	a := baseElement()
	a.Tags = []string{"a", "b"}
	b := baseElement()
	b.Tags = []string{"b", "a"}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb, "arrays are order-preserving")
}

func TestHashUnicodeNFC(t *testing.T) {
	// Precomposed e-acute vs the combining sequence hash identically.
	a := baseElement()
	a.Title = "caf\u00e9"
	b := baseElement()
	b.Title = "cafe\u0301"

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHashMetadataKeyOrderIrrelevant(t *testing.T) {
	a := baseElement()
	a.Metadata = map[string]any{"x": 1, "y": 2, "z": 3}
	b := baseElement()
	b.Metadata = map[string]any{"z": 3, "y": 2, "x": 1}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHashTombstoneDiffers(t *testing.T) {
	a := baseElement()
	ha, err := Hash(a)
	require.NoError(t, err)

	b := baseElement()
	deleted := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	b.DeletedAt = &deleted
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

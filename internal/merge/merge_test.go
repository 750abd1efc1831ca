package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func el(updated time.Time) *types.Element {
	return &types.Element{
		ID:        "el-abc123",
		Type:      types.ElementTask,
		Title:     "merge me",
		CreatedAt: now.Add(-72 * time.Hour),
		UpdatedAt: updated,
		CreatedBy: "director",
		Task:      &types.TaskData{Status: types.StatusOpen, Priority: 1},
	}
}

func TestMergeIdentical(t *testing.T) {
	local := el(now)
	remote := el(now.Add(time.Hour)) // updatedAt is excluded from the hash

	res, err := Elements(local, remote, 0, now)
	require.NoError(t, err)
	assert.Equal(t, Identical, res.Resolution)
	assert.Same(t, local, res.Element)
	assert.Nil(t, res.Conflict)
}

func TestMergeIdempotent(t *testing.T) {
	a := el(now)
	res, err := Elements(a, a, 0, now)
	require.NoError(t, err)
	assert.Equal(t, Identical, res.Resolution)
	assert.Same(t, a, res.Element)
}

func TestMergeLWW(t *testing.T) {
	local := el(now.Add(-time.Hour))
	remote := el(now)
	remote.Title = "remote edit"

	res, err := Elements(local, remote, 0, now)
	require.NoError(t, err)
	assert.Equal(t, RemoteWins, res.Resolution)
	assert.Equal(t, "remote edit", res.Element.Title)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, RemoteWins, res.Conflict.Resolution)
	assert.Equal(t, "el-abc123", res.Conflict.ID)

	// Ties keep local.
	local2 := el(now)
	local2.Title = "local edit"
	remote2 := el(now)
	remote2.Title = "remote edit"
	res, err = Elements(local2, remote2, 0, now)
	require.NoError(t, err)
	assert.Equal(t, LocalWins, res.Resolution)
	assert.Equal(t, "local edit", res.Element.Title)
}

func TestMergeCommutative(t *testing.T) {
	// Two live versions with distinct updatedAt pick the same winner
	// and the same merged tag set regardless of which side is local.
	older := el(now.Add(-time.Hour))
	older.Title = "older edit"
	older.Tags = []string{"b", "a"}
	newer := el(now)
	newer.Title = "newer edit"
	newer.Tags = []string{"c", "a"}

	ab, err := Elements(older, newer, 0, now)
	require.NoError(t, err)
	ba, err := Elements(newer, older, 0, now)
	require.NoError(t, err)

	assert.Equal(t, "newer edit", ab.Element.Title)
	assert.Equal(t, "newer edit", ba.Element.Title)
	assert.Equal(t, ab.Element.UpdatedAt, ba.Element.UpdatedAt)
	assert.Equal(t, []string{"a", "b", "c"}, ab.Element.Tags)
	assert.Equal(t, ab.Element.Tags, ba.Element.Tags)
}

func TestMergeFreshTombstoneBeatsLive(t *testing.T) {
	deleted := now.Add(-time.Hour)

	local := el(now) // newer updatedAt on the live side
	remote := el(now.Add(-2 * time.Hour))
	remote.DeletedAt = &deleted
	remote.DeletedBy = "sweeper"

	res, err := Elements(local, remote, 0, now)
	require.NoError(t, err)
	assert.Equal(t, RemoteWins, res.Resolution)
	assert.True(t, res.Element.IsTombstone())
}

func TestMergeLiveBeatsExpiredTombstone(t *testing.T) {
	deleted := now.Add(-60 * 24 * time.Hour)

	local := el(now.Add(-40 * 24 * time.Hour))
	local.DeletedAt = &deleted
	remote := el(now) // resurrection

	res, err := Elements(local, remote, 0, now)
	require.NoError(t, err)
	assert.Equal(t, RemoteWins, res.Resolution)
	assert.False(t, res.Element.IsTombstone())
}

func TestMergeTwoTombstonesLWW(t *testing.T) {
	d1 := now.Add(-2 * time.Hour)
	d2 := now.Add(-time.Hour)

	local := el(now.Add(-2 * time.Hour))
	local.DeletedAt = &d1
	local.DeletedBy = "alpha"
	remote := el(now.Add(-time.Hour))
	remote.DeletedAt = &d2
	remote.DeletedBy = "beta"

	res, err := Elements(local, remote, 0, now)
	require.NoError(t, err)
	assert.Equal(t, RemoteWins, res.Resolution)
	assert.Equal(t, "beta", res.Element.DeletedBy)
}

func TestMergeClosedDominance(t *testing.T) {
	// The closed side wins even when the open side is newer.
	local := el(now.Add(-time.Hour))
	local.Task.Status = types.StatusClosed
	remote := el(now)
	remote.Title = "still going"

	res, err := Elements(local, remote, 0, now)
	require.NoError(t, err)
	assert.Equal(t, LocalWins, res.Resolution)
	assert.Equal(t, types.StatusClosed, res.Element.Task.Status)

	// Symmetric.
	local2 := el(now)
	local2.Title = "still going"
	remote2 := el(now.Add(-time.Hour))
	remote2.Task.Status = types.StatusClosed
	res, err = Elements(local2, remote2, 0, now)
	require.NoError(t, err)
	assert.Equal(t, RemoteWins, res.Resolution)
}

func TestMergeTagsUnion(t *testing.T) {
	local := el(now)
	local.Tags = []string{"b", "a"}
	remote := el(now.Add(time.Hour))
	remote.Tags = []string{"c", "a"}
	remote.Title = "remote edit"

	res, err := Elements(local, remote, 0, now)
	require.NoError(t, err)
	assert.Equal(t, TagsMerged, res.Resolution)
	assert.Equal(t, []string{"a", "b", "c"}, res.Element.Tags)
	assert.Equal(t, "remote edit", res.Element.Title, "winner's fields survive the tag union")
	require.NotNil(t, res.Conflict)
	assert.Equal(t, TagsMerged, res.Conflict.Resolution)
}

func TestMergeTagsAlreadySuperset(t *testing.T) {
	local := el(now)
	local.Tags = []string{"a"}
	remote := el(now.Add(time.Hour))
	remote.Tags = []string{"a", "b"}

	res, err := Elements(local, remote, 0, now)
	require.NoError(t, err)
	// The winner already carries the union, so no TagsMerged.
	assert.Equal(t, RemoteWins, res.Resolution)
	assert.ElementsMatch(t, []string{"a", "b"}, res.Element.Tags)
}

func dep(blocked, blocker string) *types.Dependency {
	return &types.Dependency{BlockedID: blocked, BlockerID: blocker, Type: types.DepBlocks}
}

func TestMergeDependencies(t *testing.T) {
	e1 := dep("el-a", "el-b")
	e2 := dep("el-a", "el-c")
	e3 := dep("el-b", "el-c")
	e4 := dep("el-c", "el-d")

	t.Run("both sides keep remote copy", func(t *testing.T) {
		out := Dependencies([]*types.Dependency{e1}, []*types.Dependency{e1}, nil)
		require.Len(t, out, 1)
	})

	t.Run("additions from both sides", func(t *testing.T) {
		out := Dependencies([]*types.Dependency{e1, e2}, []*types.Dependency{e1, e3}, []*types.Dependency{e1})
		require.Len(t, out, 3)
	})

	t.Run("remote removal is authoritative", func(t *testing.T) {
		out := Dependencies([]*types.Dependency{e1, e2}, []*types.Dependency{e1}, []*types.Dependency{e1, e2})
		require.Len(t, out, 1)
		assert.Equal(t, e1.Key(), out[0].Key())
	})

	t.Run("local removal is authoritative", func(t *testing.T) {
		out := Dependencies([]*types.Dependency{e1}, []*types.Dependency{e1, e2}, []*types.Dependency{e1, e2})
		require.Len(t, out, 1)
	})

	t.Run("no baseline witness means addition", func(t *testing.T) {
		out := Dependencies([]*types.Dependency{e1}, []*types.Dependency{e4}, nil)
		require.Len(t, out, 2)
	})

	t.Run("deterministic order", func(t *testing.T) {
		a := Dependencies([]*types.Dependency{e3, e1, e2}, []*types.Dependency{e2, e1, e3}, nil)
		b := Dependencies([]*types.Dependency{e1, e2, e3}, []*types.Dependency{e3, e2, e1}, nil)
		require.Equal(t, len(a), len(b))
		for i := range a {
			assert.Equal(t, a[i].Key(), b[i].Key())
		}
	})
}

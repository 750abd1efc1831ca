package playbook

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/storage/sqlite"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

const sampleTOML = `
name = "feature-team"
description = "One director, two workers, a merge steward."

[[agents]]
name = "director"
role = "director"
channel = "control"

[[agents]]
name = "worker-a"
role = "worker"
worker_mode = "ephemeral"
channel = "workers"

[[agents]]
name = "merge-bot"
role = "steward"
steward_focus = "merge"

  [[agents.triggers]]
  kind = "cron"
  schedule = "*/15 * * * *"

[[pools]]
name = "workers"
max_size = 3
enabled = true

  [[pools.agent_types]]
  role = "worker"
  worker_mode = "ephemeral"
  priority = 10
  max_slots = 2
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "team.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o644))
	return path
}

func TestLoadPlaybook(t *testing.T) {
	pb, err := Load(writeSample(t))
	require.NoError(t, err)

	assert.Equal(t, "feature-team", pb.Name)
	require.Len(t, pb.Agents, 3)
	assert.Equal(t, "director", pb.Agents[0].Name)

	profile, err := pb.Agents[2].Profile()
	require.NoError(t, err)
	assert.Equal(t, types.RoleSteward, profile.Role)
	assert.Equal(t, types.FocusMerge, profile.StewardFocus)
	require.Len(t, profile.Triggers, 1)
	assert.Equal(t, "*/15 * * * *", profile.Triggers[0].Schedule)

	require.Len(t, pb.Pools, 1)
	pool := pb.Pools[0].Pool()
	require.NoError(t, pool.Validate())
	assert.Equal(t, 3, pool.MaxSize)
}

func TestLoadRejectsBadPlaybook(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("name = \"x\"\n[[agents]]\nname = \"a\"\nrole = \"wizard\"\n"), 0o644))
	_, err := Load(bad)
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.True(t, types.IsNotFound(err))
}

func TestMaterialize(t *testing.T) {
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	pb, err := Load(writeSample(t))
	require.NoError(t, err)

	res, err := Materialize(ctx, store, pb, "tester")
	require.NoError(t, err)
	assert.Len(t, res.Agents, 3)
	assert.Len(t, res.Channels, 2)

	// Agents carry their profile and channel wiring.
	els, err := store.ListElements(ctx, storage.ElementFilter{Types: []types.ElementType{types.ElementEntity}})
	require.NoError(t, err)
	require.Len(t, els, 3)
	var worker *types.Element
	for _, el := range els {
		if el.Title == "worker-a" {
			worker = el
		}
	}
	require.NotNil(t, worker)
	profile, err := types.ProfileFromElement(worker)
	require.NoError(t, err)
	assert.Equal(t, types.RoleWorker, profile.Role)
	assert.Equal(t, res.Channels["workers"], profile.ChannelID)

	// Re-applying is idempotent.
	res2, err := Materialize(ctx, store, pb, "tester")
	require.NoError(t, err)
	assert.Empty(t, res2.Agents)

	els, err = store.ListElements(ctx, storage.ElementFilter{Types: []types.ElementType{types.ElementChannel}})
	require.NoError(t, err)
	assert.Len(t, els, 2)
}

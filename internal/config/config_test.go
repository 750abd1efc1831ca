package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "stoneforge", cfg.Actor)
	assert.True(t, cfg.Sync.AutoExport)
	assert.Equal(t, filepath.Join(dir, DefaultDatabaseFile), cfg.DatabasePath())
	assert.Equal(t, "claude", cfg.Session.Executable)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
actor: alice
database: /var/lib/sf.db
sync:
  auto_export: false
  elements_file: issues.jsonl
session:
  executable: gpt-4
  fallback_chain: [gpt-4, claude]
pools:
  - name: workers
    max_size: 4
    enabled: true
    agent_types:
      - role: worker
        worker_mode: ephemeral
        priority: 10
        max_slots: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.Actor)
	assert.Equal(t, "/var/lib/sf.db", cfg.DatabasePath(), "absolute paths pass through")
	assert.False(t, cfg.Sync.AutoExport)
	assert.Equal(t, "issues.jsonl", cfg.Sync.ElementsFile)
	assert.Equal(t, DefaultDependenciesFile, cfg.Sync.DependenciesFile, "unset keys keep defaults")
	assert.Equal(t, []string{"gpt-4", "claude"}, cfg.Session.FallbackChain)

	require.Len(t, cfg.Pools, 1)
	assert.Equal(t, "workers", cfg.Pools[0].Name)
	assert.Equal(t, 4, cfg.Pools[0].MaxSize)
	require.Len(t, cfg.Pools[0].AgentTypes, 1)
	assert.Equal(t, 2, cfg.Pools[0].AgentTypes[0].MaxSlots)
}

func TestLoadRejectsInvalidPool(t *testing.T) {
	dir := t.TempDir()
	yaml := `
pools:
  - name: broken
    max_size: 0
    enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(yaml), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestEnvIdentityOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := "actor: from-file\nidentity:\n  mode: env\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(yaml), 0o644))
	t.Setenv("STONEFORGE_ACTOR", "from-env")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Actor)
}

package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes one command against the workspace in dir, returning
// captured stdout and the exit code.
func runCLI(t *testing.T, dir string, args ...string) (string, int) {
	t.Helper()
	resetFlags(rootCmd)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	old := os.Stdout
	os.Stdout = w

	rootCmd.SetArgs(append([]string{"--dir", dir, "--json"}, args...))
	code := Execute()

	require.NoError(t, w.Close())
	os.Stdout = old
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out), code
}

// Flag values persist across Execute calls on the shared command tree;
// reset them so invocations stay independent.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), "output: %s", out)
	return v
}

type elementJSON struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	Task  *struct {
		Status   string `json:"status"`
		Priority int    `json:"priority"`
		Assignee string `json:"assignee"`
	} `json:"task"`
}

func TestCreateShowList(t *testing.T) {
	dir := t.TempDir()

	out, code := runCLI(t, dir, "create", "task", "Fix the parser", "-p", "1", "--tag", "bug")
	require.Equal(t, 0, code, out)
	el := decode[elementJSON](t, out)
	assert.True(t, strings.HasPrefix(el.ID, "el-"))
	require.NotNil(t, el.Task)
	assert.Equal(t, "open", el.Task.Status)
	assert.Equal(t, 1, el.Task.Priority)

	out, code = runCLI(t, dir, "show", el.ID)
	require.Equal(t, 0, code, out)

	out, code = runCLI(t, dir, "list", "--type", "task")
	require.Equal(t, 0, code, out)
	els := decode[[]elementJSON](t, out)
	require.Len(t, els, 1)
	assert.Equal(t, "Fix the parser", els[0].Title)

	// Auto-export flushed the JSONL interchange file.
	_, err := os.Stat(filepath.Join(dir, ".stoneforge", "sync", "elements.jsonl"))
	assert.NoError(t, err)
}

func TestCreateChildID(t *testing.T) {
	dir := t.TempDir()

	out, code := runCLI(t, dir, "create", "task", "Epic")
	require.Equal(t, 0, code, out)
	parent := decode[elementJSON](t, out)

	out, code = runCLI(t, dir, "create", "task", "Subtask", "--parent", parent.ID)
	require.Equal(t, 0, code, out)
	child := decode[elementJSON](t, out)
	assert.Equal(t, parent.ID+".1", child.ID)
}

func TestReadyAndBlocked(t *testing.T) {
	dir := t.TempDir()

	out, _ := runCLI(t, dir, "create", "task", "Blocker")
	blocker := decode[elementJSON](t, out)
	out, _ = runCLI(t, dir, "create", "task", "Blocked")
	blocked := decode[elementJSON](t, out)

	out, code := runCLI(t, dir, "dep", "add", blocked.ID, blocker.ID)
	require.Equal(t, 0, code, out)

	out, code = runCLI(t, dir, "ready")
	require.Equal(t, 0, code, out)
	ready := decode[[]elementJSON](t, out)
	require.Len(t, ready, 1)
	assert.Equal(t, blocker.ID, ready[0].ID)

	out, code = runCLI(t, dir, "blocked")
	require.Equal(t, 0, code, out)
	stuck := decode[[]elementJSON](t, out)
	require.Len(t, stuck, 1)
	assert.Equal(t, blocked.ID, stuck[0].ID)

	// Closing the blocker frees the blocked task.
	_, code = runCLI(t, dir, "close", blocker.ID)
	require.Equal(t, 0, code)

	out, _ = runCLI(t, dir, "ready")
	ready = decode[[]elementJSON](t, out)
	require.Len(t, ready, 1)
	assert.Equal(t, blocked.ID, ready[0].ID)
}

func TestDepCycleRejected(t *testing.T) {
	dir := t.TempDir()

	out, _ := runCLI(t, dir, "create", "task", "A")
	a := decode[elementJSON](t, out)
	out, _ = runCLI(t, dir, "create", "task", "B")
	b := decode[elementJSON](t, out)

	_, code := runCLI(t, dir, "dep", "add", a.ID, b.ID)
	require.Equal(t, 0, code)
	_, code = runCLI(t, dir, "dep", "add", b.ID, a.ID)
	assert.Equal(t, 1, code)
}

func TestExitCodes(t *testing.T) {
	dir := t.TempDir()

	_, code := runCLI(t, dir, "show", "el-ffffff")
	assert.Equal(t, 3, code)

	_, code = runCLI(t, dir, "create", "wormhole", "nope")
	assert.Equal(t, 4, code)

	_, code = runCLI(t, dir, "list", "--no-such-flag")
	assert.Equal(t, 2, code)
}

func TestUpdateAndDelete(t *testing.T) {
	dir := t.TempDir()

	out, _ := runCLI(t, dir, "create", "task", "Rename me")
	el := decode[elementJSON](t, out)

	out, code := runCLI(t, dir, "update", el.ID, "--title", "Renamed", "--status", "in_progress")
	require.Equal(t, 0, code, out)
	updated := decode[elementJSON](t, out)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, "in_progress", updated.Task.Status)

	_, code = runCLI(t, dir, "delete", el.ID)
	require.Equal(t, 0, code)

	// Soft delete leaves a readable tombstone.
	out, code = runCLI(t, dir, "show", el.ID)
	require.Equal(t, 0, code, out)
	shown := decode[struct {
		Element struct {
			DeletedAt *string `json:"deleted_at"`
		} `json:"element"`
	}](t, out)
	assert.NotNil(t, shown.Element.DeletedAt)

	// And the tombstone is gone from default listings.
	out, _ = runCLI(t, dir, "list", "--type", "task")
	assert.Empty(t, decode[[]elementJSON](t, out))
}

func TestImportRoundTrip(t *testing.T) {
	dir := t.TempDir()

	out, _ := runCLI(t, dir, "create", "task", "Round trip")
	el := decode[elementJSON](t, out)

	out, code := runCLI(t, dir, "export", "--full")
	require.Equal(t, 0, code, out)

	out, code = runCLI(t, dir, "import")
	require.Equal(t, 0, code, out)
	stats := decode[map[string]int](t, out)
	assert.Equal(t, 0, stats["created"])
	assert.Equal(t, 0, stats["conflicts"])

	out, _ = runCLI(t, dir, "show", el.ID)
	_, code = runCLI(t, dir, "show", el.ID)
	assert.Equal(t, 0, code, out)
}

const cliPlaybook = `
name = "team"

[[agents]]
name = "worker-one"
role = "worker"
worker_mode = "ephemeral"
channel = "work"
`

func TestAgentsApplyAndDispatch(t *testing.T) {
	dir := t.TempDir()
	pb := filepath.Join(dir, "team.toml")
	require.NoError(t, os.WriteFile(pb, []byte(cliPlaybook), 0o644))

	out, code := runCLI(t, dir, "agents", "apply", pb)
	require.Equal(t, 0, code, out)

	out, code = runCLI(t, dir, "agents", "list")
	require.Equal(t, 0, code, out)
	agents := decode[[]struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}](t, out)
	require.Len(t, agents, 1)

	out, _ = runCLI(t, dir, "create", "task", "Wire the dispatcher")
	task := decode[elementJSON](t, out)

	out, code = runCLI(t, dir, "dispatch", task.ID, agents[0].ID, "--start")
	require.Equal(t, 0, code, out)

	out, _ = runCLI(t, dir, "show", task.ID)
	shown := decode[struct {
		Element elementJSON `json:"element"`
	}](t, out)
	assert.Equal(t, agents[0].ID, shown.Element.Task.Assignee)
	assert.Equal(t, "in_progress", shown.Element.Task.Status)
}

func TestInitAndInfo(t *testing.T) {
	dir := t.TempDir()

	out, code := runCLI(t, dir, "init")
	require.Equal(t, 0, code, out)
	_, err := os.Stat(filepath.Join(dir, ".stoneforge", "config.yaml"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, ".stoneforge", ".gitignore"))
	assert.NoError(t, err)

	_, code = runCLI(t, dir, "create", "task", "One")
	require.Equal(t, 0, code)

	out, code = runCLI(t, dir, "info")
	require.Equal(t, 0, code, out)
	info := decode[struct {
		ByType map[string]int `json:"by_type"`
		Dirty  int            `json:"dirty"`
	}](t, out)
	assert.Equal(t, 1, info.ByType["task"])
	assert.Equal(t, 0, info.Dirty) // auto-export cleared the dirty set
}

func TestDeferRemovesFromReady(t *testing.T) {
	dir := t.TempDir()

	out, _ := runCLI(t, dir, "create", "task", "Later")
	el := decode[elementJSON](t, out)

	_, code := runCLI(t, dir, "defer", el.ID, "2d")
	require.Equal(t, 0, code)

	out, _ = runCLI(t, dir, "ready")
	assert.Empty(t, decode[[]elementJSON](t, out))

	_, code = runCLI(t, dir, "undefer", el.ID)
	require.Equal(t, 0, code)

	out, _ = runCLI(t, dir, "ready")
	assert.Len(t, decode[[]elementJSON](t, out), 1)
}

func TestDepTree(t *testing.T) {
	dir := t.TempDir()

	out, _ := runCLI(t, dir, "create", "task", "Top")
	top := decode[elementJSON](t, out)
	out, _ = runCLI(t, dir, "create", "task", "Mid")
	mid := decode[elementJSON](t, out)
	out, _ = runCLI(t, dir, "create", "task", "Leaf")
	leaf := decode[elementJSON](t, out)

	_, code := runCLI(t, dir, "dep", "add", top.ID, mid.ID)
	require.Equal(t, 0, code)
	_, code = runCLI(t, dir, "dep", "add", mid.ID, leaf.ID)
	require.Equal(t, 0, code)

	out, code = runCLI(t, dir, "dep", "tree", top.ID)
	require.Equal(t, 0, code, out)
	tree := decode[depNode](t, out)
	assert.Equal(t, top.ID, tree.ID)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, mid.ID, tree.Children[0].ID)
	require.Len(t, tree.Children[0].Children, 1)
	assert.Equal(t, leaf.ID, tree.Children[0].Children[0].ID)
}

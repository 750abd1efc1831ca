package dispatch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxSlugLength caps task slugs used in branch names and worktree paths.
const maxSlugLength = 30

// worktreeRoot is where per-agent worktrees are created, relative to the
// repository root.
const worktreeRoot = ".stoneforge/.worktrees"

// sanitizeName lowercases and replaces every character outside [a-z0-9-]
// with a dash, keeping names safe for git refs and filesystem paths.
func sanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Slug sanitizes a task title into a branch-safe slug capped at
// maxSlugLength characters.
func Slug(title string) string {
	s := sanitizeName(title)
	if len(s) > maxSlugLength {
		s = s[:maxSlugLength]
	}
	return s
}

// GenerateBranchName builds the deterministic branch for a worker
// assignment: agent/{name}/{taskId}-{slug}.
func GenerateBranchName(workerName, taskID, slug string) string {
	return fmt.Sprintf("agent/%s/%s-%s", sanitizeName(workerName), taskID, Slug(slug))
}

// GenerateWorktreePath builds the deterministic worktree directory for a
// worker assignment under the repository-local worktree root.
func GenerateWorktreePath(workerName, slug string) string {
	return filepath.Join(worktreeRoot, fmt.Sprintf("%s-%s", sanitizeName(workerName), Slug(slug)))
}

package main

import (
	"context"
	"path/filepath"

	"github.com/stoneforge-ai/stoneforge/internal/ratelimit"
	"github.com/stoneforge-ai/stoneforge/internal/session"
)

// launcher starts agent sessions with the first provider executable in
// the fallback chain that is not rate limited.
type launcher struct {
	mgr    *session.Manager
	limits *ratelimit.Tracker
	chain  []string
}

func newLauncher() *launcher {
	mgr := session.NewManager(session.ManagerOptions{
		Executable:    cfg.Session.Executable,
		TranscriptDir: transcriptDir(),
	}, bus, logger)
	return &launcher{
		mgr:    mgr,
		limits: ratelimit.New(store, logger),
		chain:  cfg.Session.FallbackChain,
	}
}

func (l *launcher) StartSession(ctx context.Context, agentID string, opts session.StartOptions) (*session.Headless, error) {
	if opts.Executable == "" && len(l.chain) > 0 {
		exe, err := l.limits.GetAvailableExecutable(ctx, l.chain)
		if err != nil {
			return nil, err
		}
		opts.Executable = exe
	}
	return l.mgr.StartSession(ctx, agentID, opts)
}

func transcriptDir() string {
	dir := cfg.Session.TranscriptDir
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(cfg.Dir, dir)
}

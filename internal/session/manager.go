package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stoneforge-ai/stoneforge/internal/eventbus"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// maxManagerHistory bounds the retained record of finished sessions.
const maxManagerHistory = 200

// ManagerOptions configures the session manager.
type ManagerOptions struct {
	// Executable is the default provider CLI for sessions that do not
	// pick one.
	Executable string

	// TranscriptDir, when set, receives one JSONL transcript per
	// session.
	TranscriptDir string

	// Server is the shared provider server handed to every headless
	// session.
	Server *SharedServer

	QueueSize int
}

// StartOptions tunes one session start.
type StartOptions struct {
	Executable      string
	Args            []string
	WorkingDir      string
	Env             []string
	Role            types.AgentRole
	ResumeSessionID string
}

// Manager owns the registry of live sessions and the bounded history of
// finished ones. Lifecycle transitions publish session events on the
// bus.
type Manager struct {
	mu      sync.Mutex
	opts    ManagerOptions
	bus     *eventbus.Bus
	logger  *slog.Logger
	active  map[string]*Headless
	history []types.SessionInfo // oldest first
}

// NewManager creates a session manager.
func NewManager(opts ManagerOptions, bus *eventbus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:   opts,
		bus:    bus,
		logger: logger,
		active: make(map[string]*Headless),
	}
}

// StartSession spawns a headless session for the agent and registers
// it. The session is watched in the background; when its provider
// exits, the manager retires it into history and publishes the
// matching lifecycle event.
func (m *Manager) StartSession(ctx context.Context, agentID string, opts StartOptions) (*Headless, error) {
	executable := opts.Executable
	if executable == "" {
		executable = m.opts.Executable
	}

	sessionID := uuid.NewString()
	var transcript io.WriteCloser
	if m.opts.TranscriptDir != "" {
		if err := os.MkdirAll(m.opts.TranscriptDir, 0o755); err != nil {
			return nil, types.WrapError(types.KindStorage, types.CodeDatabaseError, "create transcript dir", err)
		}
		f, err := os.OpenFile(
			filepath.Join(m.opts.TranscriptDir, sessionID+".jsonl"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, types.WrapError(types.KindStorage, types.CodeDatabaseError, "open transcript", err)
		}
		transcript = f
	}

	h, err := StartHeadless(ctx, HeadlessConfig{
		AgentID:         agentID,
		Role:            opts.Role,
		Executable:      executable,
		Args:            opts.Args,
		WorkingDir:      opts.WorkingDir,
		Env:             opts.Env,
		SessionID:       sessionID,
		ResumeSessionID: opts.ResumeSessionID,
		QueueSize:       m.opts.QueueSize,
		Transcript:      transcript,
		Server:          m.opts.Server,
		Logger:          m.logger,
	})
	if err != nil {
		if transcript != nil {
			_ = transcript.Close()
		}
		return nil, err
	}

	m.mu.Lock()
	m.active[sessionID] = h
	m.mu.Unlock()

	m.publish(ctx, eventbus.EventSessionStarted, h.Info())
	go m.watch(h, transcript)
	return h, nil
}

// watch retires the session once its provider exits.
func (m *Manager) watch(h *Headless, transcript io.Closer) {
	_ = h.Wait()
	if transcript != nil {
		_ = transcript.Close()
	}
	m.retire(h)
}

func (m *Manager) retire(h *Headless) {
	info := h.Info()

	m.mu.Lock()
	if _, ok := m.active[info.SessionID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, info.SessionID)
	m.history = append(m.history, info)
	if len(m.history) > maxManagerHistory {
		m.history = m.history[len(m.history)-maxManagerHistory:]
	}
	m.mu.Unlock()

	event := eventbus.EventSessionEnded
	switch info.Status {
	case types.SessionFailed:
		event = eventbus.EventSessionFailed
	case types.SessionSuspended:
		event = eventbus.EventSessionSuspended
	}
	m.publish(context.Background(), event, info)
}

func (m *Manager) publish(ctx context.Context, event eventbus.EventType, info types.SessionInfo) {
	if m.bus == nil {
		return
	}
	_, err := m.bus.Dispatch(ctx, &eventbus.Event{
		Type:      event,
		AgentID:   info.AgentID,
		SessionID: info.SessionID,
		Payload: map[string]any{
			"status":              string(info.Status),
			"provider_session_id": info.ProviderSessionID,
		},
	})
	if err != nil {
		m.logger.Warn("session event dispatch failed", "event", string(event), "error", err)
	}
}

// SuspendSession suspends a running session, keeping it resumable.
func (m *Manager) SuspendSession(id, reason string) error {
	m.mu.Lock()
	h, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return types.NewError(types.KindNotFound, types.CodeNotFound, fmt.Sprintf("session not found: %s", id))
	}
	return h.Suspend(reason)
}

// ResumeSession starts a new provider process against a previously
// suspended session's provider session id.
func (m *Manager) ResumeSession(ctx context.Context, info types.SessionInfo, opts StartOptions) (*Headless, error) {
	if !info.Resumable() {
		return nil, types.NewError(types.KindConstraint, types.CodeInvalidInput,
			fmt.Sprintf("session %s has no provider session id", info.SessionID))
	}
	opts.ResumeSessionID = info.ProviderSessionID
	if opts.Role == "" {
		opts.Role = info.Role
	}
	if opts.WorkingDir == "" {
		opts.WorkingDir = info.WorkingDirectory
	}
	return m.StartSession(ctx, info.AgentID, opts)
}

// EndSession closes a session and waits for it to retire.
func (m *Manager) EndSession(id string) error {
	m.mu.Lock()
	h, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return types.NewError(types.KindNotFound, types.CodeNotFound, fmt.Sprintf("session not found: %s", id))
	}
	if err := h.Close(); err != nil {
		return err
	}
	_ = h.Wait()
	return nil
}

// GetSession returns a live session by id.
func (m *Manager) GetSession(id string) (*Headless, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.active[id]
	return h, ok
}

// ListSessions returns the records of all live sessions.
func (m *Manager) ListSessions() []types.SessionInfo {
	m.mu.Lock()
	active := make([]*Headless, 0, len(m.active))
	for _, h := range m.active {
		active = append(active, h)
	}
	m.mu.Unlock()

	out := make([]types.SessionInfo, 0, len(active))
	for _, h := range active {
		out = append(out, h.Info())
	}
	return out
}

// LatestResumable finds the most recently started session for a role
// that captured a provider session id, searching live sessions first
// and then history.
func (m *Manager) LatestResumable(role types.AgentRole) (types.SessionInfo, bool) {
	candidates := m.ListSessions()

	m.mu.Lock()
	candidates = append(candidates, m.history...)
	m.mu.Unlock()

	var (
		best  types.SessionInfo
		found bool
	)
	for _, info := range candidates {
		if info.Role != role || !info.Resumable() {
			continue
		}
		if !found || info.StartedAt.After(best.StartedAt) {
			best = info
			found = true
		}
	}
	return best, found
}

// CloseAll ends every live session. Used at daemon shutdown.
func (m *Manager) CloseAll(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for _, info := range m.ListSessions() {
		if h, ok := m.GetSession(info.SessionID); ok {
			_ = h.Close()
		}
	}
	for time.Now().Before(deadline) {
		if len(m.ListSessions()) == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

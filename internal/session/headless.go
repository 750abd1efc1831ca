package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// defaultQueueSize bounds the per-session message queue. The drain
// goroutine blocks when consumers fall behind, applying backpressure to
// the provider pipe.
const defaultQueueSize = 256

// closeGrace is how long Close waits for the provider to exit after
// stdin closes before killing it.
const closeGrace = 5 * time.Second

// HeadlessConfig configures a stream-json subprocess session.
type HeadlessConfig struct {
	AgentID    string
	Role       types.AgentRole
	Executable string   // provider CLI, e.g. "claude"
	Args       []string // extra provider args
	WorkingDir string
	Env        []string

	// SessionID overrides the generated session id. Used by the
	// manager so transcripts can be opened before the spawn.
	SessionID string

	// ResumeSessionID resumes a prior provider session instead of
	// starting fresh.
	ResumeSessionID string

	// QueueSize bounds the message queue; 0 means defaultQueueSize.
	QueueSize int

	// Transcript receives every normalized message as one JSON line.
	// Optional; writes are best-effort.
	Transcript io.Writer

	// Server is acquired for the session's lifetime when the provider
	// needs a shared out-of-process server.
	Server *SharedServer

	Logger *slog.Logger
}

// Headless is a headless agent session backed by a subprocess speaking
// stream-json on stdin/stdout.
type Headless struct {
	mu   sync.Mutex
	info types.SessionInfo

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	msgs     chan AgentMessage
	norm     *Normalizer
	logger   *slog.Logger
	cfg      HeadlessConfig
	release  func()
	exited   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	exitErr  error
	closing  bool
	closeOne sync.Once
}

// StartHeadless spawns the provider subprocess and begins draining its
// output into the message queue. The session starts in the starting
// state and transitions to running when the provider's init message
// arrives.
func StartHeadless(ctx context.Context, cfg HeadlessConfig) (*Headless, error) {
	if cfg.Executable == "" {
		return nil, types.NewError(types.KindValidation, types.CodeInvalidInput, "session executable is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	var release func()
	if cfg.Server != nil {
		var err error
		release, err = cfg.Server.Acquire(ctx)
		if err != nil {
			return nil, err
		}
	}

	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if cfg.ResumeSessionID != "" {
		args = append(args, "--resume", cfg.ResumeSessionID)
	}
	args = append(args, cfg.Args...)

	cmd := exec.CommandContext(ctx, cfg.Executable, args...)
	cmd.Dir = cfg.WorkingDir
	if cfg.Env != nil {
		cmd.Env = cfg.Env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		releaseIf(release)
		return nil, types.WrapError(types.KindStorage, types.CodeDatabaseError, "session stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		releaseIf(release)
		return nil, types.WrapError(types.KindStorage, types.CodeDatabaseError, "session stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		releaseIf(release)
		return nil, types.WrapError(types.KindConstraint, types.CodeInvalidInput,
			fmt.Sprintf("spawn %s", cfg.Executable), err)
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	h := &Headless{
		info: types.SessionInfo{
			SessionID:         sessionID,
			AgentID:           cfg.AgentID,
			Role:              cfg.Role,
			ProviderSessionID: cfg.ResumeSessionID,
			Mode:              types.SessionHeadless,
			Status:            types.SessionStarting,
			WorkingDirectory:  cfg.WorkingDir,
			StartedAt:         time.Now().UTC(),
		},
		cmd:     cmd,
		stdin:   stdin,
		msgs:    make(chan AgentMessage, queueSize),
		norm:    NewNormalizer(),
		logger:  logger,
		cfg:     cfg,
		release: release,
		exited:  make(chan struct{}),
		stop:    make(chan struct{}),
	}
	go h.drain(stdout)
	return h, nil
}

func releaseIf(release func()) {
	if release != nil {
		release()
	}
}

// ID returns the session id.
func (h *Headless) ID() string {
	return h.info.SessionID
}

// Info returns a snapshot of the session record.
func (h *Headless) Info() types.SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info
}

// Messages returns the normalized event stream. The channel closes when
// the provider exits and the drain completes.
func (h *Headless) Messages() <-chan AgentMessage {
	return h.msgs
}

// drain owns the provider stdout: every line is normalized, recorded to
// the transcript, and queued. It closes the queue when the provider
// exits.
func (h *Headless) drain(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		for _, msg := range h.norm.Normalize(scanner.Bytes()) {
			h.observe(&msg)
			h.record(msg)
			// Dropped once shutdown begins so a full queue with no
			// consumer cannot wedge the drain.
			select {
			case h.msgs <- msg:
			case <-h.stop:
			}
		}
	}
	if err := scanner.Err(); err != nil {
		msg := errorMessage("provider stream failed: "+err.Error(), nil)
		h.record(msg)
		select {
		case h.msgs <- msg:
		case <-h.stop:
		}
	}

	err := h.cmd.Wait()
	h.mu.Lock()
	h.exitErr = err
	failed := err != nil && !h.closing && !h.info.Status.IsTerminal() && h.info.Status != types.SessionSuspended
	h.finishLocked(failed)
	h.mu.Unlock()

	close(h.exited)
	close(h.msgs)
	releaseIf(h.release)
}

// observe updates session state from the message stream: the init
// system message carries the provider session id and flips the session
// to running.
func (h *Headless) observe(msg *AgentMessage) {
	if msg.Kind != KindSystem || msg.Subtype != "init" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if msg.SessionID != "" {
		h.info.ProviderSessionID = msg.SessionID
	}
	if h.info.Status == types.SessionStarting {
		h.info.Status = types.SessionRunning
	}
}

func (h *Headless) record(msg AgentMessage) {
	if h.cfg.Transcript == nil {
		return
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if _, err := h.cfg.Transcript.Write(append(line, '\n')); err != nil {
		h.logger.Warn("transcript write failed", "session", h.info.SessionID, "error", err)
	}
}

// finishLocked moves the session to its terminal state. Suspended
// sessions stay suspended so they can be resumed later.
func (h *Headless) finishLocked(failed bool) {
	if h.info.Status.IsTerminal() || h.info.Status == types.SessionSuspended {
		return
	}
	if failed {
		h.info.Status = types.SessionFailed
	} else {
		h.info.Status = types.SessionEnded
	}
	now := time.Now().UTC()
	h.info.EndedAt = &now
}

// SendMessage queues one user turn. Fire-and-forget: transport errors
// surface as error events on the message stream, not as return values,
// so callers never have to interleave error handling with iteration.
func (h *Headless) SendMessage(text string) error {
	h.mu.Lock()
	status := h.info.Status
	h.mu.Unlock()
	if status.IsTerminal() || status == types.SessionSuspended {
		return types.NewError(types.KindConstraint, types.CodeInvalidInput,
			fmt.Sprintf("cannot send to %s session", status))
	}

	line, err := json.Marshal(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
		},
	})
	if err != nil {
		return types.WrapError(types.KindValidation, types.CodeInvalidInput, "encode message", err)
	}
	if _, err := h.stdin.Write(append(line, '\n')); err != nil {
		h.logger.Warn("session send failed", "session", h.info.SessionID, "error", err)
		select {
		case h.msgs <- errorMessage("send failed: "+err.Error(), nil):
		default:
		}
	}
	return nil
}

// Interrupt signals the provider to stop the current turn. Idempotent
// and safe to race with stream completion.
func (h *Headless) Interrupt() error {
	select {
	case <-h.exited:
		return nil
	default:
	}
	line, _ := json.Marshal(map[string]any{"type": "control_request", "request": map[string]any{"subtype": "interrupt"}})
	if _, err := h.stdin.Write(append(line, '\n')); err != nil {
		// The provider may have exited between the check and the write.
		return nil
	}
	return nil
}

// Suspend stops the provider process while keeping the session
// resumable. Requires a captured provider session id.
func (h *Headless) Suspend(reason string) error {
	h.mu.Lock()
	if h.info.Status != types.SessionRunning {
		status := h.info.Status
		h.mu.Unlock()
		return transitionError(status, types.SessionSuspended)
	}
	if h.info.ProviderSessionID == "" {
		h.mu.Unlock()
		return types.NewError(types.KindConstraint, types.CodeInvalidInput,
			"cannot suspend: no provider session id captured yet")
	}
	h.info.Status = types.SessionSuspended
	h.closing = true
	h.mu.Unlock()

	h.logger.Info("suspending session", "session", h.info.SessionID, "reason", reason)
	h.shutdown()
	return nil
}

// Close ends the session. Idempotent; always releases the shared
// server reference.
func (h *Headless) Close() error {
	h.closeOne.Do(func() {
		h.mu.Lock()
		h.closing = true
		h.mu.Unlock()
		h.shutdown()
	})
	return nil
}

// shutdown closes stdin to let the provider finish, then kills it if it
// lingers. The drain goroutine performs the final state transition.
func (h *Headless) shutdown() {
	h.stopOnce.Do(func() { close(h.stop) })
	_ = h.stdin.Close()
	select {
	case <-h.exited:
	case <-time.After(closeGrace):
		_ = h.cmd.Process.Kill()
		<-h.exited
	}
}

// Wait blocks until the provider exits and returns its error, if any.
func (h *Headless) Wait() error {
	<-h.exited
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

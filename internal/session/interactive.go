package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// InteractiveConfig configures a PTY-backed interactive session.
type InteractiveConfig struct {
	AgentID    string
	Executable string
	Args       []string
	WorkingDir string
	Env        []string
	Cols       uint16
	Rows       uint16
	Logger     *slog.Logger
}

// Interactive is a terminal session on a PTY. Raw output bytes flow on
// Output; the exit code is delivered once on Exited.
type Interactive struct {
	mu   sync.Mutex
	info types.SessionInfo

	cmd    *exec.Cmd
	tty    *os.File
	out    chan []byte
	exit   chan int
	logger *slog.Logger
	killed sync.Once
}

// StartInteractive spawns the command on a fresh PTY.
func StartInteractive(ctx context.Context, cfg InteractiveConfig) (*Interactive, error) {
	if cfg.Executable == "" {
		return nil, types.NewError(types.KindValidation, types.CodeInvalidInput, "session executable is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, cfg.Executable, cfg.Args...)
	cmd.Dir = cfg.WorkingDir
	if cfg.Env != nil {
		cmd.Env = cfg.Env
	}
	size := &pty.Winsize{Cols: cfg.Cols, Rows: cfg.Rows}
	if size.Cols == 0 {
		size.Cols = 80
	}
	if size.Rows == 0 {
		size.Rows = 24
	}
	tty, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, types.WrapError(types.KindConstraint, types.CodeInvalidInput, "spawn interactive session", err)
	}

	s := &Interactive{
		info: types.SessionInfo{
			SessionID:        uuid.NewString(),
			AgentID:          cfg.AgentID,
			Mode:             types.SessionInteractive,
			Status:           types.SessionRunning,
			WorkingDirectory: cfg.WorkingDir,
			StartedAt:        time.Now().UTC(),
		},
		cmd:    cmd,
		tty:    tty,
		out:    make(chan []byte, 64),
		exit:   make(chan int, 1),
		logger: logger,
	}
	go s.pump()
	return s, nil
}

// ID returns the session id.
func (s *Interactive) ID() string {
	return s.info.SessionID
}

// Info returns a snapshot of the session record.
func (s *Interactive) Info() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Output streams raw PTY bytes. The channel closes on exit.
func (s *Interactive) Output() <-chan []byte {
	return s.out
}

// Exited delivers the process exit code exactly once.
func (s *Interactive) Exited() <-chan int {
	return s.exit
}

func (s *Interactive) pump() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.tty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.out <- chunk
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("pty read ended", "session", s.info.SessionID, "error", err)
			}
			break
		}
	}
	err := s.cmd.Wait()
	_ = s.tty.Close()

	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	s.mu.Lock()
	if !s.info.Status.IsTerminal() {
		if code == 0 {
			s.info.Status = types.SessionEnded
		} else {
			s.info.Status = types.SessionFailed
		}
		now := time.Now().UTC()
		s.info.EndedAt = &now
	}
	s.mu.Unlock()

	close(s.out)
	s.exit <- code
	close(s.exit)
}

// Write sends raw input bytes to the PTY.
func (s *Interactive) Write(p []byte) error {
	_, err := s.tty.Write(p)
	if err != nil {
		return types.WrapError(types.KindConstraint, types.CodeInvalidInput, "pty write", err)
	}
	return nil
}

// Resize adjusts the PTY window size.
func (s *Interactive) Resize(cols, rows uint16) error {
	if err := pty.Setsize(s.tty, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return types.WrapError(types.KindConstraint, types.CodeInvalidInput, "pty resize", err)
	}
	return nil
}

// Kill terminates the session process. Idempotent.
func (s *Interactive) Kill() error {
	s.killed.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	})
	return nil
}

package session

import (
	"fmt"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// Session is the provider-agnostic handle on a headless agent session.
// Messages returns the normalized event stream; the channel closes when
// the underlying provider exits.
type Session interface {
	ID() string
	Info() types.SessionInfo
	SendMessage(text string) error
	Interrupt() error
	Close() error
	Messages() <-chan AgentMessage
}

// validTransition encodes the session state machine. Terminal states
// absorb everything; suspended is reachable only from running.
func validTransition(from, to types.SessionStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch from {
	case types.SessionStarting:
		return to == types.SessionRunning || to == types.SessionEnded || to == types.SessionFailed
	case types.SessionRunning:
		return to == types.SessionSuspended || to == types.SessionEnded || to == types.SessionFailed
	case types.SessionSuspended:
		return to == types.SessionRunning || to == types.SessionEnded || to == types.SessionFailed
	}
	return false
}

// transitionError reports an invalid state machine move.
func transitionError(from, to types.SessionStatus) error {
	return types.NewError(types.KindConstraint, types.CodeInvalidInput,
		fmt.Sprintf("invalid session transition %s -> %s", from, to))
}

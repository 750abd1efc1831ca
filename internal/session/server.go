package session

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// serverStartRetries bounds the startup retries after the initial
// attempt.
const serverStartRetries = 3

// StartFunc launches the shared provider server and returns its stop
// function.
type StartFunc func(ctx context.Context) (stop func() error, err error)

// SharedServer reference-counts one out-of-process provider server
// shared by all sessions. The first Acquire starts it; the last Release
// stops it. Concurrent acquirers serialize on the mutex so the server
// starts exactly once.
type SharedServer struct {
	mu            sync.Mutex
	refs          int
	start         StartFunc
	stop          func() error
	retryInterval time.Duration
}

// NewSharedServer wraps a server start function.
func NewSharedServer(start StartFunc) *SharedServer {
	return &SharedServer{start: start, retryInterval: 500 * time.Millisecond}
}

// Acquire takes a reference, starting the server if this is the first.
// Startup failures retry with exponential backoff; a previous instance
// may still be releasing its port. The returned release function is
// idempotent.
func (s *SharedServer) Acquire(ctx context.Context) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		var stop func() error
		op := func() error {
			var err error
			stop, err = s.start(ctx)
			return err
		}
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(s.retryInterval),
		), serverStartRetries), ctx)
		if err := backoff.Retry(op, policy); err != nil {
			return nil, types.WrapError(types.KindStorage, types.CodeDatabaseError, "start shared provider server", err)
		}
		s.stop = stop
	}
	s.refs++

	var once sync.Once
	return func() { once.Do(s.release) }, nil
}

func (s *SharedServer) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
	if s.refs > 0 {
		return
	}
	if s.stop != nil {
		_ = s.stop()
		s.stop = nil
	}
}

// Refs reports the current reference count, for status surfaces.
func (s *SharedServer) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// Consultation timeout bounds and the post-completion reap delay for
// the active query map.
const (
	minConsultTimeout     = 10 * time.Second
	maxConsultTimeout     = 5 * time.Minute
	defaultConsultTimeout = time.Minute
	queryReapDelay        = 5 * time.Second
)

// QueryStatus tracks one consultation's lifecycle.
type QueryStatus string

// Query status constants
const (
	QueryActive    QueryStatus = "active"
	QueryCompleted QueryStatus = "completed"
	QueryTimedOut  QueryStatus = "timed_out"
	QueryCancelled QueryStatus = "cancelled"
	QueryFailed    QueryStatus = "failed"
)

// Query is one in-flight or recently finished consultation.
type Query struct {
	ID        string          `json:"id"`
	Requester string          `json:"requester"`
	Role      types.AgentRole `json:"role"`
	Status    QueryStatus     `json:"status"`
	StartedAt time.Time       `json:"started_at"`

	cancel context.CancelFunc
}

// ConsultOptions tunes a predecessor consultation.
type ConsultOptions struct {
	// Timeout is clamped to [10s, 5min]; zero means the default.
	Timeout time.Duration

	// KeepRunning leaves the predecessor running instead of suspending
	// it after the response.
	KeepRunning bool

	// Context, when set, is prepended to the message.
	Context string
}

// ConsultResult is what a consultation returns.
type ConsultResult struct {
	Success     bool              `json:"success"`
	Response    string            `json:"response"`
	Predecessor types.SessionInfo `json:"predecessor"`
	DurationMs  int64             `json:"duration_ms"`
}

// Consultant resumes a predecessor agent's session to ask it a
// question, then suspends it again.
type Consultant struct {
	mu           sync.Mutex
	manager      *Manager
	logger       *slog.Logger
	queries      map[string]*Query
	reapDelay    time.Duration
	timeoutFloor time.Duration
}

// NewConsultant creates a consultant over the session manager.
func NewConsultant(manager *Manager, logger *slog.Logger) *Consultant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consultant{
		manager:      manager,
		logger:       logger,
		queries:      make(map[string]*Query),
		reapDelay:    queryReapDelay,
		timeoutFloor: minConsultTimeout,
	}
}

func clampTimeout(d, floor time.Duration) time.Duration {
	if d == 0 {
		return defaultConsultTimeout
	}
	if d < floor {
		return floor
	}
	if d > maxConsultTimeout {
		return maxConsultTimeout
	}
	return d
}

// ConsultPredecessor resumes the most recent resumable session for the
// role, sends it the message, and accumulates assistant text until a
// result event or the session exits. The predecessor is suspended again
// afterwards unless KeepRunning is set; on timeout the query is marked
// timed_out and suspension is still attempted.
func (c *Consultant) ConsultPredecessor(ctx context.Context, requester string, role types.AgentRole, message string, opts ConsultOptions) (*ConsultResult, error) {
	predecessor, ok := c.manager.LatestResumable(role)
	if !ok {
		return nil, types.NewError(types.KindNotFound, types.CodeNotFound,
			fmt.Sprintf("no resumable session for role %s", role))
	}

	queryCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	query := &Query{
		ID:        uuid.NewString(),
		Requester: requester,
		Role:      role,
		Status:    QueryActive,
		StartedAt: time.Now().UTC(),
		cancel:    cancel,
	}
	c.mu.Lock()
	c.queries[query.ID] = query
	c.mu.Unlock()

	result := c.run(queryCtx, query, predecessor, message, opts)

	c.mu.Lock()
	if query.Status == QueryActive {
		if result.Success {
			query.Status = QueryCompleted
		} else {
			query.Status = QueryFailed
		}
	}
	c.mu.Unlock()
	time.AfterFunc(c.reapDelay, func() { c.reap(query.ID) })

	return result, nil
}

func (c *Consultant) run(ctx context.Context, query *Query, predecessor types.SessionInfo, message string, opts ConsultOptions) *ConsultResult {
	started := time.Now()
	result := &ConsultResult{Predecessor: predecessor}
	defer func() { result.DurationMs = time.Since(started).Milliseconds() }()

	// The session must outlive a consultation timeout so it can still
	// be suspended, so it is started on a background context.
	h, err := c.manager.ResumeSession(context.Background(), predecessor, StartOptions{})
	if err != nil {
		c.logger.Warn("predecessor resume failed", "query", query.ID, "error", err)
		return result
	}
	defer c.settle(h, opts.KeepRunning)

	full := message
	if opts.Context != "" {
		full = opts.Context + "\n\n" + message
	}
	if err := h.SendMessage(full); err != nil {
		return result
	}

	timer := time.NewTimer(clampTimeout(opts.Timeout, c.timeoutFloor))
	defer timer.Stop()

	var response strings.Builder
	for {
		select {
		case msg, open := <-h.Messages():
			if !open {
				result.Response = response.String()
				result.Success = result.Response != ""
				return result
			}
			switch msg.Kind {
			case KindAssistant:
				response.WriteString(msg.Content)
			case KindResult:
				result.Response = response.String()
				result.Success = true
				return result
			case KindError:
				c.logger.Warn("predecessor error event", "query", query.ID, "error", msg.Content)
			}
		case <-timer.C:
			c.markStatus(query, QueryTimedOut)
			result.Response = response.String()
			return result
		case <-ctx.Done():
			c.markStatus(query, QueryCancelled)
			result.Response = response.String()
			return result
		}
	}
}

// settle suspends the predecessor again, falling back to close when the
// provider already exited or never captured a session id.
func (c *Consultant) settle(h *Headless, keepRunning bool) {
	if keepRunning {
		return
	}
	if err := h.Suspend("consultation complete"); err != nil {
		_ = h.Close()
	}
}

func (c *Consultant) markStatus(query *Query, status QueryStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if query.Status == QueryActive {
		query.Status = status
	}
}

// ActiveQueries lists all queries not yet reaped.
func (c *Consultant) ActiveQueries() []Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Query, 0, len(c.queries))
	for _, q := range c.queries {
		out = append(out, *q)
	}
	return out
}

// CancelQuery cancels an in-flight consultation.
func (c *Consultant) CancelQuery(id string) error {
	c.mu.Lock()
	q, ok := c.queries[id]
	c.mu.Unlock()
	if !ok {
		return types.NewError(types.KindNotFound, types.CodeNotFound, fmt.Sprintf("query not found: %s", id))
	}
	q.cancel()
	return nil
}

func (c *Consultant) reap(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.queries, id)
}

package dispatch

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// SpawnRequest describes the agent shape a caller wants to admit.
type SpawnRequest struct {
	Role         types.AgentRole
	WorkerMode   types.WorkerMode
	StewardFocus types.StewardFocus

	// TaskPriority breaks ties when multiple requests contend for the
	// same slot.
	TaskPriority int
}

// Admission is the result of a pool spawn check.
type Admission struct {
	Pool      string
	AgentType types.AgentType
	CanSpawn  bool
	Reason    string
}

// Slot is a reserved pool slot. Release is idempotent.
type Slot struct {
	release sync.Once
	free    func()
}

// Release returns the slot to its pool.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.release.Do(s.free)
}

// PoolManager tracks active sessions against configured pool caps. All
// accounting runs under one coarse lock; admission decisions are cheap
// and pools are few.
type PoolManager struct {
	mu     sync.Mutex
	pools  []types.Pool
	total  map[string]int            // pool name -> active sessions
	byType map[string]map[string]int // pool name -> agent type key -> active
}

// NewPoolManager validates the pool configuration and builds a manager
// with zero active sessions.
func NewPoolManager(pools []types.Pool) (*PoolManager, error) {
	for i := range pools {
		if err := pools[i].Validate(); err != nil {
			return nil, err
		}
	}
	m := &PoolManager{
		pools:  append([]types.Pool(nil), pools...),
		total:  make(map[string]int),
		byType: make(map[string]map[string]int),
	}
	for _, p := range m.pools {
		m.byType[p.Name] = make(map[string]int)
	}
	return m, nil
}

// govern finds the first enabled pool whose agent types accept the
// request. Caller holds the lock.
func (m *PoolManager) govern(req SpawnRequest) (*types.Pool, *types.AgentType) {
	for i := range m.pools {
		p := &m.pools[i]
		if !p.Enabled {
			continue
		}
		for j := range p.AgentTypes {
			if p.AgentTypes[j].Matches(req.Role, req.WorkerMode, req.StewardFocus) {
				return p, &p.AgentTypes[j]
			}
		}
	}
	return nil, nil
}

// SpawnCheck computes whether a session for the request could start
// right now, without reserving anything.
func (m *PoolManager) SpawnCheck(req SpawnRequest) *Admission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check(req)
}

func (m *PoolManager) check(req SpawnRequest) *Admission {
	pool, at := m.govern(req)
	if pool == nil {
		return &Admission{CanSpawn: false, Reason: "no enabled pool accepts this agent type"}
	}
	adm := &Admission{Pool: pool.Name, AgentType: *at}
	active := m.total[pool.Name]
	if active >= pool.MaxSize {
		adm.Reason = fmt.Sprintf("pool %s is full (%d/%d)", pool.Name, active, pool.MaxSize)
		return adm
	}
	if at.MaxSlots > 0 {
		if used := m.byType[pool.Name][at.Key()]; used >= at.MaxSlots {
			adm.Reason = fmt.Sprintf("pool %s has no %s slots (%d/%d)", pool.Name, at.Key(), used, at.MaxSlots)
			return adm
		}
	}
	adm.CanSpawn = true
	return adm
}

// Acquire reserves a slot for the request, failing with PoolExhausted
// when no slot is available. The returned slot must be released when the
// session ends.
func (m *PoolManager) Acquire(req SpawnRequest) (*Slot, *Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	adm := m.check(req)
	if !adm.CanSpawn {
		return nil, adm, types.NewError(types.KindConstraint, types.CodePoolExhausted, adm.Reason)
	}
	pool := adm.Pool
	key := adm.AgentType.Key()
	m.total[pool]++
	m.byType[pool][key]++

	slot := &Slot{free: func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.total[pool]--
		m.byType[pool][key]--
	}}
	return slot, adm, nil
}

// ActiveCount reports the number of active sessions in a pool.
func (m *PoolManager) ActiveCount(pool string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total[pool]
}

// Rank orders contending spawn requests: agent-type priority first, then
// task priority, both descending. Requests no pool accepts sink to the
// bottom. The sort is stable so equal contenders keep arrival order.
func (m *PoolManager) Rank(reqs []SpawnRequest) []SpawnRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	type ranked struct {
		req      SpawnRequest
		typePrio int
		governed bool
	}
	out := make([]ranked, len(reqs))
	for i, r := range reqs {
		_, at := m.govern(r)
		out[i] = ranked{req: r}
		if at != nil {
			out[i].typePrio = at.Priority
			out[i].governed = true
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].governed != out[j].governed {
			return out[i].governed
		}
		if out[i].typePrio != out[j].typePrio {
			return out[i].typePrio > out[j].typePrio
		}
		return out[i].req.TaskPriority > out[j].req.TaskPriority
	})
	result := make([]SpawnRequest, len(out))
	for i, r := range out {
		result[i] = r.req
	}
	return result
}

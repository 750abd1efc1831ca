// Package playbook loads TOML team templates: the agents, channels,
// and pools a workspace spins up together.
package playbook

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/stoneforge-ai/stoneforge/internal/idgen"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// Playbook is one team template.
type Playbook struct {
	Name        string     `toml:"name"`
	Description string     `toml:"description"`
	Agents      []AgentDef `toml:"agents"`
	Pools       []PoolDef  `toml:"pools"`
}

// AgentDef declares one agent to materialize.
type AgentDef struct {
	Name         string       `toml:"name"`
	Role         string       `toml:"role"`
	WorkerMode   string       `toml:"worker_mode"`
	StewardFocus string       `toml:"steward_focus"`
	Channel      string       `toml:"channel"`
	Executable   string       `toml:"executable"`
	Triggers     []TriggerDef `toml:"triggers"`
}

// TriggerDef declares one steward trigger.
type TriggerDef struct {
	Kind     string `toml:"kind"`
	Schedule string `toml:"schedule"`
	Event    string `toml:"event"`
}

// PoolDef declares one concurrency pool.
type PoolDef struct {
	Name       string         `toml:"name"`
	MaxSize    int            `toml:"max_size"`
	Enabled    bool           `toml:"enabled"`
	AgentTypes []AgentTypeDef `toml:"agent_types"`
}

// AgentTypeDef declares one admissible agent shape.
type AgentTypeDef struct {
	Role         string `toml:"role"`
	WorkerMode   string `toml:"worker_mode"`
	StewardFocus string `toml:"steward_focus"`
	Priority     int    `toml:"priority"`
	MaxSlots     int    `toml:"max_slots"`
}

// Load parses one playbook file.
func Load(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.KindNotFound, types.CodeNotFound, "read playbook", err)
	}
	var pb Playbook
	if err := toml.Unmarshal(data, &pb); err != nil {
		return nil, types.WrapError(types.KindValidation, types.CodeInvalidInput,
			fmt.Sprintf("parse playbook %s", path), err)
	}
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	return &pb, nil
}

// LoadAll parses every path, failing on the first bad file.
func LoadAll(paths []string) ([]*Playbook, error) {
	out := make([]*Playbook, 0, len(paths))
	for _, path := range paths {
		pb, err := Load(path)
		if err != nil {
			return nil, err
		}
		out = append(out, pb)
	}
	return out, nil
}

// Validate checks the template against the agent and pool invariants.
func (p *Playbook) Validate() error {
	if p.Name == "" {
		return types.NewError(types.KindValidation, types.CodeInvalidInput, "playbook name is required")
	}
	for i := range p.Agents {
		if p.Agents[i].Name == "" {
			return types.NewError(types.KindValidation, types.CodeInvalidInput,
				fmt.Sprintf("playbook %s: agent %d has no name", p.Name, i))
		}
		if _, err := p.Agents[i].Profile(); err != nil {
			return err
		}
	}
	for i := range p.Pools {
		pool := p.Pools[i].Pool()
		if err := pool.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Profile converts the agent definition into a validated profile.
func (a *AgentDef) Profile() (*types.AgentProfile, error) {
	profile := &types.AgentProfile{
		Role:         types.AgentRole(a.Role),
		WorkerMode:   types.WorkerMode(a.WorkerMode),
		StewardFocus: types.StewardFocus(a.StewardFocus),
		Executable:   a.Executable,
	}
	for _, t := range a.Triggers {
		profile.Triggers = append(profile.Triggers, types.StewardTrigger{
			Kind:     types.TriggerKind(t.Kind),
			Schedule: t.Schedule,
			Event:    t.Event,
		})
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// Pool converts the pool definition into the runtime type.
func (p *PoolDef) Pool() types.Pool {
	pool := types.Pool{Name: p.Name, MaxSize: p.MaxSize, Enabled: p.Enabled}
	for _, at := range p.AgentTypes {
		pool.AgentTypes = append(pool.AgentTypes, types.AgentType{
			Role:         types.AgentRole(at.Role),
			WorkerMode:   types.WorkerMode(at.WorkerMode),
			StewardFocus: types.StewardFocus(at.StewardFocus),
			Priority:     at.Priority,
			MaxSlots:     at.MaxSlots,
		})
	}
	return pool
}

// MaterializeResult reports what a playbook application created.
type MaterializeResult struct {
	Agents   []string // element ids
	Channels map[string]string // channel name -> element id
}

// Materialize creates the playbook's channels and agent entities in the
// store. Channels are deduplicated by name across agents; agents whose
// title already exists are skipped so re-applying is idempotent.
func Materialize(ctx context.Context, store storage.Store, pb *Playbook, actor string) (*MaterializeResult, error) {
	res := &MaterializeResult{Channels: make(map[string]string)}
	now := time.Now().UTC()
	exists := func(id string) (bool, error) { return store.ElementExists(ctx, id) }

	existing, err := store.ListElements(ctx, storage.ElementFilter{
		Types: []types.ElementType{types.ElementEntity, types.ElementChannel},
	})
	if err != nil {
		return nil, err
	}
	byTitle := make(map[string]*types.Element, len(existing))
	for _, el := range existing {
		byTitle[string(el.Type)+"\x00"+el.Title] = el
	}

	channelID := func(name string) (string, error) {
		if id, ok := res.Channels[name]; ok {
			return id, nil
		}
		if el, ok := byTitle[string(types.ElementChannel)+"\x00"+name]; ok {
			res.Channels[name] = el.ID
			return el.ID, nil
		}
		id, err := idgen.NewUniqueRootID(types.ElementChannel, actor, now, exists)
		if err != nil {
			return "", err
		}
		err = store.CreateElement(ctx, &types.Element{
			ID: id, Type: types.ElementChannel, Title: name,
			CreatedAt: now, UpdatedAt: now, CreatedBy: actor,
		})
		if err != nil {
			return "", err
		}
		res.Channels[name] = id
		return id, nil
	}

	for i := range pb.Agents {
		def := &pb.Agents[i]
		if _, ok := byTitle[string(types.ElementEntity)+"\x00"+def.Name]; ok {
			continue
		}
		profile, err := def.Profile()
		if err != nil {
			return nil, err
		}
		if def.Channel != "" {
			id, err := channelID(def.Channel)
			if err != nil {
				return nil, err
			}
			profile.ChannelID = id
		}
		md, err := profile.ToMetadata()
		if err != nil {
			return nil, err
		}
		id, err := idgen.NewUniqueRootID(types.ElementEntity, actor, now, exists)
		if err != nil {
			return nil, err
		}
		err = store.CreateElement(ctx, &types.Element{
			ID: id, Type: types.ElementEntity, Title: def.Name,
			Metadata:  md,
			CreatedAt: now, UpdatedAt: now, CreatedBy: actor,
		})
		if err != nil {
			return nil, err
		}
		res.Agents = append(res.Agents, id)
	}
	return res, nil
}

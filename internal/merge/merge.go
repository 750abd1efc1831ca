// Package merge implements last-writer-wins element merging with
// tombstone TTL classification, plus three-way dependency set merging.
package merge

import (
	"sort"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/synchash"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// Resolution names how a merge was decided.
type Resolution string

// Resolution values
const (
	Identical  Resolution = "IDENTICAL"
	LocalWins  Resolution = "LOCAL_WINS"
	RemoteWins Resolution = "REMOTE_WINS"
	TagsMerged Resolution = "TAGS_MERGED"
)

// liveness classifies one side of a merge from deletedAt and ttl.
type liveness int

const (
	live liveness = iota
	freshTombstone
	expiredTombstone
)

// ConflictRecord is one line of the conflict journal, emitted whenever
// the two sides hash differently.
type ConflictRecord struct {
	ID              string     `json:"id"`
	LocalHash       string     `json:"local_hash"`
	RemoteHash      string     `json:"remote_hash"`
	Resolution      Resolution `json:"resolution"`
	LocalUpdatedAt  time.Time  `json:"local_updated_at"`
	RemoteUpdatedAt time.Time  `json:"remote_updated_at"`
	ResolvedAt      time.Time  `json:"resolved_at"`
}

// Result is the outcome of merging one element.
type Result struct {
	Element    *types.Element
	Resolution Resolution
	// Conflict is nil when the sides were identical.
	Conflict *ConflictRecord
}

// Elements merges local and remote versions of the same element.
//
// Decision ladder:
//  1. identical content hashes keep local, no conflict;
//  2. tombstone rules: a fresh tombstone beats a live side, a live side
//     beats an expired tombstone, two tombstones fall through to LWW;
//  3. closed-status precedence: for tasks, if exactly one side is
//     closed-or-tombstoned, that side wins regardless of updatedAt;
//  4. LWW by updatedAt, ties keeping local.
//
// Whatever wins, tags become the sorted set union of both sides; when
// the union differs from the winner's tags the resolution is
// TagsMerged.
func Elements(local, remote *types.Element, ttl time.Duration, now time.Time) (*Result, error) {
	hl, err := synchash.Hash(local)
	if err != nil {
		return nil, err
	}
	hr, err := synchash.Hash(remote)
	if err != nil {
		return nil, err
	}
	if hl == hr {
		return &Result{Element: local, Resolution: Identical}, nil
	}

	winner, resolution := pickWinner(local, remote, ttl, now)

	merged := winner.Clone()
	union := tagUnion(local.Tags, remote.Tags)
	if !equalTags(union, merged.Tags) {
		merged.Tags = union
		resolution = TagsMerged
	}

	return &Result{
		Element:    merged,
		Resolution: resolution,
		Conflict: &ConflictRecord{
			ID:              local.ID,
			LocalHash:       hl,
			RemoteHash:      hr,
			Resolution:      resolution,
			LocalUpdatedAt:  local.UpdatedAt,
			RemoteUpdatedAt: remote.UpdatedAt,
			ResolvedAt:      now,
		},
	}, nil
}

func pickWinner(local, remote *types.Element, ttl time.Duration, now time.Time) (*types.Element, Resolution) {
	ll := classify(local, ttl, now)
	lr := classify(remote, ttl, now)

	// Tombstone ladder. Two tombstones fall through to LWW so the later
	// deletion's attribution survives.
	if ll != lr {
		switch {
		case ll == freshTombstone && lr == live:
			return local, LocalWins
		case lr == freshTombstone && ll == live:
			return remote, RemoteWins
		case ll == expiredTombstone && lr == live:
			// Resurrection: the live side supersedes an expired delete.
			return remote, RemoteWins
		case lr == expiredTombstone && ll == live:
			return local, LocalWins
		}
	}

	// Closed-status precedence, task-specific.
	lc := isClosedSide(local)
	rc := isClosedSide(remote)
	if lc != rc {
		if lc {
			return local, LocalWins
		}
		return remote, RemoteWins
	}

	// LWW; ties keep local.
	if remote.UpdatedAt.After(local.UpdatedAt) {
		return remote, RemoteWins
	}
	return local, LocalWins
}

func classify(el *types.Element, ttl time.Duration, now time.Time) liveness {
	if !el.IsTombstone() {
		return live
	}
	if el.IsExpired(ttl, now) {
		return expiredTombstone
	}
	return freshTombstone
}

// isClosedSide reports whether a side counts as closed for status
// precedence: a tombstone, or a task whose status is closed.
func isClosedSide(el *types.Element) bool {
	if el.IsTombstone() {
		return true
	}
	return el.Task != nil && el.Task.Status.IsClosed()
}

func tagUnion(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, t := range a {
		seen[t] = true
	}
	for _, t := range b {
		seen[t] = true
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Dependencies performs a three-way merge of edge sets keyed by
// (blockedId, blockerId, type). Removal is authoritative: an edge
// missing on either side that the baseline witnessed is dropped.
func Dependencies(local, remote, original []*types.Dependency) []*types.Dependency {
	localSet := keyed(local)
	remoteSet := keyed(remote)
	originalSet := keyed(original)

	merged := make(map[string]*types.Dependency)

	for key, dep := range localSet {
		if remoteDep, inRemote := remoteSet[key]; inRemote {
			merged[key] = remoteDep
			continue
		}
		if _, inOriginal := originalSet[key]; inOriginal {
			// Remote removed it.
			continue
		}
		// Local addition.
		merged[key] = dep
	}
	for key, dep := range remoteSet {
		if _, inLocal := localSet[key]; inLocal {
			continue
		}
		if _, inOriginal := originalSet[key]; inOriginal {
			// Local removed it.
			continue
		}
		// Remote addition.
		merged[key] = dep
	}

	out := make([]*types.Dependency, 0, len(merged))
	for _, dep := range merged {
		out = append(out, dep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func keyed(deps []*types.Dependency) map[string]*types.Dependency {
	out := make(map[string]*types.Dependency, len(deps))
	for _, d := range deps {
		out[d.Key()] = d
	}
	return out
}

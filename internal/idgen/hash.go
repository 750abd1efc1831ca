// Package idgen generates content-derived element IDs.
package idgen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// ID length bounds for root element ids (hex characters after the prefix).
const (
	MinIDLength = 6
	MaxIDLength = 10
)

// Prefix is the element id namespace prefix.
const Prefix = "el"

// counter is the process-wide monotonic element index mixed into each
// hash. It only needs to distinguish elements created within the same
// timestamp tick, so a process-local counter suffices.
var counter atomic.Uint64

// GenerateRootID derives a root element id from the element's identity
// fields. Length is expected to be MinIDLength-MaxIDLength; out-of-range
// values fall back to MinIDLength. The nonce handles collision retries.
func GenerateRootID(elemType types.ElementType, createdBy string, createdAt time.Time, length, nonce int) string {
	if length < MinIDLength || length > MaxIDLength {
		length = MinIDLength
	}
	seq := counter.Add(1)
	content := fmt.Sprintf("%s|%s|%d|%d|%d", elemType, createdBy, createdAt.UnixNano(), seq, nonce)
	hash := sha256.Sum256([]byte(content))
	// Each byte yields two hex chars; round up and truncate.
	numBytes := (length + 1) / 2
	short := hex.EncodeToString(hash[:numBytes])[:length]
	return fmt.Sprintf("%s-%s", Prefix, short)
}

// ChildID builds a hierarchical child id from a parent id and the next
// child number issued by the store's per-parent counter.
func ChildID(parentID string, n int) string {
	return fmt.Sprintf("%s.%d", parentID, n)
}

// ExistsFunc reports whether an id is already taken.
type ExistsFunc func(id string) (bool, error)

// NewUniqueRootID generates a root id, widening the hash and then
// bumping the nonce until it finds an id the store does not know.
// Collisions at 6 chars are rare; running out of retries means the
// exists check itself is broken.
func NewUniqueRootID(elemType types.ElementType, createdBy string, createdAt time.Time, exists ExistsFunc) (string, error) {
	for nonce := 0; nonce < 16; nonce++ {
		for length := MinIDLength; length <= MaxIDLength; length++ {
			id := GenerateRootID(elemType, createdBy, createdAt, length, nonce)
			taken, err := exists(id)
			if err != nil {
				return "", types.WrapError(types.KindStorage, types.CodeDatabaseError, "id uniqueness check", err)
			}
			if !taken {
				return id, nil
			}
		}
	}
	return "", types.NewError(types.KindStorage, types.CodeIDCollision, "exhausted id generation retries")
}

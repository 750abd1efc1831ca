// Package synchash computes the canonical content hash used as the
// primary equality predicate during sync and merge.
package synchash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// Hash computes SHA-256 over the canonical serialization of the
// element's hashable view and returns it as 64 hex chars.
//
// The view drops updatedAt and any metadata key in the reserved `_el_`
// namespace: updatedAt changes on every write and the reserved keys
// carry machine bookkeeping, so neither may perturb equality.
// Canonical form: keys sorted, arrays in order, numbers in their
// shortest round-trip decimal form, strings normalized to NFC.
func Hash(el *types.Element) (string, error) {
	view, err := hashableView(el)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, view); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// hashableView round-trips the element through JSON into a generic map
// and strips the excluded fields.
func hashableView(el *types.Element) (map[string]any, error) {
	data, err := json.Marshal(el)
	if err != nil {
		return nil, types.WrapError(types.KindValidation, types.CodeInvalidInput, "serialize element for hashing", err)
	}
	var view map[string]any
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, types.WrapError(types.KindValidation, types.CodeInvalidInput, "reparse element for hashing", err)
	}
	delete(view, "updated_at")
	if md, ok := view["metadata"].(map[string]any); ok {
		for key := range md {
			if strings.HasPrefix(key, types.ReservedMetadataPrefix) {
				delete(md, key)
			}
		}
		if len(md) == 0 {
			delete(view, "metadata")
		}
	}
	return view, nil
}

// writeCanonical serializes v deterministically. Values come from a
// json.Unmarshal round trip, so only JSON types appear here.
func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case float64:
		// json.Marshal emits the shortest decimal that round-trips the
		// IEEE-754 value.
		data, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(data)
	case string:
		data, err := json.Marshal(norm.NFC.String(val))
		if err != nil {
			return err
		}
		buf.Write(data)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		type entry struct{ norm, orig string }
		entries := make([]entry, 0, len(val))
		for k := range val {
			entries = append(entries, entry{norm.NFC.String(k), k})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].norm < entries[j].norm })
		buf.WriteByte('{')
		for i, e := range entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyData, err := json.Marshal(e.norm)
			if err != nil {
				return err
			}
			buf.Write(keyData)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[e.orig]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported value type %T in canonical form", v)
	}
	return nil
}

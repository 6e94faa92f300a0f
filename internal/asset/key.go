// Package asset defines the identifiers shared by every stage of the pipeline.
//
// A Key addresses any produced data artifact, whether it is a raw table written
// by the extraction job or a model built by dbt, so that both stages can live
// in one dependency graph.
package asset

import (
	"fmt"
	"strconv"
	"strings"
)

// keySeparator joins key segments in the string form of a Key.
const keySeparator = "/"

// Key is an ordered, hierarchical asset identifier.
type Key []string

// NewKey builds a key from its path segments.
func NewKey(segments ...string) Key {
	k := make(Key, len(segments))
	copy(k, segments)
	return k
}

// ParseKey parses the slash-separated string form of a key.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty asset key")
	}
	parts := strings.Split(s, keySeparator)
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("asset key %q has an empty segment", s)
		}
	}
	return Key(parts), nil
}

// String returns the slash-separated form, e.g. "fakestore/carts".
func (k Key) String() string {
	return strings.Join(k, keySeparator)
}

// Equal reports whether two keys have identical segments.
func (k Key) Equal(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// Validate checks that every segment is non-empty and free of the separator,
// so that the string form identifies the key.
func (k Key) Validate() error {
	if len(k) == 0 {
		return fmt.Errorf("empty asset key")
	}
	for _, seg := range k {
		if seg == "" {
			return fmt.Errorf("asset key %q has an empty segment", k.String())
		}
		if strings.Contains(seg, keySeparator) {
			return fmt.Errorf("asset key segment %q contains %q", seg, keySeparator)
		}
	}
	return nil
}

// identity is an encoding of the segments that never collides, unlike String.
func (k Key) identity() string {
	var b strings.Builder
	for _, seg := range k {
		b.WriteString(strconv.Quote(seg))
	}
	return b.String()
}

// Last returns the final segment, or "" for an empty key.
func (k Key) Last() string {
	if len(k) == 0 {
		return ""
	}
	return k[len(k)-1]
}

// Union returns base followed by every key in extra not already present.
// Order of first appearance is preserved and base is never reordered.
func Union(base []Key, extra ...[]Key) []Key {
	seen := make(map[string]bool, len(base))
	out := make([]Key, 0, len(base))
	add := func(k Key) {
		id := k.identity()
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, k)
	}
	for _, k := range base {
		add(k)
	}
	for _, ks := range extra {
		for _, k := range ks {
			add(k)
		}
	}
	return out
}

// Strings converts keys to their string forms.
func Strings(keys []Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

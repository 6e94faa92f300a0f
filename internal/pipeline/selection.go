package pipeline

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/eltpipe/internal/asset"
)

// SelectAll selects every asset.
const SelectAll = "*"

// TermKind is the matcher used by a selection term.
type TermKind int

// Term kinds.
const (
	TermAll TermKind = iota
	TermGroup
	TermKey
)

// Term is one clause of a selection. Terms are combined by union.
type Term struct {
	Kind  TermKind
	Value string
	// Upstream adds every asset the matches depend on ("+term").
	Upstream bool
	// Downstream adds every asset that depends on the matches ("term+").
	Downstream bool
	raw        string
}

// String returns the term as it was written.
func (t Term) String() string {
	return t.raw
}

// Selection picks a set of assets.
//
//	*                  every asset
//	group:extraction   assets of a group
//	key:fakestore      assets whose key starts with the given segments
//	stg_carts          same as key:stg_carts
//	+fct_sales         fct_sales and everything upstream of it
//	fakestore/carts+   fakestore/carts and everything downstream of it
//
// Terms are separated by commas or whitespace.
type Selection struct {
	Terms []Term
}

// ParseSelection parses a selection expression. An empty expression selects
// every asset.
func ParseSelection(s string) (Selection, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		fields = []string{SelectAll}
	}

	sel := Selection{Terms: make([]Term, 0, len(fields))}
	for _, f := range fields {
		t, err := parseTerm(f)
		if err != nil {
			return Selection{}, err
		}
		sel.Terms = append(sel.Terms, t)
	}
	return sel, nil
}

// MustParseSelection is ParseSelection for constant expressions.
func MustParseSelection(s string) Selection {
	sel, err := ParseSelection(s)
	if err != nil {
		panic(err)
	}
	return sel
}

func parseTerm(raw string) (Term, error) {
	t := Term{raw: raw}
	body := raw
	if strings.HasPrefix(body, "+") {
		t.Upstream = true
		body = body[1:]
	}
	if strings.HasSuffix(body, "+") {
		t.Downstream = true
		body = body[:len(body)-1]
	}

	switch {
	case body == SelectAll:
		t.Kind = TermAll
	case strings.HasPrefix(body, "group:"):
		t.Kind = TermGroup
		t.Value = strings.TrimPrefix(body, "group:")
	case strings.HasPrefix(body, "key:"):
		t.Kind = TermKey
		t.Value = strings.TrimPrefix(body, "key:")
	default:
		t.Kind = TermKey
		t.Value = body
	}

	if t.Kind != TermAll && t.Value == "" {
		return Term{}, fmt.Errorf("invalid selection term %q", raw)
	}
	if t.Kind == TermKey {
		if _, err := asset.ParseKey(t.Value); err != nil {
			return Term{}, fmt.Errorf("invalid selection term %q: %w", raw, err)
		}
	}
	return t, nil
}

// String returns the selection in its canonical form.
func (s Selection) String() string {
	parts := make([]string, len(s.Terms))
	for i, t := range s.Terms {
		parts[i] = t.raw
	}
	return strings.Join(parts, ",")
}

// matches reports whether spec is matched by the term itself, before any
// upstream or downstream expansion.
func (t Term) matches(spec asset.Spec) bool {
	switch t.Kind {
	case TermAll:
		return true
	case TermGroup:
		return spec.Group == t.Value
	case TermKey:
		prefix, err := asset.ParseKey(t.Value)
		if err != nil || len(prefix) > len(spec.Key) {
			return false
		}
		return asset.Key(spec.Key[:len(prefix)]).Equal(prefix)
	}
	return false
}

// Package translate stitches the extraction stage to the transformation stage.
//
// dbt models declare their raw inputs as source references
// ("source.<project>.<source>.<table>"), while the extraction job produces one
// asset per top-level resource ("<source>/<table>"). The functions here derive
// the extraction assets a model must wait on from its manifest entry, folding
// child tables such as "carts__products" back onto the resource that owns them.
//
// Everything in this package is a pure function of its inputs and is safe for
// concurrent use.
package translate

import (
	"strings"

	"github.com/leapstack-labs/eltpipe/internal/asset"
	"github.com/leapstack-labs/eltpipe/internal/manifest"
)

const (
	refSeparator   = "."
	childSeparator = "__"
	sourceRefKind  = "source"
)

// Namespace identifies the extraction source inside dbt's reference format.
type Namespace struct {
	// Project is the dbt project name that owns the source definition.
	Project string
	// Source is the dbt source name; it is also the first segment of every
	// extraction asset key.
	Source string
}

// Prefix returns the reference prefix shared by all tables of the source,
// e.g. "source.fakestoreapi.fakestore.".
func (ns Namespace) Prefix() string {
	return sourceRefKind + refSeparator + ns.Project + refSeparator + ns.Source + refSeparator
}

// Key returns the extraction asset key for a top-level table.
func (ns Namespace) Key(table string) asset.Key {
	return asset.NewKey(ns.Source, table)
}

// TableName extracts the table segment from a dependency reference. It
// returns false when ref is outside the prefix or has no table segment.
func TableName(prefix, ref string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(ref, prefix) {
		return "", false
	}
	idx := strings.LastIndex(ref, refSeparator)
	table := ref[idx+len(refSeparator):]
	if table == "" {
		return "", false
	}
	return table, true
}

// ParentTable maps a child table emitted for a nested list field back to its
// top-level resource: "carts__products" becomes "carts". Names without the
// child separator are returned unchanged.
func ParentTable(table string) string {
	if idx := strings.Index(table, childSeparator); idx >= 0 {
		return table[:idx]
	}
	return table
}

// ExtractionDeps returns the extraction asset keys referenced by node, after
// child folding and de-duplication, in order of first appearance. Only model
// nodes are considered.
func ExtractionDeps(ns Namespace, node *manifest.Node) []asset.Key {
	if node == nil || node.ResourceType != manifest.ResourceModel {
		return nil
	}
	if ns.Project == "" || ns.Source == "" {
		return nil
	}

	prefix := ns.Prefix()
	seen := make(map[string]bool)
	var keys []asset.Key
	for _, ref := range node.DependsOn.Nodes {
		table, ok := TableName(prefix, ref)
		if !ok {
			continue
		}
		parent := ParentTable(table)
		if parent == "" || seen[parent] {
			continue
		}
		seen[parent] = true
		keys = append(keys, ns.Key(parent))
	}
	return keys
}

// AugmentDeps returns defaults extended with the extraction assets node
// depends on. Defaults keep their order and are never removed; when there is
// nothing to add the defaults are returned as-is.
func AugmentDeps(ns Namespace, node *manifest.Node, defaults []asset.Key) []asset.Key {
	extra := ExtractionDeps(ns, node)
	if len(extra) == 0 {
		return defaults
	}
	return asset.Union(defaults, extra)
}

// ForManifest looks uniqueID up in m and augments defaults accordingly. An
// unknown id means there is nothing to augment.
func ForManifest(ns Namespace, m *manifest.Manifest, uniqueID string, defaults []asset.Key) []asset.Key {
	node, ok := m.Lookup(uniqueID)
	if !ok {
		return defaults
	}
	return AugmentDeps(ns, node, defaults)
}

package extract

import (
	"sort"
	"strings"

	"github.com/leapstack-labs/eltpipe/internal/resource"
	"github.com/leapstack-labs/eltpipe/internal/translate"
)

// TableGroup is a top-level resource with the tables loaded for it: the
// resource's own table plus child tables such as carts__products.
type TableGroup struct {
	Resource string
	Tables   []resource.Table
}

// Rows returns the total row count across the group.
func (g TableGroup) Rows() int64 {
	var n int64
	for _, t := range g.Tables {
		n += t.Rows
	}
	return n
}

// Names returns the table names of the group.
func (g TableGroup) Names() []string {
	out := make([]string, len(g.Tables))
	for i, t := range g.Tables {
		out[i] = t.Name
	}
	return out
}

// Metadata describes the group for the run state store.
func (g TableGroup) Metadata(dataset string) map[string]any {
	counts := make(map[string]int64, len(g.Tables))
	for _, t := range g.Tables {
		counts[t.Name] = t.Rows
	}
	return map[string]any{
		"dataset":    dataset,
		"tables":     g.Names(),
		"row_counts": counts,
		"rows":       g.Rows(),
	}
}

// IsBookkeeping reports whether table is internal loader state.
func IsBookkeeping(table string) bool {
	return strings.HasPrefix(table, bookkeepingPrefix)
}

// GroupTables folds tables onto their parent resource, skipping bookkeeping
// tables. Groups are sorted by resource and tables by name.
func GroupTables(tables []resource.Table) []TableGroup {
	byResource := make(map[string]*TableGroup)
	for _, t := range tables {
		if IsBookkeeping(t.Name) {
			continue
		}
		parent := translate.ParentTable(t.Name)
		if parent == "" {
			continue
		}
		g, ok := byResource[parent]
		if !ok {
			g = &TableGroup{Resource: parent}
			byResource[parent] = g
		}
		g.Tables = append(g.Tables, t)
	}

	out := make([]TableGroup, 0, len(byResource))
	for _, g := range byResource {
		sort.Slice(g.Tables, func(i, j int) bool { return g.Tables[i].Name < g.Tables[j].Name })
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

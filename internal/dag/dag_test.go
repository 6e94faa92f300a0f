package dag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamond builds a -> b, a -> c, b -> d, c -> d.
func diamond(t *testing.T) *Graph[string] {
	t.Helper()
	g := New[string]()
	for _, id := range []string{"a", "b", "c", "d"} {
		g.AddNode(id, "node "+id)
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("b", "d"))
	require.NoError(t, g.AddEdge("c", "d"))
	return g
}

func TestGraph_AddNodeAndEdge(t *testing.T) {
	g := diamond(t)
	assert.Equal(t, 4, g.Len())
	assert.Equal(t, 4, g.EdgeCount())

	// duplicate edges are ignored
	require.NoError(t, g.AddEdge("a", "b"))
	assert.Equal(t, 4, g.EdgeCount())

	// re-adding a node replaces its payload only
	g.AddNode("a", "updated")
	n, ok := g.Get("a")
	require.True(t, ok)
	assert.Equal(t, "updated", n.Data)
	assert.Equal(t, 4, g.EdgeCount())
}

func TestGraph_AddEdge_Invalid(t *testing.T) {
	g := New[int]()
	g.AddNode("a", 1)

	assert.Error(t, g.AddEdge("a", "missing"))
	assert.Error(t, g.AddEdge("missing", "a"))
	assert.Error(t, g.AddEdge("a", "a"))
}

func TestGraph_ParentsAndChildren(t *testing.T) {
	g := diamond(t)
	assert.Equal(t, []string{"b", "c"}, g.Parents("d"))
	assert.Equal(t, []string{"b", "c"}, g.Children("a"))
	assert.Empty(t, g.Parents("a"))
	assert.Equal(t, []string{"a"}, g.Roots())
}

func TestGraph_Levels(t *testing.T) {
	g := diamond(t)
	levels, err := g.Levels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, levels)
}

func TestGraph_Levels_Disconnected(t *testing.T) {
	g := New[struct{}]()
	g.AddNode("z", struct{}{})
	g.AddNode("y", struct{}{})
	g.AddNode("x", struct{}{})
	require.NoError(t, g.AddEdge("z", "x"))

	levels, err := g.Levels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"y", "z"}, {"x"}}, levels)
}

func TestGraph_TopologicalSort(t *testing.T) {
	g := diamond(t)
	nodes, err := g.TopologicalSort()
	require.NoError(t, err)

	pos := make(map[string]int)
	for i, n := range nodes {
		pos[n.ID] = i
	}
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["a"], pos["c"])
	assert.Less(t, pos["b"], pos["d"])
	assert.Less(t, pos["c"], pos["d"])
}

func TestGraph_FindCycle(t *testing.T) {
	g := diamond(t)
	assert.NoError(t, g.FindCycle())

	require.NoError(t, g.AddEdge("d", "a"))
	err := g.FindCycle()
	require.Error(t, err)

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
	assert.Contains(t, err.Error(), "cycle detected")

	_, err = g.Levels()
	assert.Error(t, err)
	_, err = g.TopologicalSort()
	assert.Error(t, err)
}

func TestGraph_DownstreamAndUpstream(t *testing.T) {
	g := diamond(t)
	assert.Equal(t, []string{"b", "d"}, g.Downstream([]string{"b"}))
	assert.Equal(t, []string{"a", "b", "c", "d"}, g.Downstream([]string{"a"}))
	assert.Equal(t, []string{"a", "c"}, g.Upstream([]string{"c"}))
	assert.Empty(t, g.Downstream([]string{"missing"}))
}

func TestGraph_Subgraph(t *testing.T) {
	g := diamond(t)
	sub := g.Subgraph([]string{"a", "b", "d", "missing"})

	assert.Equal(t, []string{"a", "b", "d"}, sub.IDs())
	assert.Equal(t, 2, sub.EdgeCount())
	assert.Equal(t, []string{"b"}, sub.Parents("d"))
}

// Package dag provides a small directed acyclic graph used for both the asset
// graph and the step execution plan. Node IDs are strings; every node carries
// a typed payload. Edges point from a dependency (parent) to its dependent
// (child). All listing methods return IDs in sorted order so output is
// deterministic.
package dag

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Node is a graph vertex.
type Node[T any] struct {
	ID   string
	Data T
}

// Graph is a directed graph that rejects self-loops and duplicate edges.
// It is not safe for concurrent mutation.
type Graph[T any] struct {
	nodes    map[string]*Node[T]
	children map[string][]string
	parents  map[string][]string
}

// CycleError reports a dependency cycle; Path starts and ends on the same node.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}

// New creates an empty graph.
func New[T any]() *Graph[T] {
	return &Graph[T]{
		nodes:    make(map[string]*Node[T]),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// AddNode inserts a node, replacing the payload if it already exists.
func (g *Graph[T]) AddNode(id string, data T) {
	if n, ok := g.nodes[id]; ok {
		n.Data = data
		return
	}
	g.nodes[id] = &Node[T]{ID: id, Data: data}
}

// AddEdge records that child depends on parent.
func (g *Graph[T]) AddEdge(parent, child string) error {
	if _, ok := g.nodes[parent]; !ok {
		return fmt.Errorf("parent node %q does not exist", parent)
	}
	if _, ok := g.nodes[child]; !ok {
		return fmt.Errorf("child node %q does not exist", child)
	}
	if parent == child {
		return fmt.Errorf("self-loop detected: %s", parent)
	}
	if !slices.Contains(g.children[parent], child) {
		g.children[parent] = append(g.children[parent], child)
		g.parents[child] = append(g.parents[child], parent)
	}
	return nil
}

// Has reports whether id is a node of the graph.
func (g *Graph[T]) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Get returns the node with the given id.
func (g *Graph[T]) Get(id string) (*Node[T], bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Parents returns the direct dependencies of id, sorted.
func (g *Graph[T]) Parents(id string) []string {
	return sorted(g.parents[id])
}

// Children returns the direct dependents of id, sorted.
func (g *Graph[T]) Children(id string) []string {
	return sorted(g.children[id])
}

// IDs returns all node IDs, sorted.
func (g *Graph[T]) IDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of nodes.
func (g *Graph[T]) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph[T]) EdgeCount() int {
	n := 0
	for _, c := range g.children {
		n += len(c)
	}
	return n
}

// FindCycle returns a *CycleError describing one cycle, or nil.
func (g *Graph[T]) FindCycle() error {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = onStack
		stack = append(stack, id)
		for _, child := range g.Children(id) {
			switch state[child] {
			case onStack:
				start := slices.Index(stack, child)
				path := append(slices.Clone(stack[start:]), child)
				return path
			case unvisited:
				if path := visit(child); path != nil {
					return path
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.IDs() {
		if state[id] != unvisited {
			continue
		}
		if path := visit(id); path != nil {
			return &CycleError{Path: path}
		}
	}
	return nil
}

// Levels groups nodes so that every node appears after all its parents.
// Level 0 holds nodes without dependencies; nodes within a level are
// independent of each other.
func (g *Graph[T]) Levels() ([][]string, error) {
	if err := g.FindCycle(); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(g.nodes))
	var current []string
	for _, id := range g.IDs() {
		indegree[id] = len(g.parents[id])
		if indegree[id] == 0 {
			current = append(current, id)
		}
	}

	var levels [][]string
	for len(current) > 0 {
		levels = append(levels, current)
		var next []string
		for _, id := range current {
			for _, child := range g.children[id] {
				indegree[child]--
				if indegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		sort.Strings(next)
		current = next
	}
	return levels, nil
}

// TopologicalSort returns nodes ordered so that dependencies come first.
func (g *Graph[T]) TopologicalSort() ([]*Node[T], error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	out := make([]*Node[T], 0, len(g.nodes))
	for _, level := range levels {
		for _, id := range level {
			out = append(out, g.nodes[id])
		}
	}
	return out, nil
}

// Downstream returns ids plus every node that transitively depends on them.
// Unknown ids are ignored.
func (g *Graph[T]) Downstream(ids []string) []string {
	return g.walk(ids, g.children)
}

// Upstream returns ids plus every node they transitively depend on.
// Unknown ids are ignored.
func (g *Graph[T]) Upstream(ids []string) []string {
	return g.walk(ids, g.parents)
}

func (g *Graph[T]) walk(ids []string, next map[string][]string) []string {
	seen := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		for _, n := range next[id] {
			visit(n)
		}
	}
	for _, id := range ids {
		if g.Has(id) {
			visit(id)
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Roots returns nodes with no parents.
func (g *Graph[T]) Roots() []string {
	var roots []string
	for _, id := range g.IDs() {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Subgraph returns a graph restricted to ids and the edges among them.
func (g *Graph[T]) Subgraph(ids []string) *Graph[T] {
	sub := New[T]()
	for _, id := range ids {
		if n, ok := g.nodes[id]; ok {
			sub.AddNode(id, n.Data)
		}
	}
	for _, id := range sub.IDs() {
		for _, child := range g.children[id] {
			if sub.Has(child) {
				_ = sub.AddEdge(id, child)
			}
		}
	}
	return sub
}

func sorted(ids []string) []string {
	out := slices.Clone(ids)
	sort.Strings(out)
	return out
}

// Package transform exposes a dbt project as a pipeline step. Asset specs are
// read from the dbt manifest; each model's dependencies are dbt's own
// upstream references augmented with the extraction assets it reads.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/leapstack-labs/eltpipe/internal/asset"
	"github.com/leapstack-labs/eltpipe/internal/manifest"
	"github.com/leapstack-labs/eltpipe/internal/pipeline"
	"github.com/leapstack-labs/eltpipe/internal/resource"
	"github.com/leapstack-labs/eltpipe/internal/state"
	"github.com/leapstack-labs/eltpipe/internal/translate"
	"golang.org/x/sync/errgroup"
)

// Asset attributes.
const (
	DefaultGroup = "transformation"
	Kind         = "dbt"
)

// dbt node statuses that are neither success nor failure.
const statusSkipped = "skipped"

// Explanation shows how a node's dependencies were derived.
type Explanation struct {
	Node *manifest.Node
	Key  asset.Key
	// Defaults are dbt's own upstream references.
	Defaults []asset.Key
	// Extraction are the extraction assets found by the translator.
	Extraction []asset.Key
	// Deps is the final, augmented dependency list.
	Deps []asset.Key
}

// Added returns the dependencies contributed by the translator.
func (e Explanation) Added() []asset.Key {
	var out []asset.Key
	for _, d := range e.Deps {
		found := false
		for _, def := range e.Defaults {
			if def.Equal(d) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, d)
		}
	}
	return out
}

// Step runs `dbt build` for the selected nodes.
type Step struct {
	name     string
	ns       translate.Namespace
	manifest *manifest.Manifest
	specs    []asset.Spec
	explain  []Explanation
	byKey    map[string]*manifest.Node
	logger   *slog.Logger
}

var _ pipeline.Step = (*Step)(nil)

// NewStep builds specs for every enabled model, seed and snapshot in m. An
// empty name defaults to "dbt_<project>".
func NewStep(name string, ns translate.Namespace, m *manifest.Manifest, logger *slog.Logger) (*Step, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if m == nil {
		return nil, fmt.Errorf("dbt manifest is required")
	}
	if name == "" {
		project := m.Metadata.ProjectName
		if project == "" {
			project = ns.Project
		}
		name = "dbt_" + project
	}

	s := &Step{
		name:     name,
		ns:       ns,
		manifest: m,
		byKey:    make(map[string]*manifest.Node),
		logger:   logger,
	}

	nodes := m.NodesOfType(manifest.ResourceModel, manifest.ResourceSeed, manifest.ResourceSnapshot)
	s.specs = make([]asset.Spec, len(nodes))
	s.explain = make([]Explanation, len(nodes))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, node := range nodes {
		g.Go(func() error {
			if err := NodeKey(node).Validate(); err != nil {
				return fmt.Errorf("dbt node %s: %w", node.UniqueID, err)
			}
			defaults := DefaultDeps(m, node)
			deps := translate.AugmentDeps(ns, node, defaults)
			s.explain[i] = Explanation{
				Node:       node,
				Key:        NodeKey(node),
				Defaults:   defaults,
				Extraction: translate.ExtractionDeps(ns, node),
				Deps:       deps,
			}
			s.specs[i] = asset.Spec{
				Key:         NodeKey(node),
				Deps:        deps,
				Group:       groupOf(node),
				Kind:        Kind,
				Description: node.Description,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, node := range nodes {
		s.byKey[s.specs[i].Key.String()] = node
	}

	logger.Debug("loaded dbt assets", slog.String("step", name), slog.Int("assets", len(s.specs)))
	return s, nil
}

// NodeKey returns the asset key dbt assigns to a node: [name] for models,
// seeds and snapshots, [source_name, name] for sources.
func NodeKey(n *manifest.Node) asset.Key {
	if n.ResourceType == manifest.ResourceSource {
		return asset.NewKey(n.SourceName, n.Name)
	}
	return asset.NewKey(n.Name)
}

// DefaultDeps returns the keys of node's upstream references in manifest
// order. Tests and unknown references are skipped.
func DefaultDeps(m *manifest.Manifest, node *manifest.Node) []asset.Key {
	var keys []asset.Key
	for _, ref := range node.DependsOn.Nodes {
		up, ok := m.Lookup(ref)
		if !ok {
			continue
		}
		switch up.ResourceType {
		case manifest.ResourceModel, manifest.ResourceSeed, manifest.ResourceSnapshot, manifest.ResourceSource:
			keys = append(keys, NodeKey(up))
		}
	}
	return asset.Union(keys)
}

func groupOf(n *manifest.Node) string {
	if n.Config.Group != "" {
		return n.Config.Group
	}
	return DefaultGroup
}

// Name returns the step name.
func (s *Step) Name() string {
	return s.name
}

// Specs returns one spec per dbt node, sorted by unique id.
func (s *Step) Specs() []asset.Spec {
	return s.specs
}

// Explain returns how the dependencies of the named node were derived.
func (s *Step) Explain(name string) (Explanation, bool) {
	for _, e := range s.explain {
		if e.Node.Name == name {
			return e, true
		}
	}
	return Explanation{}, false
}

// Explanations returns an explanation for every node, sorted by unique id.
func (s *Step) Explanations() []Explanation {
	return s.explain
}

// Materialize runs dbt build for the selected nodes and reports the status of
// each one from dbt's structured log events.
func (s *Step) Materialize(ctx context.Context, rc *pipeline.RunContext, selected []asset.Key) ([]pipeline.Materialization, error) {
	logger := s.logger
	if rc != nil && rc.Logger != nil {
		logger = rc.Logger
	}
	if rc == nil || rc.Resources.Dbt == nil {
		return nil, fmt.Errorf("transformation requires the dbt resource")
	}

	var nodes []*manifest.Node
	for _, k := range selected {
		if n, ok := s.byKey[k.String()]; ok {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	// Selecting everything builds the whole project, tests included.
	var selectors []string
	if len(nodes) < len(s.specs) {
		for _, n := range nodes {
			selectors = append(selectors, n.Name)
		}
	}

	started := time.Now().UTC()
	finished := make(map[string]resource.DbtEvent)
	err := rc.Resources.Dbt.Build(ctx, selectors, func(ev resource.DbtEvent) {
		if ev.Name != resource.EventNodeFinished || ev.UniqueID == "" {
			return
		}
		finished[ev.UniqueID] = ev
		logger.Info("dbt node finished", slog.String("node", ev.UniqueID), slog.String("status", ev.NodeStatus))
	})
	completed := time.Now().UTC()

	out := make([]pipeline.Materialization, 0, len(nodes))
	for _, n := range nodes {
		m := pipeline.Materialization{
			Key:         NodeKey(n),
			StartedAt:   started,
			CompletedAt: completed,
			Status:      state.MaterializationSuccess,
		}
		ev, ok := finished[n.UniqueID]
		switch {
		case ok && ev.Failed():
			m.Status = state.MaterializationFailed
			m.Error = ev.Msg
		case ok && ev.NodeStatus == statusSkipped:
			m.Status = state.MaterializationSkipped
			m.Error = ev.Msg
		case !ok && err != nil && len(finished) == 0:
			m.Status = state.MaterializationFailed
			m.Error = err.Error()
		case !ok && err != nil:
			m.Status = state.MaterializationSkipped
			m.Error = "not run by dbt"
		}
		m.Metadata = map[string]any{
			"unique_id":     n.UniqueID,
			"resource_type": n.ResourceType,
		}
		if n.Config.Materialized != "" {
			m.Metadata["materialized"] = n.Config.Materialized
		}
		if ok {
			m.Metadata["node_status"] = ev.NodeStatus
		}
		out = append(out, m)
	}

	if err != nil {
		return out, fmt.Errorf("dbt build failed: %w", err)
	}
	return out, nil
}

package pipeline

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/leapstack-labs/eltpipe/internal/asset"
	"github.com/leapstack-labs/eltpipe/internal/dag"
)

// Definitions is the validated set of steps, jobs and resources.
type Definitions struct {
	Steps     []Step
	Jobs      []Job
	Resources Resources

	specs    []asset.Spec
	byKey    map[string]int
	steps    map[string]Step
	graph    *dag.Graph[asset.Spec]
	external []asset.Key
	logger   *slog.Logger
}

// NewDefinitions validates steps and jobs and builds the asset graph.
// Dependencies on keys no step produces are recorded as external.
func NewDefinitions(steps []Step, jobs []Job, resources Resources, logger *slog.Logger) (*Definitions, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := &Definitions{
		Steps:     steps,
		Jobs:      jobs,
		Resources: resources,
		byKey:     make(map[string]int),
		steps:     make(map[string]Step, len(steps)),
		graph:     dag.New[asset.Spec](),
		logger:    logger,
	}

	for _, st := range steps {
		if _, ok := d.steps[st.Name()]; ok {
			return nil, fmt.Errorf("duplicate step name %q", st.Name())
		}
		d.steps[st.Name()] = st

		for _, spec := range st.Specs() {
			spec.Step = st.Name()
			if err := spec.Key.Validate(); err != nil {
				return nil, fmt.Errorf("step %s: %w", st.Name(), err)
			}
			for _, dep := range spec.Deps {
				if err := dep.Validate(); err != nil {
					return nil, fmt.Errorf("step %s: dependency of %s: %w", st.Name(), spec.Key, err)
				}
			}
			id := spec.Key.String()
			if i, ok := d.byKey[id]; ok {
				return nil, &DuplicateAssetError{Key: spec.Key, First: d.specs[i].Step, Second: st.Name()}
			}
			d.byKey[id] = len(d.specs)
			d.specs = append(d.specs, spec)
			d.graph.AddNode(id, spec)
		}
	}

	seenExternal := make(map[string]bool)
	for _, spec := range d.specs {
		for _, dep := range spec.Deps {
			if d.graph.Has(dep.String()) {
				if err := d.graph.AddEdge(dep.String(), spec.Key.String()); err != nil {
					return nil, fmt.Errorf("invalid dependency of %s: %w", spec.Key, err)
				}
				continue
			}
			if !seenExternal[dep.String()] {
				seenExternal[dep.String()] = true
				d.external = append(d.external, dep)
			}
		}
	}
	sort.Slice(d.external, func(i, j int) bool {
		return d.external[i].String() < d.external[j].String()
	})

	if err := d.graph.FindCycle(); err != nil {
		return nil, fmt.Errorf("invalid asset graph: %w", err)
	}

	seenJobs := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		if seenJobs[job.Name] {
			return nil, fmt.Errorf("duplicate job name %q", job.Name)
		}
		seenJobs[job.Name] = true

		sel, err := ParseSelection(job.Selection)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Name, err)
		}
		if _, err := d.Resolve(sel); err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Name, err)
		}
	}

	logger.Debug("definitions loaded",
		slog.Int("steps", len(steps)),
		slog.Int("assets", len(d.specs)),
		slog.Int("external", len(d.external)),
		slog.Int("edges", d.graph.EdgeCount()))
	return d, nil
}

// Specs returns every asset in declaration order.
func (d *Definitions) Specs() []asset.Spec {
	return d.specs
}

// Spec looks up an asset by key.
func (d *Definitions) Spec(key asset.Key) (asset.Spec, bool) {
	i, ok := d.byKey[key.String()]
	if !ok {
		return asset.Spec{}, false
	}
	return d.specs[i], true
}

// Step looks up a step by name.
func (d *Definitions) Step(name string) (Step, bool) {
	st, ok := d.steps[name]
	return st, ok
}

// Graph returns the asset graph. Node IDs are key strings.
func (d *Definitions) Graph() *dag.Graph[asset.Spec] {
	return d.graph
}

// ExternalDeps returns dependencies that no step produces, sorted.
func (d *Definitions) ExternalDeps() []asset.Key {
	return d.external
}

// IsExternal reports whether key is depended upon but never produced.
func (d *Definitions) IsExternal(key asset.Key) bool {
	_, produced := d.byKey[key.String()]
	if produced {
		return false
	}
	for _, k := range d.external {
		if k.Equal(key) {
			return true
		}
	}
	return false
}

// Job returns the named job.
func (d *Definitions) Job(name string) (Job, error) {
	for _, j := range d.Jobs {
		if j.Name == name {
			return j, nil
		}
	}
	return Job{}, &UnknownJobError{Name: name, Available: d.JobNames()}
}

// JobNames returns the defined job names, sorted.
func (d *Definitions) JobNames() []string {
	names := make([]string, 0, len(d.Jobs))
	for _, j := range d.Jobs {
		names = append(names, j.Name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the keys matched by sel in declaration order.
func (d *Definitions) Resolve(sel Selection) ([]asset.Key, error) {
	selected := make(map[string]bool)
	for _, t := range sel.Terms {
		var matched []string
		for _, spec := range d.specs {
			if t.matches(spec) {
				matched = append(matched, spec.Key.String())
			}
		}
		if len(matched) == 0 {
			return nil, &UnknownSelectionError{Term: t.String()}
		}

		expanded := matched
		if t.Upstream {
			expanded = append(expanded, d.graph.Upstream(matched)...)
		}
		if t.Downstream {
			expanded = append(expanded, d.graph.Downstream(matched)...)
		}
		for _, id := range expanded {
			selected[id] = true
		}
	}

	keys := make([]asset.Key, 0, len(selected))
	for _, spec := range d.specs {
		if selected[spec.Key.String()] {
			keys = append(keys, spec.Key)
		}
	}
	return keys, nil
}

// AssetLevels groups every asset into execution levels of the asset graph.
func (d *Definitions) AssetLevels() ([][]asset.Spec, error) {
	levels, err := d.graph.Levels()
	if err != nil {
		return nil, err
	}
	out := make([][]asset.Spec, len(levels))
	for i, level := range levels {
		for _, id := range level {
			out[i] = append(out[i], d.specs[d.byKey[id]])
		}
	}
	return out, nil
}

package pipeline

import (
	"fmt"

	"github.com/leapstack-labs/eltpipe/internal/asset"
	"github.com/leapstack-labs/eltpipe/internal/dag"
)

// StepPlan is one step invocation within a plan.
type StepPlan struct {
	Step Step
	// Keys are the selected assets of the step, in declaration order.
	Keys []asset.Key
	// Upstream names the planned steps that must finish first.
	Upstream []string
}

// Plan orders the steps needed to materialize a selection.
type Plan struct {
	Selection Selection
	Keys      []asset.Key
	Steps     map[string]*StepPlan
	// Levels group step names; steps of one level are independent.
	Levels [][]string

	graph *dag.Graph[*StepPlan]
}

// Downstream returns the planned steps that transitively depend on name,
// excluding name itself.
func (p *Plan) Downstream(name string) []string {
	var out []string
	for _, id := range p.graph.Downstream([]string{name}) {
		if id != name {
			out = append(out, id)
		}
	}
	return out
}

// Plan resolves sel and groups the selected assets by step. Step B depends on
// step A when a selected asset of B transitively depends on a selected asset
// of A, including paths through assets outside the selection.
func (d *Definitions) Plan(sel Selection) (*Plan, error) {
	keys, err := d.Resolve(sel)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Selection: sel,
		Keys:      keys,
		Steps:     make(map[string]*StepPlan),
		graph:     dag.New[*StepPlan](),
	}

	selected := make(map[string]bool, len(keys))
	for _, k := range keys {
		selected[k.String()] = true
		spec, _ := d.Spec(k)
		sp, ok := p.Steps[spec.Step]
		if !ok {
			sp = &StepPlan{Step: d.steps[spec.Step]}
			p.Steps[spec.Step] = sp
			p.graph.AddNode(spec.Step, sp)
		}
		sp.Keys = append(sp.Keys, k)
	}

	// Dependencies are followed through unselected assets: selecting a raw
	// table and a mart must still order the mart after the load.
	for _, k := range keys {
		spec, _ := d.Spec(k)
		for _, id := range d.graph.Upstream([]string{k.String()}) {
			if id == k.String() || !selected[id] {
				continue
			}
			upstream := d.specs[d.byKey[id]]
			if upstream.Step == spec.Step {
				continue
			}
			if err := p.graph.AddEdge(upstream.Step, spec.Step); err != nil {
				return nil, err
			}
		}
	}

	levels, err := p.graph.Levels()
	if err != nil {
		return nil, fmt.Errorf("invalid step plan: %w", err)
	}
	p.Levels = levels
	for name, sp := range p.Steps {
		sp.Upstream = p.graph.Parents(name)
	}
	return p, nil
}

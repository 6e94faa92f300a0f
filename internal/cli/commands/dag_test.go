package commands

import (
	"context"
	"testing"

	"github.com/leapstack-labs/eltpipe/internal/asset"
	"github.com/leapstack-labs/eltpipe/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type specStep struct {
	name  string
	specs []asset.Spec
}

func (s specStep) Name() string        { return s.name }
func (s specStep) Specs() []asset.Spec { return s.specs }
func (s specStep) Materialize(_ context.Context, _ *pipeline.RunContext, _ []asset.Key) ([]pipeline.Materialization, error) {
	return nil, nil
}

func TestBuildDAGOutput(t *testing.T) {
	raw := specStep{name: "raw", specs: []asset.Spec{
		{Key: asset.NewKey("src", "a")},
		{Key: asset.NewKey("src", "b")},
	}}
	models := specStep{name: "models", specs: []asset.Spec{
		{Key: asset.NewKey("stg_a"), Deps: []asset.Key{asset.NewKey("src", "a"), asset.NewKey("src", "a__child")}},
		{Key: asset.NewKey("mart"), Deps: []asset.Key{asset.NewKey("stg_a"), asset.NewKey("src", "b")}},
	}}

	defs, err := pipeline.NewDefinitions([]pipeline.Step{raw, models}, nil, pipeline.Resources{}, nil)
	require.NoError(t, err)

	out, err := buildDAGOutput(defs)
	require.NoError(t, err)

	require.Len(t, out.Levels, 3)
	assert.Equal(t, 4, out.TotalAssets)
	assert.Equal(t, 3, out.TotalEdges)
	assert.Equal(t, []string{"src/a__child"}, out.External)

	assert.Equal(t, "stg_a", out.Levels[1].Assets[0].Key)
	assert.Equal(t, "models", out.Levels[1].Assets[0].Step)
	assert.Equal(t, []string{"src/a"}, out.Levels[1].Assets[0].DependsOn)
	assert.Equal(t, []string{"mart"}, out.Levels[1].Assets[0].UsedBy)

	mart := out.Levels[2].Assets[0]
	assert.Equal(t, "mart", mart.Key)
	assert.Empty(t, mart.UsedBy)
	assert.NotNil(t, mart.UsedBy)
}

package transform

import (
	"context"
	"fmt"
	"testing"

	"github.com/leapstack-labs/eltpipe/internal/asset"
	"github.com/leapstack-labs/eltpipe/internal/manifest"
	"github.com/leapstack-labs/eltpipe/internal/pipeline"
	"github.com/leapstack-labs/eltpipe/internal/resource"
	"github.com/leapstack-labs/eltpipe/internal/state"
	"github.com/leapstack-labs/eltpipe/internal/testutil"
	"github.com/leapstack-labs/eltpipe/internal/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakestoreNS = translate.Namespace{Project: "fakestoreapi", Source: "fakestore"}

func loadManifest(t *testing.T, content string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(content))
	require.NoError(t, err)
	return m
}

func newStep(t *testing.T) *Step {
	t.Helper()
	step, err := NewStep("", fakestoreNS, loadManifest(t, testutil.FakestoreManifest), testutil.NewTestLogger(t))
	require.NoError(t, err)
	return step
}

func specByKey(t *testing.T, specs []asset.Spec, key string) asset.Spec {
	t.Helper()
	for _, s := range specs {
		if s.Key.String() == key {
			return s
		}
	}
	t.Fatalf("no spec for %s", key)
	return asset.Spec{}
}

func nodeFinished(uniqueID, status, msg string) string {
	return fmt.Sprintf(`{"info":{"name":"NodeFinished","level":"info","msg":%q},"data":{"node_info":{"unique_id":%q,"node_status":%q}}}`,
		msg, uniqueID, status)
}

// dbtResource returns a dbt CLI whose runner replays lines and then returns err.
func dbtResource(t *testing.T, lines []string, err error, gotArgs *[]string) *resource.DbtCLI {
	t.Helper()
	runner := resource.RunnerFunc(func(_ context.Context, cmd resource.Command, onLine resource.LineFunc) error {
		if gotArgs != nil {
			*gotArgs = cmd.Args
		}
		for _, l := range lines {
			onLine(resource.Stdout, l)
		}
		return err
	})
	return resource.NewDbtCLI(resource.DbtConfig{ProjectDir: "dbt_project/fakestoreapi"}, runner, testutil.NewTestLogger(t))
}

func TestNewStep_Specs(t *testing.T) {
	step := newStep(t)
	assert.Equal(t, "dbt_fakestoreapi", step.Name())

	specs := step.Specs()
	require.Len(t, specs, 7, "tests are not assets")
	assert.Equal(t, []string{
		"dim_products", "dim_users", "fct_sales", "stg_carts", "stg_carts_products", "stg_products", "stg_users",
	}, func() []string {
		out := make([]string, len(specs))
		for i, s := range specs {
			out[i] = s.Key.String()
		}
		return out
	}())

	fct := specByKey(t, specs, "fct_sales")
	assert.Equal(t, "marts", fct.Group)
	assert.Equal(t, Kind, fct.Kind)
	assert.Equal(t, "One row per cart line", fct.Description)
	assert.Equal(t, []string{"stg_carts", "stg_carts_products", "dim_products"}, asset.Strings(fct.Deps))

	stg := specByKey(t, specs, "stg_products")
	assert.Equal(t, DefaultGroup, stg.Group)
	assert.Equal(t, []string{"fakestore/products"}, asset.Strings(stg.Deps))

	cp := specByKey(t, specs, "stg_carts_products")
	assert.Equal(t, []string{"fakestore/carts__products", "fakestore/carts"}, asset.Strings(cp.Deps))
}

func TestNewStep_NilManifest(t *testing.T) {
	_, err := NewStep("dbt", fakestoreNS, nil, nil)
	assert.Error(t, err)
}

func TestNewStep_InvalidNodeName(t *testing.T) {
	const content = `{
	  "metadata": {"project_name": "fakestoreapi"},
	  "nodes": {
	    "model.fakestoreapi.stg_carts": {"name": "stg_carts", "resource_type": "model", "depends_on": {"nodes": []}},
	    "model.fakestoreapi.reports/sales": {"name": "reports/sales", "resource_type": "model", "depends_on": {"nodes": []}}
	  }
	}`

	_, err := NewStep("", fakestoreNS, loadManifest(t, content), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.fakestoreapi.reports/sales")
	assert.Contains(t, err.Error(), `contains "/"`)
}

func TestNewStep_AugmentsChildOnlyModels(t *testing.T) {
	const content = `{
	  "metadata": {"project_name": "fakestoreapi"},
	  "nodes": {
	    "model.fakestoreapi.cart_lines": {
	      "name": "cart_lines",
	      "resource_type": "model",
	      "depends_on": {"nodes": [
	        "source.fakestoreapi.fakestore.carts__products",
	        "source.fakestoreapi.fakestore.carts__tags"
	      ]}
	    },
	    "seed.fakestoreapi.country_codes": {
	      "name": "country_codes",
	      "resource_type": "seed",
	      "depends_on": {"nodes": []}
	    },
	    "model.fakestoreapi.lonely": {
	      "name": "lonely",
	      "resource_type": "model",
	      "config": {"enabled": false},
	      "depends_on": {"nodes": []}
	    }
	  },
	  "sources": {
	    "source.fakestoreapi.fakestore.carts__products": {"name": "carts__products", "source_name": "fakestore", "resource_type": "source"},
	    "source.fakestoreapi.fakestore.carts__tags": {"name": "carts__tags", "source_name": "fakestore", "resource_type": "source"}
	  }
	}`

	step, err := NewStep("transform", fakestoreNS, loadManifest(t, content), nil)
	require.NoError(t, err)
	assert.Equal(t, "transform", step.Name())
	require.Len(t, step.Specs(), 2, "disabled nodes are skipped")

	lines := specByKey(t, step.Specs(), "cart_lines")
	assert.Equal(t, []string{
		"fakestore/carts__products", "fakestore/carts__tags", "fakestore/carts",
	}, asset.Strings(lines.Deps))

	seed := specByKey(t, step.Specs(), "country_codes")
	assert.Empty(t, seed.Deps)

	ex, ok := step.Explain("cart_lines")
	require.True(t, ok)
	assert.Equal(t, []string{"fakestore/carts"}, asset.Strings(ex.Extraction))
	assert.Equal(t, []string{"fakestore/carts"}, asset.Strings(ex.Added()))

	_, ok = step.Explain("missing")
	assert.False(t, ok)
}

func TestDefaultDeps(t *testing.T) {
	m := loadManifest(t, testutil.FakestoreManifest)

	node, ok := m.FindByName(manifest.ResourceModel, "stg_carts_products")
	require.True(t, ok)
	assert.Equal(t, []string{"fakestore/carts__products", "fakestore/carts"}, asset.Strings(DefaultDeps(m, node)))

	unknown := &manifest.Node{
		ResourceType: manifest.ResourceModel,
		DependsOn: manifest.DependsOn{Nodes: []string{
			"model.other.missing",
			"test.fakestoreapi.not_null_stg_carts_id.1a2b3c",
			"model.fakestoreapi.stg_carts",
			"model.fakestoreapi.stg_carts",
		}},
	}
	assert.Equal(t, []string{"stg_carts"}, asset.Strings(DefaultDeps(m, unknown)))
}

func TestStep_Explanations(t *testing.T) {
	step := newStep(t)

	ex, ok := step.Explain("stg_carts_products")
	require.True(t, ok)
	assert.Equal(t, "model.fakestoreapi.stg_carts_products", ex.Node.UniqueID)
	assert.Equal(t, []string{"fakestore/carts"}, asset.Strings(ex.Extraction))
	assert.Empty(t, ex.Added(), "the parent resource is already a default dependency")
	assert.Len(t, step.Explanations(), 7)
}

func TestStep_MaterializeAll(t *testing.T) {
	step := newStep(t)

	var lines []string
	for _, s := range step.Specs() {
		lines = append(lines, nodeFinished("model.fakestoreapi."+s.Key.String(), "success", "OK created"))
	}
	lines = append(lines, "Running with dbt=1.8.0")

	var args []string
	rc := &pipeline.RunContext{
		Logger:    testutil.NewTestLogger(t),
		Resources: pipeline.Resources{Dbt: dbtResource(t, lines, nil, &args)},
	}

	var selected []asset.Key
	for _, s := range step.Specs() {
		selected = append(selected, s.Key)
	}

	ms, err := step.Materialize(context.Background(), rc, selected)
	require.NoError(t, err)
	require.Len(t, ms, 7)
	assert.NotContains(t, args, "--select", "full selection builds the whole project")
	assert.Equal(t, "build", args[0])

	for _, m := range ms {
		assert.Equal(t, state.MaterializationSuccess, m.Status, m.Key.String())
		assert.Equal(t, "success", m.Metadata["node_status"])
	}
	assert.Equal(t, "table", ms[0].Metadata["materialized"])
}

func TestStep_MaterializeSubsetWithFailures(t *testing.T) {
	step := newStep(t)

	lines := []string{
		nodeFinished("model.fakestoreapi.stg_carts", "success", "OK"),
		nodeFinished("model.fakestoreapi.fct_sales", "error", "Database Error in model fct_sales"),
		nodeFinished("model.fakestoreapi.dim_products", "skipped", "SKIP"),
		`{"info":{"name":"MainEncounteredError","level":"error","msg":"boom"}}`,
	}
	cmdErr := &resource.CommandError{Command: "dbt build", ExitCode: 1}

	var args []string
	rc := &pipeline.RunContext{Resources: pipeline.Resources{Dbt: dbtResource(t, lines, cmdErr, &args)}}
	selected := []asset.Key{
		asset.NewKey("stg_carts"), asset.NewKey("fct_sales"), asset.NewKey("dim_products"), asset.NewKey("dim_users"),
	}

	ms, err := step.Materialize(context.Background(), rc, selected)
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, args, "--select")
	assert.Contains(t, args, "stg_carts fct_sales dim_products dim_users")

	require.Len(t, ms, 4)
	assert.Equal(t, state.MaterializationSuccess, ms[0].Status)
	assert.Equal(t, state.MaterializationFailed, ms[1].Status)
	assert.Equal(t, "Database Error in model fct_sales", ms[1].Error)
	assert.Equal(t, state.MaterializationSkipped, ms[2].Status)
	assert.Equal(t, state.MaterializationSkipped, ms[3].Status)
	assert.Equal(t, "not run by dbt", ms[3].Error)
}

func TestStep_MaterializeCommandFailure(t *testing.T) {
	step := newStep(t)

	cmdErr := &resource.CommandError{Command: "dbt build", ExitCode: 2, Stderr: []string{"Could not find profile named 'fakestoreapi'"}}
	rc := &pipeline.RunContext{Resources: pipeline.Resources{Dbt: dbtResource(t, nil, cmdErr, nil)}}

	ms, err := step.Materialize(context.Background(), rc, []asset.Key{asset.NewKey("stg_users"), asset.NewKey("dim_users")})
	require.Error(t, err)
	require.Len(t, ms, 2)
	for _, m := range ms {
		assert.Equal(t, state.MaterializationFailed, m.Status)
		assert.Contains(t, m.Error, "Could not find profile")
	}
}

func TestStep_MaterializeRequiresDbt(t *testing.T) {
	step := newStep(t)

	_, err := step.Materialize(context.Background(), &pipeline.RunContext{}, []asset.Key{asset.NewKey("stg_users")})
	assert.ErrorContains(t, err, "dbt resource")

	ms, err := step.Materialize(context.Background(), &pipeline.RunContext{
		Resources: pipeline.Resources{Dbt: dbtResource(t, nil, nil, nil)},
	}, []asset.Key{asset.NewKey("fakestore", "carts")})
	assert.NoError(t, err)
	assert.Empty(t, ms)
}

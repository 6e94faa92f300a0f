package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/leapstack-labs/eltpipe/internal/asset"
	"github.com/leapstack-labs/eltpipe/internal/pipeline"
	"github.com/leapstack-labs/eltpipe/internal/resource"
	"github.com/leapstack-labs/eltpipe/internal/state"
	"github.com/leapstack-labs/eltpipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	tables []resource.Table
	err    error
	schema string
}

func (f *fakeLister) ListTables(_ context.Context, schema string) ([]resource.Table, error) {
	f.schema = schema
	return f.tables, f.err
}

func testConfig() Config {
	return Config{
		Source:       "fakestore",
		PipelineName: "rest_api_fakestore",
		Dataset:      "rest_api_data",
		BaseURL:      "https://fakestoreapi.com",
		Resources:    []string{"products", "carts", "users"},
		Command:      []string{"python", "main.py"},
		Dir:          "/srv/pipeline",
		Database:     "/srv/pipeline/rest_api_fakestore.duckdb",
	}
}

func loadedTables() []resource.Table {
	return []resource.Table{
		{Schema: "rest_api_data", Name: "_dlt_loads", Rows: 1},
		{Schema: "rest_api_data", Name: "_dlt_version", Rows: 1},
		{Schema: "rest_api_data", Name: "carts", Rows: 7},
		{Schema: "rest_api_data", Name: "carts__products", Rows: 14},
		{Schema: "rest_api_data", Name: "products", Rows: 20},
		{Schema: "rest_api_data", Name: "users", Rows: 10},
	}
}

func TestNewStep_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing source", mutate: func(c *Config) { c.Source = "" }, wantErr: "source is required"},
		{name: "no resources", mutate: func(c *Config) { c.Resources = nil }, wantErr: "at least one extract resource"},
		{name: "no command", mutate: func(c *Config) { c.Command = nil }, wantErr: "command is required"},
		{name: "merge disposition", mutate: func(c *Config) { c.WriteDisposition = "merge" }, wantErr: "unsupported write disposition"},
		{name: "duplicate resource", mutate: func(c *Config) { c.Resources = []string{"carts", "carts"} }, wantErr: "duplicate resource"},
		{name: "slash in resource", mutate: func(c *Config) { c.Resources = []string{"a/b"} }, wantErr: "invalid resource name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewStep(cfg, nil)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestStep_Specs(t *testing.T) {
	step, err := NewStep(testConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, "fakestore_raw_data", step.Name())

	specs := step.Specs()
	require.Len(t, specs, 3)
	assert.Equal(t, "fakestore/products", specs[0].Key.String())
	assert.Equal(t, Group, specs[1].Group)
	assert.Equal(t, Kind, specs[1].Kind)
	assert.Equal(t, "Extract users from https://fakestoreapi.com", specs[2].Description)
	assert.Empty(t, specs[0].Deps)
}

func TestStep_Command(t *testing.T) {
	step, err := NewStep(testConfig(), nil)
	require.NoError(t, err)

	cmd := step.Command([]string{"carts", "users"})
	assert.Equal(t, "python", cmd.Name)
	assert.Equal(t, []string{"main.py"}, cmd.Args)
	assert.Equal(t, "/srv/pipeline", cmd.Dir)
	assert.Contains(t, cmd.Env, "ELTPIPE_RESOURCES=carts,users")
	assert.Contains(t, cmd.Env, "ELTPIPE_BASE_URL=https://fakestoreapi.com")
	assert.Contains(t, cmd.Env, "ELTPIPE_DATASET=rest_api_data")
	assert.Contains(t, cmd.Env, "ELTPIPE_PIPELINE_NAME=rest_api_fakestore")
	assert.Contains(t, cmd.Env, "ELTPIPE_WRITE_DISPOSITION=replace")
	assert.Contains(t, cmd.Env, "DESTINATION__DUCKDB__CREDENTIALS=/srv/pipeline/rest_api_fakestore.duckdb")
}

func TestStep_Materialize(t *testing.T) {
	step, err := NewStep(testConfig(), nil)
	require.NoError(t, err)

	var ran resource.Command
	runner := resource.RunnerFunc(func(_ context.Context, cmd resource.Command, onLine resource.LineFunc) error {
		ran = cmd
		onLine(resource.Stdout, "Pipeline rest_api_fakestore load step completed")
		onLine(resource.Stderr, "")
		return nil
	})
	lister := &fakeLister{tables: loadedTables()}

	rc := &pipeline.RunContext{
		Logger:    testutil.NewTestLogger(t),
		RunID:     "run-1",
		Resources: pipeline.Resources{Runner: runner, Warehouse: lister},
	}
	selected := []asset.Key{asset.NewKey("fakestore", "carts"), asset.NewKey("fakestore", "users")}

	ms, err := step.Materialize(context.Background(), rc, selected)
	require.NoError(t, err)
	assert.Contains(t, ran.Env, "ELTPIPE_RESOURCES=carts,users")
	assert.Equal(t, "rest_api_data", lister.schema)

	require.Len(t, ms, 2)
	assert.Equal(t, "fakestore/carts", ms[0].Key.String())
	assert.Equal(t, state.MaterializationSuccess, ms[0].Status)
	assert.Equal(t, []string{"carts", "carts__products"}, ms[0].Metadata["tables"])
	assert.Equal(t, int64(21), ms[0].Metadata["rows"])
	assert.Equal(t, map[string]int64{"carts": 7, "carts__products": 14}, ms[0].Metadata["row_counts"])
	assert.Equal(t, int64(10), ms[1].Metadata["rows"])
}

func TestStep_MaterializeMissingTable(t *testing.T) {
	step, err := NewStep(testConfig(), nil)
	require.NoError(t, err)

	rc := &pipeline.RunContext{
		Resources: pipeline.Resources{
			Runner:    resource.RunnerFunc(func(context.Context, resource.Command, resource.LineFunc) error { return nil }),
			Warehouse: &fakeLister{tables: loadedTables()[:4]},
		},
	}
	selected := []asset.Key{asset.NewKey("fakestore", "products"), asset.NewKey("fakestore", "carts")}

	ms, err := step.Materialize(context.Background(), rc, selected)
	require.Error(t, err)

	var missing *MissingTableError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "products", missing.Resource)

	require.Len(t, ms, 2)
	assert.Equal(t, state.MaterializationFailed, ms[0].Status)
	assert.Equal(t, "resource products produced no table in dataset rest_api_data", ms[0].Error)
	assert.Equal(t, state.MaterializationSuccess, ms[1].Status)
}

func TestStep_MaterializeLoaderFailure(t *testing.T) {
	step, err := NewStep(testConfig(), nil)
	require.NoError(t, err)

	lister := &fakeLister{}
	rc := &pipeline.RunContext{
		Resources: pipeline.Resources{
			Runner: resource.RunnerFunc(func(context.Context, resource.Command, resource.LineFunc) error {
				return &resource.CommandError{Command: "python main.py", ExitCode: 1, Stderr: []string{"HTTPError 503"}}
			}),
			Warehouse: lister,
		},
	}

	ms, err := step.Materialize(context.Background(), rc, []asset.Key{asset.NewKey("fakestore", "carts")})
	assert.Nil(t, ms)

	var cmdErr *resource.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.Empty(t, lister.schema, "dataset is not inspected after a failed load")
}

func TestStep_MaterializeRequiresResources(t *testing.T) {
	step, err := NewStep(testConfig(), nil)
	require.NoError(t, err)

	_, err = step.Materialize(context.Background(), &pipeline.RunContext{}, nil)
	assert.ErrorContains(t, err, "command runner")

	_, err = step.Materialize(context.Background(), &pipeline.RunContext{
		Resources: pipeline.Resources{Runner: resource.RunnerFunc(nil)},
	}, nil)
	assert.ErrorContains(t, err, "warehouse")
}

func TestStep_MaterializeListError(t *testing.T) {
	step, err := NewStep(testConfig(), nil)
	require.NoError(t, err)

	rc := &pipeline.RunContext{
		Resources: pipeline.Resources{
			Runner:    resource.RunnerFunc(func(context.Context, resource.Command, resource.LineFunc) error { return nil }),
			Warehouse: &fakeLister{err: resource.ErrDatabaseMissing},
		},
	}

	_, err = step.Materialize(context.Background(), rc, []asset.Key{asset.NewKey("fakestore", "carts")})
	assert.True(t, errors.Is(err, resource.ErrDatabaseMissing))
}

func TestGroupTables(t *testing.T) {
	groups := GroupTables(loadedTables())
	require.Len(t, groups, 3)

	assert.Equal(t, "carts", groups[0].Resource)
	assert.Equal(t, []string{"carts", "carts__products"}, groups[0].Names())
	assert.Equal(t, int64(21), groups[0].Rows())
	assert.Equal(t, "products", groups[1].Resource)
	assert.Equal(t, "users", groups[2].Resource)

	assert.True(t, IsBookkeeping("_dlt_pipeline_state"))
	assert.False(t, IsBookkeeping("users"))
	assert.Empty(t, GroupTables(nil))
}

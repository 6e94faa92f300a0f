package manifest

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/eltpipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Fixture(t *testing.T) {
	path := testutil.WriteManifest(t, t.TempDir(), testutil.FakestoreManifest)

	m, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fakestoreapi", m.Metadata.ProjectName)
	assert.Len(t, m.Nodes, 8)
	assert.Len(t, m.Sources, 4)

	n, ok := m.Lookup("model.fakestoreapi.fct_sales")
	require.True(t, ok)
	assert.Equal(t, "fct_sales", n.Name)
	assert.Equal(t, ResourceModel, n.ResourceType)
	assert.Equal(t, "model.fakestoreapi.fct_sales", n.UniqueID, "unique id is filled from the map key")
	assert.Equal(t, "marts", n.Config.Group)
	assert.Equal(t, "table", n.Config.Materialized)
	assert.True(t, n.IsEnabled())

	src, ok := m.Lookup("source.fakestoreapi.fakestore.carts__products")
	require.True(t, ok)
	assert.Equal(t, "fakestore", src.SourceName)
	assert.Equal(t, ResourceSource, src.ResourceType)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "target", "manifest.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "dbt parse")
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`{"nodes": [}`))
	assert.Error(t, err)
}

func TestParse_ConfigDecoding(t *testing.T) {
	m, err := Parse([]byte(`{
		"nodes": {
			"model.p.a": {"name": "a", "resource_type": "model", "config": {"tags": "single", "enabled": false}},
			"model.p.b": {"name": "b", "resource_type": "model", "config": {"tags": ["x", "y"], "unknown_key": 3}}
		}
	}`))
	require.NoError(t, err)

	a, _ := m.Lookup("model.p.a")
	assert.Equal(t, []string{"single"}, a.Config.Tags)
	assert.False(t, a.IsEnabled())

	b, _ := m.Lookup("model.p.b")
	assert.Equal(t, []string{"x", "y"}, b.Config.Tags)
	assert.True(t, b.IsEnabled())
}

func TestParse_EmptyMaps(t *testing.T) {
	m, err := Parse([]byte(`{}`))
	require.NoError(t, err)
	assert.NotNil(t, m.Nodes)
	assert.NotNil(t, m.Sources)

	_, ok := m.Lookup("model.p.missing")
	assert.False(t, ok)
}

func TestManifest_NodesOfType(t *testing.T) {
	m, err := Parse([]byte(testutil.FakestoreManifest))
	require.NoError(t, err)

	models := m.NodesOfType(ResourceModel)
	require.Len(t, models, 7)
	for i := 1; i < len(models); i++ {
		assert.Less(t, models[i-1].UniqueID, models[i].UniqueID)
	}

	tests := m.NodesOfType(ResourceTest)
	assert.Len(t, tests, 1)

	n, ok := m.FindByName(ResourceModel, "stg_users")
	require.True(t, ok)
	assert.Equal(t, "model.fakestoreapi.stg_users", n.UniqueID)

	_, ok = m.FindByName(ResourceModel, "nope")
	assert.False(t, ok)
}

func TestManifest_NilLookup(t *testing.T) {
	var m *Manifest
	_, ok := m.Lookup("anything")
	assert.False(t, ok)
}

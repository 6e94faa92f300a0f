package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// FakestoreManifest is a trimmed manifest.json for a dbt project named
// "fakestoreapi" reading from the "fakestore" source.
const FakestoreManifest = `{
  "metadata": {"project_name": "fakestoreapi", "dbt_version": "1.8.0"},
  "nodes": {
    "model.fakestoreapi.stg_products": {
      "name": "stg_products",
      "resource_type": "model",
      "package_name": "fakestoreapi",
      "description": "Products cleaned from the raw API payload",
      "config": {"materialized": "view", "tags": "staging"},
      "depends_on": {"nodes": ["source.fakestoreapi.fakestore.products"]}
    },
    "model.fakestoreapi.stg_users": {
      "name": "stg_users",
      "resource_type": "model",
      "package_name": "fakestoreapi",
      "config": {"materialized": "view"},
      "depends_on": {"nodes": ["source.fakestoreapi.fakestore.users"]}
    },
    "model.fakestoreapi.stg_carts": {
      "name": "stg_carts",
      "resource_type": "model",
      "package_name": "fakestoreapi",
      "config": {"materialized": "view"},
      "depends_on": {"nodes": ["source.fakestoreapi.fakestore.carts"]}
    },
    "model.fakestoreapi.stg_carts_products": {
      "name": "stg_carts_products",
      "resource_type": "model",
      "package_name": "fakestoreapi",
      "config": {"materialized": "view"},
      "depends_on": {"nodes": [
        "source.fakestoreapi.fakestore.carts__products",
        "source.fakestoreapi.fakestore.carts"
      ]}
    },
    "model.fakestoreapi.dim_products": {
      "name": "dim_products",
      "resource_type": "model",
      "package_name": "fakestoreapi",
      "config": {"materialized": "table", "group": "marts"},
      "depends_on": {"nodes": ["model.fakestoreapi.stg_products"]}
    },
    "model.fakestoreapi.dim_users": {
      "name": "dim_users",
      "resource_type": "model",
      "package_name": "fakestoreapi",
      "config": {"materialized": "table", "group": "marts"},
      "depends_on": {"nodes": ["model.fakestoreapi.stg_users"]}
    },
    "model.fakestoreapi.fct_sales": {
      "name": "fct_sales",
      "resource_type": "model",
      "package_name": "fakestoreapi",
      "description": "One row per cart line",
      "config": {"materialized": "table", "group": "marts"},
      "depends_on": {"nodes": [
        "model.fakestoreapi.stg_carts",
        "model.fakestoreapi.stg_carts_products",
        "model.fakestoreapi.dim_products"
      ]}
    },
    "test.fakestoreapi.not_null_stg_carts_id.1a2b3c": {
      "name": "not_null_stg_carts_id",
      "resource_type": "test",
      "package_name": "fakestoreapi",
      "depends_on": {"nodes": ["model.fakestoreapi.stg_carts"]}
    }
  },
  "sources": {
    "source.fakestoreapi.fakestore.products": {
      "name": "products", "source_name": "fakestore", "resource_type": "source", "schema": "rest_api_data"
    },
    "source.fakestoreapi.fakestore.carts": {
      "name": "carts", "source_name": "fakestore", "resource_type": "source", "schema": "rest_api_data"
    },
    "source.fakestoreapi.fakestore.carts__products": {
      "name": "carts__products", "source_name": "fakestore", "resource_type": "source", "schema": "rest_api_data"
    },
    "source.fakestoreapi.fakestore.users": {
      "name": "users", "source_name": "fakestore", "resource_type": "source", "schema": "rest_api_data"
    }
  }
}`

// WriteManifest writes content to <dir>/target/manifest.json and returns the path.
func WriteManifest(t testing.TB, dir, content string) string {
	t.Helper()
	target := filepath.Join(dir, "target")
	if err := os.MkdirAll(target, 0o750); err != nil {
		t.Fatalf("failed to create target dir: %v", err)
	}
	path := filepath.Join(target, "manifest.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return path
}

// Package manifest reads the static project metadata written by dbt
// (target/manifest.json). Only the fields the pipeline needs are decoded:
// node identity, resource type, description, config and upstream references.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-viper/mapstructure/v2"
)

// Resource types that appear in a dbt manifest.
const (
	ResourceModel    = "model"
	ResourceSeed     = "seed"
	ResourceSnapshot = "snapshot"
	ResourceTest     = "test"
	ResourceSource   = "source"
)

// ErrNotFound is returned by Load when the manifest file does not exist.
var ErrNotFound = errors.New("manifest not found")

// Manifest is the subset of dbt's manifest.json used to build the asset graph.
type Manifest struct {
	Metadata Metadata         `json:"metadata"`
	Nodes    map[string]*Node `json:"nodes"`
	Sources  map[string]*Node `json:"sources"`
}

// Metadata identifies the project and dbt version that wrote the manifest.
type Metadata struct {
	ProjectName string `json:"project_name"`
	DbtVersion  string `json:"dbt_version"`
	GeneratedAt string `json:"generated_at"`
}

// Node is one manifest entry: a model, seed, snapshot, test or source table.
type Node struct {
	UniqueID     string         `json:"unique_id"`
	Name         string         `json:"name"`
	ResourceType string         `json:"resource_type"`
	PackageName  string         `json:"package_name"`
	Schema       string         `json:"schema"`
	Description  string         `json:"description"`
	SourceName   string         `json:"source_name"` // sources only
	Identifier   string         `json:"identifier"`  // sources only
	DependsOn    DependsOn      `json:"depends_on"`
	RawConfig    map[string]any `json:"config"`

	// Config is decoded from RawConfig when the manifest is loaded.
	Config NodeConfig `json:"-"`
}

// DependsOn lists the raw upstream references of a node, in manifest order.
type DependsOn struct {
	Nodes  []string `json:"nodes"`
	Macros []string `json:"macros"`
}

// NodeConfig holds the config keys the pipeline cares about.
type NodeConfig struct {
	Enabled      *bool    `mapstructure:"enabled"`
	Materialized string   `mapstructure:"materialized"`
	Group        string   `mapstructure:"group"`
	Tags         []string `mapstructure:"tags"`
}

// IsEnabled reports whether the node is enabled; nodes default to enabled.
func (n *Node) IsEnabled() bool {
	return n.Config.Enabled == nil || *n.Config.Enabled
}

// Load reads and decodes a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from project configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s\nHint: run `dbt parse` in the dbt project or pass --parse", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes manifest JSON.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Nodes == nil {
		m.Nodes = make(map[string]*Node)
	}
	if m.Sources == nil {
		m.Sources = make(map[string]*Node)
	}

	for _, entries := range []map[string]*Node{m.Nodes, m.Sources} {
		for id, n := range entries {
			if n == nil {
				delete(entries, id)
				continue
			}
			if n.UniqueID == "" {
				n.UniqueID = id
			}
			if err := decodeConfig(n); err != nil {
				return nil, fmt.Errorf("node %s: %w", id, err)
			}
		}
	}

	return &m, nil
}

func decodeConfig(n *Node) error {
	if len(n.RawConfig) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &n.Config,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(n.RawConfig); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Lookup returns the entry for a unique id, searching nodes then sources.
func (m *Manifest) Lookup(uniqueID string) (*Node, bool) {
	if m == nil {
		return nil, false
	}
	if n, ok := m.Nodes[uniqueID]; ok {
		return n, true
	}
	n, ok := m.Sources[uniqueID]
	return n, ok
}

// NodesOfType returns enabled nodes of the given resource types sorted by unique id.
func (m *Manifest) NodesOfType(types ...string) []*Node {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	var out []*Node
	for _, n := range m.Nodes {
		if want[n.ResourceType] && n.IsEnabled() {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UniqueID < out[j].UniqueID
	})
	return out
}

// FindByName returns the first enabled node with the given name and resource type.
func (m *Manifest) FindByName(resourceType, name string) (*Node, bool) {
	for _, n := range m.NodesOfType(resourceType) {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	dbtProjectFile    = "dbt_project.yml"
	defaultTargetPath = "target"
	manifestFile      = "manifest.json"
)

// DbtProject is the part of dbt_project.yml the pipeline reads.
type DbtProject struct {
	Name       string   `yaml:"name"`
	Profile    string   `yaml:"profile"`
	ModelPaths []string `yaml:"model-paths"`
	TargetPath string   `yaml:"target-path"`
}

// ReadDbtProject parses <dir>/dbt_project.yml.
func ReadDbtProject(dir string) (*DbtProject, error) {
	data, err := os.ReadFile(filepath.Join(dir, dbtProjectFile)) //nolint:gosec // path comes from project configuration
	if err != nil {
		return nil, err
	}
	var p DbtProject
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", dbtProjectFile, err)
	}
	return &p, nil
}

// ManifestPath returns where dbt writes manifest.json for the project in dir.
func (p *DbtProject) ManifestPath(dir string) string {
	target := p.TargetPath
	if target == "" {
		target = defaultTargetPath
	}
	if filepath.IsAbs(target) {
		return filepath.Join(target, manifestFile)
	}
	return filepath.Join(dir, target, manifestFile)
}

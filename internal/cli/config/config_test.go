package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.String("project-dir", "", "")
	flags.String("database", "", "")
	flags.String("state", "", "")
	flags.String("env", "", "")
	flags.BoolP("verbose", "v", false, "")
	flags.StringP("output", "o", "", "")
	flags.String("select", "", "")
	return flags
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	defer ResetConfig()

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, DefaultEnv, cfg.Environment)
	assert.Equal(t, filepath.Join(dir, DefaultDatabase), cfg.DatabasePath)
	assert.Equal(t, filepath.Join(dir, DefaultStateFile), cfg.StatePath)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, DefaultSource, cfg.Extract.Source)
	assert.Equal(t, DefaultResources(), cfg.Extract.Resources)
	assert.Equal(t, DefaultCommand(), cfg.Extract.Command)
	assert.Equal(t, dir, cfg.Extract.Dir)
	assert.Equal(t, filepath.Join(dir, DefaultDbtProjectDir), cfg.Dbt.ProjectDir)
	assert.Equal(t, filepath.Join(dir, DefaultDbtProjectDir, "target", "manifest.json"), cfg.Dbt.Manifest)
	assert.Equal(t, DefaultJobName, cfg.Job.Name)
	assert.Empty(t, cfg.Extract.Project, "no dbt_project.yml to read the project from")
	assert.Empty(t, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_FileAndDbtProject(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	defer ResetConfig()

	writeFile(t, filepath.Join(dir, "eltpipe.yaml"), `
environment: prod
database: data/warehouse.duckdb
duckdb:
  settings:
    threads: 4
extract:
  resources: [products, carts]
  command: [uv, run, main.py]
dbt:
  project_dir: transform
  target: ci
jobs:
  - name: extract_only
    selection: group:extraction
`)
	writeFile(t, filepath.Join(dir, "transform", "dbt_project.yml"), `
name: fakestoreapi
profile: fakestore
target-path: build
`)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "eltpipe.yaml"), GetConfigFileUsed())
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, filepath.Join(dir, "data", "warehouse.duckdb"), cfg.DatabasePath)
	assert.Equal(t, map[string]string{"threads": "4"}, cfg.DuckDB.Settings)
	assert.Equal(t, []string{"products", "carts"}, cfg.Extract.Resources)
	assert.Equal(t, []string{"uv", "run", "main.py"}, cfg.Extract.Command)
	assert.Equal(t, DefaultBaseURL, cfg.Extract.BaseURL)
	assert.Equal(t, "ci", cfg.Dbt.Target)
	assert.Equal(t, "fakestoreapi", cfg.Extract.Project)
	assert.Equal(t, filepath.Join(dir, "transform", "build", "manifest.json"), cfg.Dbt.Manifest)

	jobs := cfg.AllJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, DefaultJobName, jobs[0].Name)
	assert.Equal(t, "group:extraction", jobs[1].Selection)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_UpwardSearch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "eltpipe.yml"), "environment: staging\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	t.Chdir(nested)
	defer ResetConfig()

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, root, cfg.ProjectRoot)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, filepath.Join(root, DefaultStateFile), cfg.StatePath)
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(t.TempDir())
	defer ResetConfig()

	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, "state_path: state/runs.db\n")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(dir, "state", "runs.db"), cfg.StatePath)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	defer ResetConfig()

	writeFile(t, filepath.Join(dir, "eltpipe.yaml"), "environment: prod\n")
	t.Setenv("ELTPIPE_ENVIRONMENT", "qa")
	t.Setenv("ELTPIPE_DBT_TARGET", "duck_ci")
	t.Setenv("ELTPIPE_DBT_PROJECT_DIR", "${DBT_HOME}/fakestoreapi")
	t.Setenv("DBT_HOME", "/opt/dbt")
	t.Setenv("ELTPIPE_EXTRACT_RESOURCES", "products, users")
	t.Setenv("ELTPIPE_EXTRACT_COMMAND", "python -m loader")
	t.Setenv("ELTPIPE_EXTRACT_BASE_URL", "${FAKESTORE_URL}")
	t.Setenv("FAKESTORE_URL", "http://localhost:8080")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "qa", cfg.Environment)
	assert.Equal(t, "duck_ci", cfg.Dbt.Target)
	assert.Equal(t, "/opt/dbt/fakestoreapi", cfg.Dbt.ProjectDir)
	assert.Equal(t, []string{"products", "users"}, cfg.Extract.Resources)
	assert.Equal(t, []string{"python", "-m", "loader"}, cfg.Extract.Command)
	assert.Equal(t, "http://localhost:8080", cfg.Extract.BaseURL)
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	defer ResetConfig()

	t.Setenv("ELTPIPE_ENVIRONMENT", "qa")
	t.Setenv("ELTPIPE_OUTPUT", "markdown")

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{
		"--env", "prod", "-o", "json", "--database", ":memory:", "--state", "tmp/state.db", "--select", "group:x", "-v",
	}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, ":memory:", cfg.DatabasePath)
	assert.Equal(t, filepath.Join(dir, "tmp", "state.db"), cfg.StatePath)
	assert.True(t, cfg.Verbose)
}

func TestLoadConfig_ProjectDirFlag(t *testing.T) {
	project := t.TempDir()
	t.Chdir(t.TempDir())
	defer ResetConfig()

	writeFile(t, filepath.Join(project, "eltpipe.yaml"), "environment: projectenv\n")

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--project-dir", project}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, project, cfg.ProjectRoot)
	assert.Equal(t, "projectenv", cfg.Environment)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"ELTPIPE_STATE_PATH":              "state_path",
		"ELTPIPE_DATABASE":                "database",
		"ELTPIPE_DBT_PROJECT_DIR":         "dbt.project_dir",
		"ELTPIPE_EXTRACT_PIPELINE_NAME":   "extract.pipeline_name",
		"ELTPIPE_DUCKDB_SETTINGS_THREADS": "duckdb.settings_threads",
		"ELTPIPE_JOB_NAME":                "job.name",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			OutputFormat: "auto",
			Extract: ExtractConfig{
				Source:           "fakestore",
				Project:          "fakestoreapi",
				Resources:        DefaultResources(),
				WriteDisposition: "replace",
			},
			Dbt: DbtConfig{ProjectDir: "dbt"},
			Job: JobConfig{Name: DefaultJobName},
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		errSubstr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no source", mutate: func(c *Config) { c.Extract.Source = "" }, errSubstr: "extract.source"},
		{name: "no project", mutate: func(c *Config) { c.Extract.Project = "" }, errSubstr: "dbt_project.yml"},
		{name: "no resources", mutate: func(c *Config) { c.Extract.Resources = nil }, errSubstr: "at least one resource"},
		{name: "append disposition", mutate: func(c *Config) { c.Extract.WriteDisposition = "append" }, errSubstr: "not supported"},
		{name: "no dbt project", mutate: func(c *Config) { c.Dbt.ProjectDir = "" }, errSubstr: "dbt.project_dir"},
		{name: "unnamed job", mutate: func(c *Config) { c.Jobs = []JobConfig{{Selection: "*"}} }, errSubstr: "needs a name"},
		{name: "bad output", mutate: func(c *Config) { c.OutputFormat = "html" }, errSubstr: "must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errSubstr)
		})
	}
}

func TestConfig_ValidateDirectories(t *testing.T) {
	cfg := &Config{Dbt: DbtConfig{ProjectDir: filepath.Join(t.TempDir(), "missing")}}
	assert.ErrorContains(t, cfg.ValidateDirectories(), "does not exist")

	cfg.Dbt.ProjectDir = t.TempDir()
	assert.NoError(t, cfg.ValidateDirectories())
}

func TestReadDbtProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dbt_project.yml"), "name: fakestoreapi\nmodel-paths: [models]\n")

	p, err := ReadDbtProject(dir)
	require.NoError(t, err)
	assert.Equal(t, "fakestoreapi", p.Name)
	assert.Equal(t, []string{"models"}, p.ModelPaths)
	assert.Equal(t, filepath.Join(dir, "target", "manifest.json"), p.ManifestPath(dir))

	writeFile(t, filepath.Join(dir, "dbt_project.yml"), "name: [unclosed\n")
	_, err = ReadDbtProject(dir)
	assert.ErrorContains(t, err, "invalid dbt_project.yml")

	_, err = ReadDbtProject(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestGetLogger_Fallback(t *testing.T) {
	logger := GetLogger(context.Background())
	require.NotNil(t, logger)
	logger.Info("discarded")
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	defer ResetConfig()
	t.Cleanup(func() {
		_ = os.Unsetenv("FAKESTORE_WAREHOUSE")
	})
	t.Setenv("FAKESTORE_API", "https://override.example")

	writeFile(t, filepath.Join(dir, "eltpipe.yaml"), `
database: ${FAKESTORE_WAREHOUSE}
extract:
  base_url: ${FAKESTORE_API}
`)
	writeFile(t, filepath.Join(dir, ".env"), "FAKESTORE_WAREHOUSE=from_dotenv.duckdb\nFAKESTORE_API=https://dotenv.example\n")

	cfg, err := LoadConfig(filepath.Join(dir, "eltpipe.yaml"), nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "from_dotenv.duckdb"), cfg.DatabasePath)
	assert.Equal(t, "https://override.example", cfg.Extract.BaseURL, "variables already set win over .env")
}

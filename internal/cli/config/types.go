// Package config provides configuration management for the eltpipe CLI.
//
// Configuration is layered: built-in defaults, then eltpipe.yaml, then
// ELTPIPE_* environment variables, then explicitly set command-line flags.
package config

// Config holds all CLI configuration options.
type Config struct {
	// ProjectRoot anchors every relative path. It is not read from the file.
	ProjectRoot  string        `koanf:"-"`
	Environment  string        `koanf:"environment"`
	DatabasePath string        `koanf:"database"`
	StatePath    string        `koanf:"state_path"`
	OutputFormat string        `koanf:"output"`
	Verbose      bool          `koanf:"verbose"`
	DuckDB       DuckDBConfig  `koanf:"duckdb"`
	Extract      ExtractConfig `koanf:"extract"`
	Dbt          DbtConfig     `koanf:"dbt"`
	Job          JobConfig     `koanf:"job"`
	// Jobs are additional named selections.
	Jobs []JobConfig `koanf:"jobs"`
}

// DuckDBConfig holds options for the analytical database.
type DuckDBConfig struct {
	Settings map[string]string `koanf:"settings"`
}

// ExtractConfig configures the extraction loader.
type ExtractConfig struct {
	Source           string   `koanf:"source"`
	Project          string   `koanf:"project"`
	PipelineName     string   `koanf:"pipeline_name"`
	Dataset          string   `koanf:"dataset"`
	BaseURL          string   `koanf:"base_url"`
	Resources        []string `koanf:"resources"`
	WriteDisposition string   `koanf:"write_disposition"`
	Command          []string `koanf:"command"`
	// Dir is the loader's working directory; defaults to the project root.
	Dir string `koanf:"dir"`
}

// DbtConfig configures the dbt CLI resource.
type DbtConfig struct {
	ProjectDir string `koanf:"project_dir"`
	Target     string `koanf:"target"`
	Executable string `koanf:"executable"`
	// Manifest overrides <project_dir>/<target-path>/manifest.json.
	Manifest string `koanf:"manifest"`
}

// JobConfig declares a job.
type JobConfig struct {
	Name        string `koanf:"name"`
	Description string `koanf:"description"`
	Selection   string `koanf:"selection"`
}

// Default configuration values.
const (
	DefaultConfigFile       = "eltpipe.yaml"
	DefaultStateFile        = ".eltpipe/state.db"
	DefaultDatabase         = "rest_api_fakestore.duckdb"
	DefaultEnv              = "dev"
	DefaultOutput           = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultSource           = "fakestore"
	DefaultPipelineName     = "rest_api_fakestore"
	DefaultDataset          = "rest_api_data"
	DefaultBaseURL          = "https://fakestoreapi.com"
	DefaultWriteDisposition = "replace"
	DefaultDbtProjectDir    = "dbt_project/fakestoreapi"
	DefaultDbtTarget        = "duck"
	DefaultDbtExecutable    = "dbt"
	DefaultJobName          = "fakestore_pipeline"
	DefaultJobDescription   = "Full pipeline: Extract from FakeStore API → Transform with dbt"
	DefaultJobSelection     = "*"
)

// DefaultResources are the FakeStore endpoints loaded by default.
func DefaultResources() []string {
	return []string{"products", "carts", "users"}
}

// DefaultCommand is the default loader invocation.
func DefaultCommand() []string {
	return []string{"python", "main.py"}
}

// AllJobs returns the primary job followed by any additional jobs.
func (c *Config) AllJobs() []JobConfig {
	out := make([]JobConfig, 0, len(c.Jobs)+1)
	out = append(out, c.Job)
	return append(out, c.Jobs...)
}

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store logger in context.
type loggerKey struct{}

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// envPrefix is the prefix of configuration environment variables.
const envPrefix = "ELTPIPE_"

const memoryDatabase = ":memory:"

// dotEnvFile holds local environment defaults in the project root.
const dotEnvFile = ".env"

// configNames are the config file names searched for, in order.
var configNames = []string{"eltpipe.yaml", "eltpipe.yml"}

// nestedSections are the config sections reachable from environment
// variables: ELTPIPE_DBT_PROJECT_DIR maps to dbt.project_dir.
var nestedSections = []string{"extract", "dbt", "duckdb", "job"}

// flagKeys maps persistent flag names to config keys.
var flagKeys = map[string]string{
	"database": "database",
	"state":    "state_path",
	"env":      "environment",
	"verbose":  "verbose",
	"output":   "output",
}

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config
)

// configExistsIn checks if an eltpipe config file exists in the directory.
func configExistsIn(dir string) bool {
	for _, name := range configNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// findProjectRootUpward searches upward from startDir for an eltpipe config file.
// Returns empty string if not found within maxUpwardSearchLevels.
func findProjectRootUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if configExistsIn(dir) {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}
	return ""
}

// inferProjectRoot determines the project root.
// Priority:
//  1. Explicit --project-dir flag
//  2. Directory of an explicit --config file
//  3. Search upward from CWD for eltpipe.yaml
//  4. Current working directory
func inferProjectRoot(cfgFile string, flags *pflag.FlagSet) string {
	if flags != nil && flags.Lookup("project-dir") != nil && flags.Changed("project-dir") {
		if projectDir, _ := flags.GetString("project-dir"); projectDir != "" {
			if abs, err := filepath.Abs(projectDir); err == nil {
				return abs
			}
			return filepath.Clean(projectDir)
		}
	}

	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			return filepath.Dir(abs)
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		if root := findProjectRootUpward(cwd); root != "" {
			return root
		}
	}

	cwd, _ := os.Getwd()
	if cwd == "" {
		cwd = "."
	}
	return cwd
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == memoryDatabase || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// flagPath returns the absolute form of a path flag that was explicitly set.
// Paths given on the command line are relative to the working directory.
func flagPath(flags *pflag.FlagSet, name string) string {
	if flags == nil || flags.Lookup(name) == nil || !flags.Changed(name) {
		return ""
	}
	v, _ := flags.GetString(name)
	if v == "" || v == memoryDatabase {
		return v
	}
	abs, err := filepath.Abs(v)
	if err != nil {
		return v
	}
	return abs
}

// envKey maps ELTPIPE_DBT_PROJECT_DIR to dbt.project_dir and
// ELTPIPE_STATE_PATH to state_path.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range nestedSections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// envValue splits list-valued variables.
func envValue(key, value string) any {
	switch key {
	case "extract.resources":
		var out []string
		for _, r := range strings.Split(value, ",") {
			if r = strings.TrimSpace(r); r != "" {
				out = append(out, r)
			}
		}
		return out
	case "extract.command":
		return strings.Fields(value)
	}
	return value
}

func defaults() map[string]any {
	return map[string]any{
		"environment":               DefaultEnv,
		"database":                  DefaultDatabase,
		"state_path":                DefaultStateFile,
		"output":                    DefaultOutput,
		"verbose":                   false,
		"extract.source":            DefaultSource,
		"extract.pipeline_name":     DefaultPipelineName,
		"extract.dataset":           DefaultDataset,
		"extract.base_url":          DefaultBaseURL,
		"extract.resources":         DefaultResources(),
		"extract.write_disposition": DefaultWriteDisposition,
		"extract.command":           DefaultCommand(),
		"dbt.project_dir":           DefaultDbtProjectDir,
		"dbt.target":                DefaultDbtTarget,
		"dbt.executable":            DefaultDbtExecutable,
		"job.name":                  DefaultJobName,
		"job.description":           DefaultJobDescription,
		"job.selection":             DefaultJobSelection,
	}
}

// loadDotEnv exports <root>/.env into the process environment. Variables
// that are already set are left untouched.
func loadDotEnv(root string) error {
	path := filepath.Join(root, dotEnvFile)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	projectRoot := inferProjectRoot(cfgFile, flags)
	flagDatabase := flagPath(flags, "database")
	flagStatePath := flagPath(flags, "state")

	if err := loadDotEnv(projectRoot); err != nil {
		return nil, err
	}

	// 1. Load defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	configFileUsed = ""
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return nil, fmt.Errorf("config file %s: %w", cfgFile, err)
		}
		configFileUsed = cfgFile
	} else {
		for _, name := range configNames {
			candidate := filepath.Join(projectRoot, name)
			if _, err := os.Stat(candidate); err == nil {
				configFileUsed = candidate
				break
			}
		}
	}
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Load environment variables (ELTPIPE_ prefix)
	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, any) {
		name := envKey(key)
		return name, envValue(name, value)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. Expand ${VAR} placeholders, then resolve relative paths against the
	// project root. Paths given as flags were already made absolute.
	cfg.ProjectRoot = projectRoot
	cfg.DatabasePath = expandEnvVars(cfg.DatabasePath)
	cfg.Extract.BaseURL = expandEnvVars(cfg.Extract.BaseURL)
	cfg.Dbt.ProjectDir = expandEnvVars(cfg.Dbt.ProjectDir)

	if flagDatabase != "" {
		cfg.DatabasePath = flagDatabase
	} else {
		cfg.DatabasePath = resolvePathRelativeTo(cfg.DatabasePath, projectRoot)
	}
	if flagStatePath != "" {
		cfg.StatePath = flagStatePath
	} else {
		cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, projectRoot)
	}
	cfg.Dbt.ProjectDir = resolvePathRelativeTo(cfg.Dbt.ProjectDir, projectRoot)
	cfg.Dbt.Manifest = resolvePathRelativeTo(cfg.Dbt.Manifest, projectRoot)
	if cfg.Extract.Dir == "" {
		cfg.Extract.Dir = projectRoot
	} else {
		cfg.Extract.Dir = resolvePathRelativeTo(cfg.Extract.Dir, projectRoot)
	}

	// 7. Fill in what the dbt project itself declares.
	if project, err := ReadDbtProject(cfg.Dbt.ProjectDir); err == nil {
		if cfg.Extract.Project == "" {
			cfg.Extract.Project = project.Name
		}
		if cfg.Dbt.Manifest == "" {
			cfg.Dbt.Manifest = project.ManifestPath(cfg.Dbt.ProjectDir)
		}
	}
	if cfg.Dbt.Manifest == "" {
		cfg.Dbt.Manifest = filepath.Join(cfg.Dbt.ProjectDir, defaultTargetPath, manifestFile)
	}

	currentConfig = &cfg
	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the currently loaded configuration.
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() any {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/eltpipe/internal/cli/config"
	"github.com/leapstack-labs/eltpipe/internal/cli/output"
	"github.com/leapstack-labs/eltpipe/internal/extract"
	"github.com/leapstack-labs/eltpipe/internal/manifest"
	"github.com/leapstack-labs/eltpipe/internal/pipeline"
	"github.com/leapstack-labs/eltpipe/internal/resource"
	"github.com/leapstack-labs/eltpipe/internal/state"
	"github.com/leapstack-labs/eltpipe/internal/transform"
	"github.com/leapstack-labs/eltpipe/internal/translate"
	"github.com/spf13/cobra"
)

// newRunner builds the process runner shared by the loader and dbt.
// Tests replace it with a fake.
var newRunner = func(logger *slog.Logger) resource.Runner {
	return resource.NewExecRunner(logger)
}

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg       *config.Config
	Logger    *slog.Logger
	Renderer  *output.Renderer
	Runner    resource.Runner
	Warehouse *resource.DuckDB
	Dbt       *resource.DbtCLI

	// Set by LoadDefinitions.
	Defs      *pipeline.Definitions
	Extract   *extract.Step
	Transform *transform.Step

	store *state.SQLiteStore
}

// NewCommandContext validates the configuration and builds the renderer and
// resources. Nothing is read from disk until LoadDefinitions or OpenStore.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := getConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := config.GetLogger(cmd.Context())

	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	runner := newRunner(logger)
	dbt := resource.NewDbtCLI(resource.DbtConfig{
		ProjectDir:   cfg.Dbt.ProjectDir,
		Target:       cfg.Dbt.Target,
		Executable:   cfg.Dbt.Executable,
		ManifestPath: cfg.Dbt.Manifest,
		Env:          []string{extract.EnvDatabase + "=" + cfg.DatabasePath},
	}, runner, logger)

	return &CommandContext{
		Cfg:       cfg,
		Logger:    logger,
		Renderer:  r,
		Runner:    runner,
		Warehouse: resource.NewDuckDB(cfg.DatabasePath, cfg.DuckDB.Settings, logger),
		Dbt:       dbt,
	}, nil
}

// Resources returns the collaborators handed to steps at run time.
func (c *CommandContext) Resources() pipeline.Resources {
	return pipeline.Resources{
		Runner:    c.Runner,
		Warehouse: c.Warehouse,
		Dbt:       c.Dbt,
	}
}

// Namespace returns the extraction namespace inside dbt source references.
func (c *CommandContext) Namespace() translate.Namespace {
	return translate.Namespace{Project: c.Cfg.Extract.Project, Source: c.Cfg.Extract.Source}
}

// LoadDefinitions builds both steps and assembles the asset graph. With
// parse set, `dbt parse` refreshes the manifest first.
func (c *CommandContext) LoadDefinitions(ctx context.Context, parse bool) error {
	if parse {
		if err := c.Dbt.Parse(ctx); err != nil {
			return fmt.Errorf("dbt parse failed: %w", err)
		}
	}

	m, err := manifest.Load(c.Dbt.ManifestPath())
	if err != nil {
		return err
	}

	ext, err := c.newExtractStep()
	if err != nil {
		return err
	}

	tr, err := transform.NewStep("", c.Namespace(), m, c.Logger)
	if err != nil {
		return err
	}

	jobs := make([]pipeline.Job, 0, len(c.Cfg.Jobs)+1)
	for _, j := range c.Cfg.AllJobs() {
		jobs = append(jobs, pipeline.Job{Name: j.Name, Description: j.Description, Selection: j.Selection})
	}

	defs, err := pipeline.NewDefinitions([]pipeline.Step{ext, tr}, jobs, c.Resources(), c.Logger)
	if err != nil {
		return err
	}

	c.Defs = defs
	c.Extract = ext
	c.Transform = tr
	return nil
}

// LoadExtractDefinitions is LoadDefinitions for extraction-only commands. When
// the dbt manifest has not been generated yet, the graph holds the extraction
// step alone under the configured job.
func (c *CommandContext) LoadExtractDefinitions(ctx context.Context, parse bool) error {
	err := c.LoadDefinitions(ctx, parse)
	if err == nil || !errors.Is(err, manifest.ErrNotFound) {
		return err
	}
	c.Logger.Warn("dbt manifest not found; loading the extraction step only",
		slog.String("manifest", c.Dbt.ManifestPath()))

	ext, err := c.newExtractStep()
	if err != nil {
		return err
	}
	jobs := []pipeline.Job{{Name: c.Cfg.Job.Name, Description: c.Cfg.Job.Description, Selection: pipeline.SelectAll}}
	defs, err := pipeline.NewDefinitions([]pipeline.Step{ext}, jobs, c.Resources(), c.Logger)
	if err != nil {
		return err
	}

	c.Defs = defs
	c.Extract = ext
	c.Transform = nil
	return nil
}

func (c *CommandContext) newExtractStep() (*extract.Step, error) {
	ext, err := extract.NewStep(extract.Config{
		Source:           c.Cfg.Extract.Source,
		PipelineName:     c.Cfg.Extract.PipelineName,
		Dataset:          c.Cfg.Extract.Dataset,
		BaseURL:          c.Cfg.Extract.BaseURL,
		Resources:        c.Cfg.Extract.Resources,
		WriteDisposition: c.Cfg.Extract.WriteDisposition,
		Command:          c.Cfg.Extract.Command,
		Dir:              c.Cfg.Extract.Dir,
		Database:         c.Cfg.DatabasePath,
	}, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("invalid extract configuration: %w", err)
	}
	return ext, nil
}

// OpenStore opens the run state database. It is closed by Close.
func (c *CommandContext) OpenStore() (*state.SQLiteStore, error) {
	if c.store != nil {
		return c.store, nil
	}
	store, err := state.Open(c.Cfg.StatePath, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	c.store = store
	return store, nil
}

// Close releases the state store.
func (c *CommandContext) Close() {
	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
	}
}

// getConfig returns the current configuration, falling back to defaults
// when the root command did not load one.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	cfg, err := config.LoadConfig("", nil)
	if err != nil {
		return &config.Config{}
	}
	return cfg
}

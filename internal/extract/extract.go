// Package extract implements the extraction step: it runs the external REST
// loader that writes the raw dataset into DuckDB, then verifies that every
// requested resource produced at least one table.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/eltpipe/internal/asset"
	"github.com/leapstack-labs/eltpipe/internal/pipeline"
	"github.com/leapstack-labs/eltpipe/internal/resource"
	"github.com/leapstack-labs/eltpipe/internal/state"
)

// Asset attributes shared by every extracted resource.
const (
	Group = "extraction"
	Kind  = "dlt"
)

// WriteReplace is the only supported write disposition: every run fully
// replaces the loaded tables.
const WriteReplace = "replace"

// Environment variables handed to the loader.
const (
	EnvBaseURL          = "ELTPIPE_BASE_URL"
	EnvResources        = "ELTPIPE_RESOURCES"
	EnvDataset          = "ELTPIPE_DATASET"
	EnvPipelineName     = "ELTPIPE_PIPELINE_NAME"
	EnvWriteDisposition = "ELTPIPE_WRITE_DISPOSITION"
	EnvDatabase         = "ELTPIPE_DATABASE"
	EnvDuckDBCredential = "DESTINATION__DUCKDB__CREDENTIALS"
)

// bookkeepingPrefix marks loader-internal tables such as _dlt_loads.
const bookkeepingPrefix = "_dlt"

// Config describes one extraction source.
type Config struct {
	// Source is the first segment of every asset key and the dbt source name.
	Source       string
	PipelineName string
	Dataset      string
	BaseURL      string
	Resources    []string
	// WriteDisposition must be "replace".
	WriteDisposition string
	// Command is the loader invocation, e.g. ["python", "main.py"].
	Command []string
	// Dir is the loader's working directory.
	Dir      string
	Database string
}

// MissingTableError reports a resource that the loader did not produce.
type MissingTableError struct {
	Resource string
	Dataset  string
}

func (e *MissingTableError) Error() string {
	return fmt.Sprintf("resource %s produced no table in dataset %s", e.Resource, e.Dataset)
}

// Step runs the loader for the selected resources.
type Step struct {
	cfg    Config
	logger *slog.Logger
}

var _ pipeline.Step = (*Step)(nil)

// NewStep validates cfg and creates the extraction step.
func NewStep(cfg Config, logger *slog.Logger) (*Step, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.WriteDisposition == "" {
		cfg.WriteDisposition = WriteReplace
	}

	var errs []error
	if cfg.Source == "" {
		errs = append(errs, errors.New("extract source is required"))
	}
	if len(cfg.Resources) == 0 {
		errs = append(errs, errors.New("at least one extract resource is required"))
	}
	if len(cfg.Command) == 0 {
		errs = append(errs, errors.New("extract command is required"))
	}
	if cfg.WriteDisposition != WriteReplace {
		errs = append(errs, fmt.Errorf("unsupported write disposition %q (only %q)", cfg.WriteDisposition, WriteReplace))
	}
	seen := make(map[string]bool, len(cfg.Resources))
	for _, r := range cfg.Resources {
		if r == "" || strings.Contains(r, "/") {
			errs = append(errs, fmt.Errorf("invalid resource name %q", r))
		}
		if seen[r] {
			errs = append(errs, fmt.Errorf("duplicate resource %q", r))
		}
		seen[r] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Step{cfg: cfg, logger: logger}, nil
}

// Name returns "<source>_raw_data".
func (s *Step) Name() string {
	return s.cfg.Source + "_raw_data"
}

// Specs returns one asset per configured resource.
func (s *Step) Specs() []asset.Spec {
	specs := make([]asset.Spec, 0, len(s.cfg.Resources))
	for _, r := range s.cfg.Resources {
		specs = append(specs, asset.Spec{
			Key:         asset.NewKey(s.cfg.Source, r),
			Group:       Group,
			Kind:        Kind,
			Description: fmt.Sprintf("Extract %s from %s", r, s.cfg.BaseURL),
		})
	}
	return specs
}

// Command builds the loader invocation for resources.
func (s *Step) Command(resources []string) resource.Command {
	env := []string{
		EnvBaseURL + "=" + s.cfg.BaseURL,
		EnvResources + "=" + strings.Join(resources, ","),
		EnvDataset + "=" + s.cfg.Dataset,
		EnvPipelineName + "=" + s.cfg.PipelineName,
		EnvWriteDisposition + "=" + s.cfg.WriteDisposition,
	}
	if s.cfg.Database != "" {
		env = append(env,
			EnvDatabase+"="+s.cfg.Database,
			EnvDuckDBCredential+"="+s.cfg.Database)
	}
	return resource.Command{
		Name: s.cfg.Command[0],
		Args: s.cfg.Command[1:],
		Dir:  s.cfg.Dir,
		Env:  env,
	}
}

// Materialize runs the loader and inspects the dataset it wrote.
func (s *Step) Materialize(ctx context.Context, rc *pipeline.RunContext, selected []asset.Key) ([]pipeline.Materialization, error) {
	logger := s.logger
	if rc != nil && rc.Logger != nil {
		logger = rc.Logger
	}
	if rc == nil || rc.Resources.Runner == nil {
		return nil, errors.New("extraction requires a command runner")
	}
	if rc.Resources.Warehouse == nil {
		return nil, errors.New("extraction requires a warehouse resource")
	}

	resources := make([]string, 0, len(selected))
	for _, k := range selected {
		if len(k) == 2 && k[0] == s.cfg.Source {
			resources = append(resources, k.Last())
		}
	}
	if len(resources) == 0 {
		return nil, nil
	}

	started := time.Now().UTC()
	cmd := s.Command(resources)
	logger.Info("starting extraction",
		slog.String("base_url", s.cfg.BaseURL),
		slog.String("pipeline", s.cfg.PipelineName),
		slog.String("dataset", s.cfg.Dataset),
		slog.Any("resources", resources))

	err := rc.Resources.Runner.Run(ctx, cmd, func(stream resource.Stream, line string) {
		if strings.TrimSpace(line) == "" {
			return
		}
		if stream == resource.Stdout {
			logger.Info("loader", slog.String("line", line))
			return
		}
		logger.Debug("loader", slog.String("stream", stream.String()), slog.String("line", line))
	})
	if err != nil {
		return nil, fmt.Errorf("extraction loader failed: %w", err)
	}

	tables, err := rc.Resources.Warehouse.ListTables(ctx, s.cfg.Dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect dataset %s: %w", s.cfg.Dataset, err)
	}
	groups := GroupTables(tables)
	byResource := make(map[string]TableGroup, len(groups))
	for _, g := range groups {
		byResource[g.Resource] = g
		for _, t := range g.Tables {
			logger.Info("loaded table", slog.String("table", t.Name), slog.Int64("rows", t.Rows))
		}
	}
	completed := time.Now().UTC()

	var (
		out  []pipeline.Materialization
		errs []error
	)
	for _, r := range resources {
		m := pipeline.Materialization{
			Key:         asset.NewKey(s.cfg.Source, r),
			StartedAt:   started,
			CompletedAt: completed,
		}
		g, ok := byResource[r]
		if !ok {
			missing := &MissingTableError{Resource: r, Dataset: s.cfg.Dataset}
			m.Status = state.MaterializationFailed
			m.Error = missing.Error()
			errs = append(errs, missing)
			out = append(out, m)
			continue
		}
		m.Status = state.MaterializationSuccess
		m.Metadata = g.Metadata(s.cfg.Dataset)
		out = append(out, m)
	}

	logger.Info("extraction completed",
		slog.Int("tables", len(tables)),
		slog.Duration("duration", completed.Sub(started)))
	return out, errors.Join(errs...)
}

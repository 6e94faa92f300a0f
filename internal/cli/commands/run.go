package commands

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/eltpipe/internal/cli/output"
	"github.com/leapstack-labs/eltpipe/internal/extract"
	"github.com/leapstack-labs/eltpipe/internal/pipeline"
	"github.com/leapstack-labs/eltpipe/internal/state"
	"github.com/spf13/cobra"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Job    string
	Select string
	Parse  bool

	// extractOnly lets the run proceed without a dbt manifest.
	extractOnly bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline job",
		Long: `Execute a job: extract the raw dataset, then build the dbt project.

Steps run in dependency order; independent steps run concurrently. When a step
fails, every step downstream of it is skipped and the run is recorded as
failed. Every asset outcome is stored in the run history (see 'eltpipe runs').`,
		Example: `  # Run the default job
  eltpipe run

  # Run a named job
  eltpipe run --job marts_only

  # Rebuild the carts resource and everything downstream
  eltpipe run --select fakestore/carts+

  # Refresh the dbt manifest first, report as JSON
  eltpipe run --parse -o json`,
		Aliases: []string{"materialize"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Job, "job", "j", "", "Job to run (default: the configured job)")
	cmd.Flags().StringVarP(&opts.Select, "select", "s", "", "Override the job's asset selection")
	cmd.Flags().BoolVar(&opts.Parse, "parse", false, "Run dbt parse before reading the manifest")

	return cmd
}

// NewExtractCommand creates the extract command, a shortcut for
// run --select group:extraction.
func NewExtractCommand() *cobra.Command {
	opts := &RunOptions{Select: "group:" + extract.Group, extractOnly: true}

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Load the raw dataset only",
		Long: `Run the extraction step alone: fetch every configured resource from
the REST API into the raw dataset, without building the dbt project.

The dbt manifest is not required: on a fresh project where dbt parse has
never run, only the extraction assets are loaded.`,
		Example: `  eltpipe extract`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Parse, "parse", false, "Run dbt parse before reading the manifest")
	return cmd
}

func runPipeline(cmd *cobra.Command, opts *RunOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cmdCtx.Close()

	ctx := cmd.Context()
	load := cmdCtx.LoadDefinitions
	if opts.extractOnly {
		load = cmdCtx.LoadExtractDefinitions
	}
	if err := load(ctx, opts.Parse); err != nil {
		return err
	}
	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}

	job := opts.Job
	if job == "" {
		job = cmdCtx.Cfg.Job.Name
	}

	executor := pipeline.NewExecutor(cmdCtx.Defs, store, cmdCtx.Cfg.Environment, cmdCtx.Logger)
	result, runErr := executor.RunJob(ctx, job, opts.Select)
	if result == nil {
		return runErr
	}

	out := buildRunOutput(result.Run, result.Materializations)
	if err := renderRun(cmdCtx.Renderer, out); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("run %s failed: %w", result.Run.ID, runErr)
	}
	return nil
}

func buildRunOutput(run *state.Run, ms []pipeline.Materialization) output.RunOutput {
	out := output.RunOutput{
		Run:              runInfo(run),
		Materializations: make([]output.MaterializationInfo, 0, len(ms)),
	}
	for _, m := range ms {
		out.Materializations = append(out.Materializations, output.MaterializationInfo{
			Asset:      m.Key.String(),
			Step:       m.Step,
			Status:     string(m.Status),
			Error:      m.Error,
			DurationMS: m.Duration().Milliseconds(),
			Metadata:   m.Metadata,
		})
	}
	out.Summary = summarize(out.Materializations)
	return out
}

func runInfo(run *state.Run) output.RunInfo {
	return output.RunInfo{
		ID:          run.ID,
		Job:         run.Job,
		Environment: run.Environment,
		Status:      string(run.Status),
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		DurationMS:  run.Duration().Milliseconds(),
		Error:       run.Error,
	}
}

func summarize(ms []output.MaterializationInfo) output.Summary {
	var s output.Summary
	for _, m := range ms {
		switch state.MaterializationStatus(m.Status) {
		case state.MaterializationSuccess:
			s.Success++
		case state.MaterializationFailed:
			s.Failed++
		case state.MaterializationSkipped:
			s.Skipped++
		}
	}
	return s
}

// renderRun prints one status line per asset followed by the run summary.
func renderRun(r *output.Renderer, out output.RunOutput) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, fmt.Sprintf("Run %s", out.Run.ID))
	for _, m := range out.Materializations {
		detail := m.Error
		if detail == "" && m.Status == string(state.MaterializationSuccess) {
			detail = (time.Duration(m.DurationMS) * time.Millisecond).String()
		}
		r.StatusLine(m.Asset, m.Status, detail)
	}
	r.Println("")

	summary := fmt.Sprintf("%d succeeded, %d failed, %d skipped in %s",
		out.Summary.Success, out.Summary.Failed, out.Summary.Skipped,
		(time.Duration(out.Run.DurationMS) * time.Millisecond).String())

	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(output.FormatKeyValue("Job", out.Run.Job))
		r.Println(output.FormatKeyValue("Environment", out.Run.Environment))
		r.Println(output.FormatKeyValue("Status", out.Run.Status))
		r.Println(output.FormatKeyValue("Summary", summary))
		return nil
	}

	if out.Run.Status == string(state.RunStatusCompleted) {
		r.Success(fmt.Sprintf("%s completed: %s", out.Run.Job, summary))
	} else {
		r.Error(fmt.Sprintf("%s %s: %s", out.Run.Job, out.Run.Status, summary))
	}
	return nil
}

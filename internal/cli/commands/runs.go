package commands

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/eltpipe/internal/cli/output"
	"github.com/leapstack-labs/eltpipe/internal/state"
	"github.com/spf13/cobra"
)

const defaultRunsLimit = 20

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show run history",
		Long: `List recent runs, most recent first. Given a run ID, show the
outcome of every asset in that run.`,
		Example: `  # Recent runs
  eltpipe runs --limit 5

  # One run's assets
  eltpipe runs 3f2a9c1e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runShowRun(cmd, args[0])
			}
			return runListRuns(cmd, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultRunsLimit, "Maximum number of runs to list")
	return cmd
}

func runListRuns(cmd *cobra.Command, limit int) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cmdCtx.Close()

	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}

	infos := make([]output.RunInfo, 0, len(runs))
	for _, run := range runs {
		infos = append(infos, runInfo(run))
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(infos)
	}

	r.Header(1, "Runs")
	if len(infos) == 0 {
		r.Println(r.Muted("No runs recorded yet."))
		return nil
	}
	rows := make([][]string, 0, len(infos))
	for _, run := range infos {
		rows = append(rows, []string{
			run.ID,
			run.Job,
			run.Environment,
			run.Status,
			run.StartedAt.Local().Format(time.DateTime),
			(time.Duration(run.DurationMS) * time.Millisecond).String(),
		})
	}
	r.Table([]string{"ID", "Job", "Env", "Status", "Started", "Duration"}, rows)
	return nil
}

func runShowRun(cmd *cobra.Command, id string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cmdCtx.Close()

	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	ms, err := store.ListMaterializations(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list materializations: %w", err)
	}

	out := output.RunOutput{
		Run:              runInfo(run),
		Materializations: make([]output.MaterializationInfo, 0, len(ms)),
	}
	for _, m := range ms {
		out.Materializations = append(out.Materializations, storedMaterialization(m))
	}
	out.Summary = summarize(out.Materializations)
	return renderRun(cmdCtx.Renderer, out)
}

func storedMaterialization(m *state.Materialization) output.MaterializationInfo {
	info := output.MaterializationInfo{
		Asset:    m.AssetKey,
		Step:     m.Step,
		Status:   string(m.Status),
		Error:    m.Error,
		Metadata: m.Metadata,
	}
	if m.CompletedAt != nil {
		info.DurationMS = m.CompletedAt.Sub(m.StartedAt).Milliseconds()
	}
	return info
}

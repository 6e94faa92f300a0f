package commands

import (
	"strings"

	"github.com/leapstack-labs/eltpipe/internal/asset"
	"github.com/leapstack-labs/eltpipe/internal/cli/output"
	"github.com/leapstack-labs/eltpipe/internal/pipeline"
	"github.com/spf13/cobra"
)

// NewAssetsCommand creates the assets command.
func NewAssetsCommand() *cobra.Command {
	var (
		parse bool
		sel   string
	)

	cmd := &cobra.Command{
		Use:     "assets",
		Aliases: []string{"list", "ls"},
		Short:   "List every asset the pipeline produces",
		Long: `List asset specs from both steps: the extraction resources and
the dbt models, seeds and snapshots from the manifest.

Each asset shows its group, compute kind and dependencies. Dependencies that
no step produces are marked external.`,
		Example: `  # List all assets
  eltpipe assets

  # Only the marts and what they depend on
  eltpipe assets --select +group:marts

  # Output as JSON
  eltpipe assets -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAssets(cmd, sel, parse)
		},
	}

	cmd.Flags().StringVarP(&sel, "select", "s", "", "Asset selection (e.g. group:marts, fakestore/carts+)")
	cmd.Flags().BoolVar(&parse, "parse", false, "Run dbt parse before reading the manifest")
	return cmd
}

func runAssets(cmd *cobra.Command, sel string, parse bool) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cmdCtx.Close()

	if err := cmdCtx.LoadDefinitions(cmd.Context(), parse); err != nil {
		return err
	}

	out, err := buildAssetsOutput(cmdCtx.Defs, sel)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, "Assets")
	rows := make([][]string, 0, len(out.Assets))
	for _, a := range out.Assets {
		deps := strings.Join(a.Deps, ", ")
		if len(a.ExternalDeps) > 0 {
			ext := "external: " + strings.Join(a.ExternalDeps, ", ")
			if deps != "" {
				deps += "; "
			}
			deps += ext
		}
		rows = append(rows, []string{a.Key, a.Step, a.Group, a.Kind, deps})
	}
	r.Table([]string{"Asset", "Step", "Group", "Kind", "Deps"}, rows)
	r.Println("")

	r.Header(2, "Jobs")
	jobRows := make([][]string, 0, len(out.Jobs))
	for _, j := range out.Jobs {
		jobRows = append(jobRows, []string{j.Name, j.Selection, j.Description})
	}
	r.Table([]string{"Job", "Selection", "Description"}, jobRows)
	return nil
}

func buildAssetsOutput(defs *pipeline.Definitions, sel string) (output.AssetsOutput, error) {
	specs := defs.Specs()
	if sel != "" {
		s, err := pipeline.ParseSelection(sel)
		if err != nil {
			return output.AssetsOutput{}, err
		}
		keys, err := defs.Resolve(s)
		if err != nil {
			return output.AssetsOutput{}, err
		}
		specs = make([]asset.Spec, 0, len(keys))
		for _, k := range keys {
			spec, _ := defs.Spec(k)
			specs = append(specs, spec)
		}
	}

	out := output.AssetsOutput{
		Assets:   make([]output.AssetInfo, 0, len(specs)),
		External: asset.Strings(defs.ExternalDeps()),
		Jobs:     make([]output.JobInfo, 0, len(defs.Jobs)),
	}
	for _, spec := range specs {
		info := output.AssetInfo{
			Key:         spec.Key.String(),
			Step:        spec.Step,
			Group:       spec.Group,
			Kind:        spec.Kind,
			Description: spec.Description,
			Deps:        []string{},
		}
		for _, dep := range spec.Deps {
			if defs.IsExternal(dep) {
				info.ExternalDeps = append(info.ExternalDeps, dep.String())
				continue
			}
			info.Deps = append(info.Deps, dep.String())
		}
		out.Assets = append(out.Assets, info)
	}
	for _, j := range defs.Jobs {
		out.Jobs = append(out.Jobs, output.JobInfo{Name: j.Name, Description: j.Description, Selection: j.Selection})
	}
	return out, nil
}

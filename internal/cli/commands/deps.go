package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/eltpipe/internal/asset"
	"github.com/leapstack-labs/eltpipe/internal/cli/output"
	"github.com/leapstack-labs/eltpipe/internal/transform"
	"github.com/spf13/cobra"
)

// NewDepsCommand creates the deps command.
func NewDepsCommand() *cobra.Command {
	var (
		parse     bool
		addedOnly bool
	)

	cmd := &cobra.Command{
		Use:   "deps [model...]",
		Short: "Explain how dbt dependencies map onto extraction assets",
		Long: `Show, for each dbt node, the dependencies dbt declares on its own
and the extraction assets added for its source references.

dbt names a raw table by its source reference, e.g.
source.fakestoreapi.fakestore.carts__products. The pipeline folds child tables
onto the resource that produced them, so that model waits on fakestore/carts.`,
		Example: `  # Explain every model
  eltpipe deps

  # Explain specific models
  eltpipe deps stg_carts_products fct_sales

  # Only models that gained extraction dependencies
  eltpipe deps --added`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(cmd, args, parse, addedOnly)
		},
	}

	cmd.Flags().BoolVar(&parse, "parse", false, "Run dbt parse before reading the manifest")
	cmd.Flags().BoolVar(&addedOnly, "added", false, "Only show nodes with translated dependencies")
	return cmd
}

func runDeps(cmd *cobra.Command, names []string, parse, addedOnly bool) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cmdCtx.Close()

	if err := cmdCtx.LoadDefinitions(cmd.Context(), parse); err != nil {
		return err
	}

	infos, err := collectDeps(cmdCtx.Transform, names, addedOnly)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(infos)
	case output.ModeMarkdown:
		r.Header(1, "Dependencies")
		for _, info := range infos {
			r.Println(output.FormatHeader(2, info.Node))
			r.Println(output.FormatKeyValue("dbt", joinOrNone(info.Defaults)))
			r.Println(output.FormatKeyValue("extraction", joinOrNone(info.Extraction)))
			r.Println(output.FormatKeyValue("added", joinOrNone(info.Added)))
			r.Println(output.FormatKeyValue("deps", joinOrNone(info.Deps)))
			r.Println("")
		}
	default:
		r.Header(1, "Dependencies")
		rows := make([][]string, 0, len(infos))
		for _, info := range infos {
			rows = append(rows, []string{info.Node, joinOrNone(info.Defaults), joinOrNone(info.Added), joinOrNone(info.Deps)})
		}
		r.Table([]string{"Node", "dbt", "Added", "Deps"}, rows)
	}
	return nil
}

func collectDeps(tr *transform.Step, names []string, addedOnly bool) ([]output.DepsInfo, error) {
	var explanations []transform.Explanation
	if len(names) == 0 {
		explanations = tr.Explanations()
	} else {
		for _, name := range names {
			e, ok := tr.Explain(name)
			if !ok {
				return nil, fmt.Errorf("unknown dbt node %q", name)
			}
			explanations = append(explanations, e)
		}
	}

	infos := make([]output.DepsInfo, 0, len(explanations))
	for _, e := range explanations {
		added := e.Added()
		if addedOnly && len(added) == 0 {
			continue
		}
		infos = append(infos, output.DepsInfo{
			Node:       e.Key.String(),
			UniqueID:   e.Node.UniqueID,
			Defaults:   keyStrings(e.Defaults),
			Extraction: keyStrings(e.Extraction),
			Added:      keyStrings(added),
			Deps:       keyStrings(e.Deps),
		})
	}
	return infos, nil
}

func keyStrings(keys []asset.Key) []string {
	if len(keys) == 0 {
		return []string{}
	}
	return asset.Strings(keys)
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ", ")
}

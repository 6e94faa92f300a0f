package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/eltpipe/internal/asset"
	"github.com/leapstack-labs/eltpipe/internal/cli/output"
	"github.com/leapstack-labs/eltpipe/internal/pipeline"
	"github.com/spf13/cobra"
)

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	var parse bool

	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Show the asset dependency graph",
		Long: `Display the asset graph grouped by execution level.

Assets on the same level have no dependencies on each other. Extraction
assets form level 0; dbt models follow in dependency order. Dependencies on
assets no step produces are listed as external and never scheduled.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format (agent-friendly)`,
		Example: `  # Show the DAG
  eltpipe dag

  # Output as JSON
  eltpipe dag --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDAG(cmd, parse)
		},
	}

	cmd.Flags().BoolVar(&parse, "parse", false, "Run dbt parse before reading the manifest")
	return cmd
}

func runDAG(cmd *cobra.Command, parse bool) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cmdCtx.Close()

	if err := cmdCtx.LoadDefinitions(cmd.Context(), parse); err != nil {
		return err
	}

	out, err := buildDAGOutput(cmdCtx.Defs)
	if err != nil {
		return fmt.Errorf("failed to get execution levels: %w", err)
	}

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(out)
	case output.ModeMarkdown:
		dagMarkdown(r, out)
	default:
		dagText(r, out)
	}
	return nil
}

func buildDAGOutput(defs *pipeline.Definitions) (output.DAGOutput, error) {
	levels, err := defs.AssetLevels()
	if err != nil {
		return output.DAGOutput{}, err
	}

	graph := defs.Graph()
	out := output.DAGOutput{
		Levels:      make([]output.DAGLevel, 0, len(levels)),
		External:    asset.Strings(defs.ExternalDeps()),
		TotalAssets: graph.Len(),
		TotalEdges:  graph.EdgeCount(),
	}
	for i, level := range levels {
		l := output.DAGLevel{Level: i, Assets: make([]output.DAGNode, 0, len(level))}
		for _, spec := range level {
			id := spec.Key.String()
			l.Assets = append(l.Assets, output.DAGNode{
				Key:       id,
				Step:      spec.Step,
				DependsOn: nonNil(graph.Parents(id)),
				UsedBy:    nonNil(graph.Children(id)),
			})
		}
		out.Levels = append(out.Levels, l)
	}
	return out, nil
}

// dagText outputs DAG in styled text format.
func dagText(r *output.Renderer, out output.DAGOutput) {
	styles := r.Styles()

	r.Header(1, "Asset Graph")

	for _, level := range out.Levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", level.Level)))
		for _, node := range level.Assets {
			r.Printf("  %s %s\n", styles.ModelPath.Render(node.Key), styles.Muted.Render("("+node.Step+")"))
			if len(node.DependsOn) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("depends on:"), strings.Join(node.DependsOn, ", "))
			}
			if len(node.UsedBy) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("used by:"), strings.Join(node.UsedBy, ", "))
			}
		}
		r.Println("")
	}

	if len(out.External) > 0 {
		r.Println(styles.Header2.Render("External:"))
		for _, key := range out.External {
			r.Printf("  %s\n", styles.Muted.Render(key))
		}
		r.Println("")
	}

	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d assets, %d dependencies", out.TotalAssets, out.TotalEdges)))
}

// dagMarkdown outputs DAG in markdown format.
func dagMarkdown(r *output.Renderer, out output.DAGOutput) {
	r.Println(output.FormatHeader(1, "Asset Graph"))
	r.Println("")

	for _, level := range out.Levels {
		r.Println(output.FormatHeader(2, fmt.Sprintf("Level %d", level.Level)))
		for _, node := range level.Assets {
			r.Printf("- %s (%s)\n", node.Key, node.Step)
			if len(node.DependsOn) > 0 {
				r.Printf("  - depends on: %s\n", strings.Join(node.DependsOn, ", "))
			}
			if len(node.UsedBy) > 0 {
				r.Printf("  - used by: %s\n", strings.Join(node.UsedBy, ", "))
			}
		}
		r.Println("")
	}

	if len(out.External) > 0 {
		r.Println(output.FormatHeader(2, "External"))
		r.Println(output.FormatList(out.External))
		r.Println("")
	}

	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Total Assets", fmt.Sprintf("%d", out.TotalAssets)))
	r.Println(output.FormatKeyValue("Total Dependencies", fmt.Sprintf("%d", out.TotalEdges)))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

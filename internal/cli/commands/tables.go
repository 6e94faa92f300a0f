package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/eltpipe/internal/cli/output"
	"github.com/leapstack-labs/eltpipe/internal/extract"
	"github.com/leapstack-labs/eltpipe/internal/resource"
	"github.com/leapstack-labs/eltpipe/internal/translate"
	"github.com/spf13/cobra"
)

// NewTablesCommand creates the tables command.
func NewTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "Show the raw dataset loaded into DuckDB",
		Long: `List the tables of the raw dataset grouped by the resource that
produced them, with row counts. Child tables such as carts__products are
folded onto their parent resource; loader bookkeeping tables are hidden.

The database is opened read-only.`,
		Example: `  eltpipe tables
  eltpipe tables -o json`,
		RunE: runTables,
	}
}

func runTables(cmd *cobra.Command, _ []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cmdCtx.Close()

	out, err := collectTables(cmd.Context(), cmdCtx.Warehouse, cmdCtx.Namespace(), cmdCtx.Cfg.Extract.Dataset)
	if err != nil {
		return err
	}
	out.Database = cmdCtx.Cfg.DatabasePath

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, fmt.Sprintf("Dataset %s", out.Dataset))
	if len(out.Groups) == 0 {
		r.Println(r.Muted("No tables loaded yet. Run 'eltpipe extract' first."))
		return nil
	}
	rows := make([][]string, 0, len(out.Groups))
	for _, g := range out.Groups {
		names := make([]string, 0, len(g.Tables))
		for _, t := range g.Tables {
			names = append(names, fmt.Sprintf("%s (%d)", t.Name, t.Rows))
		}
		rows = append(rows, []string{g.Asset, strings.Join(names, ", "), strconv.FormatInt(g.Rows, 10)})
	}
	r.Table([]string{"Asset", "Tables", "Rows"}, rows)
	return nil
}

func collectTables(ctx context.Context, lister resource.TableLister, ns translate.Namespace, dataset string) (output.TablesOutput, error) {
	tables, err := lister.ListTables(ctx, dataset)
	if err != nil {
		return output.TablesOutput{}, fmt.Errorf("failed to list tables: %w", err)
	}

	out := output.TablesOutput{Dataset: dataset, Groups: []output.TableGroupInfo{}}
	for _, g := range extract.GroupTables(tables) {
		info := output.TableGroupInfo{
			Resource: g.Resource,
			Asset:    ns.Key(g.Resource).String(),
			Rows:     g.Rows(),
			Tables:   make([]output.TableInfo, 0, len(g.Tables)),
		}
		for _, t := range g.Tables {
			info.Tables = append(info.Tables, output.TableInfo{Name: t.Name, Rows: t.Rows})
		}
		out.Groups = append(out.Groups, info)
	}
	return out, nil
}

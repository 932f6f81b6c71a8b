package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/resolve"
	"github.com/sells-group/entity-enrich/pkg/notion"
)

var (
	resolveSheet   string
	resolveSummary bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <source>",
	Short: "Group a table's rows into unique entities without enriching",
	Long:  "Reads a CSV, TSV, XLSX or JSON file (local or ftp://), a notion://<database id> or salesforce://accounts source, and prints the deduplicated entities, resolution stats and warnings as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("resolve"); err != nil {
			return err
		}

		var nc notion.Client
		if cfg.Notion.Token != "" {
			nc = notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit))
		}
		tbl, _, err := openTable(cmd.Context(), args[0], resolveSheet, nc)
		if err != nil {
			return err
		}

		entities, stats, warnings := resolve.ResolveEntities(tbl.Rows, tbl.Columns)
		zap.L().Info("resolved entities",
			zap.Int("rows", stats.TotalRows),
			zap.Int("entities", stats.UniqueEntities),
			zap.Int("duplicates", stats.DuplicatesFound),
			zap.Int("warnings", len(warnings)),
		)

		out := struct {
			Entities []*model.Entity   `json:"entities,omitempty"`
			Stats    resolve.Stats     `json:"stats"`
			Warnings []resolve.Warning `json:"warnings,omitempty"`
		}{Stats: stats, Warnings: warnings}
		if !resolveSummary {
			out.Entities = entities
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	resolveCmd.Flags().BoolVar(&resolveSummary, "summary", false, "print stats and warnings only")
	rootCmd.AddCommand(resolveCmd)
}

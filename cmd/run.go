package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/cost"
	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/pipeline"
	"github.com/sells-group/entity-enrich/internal/resolve"
	"github.com/sells-group/entity-enrich/internal/tabular"
)

var (
	runBudget      int
	runConcurrency int
	runEstimate    bool
	runOut         string
	runSheet       string
	runWriteBack   bool
	runResults     string
)

var runCmd = &cobra.Command{
	Use:   "run <source>",
	Short: "Resolve and enrich a table",
	Long: `Reads a CSV, TSV, XLSX or JSON file (local or ftp://), a
notion://<database id> or a salesforce://accounts source, resolves its rows
into unique entities, enriches each entity once and fills the blank
cells of every row that referenced it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		tbl, nt, err := openTable(ctx, args[0], runSheet, env.Notion)
		if err != nil {
			return err
		}
		if runWriteBack && nt == nil {
			return eris.New("--write-back needs a notion:// or salesforce:// source")
		}

		concurrency := runConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}
		opts := runOptions{
			BudgetCents: runBudget,
			Concurrency: concurrency,
			Estimate:    runEstimate,
			Progress:    pipeline.NewReporter(os.Stderr),
		}
		if runWriteBack {
			opts.WriteBack = nt
		}

		report, err := runTable(ctx, env, tbl, opts)
		if err != nil {
			return err
		}

		if report.Result != nil {
			if runOut != "" {
				if err := writeTable(runOut, tbl, cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			if runResults != "" {
				if err := writeResults(runResults, report.Result); err != nil {
					return err
				}
			}
			// Per-entity detail goes to --results; stdout gets the summary.
			report.Result = summarize(report.Result)
		}
		if runOut == "-" {
			return nil
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

func init() {
	runCmd.Flags().IntVar(&runBudget, "budget", 0, "total budget in cents (default per-entity budget from config)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "entities in flight (default from config)")
	runCmd.Flags().BoolVar(&runEstimate, "estimate", false, "print the worst-case cost and exit without calling providers")
	runCmd.Flags().StringVar(&runOut, "out", "", "write the filled table to a .csv, .xlsx or .json file, or - for CSV on stdout")
	runCmd.Flags().StringVar(&runSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	runCmd.Flags().BoolVar(&runWriteBack, "write-back", false, "fill blank fields of the source Notion pages or Salesforce Accounts")
	runCmd.Flags().StringVar(&runResults, "results", "", "write per-entity results as JSON")
	rootCmd.AddCommand(runCmd)
}

// runOptions controls one table run.
type runOptions struct {
	BudgetCents int
	Concurrency int
	Estimate    bool
	Progress    pipeline.ProgressReporter
	// WriteBack, when set, receives the results after the table is filled.
	WriteBack writeBacker
}

// runReport is what a run prints.
type runReport struct {
	Stats        resolve.Stats      `json:"stats"`
	Warnings     []resolve.Warning  `json:"warnings,omitempty"`
	Estimate     *cost.Estimate     `json:"estimate,omitempty"`
	Result       *model.BatchResult `json:"result,omitempty"`
	CellsFilled  int                `json:"cells_filled"`
	PagesUpdated int                `json:"pages_updated,omitempty"`
	WriteBackErr string             `json:"write_back_error,omitempty"`
}

// runTable resolves tbl, then either estimates the run or enriches the
// entities and fills tbl in place.
func runTable(ctx context.Context, env *enrichEnv, tbl *tabular.Table, opts runOptions) (*runReport, error) {
	entities, stats, warnings := resolve.ResolveEntities(tbl.Rows, tbl.Columns)
	report := &runReport{Stats: stats, Warnings: warnings}
	for _, w := range warnings {
		zap.L().Debug("resolve warning", zap.String("row", w.RowID), zap.String("message", w.Message))
	}
	zap.L().Info("resolved entities",
		zap.Int("rows", stats.TotalRows),
		zap.Int("entities", stats.UniqueEntities),
		zap.Int("duplicates", stats.DuplicatesFound),
	)

	if opts.Estimate {
		est := env.Calc.EstimateBatch(len(entities), opts.BudgetCents, pricedProviders(env))
		report.Estimate = &est
		return report, nil
	}

	runner := env.Runner
	if opts.Progress != nil {
		runner = runner.WithProgress(opts.Progress)
	}
	result, err := runner.RunWaterfall(ctx, entities, opts.BudgetCents, opts.Concurrency)
	if err != nil {
		return nil, eris.Wrap(err, "run waterfall")
	}
	report.Result = result
	report.CellsFilled = tabular.Fill(tbl, result.PerEntity)

	zap.L().Info("run complete",
		zap.Int("done", result.DoneEntities),
		zap.Int("failed", result.FailedEntities),
		zap.Int("skipped", result.SkippedEntities),
		zap.Int("cost_cents", result.TotalCostCents),
		zap.Int("duplicates_avoided", result.DuplicatesAvoided),
		zap.Int("cells_filled", report.CellsFilled),
		zap.Bool("cancelled", result.Cancelled),
	)

	if opts.WriteBack != nil {
		// Finished entities are written back even after a cancel.
		n, err := opts.WriteBack.WriteBack(context.WithoutCancel(ctx), result.PerEntity)
		report.PagesUpdated = n
		if err != nil {
			zap.L().Error("write-back failed", zap.Error(err))
			report.WriteBackErr = err.Error()
		}
	}
	return report, nil
}

func pricedProviders(env *enrichEnv) []cost.Priced {
	providers := env.Runner.Executor().Providers()
	out := make([]cost.Priced, len(providers))
	for i, p := range providers {
		out[i] = p
	}
	return out
}

// summarize drops per-entity detail from a batch result.
func summarize(r *model.BatchResult) *model.BatchResult {
	s := *r
	s.PerEntity = nil
	return &s
}

func writeResults(path string, r *model.BatchResult) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	defer f.Close() //nolint:errcheck
	return printJSON(f, r.PerEntity)
}

package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/model"
)

var (
	enqueueBudget      int
	enqueueConcurrency int
	enqueueSheet       string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <source>",
	Short: "Queue a table for enrichment by a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		tbl, _, err := openTable(ctx, args[0], enqueueSheet, env.Notion)
		if err != nil {
			return err
		}

		q, closeQueue, err := openQueue(env.Store)
		if err != nil {
			return err
		}
		defer closeQueue()

		job := &model.Job{
			Rows:        tbl.Rows,
			Columns:     tbl.Columns,
			BudgetCents: enqueueBudget,
			Concurrency: enqueueConcurrency,
		}
		if err := q.Enqueue(ctx, job); err != nil {
			return err
		}

		zap.L().Info("job queued",
			zap.String("job", job.ID),
			zap.Int("rows", len(job.Rows)),
			zap.String("backend", cfg.Queue.Backend),
		)
		return printJSON(cmd.OutOrStdout(), map[string]any{"job_id": job.ID, "status": job.Status})
	},
}

func init() {
	enqueueCmd.Flags().IntVar(&enqueueBudget, "budget", 0, "total budget in cents (default per-entity budget from config)")
	enqueueCmd.Flags().IntVar(&enqueueConcurrency, "concurrency", 0, "entities in flight (default from config)")
	enqueueCmd.Flags().StringVar(&enqueueSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	rootCmd.AddCommand(enqueueCmd)
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/entity-enrich/internal/pipeline"
	"github.com/sells-group/entity-enrich/internal/server"
)

var (
	servePort       int
	serveWithWorker bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrichment API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		q, closeQueue, err := openQueue(env.Store)
		if err != nil {
			return err
		}
		defer closeQueue()

		collector := newCollector(q, cfg.Monitoring)

		port := cfg.Server.Port
		if servePort > 0 {
			port = servePort
		}
		srv := server.New(server.Config{
			Port:     port,
			AllowAll: cfg.Server.AllowAllOrigins,
			MaxRows:  cfg.Server.MaxRows,
		}, env.Runner, q, env.Registry,
			server.WithMonitor(collector, cfg.Monitoring.LookbackWindowHours),
		)

		g, gctx := errgroup.WithContext(ctx)
		startChecker(gctx, collector, cfg.Monitoring)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if serveWithWorker {
			g.Go(func() error {
				return pipeline.NewWorker(q, env.Runner, pollInterval()).Run(gctx)
			})
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "also process queued jobs in this process")
	rootCmd.AddCommand(serveCmd)
}

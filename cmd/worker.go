package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/entity-enrich/internal/pipeline"
)

var workerMetricsPort int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued enrichment jobs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		q, closeQueue, err := openQueue(env.Store)
		if err != nil {
			return err
		}
		defer closeQueue()

		g, gctx := errgroup.WithContext(ctx)
		startChecker(gctx, newCollector(q, cfg.Monitoring), cfg.Monitoring)
		g.Go(func() error {
			return pipeline.NewWorker(q, env.Runner, pollInterval()).Run(gctx)
		})
		if workerMetricsPort > 0 {
			g.Go(func() error {
				return serveMetrics(gctx, workerMetricsPort, env.Registry)
			})
		}
		return g.Wait()
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerMetricsPort, "metrics-port", 0, "serve /metrics on this port (0 disables)")
	rootCmd.AddCommand(workerCmd)
}

// serveMetrics exposes the registry until ctx is done.
func serveMetrics(ctx context.Context, port int, reg prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("metrics: listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

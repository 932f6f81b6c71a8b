package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/resolve"
)

// JobQueue supplies enrichment jobs to a Worker. Dequeue returns nil when
// no job is waiting.
type JobQueue interface {
	Dequeue(ctx context.Context) (*model.Job, error)
	Progress(ctx context.Context, jobID string, progress int) error
	Ack(ctx context.Context, jobID string, result *model.BatchResult, runErr error) error
}

// Worker pulls jobs from a queue, resolves their rows into entities and
// runs the waterfall over them.
type Worker struct {
	queue        JobQueue
	runner       *Runner
	pollInterval time.Duration
}

// NewWorker creates a Worker. pollInterval is how long to wait after
// finding the queue empty.
func NewWorker(queue JobQueue, runner *Runner, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Worker{queue: queue, runner: runner, pollInterval: pollInterval}
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	zap.L().Info("worker: started", zap.Duration("poll_interval", w.pollInterval))
	for {
		worked, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			zap.L().Info("worker: stopped")
			return nil
		}
		if err != nil {
			zap.L().Error("worker: job failed", zap.Error(err))
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			zap.L().Info("worker: stopped")
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

// RunOnce takes at most one job and processes it. It reports whether a job
// was found.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, eris.Wrap(err, "worker: dequeue")
	}
	if job == nil {
		return false, nil
	}

	log := zap.L().With(zap.String("job", job.ID))
	result, runErr := w.process(ctx, job)
	if runErr != nil {
		log.Warn("worker: job did not complete", zap.Error(runErr))
	}

	if err := w.queue.Ack(context.WithoutCancel(ctx), job.ID, result, runErr); err != nil {
		return true, eris.Wrapf(err, "worker: ack job %s", job.ID)
	}
	log.Info("worker: job acked", zap.Bool("ok", runErr == nil))
	return true, runErr
}

func (w *Worker) process(ctx context.Context, job *model.Job) (*model.BatchResult, error) {
	entities, stats, warnings := resolve.ResolveEntities(job.Rows, job.Columns)
	zap.L().Info("worker: resolved job",
		zap.String("job", job.ID),
		zap.Int("rows", stats.TotalRows),
		zap.Int("entities", stats.UniqueEntities),
		zap.Int("duplicates", stats.DuplicatesFound),
		zap.Int("warnings", len(warnings)),
	)

	runner := w.runner.WithProgress(ProgressFunc(func(ctx context.Context, done, total int) {
		if err := w.queue.Progress(ctx, job.ID, Percent(done, total)); err != nil {
			zap.L().Debug("worker: progress update failed", zap.String("job", job.ID), zap.Error(err))
		}
	}))

	result, err := runner.RunWaterfall(ctx, entities, job.BudgetCents, job.Concurrency)
	if err != nil {
		return nil, err
	}
	if result.Cancelled {
		return result, eris.New("worker: job cancelled before completion")
	}
	return result, nil
}

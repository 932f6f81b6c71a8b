// Package pipeline runs the enrichment waterfall over a batch of resolved
// entities and drives queued jobs through it.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/entity-enrich/internal/cost"
	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/store"
	"github.com/sells-group/entity-enrich/internal/waterfall"
	"github.com/sells-group/entity-enrich/internal/waterfall/provider"
)

// DefaultConcurrency is used when a run asks for none.
const DefaultConcurrency = 5

// bulkCache is implemented by caches that can write many entries at once.
type bulkCache interface {
	SetMany(ctx context.Context, entries []store.CacheEntry) error
}

// Runner fans a batch of entities out over the waterfall executor with
// bounded concurrency.
type Runner struct {
	exec     *waterfall.Executor
	calc     *cost.Calculator
	metrics  *Metrics
	progress ProgressReporter
	warm     bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMetrics records entity outcomes on m.
func WithMetrics(m *Metrics) RunnerOption { return func(r *Runner) { r.metrics = m } }

// WithProgressReporter sets the default progress reporter.
func WithProgressReporter(p ProgressReporter) RunnerOption {
	return func(r *Runner) { r.progress = p }
}

// WithWarmup calls Warm on providers that support it before fanning out.
func WithWarmup(enabled bool) RunnerOption { return func(r *Runner) { r.warm = enabled } }

// NewRunner creates a Runner.
func NewRunner(exec *waterfall.Executor, calc *cost.Calculator, opts ...RunnerOption) *Runner {
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates())
	}
	r := &Runner{exec: exec, calc: calc}
	for _, o := range opts {
		o(r)
	}
	return r
}

// WithProgress returns a copy of r that reports to p.
func (r *Runner) WithProgress(p ProgressReporter) *Runner {
	c := *r
	c.progress = p
	return &c
}

// Executor returns the underlying waterfall executor.
func (r *Runner) Executor() *waterfall.Executor { return r.exec }

// RunWaterfall enriches entities with at most concurrency in flight. The
// batch budget is split evenly; a non-positive budget gives each entity the
// default allocation. Cancelling ctx stops dispatch, lets in-flight
// entities wind down, and returns what finished with Cancelled set.
func (r *Runner) RunWaterfall(ctx context.Context, entities []*model.Entity, budgetCents, concurrency int) (*model.BatchResult, error) {
	if r.exec == nil {
		return nil, eris.New("pipeline: runner has no executor")
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	total := len(entities)
	batch := &model.BatchResult{PerEntity: []model.EntityResult{}}
	if total == 0 {
		return batch, nil
	}

	perEntity := r.calc.Allocate(budgetCents, total)
	log := zap.L().With(zap.Int("entities", total), zap.Int("per_entity_cents", perEntity))
	log.Info("pipeline: starting waterfall",
		zap.Int("budget_cents", budgetCents),
		zap.Int("concurrency", concurrency),
	)
	start := time.Now()

	if r.warm && total > 1 {
		r.warmProviders(ctx)
	}

	results := make([]*model.EntityResult, total)
	var (
		done       int
		progressMu sync.Mutex
	)
	report := func() {
		progressMu.Lock()
		defer progressMu.Unlock()
		done++
		if r.progress != nil {
			r.progress.Progress(ctx, done, total)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, ent := range entities {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot freed after cancel must not start another entity.
			if gctx.Err() != nil {
				return nil
			}
			r.metrics.entityStarted()
			res := r.exec.Run(gctx, ent, waterfall.NewBudget(perEntity))
			r.metrics.ObserveEntity(res)
			results[i] = res
			report()
			return nil
		})
	}
	_ = g.Wait()

	var writes []store.CacheEntry
	for i, res := range results {
		if res == nil {
			batch.SkippedEntities++
			continue
		}
		batch.PerEntity = append(batch.PerEntity, *res)
		batch.TotalCostCents += res.CostCents
		if res.Status == model.EntityStatusDone {
			batch.DoneEntities++
		} else {
			batch.FailedEntities++
		}
		if n := len(entities[i].RowIDs); n > 1 {
			batch.DuplicatesAvoided += n - 1
		}
		if contributed(res) {
			writes = append(writes, store.CacheEntry{Key: res.NormalizedIdentifier, Data: res.Data})
		}
	}
	batch.Cancelled = ctx.Err() != nil

	if len(writes) > 0 {
		r.writeBack(context.WithoutCancel(ctx), writes)
	}

	log.Info("pipeline: waterfall complete",
		zap.Int("done", batch.DoneEntities),
		zap.Int("failed", batch.FailedEntities),
		zap.Int("skipped", batch.SkippedEntities),
		zap.Int("total_cost_cents", batch.TotalCostCents),
		zap.Bool("cancelled", batch.Cancelled),
		zap.Duration("elapsed", time.Since(start)),
	)
	return batch, nil
}

// contributed reports whether a non-cache stage changed the entity's data.
func contributed(res *model.EntityResult) bool {
	for _, sr := range res.Stages {
		if sr.Stage == model.StageCache || sr.Skipped {
			continue
		}
		if sr.FieldsFilled > 0 || len(sr.Conflicts) > 0 {
			return true
		}
	}
	return false
}

// writeBack persists fresh values under each entity's normalized key.
// Values that came from the cache keep their stored form so age decay is
// not applied twice.
func (r *Runner) writeBack(ctx context.Context, writes []store.CacheEntry) {
	cache := r.exec.Cache()
	if cache == nil {
		return
	}
	ttl := r.exec.Config().CacheTTL()

	for i := range writes {
		fresh := make(model.EnrichmentData, len(writes[i].Data))
		for f, v := range writes[i].Data {
			if v.Source != model.SourceCache && !v.IsEmpty() {
				fresh[f] = v
			}
		}
		prev, err := cache.Get(ctx, writes[i].Key)
		if err != nil {
			zap.L().Debug("pipeline: cache read before write-back failed", zap.String("key", writes[i].Key), zap.Error(err))
		}
		merged := prev.Clone()
		for f, v := range fresh {
			merged[f] = v
		}
		writes[i].Data = merged
		writes[i].TTL = ttl
	}

	if bc, ok := cache.(bulkCache); ok {
		if err := bc.SetMany(ctx, writes); err != nil {
			zap.L().Warn("pipeline: cache write-back failed", zap.Int("entries", len(writes)), zap.Error(err))
		}
		return
	}
	for _, w := range writes {
		if err := cache.Set(ctx, w.Key, w.Data, w.TTL); err != nil {
			zap.L().Warn("pipeline: cache write-back failed", zap.String("key", w.Key), zap.Error(err))
		}
	}
}

func (r *Runner) warmProviders(ctx context.Context) {
	warmed := make(map[provider.Warmer]bool)
	for _, p := range r.exec.Providers() {
		w, ok := p.(provider.Warmer)
		if !ok || warmed[w] {
			continue
		}
		warmed[w] = true
		if err := w.Warm(ctx); err != nil {
			zap.L().Warn("pipeline: provider warmup failed", zap.String("provider", p.Name()), zap.Error(err))
		}
	}
}

package waterfall

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/resilience"
	"github.com/sells-group/entity-enrich/internal/waterfall/provider"
)

// cacheProvider names the cache stage in stage results.
const cacheProvider = "cache"

// Cache stores merged entity data keyed by normalized identifier. Get
// returns nil data on a miss. Implementations must be safe for concurrent
// use.
type Cache interface {
	Get(ctx context.Context, key string) (model.EnrichmentData, error)
	Set(ctx context.Context, key string, data model.EnrichmentData, ttl time.Duration) error
}

// Observer receives every stage result as it is recorded.
type Observer interface {
	ObserveStage(res model.StageResult)
}

// Executor runs the staged waterfall for one entity at a time. It is safe
// for concurrent use across entities.
type Executor struct {
	cfg      *Config
	registry *provider.Registry
	cache    Cache
	retrier  *resilience.Retrier
	breakers *resilience.Breakers
	clock    resilience.Clock
	observer Observer
}

// Option configures an Executor.
type Option func(*Executor)

// WithCache enables the cache stage.
func WithCache(c Cache) Option { return func(x *Executor) { x.cache = c } }

// WithRetrier sets the retry policy for provider calls.
func WithRetrier(r *resilience.Retrier) Option { return func(x *Executor) { x.retrier = r } }

// WithBreakers short-circuits providers that keep failing across entities.
func WithBreakers(b *resilience.Breakers) Option { return func(x *Executor) { x.breakers = b } }

// WithClock injects the clock used for durations and cache decay.
func WithClock(c resilience.Clock) Option { return func(x *Executor) { x.clock = c } }

// WithObserver registers a stage observer.
func WithObserver(o Observer) Option { return func(x *Executor) { x.observer = o } }

// NewExecutor creates a waterfall executor.
func NewExecutor(cfg *Config, registry *provider.Registry, opts ...Option) *Executor {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if registry == nil {
		registry = provider.NewRegistry()
	}
	x := &Executor{
		cfg:      cfg,
		registry: registry,
		clock:    resilience.SystemClock,
	}
	for _, o := range opts {
		o(x)
	}
	if x.retrier == nil {
		x.retrier = resilience.NewRetrier(resilience.DefaultRetryConfig(), resilience.WithClock(x.clock))
	}
	return x
}

// Config returns the executor's waterfall config.
func (x *Executor) Config() *Config { return x.cfg }

// Cache returns the configured cache, if any.
func (x *Executor) Cache() Cache { return x.cache }

// Providers lists providers in waterfall order.
func (x *Executor) Providers() []provider.Provider {
	var out []provider.Provider
	for _, stage := range model.Stages {
		if stage == model.StageCache {
			continue
		}
		out = append(out, x.providersFor(stage)...)
	}
	return out
}

func (x *Executor) providersFor(stage model.Stage) []provider.Provider {
	names, ok := x.cfg.StageProviders(stage)
	if !ok {
		return x.registry.ForStage(stage)
	}
	var out []provider.Provider
	for _, n := range names {
		if p := x.registry.Get(n); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Run walks the entity through cache, free, cheap and premium stages,
// merging each result into ent.Data as it arrives. It never returns an
// error: failures are recorded on the result and degrade its status.
func (x *Executor) Run(ctx context.Context, ent *model.Entity, budget *Budget) *model.EntityResult {
	if budget == nil {
		budget = NewBudget(0)
	}
	r := &entityRun{x: x, budget: budget}

	if err := validateEntity(ent); err != nil {
		res := &model.EntityResult{Status: model.EntityStatusFailed, Notes: []string{err.Error()}}
		if ent != nil {
			res.EntityID = ent.ID
			res.Type = ent.Type
			res.NormalizedIdentifier = ent.NormalizedIdentifier
			res.Data = ent.Data
			res.TargetCells = ent.TargetCells
		}
		res.RemainingBudgetCents = budget.Remaining()
		return res
	}

	if ent.Data == nil {
		ent.Data = make(model.EnrichmentData)
	}
	r.ent = ent
	r.res = &model.EntityResult{
		EntityID:             ent.ID,
		Type:                 ent.Type,
		NormalizedIdentifier: ent.NormalizedIdentifier,
		TargetCells:          ent.TargetCells,
		Status:               model.EntityStatusDone,
	}
	r.log = zap.L().With(zap.String("entity", ent.ID), zap.String("identifier", ent.NormalizedIdentifier))

	r.cacheStage(ctx)
	for _, stage := range model.Stages {
		if stage == model.StageCache {
			continue
		}
		r.providerStage(ctx, stage)
	}
	return r.finish()
}

func validateEntity(ent *model.Entity) error {
	switch {
	case ent == nil:
		return &resilience.ValidationError{Message: "entity is nil"}
	case ent.NormalizedIdentifier == "":
		return &resilience.ValidationError{Message: fmt.Sprintf("entity %s has no normalized identifier", ent.ID)}
	case len(ent.TargetCells) == 0:
		return &resilience.ValidationError{Message: fmt.Sprintf("entity %s has no target cells", ent.ID)}
	}
	return nil
}

// entityRun is the mutable state of one Run call.
type entityRun struct {
	x         *Executor
	ent       *model.Entity
	budget    *Budget
	res       *model.EntityResult
	log       *zap.Logger
	errored   bool
	cancelled bool
}

func (r *entityRun) analyze() GapAnalysis {
	return AnalyzeGaps(r.ent.Data, r.ent.RequestedFields, r.x.cfg.Defaults.LowConfidenceThreshold)
}

func (r *entityRun) record(sr model.StageResult) {
	r.res.Stages = append(r.res.Stages, sr)
	if sr.Note != "" {
		r.res.Notes = append(r.res.Notes, sr.Note)
	}
	if r.x.observer != nil {
		r.x.observer.ObserveStage(sr)
	}
}

func (r *entityRun) skip(sr model.StageResult, kind, note string) {
	sr.Skipped = true
	sr.ErrorKind = kind
	sr.Note = note
	if kind == resilience.KindCanceled {
		r.cancelled = true
	}
	r.record(sr)
}

func (r *entityRun) cacheStage(ctx context.Context) {
	sr := model.StageResult{Stage: model.StageCache, Provider: cacheProvider, Source: model.SourceCache}
	if r.x.cache == nil {
		r.skip(sr, "", "cache skipped: not configured")
		return
	}
	if ctx.Err() != nil {
		r.skip(sr, resilience.KindCanceled, "cache skipped: run cancelled")
		return
	}

	start := r.x.clock.Now()
	cached, err := r.x.cache.Get(ctx, r.ent.NormalizedIdentifier)
	sr.DurationMs = r.x.clock.Now().Sub(start).Milliseconds()
	sr.Attempts = 1
	if err != nil {
		sr.Error = err.Error()
		sr.ErrorKind = resilience.Kind(err)
		sr.Note = "cache lookup failed: " + err.Error()
		r.log.Warn("waterfall: cache lookup failed", zap.Error(err))
		r.record(sr)
		return
	}
	if len(cached) == 0 {
		r.record(sr)
		return
	}

	now := r.x.clock.Now()
	hit := make(model.EnrichmentData, len(cached))
	for f, v := range cached {
		v.Source = model.SourceCache
		v.Confidence = EffectiveConfidence(v.Confidence, v.ObservedAt, now, r.x.cfg.Defaults.TimeDecay)
		hit[f] = v
	}
	r.apply(&sr, hit)
	r.log.Debug("waterfall: cache hit", zap.Int("fields", len(hit)))
	r.record(sr)
}

func (r *entityRun) providerStage(ctx context.Context, stage model.Stage) {
	providers := r.x.providersFor(stage)
	if len(providers) == 0 {
		r.skip(model.StageResult{Stage: stage}, "", fmt.Sprintf("%s stage skipped: no providers configured", stage))
		return
	}
	for _, p := range providers {
		r.attempt(ctx, stage, p)
	}
}

func (r *entityRun) attempt(ctx context.Context, stage model.Stage, p provider.Provider) {
	name := p.Name()
	sr := model.StageResult{Stage: stage, Provider: name, Source: p.Source()}

	if ctx.Err() != nil {
		r.skip(sr, resilience.KindCanceled, name+" skipped: run cancelled")
		return
	}

	gaps := r.analyze()
	if gaps.Complete() {
		r.skip(sr, "", name+" skipped: no gaps remaining")
		return
	}

	id := r.ent.Lookup()
	switch stage {
	case model.StageCheap:
		if !gaps.HasCompanyGap() {
			r.skip(sr, "", name+" skipped: no company field gaps")
			return
		}
	case model.StagePremium:
		if id.LinkedInURL() == "" {
			r.skip(sr, "", name+" skipped: no LinkedIn identifier")
			return
		}
	}

	if len(provider.Fills(p, gaps.Gaps)) == 0 {
		r.skip(sr, "", name+" skipped: cannot fill remaining gaps")
		return
	}
	if el, ok := p.(provider.Eligibility); ok {
		if eligible, reason := el.Eligible(id); !eligible {
			r.skip(sr, "", fmt.Sprintf("%s skipped: %s", name, reason))
			return
		}
	}

	cost := p.CostCents()
	if !r.budget.CanAfford(cost) {
		be := &resilience.BudgetExceededError{Provider: name, Requested: cost, Available: r.budget.Remaining()}
		sr.Error = be.Error()
		r.skip(sr, resilience.KindBudget, be.Error())
		return
	}

	var breaker *resilience.Breaker
	if r.x.breakers != nil {
		breaker = r.x.breakers.Get(name)
		if err := breaker.Allow(); err != nil {
			r.skip(sr, resilience.KindCircuitOpen, name+" skipped: circuit open after repeated failures")
			return
		}
	}

	start := r.x.clock.Now()
	data, attempts, err := resilience.DoVal(ctx, r.x.retrier, name, func(ctx context.Context) (model.EnrichmentData, error) {
		return p.Lookup(ctx, id)
	})
	sr.DurationMs = r.x.clock.Now().Sub(start).Milliseconds()
	sr.Attempts = attempts

	if err == nil || r.x.cfg.ChargesFailedAttempts() {
		if cerr := r.budget.Charge(name, cost); cerr == nil {
			sr.CostCents = cost
		}
	}
	if breaker != nil {
		breaker.Record(err)
	}

	if err != nil {
		sr.Error = err.Error()
		sr.ErrorKind = resilience.Kind(err)
		sr.Note = fmt.Sprintf("%s failed after %d attempt(s): %v", name, attempts, err)
		if sr.ErrorKind == resilience.KindCanceled || ctx.Err() != nil {
			r.cancelled = true
		} else {
			r.errored = true
		}
		r.log.Warn("waterfall: provider failed",
			zap.String("provider", name),
			zap.String("stage", string(stage)),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		r.record(sr)
		return
	}

	r.apply(&sr, r.stamp(data, p.Source()))
	if len(data) == 0 {
		sr.Note = name + " returned no data"
	}
	r.log.Debug("waterfall: provider done",
		zap.String("provider", name),
		zap.String("stage", string(stage)),
		zap.Int("filled", sr.FieldsFilled),
		zap.Int("cost_cents", sr.CostCents),
	)
	r.record(sr)
}

// stamp fills in provenance the provider left blank.
func (r *entityRun) stamp(data model.EnrichmentData, src model.EnrichmentSource) model.EnrichmentData {
	now := r.x.clock.Now()
	out := make(model.EnrichmentData, len(data))
	for f, v := range data {
		if v.Source == "" {
			v.Source = src
		}
		if v.ObservedAt.IsZero() {
			v.ObservedAt = now
		}
		v.Confidence = model.ClampConfidence(v.Confidence)
		out[f] = v
	}
	return out
}

// apply merges data into the entity and fills the merge outcome into sr.
func (r *entityRun) apply(sr *model.StageResult, data model.EnrichmentData) {
	merged := Merge(r.ent.Data, data)
	r.ent.Data = merged.Data
	sr.Data = data
	sr.FieldsFilled = len(merged.Added)
	sr.Conflicts = merged.Conflicts
}

func (r *entityRun) finish() *model.EntityResult {
	g := r.analyze()
	res := r.res
	res.Data = r.ent.Data
	res.Gaps = g.Gaps
	res.CompletionPercentage = g.CompletionPercentage
	res.CostCents = r.budget.Spent()
	res.RemainingBudgetCents = r.budget.Remaining()

	switch {
	case r.cancelled && !g.Complete():
		res.Status = model.EntityStatusFailed
		res.Notes = append(res.Notes, "run cancelled before the waterfall finished")
	case r.errored && len(g.Filled) == 0:
		res.Status = model.EntityStatusFailed
		res.Notes = append(res.Notes, "every attempted provider failed and no requested field was filled")
	default:
		res.Status = model.EntityStatusDone
	}

	r.log.Debug("waterfall: entity finished",
		zap.String("status", string(res.Status)),
		zap.Int("completion", res.CompletionPercentage),
		zap.Int("cost_cents", res.CostCents),
	)
	return res
}

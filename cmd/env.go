package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/config"
	"github.com/sells-group/entity-enrich/internal/cost"
	"github.com/sells-group/entity-enrich/internal/pipeline"
	"github.com/sells-group/entity-enrich/internal/resilience"
	"github.com/sells-group/entity-enrich/internal/store"
	"github.com/sells-group/entity-enrich/internal/waterfall"
	"github.com/sells-group/entity-enrich/internal/waterfall/provider"
	anthropicpkg "github.com/sells-group/entity-enrich/pkg/anthropic"
	"github.com/sells-group/entity-enrich/pkg/contactout"
	"github.com/sells-group/entity-enrich/pkg/google"
	"github.com/sells-group/entity-enrich/pkg/jina"
	"github.com/sells-group/entity-enrich/pkg/notion"
	"github.com/sells-group/entity-enrich/pkg/perplexity"
)

// enrichEnv holds the store, runner and clients shared by the run, worker
// and serve commands.
type enrichEnv struct {
	Store    store.Store
	Runner   *pipeline.Runner
	Calc     *cost.Calculator
	Metrics  *pipeline.Metrics
	Registry *prometheus.Registry
	Notion   notion.Client // nil without a token
}

// Close releases resources held by the environment.
func (e *enrichEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode, opens and migrates the store and
// builds the runner. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*enrichEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env, err := buildEnv(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

// buildEnv wires providers, resilience, metrics and the runner around an
// open store.
func buildEnv(c *config.Config, st store.Store) (*enrichEnv, error) {
	wcfg, err := waterfallConfig(c)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pipeline.NewMetrics(reg)

	calc := cost.NewCalculator(rates(c))
	providers := buildProviders(c, calc)
	if len(providers.List()) == 0 {
		zap.L().Warn("no providers configured, only cached data will be returned")
	}

	opts := []waterfall.Option{
		waterfall.WithRetrier(resilience.NewRetrier(retryConfig(c.Retry))),
		waterfall.WithObserver(metrics),
	}
	if c.Cache.Enabled {
		opts = append(opts, waterfall.WithCache(st))
	}
	if c.Circuit.Enabled {
		opts = append(opts, waterfall.WithBreakers(resilience.NewBreakers(breakerConfig(c.Circuit))))
	}

	exec := waterfall.NewExecutor(wcfg, providers, opts...)
	runner := pipeline.NewRunner(exec, calc, pipeline.WithMetrics(metrics), pipeline.WithWarmup(true))

	env := &enrichEnv{
		Store:    st,
		Runner:   runner,
		Calc:     calc,
		Metrics:  metrics,
		Registry: reg,
	}
	if c.Notion.Token != "" {
		env.Notion = notion.NewClient(c.Notion.Token, notion.WithRateLimit(c.Notion.RateLimit))
	}
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "enrich.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// buildProviders registers every provider whose credentials are present,
// priced from calc's rate table. The website provider and the LLM-backed
// providers need an Anthropic key.
func buildProviders(c *config.Config, calc *cost.Calculator) *provider.Registry {
	reg := provider.NewRegistry()
	p := c.Providers
	price := func(name string) int {
		cents, _ := calc.ProviderCents(name)
		return cents
	}

	var extractor *provider.Extractor
	if p.Anthropic.Key != "" {
		extractor = provider.NewExtractor(anthropicpkg.NewClient(p.Anthropic.Key), p.Anthropic.Model, int64(p.Anthropic.MaxTokens))
	}

	jinaOpts := []jina.Option{jina.WithRateLimit(p.Jina.RateLimit)}
	if p.Jina.BaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithBaseURL(p.Jina.BaseURL))
	}
	reader := jina.NewClient(p.Jina.Key, jinaOpts...)

	var search perplexity.Client
	if p.Perplexity.Key != "" {
		pOpts := []perplexity.Option{perplexity.WithRateLimit(p.Perplexity.RateLimit)}
		if p.Perplexity.BaseURL != "" {
			pOpts = append(pOpts, perplexity.WithBaseURL(p.Perplexity.BaseURL))
		}
		if p.Perplexity.Model != "" {
			pOpts = append(pOpts, perplexity.WithModel(p.Perplexity.Model))
		}
		search = perplexity.NewClient(p.Perplexity.Key, pOpts...)
	}

	if extractor != nil {
		reg.Register(provider.NewWebsite(reader, extractor, price("website")))
		reg.Register(provider.NewInference(extractor, price("inference")))
	} else {
		zap.L().Debug("ENRICH_PROVIDERS_ANTHROPIC_KEY not set, website and inference providers disabled")
	}
	if search != nil {
		reg.Register(provider.NewSearch(search, price("search")))
	}
	if p.Google.Key != "" {
		gOpts := []google.Option{google.WithRateLimit(p.Google.RateLimit)}
		if p.Google.BaseURL != "" {
			gOpts = append(gOpts, google.WithBaseURL(p.Google.BaseURL))
		}
		reg.Register(provider.NewPlaces(google.NewClient(p.Google.Key, gOpts...), price("places")))
	}
	if extractor != nil {
		reg.Register(provider.NewLinkedIn(reader, search, extractor, price("linkedin")))
	}
	if p.ContactOut.Key != "" {
		cOpts := []contactout.Option{contactout.WithRateLimit(p.ContactOut.RateLimit)}
		if p.ContactOut.BaseURL != "" {
			cOpts = append(cOpts, contactout.WithBaseURL(p.ContactOut.BaseURL))
		}
		reg.Register(provider.NewContactOut(contactout.NewClient(p.ContactOut.Key, cOpts...), price("contactout")))
	}

	zap.L().Info("providers registered", zap.Strings("providers", reg.List()))
	return reg
}

// waterfallConfig loads the stage file when one is configured. Otherwise
// the built-in layout is tuned from the waterfall, cache and budget
// settings.
func waterfallConfig(c *config.Config) (*waterfall.Config, error) {
	if c.Waterfall.ConfigPath != "" {
		return waterfall.LoadConfig(c.Waterfall.ConfigPath)
	}
	wcfg := waterfall.NewDefaultConfig()
	d := &wcfg.Defaults
	if c.Waterfall.LowConfidenceThreshold > 0 {
		d.LowConfidenceThreshold = c.Waterfall.LowConfidenceThreshold
	}
	if c.Waterfall.HalfLifeDays > 0 {
		d.TimeDecay.HalfLifeDays = c.Waterfall.HalfLifeDays
	}
	if c.Waterfall.DecayFloor > 0 {
		d.TimeDecay.Floor = c.Waterfall.DecayFloor
	}
	if c.Cache.TTLHours > 0 {
		d.CacheTTLHours = c.Cache.TTLHours
	}
	charge := c.Budget.ChargeFailedAttempts
	d.ChargeFailedAttempts = &charge
	return wcfg, nil
}

func retryConfig(c config.RetryConfig) resilience.RetryConfig {
	rc := resilience.FromRetryConfig(c.MaxAttempts, c.InitialBackoffMs, c.MaxBackoffMs, c.Multiplier, c.JitterFraction, c.CallTimeoutSecs)
	rc.OnRetry = resilience.RetryLogger("waterfall", "lookup")
	return rc
}

func breakerConfig(c config.CircuitConfig) resilience.CircuitBreakerConfig {
	bc := resilience.FromCircuitConfig(c.FailureThreshold, c.ResetTimeoutSecs)
	bc.OnStateChange = func(name string, from, to resilience.CircuitState) {
		zap.L().Warn("circuit breaker state change",
			zap.String("provider", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return bc
}

// rates builds the rate table every provider is priced from.
func rates(c *config.Config) cost.Rates {
	p := c.Providers
	return cost.Rates{
		Providers: map[string]int{
			"website":    p.Jina.CostCents,
			"search":     p.Perplexity.CostCents,
			"inference":  p.Anthropic.CostCents,
			"linkedin":   p.LinkedIn.CostCents,
			"contactout": p.ContactOut.CostCents,
			"places":     p.Google.CostCents,
		},
		DefaultEntityBudgetCents: c.Budget.DefaultEntityCents,
	}
}

// Package cost prices provider calls in integer cents and splits a batch
// budget across entities.
package cost

// DefaultEntityBudgetCents is the per-entity allocation used when a run has
// no total budget.
const DefaultEntityBudgetCents = 50

// Rates holds flat per-call prices in cents keyed by provider name.
type Rates struct {
	Providers                map[string]int `yaml:"providers" mapstructure:"providers"`
	DefaultEntityBudgetCents int            `yaml:"default_entity_budget_cents" mapstructure:"default_entity_budget_cents"`
}

// DefaultRates returns the default provider prices.
func DefaultRates() Rates {
	return Rates{
		Providers: map[string]int{
			"website":    0,
			"search":     2,
			"inference":  1,
			"linkedin":   10,
			"contactout": 25,
			"places":     1,
		},
		DefaultEntityBudgetCents: DefaultEntityBudgetCents,
	}
}

// Priced is anything with a name and a flat per-call cost.
type Priced interface {
	Name() string
	CostCents() int
}

// Calculator answers pricing and allocation questions.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	if rates.DefaultEntityBudgetCents <= 0 {
		rates.DefaultEntityBudgetCents = DefaultEntityBudgetCents
	}
	return &Calculator{rates: rates}
}

// ProviderCents returns the configured price for a provider and whether
// one was configured.
func (c *Calculator) ProviderCents(name string) (int, bool) {
	cents, ok := c.rates.Providers[name]
	if !ok || cents < 0 {
		return 0, false
	}
	return cents, true
}

// Allocate splits totalCents evenly over n entities, rounding down. A
// non-positive total yields the default per-entity budget.
func (c *Calculator) Allocate(totalCents, n int) int {
	if totalCents <= 0 || n <= 0 {
		return c.rates.DefaultEntityBudgetCents
	}
	return totalCents / n
}

// EstimateEntity returns the most one entity can spend walking providers
// in order with the given budget. A provider is counted only if it still
// fits, matching how the waterfall skips stages.
func EstimateEntity(providers []Priced, budgetCents int) (spent int, byProvider map[string]int) {
	byProvider = make(map[string]int, len(providers))
	remaining := budgetCents
	for _, p := range providers {
		c := p.CostCents()
		if c > remaining {
			continue
		}
		remaining -= c
		spent += c
		byProvider[p.Name()] += c
	}
	return spent, byProvider
}

// Estimate is a worst-case projection for a batch.
type Estimate struct {
	Entities             int            `json:"entities"`
	PerEntityBudgetCents int            `json:"per_entity_budget_cents"`
	WorstCaseCents       int            `json:"worst_case_cents"`
	ByProvider           map[string]int `json:"by_provider"`
	UnconstrainedCents   int            `json:"unconstrained_cents"`
}

// EstimateBatch projects the worst-case spend of a run where every entity
// reaches every provider.
func (c *Calculator) EstimateBatch(entities, totalCents int, providers []Priced) Estimate {
	est := Estimate{
		Entities:             entities,
		PerEntityBudgetCents: c.Allocate(totalCents, entities),
		ByProvider:           make(map[string]int),
	}
	if entities <= 0 {
		return est
	}

	perEntity, byProvider := EstimateEntity(providers, est.PerEntityBudgetCents)
	est.WorstCaseCents = perEntity * entities
	for name, cents := range byProvider {
		est.ByProvider[name] = cents * entities
	}

	full := 0
	for _, p := range providers {
		full += p.CostCents()
	}
	est.UnconstrainedCents = full * entities
	return est
}

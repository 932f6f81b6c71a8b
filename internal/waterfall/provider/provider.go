// Package provider defines the adapter contract for enrichment data sources
// and the registry the waterfall draws them from.
package provider

import (
	"context"
	"sync"

	"github.com/sells-group/entity-enrich/internal/model"
)

// Provider performs one enrichment lookup. Implementations hold no budget
// or retry state; the waterfall owns both.
type Provider interface {
	// Name identifies the provider in config, notes and metrics.
	Name() string
	// Stage is the waterfall step the provider runs in.
	Stage() model.Stage
	// Source tags every value the provider returns.
	Source() model.EnrichmentSource
	// CostCents is the flat price of one call.
	CostCents() int
	// Fields lists what the provider can fill.
	Fields() []model.EnrichmentField
	// Lookup fetches whatever the provider knows about id. Partial data
	// is a success.
	Lookup(ctx context.Context, id model.Identifier) (model.EnrichmentData, error)
}

// Eligibility is implemented by providers that can only serve some
// identifiers, e.g. those needing a LinkedIn URL.
type Eligibility interface {
	// Eligible reports whether the provider can look up id, with a reason
	// when it cannot.
	Eligible(id model.Identifier) (bool, string)
}

// Warmer is implemented by providers that benefit from one call before a
// batch fans out, such as priming a prompt cache.
type Warmer interface {
	Warm(ctx context.Context) error
}

// Fills returns the subset of gaps p can fill.
func Fills(p Provider, gaps []model.EnrichmentField) []model.EnrichmentField {
	supported := make(map[model.EnrichmentField]struct{}, len(p.Fields()))
	for _, f := range p.Fields() {
		supported[f] = struct{}{}
	}
	var out []model.EnrichmentField
	for _, g := range gaps {
		if _, ok := supported[g]; ok {
			out = append(out, g)
		}
	}
	return out
}

// Registry holds providers in registration order.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider. Registering a name twice replaces the earlier
// provider but keeps its position.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Get returns a provider by name, or nil if not found.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns all registered provider names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// ForStage returns the providers assigned to stage in registration order.
func (r *Registry) ForStage(stage model.Stage) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Provider
	for _, name := range r.order {
		if p := r.providers[name]; p.Stage() == stage {
			out = append(out, p)
		}
	}
	return out
}

// All returns every provider in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}

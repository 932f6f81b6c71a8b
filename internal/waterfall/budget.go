package waterfall

import "github.com/sells-group/entity-enrich/internal/resilience"

// Budget is one entity's spending ceiling in cents. It is owned by a
// single entity run and is not safe for concurrent use.
type Budget struct {
	initial   int
	remaining int
}

// NewBudget creates a budget. Negative amounts become zero.
func NewBudget(cents int) *Budget {
	if cents < 0 {
		cents = 0
	}
	return &Budget{initial: cents, remaining: cents}
}

// Initial returns the starting allocation.
func (b *Budget) Initial() int { return b.initial }

// Remaining returns what is left to spend.
func (b *Budget) Remaining() int { return b.remaining }

// Spent returns what has been charged so far.
func (b *Budget) Spent() int { return b.initial - b.remaining }

// CanAfford reports whether a call costing cents fits.
func (b *Budget) CanAfford(cents int) bool { return cents <= b.remaining }

// Charge deducts cents. It refuses charges that would go negative.
func (b *Budget) Charge(provider string, cents int) error {
	if cents < 0 {
		cents = 0
	}
	if cents > b.remaining {
		return &resilience.BudgetExceededError{Provider: provider, Requested: cents, Available: b.remaining}
	}
	b.remaining -= cents
	return nil
}

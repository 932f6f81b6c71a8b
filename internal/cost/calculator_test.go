package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type priced struct {
	name  string
	cents int
}

func (p priced) Name() string   { return p.name }
func (p priced) CostCents() int { return p.cents }

func waterfall() []Priced {
	return []Priced{
		priced{"website", 0},
		priced{"search", 2},
		priced{"inference", 1},
		priced{"linkedin", 10},
	}
}

func TestAllocate(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(DefaultRates())

	tests := []struct {
		name  string
		total int
		n     int
		want  int
	}{
		{"even split", 100, 4, 25},
		{"rounds down", 100, 3, 33},
		{"no total uses default", 0, 10, DefaultEntityBudgetCents},
		{"negative total uses default", -5, 10, DefaultEntityBudgetCents},
		{"no entities", 100, 0, DefaultEntityBudgetCents},
		{"less than a cent each", 3, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, calc.Allocate(tt.total, tt.n))
		})
	}
}

func TestNewCalculator_DefaultBudgetFallback(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(Rates{})
	assert.Equal(t, DefaultEntityBudgetCents, calc.Allocate(0, 1))
}

func TestProviderCents(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(DefaultRates())

	cents, ok := calc.ProviderCents("linkedin")
	assert.True(t, ok)
	assert.Equal(t, 10, cents)

	_, ok = calc.ProviderCents("unknown")
	assert.False(t, ok)
}

func TestEstimateEntity_SkipsWhatDoesNotFit(t *testing.T) {
	t.Parallel()

	spent, by := EstimateEntity(waterfall(), 5)
	assert.Equal(t, 3, spent)
	assert.Equal(t, 2, by["search"])
	assert.NotContains(t, by, "linkedin")

	spent, _ = EstimateEntity(waterfall(), 100)
	assert.Equal(t, 13, spent)
}

func TestEstimateBatch(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(DefaultRates())

	est := calc.EstimateBatch(10, 50, waterfall())
	assert.Equal(t, 5, est.PerEntityBudgetCents)
	assert.Equal(t, 30, est.WorstCaseCents)
	assert.Equal(t, 130, est.UnconstrainedCents)
	assert.Equal(t, 20, est.ByProvider["search"])

	empty := calc.EstimateBatch(0, 50, waterfall())
	assert.Zero(t, empty.WorstCaseCents)
}

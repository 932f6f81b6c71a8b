package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/entity-enrich/internal/model"
)

// Stage outcomes used as metric labels.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped"
	outcomeHit     = "hit"
	outcomeMiss    = "miss"
)

// Metrics holds Prometheus collectors for the waterfall. A nil *Metrics
// records nothing.
type Metrics struct {
	StageResults     *prometheus.CounterVec
	ProviderCost     *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	FieldsFilled     *prometheus.CounterVec
	Entities         *prometheus.CounterVec
	EntityCost       prometheus.Histogram
	InFlight         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. All
// metrics live under the "enrich" namespace.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "enrich",
				Name:      "stage_results_total",
				Help:      "Stage results by stage, provider and outcome",
			},
			[]string{"stage", "provider", "outcome"},
		),
		ProviderCost: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "enrich",
				Name:      "provider_cost_cents_total",
				Help:      "Cents charged per provider",
			},
			[]string{"provider"},
		),
		ProviderDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "enrich",
				Name:      "provider_duration_seconds",
				Help:      "Provider call duration including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		FieldsFilled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "enrich",
				Name:      "fields_filled_total",
				Help:      "Fields newly filled, by source",
			},
			[]string{"source"},
		),
		Entities: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "enrich",
				Name:      "entities_total",
				Help:      "Entities finished, by status",
			},
			[]string{"status"},
		),
		EntityCost: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "enrich",
				Name:      "entity_cost_cents",
				Help:      "Cents spent per entity",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		InFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "enrich",
				Name:      "entities_in_flight",
				Help:      "Entities currently in the waterfall",
			},
		),
	}
}

// ObserveStage records one stage result. It satisfies waterfall.Observer.
func (m *Metrics) ObserveStage(sr model.StageResult) {
	if m == nil {
		return
	}
	name := sr.Provider
	if name == "" {
		name = "none"
	}
	m.StageResults.WithLabelValues(string(sr.Stage), name, stageOutcome(sr)).Inc()
	if sr.Skipped {
		return
	}
	if sr.CostCents > 0 {
		m.ProviderCost.WithLabelValues(name).Add(float64(sr.CostCents))
	}
	if sr.Stage != model.StageCache {
		m.ProviderDuration.WithLabelValues(name).Observe((time.Duration(sr.DurationMs) * time.Millisecond).Seconds())
	}
	if sr.FieldsFilled > 0 {
		src := string(sr.Source)
		if src == "" {
			src = "unknown"
		}
		m.FieldsFilled.WithLabelValues(src).Add(float64(sr.FieldsFilled))
	}
}

// ObserveEntity records a finished entity.
func (m *Metrics) ObserveEntity(res *model.EntityResult) {
	if m == nil || res == nil {
		return
	}
	m.InFlight.Dec()
	m.Entities.WithLabelValues(string(res.Status)).Inc()
	m.EntityCost.Observe(float64(res.CostCents))
}

func (m *Metrics) entityStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func stageOutcome(sr model.StageResult) string {
	switch {
	case sr.Skipped:
		return outcomeSkipped
	case sr.Error != "":
		return outcomeError
	case sr.Stage == model.StageCache && len(sr.Data) > 0:
		return outcomeHit
	case sr.Stage == model.StageCache:
		return outcomeMiss
	default:
		return outcomeOK
	}
}

package waterfall

import (
	"math"

	"github.com/sells-group/entity-enrich/internal/model"
)

// DefaultLowConfidenceThreshold marks filled fields worth revisiting.
const DefaultLowConfidenceThreshold = 60

// GapAnalysis describes an entity's data against its requested fields.
// It is derived and never stored.
type GapAnalysis struct {
	Filled               []model.EnrichmentField `json:"filled"`
	Gaps                 []model.EnrichmentField `json:"gaps"`
	LowConfidence        []model.EnrichmentField `json:"low_confidence"`
	AverageConfidence    float64                 `json:"average_confidence"`
	CompletionPercentage int                     `json:"completion_percentage"`
}

// AnalyzeGaps compares data with requested. Fields are reported in
// requested order. With nothing requested the entity is complete.
func AnalyzeGaps(data model.EnrichmentData, requested []model.EnrichmentField, lowThreshold int) GapAnalysis {
	var g GapAnalysis
	if len(requested) == 0 {
		g.CompletionPercentage = 100
		return g
	}

	total := 0
	for _, f := range requested {
		v, ok := data.Get(f)
		if !ok {
			g.Gaps = append(g.Gaps, f)
			continue
		}
		g.Filled = append(g.Filled, f)
		total += v.Confidence
		if v.Confidence < lowThreshold {
			g.LowConfidence = append(g.LowConfidence, f)
		}
	}

	if len(g.Filled) > 0 {
		g.AverageConfidence = float64(total) / float64(len(g.Filled))
	}
	g.CompletionPercentage = int(math.Round(100 * float64(len(g.Filled)) / float64(len(requested))))
	return g
}

// Complete reports whether no gaps remain.
func (g GapAnalysis) Complete() bool { return len(g.Gaps) == 0 }

// HasCompanyGap reports whether any gap is a company_ field.
func (g GapAnalysis) HasCompanyGap() bool {
	for _, f := range g.Gaps {
		if f.IsCompany() {
			return true
		}
	}
	return false
}

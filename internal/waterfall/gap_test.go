package waterfall

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/entity-enrich/internal/model"
)

func TestAnalyzeGaps(t *testing.T) {
	requested := []model.EnrichmentField{
		model.FieldCompanyName,
		model.FieldCompanyDomain,
		model.FieldCompanyIndustry,
	}
	data := model.EnrichmentData{
		model.FieldCompanyName:     {Value: "Acme", Confidence: 90},
		model.FieldCompanyIndustry: {Value: "Widgets", Confidence: 50},
		model.FieldPersonEmail:     {Value: "ignored@acme.com", Confidence: 99},
	}

	g := AnalyzeGaps(data, requested, DefaultLowConfidenceThreshold)
	assert.Equal(t, []model.EnrichmentField{model.FieldCompanyName, model.FieldCompanyIndustry}, g.Filled)
	assert.Equal(t, []model.EnrichmentField{model.FieldCompanyDomain}, g.Gaps)
	assert.Equal(t, []model.EnrichmentField{model.FieldCompanyIndustry}, g.LowConfidence)
	assert.InDelta(t, 70.0, g.AverageConfidence, 0.001)
	assert.Equal(t, 67, g.CompletionPercentage)
	assert.False(t, g.Complete())
	assert.True(t, g.HasCompanyGap())
}

func TestAnalyzeGaps_EmptyValuesAreGaps(t *testing.T) {
	data := model.EnrichmentData{model.FieldPersonEmail: {Value: "  ", Confidence: 80}}
	g := AnalyzeGaps(data, []model.EnrichmentField{model.FieldPersonEmail}, 60)
	assert.Equal(t, []model.EnrichmentField{model.FieldPersonEmail}, g.Gaps)
	assert.Zero(t, g.CompletionPercentage)
	assert.Zero(t, g.AverageConfidence)
	assert.False(t, g.HasCompanyGap())
}

func TestAnalyzeGaps_NothingRequested(t *testing.T) {
	g := AnalyzeGaps(nil, nil, 60)
	assert.Equal(t, 100, g.CompletionPercentage)
	assert.True(t, g.Complete())
}

func TestAnalyzeGaps_Rounding(t *testing.T) {
	requested := []model.EnrichmentField{
		model.FieldPersonName, model.FieldPersonEmail, model.FieldPersonTitle,
		model.FieldPersonPhone, model.FieldPersonCompany, model.FieldPersonLocation,
		model.FieldPersonLinkedInURL, model.FieldCompanyName,
	}
	data := model.EnrichmentData{model.FieldPersonName: {Value: "Jane", Confidence: 60}}
	// 1/8 = 12.5 rounds half away from zero.
	assert.Equal(t, 13, AnalyzeGaps(data, requested, 60).CompletionPercentage)
}

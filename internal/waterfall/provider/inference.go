package provider

import (
	"context"

	"github.com/sells-group/entity-enrich/internal/model"
)

// inferenceMaxConfidence caps model guesses made without source material.
const inferenceMaxConfidence = 60

var inferenceFields = []model.EnrichmentField{
	model.FieldCompanyName,
	model.FieldCompanyDescription,
	model.FieldCompanyIndustry,
	model.FieldPersonCompany,
	model.FieldPersonTitle,
}

// Inference fills descriptive fields by reasoning over what the row and
// earlier stages already provided. It makes no external lookups.
type Inference struct {
	extractor *Extractor
	cost      int
}

// NewInference creates the AI inference provider.
func NewInference(extractor *Extractor, costCents int) *Inference {
	return &Inference{extractor: extractor, cost: costCents}
}

func (i *Inference) Name() string                    { return "inference" }
func (i *Inference) Stage() model.Stage              { return model.StageCheap }
func (i *Inference) Source() model.EnrichmentSource  { return model.SourceAIInference }
func (i *Inference) CostCents() int                  { return i.cost }
func (i *Inference) Fields() []model.EnrichmentField { return inferenceFields }

// Warm primes the extraction prompt cache.
func (i *Inference) Warm(ctx context.Context) error { return i.extractor.Warm(ctx) }

func (i *Inference) Lookup(ctx context.Context, id model.Identifier) (model.EnrichmentData, error) {
	fields := fieldsForType(id, unknownFields(id, inferenceFields))
	if len(fields) == 0 {
		return model.EnrichmentData{}, nil
	}
	return i.extractor.Extract(ctx, i.Name(), id,
		"No external material. Infer only from what we know so far.", fields, inferenceMaxConfidence)
}

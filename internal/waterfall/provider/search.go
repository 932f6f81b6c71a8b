package provider

import (
	"context"
	"fmt"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/pkg/perplexity"
)

const searchPrompt = `Research the company described below using current web sources.
%s
What we know so far:
%s`

// Search asks Perplexity's web-grounded model for company attributes.
type Search struct {
	client perplexity.Client
	cost   int
}

// NewSearch creates the web search provider.
func NewSearch(client perplexity.Client, costCents int) *Search {
	return &Search{client: client, cost: costCents}
}

func (s *Search) Name() string                    { return "search" }
func (s *Search) Stage() model.Stage              { return model.StageCheap }
func (s *Search) Source() model.EnrichmentSource  { return model.SourceSearchResult }
func (s *Search) CostCents() int                  { return s.cost }
func (s *Search) Fields() []model.EnrichmentField { return model.CompanyFields() }

func (s *Search) Lookup(ctx context.Context, id model.Identifier) (model.EnrichmentData, error) {
	fields := unknownFields(id, model.CompanyFields())
	if len(fields) == 0 {
		return model.EnrichmentData{}, nil
	}

	temp := 0.2
	resp, err := s.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			perplexity.System("Be precise and concise. Answer only with JSON."),
			perplexity.User(fmt.Sprintf(searchPrompt, fieldInstructions(fields), describe(id))),
		},
		Temperature: &temp,
	})
	if err != nil {
		return nil, classify(s.Name(), err)
	}

	text := resp.Content()
	if text == "" {
		return model.EnrichmentData{}, nil
	}
	data, err := parseFields(text, fields, 70, 85)
	if err != nil {
		return nil, malformed(s.Name(), "search answer", err)
	}
	if v, ok := data.Get(model.FieldCompanyDomain); ok {
		if host := hostOf(v.String()); host != "" {
			v.Value = host
			data[model.FieldCompanyDomain] = v
		} else {
			delete(data, model.FieldCompanyDomain)
		}
	}
	return data, nil
}

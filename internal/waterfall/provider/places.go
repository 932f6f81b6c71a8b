package provider

import (
	"context"
	"strings"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/pkg/google"
)

var placesFields = []model.EnrichmentField{
	model.FieldCompanyName,
	model.FieldCompanyPhone,
	model.FieldCompanyHeadquarters,
	model.FieldCompanyDomain,
}

// Places resolves a company's listing on Google Maps for its phone number
// and street address.
type Places struct {
	client google.Client
	cost   int
}

// NewPlaces creates the Google Places provider.
func NewPlaces(client google.Client, costCents int) *Places {
	return &Places{client: client, cost: costCents}
}

func (p *Places) Name() string                    { return "places" }
func (p *Places) Stage() model.Stage              { return model.StageCheap }
func (p *Places) Source() model.EnrichmentSource  { return model.SourcePlaces }
func (p *Places) CostCents() int                  { return p.cost }
func (p *Places) Fields() []model.EnrichmentField { return placesFields }

// Eligible accepts companies with something to search by.
func (p *Places) Eligible(id model.Identifier) (bool, string) {
	if isPerson(id) {
		return false, "people have no place listing"
	}
	if placesQuery(id) == "" {
		return false, "no company name or domain"
	}
	return true, ""
}

func (p *Places) Lookup(ctx context.Context, id model.Identifier) (model.EnrichmentData, error) {
	resp, err := p.client.TextSearch(ctx, placesQuery(id))
	if err != nil {
		return nil, classify(p.Name(), err)
	}

	out := model.EnrichmentData{}
	for _, place := range resp.Places {
		if place.BusinessStatus == "CLOSED_PERMANENTLY" {
			continue
		}
		put(out, model.FieldCompanyName, place.DisplayName.Text, 75)
		put(out, model.FieldCompanyPhone, place.Phone(), 80)
		put(out, model.FieldCompanyHeadquarters, place.FormattedAddress, 75)
		put(out, model.FieldCompanyDomain, hostOf(place.WebsiteURI), 70)
		break
	}
	return out, nil
}

// placesQuery combines the best known name with the domain.
func placesQuery(id model.Identifier) string {
	name := ""
	if v, ok := id.Known.Get(model.FieldCompanyName); ok {
		name = v.String()
	} else if id.Kind == model.KindName {
		name = id.Raw
	}
	parts := make([]string, 0, 2)
	if name = strings.TrimSpace(name); name != "" {
		parts = append(parts, name)
	}
	if d := domainFor(id); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, " ")
}

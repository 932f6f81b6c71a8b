package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/pkg/contactout"
)

var contactOutFields = []model.EnrichmentField{
	model.FieldPersonName,
	model.FieldPersonEmail,
	model.FieldPersonPhone,
	model.FieldPersonTitle,
	model.FieldPersonCompany,
	model.FieldPersonLocation,
	model.FieldPersonLinkedInURL,
	model.FieldCompanyName,
	model.FieldCompanyDescription,
	model.FieldCompanyIndustry,
	model.FieldCompanyEmployeeCount,
	model.FieldCompanyHeadquarters,
	model.FieldCompanyFounded,
	model.FieldCompanyPhone,
}

// ContactOut looks up verified contact details: people by LinkedIn profile
// and companies by domain.
type ContactOut struct {
	client contactout.Client
	cost   int
}

// NewContactOut creates the ContactOut provider.
func NewContactOut(client contactout.Client, costCents int) *ContactOut {
	return &ContactOut{client: client, cost: costCents}
}

func (c *ContactOut) Name() string                    { return "contactout" }
func (c *ContactOut) Stage() model.Stage              { return model.StagePremium }
func (c *ContactOut) Source() model.EnrichmentSource  { return model.SourceContactOut }
func (c *ContactOut) CostCents() int                  { return c.cost }
func (c *ContactOut) Fields() []model.EnrichmentField { return contactOutFields }

// Eligible requires a LinkedIn profile for people and a domain for
// companies.
func (c *ContactOut) Eligible(id model.Identifier) (bool, string) {
	if isPerson(id) {
		if !strings.Contains(id.LinkedInURL(), "/in/") {
			return false, "no LinkedIn profile URL"
		}
		return true, ""
	}
	if domainFor(id) == "" {
		return false, "no company domain"
	}
	return true, ""
}

func (c *ContactOut) Lookup(ctx context.Context, id model.Identifier) (model.EnrichmentData, error) {
	if isPerson(id) {
		return c.person(ctx, id)
	}
	return c.company(ctx, id)
}

func (c *ContactOut) person(ctx context.Context, id model.Identifier) (model.EnrichmentData, error) {
	p, err := c.client.PersonByLinkedIn(ctx, id.LinkedInURL())
	if errors.Is(err, contactout.ErrNoMatch) {
		return model.EnrichmentData{}, nil
	}
	if err != nil {
		return nil, classify(c.Name(), err)
	}

	out := model.EnrichmentData{}
	put(out, model.FieldPersonName, p.FullName, 85)
	put(out, model.FieldPersonEmail, p.BestEmail(), 85)
	if len(p.Phone) > 0 {
		put(out, model.FieldPersonPhone, p.Phone[0], 80)
	}
	title := p.Title
	if title == "" {
		title = p.Headline
	}
	put(out, model.FieldPersonTitle, title, 75)
	put(out, model.FieldPersonCompany, p.Company, 80)
	put(out, model.FieldPersonLocation, p.Location, 75)
	put(out, model.FieldPersonLinkedInURL, p.URL, 90)
	return out, nil
}

func (c *ContactOut) company(ctx context.Context, id model.Identifier) (model.EnrichmentData, error) {
	p, err := c.client.CompanyByDomain(ctx, domainFor(id))
	if errors.Is(err, contactout.ErrNoMatch) {
		return model.EnrichmentData{}, nil
	}
	if err != nil {
		return nil, classify(c.Name(), err)
	}

	out := model.EnrichmentData{}
	put(out, model.FieldCompanyName, p.Name, 85)
	put(out, model.FieldCompanyDescription, p.Description, 70)
	put(out, model.FieldCompanyIndustry, p.Industry, 80)
	put(out, model.FieldCompanyHeadquarters, p.Headquarter, 80)
	put(out, model.FieldCompanyPhone, p.Phone, 75)
	if p.Size > 0 {
		out[model.FieldCompanyEmployeeCount] = model.EnrichedValue{Value: float64(p.Size), Confidence: 75}
	}
	if p.Founded > 0 {
		out[model.FieldCompanyFounded] = model.EnrichedValue{Value: float64(p.Founded), Confidence: 80}
	}
	return out, nil
}

// put stores a non-blank string value.
func put(d model.EnrichmentData, f model.EnrichmentField, v string, conf int) {
	if v = strings.TrimSpace(v); v != "" {
		d[f] = model.EnrichedValue{Value: v, Confidence: conf}
	}
}

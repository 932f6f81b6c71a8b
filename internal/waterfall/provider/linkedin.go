package provider

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/resilience"
	"github.com/sells-group/entity-enrich/pkg/jina"
	"github.com/sells-group/entity-enrich/pkg/perplexity"
)

const linkedInSearchPrompt = `Find the public LinkedIn profile at %s and report everything it shows:
name, headline or title, current employer, location, industry, company size, headquarters and summary.
Return the raw information as text.`

var linkedInFields = []model.EnrichmentField{
	model.FieldPersonName,
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
	model.FieldCompanyLinkedInURL,
}

// LinkedIn reads a public LinkedIn profile through Jina Reader. When the
// page comes back as a login wall it falls back to a Perplexity search
// for the same profile, if one is configured.
type LinkedIn struct {
	reader    jina.Client
	search    perplexity.Client
	extractor *Extractor
	cost      int
}

// NewLinkedIn creates the LinkedIn scrape provider. search may be nil.
func NewLinkedIn(reader jina.Client, search perplexity.Client, extractor *Extractor, costCents int) *LinkedIn {
	return &LinkedIn{reader: reader, search: search, extractor: extractor, cost: costCents}
}

func (l *LinkedIn) Name() string                    { return "linkedin" }
func (l *LinkedIn) Stage() model.Stage              { return model.StagePremium }
func (l *LinkedIn) Source() model.EnrichmentSource  { return model.SourceLinkedInScrape }
func (l *LinkedIn) CostCents() int                  { return l.cost }
func (l *LinkedIn) Fields() []model.EnrichmentField { return linkedInFields }

// Eligible requires a LinkedIn profile URL.
func (l *LinkedIn) Eligible(id model.Identifier) (bool, string) {
	if id.LinkedInURL() == "" {
		return false, "no LinkedIn URL"
	}
	return true, ""
}

// Warm primes the extraction prompt cache.
func (l *LinkedIn) Warm(ctx context.Context) error { return l.extractor.Warm(ctx) }

func (l *LinkedIn) Lookup(ctx context.Context, id model.Identifier) (model.EnrichmentData, error) {
	profile := id.LinkedInURL()
	if profile == "" {
		return model.EnrichmentData{}, nil
	}

	content, err := l.fetch(ctx, profile)
	if err != nil {
		return nil, err
	}

	out := model.EnrichmentData{}
	urlField := model.FieldCompanyLinkedInURL
	if isPerson(id) {
		urlField = model.FieldPersonLinkedInURL
	}
	out[urlField] = model.EnrichedValue{Value: profile, Confidence: 95}

	want := without(fieldsForType(id, unknownFields(id, linkedInFields)), urlField)
	extracted, err := l.extractor.Extract(ctx, l.Name(), id, content, want, 90)
	if err != nil {
		return nil, err
	}
	for f, v := range extracted {
		out[f] = v
	}
	return out, nil
}

func (l *LinkedIn) fetch(ctx context.Context, profile string) (string, error) {
	log := zap.L().With(zap.String("provider", l.Name()), zap.String("profile", profile))

	page, err := l.reader.Read(ctx, profile)
	switch {
	case err != nil && l.search == nil:
		return "", classify(l.Name(), err)
	case err != nil:
		log.Debug("linkedin: read failed, falling back to search", zap.Error(err))
	case !isLoginWall(page.Data.Content):
		return page.Data.Content, nil
	case l.search == nil:
		return "", &resilience.ProviderError{Provider: l.Name(), Message: "profile behind login wall", Permanent: true}
	default:
		log.Debug("linkedin: login wall, falling back to search")
	}

	temp := 0.2
	resp, err := l.search.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages:           []perplexity.Message{perplexity.User(fmt.Sprintf(linkedInSearchPrompt, profile))},
		Temperature:        &temp,
		SearchDomainFilter: []string{"linkedin.com"},
	})
	if err != nil {
		return "", classify(l.Name(), err)
	}
	text := strings.TrimSpace(resp.Content())
	if text == "" {
		return "", &resilience.ProviderError{Provider: l.Name(), Message: "empty response from reader and search", Permanent: true}
	}
	return text, nil
}

// isLoginWall detects a LinkedIn sign-in page in place of profile content.
func isLoginWall(content string) bool {
	if len(content) < 100 {
		return true
	}
	lower := strings.ToLower(content)
	for _, marker := range []string{"authwall", "join now", "sign in to view", "login_required", "please log in", "sign up to view"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

package provider

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/pkg/jina"
)

// homepageTimeout bounds how long the reader waits on a slow site.
const homepageTimeout = 20 * time.Second

var linkedInCompanyLink = regexp.MustCompile(`https?://(?:[a-z]{2,3}\.)?linkedin\.com/company/[A-Za-z0-9_\-%.]+`)

var websiteFields = []model.EnrichmentField{
	model.FieldCompanyName,
	model.FieldCompanyDomain,
	model.FieldCompanyDescription,
	model.FieldCompanyIndustry,
	model.FieldCompanyEmployeeCount,
	model.FieldCompanyHeadquarters,
	model.FieldCompanyFounded,
	model.FieldCompanyLinkedInURL,
	model.FieldCompanyPhone,
}

// Website reads the company homepage through Jina Reader and extracts
// firmographics from it.
type Website struct {
	reader    jina.Client
	extractor *Extractor
	cost      int
}

// NewWebsite creates the website scrape provider.
func NewWebsite(reader jina.Client, extractor *Extractor, costCents int) *Website {
	return &Website{reader: reader, extractor: extractor, cost: costCents}
}

func (w *Website) Name() string                    { return "website" }
func (w *Website) Stage() model.Stage              { return model.StageFree }
func (w *Website) Source() model.EnrichmentSource  { return model.SourceWebsiteScrape }
func (w *Website) CostCents() int                  { return w.cost }
func (w *Website) Fields() []model.EnrichmentField { return websiteFields }

// Eligible requires a company website to read.
func (w *Website) Eligible(id model.Identifier) (bool, string) {
	if id.Type == model.EntityPerson && id.Kind != model.KindEmail {
		return false, "person without a work email domain"
	}
	if domainFor(id) == "" {
		return false, "no website domain"
	}
	return true, ""
}

// Warm primes the extraction prompt cache.
func (w *Website) Warm(ctx context.Context) error { return w.extractor.Warm(ctx) }

func (w *Website) Lookup(ctx context.Context, id model.Identifier) (model.EnrichmentData, error) {
	domain := domainFor(id)
	out := model.EnrichmentData{}
	if domain == "" {
		return out, nil
	}

	page, err := w.reader.Read(ctx, "https://"+domain, jina.WithLinks(), jina.WithTimeout(homepageTimeout))
	if errors.Is(err, jina.ErrUnreachable) {
		return out, nil
	}
	if err != nil {
		return nil, classify(w.Name(), err)
	}
	content := strings.TrimSpace(page.Data.Content)
	if content == "" {
		return out, nil
	}

	out[model.FieldCompanyDomain] = model.EnrichedValue{Value: domain, Confidence: 95}
	if link := companyLinkedIn(page.Data.Links, content); link != "" {
		out[model.FieldCompanyLinkedInURL] = model.EnrichedValue{Value: link, Confidence: 85}
	}

	want := without(unknownFields(id, websiteFields), model.FieldCompanyDomain, model.FieldCompanyLinkedInURL)
	extracted, err := w.extractor.Extract(ctx, w.Name(), id, content, want, 90)
	if err != nil {
		return nil, err
	}
	for f, v := range extracted {
		out[f] = v
	}
	if _, ok := out[model.FieldCompanyName]; !ok && page.Data.Title != "" {
		out[model.FieldCompanyName] = model.EnrichedValue{Value: cleanTitle(page.Data.Title), Confidence: 60}
	}
	return out, nil
}

// companyLinkedIn prefers the page's own link summary over a scan of the
// rendered text.
func companyLinkedIn(links map[string]string, content string) string {
	var found []string
	for _, u := range links {
		if m := linkedInCompanyLink.FindString(u); m != "" {
			found = append(found, strings.TrimRight(m, "./"))
		}
	}
	if len(found) > 0 {
		slices.Sort(found)
		return found[0]
	}
	return strings.TrimRight(linkedInCompanyLink.FindString(content), "./")
}

// cleanTitle strips taglines from a page title: "Acme | Home" -> "Acme".
func cleanTitle(title string) string {
	for _, sep := range []string{" | ", " - ", " – ", " :: "} {
		if i := strings.Index(title, sep); i > 0 {
			title = title[:i]
		}
	}
	return strings.TrimSpace(title)
}

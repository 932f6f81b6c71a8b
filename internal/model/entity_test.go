package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntity_RequestsAndAddRequested(t *testing.T) {
	t.Parallel()

	e := &Entity{RequestedFields: []EnrichmentField{FieldCompanyName}}
	assert.True(t, e.Requests(FieldCompanyName))
	assert.False(t, e.Requests(FieldCompanyDomain))

	e.AddRequested(FieldCompanyDomain)
	e.AddRequested(FieldCompanyDomain)
	assert.Equal(t, []EnrichmentField{FieldCompanyName, FieldCompanyDomain}, e.RequestedFields)
	assert.True(t, e.Requests(FieldCompanyDomain))
}

func TestEntity_LookupSnapshotsData(t *testing.T) {
	t.Parallel()

	e := &Entity{
		Identifier:           "https://linkedin.com/company/acme",
		NormalizedIdentifier: "linkedin:acme",
		IdentifierKind:       KindLinkedIn,
		Type:                 EntityCompany,
		Data:                 EnrichmentData{FieldCompanyName: {Value: "Acme"}},
	}

	id := e.Lookup()
	assert.Equal(t, "linkedin:acme", id.Normalized)
	assert.Equal(t, KindLinkedIn, id.Kind)

	id.Known[FieldCompanyDomain] = EnrichedValue{Value: "acme.com"}
	assert.False(t, e.Data.Has(FieldCompanyDomain))
}

func TestIdentifier_LinkedInURL(t *testing.T) {
	t.Parallel()

	company := Identifier{Normalized: "linkedin:acme", Kind: KindLinkedIn, Type: EntityCompany}
	assert.Equal(t, "https://www.linkedin.com/company/acme", company.LinkedInURL())

	person := Identifier{Normalized: "linkedin:jane-doe", Kind: KindLinkedIn, Type: EntityPerson}
	assert.Equal(t, "https://www.linkedin.com/in/jane-doe", person.LinkedInURL())

	discovered := Identifier{
		Normalized: "domain:acme.com",
		Kind:       KindDomain,
		Known:      EnrichmentData{FieldCompanyLinkedInURL: {Value: "https://linkedin.com/company/acme-inc"}},
	}
	assert.Equal(t, "https://linkedin.com/company/acme-inc", discovered.LinkedInURL())

	none := Identifier{Normalized: "acme", Kind: KindName, Known: EnrichmentData{FieldCompanyLinkedInURL: {Value: "n/a"}}}
	assert.Empty(t, none.LinkedInURL())
}

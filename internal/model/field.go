package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// EnrichmentField names one attribute the engine can fill. The set is closed;
// the prefix partitions it into company and person fields.
type EnrichmentField string

const (
	FieldCompanyName          EnrichmentField = "company_name"
	FieldCompanyDomain        EnrichmentField = "company_domain"
	FieldCompanyDescription   EnrichmentField = "company_description"
	FieldCompanyIndustry      EnrichmentField = "company_industry"
	FieldCompanyEmployeeCount EnrichmentField = "company_employee_count"
	FieldCompanyHeadquarters  EnrichmentField = "company_headquarters"
	FieldCompanyFounded       EnrichmentField = "company_founded"
	FieldCompanyLinkedInURL   EnrichmentField = "company_linkedin_url"
	FieldCompanyPhone         EnrichmentField = "company_phone"

	FieldPersonName        EnrichmentField = "person_name"
	FieldPersonEmail       EnrichmentField = "person_email"
	FieldPersonPhone       EnrichmentField = "person_phone"
	FieldPersonTitle       EnrichmentField = "person_title"
	FieldPersonCompany     EnrichmentField = "person_company"
	FieldPersonLocation    EnrichmentField = "person_location"
	FieldPersonLinkedInURL EnrichmentField = "person_linkedin_url"
)

const (
	companyPrefix = "company_"
	personPrefix  = "person_"
)

var allFields = []EnrichmentField{
	FieldCompanyName,
	FieldCompanyDomain,
	FieldCompanyDescription,
	FieldCompanyIndustry,
	FieldCompanyEmployeeCount,
	FieldCompanyHeadquarters,
	FieldCompanyFounded,
	FieldCompanyLinkedInURL,
	FieldCompanyPhone,
	FieldPersonName,
	FieldPersonEmail,
	FieldPersonPhone,
	FieldPersonTitle,
	FieldPersonCompany,
	FieldPersonLocation,
	FieldPersonLinkedInURL,
}

var fieldSet = func() map[EnrichmentField]struct{} {
	m := make(map[EnrichmentField]struct{}, len(allFields))
	for _, f := range allFields {
		m[f] = struct{}{}
	}
	return m
}()

// IsCompany reports whether f is a company attribute.
func (f EnrichmentField) IsCompany() bool { return strings.HasPrefix(string(f), companyPrefix) }

// IsPerson reports whether f is a person attribute.
func (f EnrichmentField) IsPerson() bool { return strings.HasPrefix(string(f), personPrefix) }

// Valid reports whether f belongs to the closed field set.
func (f EnrichmentField) Valid() bool {
	_, ok := fieldSet[f]
	return ok
}

// ParseField converts a column key such as "Company Domain" or
// "person-email" to an EnrichmentField.
func ParseField(s string) (EnrichmentField, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(key)
	f := EnrichmentField(key)
	if !f.Valid() {
		return "", eris.Errorf("model: unknown enrichment field %q", s)
	}
	return f, nil
}

// AllFields returns every field in declaration order.
func AllFields() []EnrichmentField {
	out := make([]EnrichmentField, len(allFields))
	copy(out, allFields)
	return out
}

// CompanyFields returns the company_ partition.
func CompanyFields() []EnrichmentField {
	return filterFields(EnrichmentField.IsCompany)
}

// PersonFields returns the person_ partition.
func PersonFields() []EnrichmentField {
	return filterFields(EnrichmentField.IsPerson)
}

func filterFields(keep func(EnrichmentField) bool) []EnrichmentField {
	var out []EnrichmentField
	for _, f := range allFields {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

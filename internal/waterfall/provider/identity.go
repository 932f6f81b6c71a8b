package provider

import (
	"net/url"
	"strings"

	"github.com/sells-group/entity-enrich/internal/model"
)

// freeMailDomains never identify an employer.
var freeMailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"aol.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"proton.me":      true,
	"protonmail.com": true,
}

// domainFor finds a company website domain for id from its key, an email
// address, or already known data. It is empty when none is available.
func domainFor(id model.Identifier) string {
	switch id.Kind {
	case model.KindDomain:
		return strings.TrimPrefix(id.Normalized, "domain:")
	case model.KindEmail:
		addr := strings.TrimPrefix(id.Normalized, "email:")
		if at := strings.LastIndex(addr, "@"); at >= 0 {
			if d := addr[at+1:]; d != "" && !freeMailDomains[d] {
				return d
			}
		}
	}
	if v, ok := id.Known.Get(model.FieldCompanyDomain); ok {
		return hostOf(v.String())
	}
	return ""
}

// hostOf reduces a URL or bare hostname to its host without "www.".
func hostOf(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// isPerson reports whether id should be treated as a person lookup.
func isPerson(id model.Identifier) bool {
	switch id.Type {
	case model.EntityPerson:
		return true
	case model.EntityCompany:
		return false
	}
	return strings.Contains(id.LinkedInURL(), "/in/")
}

// fieldsForType narrows fields to the entity's partition. Unknown types
// keep everything.
func fieldsForType(id model.Identifier, fields []model.EnrichmentField) []model.EnrichmentField {
	if id.Type == model.EntityUnknown || id.Type == "" {
		return fields
	}
	var out []model.EnrichmentField
	for _, f := range fields {
		if (id.Type == model.EntityCompany && f.IsCompany()) || (id.Type == model.EntityPerson && f.IsPerson()) {
			out = append(out, f)
		}
	}
	return out
}

func without(fields []model.EnrichmentField, drop ...model.EnrichmentField) []model.EnrichmentField {
	skip := make(map[model.EnrichmentField]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	var out []model.EnrichmentField
	for _, f := range fields {
		if !skip[f] {
			out = append(out, f)
		}
	}
	return out
}

package resolve

import (
	"regexp"
	"strings"

	"github.com/sells-group/entity-enrich/internal/model"
)

var (
	companyKeyRe = regexp.MustCompile(`(?i)(^company|company$|organi[sz]ation|^org(_|$)|business|employer|firm|account|domain|website|homepage|^url$)`)
	personKeyRe  = regexp.MustCompile(`(?i)(^person|person$|people|contact|first_?name|last_?name|full_?name|e-?mail|job_?title|^title$|lead|candidate|profile)`)
	companyValRe = regexp.MustCompile(`(?i)\b(inc|llc|ltd|corp|corporation|gmbh|plc|llp)\b\.?`)
)

// DetectType classifies a (column, value) pair. LinkedIn URL shape wins over
// the column key, which wins over value heuristics. Returns EntityUnknown
// when nothing matches.
func DetectType(columnKey, value string) model.EntityType {
	v := strings.ToLower(strings.TrimSpace(value))

	if strings.Contains(v, "linkedin.com") {
		switch {
		case strings.Contains(v, "/company/"), strings.Contains(v, "/school/"), strings.Contains(v, "/showcase/"):
			return model.EntityCompany
		case strings.Contains(v, "/in/"):
			return model.EntityPerson
		}
	}

	key := strings.ToLower(strings.TrimSpace(columnKey))
	switch {
	case strings.HasPrefix(key, "company_"):
		return model.EntityCompany
	case strings.HasPrefix(key, "person_"):
		return model.EntityPerson
	case companyKeyRe.MatchString(key):
		return model.EntityCompany
	case personKeyRe.MatchString(key):
		return model.EntityPerson
	}

	switch KindOf(Normalize(v)) {
	case model.KindEmail:
		return model.EntityPerson
	case model.KindDomain:
		return model.EntityCompany
	}
	if companyValRe.MatchString(v) {
		return model.EntityCompany
	}
	return model.EntityUnknown
}

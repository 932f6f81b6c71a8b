package model

import "strings"

// EntityType classifies what an entity represents.
type EntityType string

const (
	EntityCompany EntityType = "company"
	EntityPerson  EntityType = "person"
	EntityUnknown EntityType = "unknown"
)

// IdentifierKind is the resolver tier an identifier was found in.
type IdentifierKind string

const (
	KindLinkedIn IdentifierKind = "linkedin"
	KindEmail    IdentifierKind = "email"
	KindDomain   IdentifierKind = "domain"
	KindName     IdentifierKind = "name"
)

// RowData is one input row keyed by column key.
type RowData struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// ColumnData describes one input column.
type ColumnData struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
}

// TargetCell is a (row, column) pair an entity's result is written to.
type TargetCell struct {
	RowID     string `json:"row_id"`
	ColumnKey string `json:"column_key"`
}

// Identifier is what a provider looks up.
type Identifier struct {
	Raw        string         `json:"raw"`
	Normalized string         `json:"normalized"`
	Kind       IdentifierKind `json:"kind"`
	Type       EntityType     `json:"type"`
	SourceData map[string]any `json:"source_data,omitempty"`
	Known      EnrichmentData `json:"known,omitempty"`
}

// Entity is one deduplicated real-world company or person referenced by
// one or more table cells.
type Entity struct {
	ID                   string            `json:"entity_id"`
	Type                 EntityType        `json:"type"`
	Identifier           string            `json:"identifier"`
	NormalizedIdentifier string            `json:"normalized_identifier"`
	IdentifierKind       IdentifierKind    `json:"identifier_kind"`
	RequestedFields      []EnrichmentField `json:"requested_fields"`
	TargetCells          []TargetCell      `json:"target_cells"`
	SourceData           map[string]any    `json:"source_data,omitempty"`
	Data                 EnrichmentData    `json:"data"`
	RowIDs               []string          `json:"row_ids"`
	requested            map[EnrichmentField]struct{}
}

// Requests reports whether f is among the requested fields.
func (e *Entity) Requests(f EnrichmentField) bool {
	if e.requested == nil {
		e.requested = make(map[EnrichmentField]struct{}, len(e.RequestedFields))
		for _, r := range e.RequestedFields {
			e.requested[r] = struct{}{}
		}
	}
	_, ok := e.requested[f]
	return ok
}

// AddRequested appends f unless already present.
func (e *Entity) AddRequested(f EnrichmentField) {
	if e.Requests(f) {
		return
	}
	e.RequestedFields = append(e.RequestedFields, f)
	e.requested[f] = struct{}{}
}

// Lookup builds the identifier handed to providers. Known carries a
// snapshot of the entity's current data.
func (e *Entity) Lookup() Identifier {
	return Identifier{
		Raw:        e.Identifier,
		Normalized: e.NormalizedIdentifier,
		Kind:       e.IdentifierKind,
		Type:       e.Type,
		SourceData: e.SourceData,
		Known:      e.Data.Clone(),
	}
}

// LinkedInURL returns a LinkedIn profile URL for the identifier, either
// rebuilt from a linkedin: key or taken from already known data. It is
// empty when neither is available.
func (id Identifier) LinkedInURL() string {
	if id.Kind == KindLinkedIn {
		slug := strings.TrimPrefix(id.Normalized, "linkedin:")
		if slug != "" {
			if id.Type == EntityPerson {
				return "https://www.linkedin.com/in/" + slug
			}
			return "https://www.linkedin.com/company/" + slug
		}
	}
	for _, f := range []EnrichmentField{FieldCompanyLinkedInURL, FieldPersonLinkedInURL} {
		if v, ok := id.Known.Get(f); ok {
			if s, isStr := v.Value.(string); isStr && strings.Contains(strings.ToLower(s), "linkedin.com") {
				return s
			}
		}
	}
	return ""
}

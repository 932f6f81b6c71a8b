package resolve

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"

	"github.com/sells-group/entity-enrich/internal/model"
)

// tier is one level of the best-identifier priority.
type tier struct {
	kind model.IdentifierKind
	keys *regexp.Regexp
}

var tiers = []tier{
	{model.KindLinkedIn, regexp.MustCompile(`(?i)linked_?in|li_?(url|profile)`)},
	{model.KindEmail, regexp.MustCompile(`(?i)e-?mail`)},
	{model.KindDomain, regexp.MustCompile(`(?i)domain|website|web_site|homepage|(^|_)url$|(^|_)site$`)},
	{model.KindName, regexp.MustCompile(`(?i)name|company|organi[sz]ation|person|contact|employer|business`)},
}

// Warning describes a row the resolver could not use or an anomaly found
// while resolving.
type Warning struct {
	RowID   string `json:"row_id,omitempty"`
	Message string `json:"message"`
}

// Stats summarizes one resolution pass.
type Stats struct {
	TotalRows       int                      `json:"total_rows"`
	ResolvedRows    int                      `json:"resolved_rows"`
	SkippedRows     int                      `json:"skipped_rows"`
	TotalCells      int                      `json:"total_cells"`
	UniqueEntities  int                      `json:"unique_entities"`
	DuplicatesFound int                      `json:"duplicates_found"`
	ByType          map[model.EntityType]int `json:"by_type"`
	CellsPerEntity  float64                  `json:"cells_per_entity"`
}

// EntityID hashes (type, normalized) into a stable entity identifier using
// 64-bit FNV-1a.
func EntityID(t model.EntityType, normalized string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(string(t) + ":" + normalized))
	return fmt.Sprintf("ent_%016x", h.Sum64())
}

// ResolveEntities groups rows into deduplicated entities. It performs no
// I/O. Entities are returned in first-seen order.
func ResolveEntities(rows []model.RowData, columns []model.ColumnData) ([]*model.Entity, Stats, []Warning) {
	stats := Stats{
		TotalRows: len(rows),
		ByType:    make(map[model.EntityType]int),
	}
	var warnings []Warning

	requested := requestedFromColumns(columns)

	byID := make(map[string]*model.Entity)
	var order []*model.Entity

	for _, row := range rows {
		keys := rowKeys(row, columns)

		raw, column, kind, ok := bestIdentifier(row, keys)
		if !ok {
			stats.SkippedRows++
			warnings = append(warnings, Warning{RowID: row.ID, Message: "no identifier found in row"})
			continue
		}

		normalized := Normalize(raw)
		if kind == model.KindLinkedIn && KindOf(normalized) != model.KindLinkedIn {
			if key := LinkedInKey(raw); key != "" {
				normalized = key
			}
		}
		if normalized == "" {
			stats.SkippedRows++
			warnings = append(warnings, Warning{RowID: row.ID, Message: fmt.Sprintf("identifier %q normalizes to empty", raw)})
			continue
		}

		entityType := DetectType(column, raw)
		id := EntityID(entityType, normalized)

		ent, exists := byID[id]
		for salt := 1; exists && (ent.Type != entityType || ent.NormalizedIdentifier != normalized); salt++ {
			warnings = append(warnings, Warning{
				RowID:   row.ID,
				Message: fmt.Sprintf("entity id collision on %s between %q and %q", id, ent.NormalizedIdentifier, normalized),
			})
			id = EntityID(entityType, fmt.Sprintf("%s#%d", normalized, salt))
			ent, exists = byID[id]
		}

		if !exists {
			ent = &model.Entity{
				ID:                   id,
				Type:                 entityType,
				Identifier:           raw,
				NormalizedIdentifier: normalized,
				IdentifierKind:       KindOf(normalized),
				SourceData:           make(map[string]any),
				Data:                 make(model.EnrichmentData),
			}
			for _, f := range requestedFor(entityType, requested) {
				ent.AddRequested(f)
			}
			byID[id] = ent
			order = append(order, ent)
			stats.ByType[entityType]++
		}

		stats.ResolvedRows++
		ent.RowIDs = append(ent.RowIDs, row.ID)

		targets := columnKeys(columns, keys)
		for _, key := range targets {
			ent.TargetCells = append(ent.TargetCells, model.TargetCell{RowID: row.ID, ColumnKey: key})
		}
		stats.TotalCells += len(targets)

		for k, v := range row.Data {
			if cur, ok := ent.SourceData[k]; ok && !isBlank(cur) {
				continue
			}
			ent.SourceData[k] = v
		}
	}

	stats.UniqueEntities = len(order)
	// Skipped rows count as duplicates: they add no entity.
	stats.DuplicatesFound = stats.TotalRows - stats.UniqueEntities
	if stats.UniqueEntities > 0 {
		stats.CellsPerEntity = float64(stats.TotalCells) / float64(stats.UniqueEntities)
	}

	return order, stats, warnings
}

// bestIdentifier picks the highest-priority non-empty identifier in the
// row. When no tier matches, the first non-empty string value is used as a
// name.
func bestIdentifier(row model.RowData, keys []string) (value, column string, kind model.IdentifierKind, ok bool) {
	for _, t := range tiers {
		for _, k := range keys {
			if !t.keys.MatchString(k) {
				continue
			}
			if s, isStr := stringValue(row.Data[k]); isStr {
				return s, k, t.kind, true
			}
		}
	}
	for _, k := range keys {
		if s, isStr := stringValue(row.Data[k]); isStr {
			return s, k, model.KindName, true
		}
	}
	return "", "", "", false
}

// rowKeys orders a row's keys: declared columns first, then any extra keys
// sorted for determinism.
func rowKeys(row model.RowData, columns []model.ColumnData) []string {
	seen := make(map[string]struct{}, len(columns))
	keys := make([]string, 0, len(row.Data))
	for _, c := range columns {
		if _, ok := row.Data[c.Key]; ok {
			keys = append(keys, c.Key)
			seen[c.Key] = struct{}{}
		}
	}
	var extra []string
	for k := range row.Data {
		if _, ok := seen[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

// columnKeys returns the cells a row's entity writes to: every declared
// column, or the row's own keys when the table declares none.
func columnKeys(columns []model.ColumnData, rowKeys []string) []string {
	if len(columns) == 0 {
		return rowKeys
	}
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.Key
	}
	return out
}

func requestedFromColumns(columns []model.ColumnData) []model.EnrichmentField {
	var out []model.EnrichmentField
	seen := make(map[model.EnrichmentField]struct{})
	for _, c := range columns {
		f, err := model.ParseField(c.Key)
		if err != nil {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// requestedFor falls back to the type's default field set when the table
// declares no enrichment columns.
func requestedFor(t model.EntityType, fromColumns []model.EnrichmentField) []model.EnrichmentField {
	if len(fromColumns) > 0 {
		return fromColumns
	}
	switch t {
	case model.EntityCompany:
		return model.CompanyFields()
	case model.EntityPerson:
		return model.PersonFields()
	default:
		return model.AllFields()
	}
}

func stringValue(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

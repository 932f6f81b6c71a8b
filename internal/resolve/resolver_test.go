package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-enrich/internal/model"
)

func cols(keys ...string) []model.ColumnData {
	out := make([]model.ColumnData, len(keys))
	for i, k := range keys {
		out[i] = model.ColumnData{ID: "c" + k, Key: k}
	}
	return out
}

func TestResolveEntities_LinkedInWins(t *testing.T) {
	t.Parallel()

	rows := []model.RowData{
		{ID: "r1", Data: map[string]any{
			"company":  "Acme, Inc.",
			"linkedin": "https://linkedin.com/company/acme",
		}},
	}

	entities, stats, warnings := ResolveEntities(rows, cols("company", "linkedin"))
	require.Len(t, entities, 1)
	assert.Empty(t, warnings)

	e := entities[0]
	assert.Equal(t, model.EntityCompany, e.Type)
	assert.Equal(t, "linkedin:acme", e.NormalizedIdentifier)
	assert.Equal(t, model.KindLinkedIn, e.IdentifierKind)
	assert.Equal(t, EntityID(model.EntityCompany, "linkedin:acme"), e.ID)
	assert.Equal(t, []model.TargetCell{
		{RowID: "r1", ColumnKey: "company"},
		{RowID: "r1", ColumnKey: "linkedin"},
	}, e.TargetCells)
	assert.Equal(t, "Acme, Inc.", e.SourceData["company"])
	assert.Equal(t, 1, stats.UniqueEntities)
	assert.Equal(t, 0, stats.DuplicatesFound)
}

func TestResolveEntities_NameVariantsDeduplicate(t *testing.T) {
	t.Parallel()

	rows := []model.RowData{
		{ID: "r1", Data: map[string]any{"company": "Acme Inc"}},
		{ID: "r2", Data: map[string]any{"company": "acme"}},
	}

	entities, stats, _ := ResolveEntities(rows, cols("company", "company_domain"))
	require.Len(t, entities, 1)
	assert.Equal(t, "acme", entities[0].NormalizedIdentifier)
	assert.Equal(t, []string{"r1", "r2"}, entities[0].RowIDs)
	assert.Len(t, entities[0].TargetCells, 4)
	assert.Equal(t, 1, stats.DuplicatesFound)
	assert.Equal(t, 2, stats.TotalRows)
	assert.Equal(t, 4, stats.TotalCells)
	assert.InDelta(t, 4.0, stats.CellsPerEntity, 0.001)
}

func TestResolveEntities_TierPriority(t *testing.T) {
	t.Parallel()

	rows := []model.RowData{
		{ID: "r1", Data: map[string]any{
			"name":    "Jane Doe",
			"website": "https://acme.com",
			"email":   "jane@acme.com",
		}},
		{ID: "r2", Data: map[string]any{
			"name":    "Acme",
			"website": "https://www.acme.com/",
		}},
	}

	entities, _, _ := ResolveEntities(rows, cols("name", "website", "email"))
	require.Len(t, entities, 2)
	assert.Equal(t, "email:jane@acme.com", entities[0].NormalizedIdentifier)
	assert.Equal(t, model.EntityPerson, entities[0].Type)
	assert.Equal(t, "domain:acme.com", entities[1].NormalizedIdentifier)
	assert.Equal(t, model.EntityCompany, entities[1].Type)
}

func TestResolveEntities_FallbackToFirstString(t *testing.T) {
	t.Parallel()

	rows := []model.RowData{
		{ID: "r1", Data: map[string]any{"revenue": 1200.0, "notes": "Globex LLC"}},
	}

	entities, _, _ := ResolveEntities(rows, cols("revenue", "notes"))
	require.Len(t, entities, 1)
	assert.Equal(t, "globex", entities[0].NormalizedIdentifier)
	assert.Equal(t, model.KindName, entities[0].IdentifierKind)
	assert.Equal(t, model.EntityCompany, entities[0].Type)
}

func TestResolveEntities_SkipsRowsWithoutIdentifier(t *testing.T) {
	t.Parallel()

	rows := []model.RowData{
		{ID: "r1", Data: map[string]any{"company": "  ", "employees": 40.0}},
		{ID: "r2", Data: map[string]any{"company": "Initech"}},
	}

	entities, stats, warnings := ResolveEntities(rows, cols("company", "employees"))
	require.Len(t, entities, 1)
	require.Len(t, warnings, 1)
	assert.Equal(t, "r1", warnings[0].RowID)
	assert.Equal(t, 1, stats.SkippedRows)
	assert.Equal(t, 1, stats.ResolvedRows)
	assert.Equal(t, 1, stats.DuplicatesFound)
}

func TestResolveEntities_DuplicatesCountEveryRow(t *testing.T) {
	t.Parallel()

	rows := []model.RowData{
		{ID: "r1", Data: map[string]any{"company": "Acme Inc"}},
		{ID: "r2", Data: map[string]any{"company": "acme"}},
		{ID: "r3", Data: map[string]any{"company": ""}},
	}

	entities, stats, _ := ResolveEntities(rows, cols("company"))
	require.Len(t, entities, 1)
	assert.Equal(t, 3, stats.TotalRows)
	assert.Equal(t, 1, stats.UniqueEntities)
	assert.Equal(t, 1, stats.SkippedRows)
	assert.Equal(t, 2, stats.DuplicatesFound)
}

func TestResolveEntities_TypeSplitsIDsNotCacheKey(t *testing.T) {
	t.Parallel()

	rows := []model.RowData{
		{ID: "r1", Data: map[string]any{"name": "Acme Inc"}},
		{ID: "r2", Data: map[string]any{"name": "acme"}},
	}

	entities, stats, _ := ResolveEntities(rows, cols("name"))
	require.Len(t, entities, 2)
	assert.NotEqual(t, entities[0].Type, entities[1].Type)
	assert.NotEqual(t, entities[0].ID, entities[1].ID)
	assert.Equal(t, "acme", entities[0].NormalizedIdentifier)
	assert.Equal(t, entities[0].NormalizedIdentifier, entities[1].NormalizedIdentifier)
	assert.Equal(t, 0, stats.DuplicatesFound)
}

func TestResolveEntities_RequestedFields(t *testing.T) {
	t.Parallel()

	t.Run("from columns", func(t *testing.T) {
		t.Parallel()
		rows := []model.RowData{{ID: "r1", Data: map[string]any{"company": "Acme"}}}
		entities, _, _ := ResolveEntities(rows, cols("company", "company_domain", "Company Industry", "notes"))
		require.Len(t, entities, 1)
		assert.Equal(t, []model.EnrichmentField{model.FieldCompanyDomain, model.FieldCompanyIndustry}, entities[0].RequestedFields)
	})

	t.Run("defaults by type", func(t *testing.T) {
		t.Parallel()
		rows := []model.RowData{{ID: "r1", Data: map[string]any{"email": "jane@acme.com"}}}
		entities, _, _ := ResolveEntities(rows, cols("email"))
		require.Len(t, entities, 1)
		assert.Equal(t, model.PersonFields(), entities[0].RequestedFields)
	})
}

func TestResolveEntities_SourceDataFirstNonBlankWins(t *testing.T) {
	t.Parallel()

	rows := []model.RowData{
		{ID: "r1", Data: map[string]any{"company": "Acme", "city": ""}},
		{ID: "r2", Data: map[string]any{"company": "ACME Inc.", "city": "Austin"}},
		{ID: "r3", Data: map[string]any{"company": "acme", "city": "Dallas"}},
	}

	entities, _, _ := ResolveEntities(rows, cols("company", "city"))
	require.Len(t, entities, 1)
	assert.Equal(t, "Austin", entities[0].SourceData["city"])
	assert.Equal(t, "Acme", entities[0].SourceData["company"])
}

func TestResolveEntities_NoColumnsUsesRowKeys(t *testing.T) {
	t.Parallel()

	rows := []model.RowData{{ID: "r1", Data: map[string]any{"b": "x", "a": "Acme"}}}
	entities, _, _ := ResolveEntities(rows, nil)
	require.Len(t, entities, 1)
	assert.Equal(t, []model.TargetCell{{RowID: "r1", ColumnKey: "a"}, {RowID: "r1", ColumnKey: "b"}}, entities[0].TargetCells)
}

func TestResolveEntities_Invariants(t *testing.T) {
	t.Parallel()

	rows := []model.RowData{
		{ID: "r1", Data: map[string]any{"company": "Acme"}},
		{ID: "r2", Data: map[string]any{"company": "Acme Inc."}},
		{ID: "r3", Data: map[string]any{"email": "bob@globex.com"}},
		{ID: "r4", Data: map[string]any{"linkedin": "https://linkedin.com/in/bob"}},
		{ID: "r5", Data: map[string]any{}},
	}

	entities, stats, _ := ResolveEntities(rows, cols("company", "email", "linkedin"))
	assert.LessOrEqual(t, stats.UniqueEntities, stats.TotalRows)
	assert.GreaterOrEqual(t, stats.DuplicatesFound, 0)
	assert.Equal(t, stats.TotalRows-stats.UniqueEntities, stats.DuplicatesFound)

	ids := make(map[string]struct{})
	for _, e := range entities {
		assert.NotEmpty(t, e.TargetCells, e.ID)
		assert.Equal(t, EntityID(e.Type, e.NormalizedIdentifier), e.ID)
		_, dup := ids[e.ID]
		assert.False(t, dup)
		ids[e.ID] = struct{}{}
	}
	total := 0
	for _, n := range stats.ByType {
		total += n
	}
	assert.Equal(t, stats.UniqueEntities, total)
}

func TestEntityID_Deterministic(t *testing.T) {
	t.Parallel()

	a := EntityID(model.EntityCompany, "acme")
	assert.Equal(t, a, EntityID(model.EntityCompany, "acme"))
	assert.NotEqual(t, a, EntityID(model.EntityPerson, "acme"))
	assert.Regexp(t, `^ent_[0-9a-f]{16}$`, a)
}

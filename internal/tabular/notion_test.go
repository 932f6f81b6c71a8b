package tabular

import (
	"context"
	"errors"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-enrich/internal/model"
)

type mockNotion struct {
	mock.Mock
}

func (m *mockNotion) RetrieveDatabase(ctx context.Context, dbID string) (*notionapi.Database, error) {
	args := m.Called(ctx, dbID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Database), args.Error(1)
}

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func leadPages() []notionapi.Page {
	return []notionapi.Page{
		{
			ID: "page-1",
			Properties: notionapi.Properties{
				"Name":                   &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: "Acme"}}},
				"Website":                &notionapi.URLProperty{URL: "https://acme.com"},
				"Company Industry":       &notionapi.RichTextProperty{},
				"Company Employee Count": &notionapi.NumberProperty{},
			},
		},
		{
			ID: "page-2",
			Properties: notionapi.Properties{
				"Name":             &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: "Globex"}}},
				"Website":          &notionapi.URLProperty{URL: "https://globex.com"},
				"Company Industry": &notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: "Energy"}}},
				"Owner":            &notionapi.CheckboxProperty{Checkbox: true},
			},
		},
	}
}

func leadSchema() *notionapi.Database {
	return &notionapi.Database{Properties: notionapi.PropertyConfigs{
		"Name":             &notionapi.TitlePropertyConfig{},
		"Website":          &notionapi.URLPropertyConfig{},
		"Company Industry": &notionapi.RichTextPropertyConfig{},
		"Company Phone":    &notionapi.PhoneNumberPropertyConfig{},
	}}
}

func TestNotionTable_Read(t *testing.T) {
	mc := new(mockNotion)
	ctx := context.Background()
	mc.On("RetrieveDatabase", ctx, "db-1").Return(leadSchema(), nil).Once()
	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{Results: leadPages()}, nil).Once()

	tbl, err := NewNotionTable(mc, "db-1").Read(ctx)
	require.NoError(t, err)

	keys := make([]string, len(tbl.Columns))
	for i, c := range tbl.Columns {
		keys[i] = c.Key
	}
	assert.Equal(t, []string{"Company Industry", "Company Phone", "Name", "Website", "Company Employee Count", "Owner"}, keys)

	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "page-1", tbl.Rows[0].ID)
	assert.Equal(t, "https://acme.com", tbl.Rows[0].Data["Website"])
	assert.Nil(t, tbl.Rows[0].Data["Company Industry"])
	assert.Equal(t, "Energy", tbl.Rows[1].Data["Company Industry"])
	mc.AssertExpectations(t)
}

func TestNotionTable_ReadError(t *testing.T) {
	mc := new(mockNotion)
	mc.On("RetrieveDatabase", mock.Anything, "db-1").Return(leadSchema(), nil)
	mc.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).Return(nil, errors.New("unauthorized"))

	nt := NewNotionTable(mc, "db-1")
	_, err := nt.Read(context.Background())
	assert.ErrorContains(t, err, "unauthorized")

	_, err = nt.WriteBack(context.Background(), nil)
	assert.ErrorContains(t, err, "write-back before read")
}

func TestNotionTable_SchemaError(t *testing.T) {
	mc := new(mockNotion)
	mc.On("RetrieveDatabase", mock.Anything, "db-1").Return(nil, errors.New("object_not_found"))

	_, err := NewNotionTable(mc, "db-1").Read(context.Background())
	assert.ErrorContains(t, err, "notion table: schema db-1")
	mc.AssertNotCalled(t, "QueryDatabase", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotionTable_WriteBack(t *testing.T) {
	mc := new(mockNotion)
	ctx := context.Background()
	mc.On("RetrieveDatabase", ctx, "db-1").Return(leadSchema(), nil)
	mc.On("QueryDatabase", ctx, "db-1", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{Results: leadPages()}, nil)

	nt := NewNotionTable(mc, "db-1")
	_, err := nt.Read(ctx)
	require.NoError(t, err)

	mc.On("UpdatePage", ctx, "page-1", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		ind, ok := req.Properties["Company Industry"].(notionapi.RichTextProperty)
		if !ok || len(ind.RichText) != 1 || ind.RichText[0].Text.Content != "Industrial automation" {
			return false
		}
		emp, ok := req.Properties["Company Employee Count"].(notionapi.NumberProperty)
		return ok && emp.Number == 250 && len(req.Properties) == 2
	})).Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	results := []model.EntityResult{
		{
			Data: model.EnrichmentData{
				model.FieldCompanyIndustry:      {Value: "Industrial automation", Confidence: 80},
				model.FieldCompanyEmployeeCount: {Value: 250.0, Confidence: 75},
				model.FieldCompanyName:          {Value: "Acme Corporation", Confidence: 90},
			},
			TargetCells: []model.TargetCell{
				{RowID: "page-1", ColumnKey: "Company Industry"},
				{RowID: "page-1", ColumnKey: "Company Employee Count"},
				{RowID: "page-1", ColumnKey: "Name"},
				{RowID: "page-1", ColumnKey: "Website"},
			},
		},
		{
			Data: model.EnrichmentData{
				model.FieldCompanyIndustry: {Value: "Utilities", Confidence: 80},
			},
			TargetCells: []model.TargetCell{
				{RowID: "page-2", ColumnKey: "Company Industry"},
				{RowID: "page-9", ColumnKey: "Company Industry"},
			},
		},
	}

	n, err := nt.WriteBack(ctx, results)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "page-2 already has an industry")
	mc.AssertExpectations(t)
}

func TestNotionTable_WriteBackFailures(t *testing.T) {
	mc := new(mockNotion)
	ctx := context.Background()
	mc.On("RetrieveDatabase", ctx, "db-1").Return(leadSchema(), nil)
	mc.On("QueryDatabase", ctx, "db-1", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{Results: leadPages()}, nil)
	mc.On("UpdatePage", ctx, "page-1", mock.Anything).Return(nil, errors.New("conflict"))

	nt := NewNotionTable(mc, "db-1")
	_, err := nt.Read(ctx)
	require.NoError(t, err)

	n, err := nt.WriteBack(ctx, []model.EntityResult{{
		Data:        model.EnrichmentData{model.FieldCompanyIndustry: {Value: "Software"}},
		TargetCells: []model.TargetCell{{RowID: "page-1", ColumnKey: "Company Industry"}},
	}})
	assert.Zero(t, n)
	assert.ErrorContains(t, err, "1 of 1 page updates failed")
}

func TestNotionTable_WriteBackBeforeRead(t *testing.T) {
	_, err := NewNotionTable(new(mockNotion), "db-1").WriteBack(context.Background(), nil)
	assert.Error(t, err)
}

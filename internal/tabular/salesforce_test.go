package tabular

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/pkg/salesforce"
)

type mockSalesforce struct {
	mock.Mock
}

func (m *mockSalesforce) Query(ctx context.Context, soql string, out any) error {
	args := m.Called(ctx, soql, out)
	if accts, ok := args.Get(0).([]salesforce.Account); ok {
		*out.(*[]salesforce.Account) = accts
	}
	return args.Error(1)
}

func (m *mockSalesforce) UpdateCollection(ctx context.Context, sObject string, records []salesforce.CollectionRecord) ([]salesforce.CollectionResult, error) {
	args := m.Called(ctx, sObject, records)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]salesforce.CollectionResult), args.Error(1)
}

func accountRecords() []salesforce.Account {
	return []salesforce.Account{
		{ID: "001A", Name: "Acme", Website: "https://acme.com", BillingCity: "Austin", BillingState: "TX"},
		{ID: "001B", Name: "Globex", Website: "globex.com", Industry: "Energy", NumberOfEmployees: 40},
	}
}

func TestParseSalesforceSource(t *testing.T) {
	where, limit, err := ParseSalesforceSource("salesforce://accounts?where=Industry%20%3D%20null&limit=50")
	require.NoError(t, err)
	assert.Equal(t, "Industry = null", where)
	assert.Equal(t, 50, limit)

	where, limit, err = ParseSalesforceSource("salesforce://")
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Zero(t, limit)

	_, _, err = ParseSalesforceSource("salesforce://contacts")
	assert.ErrorContains(t, err, "unsupported salesforce object")
	_, _, err = ParseSalesforceSource("salesforce://accounts?limit=-1")
	assert.ErrorContains(t, err, "invalid salesforce limit")
	_, _, err = ParseSalesforceSource("notion://db")
	assert.Error(t, err)
}

func TestSalesforceTable_Read(t *testing.T) {
	ms := new(mockSalesforce)
	ctx := context.Background()
	ms.On("Query", ctx, mock.MatchedBy(func(soql string) bool {
		return containsAll(soql, "FROM Account", "WHERE Industry = null", "LIMIT 10")
	}), mock.Anything).Return(accountRecords(), nil)

	tbl, err := NewSalesforceTable(ms, "Industry = null", 10).Read(ctx)
	require.NoError(t, err)
	ms.AssertExpectations(t)

	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "001A", tbl.Rows[0].ID)
	assert.Equal(t, "https://acme.com", tbl.Rows[0].Data["website"])
	assert.Equal(t, "Acme", tbl.Rows[0].Data["company_name"])
	assert.Equal(t, "Austin, TX", tbl.Rows[0].Data["company_headquarters"])
	assert.Nil(t, tbl.Rows[0].Data["company_employee_count"])
	assert.Equal(t, 40.0, tbl.Rows[1].Data["company_employee_count"])

	var keys []string
	for _, c := range tbl.Columns {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []string{
		"website", "company_name", "company_industry", "company_description",
		"company_phone", "company_employee_count", "company_headquarters",
	}, keys)
}

func TestSalesforceTable_WriteBack(t *testing.T) {
	ms := new(mockSalesforce)
	ctx := context.Background()
	ms.On("Query", ctx, mock.Anything, mock.Anything).Return(accountRecords(), nil)

	st := NewSalesforceTable(ms, "", 0)
	_, err := st.Read(ctx)
	require.NoError(t, err)

	ms.On("UpdateCollection", ctx, "Account", mock.MatchedBy(func(recs []salesforce.CollectionRecord) bool {
		if len(recs) != 2 || recs[0].ID != "001A" || recs[1].ID != "001B" {
			return false
		}
		a, b := recs[0].Fields, recs[1].Fields
		return len(a) == 2 && a["Industry"] == "Industrial automation" && a["NumberOfEmployees"] == 250 &&
			len(b) == 1 && b["Phone"] == "+1 555 0100"
	})).Return([]salesforce.CollectionResult{{ID: "001A", Success: true}, {ID: "001B", Success: true}}, nil).Once()

	results := []model.EntityResult{
		{
			Data: model.EnrichmentData{
				model.FieldCompanyIndustry:      {Value: "Industrial automation", Confidence: 80},
				model.FieldCompanyEmployeeCount: {Value: 250.0, Confidence: 75},
				model.FieldCompanyName:          {Value: "Acme Corporation", Confidence: 90},
			},
			TargetCells: []model.TargetCell{
				{RowID: "001A", ColumnKey: "company_industry"},
				{RowID: "001A", ColumnKey: "company_employee_count"},
				{RowID: "001A", ColumnKey: "company_name"},
			},
		},
		{
			Data: model.EnrichmentData{
				model.FieldCompanyIndustry:      {Value: "Utilities", Confidence: 80},
				model.FieldCompanyEmployeeCount: {Value: 90.0, Confidence: 80},
				model.FieldCompanyPhone:         {Value: "+1 555 0100", Confidence: 70},
			},
			TargetCells: []model.TargetCell{
				{RowID: "001B", ColumnKey: "company_industry"},
				{RowID: "001B", ColumnKey: "company_employee_count"},
				{RowID: "001B", ColumnKey: "company_phone"},
				{RowID: "001Z", ColumnKey: "company_phone"},
			},
		},
	}

	n, err := st.WriteBack(ctx, results)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	ms.AssertExpectations(t)
}

func TestSalesforceTable_WriteBackFailures(t *testing.T) {
	ms := new(mockSalesforce)
	ctx := context.Background()
	ms.On("Query", ctx, mock.Anything, mock.Anything).Return(accountRecords(), nil)
	ms.On("UpdateCollection", ctx, "Account", mock.Anything).
		Return([]salesforce.CollectionResult{{ID: "001A", Errors: []string{"FIELD_CUSTOM_VALIDATION_EXCEPTION"}}}, nil)

	st := NewSalesforceTable(ms, "", 0)
	_, err := st.Read(ctx)
	require.NoError(t, err)

	n, err := st.WriteBack(ctx, []model.EntityResult{{
		Data:        model.EnrichmentData{model.FieldCompanyIndustry: {Value: "Software"}},
		TargetCells: []model.TargetCell{{RowID: "001A", ColumnKey: "company_industry"}},
	}})
	assert.Zero(t, n)
	assert.ErrorContains(t, err, "1 of 1 account updates failed")
}

func TestSalesforceTable_WriteBackRejectedBatch(t *testing.T) {
	ms := new(mockSalesforce)
	ctx := context.Background()
	ms.On("Query", ctx, mock.Anything, mock.Anything).Return(accountRecords(), nil)
	ms.On("UpdateCollection", ctx, "Account", mock.Anything).Return(nil, errors.New("INVALID_SESSION_ID"))

	st := NewSalesforceTable(ms, "", 0)
	_, err := st.Read(ctx)
	require.NoError(t, err)

	n, err := st.WriteBack(ctx, []model.EntityResult{{
		Data:        model.EnrichmentData{model.FieldCompanyIndustry: {Value: "Software"}},
		TargetCells: []model.TargetCell{{RowID: "001A", ColumnKey: "company_industry"}},
	}})
	assert.Zero(t, n)
	assert.ErrorContains(t, err, "1 of 1 account updates failed")
}

func TestSalesforceTable_WriteBackErrors(t *testing.T) {
	ms := new(mockSalesforce)
	st := NewSalesforceTable(ms, "", 0)
	_, err := st.WriteBack(context.Background(), nil)
	assert.ErrorContains(t, err, "before read")

	ctx := context.Background()
	ms.On("Query", ctx, mock.Anything, mock.Anything).Return(nil, errors.New("INVALID_SESSION_ID"))
	_, err = st.Read(ctx)
	assert.ErrorContains(t, err, "salesforce table: read")
}

func TestSalesforceTable_NothingToWrite(t *testing.T) {
	ms := new(mockSalesforce)
	ctx := context.Background()
	ms.On("Query", ctx, mock.Anything, mock.Anything).Return(accountRecords(), nil)
	st := NewSalesforceTable(ms, "", 0)
	_, err := st.Read(ctx)
	require.NoError(t, err)

	n, err := st.WriteBack(ctx, []model.EntityResult{{
		Data:        model.EnrichmentData{model.FieldCompanyIndustry: {Value: "Oil"}},
		TargetCells: []model.TargetCell{{RowID: "001B", ColumnKey: "company_industry"}},
	}})
	require.NoError(t, err)
	assert.Zero(t, n, "existing values are never overwritten")
	ms.AssertNotCalled(t, "UpdateCollection", mock.Anything, mock.Anything, mock.Anything)
}

func TestAccountFieldValue(t *testing.T) {
	v, ok := accountFieldValue("NumberOfEmployees", "1,200")
	assert.True(t, ok)
	assert.Equal(t, 1200, v)
	_, ok = accountFieldValue("NumberOfEmployees", "many")
	assert.False(t, ok)
	_, ok = accountFieldValue("Industry", "  ")
	assert.False(t, ok)
}

func TestOpen_SalesforceNeedsClient(t *testing.T) {
	_, err := Open(context.Background(), "salesforce://accounts", OpenOptions{})
	assert.ErrorContains(t, err, "salesforce client")
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

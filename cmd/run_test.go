package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-enrich/internal/cost"
	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/pipeline"
	"github.com/sells-group/entity-enrich/internal/resilience"
	"github.com/sells-group/entity-enrich/internal/store"
	"github.com/sells-group/entity-enrich/internal/tabular"
	"github.com/sells-group/entity-enrich/internal/waterfall"
	"github.com/sells-group/entity-enrich/internal/waterfall/provider"
)

type nameProvider struct{ calls atomic.Int64 }

func (p *nameProvider) Name() string                   { return "website" }
func (p *nameProvider) Stage() model.Stage             { return model.StageFree }
func (p *nameProvider) Source() model.EnrichmentSource { return model.SourceWebsiteScrape }
func (p *nameProvider) CostCents() int                 { return 1 }
func (p *nameProvider) Fields() []model.EnrichmentField {
	return []model.EnrichmentField{model.FieldCompanyName}
}

func (p *nameProvider) Lookup(_ context.Context, id model.Identifier) (model.EnrichmentData, error) {
	p.calls.Add(1)
	return model.EnrichmentData{
		model.FieldCompanyName: model.NewValue("Name of "+id.Normalized, 95, model.SourceWebsiteScrape, time.Now()),
	}, nil
}

type recordingWriteBack struct {
	results []model.EntityResult
	err     error
}

func (w *recordingWriteBack) WriteBack(_ context.Context, results []model.EntityResult) (int, error) {
	w.results = results
	if w.err != nil {
		return 0, w.err
	}
	return len(results), nil
}

func newRunEnv(t *testing.T, p provider.Provider) *enrichEnv {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register(p)
	mem := store.NewMemory()
	exec := waterfall.NewExecutor(waterfall.NewDefaultConfig(), reg,
		waterfall.WithCache(mem),
		waterfall.WithRetrier(resilience.NewRetrier(resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond})),
	)
	calc := cost.NewCalculator(cost.DefaultRates())
	return &enrichEnv{
		Store:  mem,
		Runner: pipeline.NewRunner(exec, calc),
		Calc:   calc,
	}
}

func leadTable() *tabular.Table {
	return &tabular.Table{
		Columns: []model.ColumnData{{ID: "c1", Key: "website"}, {ID: "c2", Key: "company_name"}},
		Rows: []model.RowData{
			{ID: "1", Data: map[string]any{"website": "https://acme.com/", "company_name": ""}},
			{ID: "2", Data: map[string]any{"website": "acme.com", "company_name": "Keep"}},
			{ID: "3", Data: map[string]any{"website": "globex.com", "company_name": ""}},
		},
	}
}

func TestRunTable_Enriches(t *testing.T) {
	p := &nameProvider{}
	env := newRunEnv(t, p)
	tbl := leadTable()
	wb := &recordingWriteBack{}

	report, err := runTable(context.Background(), env, tbl, runOptions{BudgetCents: 100, Concurrency: 2, WriteBack: wb})
	require.NoError(t, err)

	assert.Equal(t, int64(2), p.calls.Load(), "duplicate rows share one lookup")
	assert.Equal(t, 3, report.Stats.TotalRows)
	require.NotNil(t, report.Result)
	assert.Equal(t, 1, report.Result.DuplicatesAvoided)
	assert.Equal(t, 2, report.CellsFilled)
	assert.Equal(t, "Name of domain:acme.com", tbl.Rows[0].Data["company_name"])
	assert.Equal(t, "Keep", tbl.Rows[1].Data["company_name"])
	assert.Equal(t, "Name of domain:globex.com", tbl.Rows[2].Data["company_name"])

	assert.Len(t, wb.results, 2)
	assert.Equal(t, 2, report.PagesUpdated)
	assert.Empty(t, report.WriteBackErr)
}

func TestRunTable_WriteBackError(t *testing.T) {
	env := newRunEnv(t, &nameProvider{})
	wb := &recordingWriteBack{err: errors.New("notion down")}

	report, err := runTable(context.Background(), env, leadTable(), runOptions{WriteBack: wb})
	require.NoError(t, err, "write-back failures are reported, not fatal")
	assert.Equal(t, "notion down", report.WriteBackErr)
}

func TestRunTable_Estimate(t *testing.T) {
	p := &nameProvider{}
	env := newRunEnv(t, p)

	report, err := runTable(context.Background(), env, leadTable(), runOptions{Estimate: true})
	require.NoError(t, err)
	assert.Zero(t, p.calls.Load())
	assert.Nil(t, report.Result)
	require.NotNil(t, report.Estimate)
	assert.Equal(t, 2, report.Estimate.Entities)
	assert.Equal(t, cost.DefaultEntityBudgetCents, report.Estimate.PerEntityBudgetCents)
	assert.Equal(t, 2, report.Estimate.WorstCaseCents)
}

func TestSummarize(t *testing.T) {
	r := &model.BatchResult{PerEntity: []model.EntityResult{{EntityID: "e"}}, TotalCostCents: 5}
	s := summarize(r)
	assert.Nil(t, s.PerEntity)
	assert.Equal(t, 5, s.TotalCostCents)
	assert.Len(t, r.PerEntity, 1, "original is untouched")
}

func TestWriteTable_Formats(t *testing.T) {
	dir := t.TempDir()
	tbl := leadTable()

	csvPath := filepath.Join(dir, "out.csv")
	require.NoError(t, writeTable(csvPath, tbl, nil))
	b, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "row_id,website,company_name\n"))

	jsonPath := filepath.Join(dir, "out.json")
	require.NoError(t, writeTable(jsonPath, tbl, nil))
	b, err = os.ReadFile(jsonPath)
	require.NoError(t, err)
	var back tabular.Table
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Len(t, back.Rows, 3)

	xlsxPath := filepath.Join(dir, "out.xlsx")
	require.NoError(t, writeTable(xlsxPath, tbl, nil))
	_, err = os.Stat(xlsxPath)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeTable("-", tbl, &buf))
	assert.Contains(t, buf.String(), "globex.com")

	assert.Error(t, writeTable(filepath.Join(dir, "out.parquet"), tbl, nil))
}

func TestWriteResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	r := &model.BatchResult{PerEntity: []model.EntityResult{{EntityID: "ent_1", Status: model.EntityStatusDone}}}
	require.NoError(t, writeResults(path, r))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var back []model.EntityResult
	require.NoError(t, json.Unmarshal(b, &back))
	require.Len(t, back, 1)
	assert.Equal(t, "ent_1", back[0].EntityID)
}

func TestOpenTable_NotionNeedsClient(t *testing.T) {
	_, _, err := openTable(context.Background(), tabular.NotionScheme+"db-1", "", nil)
	assert.ErrorContains(t, err, "ENRICH_NOTION_TOKEN")
}

func TestOpenTable_SalesforceNeedsCreds(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = testConfig()

	_, _, err := openTable(context.Background(), tabular.SalesforceScheme+"accounts", "", nil)
	assert.ErrorContains(t, err, "ENRICH_SALESFORCE_CLIENT_ID")

	cfg.Salesforce.ClientID = "3MVG9"
	cfg.Salesforce.KeyPath = filepath.Join(t.TempDir(), "missing.pem")
	_, _, err = openTable(context.Background(), tabular.SalesforceScheme+"accounts", "", nil)
	assert.ErrorContains(t, err, "private key")

	_, _, err = openTable(context.Background(), tabular.SalesforceScheme+"leads", "", nil)
	assert.ErrorContains(t, err, "unsupported salesforce object")
}

func TestOpenTable_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("website\nacme.com\n"), 0o600))

	tbl, nt, err := openTable(context.Background(), path, "", nil)
	require.NoError(t, err)
	assert.Nil(t, nt)
	assert.Len(t, tbl.Rows, 1)
}

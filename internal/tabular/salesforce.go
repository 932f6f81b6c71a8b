package tabular

import (
	"context"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/pkg/salesforce"
)

// SalesforceScheme prefixes a Salesforce Account source. The optional
// query carries a SOQL where clause and a row limit:
//
//	salesforce://accounts?where=Industry%20=%20null&limit=500
const SalesforceScheme = "salesforce://"

// accountColumns maps Account fields onto enrichment columns. Fields with
// writable set are filled by WriteBack.
var accountColumns = []struct {
	sfField  string
	field    model.EnrichmentField
	label    string
	writable bool
}{
	{"Website", "", "Website", false},
	{"Name", model.FieldCompanyName, "Account Name", false},
	{"Industry", model.FieldCompanyIndustry, "Industry", true},
	{"Description", model.FieldCompanyDescription, "Description", true},
	{"Phone", model.FieldCompanyPhone, "Phone", true},
	{"NumberOfEmployees", model.FieldCompanyEmployeeCount, "Employees", true},
	{"", model.FieldCompanyHeadquarters, "Billing City/State", false},
}

func accountColumnKey(sfField string, f model.EnrichmentField) string {
	if f == "" {
		return strings.ToLower(sfField)
	}
	return string(f)
}

// SalesforceTable reads Salesforce Accounts as a table keyed by Account ID.
type SalesforceTable struct {
	client salesforce.Client
	where  string
	limit  int
	// accounts remembers what Read saw so write-back only fills blanks.
	accounts map[string]salesforce.Account
}

// NewSalesforceTable creates a table over Accounts matching where.
func NewSalesforceTable(client salesforce.Client, where string, limit int) *SalesforceTable {
	return &SalesforceTable{client: client, where: where, limit: limit}
}

// ParseSalesforceSource splits a salesforce:// source into its where clause
// and limit.
func ParseSalesforceSource(source string) (where string, limit int, err error) {
	rest, ok := strings.CutPrefix(source, SalesforceScheme)
	if !ok {
		return "", 0, eris.Errorf("tabular: not a salesforce source: %q", source)
	}
	object, rawQuery, _ := strings.Cut(rest, "?")
	if object != "" && !strings.EqualFold(object, "accounts") {
		return "", 0, eris.Errorf("tabular: unsupported salesforce object %q", object)
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", 0, eris.Wrap(err, "tabular: parse salesforce source")
	}
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return "", 0, eris.Errorf("tabular: invalid salesforce limit %q", v)
		}
	}
	return q.Get("where"), limit, nil
}

// Read queries the Accounts.
func (s *SalesforceTable) Read(ctx context.Context) (*Table, error) {
	accounts, err := salesforce.ListAccounts(ctx, s.client, s.where, s.limit)
	if err != nil {
		return nil, eris.Wrap(err, "salesforce table: read")
	}

	t := &Table{}
	for _, c := range accountColumns {
		key := accountColumnKey(c.sfField, c.field)
		t.Columns = append(t.Columns, model.ColumnData{ID: key, Key: key, Label: c.label})
	}

	s.accounts = make(map[string]salesforce.Account, len(accounts))
	for _, a := range accounts {
		s.accounts[a.ID] = a
		data := map[string]any{"website": a.Website}
		data[string(model.FieldCompanyName)] = a.Name
		data[string(model.FieldCompanyIndustry)] = a.Industry
		data[string(model.FieldCompanyDescription)] = a.Description
		data[string(model.FieldCompanyPhone)] = a.Phone
		data[string(model.FieldCompanyEmployeeCount)] = nil
		if a.NumberOfEmployees > 0 {
			data[string(model.FieldCompanyEmployeeCount)] = float64(a.NumberOfEmployees)
		}
		data[string(model.FieldCompanyHeadquarters)] = joinNonEmpty(", ", a.BillingCity, a.BillingState)
		t.Rows = append(t.Rows, model.RowData{ID: a.ID, Data: data})
	}
	return t, nil
}

// WriteBack sets blank writable Account fields to enriched values. It
// returns the number of Accounts updated; per-record failures are logged
// and reported together.
func (s *SalesforceTable) WriteBack(ctx context.Context, results []model.EntityResult) (int, error) {
	if s.accounts == nil {
		return 0, eris.New("salesforce table: write-back before read")
	}

	fields := make(map[string]map[string]any)
	for _, res := range results {
		for _, cell := range res.TargetCells {
			acct, ok := s.accounts[cell.RowID]
			if !ok {
				continue
			}
			for _, c := range accountColumns {
				if !c.writable || string(c.field) != cell.ColumnKey || !accountFieldBlank(acct, c.sfField) {
					continue
				}
				v, ok := res.Data.Get(c.field)
				if !ok {
					continue
				}
				sv, ok := accountFieldValue(c.sfField, v.Value)
				if !ok {
					continue
				}
				if fields[acct.ID] == nil {
					fields[acct.ID] = make(map[string]any)
				}
				fields[acct.ID][c.sfField] = sv
			}
		}
	}
	if len(fields) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(fields))
	for id := range fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	updates := make([]salesforce.AccountUpdate, 0, len(ids))
	for _, id := range ids {
		updates = append(updates, salesforce.AccountUpdate{ID: id, Fields: fields[id]})
	}

	res, err := salesforce.BulkUpdateAccounts(ctx, s.client, updates)
	updated, failed := 0, 0
	for _, r := range res {
		if r.Success {
			updated++
			continue
		}
		failed++
		zap.L().Warn("salesforce table: account update failed",
			zap.String("account", r.ID), zap.Strings("errors", r.Errors))
	}
	if err != nil {
		return updated, eris.Wrap(err, "salesforce table: write-back")
	}
	if failed > 0 {
		return updated, eris.Errorf("salesforce table: %d of %d account updates failed", failed, len(updates))
	}
	return updated, nil
}

func accountFieldBlank(a salesforce.Account, sfField string) bool {
	switch sfField {
	case "Industry":
		return strings.TrimSpace(a.Industry) == ""
	case "Description":
		return strings.TrimSpace(a.Description) == ""
	case "Phone":
		return strings.TrimSpace(a.Phone) == ""
	case "NumberOfEmployees":
		return a.NumberOfEmployees <= 0
	default:
		return false
	}
}

// accountFieldValue converts an enriched value to what the Account field
// accepts.
func accountFieldValue(sfField string, v any) (any, bool) {
	if sfField != "NumberOfEmployees" {
		s := strings.TrimSpace(cellText(v))
		return s, s != ""
	}
	switch x := v.(type) {
	case int:
		return x, x > 0
	case int64:
		return int(x), x > 0
	case float64:
		n := int(math.Round(x))
		return n, n > 0
	case string:
		n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(x), ",", ""))
		return n, err == nil && n > 0
	default:
		return nil, false
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

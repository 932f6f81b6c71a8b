// Package tabular reads input tables from local or FTP files, Notion
// databases and Salesforce Accounts, and writes enriched values back into
// the remote ones.
package tabular

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/pkg/notion"
	"github.com/sells-group/entity-enrich/pkg/salesforce"
)

// Table is a set of rows and the columns that describe them.
type Table struct {
	Columns []model.ColumnData `json:"columns"`
	Rows    []model.RowData    `json:"rows"`
}

// NotionScheme prefixes a Notion database ID in a source string.
const NotionScheme = "notion://"

// OpenOptions carries what some sources need to be read.
type OpenOptions struct {
	// Sheet selects an XLSX sheet by name. The first sheet is used when
	// empty.
	Sheet string
	// Notion is required for notion:// sources.
	Notion notion.Client
	// Salesforce is required for salesforce:// sources.
	Salesforce salesforce.Client
	// FTPTimeout bounds dialing an ftp:// source. Default 30s.
	FTPTimeout time.Duration
}

// Open reads a table from a file path, an ftp:// file, a
// notion://<database id> source or a salesforce:// source. The file format
// follows the extension.
func Open(ctx context.Context, source string, opts OpenOptions) (*Table, error) {
	if id, ok := strings.CutPrefix(source, NotionScheme); ok {
		if opts.Notion == nil {
			return nil, eris.New("tabular: notion source needs a notion client")
		}
		return NewNotionTable(opts.Notion, id).Read(ctx)
	}
	if strings.HasPrefix(source, SalesforceScheme) {
		if opts.Salesforce == nil {
			return nil, eris.New("tabular: salesforce source needs a salesforce client")
		}
		where, limit, err := ParseSalesforceSource(source)
		if err != nil {
			return nil, err
		}
		return NewSalesforceTable(opts.Salesforce, where, limit).Read(ctx)
	}
	if strings.HasPrefix(source, FTPScheme) {
		dir, err := os.MkdirTemp("", "enrich-ftp-")
		if err != nil {
			return nil, eris.Wrap(err, "tabular: ftp temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck
		local, err := fetchFTP(ctx, source, dir, opts.FTPTimeout)
		if err != nil {
			return nil, err
		}
		return Open(ctx, local, opts)
	}

	switch strings.ToLower(filepath.Ext(source)) {
	case ".csv", ".tsv":
		f, err := os.Open(source)
		if err != nil {
			return nil, eris.Wrapf(err, "tabular: open %s", source)
		}
		defer f.Close() //nolint:errcheck
		csvOpts := CSVOptions{}
		if strings.EqualFold(filepath.Ext(source), ".tsv") {
			csvOpts.Delimiter = '\t'
		}
		return ReadCSV(f, csvOpts)
	case ".xlsx":
		return ReadXLSX(source, XLSXOptions{SheetName: opts.Sheet})
	case ".json":
		f, err := os.Open(source)
		if err != nil {
			return nil, eris.Wrapf(err, "tabular: open %s", source)
		}
		defer f.Close() //nolint:errcheck
		return ReadJSON(f)
	default:
		return nil, eris.Errorf("tabular: unsupported source %q", source)
	}
}

// Fill copies enriched values into the table's blank target cells and
// returns how many cells it filled. Cells whose column is not an
// enrichment field are left alone, as are cells that already hold data.
func Fill(t *Table, results []model.EntityResult) int {
	rows := make(map[string]int, len(t.Rows))
	for i, r := range t.Rows {
		rows[r.ID] = i
	}

	filled := 0
	for _, res := range results {
		for _, cell := range res.TargetCells {
			f, err := model.ParseField(cell.ColumnKey)
			if err != nil {
				continue
			}
			v, ok := res.Data.Get(f)
			if !ok {
				continue
			}
			i, ok := rows[cell.RowID]
			if !ok {
				continue
			}
			row := &t.Rows[i]
			if !isBlank(row.Data[cell.ColumnKey]) {
				continue
			}
			if row.Data == nil {
				row.Data = make(map[string]any)
			}
			row.Data[cell.ColumnKey] = v.Value
			filled++
		}
	}
	return filled
}

// columnsFromHeader turns a header row into columns. Blank headers get a
// positional key; repeated headers get a numeric suffix.
func columnsFromHeader(header []string) []model.ColumnData {
	seen := make(map[string]int, len(header))
	cols := make([]model.ColumnData, len(header))
	for i, h := range header {
		label := strings.TrimSpace(h)
		key := label
		if key == "" {
			key = "column_" + strconv.Itoa(i+1)
		}
		if n := seen[key]; n > 0 {
			seen[key] = n + 1
			key = key + "_" + strconv.Itoa(n+1)
		} else {
			seen[key] = 1
		}
		cols[i] = model.ColumnData{ID: "col_" + strconv.Itoa(i+1), Key: key, Label: label}
	}
	return cols
}

// fromRecords builds a table from a header and string records. A row_id
// column supplies row IDs; otherwise rows are numbered from 1. Records with
// no non-blank cell are dropped.
func fromRecords(header []string, records [][]string) *Table {
	idCol := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), "row_id") {
			idCol = i
			break
		}
	}

	all := columnsFromHeader(header)
	t := &Table{Columns: make([]model.ColumnData, 0, len(all))}
	for i, c := range all {
		if i != idCol {
			t.Columns = append(t.Columns, c)
		}
	}

	for n, rec := range records {
		data := make(map[string]any, len(all))
		empty := true
		for i, c := range all {
			if i == idCol {
				continue
			}
			v := ""
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			if v != "" {
				empty = false
			}
			data[c.Key] = v
		}
		if empty {
			continue
		}
		id := strconv.Itoa(n + 1)
		if idCol >= 0 && idCol < len(rec) && strings.TrimSpace(rec[idCol]) != "" {
			id = strings.TrimSpace(rec[idCol])
		}
		t.Rows = append(t.Rows, model.RowData{ID: id, Data: data})
	}
	return t
}

func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	default:
		return false
	}
}

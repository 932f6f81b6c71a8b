package tabular

import (
	"encoding/csv"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-enrich/internal/model"
)

// CSVOptions configures the CSV reader.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// ReadCSV reads a table whose first record is the header.
func ReadCSV(r io.Reader, opts CSVOptions) (*Table, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("csv: empty input")
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		records = append(records, rec)
	}
	return fromRecords(header, records), nil
}

// WriteCSV writes the table with a leading row_id column. Headers use each
// column's label when it has one.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	header := make([]string, 0, len(t.Columns)+1)
	header = append(header, "row_id")
	for _, c := range t.Columns {
		header = append(header, columnTitle(c))
	}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "csv: write header")
	}

	for _, row := range t.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, row.ID)
		for _, c := range t.Columns {
			rec = append(rec, cellText(row.Data[c.Key]))
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrapf(err, "csv: write row %s", row.ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}

// ReadJSON reads a table encoded as {"columns": [...], "rows": [...]}.
// Columns are derived from the first row's keys when none are given.
func ReadJSON(r io.Reader) (*Table, error) {
	var t Table
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, eris.Wrap(err, "json: decode table")
	}
	if len(t.Columns) == 0 && len(t.Rows) > 0 {
		keys := sortedKeys(t.Rows[0].Data)
		t.Columns = make([]model.ColumnData, len(keys))
		for i, k := range keys {
			t.Columns[i] = model.ColumnData{ID: k, Key: k}
		}
	}
	return &t, nil
}

func columnTitle(c model.ColumnData) string {
	if c.Label != "" {
		return c.Label
	}
	return c.Key
}

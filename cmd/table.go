package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/tabular"
	"github.com/sells-group/entity-enrich/pkg/notion"
	"github.com/sells-group/entity-enrich/pkg/salesforce"
)

// writeBacker updates the system a table was read from.
type writeBacker interface {
	WriteBack(ctx context.Context, results []model.EntityResult) (int, error)
}

// openTable reads source. For notion:// and salesforce:// sources it also
// returns the remote table so results can be written back to it.
func openTable(ctx context.Context, source, sheet string, nc notion.Client) (*tabular.Table, writeBacker, error) {
	if id, ok := strings.CutPrefix(source, tabular.NotionScheme); ok {
		if nc == nil {
			return nil, nil, eris.New("notion source needs ENRICH_NOTION_TOKEN")
		}
		nt := tabular.NewNotionTable(nc, id)
		tbl, err := nt.Read(ctx)
		if err != nil {
			return nil, nil, err
		}
		return tbl, nt, nil
	}
	if strings.HasPrefix(source, tabular.SalesforceScheme) {
		where, limit, err := tabular.ParseSalesforceSource(source)
		if err != nil {
			return nil, nil, err
		}
		sf, err := initSalesforce()
		if err != nil {
			return nil, nil, err
		}
		st := tabular.NewSalesforceTable(sf, where, limit)
		tbl, err := st.Read(ctx)
		if err != nil {
			return nil, nil, err
		}
		return tbl, st, nil
	}
	tbl, err := tabular.Open(ctx, source, tabular.OpenOptions{Sheet: sheet})
	return tbl, nil, err
}

func initSalesforce() (salesforce.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce source needs ENRICH_SALESFORCE_CLIENT_ID")
	}
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}
	return salesforce.Connect(salesforce.Creds{
		LoginURL:      cfg.Salesforce.LoginURL,
		Username:      cfg.Salesforce.Username,
		ClientID:      cfg.Salesforce.ClientID,
		PrivateKeyPEM: string(pemData),
	}, salesforce.WithRateLimit(cfg.Salesforce.RateLimit))
}

// writeTable saves t in the format named by the path's extension. "-"
// writes CSV to stdout.
func writeTable(path string, t *tabular.Table, stdout io.Writer) error {
	if path == "-" {
		return tabular.WriteCSV(stdout, t)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return tabular.WriteXLSX(path, t)
	case ".csv", ".json":
	default:
		return eris.Errorf("unsupported output format %q", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	defer f.Close() //nolint:errcheck

	if strings.EqualFold(filepath.Ext(path), ".json") {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	}
	return tabular.WriteCSV(f, t)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package tabular

import (
	"context"
	"sort"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/pkg/notion"
)

// NotionTable reads a Notion database as a table: each page is a row keyed
// by its page ID and each property is a column.
type NotionTable struct {
	client notion.Client
	dbID   string
	// props remembers each page's properties so updates keep their types.
	props map[string]notionapi.Properties
}

// NewNotionTable creates a NotionTable for database dbID.
func NewNotionTable(client notion.Client, dbID string) *NotionTable {
	return &NotionTable{client: client, dbID: dbID}
}

// Read lists the database's columns from its schema, then scans every page
// into a row. Properties missing from the schema are appended as they
// appear.
func (n *NotionTable) Read(ctx context.Context) (*Table, error) {
	db, err := n.client.RetrieveDatabase(ctx, n.dbID)
	if err != nil {
		return nil, eris.Wrapf(err, "notion table: schema %s", n.dbID)
	}

	t := &Table{}
	seen := make(map[string]struct{})
	addColumn := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		t.Columns = append(t.Columns, model.ColumnData{ID: name, Key: name, Label: name})
	}
	for _, name := range notion.PropertyNames(db) {
		addColumn(name)
	}

	n.props = make(map[string]notionapi.Properties)
	err = notion.Scan(ctx, n.client, n.dbID, notion.MaxPageSize, func(pages []notionapi.Page) error {
		for _, p := range pages {
			id := string(p.ID)
			n.props[id] = p.Properties

			data := make(map[string]any, len(p.Properties))
			for name, prop := range p.Properties {
				data[name] = notion.PropertyValue(prop)
			}
			for _, name := range sortedKeys(data) {
				addColumn(name)
			}
			t.Rows = append(t.Rows, model.RowData{ID: id, Data: data})
		}
		return nil
	})
	if err != nil {
		n.props = nil
		return nil, eris.Wrapf(err, "notion table: read %s", n.dbID)
	}
	return t, nil
}

// WriteBack updates blank page properties with enriched values. Pages not
// seen by Read are skipped. It returns the number of pages updated; a
// failed update is logged and the rest continue.
func (n *NotionTable) WriteBack(ctx context.Context, results []model.EntityResult) (int, error) {
	if n.props == nil {
		return 0, eris.New("notion table: write-back before read")
	}

	updates := make(map[string]notionapi.Properties)
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
			existing, ok := n.props[cell.RowID][cell.ColumnKey]
			if !ok || notion.PropertyValue(existing) != nil {
				continue
			}
			prop, ok := notion.UpdateProperty(existing, v.Value)
			if !ok {
				continue
			}
			if updates[cell.RowID] == nil {
				updates[cell.RowID] = make(notionapi.Properties)
			}
			updates[cell.RowID][cell.ColumnKey] = prop
		}
	}

	pageIDs := make([]string, 0, len(updates))
	for id := range updates {
		pageIDs = append(pageIDs, id)
	}
	sort.Strings(pageIDs)

	updated, failed := 0, 0
	for _, id := range pageIDs {
		if err := ctx.Err(); err != nil {
			return updated, eris.Wrap(err, "notion table: write-back cancelled")
		}
		_, err := n.client.UpdatePage(ctx, id, &notionapi.PageUpdateRequest{Properties: updates[id]})
		if err != nil {
			failed++
			zap.L().Warn("notion table: page update failed", zap.String("page", id), zap.Error(err))
			continue
		}
		updated++
	}
	if failed > 0 {
		return updated, eris.Errorf("notion table: %d of %d page updates failed", failed, len(pageIDs))
	}
	return updated, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package notion

import (
	"context"
	"sort"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// MaxPageSize is the largest batch the query endpoint returns.
const MaxPageSize = 100

// Scan walks a database in cursor order, handing each batch of pages to fn.
// An error from fn stops the walk and is returned as is.
func Scan(ctx context.Context, c Client, dbID string, pageSize int, fn func([]notionapi.Page) error) error {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	var cursor notionapi.Cursor
	for batch := 1; ; batch++ {
		resp, err := c.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{
			StartCursor: cursor,
			PageSize:    pageSize,
		})
		if err != nil {
			return eris.Wrapf(err, "notion: scan batch %d", batch)
		}
		if err := fn(resp.Results); err != nil {
			return err
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return nil
		}
		cursor = resp.NextCursor
	}
}

// Pages collects every page of a database.
func Pages(ctx context.Context, c Client, dbID string) ([]notionapi.Page, error) {
	var all []notionapi.Page
	err := Scan(ctx, c, dbID, MaxPageSize, func(batch []notionapi.Page) error {
		all = append(all, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// PropertyNames lists a database's properties by name.
func PropertyNames(db *notionapi.Database) []string {
	if db == nil {
		return nil
	}
	names := make([]string, 0, len(db.Properties))
	for name := range db.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

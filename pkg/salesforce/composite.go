package salesforce

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// maxBatchSize is the sObject Collections limit per request.
const maxBatchSize = 200

// AccountUpdate holds an account ID and the fields to set on it.
type AccountUpdate struct {
	ID     string
	Fields map[string]any
}

// BulkUpdateAccounts sends updates in collection batches and returns one
// result per update, in order. A batch the API rejects outright is
// reported as failed results for its records and the remaining batches
// still run. Only cancellation stops early.
func BulkUpdateAccounts(ctx context.Context, c Client, updates []AccountUpdate) ([]CollectionResult, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	results := make([]CollectionResult, 0, len(updates))
	for start := 0; start < len(updates); start += maxBatchSize {
		if err := ctx.Err(); err != nil {
			return results, eris.Wrapf(err, "sf: bulk update accounts stopped at %d of %d", start, len(updates))
		}
		batch := updates[start:min(start+maxBatchSize, len(updates))]

		records := make([]CollectionRecord, len(batch))
		for i, u := range batch {
			records[i] = CollectionRecord(u)
		}

		got, err := c.UpdateCollection(ctx, "Account", records)
		if err != nil {
			zap.L().Warn("sf: account batch rejected",
				zap.Int("offset", start), zap.Int("size", len(batch)), zap.Error(err))
			for _, u := range batch {
				results = append(results, CollectionResult{ID: u.ID, Errors: []string{err.Error()}})
			}
			continue
		}
		results = append(results, got...)
	}
	return results, nil
}

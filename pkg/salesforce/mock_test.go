package salesforce

import "context"

type mockClient struct {
	queryFn            func(ctx context.Context, soql string, out any) error
	updateCollectionFn func(ctx context.Context, sObject string, records []CollectionRecord) ([]CollectionResult, error)
}

func (m *mockClient) Query(ctx context.Context, soql string, out any) error {
	return m.queryFn(ctx, soql, out)
}

func (m *mockClient) UpdateCollection(ctx context.Context, sObject string, records []CollectionRecord) ([]CollectionResult, error) {
	return m.updateCollectionFn(ctx, sObject, records)
}

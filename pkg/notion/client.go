// Package notion wraps the Notion API for reading database rows and writing
// enriched values back to pages.
package notion

import (
	"context"
	"net/http"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client is the slice of the Notion API a database-backed table needs.
type Client interface {
	RetrieveDatabase(ctx context.Context, dbID string) (*notionapi.Database, error)
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

// ClientOption configures the Notion client.
type ClientOption func(*notionClient)

// WithRateLimit overrides the default 3 req/s. Zero disables throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(c *notionClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

// WithHTTPClient routes API calls through hc.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *notionClient) {
		c.apiOpts = append(c.apiOpts, notionapi.WithHTTPClient(hc))
	}
}

type notionClient struct {
	inner   *notionapi.Client
	limiter *rate.Limiter
	apiOpts []notionapi.ClientOption
}

// NewClient creates a Notion client for an integration token. Calls are
// throttled to Notion's published 3 req/s unless overridden.
func NewClient(token string, opts ...ClientOption) Client {
	c := &notionClient{limiter: rate.NewLimiter(3, 1)}
	for _, opt := range opts {
		opt(c)
	}
	c.inner = notionapi.NewClient(notionapi.Token(token), c.apiOpts...)
	return c
}

func (c *notionClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "notion: rate limit")
	}
	return nil
}

func (c *notionClient) RetrieveDatabase(ctx context.Context, dbID string) (*notionapi.Database, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	db, err := c.inner.Database.Get(ctx, notionapi.DatabaseID(dbID))
	if err != nil {
		return nil, eris.Wrapf(err, "notion: retrieve database %s", dbID)
	}
	return db, nil
}

func (c *notionClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.inner.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query database %s", dbID)
	}
	return resp, nil
}

func (c *notionClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	page, err := c.inner.Page.Update(ctx, notionapi.PageID(pageID), req)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: update page %s", pageID)
	}
	return page, nil
}

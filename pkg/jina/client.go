// Package jina provides a client for the Jina AI Reader, which renders a
// web page as markdown.
package jina

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/entity-enrich/pkg/apierr"
)

// ErrUnreachable means the reader could not load the target page: the
// site is down, blocks crawlers or does not exist.
var ErrUnreachable = errors.New("jina: target unreachable")

// Client reads pages through Jina AI Reader.
type Client interface {
	Read(ctx context.Context, targetURL string, opts ...ReadOption) (*ReadResponse, error)
}

// ReadResponse is the parsed Reader response.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData is the rendered page.
type ReadData struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	// Links maps anchor text to URL when requested with WithLinks.
	Links map[string]string `json:"links,omitempty"`
	Usage ReadUsage         `json:"usage"`
}

// ReadUsage tracks token consumption.
type ReadUsage struct {
	Tokens int `json:"tokens"`
}

// ReadOption tunes a single read.
type ReadOption func(http.Header)

// WithLinks asks for a summary of the page's outbound links.
func WithLinks() ReadOption {
	return func(h http.Header) { h.Set("X-With-Links-Summary", "true") }
}

// WithTimeout caps how long the reader waits for the page to load.
func WithTimeout(d time.Duration) ReadOption {
	return func(h http.Header) {
		if secs := int(d.Seconds()); secs > 0 {
			h.Set("X-Timeout", strconv.Itoa(secs))
		}
	}
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the Reader endpoint.
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit caps outgoing requests per second. Zero disables the cap.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Reader client. An empty key uses the anonymous tier.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://r.jina.ai",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read renders targetURL once; retries belong to the caller. Non-2xx
// answers come back as *apierr.StatusError, except 422 which is
// ErrUnreachable.
func (c *httpClient) Read(ctx context.Context, targetURL string, opts ...ReadOption) (*ReadResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create request")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", "markdown")
	for _, o := range opts {
		o(req.Header)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "jina: rate limit wait")
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "jina: read response body")
	}
	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, eris.Wrapf(ErrUnreachable, "jina: read %s", targetURL)
	case resp.StatusCode != http.StatusOK:
		return nil, apierr.New("jina", resp, body)
	}

	var result ReadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal response")
	}
	return &result, nil
}

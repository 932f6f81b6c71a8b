// Package contactout provides a client for the ContactOut people and
// company enrichment API.
package contactout

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/entity-enrich/pkg/apierr"
)

const defaultBaseURL = "https://api.contactout.com"

// ErrNoMatch is returned when ContactOut has no record for the lookup.
var ErrNoMatch = eris.New("contactout: no match")

// Client defines the ContactOut operations.
type Client interface {
	// PersonByLinkedIn returns the contact profile behind a LinkedIn
	// profile URL.
	PersonByLinkedIn(ctx context.Context, profileURL string) (*PersonProfile, error)
	// CompanyByDomain returns firmographics for a company domain.
	CompanyByDomain(ctx context.Context, domain string) (*CompanyProfile, error)
}

// PersonProfile is a person record.
type PersonProfile struct {
	URL           string   `json:"url"`
	FullName      string   `json:"full_name"`
	Headline      string   `json:"headline"`
	Title         string   `json:"title"`
	Location      string   `json:"location"`
	Company       string   `json:"company"`
	Email         []string `json:"email"`
	WorkEmail     []string `json:"work_email"`
	PersonalEmail []string `json:"personal_email"`
	Phone         []string `json:"phone"`
}

// BestEmail prefers a work address over any other.
func (p *PersonProfile) BestEmail() string {
	for _, list := range [][]string{p.WorkEmail, p.Email, p.PersonalEmail} {
		for _, e := range list {
			if e != "" {
				return e
			}
		}
	}
	return ""
}

// CompanyProfile is a company record.
type CompanyProfile struct {
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	Description string `json:"description"`
	Industry    string `json:"industry"`
	Size        int    `json:"size"`
	Founded     int    `json:"founded_at"`
	Headquarter string `json:"headquarter"`
	LinkedInURL string `json:"li_vanity"`
	Phone       string `json:"phone"`
}

type personEnvelope struct {
	StatusCode int            `json:"status_code"`
	Profile    *PersonProfile `json:"profile"`
}

type companyEnvelope struct {
	StatusCode int                        `json:"status_code"`
	Companies  map[string]*CompanyProfile `json:"companies"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
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
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a ContactOut client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) PersonByLinkedIn(ctx context.Context, profileURL string) (*PersonProfile, error) {
	q := url.Values{}
	q.Set("profile", profileURL)
	q.Set("include_phone", "true")

	var env personEnvelope
	if err := c.get(ctx, "/v1/people/linkedin?"+q.Encode(), &env); err != nil {
		return nil, err
	}
	if env.Profile == nil {
		return nil, ErrNoMatch
	}
	if env.Profile.URL == "" {
		env.Profile.URL = profileURL
	}
	return env.Profile, nil
}

func (c *httpClient) CompanyByDomain(ctx context.Context, domain string) (*CompanyProfile, error) {
	q := url.Values{}
	q.Set("domain", domain)

	var env companyEnvelope
	if err := c.get(ctx, "/v1/domain/enrich?"+q.Encode(), &env); err != nil {
		return nil, err
	}
	p, ok := env.Companies[domain]
	if !ok || p == nil {
		return nil, ErrNoMatch
	}
	if p.Domain == "" {
		p.Domain = domain
	}
	return p, nil
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "contactout: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("authorization", "basic")
	req.Header.Set("token", c.token)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "contactout: rate limit wait")
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "contactout: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "contactout: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNoMatch
	case resp.StatusCode != http.StatusOK:
		return apierr.New("contactout", resp, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "contactout: unmarshal response")
	}
	return nil
}

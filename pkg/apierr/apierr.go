// Package apierr carries non-2xx HTTP responses from API clients up to
// callers that classify them.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// maxBody bounds the response body kept on an error.
const maxBody = 512

// StatusError is a non-success HTTP response.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
	RetryAfter string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, e.Body)
}

// New builds a StatusError from a response and its already-read body.
func New(service string, resp *http.Response, body []byte) *StatusError {
	b := string(body)
	if len(b) > maxBody {
		b = b[:maxBody]
	}
	e := &StatusError{Service: service, StatusCode: resp.StatusCode, Body: b}
	if resp.Header != nil {
		e.RetryAfter = resp.Header.Get("Retry-After")
	}
	return e
}

// As extracts a StatusError from err's chain.
func As(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

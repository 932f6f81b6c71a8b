package apierr

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"7"}}}
	e := New("jina", resp, []byte(`{"error":"slow down"}`))

	assert.Equal(t, 429, e.StatusCode)
	assert.Equal(t, "7", e.RetryAfter)
	assert.Equal(t, `jina: unexpected status 429: {"error":"slow down"}`, e.Error())
}

func TestNew_TruncatesBody(t *testing.T) {
	resp := &http.Response{StatusCode: 500}
	e := New("perplexity", resp, []byte(strings.Repeat("x", 2000)))
	assert.Len(t, e.Body, maxBody)
	assert.Empty(t, e.RetryAfter)
}

func TestAs(t *testing.T) {
	base := &StatusError{Service: "contactout", StatusCode: 404}

	got, ok := As(fmt.Errorf("outer: %w", base))
	require.True(t, ok)
	assert.Same(t, base, got)

	_, ok = As(fmt.Errorf("plain"))
	assert.False(t, ok)
}

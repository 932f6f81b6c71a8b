package provider

import (
	"context"
	"net/http"
	"sync"

	"github.com/sells-group/entity-enrich/pkg/anthropic"
	"github.com/sells-group/entity-enrich/pkg/contactout"
	"github.com/sells-group/entity-enrich/pkg/google"
	"github.com/sells-group/entity-enrich/pkg/jina"
	"github.com/sells-group/entity-enrich/pkg/perplexity"
)

type fakeReader struct {
	mu      sync.Mutex
	pages   map[string]string
	links   map[string]string
	title   string
	err     error
	reads   []string
	headers []http.Header
}

func (f *fakeReader) Read(_ context.Context, u string, opts ...jina.ReadOption) (*jina.ReadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, u)
	h := http.Header{}
	for _, o := range opts {
		o(h)
	}
	f.headers = append(f.headers, h)
	if f.err != nil {
		return nil, f.err
	}
	return &jina.ReadResponse{Code: 200, Data: jina.ReadData{URL: u, Title: f.title, Content: f.pages[u], Links: f.links}}, nil
}

type fakeLLM struct {
	mu   sync.Mutex
	text string
	stop string
	err  error
	reqs []anthropic.MessageRequest
}

func (f *fakeLLM) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Model:      req.Model,
		StopReason: f.stop,
		Content:    []anthropic.ContentBlock{{Type: "text", Text: f.text}},
		Usage:      anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeSearch struct {
	text string
	err  error
	reqs []perplexity.ChatCompletionRequest
}

func (f *fakeSearch) ChatCompletion(_ context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &perplexity.ChatCompletionResponse{
		ID:      "cmpl-1",
		Choices: []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: f.text}}},
	}, nil
}

type fakeContactOut struct {
	person     *contactout.PersonProfile
	company    *contactout.CompanyProfile
	err        error
	personURL  string
	domainSeen string
}

func (f *fakeContactOut) PersonByLinkedIn(_ context.Context, u string) (*contactout.PersonProfile, error) {
	f.personURL = u
	if f.err != nil {
		return nil, f.err
	}
	if f.person == nil {
		return nil, contactout.ErrNoMatch
	}
	return f.person, nil
}

func (f *fakeContactOut) CompanyByDomain(_ context.Context, d string) (*contactout.CompanyProfile, error) {
	f.domainSeen = d
	if f.err != nil {
		return nil, f.err
	}
	if f.company == nil {
		return nil, contactout.ErrNoMatch
	}
	return f.company, nil
}

type fakePlaces struct {
	places  []google.Place
	err     error
	queries []string
}

func (f *fakePlaces) TextSearch(_ context.Context, q string) (*google.TextSearchResponse, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return &google.TextSearchResponse{Places: f.places}, nil
}

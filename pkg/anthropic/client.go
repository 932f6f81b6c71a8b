// Package anthropic wraps the Anthropic Messages API behind a small
// interface used for field extraction.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/pkg/apierr"
)

// Client defines the Anthropic API operations used by enrichment providers.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is a single-turn or multi-turn completion request.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
}

// SystemBlock represents a system prompt block, optionally with cache control.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl configures caching for a content block.
type CacheControl struct {
	TTL string // "5m" or "1h"
}

// Message represents a single conversational message.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// MessageResponse is the part of a completion the providers read.
type MessageResponse struct {
	ID           string
	Model        string
	Content      []ContentBlock
	StopReason   string
	Usage        TokenUsage
	StopSequence string
}

// ContentBlock represents a block of content in a response.
type ContentBlock struct {
	Type string
	Text string
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Pricing is a model's list price in USD per million tokens.
type Pricing struct {
	Input  float64
	Output float64
}

// pricing is keyed by model family; dated snapshots match by prefix.
var pricing = []struct {
	prefix string
	price  Pricing
}{
	{"claude-haiku-4-5", Pricing{Input: 1.00, Output: 5.00}},
	{"claude-3-5-haiku", Pricing{Input: 0.80, Output: 4.00}},
	{"claude-sonnet-4", Pricing{Input: 3.00, Output: 15.00}},
	{"claude-opus-4", Pricing{Input: 15.00, Output: 75.00}},
}

// PricingFor looks up a model's price.
func PricingFor(model string) (Pricing, bool) {
	for _, p := range pricing {
		if strings.HasPrefix(model, p.prefix) {
			return p.price, true
		}
	}
	return Pricing{}, false
}

// CostUSD estimates what the call cost. Cache writes bill at 1.25x input
// and cache reads at 0.1x. Unknown models cost 0.
func (u TokenUsage) CostUSD(model string) float64 {
	p, ok := PricingFor(model)
	if !ok {
		return 0
	}
	const mtok = 1e6
	return float64(u.InputTokens)/mtok*p.Input +
		float64(u.OutputTokens)/mtok*p.Output +
		float64(u.CacheCreationInputTokens)/mtok*p.Input*1.25 +
		float64(u.CacheReadInputTokens)/mtok*p.Input*0.1
}

// Fields renders usage as log fields.
func (u TokenUsage) Fields(model string) []zap.Field {
	return []zap.Field{
		zap.String("model", model),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.CostUSD(model)),
	}
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
}

// Option configures the SDK client.
type Option func(*clientOpts)

type clientOpts struct {
	baseURL string
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(u string) Option {
	return func(o *clientOpts) { o.baseURL = u }
}

// NewClient creates a new Anthropic client backed by the SDK. The SDK's
// own retries are disabled; callers decide whether to retry.
func NewClient(apiKey string, opts ...Option) Client {
	var co clientOpts
	for _, o := range opts {
		o(&co)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if co.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(co.baseURL))
	}
	return &sdkClient{client: sdk.NewClient(reqOpts...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}

	if len(req.System) > 0 {
		params.System = toSDKSystemBlocks(req.System)
	}

	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if se := statusError(err); se != nil {
			return nil, se
		}
		return nil, eris.Wrap(err, "anthropic: create message")
	}

	return fromSDKMessage(msg), nil
}

// statusError converts an SDK API error into an *apierr.StatusError. It
// returns nil for transport failures.
func statusError(err error) *apierr.StatusError {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return nil
	}
	if apiErr.Response != nil {
		return apierr.New("anthropic", apiErr.Response, []byte(apiErr.RawJSON()))
	}
	return &apierr.StatusError{Service: "anthropic", StatusCode: apiErr.StatusCode, Body: apiErr.RawJSON()}
}

// Truncated reports whether the model stopped at the token limit.
func (r *MessageResponse) Truncated() bool {
	return r != nil && r.StopReason == "max_tokens"
}

// Text concatenates the response's text blocks.
func (r *MessageResponse) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" || c.Type == "" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			out[i] = sdk.NewAssistantMessage(block)
		default:
			out[i] = sdk.NewUserMessage(block)
		}
	}
	return out
}

func toSDKSystemBlocks(blocks []SystemBlock) []sdk.TextBlockParam {
	out := make([]sdk.TextBlockParam, len(blocks))
	for i, b := range blocks {
		out[i] = sdk.TextBlockParam{
			Text: b.Text,
		}
		if b.CacheControl != nil {
			cc := sdk.NewCacheControlEphemeralParam()
			if b.CacheControl.TTL != "" {
				cc.TTL = sdk.CacheControlEphemeralTTL(b.CacheControl.TTL)
			}
			out[i].CacheControl = cc
		}
	}
	return out
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	blocks := make([]ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		blocks = append(blocks, ContentBlock{
			Type: b.Type,
			Text: b.Text,
		})
	}

	return &MessageResponse{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Content:      blocks,
		StopReason:   string(msg.StopReason),
		StopSequence: msg.StopSequence,
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
}

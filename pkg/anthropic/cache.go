package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// CachedSystem wraps a system prompt in one block with a cache breakpoint.
// ttl is "5m" or "1h"; empty uses the API default.
func CachedSystem(text, ttl string) []SystemBlock {
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: ttl}}}
}

// Warm writes system into the prompt cache with a minimal request.
func Warm(ctx context.Context, client Client, model string, system []SystemBlock) (TokenUsage, error) {
	resp, err := client.CreateMessage(ctx, MessageRequest{
		Model:     model,
		MaxTokens: 16,
		System:    system,
		Messages:  []Message{{Role: "user", Content: "Reply with {}"}},
	})
	if err != nil {
		return TokenUsage{}, eris.Wrap(err, "anthropic: warm prompt cache")
	}
	return resp.Usage, nil
}

package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/pkg/anthropic"
)

const extractionSystemPrompt = `You extract company and person attributes from research material for a data enrichment system.
Only report facts stated in or directly implied by the material. Prefer exact values over paraphrase.
Answer with a single JSON object and nothing else.`

// Extractor turns unstructured text into enrichment values with a Claude
// model. It is shared by the scraping providers.
type Extractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64

	warmOnce sync.Once
	warmErr  error
}

// NewExtractor creates an Extractor.
func NewExtractor(client anthropic.Client, model string, maxTokens int64) *Extractor {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Extractor{client: client, model: model, maxTokens: maxTokens}
}

func (e *Extractor) system() []anthropic.SystemBlock {
	return anthropic.CachedSystem(extractionSystemPrompt, "1h")
}

// Warm primes the prompt cache for the shared system prompt. Only the
// first call reaches the API.
func (e *Extractor) Warm(ctx context.Context) error {
	e.warmOnce.Do(func() {
		var usage anthropic.TokenUsage
		usage, e.warmErr = anthropic.Warm(ctx, e.client, e.model, e.system())
		if e.warmErr == nil {
			zap.L().Debug("extraction prompt cached", usage.Fields(e.model)...)
		}
	})
	return e.warmErr
}

// Extract asks the model for fields found in content. phase labels cost
// logging. Confidence is capped at maxConf.
func (e *Extractor) Extract(ctx context.Context, phase string, id model.Identifier, content string, fields []model.EnrichmentField, maxConf int) (model.EnrichmentData, error) {
	if len(fields) == 0 {
		return model.EnrichmentData{}, nil
	}
	temp := 0.0
	prompt := fmt.Sprintf("%s\nWhat we know so far:\n%s\nMaterial:\n%s",
		fieldInstructions(fields), describe(id), truncate(content, maxContentChars))

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      e.system(),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, classify(phase, err)
	}
	zap.L().Debug("extraction usage", append(resp.Usage.Fields(e.model), zap.String("phase", phase))...)
	if resp.Truncated() {
		return nil, malformed(phase, "extraction", eris.Errorf("answer cut off at %d tokens", e.maxTokens))
	}

	data, err := parseFields(resp.Text(), fields, maxConf, maxConf)
	if err != nil {
		return nil, malformed(phase, "extraction json", err)
	}
	return data, nil
}

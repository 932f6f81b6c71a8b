package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnrichmentSource identifies the kind of provider that produced a value.
type EnrichmentSource string

const (
	SourceWebsiteScrape  EnrichmentSource = "website_scrape"
	SourceLinkedInScrape EnrichmentSource = "linkedin_scrape"
	SourceCache          EnrichmentSource = "cache"
	SourceContactOut     EnrichmentSource = "contactout"
	SourceSearchResult   EnrichmentSource = "search_result"
	SourcePlaces         EnrichmentSource = "places"
	SourceAIInference    EnrichmentSource = "ai_inference"
)

var sourceRanks = map[EnrichmentSource]int{
	SourceWebsiteScrape:  95,
	SourceLinkedInScrape: 90,
	SourceCache:          85,
	SourceContactOut:     80,
	SourcePlaces:         75,
	SourceSearchResult:   70,
	SourceAIInference:    40,
}

// Rank returns the trust score of the source. Unknown sources rank 0.
func (s EnrichmentSource) Rank() int { return sourceRanks[s] }

// EnrichedValue is one candidate value for a field. Value is a string, a
// float64 or nil.
type EnrichedValue struct {
	Value      any              `json:"value"`
	Confidence int              `json:"confidence"`
	Source     EnrichmentSource `json:"source"`
	ObservedAt time.Time        `json:"observed_at"`
}

// NewValue builds an EnrichedValue with confidence clamped to [0,100].
// Integer values are widened to float64.
func NewValue(v any, confidence int, source EnrichmentSource, observedAt time.Time) EnrichedValue {
	return EnrichedValue{
		Value:      normalizeValue(v),
		Confidence: ClampConfidence(confidence),
		Source:     source,
		ObservedAt: observedAt,
	}
}

// ClampConfidence bounds c to [0,100].
func ClampConfidence(c int) int {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return c
	}
}

// IsEmpty reports whether the value carries no data.
func (v EnrichedValue) IsEmpty() bool {
	switch x := v.Value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	default:
		return false
	}
}

// String renders the value for notes and logs.
func (v EnrichedValue) String() string {
	switch x := v.Value.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return formatNumber(x)
	}
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case string, float64, nil:
		return x
	default:
		return formatNumber(x)
	}
}

func formatNumber(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// EnrichmentData holds at most one value per field.
type EnrichmentData map[EnrichmentField]EnrichedValue

// Get returns the value for f and whether a non-empty value is present.
func (d EnrichmentData) Get(f EnrichmentField) (EnrichedValue, bool) {
	v, ok := d[f]
	if !ok || v.IsEmpty() {
		return EnrichedValue{}, false
	}
	return v, true
}

// Has reports whether f holds a non-empty value.
func (d EnrichmentData) Has(f EnrichmentField) bool {
	_, ok := d.Get(f)
	return ok
}

// Filled returns the number of non-empty fields.
func (d EnrichmentData) Filled() int {
	n := 0
	for _, v := range d {
		if !v.IsEmpty() {
			n++
		}
	}
	return n
}

// Clone returns a shallow copy.
func (d EnrichmentData) Clone() EnrichmentData {
	out := make(EnrichmentData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// WithSource returns a copy with every value re-tagged to src.
func (d EnrichmentData) WithSource(src EnrichmentSource) EnrichmentData {
	out := make(EnrichmentData, len(d))
	for k, v := range d {
		v.Source = src
		out[k] = v
	}
	return out
}

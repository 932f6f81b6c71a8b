package waterfall

import (
	"sort"

	"github.com/sells-group/entity-enrich/internal/model"
)

// rankMargin is how far apart two sources must rank before trust overrides
// confidence.
const rankMargin = 10

// MergeResult is the outcome of folding a candidate set into existing data.
type MergeResult struct {
	Data      model.EnrichmentData
	Conflicts []model.Conflict
	// Added lists fields that were empty before the merge.
	Added []model.EnrichmentField
	// Replaced lists fields whose value changed source or value.
	Replaced []model.EnrichmentField
}

// Changed reports whether the merge altered anything.
func (r MergeResult) Changed() bool { return len(r.Added)+len(r.Replaced) > 0 }

// Prefer reports whether candidate should replace existing. A source
// ranked more than rankMargin above the other wins outright; otherwise the
// higher confidence wins and ties keep existing.
func Prefer(existing, candidate model.EnrichedValue) bool {
	if candidate.IsEmpty() {
		return false
	}
	if existing.IsEmpty() {
		return true
	}
	delta := candidate.Source.Rank() - existing.Source.Rank()
	switch {
	case delta > rankMargin:
		return true
	case delta < -rankMargin:
		return false
	default:
		return candidate.Confidence > existing.Confidence
	}
}

// Merge folds incoming into existing without mutating either. Empty
// candidates are ignored. Every replacement of a filled field is recorded
// as a conflict.
func Merge(existing, incoming model.EnrichmentData) MergeResult {
	out := MergeResult{Data: existing.Clone()}

	fields := make([]model.EnrichmentField, 0, len(incoming))
	for f := range incoming {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	for _, f := range fields {
		cand := incoming[f]
		if cand.IsEmpty() {
			continue
		}
		cand.Confidence = model.ClampConfidence(cand.Confidence)

		cur, ok := out.Data.Get(f)
		if !ok {
			out.Data[f] = cand
			out.Added = append(out.Added, f)
			continue
		}
		if !Prefer(cur, cand) {
			continue
		}
		out.Data[f] = cand
		out.Replaced = append(out.Replaced, f)
		out.Conflicts = append(out.Conflicts, model.Conflict{Field: f, Kept: cand, Discarded: cur})
	}
	return out
}

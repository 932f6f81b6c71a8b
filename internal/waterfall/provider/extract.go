package provider

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/entity-enrich/internal/model"
)

// maxContentChars bounds scraped text handed to a model.
const maxContentChars = 24000

// fieldHints describes each field to a model.
var fieldHints = map[model.EnrichmentField]string{
	model.FieldCompanyName:          "legal or common company name",
	model.FieldCompanyDomain:        "primary website domain, e.g. acme.com",
	model.FieldCompanyDescription:   "one or two sentence description of what the company does",
	model.FieldCompanyIndustry:      "industry, e.g. Software or Commercial Real Estate",
	model.FieldCompanyEmployeeCount: "approximate number of employees as a number",
	model.FieldCompanyHeadquarters:  "headquarters as City, State or City, Country",
	model.FieldCompanyFounded:       "year founded as a number",
	model.FieldCompanyLinkedInURL:   "LinkedIn company page URL",
	model.FieldCompanyPhone:         "main company phone number",
	model.FieldPersonName:           "person's full name",
	model.FieldPersonEmail:          "person's work email address",
	model.FieldPersonPhone:          "person's direct phone number",
	model.FieldPersonTitle:          "person's current job title",
	model.FieldPersonCompany:        "person's current employer",
	model.FieldPersonLocation:       "person's location as City, State or City, Country",
	model.FieldPersonLinkedInURL:    "person's LinkedIn profile URL",
}

// numericFields are coerced to float64 when a model returns them as text.
var numericFields = map[model.EnrichmentField]bool{
	model.FieldCompanyEmployeeCount: true,
	model.FieldCompanyFounded:       true,
}

// fieldInstructions renders the JSON shape a model should answer with.
func fieldInstructions(fields []model.EnrichmentField) string {
	var b strings.Builder
	b.WriteString("Return only a JSON object. Each key is one of the fields below and each value is an object ")
	b.WriteString(`{"value": ..., "confidence": 0-100}. Omit any field you cannot determine. Do not guess.` + "\n\nFields:\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s: %s\n", f, fieldHints[f])
	}
	return b.String()
}

// describe summarizes what is already known about id for a prompt.
func describe(id model.Identifier) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Identifier: %s\n", id.Raw)
	if id.Type != "" && id.Type != model.EntityUnknown {
		fmt.Fprintf(&b, "Entity type: %s\n", id.Type)
	}
	keys := make([]string, 0, len(id.Known))
	for f := range id.Known {
		keys = append(keys, string(f))
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := id.Known.Get(model.EnrichmentField(k)); ok {
			fmt.Fprintf(&b, "%s: %s\n", k, v.String())
		}
	}
	srcKeys := make([]string, 0, len(id.SourceData))
	for k := range id.SourceData {
		srcKeys = append(srcKeys, k)
	}
	sort.Strings(srcKeys)
	for _, k := range srcKeys {
		if s := strings.TrimSpace(fmt.Sprint(id.SourceData[k])); s != "" && id.SourceData[k] != nil {
			fmt.Fprintf(&b, "row %s: %s\n", k, s)
		}
	}
	return b.String()
}

// unknownFields returns the fields in want that id does not already hold.
func unknownFields(id model.Identifier, want []model.EnrichmentField) []model.EnrichmentField {
	var out []model.EnrichmentField
	for _, f := range want {
		if !id.Known.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return s[:n]
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

// cleanJSON pulls a JSON object out of text that may carry code fences or
// surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// parseFields decodes a model answer into enrichment values. Keys outside
// allowed are dropped. Values may be bare or {"value","confidence"}
// objects; bare values get defaultConf. Confidence is capped at maxConf.
func parseFields(text string, allowed []model.EnrichmentField, defaultConf, maxConf int) (model.EnrichmentData, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleanJSON(text)), &raw); err != nil {
		return nil, err
	}
	ok := make(map[model.EnrichmentField]bool, len(allowed))
	for _, f := range allowed {
		ok[f] = true
	}

	out := make(model.EnrichmentData)
	for k, msg := range raw {
		f, err := model.ParseField(k)
		if err != nil || !ok[f] {
			continue
		}
		val, conf := decodeValue(msg, defaultConf)
		val = coerce(f, val)
		if val == nil {
			continue
		}
		if conf > maxConf {
			conf = maxConf
		}
		ev := model.NewValue(val, conf, "", time.Time{})
		if ev.IsEmpty() {
			continue
		}
		out[f] = ev
	}
	return out, nil
}

func decodeValue(msg json.RawMessage, defaultConf int) (any, int) {
	var obj struct {
		Value      any  `json:"value"`
		Confidence *int `json:"confidence"`
	}
	if err := json.Unmarshal(msg, &obj); err == nil && (obj.Value != nil || obj.Confidence != nil) {
		if obj.Confidence == nil {
			return obj.Value, defaultConf
		}
		return obj.Value, *obj.Confidence
	}
	var v any
	if err := json.Unmarshal(msg, &v); err != nil {
		return nil, 0
	}
	if _, isObj := v.(map[string]any); isObj {
		return nil, 0
	}
	return v, defaultConf
}

// coerce normalizes a decoded JSON value for f. Strings such as "1,200" or
// "51-200" become numbers for numeric fields. Unusable values become nil.
func coerce(f model.EnrichmentField, v any) any {
	switch x := v.(type) {
	case string:
		x = strings.TrimSpace(x)
		if x == "" || strings.EqualFold(x, "unknown") || strings.EqualFold(x, "n/a") {
			return nil
		}
		if numericFields[f] {
			return parseNumber(x)
		}
		return x
	case float64:
		if numericFields[f] {
			return x
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool, []any, map[string]any:
		return nil
	default:
		return v
	}
}

// parseNumber reads the first number in s. Ranges like "51-200" take the
// upper bound; a trailing "+" is ignored.
func parseNumber(s string) any {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(strings.TrimSpace(s), "+")
	if i := strings.IndexAny(s, "-–"); i > 0 {
		s = strings.TrimSpace(s[i:])
		s = strings.TrimLeft(s, "-–")
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f
	}
	return nil
}

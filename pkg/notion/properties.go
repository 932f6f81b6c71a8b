package notion

import (
	"strconv"
	"strings"

	"github.com/jomei/notionapi"
)

// PlainText concatenates the plain text of rich text segments.
func PlainText(rt []notionapi.RichText) string {
	var b strings.Builder
	for _, t := range rt {
		if t.PlainText != "" {
			b.WriteString(t.PlainText)
			continue
		}
		if t.Text != nil {
			b.WriteString(t.Text.Content)
		}
	}
	return b.String()
}

// PropertyValue flattens a page property into a string, a float64 or nil.
// Property types without a scalar reading return nil.
func PropertyValue(prop notionapi.Property) any {
	switch p := prop.(type) {
	case *notionapi.TitleProperty:
		return textOrNil(PlainText(p.Title))
	case *notionapi.RichTextProperty:
		return textOrNil(PlainText(p.RichText))
	case *notionapi.URLProperty:
		return textOrNil(p.URL)
	case *notionapi.EmailProperty:
		return textOrNil(p.Email)
	case *notionapi.PhoneNumberProperty:
		return textOrNil(p.PhoneNumber)
	case *notionapi.NumberProperty:
		// An unset number decodes as 0.
		if p.Number == 0 {
			return nil
		}
		return p.Number
	case *notionapi.SelectProperty:
		return textOrNil(p.Select.Name)
	case *notionapi.StatusProperty:
		return textOrNil(p.Status.Name)
	case *notionapi.MultiSelectProperty:
		names := make([]string, 0, len(p.MultiSelect))
		for _, o := range p.MultiSelect {
			names = append(names, o.Name)
		}
		return textOrNil(strings.Join(names, ", "))
	default:
		return nil
	}
}

// UpdateProperty builds an update for an existing property carrying value.
// It reports false when the property type cannot hold the value.
func UpdateProperty(existing notionapi.Property, value any) (notionapi.Property, bool) {
	text := valueText(value)
	switch existing.(type) {
	case *notionapi.TitleProperty:
		return notionapi.TitleProperty{Type: notionapi.PropertyTypeTitle, Title: richText(text)}, true
	case *notionapi.RichTextProperty:
		return notionapi.RichTextProperty{Type: notionapi.PropertyTypeRichText, RichText: richText(text)}, true
	case *notionapi.URLProperty:
		return notionapi.URLProperty{Type: notionapi.PropertyTypeURL, URL: text}, true
	case *notionapi.EmailProperty:
		return notionapi.EmailProperty{Type: notionapi.PropertyTypeEmail, Email: text}, true
	case *notionapi.PhoneNumberProperty:
		return notionapi.PhoneNumberProperty{Type: notionapi.PropertyTypePhoneNumber, PhoneNumber: text}, true
	case *notionapi.NumberProperty:
		f, ok := value.(float64)
		if !ok {
			parsed, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", ""), 64)
			if err != nil {
				return nil, false
			}
			f = parsed
		}
		return notionapi.NumberProperty{Type: notionapi.PropertyTypeNumber, Number: f}, true
	case *notionapi.SelectProperty:
		return notionapi.SelectProperty{Type: notionapi.PropertyTypeSelect, Select: notionapi.Option{Name: text}}, true
	default:
		return nil, false
	}
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
	}
}

func valueText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

func textOrNil(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

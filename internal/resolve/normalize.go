// Package resolve groups table rows into deduplicated entities.
package resolve

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/entity-enrich/internal/model"
)

const (
	prefixLinkedIn = "linkedin:"
	prefixEmail    = "email:"
	prefixDomain   = "domain:"
)

// legalSuffixes are trailing words dropped from names. Matching is on whole
// words after punctuation has been removed.
var legalSuffixes = map[string]struct{}{
	"inc":          {},
	"incorporated": {},
	"llc":          {},
	"ltd":          {},
	"limited":      {},
	"corp":         {},
	"corporation":  {},
	"company":      {},
	"co":           {},
	"plc":          {},
	"llp":          {},
}

var (
	multiSpaceRe = regexp.MustCompile(`\s+`)
	hostnameRe   = regexp.MustCompile(`^(?:www\.)?[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*\.[a-z]{2,}(?:[/?#].*)?$`)
	linkedInPath = []string{"/in/", "/company/", "/school/", "/showcase/"}
)

// Normalize canonicalizes a raw cell value into a dedup key:
//  1. lower-case and trim
//  2. LinkedIn profile URLs become linkedin:<slug>
//  3. anything with an @ becomes email:<address>
//  4. URLs and bare hostnames become domain:<host without www.>
//  5. everything else is treated as a name (see NormalizeName)
//
// Keys that already carry one of the prefixes are returned unchanged.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	if hasKeyPrefix(s) {
		return s
	}

	if strings.Contains(s, "linkedin.com") {
		if slug := linkedInSlug(s); slug != "" {
			return prefixLinkedIn + slug
		}
	}

	if strings.Contains(s, "@") {
		if addr := emailAddress(s); addr != "" {
			return prefixEmail + addr
		}
	}

	if host := hostOf(s); host != "" {
		return prefixDomain + host
	}

	return NormalizeName(s)
}

// KindOf reports the identifier kind encoded in a normalized key.
func KindOf(normalized string) model.IdentifierKind {
	switch {
	case strings.HasPrefix(normalized, prefixLinkedIn):
		return model.KindLinkedIn
	case strings.HasPrefix(normalized, prefixEmail):
		return model.KindEmail
	case strings.HasPrefix(normalized, prefixDomain):
		return model.KindDomain
	default:
		return model.KindName
	}
}

// Value strips the kind prefix from a normalized key.
func Value(normalized string) string {
	for _, p := range []string{prefixLinkedIn, prefixEmail, prefixDomain} {
		if strings.HasPrefix(normalized, p) {
			return strings.TrimPrefix(normalized, p)
		}
	}
	return normalized
}

// NormalizeName folds diacritics, strips punctuation, collapses whitespace
// and removes trailing legal-entity suffixes. A name made only of suffix
// words keeps its last word so the key is never empty.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(foldDiacritics(name)))
	if name == "" {
		return ""
	}

	name = strings.NewReplacer(
		".", "",
		",", " ",
		"'", "",
		"’", "",
		"\"", "",
	).Replace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, name)
	name = strings.TrimSpace(multiSpaceRe.ReplaceAllString(name, " "))

	words := strings.Fields(name)
	for len(words) > 1 {
		if _, ok := legalSuffixes[words[len(words)-1]]; !ok {
			break
		}
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// LinkedInKey builds the key for a bare LinkedIn handle found in a
// LinkedIn column, so "acme" and ".../company/acme" collide.
func LinkedInKey(handle string) string {
	h := strings.ToLower(strings.TrimSpace(handle))
	h = strings.Trim(h, "/@ ")
	if h == "" || strings.ContainsAny(h, " \t") {
		return ""
	}
	return prefixLinkedIn + h
}

func hasKeyPrefix(s string) bool {
	if strings.ContainsAny(s, " \t") {
		return false
	}
	for _, p := range []string{prefixLinkedIn, prefixEmail, prefixDomain} {
		if strings.HasPrefix(s, p) && len(s) > len(p) {
			return true
		}
	}
	return false
}

func linkedInSlug(s string) string {
	for _, marker := range linkedInPath {
		idx := strings.Index(s, marker)
		if idx < 0 {
			continue
		}
		rest := s[idx+len(marker):]
		if end := strings.IndexAny(rest, "/?#"); end >= 0 {
			rest = rest[:end]
		}
		if unescaped, err := url.PathUnescape(rest); err == nil {
			rest = unescaped
		}
		return strings.TrimSpace(rest)
	}
	return ""
}

func emailAddress(s string) string {
	s = strings.TrimPrefix(s, "mailto:")
	for _, tok := range strings.Fields(s) {
		if !strings.Contains(tok, "@") {
			continue
		}
		tok = strings.Trim(tok, "<>()[],;:\"'")
		if i := strings.IndexAny(tok, "?"); i >= 0 {
			tok = tok[:i]
		}
		at := strings.LastIndex(tok, "@")
		if at <= 0 || at == len(tok)-1 {
			return ""
		}
		return tok
	}
	return ""
}

func hostOf(s string) string {
	if strings.ContainsAny(s, " \t") {
		return ""
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		u, err := url.Parse(s)
		if err != nil || u.Hostname() == "" {
			return ""
		}
		return strings.TrimPrefix(u.Hostname(), "www.")
	}
	if !hostnameRe.MatchString(s) {
		return ""
	}
	u, err := url.Parse("http://" + s)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

package intel

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/omar-gamzatov/content-guardian/internal/config"
	"github.com/omar-gamzatov/content-guardian/internal/rules"
)

// Signal names produced by the regex bundle.
const (
	SignalTextLength    = "text_length"
	SignalLang          = "lang"
	SignalCapsRatio     = "caps_ratio"
	SignalHasEmail      = "has_email"
	SignalHasPhone      = "has_phone"
	SignalHasURL        = "has_url"
	SignalHasCreditCard = "has_credit_card"
	SignalHasIBAN       = "has_iban"
	// KeywordPrefix prefixes per-category keyword hit counts, e.g. kw_threat.
	KeywordPrefix = "kw_"
)

// RegexBundle extracts signals with regular expressions and keyword lists.
type RegexBundle struct {
	id      string
	version string

	categories []keywordCategory

	emailRegex *regexp.Regexp
	phoneRegex *regexp.Regexp
	urlRegex   *regexp.Regexp
	ccRegex    *regexp.Regexp
	ibanRegex  *regexp.Regexp
}

type keywordCategory struct {
	name     string
	patterns []*regexp.Regexp
}

// NewRegexBundle builds a bundle from the intel config.
func NewRegexBundle(ic config.IntelConfig) *RegexBundle {
	// Keys differing only in case or spacing share one kw_ signal.
	grouped := make(map[string][]string, len(ic.Keywords))
	for name, words := range ic.Keywords {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		grouped[key] = append(grouped[key], words...)
	}
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	cats := make([]keywordCategory, 0, len(names))
	for _, name := range names {
		cat := keywordCategory{name: name}
		for _, w := range normalizeKeywords(grouped[name]) {
			cat.patterns = append(cat.patterns, keywordPattern(w))
		}
		cats = append(cats, cat)
	}

	return &RegexBundle{
		id:      "guardian-intel-regex",
		version: "0.2.0",

		categories: cats,

		emailRegex: regexp.MustCompile(
			`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
		),
		phoneRegex: regexp.MustCompile(
			`\+?\d[\d\s\-()]{7,}\d`,
		),
		urlRegex: regexp.MustCompile(
			`(?i)\b(?:https?://|www\.)[^\s<>"]+`,
		),
		ccRegex: regexp.MustCompile(
			`\b(?:\d[ -]*?){13,16}\b`,
		),
		ibanRegex: regexp.MustCompile(
			`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`,
		),
	}
}

func normalizeKeywords(words []string) []string {
	m := make(map[string]struct{})
	out := make([]string, 0, len(words))

	for _, w := range words {
		trimmed := strings.TrimSpace(w)
		if trimmed == "" {
			continue
		}
		lw := strings.ToLower(trimmed)
		if _, exists := m[lw]; exists {
			continue
		}
		m[lw] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func (b *RegexBundle) Status() Status {
	return Status{
		Enabled:       true,
		BundleID:      b.id,
		BundleVersion: b.version,
	}
}

// Extract always reports every structural signal, so policies can tell a
// clean text (false / 0) from an engine that did not run (missing).
func (b *RegexBundle) Extract(ctx context.Context, text, lang string) (rules.Signals, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := rules.Signals{
		SignalTextLength:    utf8.RuneCountInString(text),
		SignalCapsRatio:     capsRatio(text),
		SignalHasEmail:      b.emailRegex.MatchString(text),
		SignalHasPhone:      b.phoneRegex.MatchString(text),
		SignalHasURL:        b.urlRegex.MatchString(text),
		SignalHasCreditCard: b.ccRegex.MatchString(text),
		SignalHasIBAN:       b.ibanRegex.MatchString(text),
	}
	if lang != "" {
		s[SignalLang] = lang
	}

	for _, cat := range b.categories {
		hits := 0
		for _, re := range cat.patterns {
			if re.MatchString(text) {
				hits++
			}
		}
		s[KeywordPrefix+cat.name] = hits
	}
	return s, nil
}

// Redact masks e-mail addresses, IBANs, card and phone numbers.
func (b *RegexBundle) Redact(text string) (string, bool) {
	if text == "" {
		return text, false
	}

	redacted := b.emailRegex.ReplaceAllString(text, "[REDACTED_EMAIL]")
	redacted = b.ibanRegex.ReplaceAllString(redacted, "[REDACTED_IBAN]")
	redacted = b.ccRegex.ReplaceAllString(redacted, "[REDACTED_CREDIT_CARD]")
	redacted = b.phoneRegex.ReplaceAllString(redacted, "[REDACTED_PHONE]")

	if redacted == text {
		return text, false
	}
	return redacted, true
}

// keywordPattern matches w as a whole word. RE2's \b is ASCII-only, so
// word edges are spelled out with Unicode classes.
func keywordPattern(w string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(w) + `(?:$|[^\p{L}\p{N}_])`)
}

// capsRatio is the share of upper-case letters among all letters.
func capsRatio(text string) float64 {
	var letters, upper int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

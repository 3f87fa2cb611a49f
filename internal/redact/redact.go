// Package redact scrubs secrets and personal data from log lines and
// activation previews. All logging in the service goes through Logf.
package redact

import (
	"fmt"
	"log"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

const mark = "[REDACTED]"

// replacement rewrites every match of re. When keep is set, matches that
// already carry a redaction mark are left alone.
type replacement struct {
	re   *regexp.Regexp
	with func(m []string) string
	keep bool
}

func prefixed(m []string) string { return m[1] + mark }

var credentialRules = []replacement{
	{re: regexp.MustCompile(`(?i)(authorization\s*[:=]\s*bearer\s+)([A-Za-z0-9._\-+/=]+)`), with: prefixed},
	{re: regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-+/=]+)`), with: prefixed},
	{re: regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*\[)([^\]]+)(\])`), with: func(m []string) string { return m[1] + "REDACTED" + m[3] }},
	{re: regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*)([A-Za-z0-9._\-+/=]+)`), with: prefixed},
	{re: regexp.MustCompile(`(?i)((?:password|passwd|pwd)\s*[:=]\s*)(\S+)`), with: prefixed, keep: true},
	{re: regexp.MustCompile(`(?i)(x-api-key|x-guardian-key)\s*[:=]\s*([A-Za-z0-9._\-+/=]+)`), with: func(m []string) string { return m[1] + "=" + mark }},
	{re: regexp.MustCompile(`(?i)(key|token|secret)\s*[:=]\s*([A-Za-z0-9._\-+/=]{6,})`), with: func(m []string) string { return m[1] + "=" + mark }, keep: true},
}

var (
	urlRe   = regexp.MustCompile(`(?i)\b(?:https?|rediss?|kafka)://[^\s"'<>]+`)
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+\d{1,3}[\s.-]?\(?\d{2,4}\)?[\s.-]?\d{3}[\s.-]?\d{2,4}`)
)

// String redacts credentials, URLs, e-mail addresses and international
// phone numbers from free-form text.
func String(s string) string {
	if s == "" {
		return s
	}

	out := s
	for _, r := range credentialRules {
		out = r.re.ReplaceAllStringFunc(out, func(match string) string {
			if r.keep && strings.Contains(match, mark) {
				return match
			}
			return r.with(r.re.FindStringSubmatch(match))
		})
	}
	// URLs go before e-mails so userinfo is dropped as a whole.
	out = urlRe.ReplaceAllStringFunc(out, redactURL)
	out = emailRe.ReplaceAllString(out, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	for strings.Contains(out, mark+mark) {
		out = strings.ReplaceAll(out, mark+mark, mark)
	}
	return out
}

// Preview returns at most max bytes of s, cut on a rune boundary, with an
// ellipsis when shortened. The result is not redacted.
func Preview(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// Sprintf formats like fmt.Sprintf and redacts the result.
func Sprintf(format string, args ...any) string {
	return String(fmt.Sprintf(format, args...))
}

// Logf prints a redacted log line.
func Logf(format string, args ...any) {
	log.Print(Sprintf(format, args...))
}

// Fatalf prints a redacted log line and exits.
func Fatalf(format string, args ...any) {
	log.Fatal(Sprintf(format, args...))
}

// redactURL keeps scheme, host and the last path segment. Userinfo and
// query strings are dropped.
func redactURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[REDACTED_URL]"
	}
	origin := u.Scheme + "://" + u.Host
	if strings.HasSuffix(u.Path, "/") {
		return origin + "/[REDACTED_PATH]"
	}
	switch base := path.Base(u.Path); base {
	case ".", "/", "":
		return origin
	default:
		return origin + "/" + base
	}
}

package listing

import (
	"regexp"
	"strings"
)

// DefaultURLPattern matches marketplace listing links in free text.
const DefaultURLPattern = `https://www\.facebook\.com/marketplace/[^\s]+`

var defaultURLRe = regexp.MustCompile(DefaultURLPattern)

// Matcher finds listing links in message text.
type Matcher struct {
	re *regexp.Regexp
}

// NewMatcher compiles pattern; an empty pattern selects DefaultURLPattern.
func NewMatcher(pattern string) (*Matcher, error) {
	if pattern == "" {
		return &Matcher{re: defaultURLRe}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Matcher{re: re}, nil
}

// FindURLs returns every listing link in text, in order of appearance.
func (m *Matcher) FindURLs(text string) []string {
	return m.re.FindAllString(text, -1)
}

// FindURLs uses DefaultURLPattern.
func FindURLs(text string) []string {
	return defaultURLRe.FindAllString(text, -1)
}

// NormalizeURL drops the tracking query (everything from the first "?") and
// any trailing slash left in front of it.
//
//	https://site/marketplace/item/123/?ref=abc → https://site/marketplace/item/123
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(u, "/")
}

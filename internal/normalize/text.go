package normalize

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var leadingArticles = []string{"the ", "a ", "an "}

// Title canonicalizes a title for cache keys and fuzzy matching: trim,
// lower-case, strip one leading article, keep only letters/digits/spaces,
// collapse internal whitespace.
func Title(s string) string {
	t := strings.ToLower(strings.TrimSpace(s))
	for _, article := range leadingArticles {
		if strings.HasPrefix(t, article) {
			t = t[len(article):]
			break
		}
	}
	var b strings.Builder
	for _, r := range t {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return collapseSpaces(b.String())
}

// Author canonicalizes an author name for cache keys: trim and lower-case.
// Punctuation is preserved; merging uses the stricter AuthorKey.
func Author(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// AuthorKey is the dedupe key for authors within a response: lower-case,
// accents stripped, whitespace collapsed, everything outside [a-z0-9 ]
// removed.
func AuthorKey(s string) string {
	t := strings.ToLower(strings.TrimSpace(s))

	// Decompose and drop combining marks so "Brontë" and "Bronte" merge.
	decomposed := norm.NFD.String(t)
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		}
	}
	return collapseSpaces(b.String())
}

// ImageURL drops the query string and forces https. Unparseable input is
// returned unchanged so callers never lose the original value.
func ImageURL(s string) string {
	trimmed := strings.TrimSpace(s)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return trimmed
	}
	u.Scheme = "https"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Package normalize holds the pure canonicalization functions that define
// cache-key identity. Two callers producing byte-identical normalized values
// must hit the same cache entry, so nothing in this package may depend on
// locale, clock, or I/O.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	isbn13RE = regexp.MustCompile(`^\d{13}$`)
	isbn10RE = regexp.MustCompile(`^\d{9}[\dXx]$`)
)

// ISBN strips hyphens and whitespace and returns the compact canonical form.
// The second return is false if the input is not a structurally valid ISBN-10
// or ISBN-13.
func ISBN(s string) (string, bool) {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	switch {
	case isbn13RE.MatchString(compact):
		return compact, true
	case isbn10RE.MatchString(compact):
		return strings.ToUpper(compact), true
	}
	return "", false
}

// ValidISBN reports whether s is a hyphen/space-tolerant valid ISBN.
func ValidISBN(s string) bool {
	_, ok := ISBN(s)
	return ok
}

// ISBN10To13 converts a compact ISBN-10 to its ISBN-13 equivalent under the
// 978 prefix. The input must already be in canonical compact form.
func ISBN10To13(isbn10 string) (string, bool) {
	if !isbn10RE.MatchString(isbn10) {
		return "", false
	}
	body := "978" + isbn10[:9]
	return body + string(rune('0'+ean13CheckDigit(body))), true
}

// ISBN13To10 converts a compact 978-prefixed ISBN-13 to its ISBN-10
// equivalent. 979-prefixed ISBNs have no ISBN-10 form.
func ISBN13To10(isbn13 string) (string, bool) {
	if !isbn13RE.MatchString(isbn13) || !strings.HasPrefix(isbn13, "978") {
		return "", false
	}
	body := isbn13[3:12]
	sum := 0
	for i, r := range body {
		sum += (10 - i) * int(r-'0')
	}
	check := (11 - sum%11) % 11
	if check == 10 {
		return body + "X", true
	}
	return body + string(rune('0'+check)), true
}

func ean13CheckDigit(body string) int {
	sum := 0
	for i, r := range body {
		d := int(r - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return (10 - sum%10) % 10
}

// SHA256 returns the lower-case hex digest of s. Used for content-addressed
// cache keys of CSV payloads.
func SHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

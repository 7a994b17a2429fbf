// Package enrich turns raw provider payloads into canonical records and
// merges them into best-effort responses.
package enrich

import (
	"regexp"
	"strings"

	"github.com/jackzampolin/tome/internal/book"
)

var yearRE = regexp.MustCompile(`\b(\d{4})\b`)

// yearFrom extracts a publication year from a provider date string. Malformed
// dates yield zero rather than a coerced value.
func yearFrom(date string) int {
	m := yearRE.FindStringSubmatch(date)
	if m == nil {
		return 0
	}
	year := 0
	for _, r := range m[1] {
		year = year*10 + int(r-'0')
	}
	if year < 1000 || year > 2100 {
		return 0
	}
	return year
}

// formatFrom maps a provider binding/print-type string onto the format enum.
func formatFrom(s string) book.Format {
	switch l := strings.ToLower(s); {
	case strings.Contains(l, "hardcover"), strings.Contains(l, "hardback"):
		return book.FormatHardcover
	case strings.Contains(l, "paperback"), strings.Contains(l, "softcover"), strings.Contains(l, "mass market"):
		return book.FormatPaperback
	case strings.Contains(l, "ebook"), strings.Contains(l, "e-book"), strings.Contains(l, "kindle"), strings.Contains(l, "electronic"):
		return book.FormatEbook
	case strings.Contains(l, "audio"):
		return book.FormatAudiobook
	}
	return book.FormatOther
}

// workQuality scores field completeness onto 0-100. Each present high-value
// attribute contributes equally.
func workQuality(w book.Work, e book.Edition, authorCount int) int {
	present := 0
	total := 10
	if w.Title != "" {
		present++
	}
	if w.Description != "" {
		present++
	}
	if w.FirstPublicationYear > 0 {
		present++
	}
	if len(w.SubjectTags) > 0 {
		present++
	}
	if w.CoverImageURL != "" {
		present++
	}
	if authorCount > 0 {
		present++
	}
	if len(e.ISBNs) > 0 {
		present++
	}
	if e.Publisher != "" {
		present++
	}
	if e.PageCount > 0 {
		present++
	}
	if e.Language != "" {
		present++
	}
	return present * 100 / total
}

// singleProvider stamps provenance fields on a freshly normalized response.
func singleProvider(resp *book.Response, p book.Provider) {
	for i := range resp.Works {
		resp.Works[i].PrimaryProvider = p
		resp.Works[i].Contributors = []book.Provider{p}
		resp.Works[i].Synthetic = false
		if resp.Works[i].ReviewStatus == "" {
			resp.Works[i].ReviewStatus = book.ReviewUnverified
		}
	}
	for i := range resp.Editions {
		resp.Editions[i].PrimaryProvider = p
		resp.Editions[i].Contributors = []book.Provider{p}
		if resp.Editions[i].Format == "" {
			resp.Editions[i].Format = book.FormatOther
		}
	}
	for i := range resp.Authors {
		if resp.Authors[i].Gender == "" {
			resp.Authors[i].Gender = book.GenderUnknown
		}
	}
}

// trimAll trims and drops empty strings.
func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

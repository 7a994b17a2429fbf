// Package book defines the canonical records returned by the enrichment
// pipeline: works, editions, and authors merged from the upstream providers.
package book

import (
	"fmt"
	"strings"

	"github.com/jackzampolin/tome/internal/normalize"
)

// Provider identifies a metadata source. The set is closed: merge policy and
// provider ranking depend on every value being known at compile time.
type Provider string

const (
	ProviderGoogleBooks Provider = "googlebooks"
	ProviderOpenLibrary Provider = "openlibrary"
	ProviderISBNdb      Provider = "isbndb"
	ProviderVision      Provider = "vision"
	// ProviderNone marks a best-effort response produced with no upstream data.
	ProviderNone Provider = "none"
)

// Rank orders providers for attribute-wise merging; lower wins.
func (p Provider) Rank() int {
	switch p {
	case ProviderGoogleBooks:
		return 0
	case ProviderOpenLibrary:
		return 1
	case ProviderISBNdb:
		return 2
	case ProviderVision:
		return 3
	}
	return 99
}

// ReviewStatus flags whether a record has been human-verified.
type ReviewStatus string

const (
	ReviewVerified    ReviewStatus = "verified"
	ReviewUnverified  ReviewStatus = "unverified"
	ReviewNeedsReview ReviewStatus = "needs_review"
)

// Format is an edition's physical/digital form.
type Format string

const (
	FormatHardcover Format = "Hardcover"
	FormatPaperback Format = "Paperback"
	FormatEbook     Format = "E-book"
	FormatAudiobook Format = "Audiobook"
	FormatOther     Format = "Other"
)

// SortRank orders formats for edition listings; lower sorts first.
func (f Format) SortRank() int {
	switch f {
	case FormatHardcover:
		return 0
	case FormatPaperback:
		return 1
	case FormatEbook:
		return 2
	case FormatAudiobook:
		return 3
	}
	return 4
}

// Gender of an author, when a provider reports one.
type Gender string

const (
	GenderMale      Gender = "Male"
	GenderFemale    Gender = "Female"
	GenderNonbinary Gender = "Nonbinary"
	GenderUnknown   Gender = "Unknown"
)

// Work is a conceptual book independent of edition.
type Work struct {
	Title                string       `json:"title"`
	Subtitle             string       `json:"subtitle,omitempty"`
	Description          string       `json:"description,omitempty"`
	FirstPublicationYear int          `json:"firstPublicationYear,omitempty"`
	SubjectTags          []string     `json:"subjectTags"`
	PrimaryProvider      Provider     `json:"primaryProvider"`
	Contributors         []Provider   `json:"contributors"`
	Synthetic            bool         `json:"synthetic"`
	ReviewStatus         ReviewStatus `json:"reviewStatus"`
	GoogleBooksIDs       []string     `json:"googleBooksIds,omitempty"`
	OpenLibraryIDs       []string     `json:"openLibraryIds,omitempty"`
	ISBNdbIDs            []string     `json:"isbndbIds,omitempty"`
	Quality              int          `json:"isbndbQuality"`
	CoverImageURL        string       `json:"coverImageURL,omitempty"`
}

// Validate checks the work invariants: title present and trimmed, and
// primaryProvider among contributors.
func (w *Work) Validate() error {
	if strings.TrimSpace(w.Title) == "" || w.Title != strings.TrimSpace(w.Title) {
		return fmt.Errorf("work title must be present and trimmed")
	}
	for _, c := range w.Contributors {
		if c == w.PrimaryProvider {
			return nil
		}
	}
	return fmt.Errorf("primary provider %q not in contributors", w.PrimaryProvider)
}

// Edition is a physical or digital manifestation of a work.
type Edition struct {
	ISBN            string     `json:"isbn,omitempty"` // Primary ISBN-13 when available.
	ISBNs           []string   `json:"isbns"`
	Title           string     `json:"title,omitempty"`
	Publisher       string     `json:"publisher,omitempty"`
	PublicationDate string     `json:"publicationDate,omitempty"` // ISO date or bare year.
	PageCount       int        `json:"pageCount,omitempty"`
	Format          Format     `json:"format"`
	Language        string     `json:"language,omitempty"`
	CoverImageURL   string     `json:"coverImageURL,omitempty"`
	GoogleBooksIDs  []string   `json:"googleBooksIds,omitempty"`
	OpenLibraryIDs  []string   `json:"openLibraryIds,omitempty"`
	ISBNdbIDs       []string   `json:"isbndbIds,omitempty"`
	Quality         int        `json:"isbndbQuality"`
	PrimaryProvider Provider   `json:"primaryProvider"`
	Contributors    []Provider `json:"contributors"`
}

// SetISBNs normalizes, expands ISBN-10/13 equivalents, deduplicates, and
// picks the primary ISBN-13 when one exists.
func (e *Edition) SetISBNs(raw []string) {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, r := range raw {
		compact, ok := normalize.ISBN(r)
		if !ok {
			continue
		}
		add(compact)
		if len(compact) == 10 {
			if thirteen, ok := normalize.ISBN10To13(compact); ok {
				add(thirteen)
			}
		}
	}
	e.ISBNs = out
	e.ISBN = ""
	for _, s := range out {
		if len(s) == 13 {
			e.ISBN = s
			break
		}
	}
}

// Validate checks the edition invariants: format always present, and the
// primary ISBN appearing in the ISBN list.
func (e *Edition) Validate() error {
	if e.Format == "" {
		return fmt.Errorf("edition format must be set")
	}
	if e.ISBN == "" {
		return nil
	}
	for _, s := range e.ISBNs {
		if s == e.ISBN {
			return nil
		}
	}
	return fmt.Errorf("primary isbn %q not in isbns", e.ISBN)
}

// Author is a contributor to a work.
type Author struct {
	Name      string `json:"name"`
	Gender    Gender `json:"gender"`
	BirthYear int    `json:"birthYear,omitempty"`
	Bio       string `json:"bio,omitempty"`
	Quality   int    `json:"isbndbQuality"`
}

// Key returns the normalized-name dedupe key.
func (a *Author) Key() string {
	return normalize.AuthorKey(a.Name)
}

// Response is a merged enrichment result.
type Response struct {
	Works    []Work    `json:"works"`
	Editions []Edition `json:"editions"`
	Authors  []Author  `json:"authors"`
}

// DedupeAuthors collapses authors sharing a normalized-name key, keeping the
// highest-quality instance and preserving first-seen order.
func DedupeAuthors(authors []Author) []Author {
	index := map[string]int{}
	var out []Author
	for _, a := range authors {
		key := a.Key()
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			if a.Quality > out[i].Quality {
				out[i] = a
			}
			continue
		}
		index[key] = len(out)
		out = append(out, a)
	}
	return out
}

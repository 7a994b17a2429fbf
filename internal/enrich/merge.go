package enrich

import (
	"sort"

	"github.com/jackzampolin/tome/internal/book"
)

// Merge folds per-provider responses into one canonical response. Primary
// attributes come from the highest-ranked provider that has them; ties break
// by provider rank.
func Merge(responses []book.Response) book.Response {
	var nonEmpty []book.Response
	for _, r := range responses {
		if len(r.Works) > 0 || len(r.Editions) > 0 || len(r.Authors) > 0 {
			nonEmpty = append(nonEmpty, r)
		}
	}
	if len(nonEmpty) == 0 {
		return book.Response{
			Works:    []book.Work{},
			Editions: []book.Edition{},
			Authors:  []book.Author{},
		}
	}

	sort.SliceStable(nonEmpty, func(i, j int) bool {
		return providerOf(nonEmpty[i]).Rank() < providerOf(nonEmpty[j]).Rank()
	})

	merged := book.Response{
		Works:    []book.Work{},
		Editions: mergeEditions(nonEmpty),
	}
	if w := mergeWorks(nonEmpty); w.Title != "" {
		merged.Works = append(merged.Works, w)
	}

	var authors []book.Author
	for _, r := range nonEmpty {
		authors = append(authors, r.Authors...)
	}
	merged.Authors = book.DedupeAuthors(authors)
	if merged.Authors == nil {
		merged.Authors = []book.Author{}
	}

	return merged
}

func providerOf(r book.Response) book.Provider {
	if len(r.Works) > 0 {
		return r.Works[0].PrimaryProvider
	}
	if len(r.Editions) > 0 {
		return r.Editions[0].PrimaryProvider
	}
	return book.ProviderNone
}

// mergeWorks builds the single merged work from each provider's first work.
func mergeWorks(ranked []book.Response) book.Work {
	var out book.Work
	var contributors []book.Provider

	for _, r := range ranked {
		if len(r.Works) == 0 {
			continue
		}
		w := r.Works[0]
		contributed := false

		if out.Title == "" && w.Title != "" {
			out.Title = w.Title
			contributed = true
		}
		if out.Subtitle == "" && w.Subtitle != "" {
			out.Subtitle = w.Subtitle
			contributed = true
		}
		if out.Description == "" && w.Description != "" {
			out.Description = w.Description
			contributed = true
		}
		if out.FirstPublicationYear == 0 && w.FirstPublicationYear > 0 {
			out.FirstPublicationYear = w.FirstPublicationYear
			contributed = true
		}
		if len(out.SubjectTags) == 0 && len(w.SubjectTags) > 0 {
			out.SubjectTags = w.SubjectTags
			contributed = true
		}
		if len(w.GoogleBooksIDs) > 0 {
			out.GoogleBooksIDs = append(out.GoogleBooksIDs, w.GoogleBooksIDs...)
			contributed = true
		}
		if len(w.OpenLibraryIDs) > 0 {
			out.OpenLibraryIDs = append(out.OpenLibraryIDs, w.OpenLibraryIDs...)
			contributed = true
		}
		if len(w.ISBNdbIDs) > 0 {
			out.ISBNdbIDs = append(out.ISBNdbIDs, w.ISBNdbIDs...)
			contributed = true
		}
		if w.Quality > out.Quality {
			out.Quality = w.Quality
		}
		if contributed || w.CoverImageURL != "" {
			contributors = appendProvider(contributors, w.PrimaryProvider)
		}
	}

	out.CoverImageURL = pickCover(ranked)
	if out.SubjectTags == nil {
		out.SubjectTags = []string{}
	}
	if out.Quality > 100 {
		out.Quality = 100
	}
	out.PrimaryProvider = bestProvider(contributors)
	out.Contributors = contributors
	out.Synthetic = false
	out.ReviewStatus = book.ReviewUnverified
	return out
}

// pickCover prefers the highest-ranked provider with a cover, except that a
// cover-only source wins when nothing else has one.
func pickCover(ranked []book.Response) string {
	for _, r := range ranked {
		if len(r.Works) > 0 && r.Works[0].CoverImageURL != "" {
			return r.Works[0].CoverImageURL
		}
	}
	return ""
}

// mergeEditions unions editions across providers, merging those that share a
// primary ISBN-13.
func mergeEditions(ranked []book.Response) []book.Edition {
	byISBN := map[string]int{}
	var out []book.Edition

	for _, r := range ranked {
		for _, e := range r.Editions {
			if e.ISBN != "" {
				if i, ok := byISBN[e.ISBN]; ok {
					out[i] = fillEdition(out[i], e)
					continue
				}
				byISBN[e.ISBN] = len(out)
			}
			out = append(out, e)
		}
	}
	if out == nil {
		out = []book.Edition{}
	}
	return out
}

// fillEdition completes missing attributes of base with values from the
// lower-ranked dup and unions provenance.
func fillEdition(base, dup book.Edition) book.Edition {
	if base.Publisher == "" {
		base.Publisher = dup.Publisher
	}
	if base.PublicationDate == "" {
		base.PublicationDate = dup.PublicationDate
	}
	if base.PageCount == 0 {
		base.PageCount = dup.PageCount
	}
	if base.Format == book.FormatOther && dup.Format != book.FormatOther && dup.Format != "" {
		base.Format = dup.Format
	}
	if base.Language == "" {
		base.Language = dup.Language
	}
	if base.CoverImageURL == "" {
		base.CoverImageURL = dup.CoverImageURL
	}
	base.GoogleBooksIDs = append(base.GoogleBooksIDs, dup.GoogleBooksIDs...)
	base.OpenLibraryIDs = append(base.OpenLibraryIDs, dup.OpenLibraryIDs...)
	base.ISBNdbIDs = append(base.ISBNdbIDs, dup.ISBNdbIDs...)
	if dup.Quality > base.Quality {
		base.Quality = dup.Quality
	}
	for _, c := range dup.Contributors {
		base.Contributors = appendProvider(base.Contributors, c)
	}
	// Dup may carry ISBN-10 forms the base lacks.
	seen := map[string]bool{}
	for _, s := range base.ISBNs {
		seen[s] = true
	}
	for _, s := range dup.ISBNs {
		if !seen[s] {
			base.ISBNs = append(base.ISBNs, s)
			seen[s] = true
		}
	}
	return base
}

func appendProvider(list []book.Provider, p book.Provider) []book.Provider {
	for _, existing := range list {
		if existing == p {
			return list
		}
	}
	return append(list, p)
}

func bestProvider(contributors []book.Provider) book.Provider {
	best := book.ProviderNone
	for _, p := range contributors {
		if p.Rank() < best.Rank() {
			best = p
		}
	}
	return best
}

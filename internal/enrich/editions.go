package enrich

import (
	"context"
	"sort"
	"strings"

	"github.com/jackzampolin/tome/internal/book"
	"github.com/jackzampolin/tome/internal/normalize"
	"github.com/jackzampolin/tome/internal/tomerr"
)

const (
	defaultEditionLimit = 20
	maxEditionLimit     = 100
)

// Editions returns editions matching a work title, optionally narrowed by
// author. Works and authors are always empty in the result.
func (o *Orchestrator) Editions(ctx context.Context, workTitle, author string, limit int) (book.Response, Meta, error) {
	if strings.TrimSpace(workTitle) == "" {
		return book.Response{}, Meta{}, tomerr.New(tomerr.CodeInvalidQuery, "workTitle must not be empty")
	}

	resp, meta, err := o.Advanced(ctx, workTitle, author, 0, "")
	if err != nil {
		return book.Response{}, Meta{}, err
	}

	editions := matchEditions(resp.Editions, workTitle)
	sortEditions(editions)
	editions = truncateEditions(editions, limit)

	return book.Response{
		Works:    []book.Work{},
		Editions: editions,
		Authors:  []book.Author{},
	}, meta, nil
}

// matchEditions keeps editions whose normalized title contains the normalized
// query or vice versa. The match stays a pure function of its inputs so
// identical queries produce identical cache entries.
func matchEditions(editions []book.Edition, query string) []book.Edition {
	nq := normalize.Title(query)
	out := []book.Edition{}
	for _, e := range editions {
		nt := normalize.Title(e.Title)
		if nt == "" || nq == "" {
			continue
		}
		if strings.Contains(nt, nq) || strings.Contains(nq, nt) {
			out = append(out, e)
		}
	}
	return out
}

// sortEditions orders by format rank, then publication date descending, then
// ISBN count descending.
func sortEditions(editions []book.Edition) {
	sort.SliceStable(editions, func(i, j int) bool {
		if a, b := editions[i].Format.SortRank(), editions[j].Format.SortRank(); a != b {
			return a < b
		}
		if a, b := yearFrom(editions[i].PublicationDate), yearFrom(editions[j].PublicationDate); a != b {
			return a > b
		}
		return len(editions[i].ISBNs) > len(editions[j].ISBNs)
	})
}

func truncateEditions(editions []book.Edition, limit int) []book.Edition {
	if limit <= 0 {
		limit = defaultEditionLimit
	}
	if limit > maxEditionLimit {
		limit = maxEditionLimit
	}
	if len(editions) > limit {
		return editions[:limit]
	}
	return editions
}

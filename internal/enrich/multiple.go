package enrich

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/tome/internal/book"
	"github.com/jackzampolin/tome/internal/normalize"
)

// BookQuery identifies one batch item.
type BookQuery struct {
	ISBN   string `json:"isbn,omitempty"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
}

// BookResult pairs a batch item with its outcome. Failed items carry an
// error message instead of aborting the batch.
type BookResult struct {
	Input    BookQuery     `json:"input"`
	Response book.Response `json:"response"`
	Meta     Meta          `json:"metadata"`
	Error    string        `json:"error,omitempty"`
}

// MultipleOptions tunes batch execution.
type MultipleOptions struct {
	Concurrency int
	// OnItem is invoked as each item finishes, from the item's goroutine.
	OnItem func(index int, result BookResult)
	// Stop is polled before each launch. A true return stops launching new
	// items; in-flight items still finish. Unlaunched items keep their zero
	// result.
	Stop func() bool
}

// Multiple enriches a batch concurrently. Items sharing an ISBN are fetched
// once and fanned back out to every position that asked for it. The returned
// slice is index-aligned with the input.
func (o *Orchestrator) Multiple(ctx context.Context, books []BookQuery, opts MultipleOptions) []BookResult {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}

	results := make([]BookResult, len(books))

	// Dedupe ISBN lookups: the first index with a given ISBN fetches, the
	// rest copy.
	firstIndex := map[string]int{}
	duplicates := map[int]int{}
	for i, b := range books {
		if b.ISBN == "" {
			continue
		}
		normalized, ok := normalize.ISBN(b.ISBN)
		if !ok {
			continue
		}
		if j, seen := firstIndex[normalized]; seen {
			duplicates[i] = j
			continue
		}
		firstIndex[normalized] = i
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, b := range books {
		if _, dup := duplicates[i]; dup {
			continue
		}
		if opts.Stop != nil && opts.Stop() {
			break
		}
		g.Go(func() error {
			resp, meta, err := o.ByBook(gctx, b.ISBN, b.Title, b.Author)
			result := BookResult{Input: b, Response: resp, Meta: meta}
			if err != nil {
				result.Error = err.Error()
				result.Response = emptyResponse()
				result.Meta = Meta{Provider: string(book.ProviderNone)}
			}
			results[i] = result
			if opts.OnItem != nil {
				opts.OnItem(i, result)
			}
			return nil
		})
	}
	// Workers only return nil; Wait just synchronizes.
	_ = g.Wait()

	for i, j := range duplicates {
		dup := results[j]
		dup.Input = books[i]
		results[i] = dup
		if opts.OnItem != nil {
			opts.OnItem(i, dup)
		}
	}

	return results
}

package enrich

import (
	"context"
	"sync"
	"testing"
)

func TestMultipleDedupesISBNs(t *testing.T) {
	h := newHarness(t)

	books := []BookQuery{
		{ISBN: "9780441013593"},
		{Title: "The Hobbit", Author: "Tolkien"},
		{ISBN: "978-0-441-01359-3"}, // same isbn, different formatting
	}

	var mu sync.Mutex
	seen := map[int]bool{}
	results := h.orch.Multiple(context.Background(), books, MultipleOptions{
		OnItem: func(index int, result BookResult) {
			mu.Lock()
			seen[index] = true
			mu.Unlock()
		},
	})

	if len(results) != 3 {
		t.Fatalf("results must align with input: %d", len(results))
	}
	for i := range books {
		if !seen[i] {
			t.Fatalf("OnItem never fired for index %d", i)
		}
		if results[i].Input != books[i] {
			t.Fatalf("input not preserved at %d: %+v", i, results[i].Input)
		}
	}

	// One fetch for the deduped isbn, one for the title query.
	if h.gb.Calls() != 2 {
		t.Fatalf("duplicate isbns must fetch once: %d calls", h.gb.Calls())
	}
	if len(results[0].Response.Works) != 1 || len(results[2].Response.Works) != 1 {
		t.Fatal("duplicate positions should share the fetched response")
	}
}

func TestMultipleIsolatesItemErrors(t *testing.T) {
	h := newHarness(t)

	books := []BookQuery{
		{ISBN: "9780441013593"},
		{}, // neither isbn nor title
	}
	results := h.orch.Multiple(context.Background(), books, MultipleOptions{Concurrency: 1})

	if results[0].Error != "" || len(results[0].Response.Works) != 1 {
		t.Fatalf("healthy item affected by a failing sibling: %+v", results[0])
	}
	if results[1].Error == "" {
		t.Fatal("invalid item should carry an error message")
	}
	if results[1].Response.Works == nil {
		t.Fatal("failed items still carry an empty response shape")
	}
	if results[1].Meta.Provider != "none" {
		t.Fatalf("failed items report no provider: %q", results[1].Meta.Provider)
	}
}

func TestMultipleEmptyBatch(t *testing.T) {
	h := newHarness(t)
	results := h.orch.Multiple(context.Background(), nil, MultipleOptions{})
	if len(results) != 0 {
		t.Fatalf("expected no results: %+v", results)
	}
	if h.gb.Calls() != 0 {
		t.Fatal("empty batch must not query providers")
	}
}

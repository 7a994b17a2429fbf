package enrich

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackzampolin/tome/internal/book"
	"github.com/jackzampolin/tome/internal/tomerr"
)

func TestMatchEditions(t *testing.T) {
	editions := []book.Edition{
		{Title: "Dune"},
		{Title: "Dune Messiah"},
		{Title: "DUNE: Deluxe Edition"},
		{Title: "The Hobbit"},
		{Title: ""},
	}

	matched := matchEditions(editions, "dune")
	if len(matched) != 3 {
		t.Fatalf("expected 3 fuzzy matches, got %d: %+v", len(matched), matched)
	}

	// Containment works in both directions: both "Dune" and "Dune Messiah"
	// are substrings of the longer query.
	matched = matchEditions(editions, "Dune Messiah: Book Two")
	if len(matched) != 2 {
		t.Fatalf("reverse containment failed: %+v", matched)
	}

	if got := matchEditions(editions, "The Silmarillion"); len(got) != 0 {
		t.Fatalf("expected no matches: %+v", got)
	}
}

func TestSortEditions(t *testing.T) {
	editions := []book.Edition{
		{Title: "d", Format: book.FormatOther, PublicationDate: "2020"},
		{Title: "a", Format: book.FormatPaperback, PublicationDate: "1990"},
		{Title: "b", Format: book.FormatHardcover, PublicationDate: "1985"},
		{Title: "c", Format: book.FormatHardcover, PublicationDate: "2005"},
		{Title: "e", Format: book.FormatHardcover, PublicationDate: "2005", ISBNs: []string{"x", "y"}},
	}

	sortEditions(editions)

	var got []string
	for _, e := range editions {
		got = append(got, e.Title)
	}
	// Hardcovers first (newest first, more ISBNs breaking the tie), then
	// paperback, then other.
	want := []string{"e", "c", "b", "a", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sort order %v, want %v", got, want)
		}
	}
}

func TestTruncateEditions(t *testing.T) {
	many := make([]book.Edition, 150)

	if got := len(truncateEditions(many, 0)); got != defaultEditionLimit {
		t.Fatalf("zero limit should default: %d", got)
	}
	if got := len(truncateEditions(many, 500)); got != maxEditionLimit {
		t.Fatalf("limit should clamp: %d", got)
	}
	if got := len(truncateEditions(many, 30)); got != 30 {
		t.Fatalf("explicit limit ignored: %d", got)
	}
	if got := len(truncateEditions(many[:5], 30)); got != 5 {
		t.Fatalf("short input should pass through: %d", got)
	}
}

func TestEditionsEmptyTitle(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.orch.Editions(context.Background(), "", "Herbert", 0)
	if tomerr.CodeOf(err) != tomerr.CodeInvalidQuery {
		t.Fatalf("expected INVALID_QUERY, got %v", err)
	}
}

func TestEditionsFiltersAndShapes(t *testing.T) {
	h := newHarness(t)
	h.gb.Payload = json.RawMessage(`{
	  "totalItems": 2,
	  "items": [
	    {"volumeInfo": {"title": "Dune", "authors": ["Frank Herbert"],
	      "industryIdentifiers": [{"type": "ISBN_13", "identifier": "9780441013593"}]}},
	    {"volumeInfo": {"title": "Completely Unrelated", "authors": ["Someone Else"]}}
	  ]
	}`)

	resp, _, err := h.orch.Editions(context.Background(), "Dune", "Frank Herbert", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Editions) != 1 || resp.Editions[0].Title != "Dune" {
		t.Fatalf("non-matching editions should be dropped: %+v", resp.Editions)
	}
	if resp.Works == nil || len(resp.Works) != 0 {
		t.Fatalf("works must be present and empty: %+v", resp.Works)
	}
	if resp.Authors == nil || len(resp.Authors) != 0 {
		t.Fatalf("authors must be present and empty: %+v", resp.Authors)
	}
}

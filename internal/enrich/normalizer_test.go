package enrich

import (
	"encoding/json"
	"testing"

	"github.com/jackzampolin/tome/internal/book"
)

const googleVolumesPayload = `{
  "totalItems": 1,
  "items": [{
    "id": "zFhbzX",
    "volumeInfo": {
      "title": "Dune",
      "authors": ["Frank Herbert"],
      "publisher": "Ace",
      "publishedDate": "1990-09-01",
      "description": "Arrakis.",
      "industryIdentifiers": [
        {"type": "ISBN_13", "identifier": "9780441013593"},
        {"type": "ISBN_10", "identifier": "0441013597"}
      ],
      "pageCount": 704,
      "printType": "BOOK",
      "categories": ["Fiction"],
      "imageLinks": {"thumbnail": "http://books.google.com/books/content?id=zFhbzX&img=1"},
      "language": "en"
    }
  }]
}`

func TestNormalizeGoogleBooks(t *testing.T) {
	resp, err := NormalizeGoogleBooks(json.RawMessage(googleVolumesPayload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Works) != 1 || len(resp.Editions) != 1 || len(resp.Authors) != 1 {
		t.Fatalf("unexpected shape: %d works, %d editions, %d authors",
			len(resp.Works), len(resp.Editions), len(resp.Authors))
	}

	w := resp.Works[0]
	if w.Title != "Dune" || w.FirstPublicationYear != 1990 {
		t.Fatalf("unexpected work: %+v", w)
	}
	if w.PrimaryProvider != book.ProviderGoogleBooks {
		t.Fatalf("unexpected provider: %s", w.PrimaryProvider)
	}
	if w.Synthetic {
		t.Fatal("normalized works are never synthetic")
	}
	// Image URLs are forced to https.
	if w.CoverImageURL == "" || w.CoverImageURL[:8] != "https://" {
		t.Fatalf("cover not normalized: %q", w.CoverImageURL)
	}

	e := resp.Editions[0]
	if e.ISBN != "9780441013593" {
		t.Fatalf("unexpected primary isbn: %q", e.ISBN)
	}
	if len(e.ISBNs) != 2 {
		t.Fatalf("expected both isbn forms: %v", e.ISBNs)
	}
	if e.Quality <= 0 || e.Quality > 100 {
		t.Fatalf("quality out of range: %d", e.Quality)
	}
	if err := w.Validate(); err != nil {
		t.Fatalf("invalid work: %v", err)
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("invalid edition: %v", err)
	}
}

func TestNormalizeGoogleBooksEmptyAuthors(t *testing.T) {
	payload := `{"totalItems":1,"items":[{"volumeInfo":{"title":"Anon"}}]}`
	resp, err := NormalizeGoogleBooks(json.RawMessage(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Authors) != 0 {
		t.Fatal("empty author arrays must produce no author records")
	}
}

func TestNormalizeOpenLibraryBibkeys(t *testing.T) {
	payload := `{
	  "ISBN:9780441013593": {
	    "title": "Dune",
	    "authors": [{"name": "Frank Herbert"}],
	    "publish_date": "August 1965",
	    "publishers": [{"name": "Chilton"}],
	    "number_of_pages": 412,
	    "cover": {"large": "https://covers.openlibrary.org/b/id/1-L.jpg"},
	    "identifiers": {"openlibrary": ["OL123M"], "isbn_13": ["9780441013593"]}
	  }
	}`
	resp, err := NormalizeOpenLibrary(json.RawMessage(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Works) != 1 {
		t.Fatalf("expected 1 work, got %d", len(resp.Works))
	}
	if resp.Works[0].FirstPublicationYear != 1965 {
		t.Fatalf("year not extracted: %d", resp.Works[0].FirstPublicationYear)
	}
	if resp.Works[0].PrimaryProvider != book.ProviderOpenLibrary {
		t.Fatalf("unexpected provider: %s", resp.Works[0].PrimaryProvider)
	}
	if resp.Editions[0].Publisher != "Chilton" {
		t.Fatalf("unexpected publisher: %q", resp.Editions[0].Publisher)
	}
}

func TestNormalizeOpenLibrarySearch(t *testing.T) {
	payload := `{
	  "numFound": 1,
	  "docs": [{
	    "key": "/works/OL893415W",
	    "title": "Dune",
	    "author_name": ["Frank Herbert"],
	    "first_publish_year": 1965,
	    "isbn": ["9780441013593"],
	    "publisher": ["Chilton"],
	    "cover_i": 12345
	  }]
	}`
	resp, err := NormalizeOpenLibrary(json.RawMessage(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Works) != 1 {
		t.Fatalf("expected 1 work, got %d", len(resp.Works))
	}
	if resp.Works[0].OpenLibraryIDs[0] != "OL893415W" {
		t.Fatalf("work key not extracted: %v", resp.Works[0].OpenLibraryIDs)
	}
	if resp.Works[0].CoverImageURL == "" {
		t.Fatal("cover_i should synthesize a cover URL")
	}
}

func TestNormalizeISBNdb(t *testing.T) {
	payload := `{"book":{
	  "title": "Dune",
	  "authors": ["Frank Herbert"],
	  "publisher": "Ace",
	  "date_published": "1990",
	  "pages": 704,
	  "isbn": "0441013597",
	  "isbn13": "9780441013593",
	  "binding": "Mass Market Paperback",
	  "image": "https://images.isbndb.com/covers/dune.jpg",
	  "synopsis": "Arrakis."
	}}`
	resp, err := NormalizeISBNdb(json.RawMessage(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Editions) != 1 {
		t.Fatalf("expected 1 edition, got %d", len(resp.Editions))
	}
	if resp.Editions[0].Format != book.FormatPaperback {
		t.Fatalf("binding not mapped: %s", resp.Editions[0].Format)
	}
}

func TestYearFrom(t *testing.T) {
	tests := []struct {
		date string
		want int
	}{
		{"1965-08-01", 1965},
		{"August 1965", 1965},
		{"1965", 1965},
		{"not a date", 0},
		{"", 0},
		{"0042", 0},
	}
	for _, tt := range tests {
		if got := yearFrom(tt.date); got != tt.want {
			t.Errorf("yearFrom(%q) = %d, want %d", tt.date, got, tt.want)
		}
	}
}

func TestFormatFrom(t *testing.T) {
	tests := []struct {
		binding string
		want    book.Format
	}{
		{"Hardcover", book.FormatHardcover},
		{"Trade Paperback", book.FormatPaperback},
		{"Kindle Edition", book.FormatEbook},
		{"Audio CD", book.FormatAudiobook},
		{"BOOK", book.FormatOther},
		{"", book.FormatOther},
	}
	for _, tt := range tests {
		if got := formatFrom(tt.binding); got != tt.want {
			t.Errorf("formatFrom(%q) = %s, want %s", tt.binding, got, tt.want)
		}
	}
}

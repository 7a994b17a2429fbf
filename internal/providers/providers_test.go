package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/tome/internal/book"
)

func TestSecretResolution(t *testing.T) {
	if _, err := StaticSecret("").Get(); err == nil {
		t.Fatal("empty static secret should error")
	}
	if key, err := StaticSecret("abc").Get(); err != nil || key != "abc" {
		t.Fatalf("unexpected: %q %v", key, err)
	}

	calls := 0
	d := DeferredSecret(func() (string, error) {
		calls++
		return "rotated", nil
	})
	d.Get()
	d.Get()
	if calls != 2 {
		t.Fatalf("deferred secret should resolve per call, got %d", calls)
	}
}

func TestGoogleBooksLookupByISBN(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(`{"totalItems":1,"items":[]}`))
	}))
	defer srv.Close()

	c := NewGoogleBooksClient(GoogleBooksConfig{BaseURL: srv.URL})
	res := c.Lookup(context.Background(), Query{ISBN: "9780306406157"})

	if !res.Success {
		t.Fatalf("unexpected failure: %s %s", res.ErrKind, res.ErrMessage)
	}
	if res.Provider != book.ProviderGoogleBooks {
		t.Fatalf("wrong provider: %s", res.Provider)
	}
	if gotQuery != "isbn:9780306406157" {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
	if res.ProcessingTime <= 0 {
		t.Fatal("processing time not recorded")
	}
}

func TestGoogleBooksQueryBuilding(t *testing.T) {
	q := buildGoogleQuery(Query{Title: "The Dispossessed", Author: "Le Guin"})
	if q != `intitle:"The Dispossessed"+inauthor:"Le Guin"` {
		t.Fatalf("unexpected query: %q", q)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrKind
	}{
		{http.StatusUnauthorized, ErrBadAuth},
		{http.StatusForbidden, ErrBadAuth},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusInternalServerError, ErrProviderError},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := NewGoogleBooksClient(GoogleBooksConfig{BaseURL: srv.URL})
		res := c.Lookup(context.Background(), Query{ISBN: "9780306406157"})
		srv.Close()

		if res.Success {
			t.Fatalf("status %d should fail", tt.status)
		}
		if res.ErrKind != tt.kind {
			t.Errorf("status %d classified as %s, want %s", tt.status, res.ErrKind, tt.kind)
		}
	}
}

func TestTimeoutClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewGoogleBooksClient(GoogleBooksConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	res := c.Lookup(context.Background(), Query{ISBN: "9780306406157"})

	if res.Success || res.ErrKind != ErrTimeout {
		t.Fatalf("expected timeout, got %s", res.ErrKind)
	}
}

func TestOpenLibraryISBNNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewOpenLibraryClient(OpenLibraryConfig{BaseURL: srv.URL})
	res := c.Lookup(context.Background(), Query{ISBN: "9780306406157"})

	if res.Success || res.ErrKind != ErrNotFound {
		t.Fatalf("empty bibkeys response should be not_found, got %s", res.ErrKind)
	}
}

func TestISBNdbRequiresKey(t *testing.T) {
	c := NewISBNdbClient(ISBNdbConfig{})
	res := c.Lookup(context.Background(), Query{ISBN: "9780306406157"})

	if res.Success || res.ErrKind != ErrNoAPIKey {
		t.Fatalf("expected no_api_key, got %s", res.ErrKind)
	}
	if strings.Contains(res.ErrMessage, "Authorization") {
		t.Fatalf("error message leaks header details: %q", res.ErrMessage)
	}
}

func TestISBNdbCoverByISBN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"book":{"title":"Dune","image":"https://images.isbndb.com/covers/dune.jpg"}}`))
	}))
	defer srv.Close()

	c := NewISBNdbClient(ISBNdbConfig{APIKey: StaticSecret("test-key"), BaseURL: srv.URL})
	cover, err := c.CoverByISBN(context.Background(), "9780441013593")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cover != "https://images.isbndb.com/covers/dune.jpg" {
		t.Fatalf("unexpected cover: %q", cover)
	}
}

func TestVisionParseCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"books\":[{\"title\":\"Dune\",\"author\":\"Frank Herbert\",\"isbn13\":\"9780441013593\"}]}"}}]}`))
	}))
	defer srv.Close()

	c, err := NewVisionClient(VisionConfig{
		APIKey:  StaticSecret("test-key"),
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("building client: %v", err)
	}

	rows, err := c.ParseCSV(context.Background(), "Title,Author\nDune,Frank Herbert\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "Dune" || rows[0].ISBN13 != "9780441013593" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestVisionRejectsInvalidOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Missing required "books" key.
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"items\":[]}"}}]}`))
	}))
	defer srv.Close()

	c, err := NewVisionClient(VisionConfig{APIKey: StaticSecret("k"), BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("building client: %v", err)
	}
	if _, err := c.ParseCSV(context.Background(), "x"); err == nil {
		t.Fatal("expected schema validation failure")
	}
}

func TestMockClientFailAfter(t *testing.T) {
	m := NewMockClient(book.ProviderGoogleBooks)
	m.FailAfter = 1

	if res := m.Lookup(context.Background(), Query{ISBN: "x"}); !res.Success {
		t.Fatal("first call should succeed")
	}
	if res := m.Lookup(context.Background(), Query{ISBN: "x"}); res.Success {
		t.Fatal("second call should fail")
	}
}

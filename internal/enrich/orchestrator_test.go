package enrich

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/tome/internal/analytics"
	"github.com/jackzampolin/tome/internal/book"
	"github.com/jackzampolin/tome/internal/cache"
	"github.com/jackzampolin/tome/internal/config"
	"github.com/jackzampolin/tome/internal/providers"
	"github.com/jackzampolin/tome/internal/tomerr"
)

type testHarness struct {
	orch *Orchestrator
	gb   *providers.MockClient
	ol   *providers.MockClient
	reg  *providers.Registry
	kv   *cache.MemoryStore
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	gb := providers.NewMockClient(book.ProviderGoogleBooks)
	gb.Payload = json.RawMessage(googleVolumesPayload)
	ol := providers.NewMockClient(book.ProviderOpenLibrary)
	ol.FailKind = providers.ErrNotFound

	reg := providers.NewRegistry()
	reg.Register(gb)
	reg.Register(ol)

	kv := cache.NewMemoryStore()
	c := cache.New(nil, kv, cache.NewTTLs(config.DefaultConfig().Cache))

	return &testHarness{
		orch: NewOrchestrator(c, reg, nil, nil),
		gb:   gb,
		ol:   ol,
		reg:  reg,
		kv:   kv,
	}
}

func waitForKV(t *testing.T, kv *cache.MemoryStore, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if kv.Len() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("kv never reached %d entries", n)
}

func TestByISBNInvalid(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.orch.ByISBN(context.Background(), "not-an-isbn")
	if tomerr.CodeOf(err) != tomerr.CodeInvalidISBN {
		t.Fatalf("expected INVALID_ISBN, got %v", err)
	}
	if h.gb.Calls() != 0 {
		t.Fatal("invalid input must not reach providers")
	}
}

func TestByISBNFanOut(t *testing.T) {
	h := newHarness(t)

	resp, meta, err := h.orch.ByISBN(context.Background(), "9780441013593")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Works) != 1 || resp.Works[0].Title != "Dune" {
		t.Fatalf("unexpected response: %+v", resp.Works)
	}
	if meta.Cached {
		t.Fatal("first lookup must be fresh")
	}
	if meta.Provider != string(book.ProviderGoogleBooks) {
		t.Fatalf("unexpected provider: %q", meta.Provider)
	}
	if h.gb.Calls() != 1 || h.ol.Calls() != 1 {
		t.Fatalf("both providers should be queried: gb=%d ol=%d", h.gb.Calls(), h.ol.Calls())
	}
}

type captureSink struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (s *captureSink) Record(ev analytics.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) byProvider(p book.Provider) (analytics.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Provider == string(p) {
			return ev, true
		}
	}
	return analytics.Event{}, false
}

func TestFanOutRecordsResultCount(t *testing.T) {
	h := newHarness(t)
	sink := &captureSink{}
	h.orch.analytics = sink

	if _, _, err := h.orch.ByISBN(context.Background(), "9780441013593"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gb, ok := sink.byProvider(book.ProviderGoogleBooks)
	if !ok {
		t.Fatal("no analytics event for googlebooks")
	}
	if gb.ResultCount != 1 {
		t.Fatalf("googlebooks resultCount = %d, want 1", gb.ResultCount)
	}

	ol, ok := sink.byProvider(book.ProviderOpenLibrary)
	if !ok {
		t.Fatal("no analytics event for openlibrary")
	}
	if ol.ResultCount != 0 || ol.ErrorKind == "" {
		t.Fatalf("failed lookup should record zero results and an error kind: %+v", ol)
	}
}

func TestByISBNCachedSecondCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, _, err := h.orch.ByISBN(ctx, "9780441013593"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForKV(t, h.kv, 1)

	resp, meta, err := h.orch.ByISBN(ctx, "9780441013593")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !meta.Cached || meta.CacheSource != string(cache.TierKV) {
		t.Fatalf("second lookup should hit the kv tier: %+v", meta)
	}
	if meta.AgeSeconds < 0 {
		t.Fatalf("age must be non-negative: %d", meta.AgeSeconds)
	}
	if len(resp.Works) != 1 {
		t.Fatalf("cached response lost data: %+v", resp)
	}
	if h.gb.Calls() != 1 {
		t.Fatalf("cache hit must not query providers again: %d", h.gb.Calls())
	}
}

func TestByISBNTotalFailureIsEmptySuccess(t *testing.T) {
	h := newHarness(t)
	h.gb.FailKind = providers.ErrProviderError
	h.ol.FailKind = providers.ErrTimeout

	resp, meta, err := h.orch.ByISBN(context.Background(), "9780441013593")
	if err != nil {
		t.Fatalf("provider failures must not surface: %v", err)
	}
	if resp.Works == nil || resp.Editions == nil || resp.Authors == nil {
		t.Fatalf("arrays must be present and empty: %+v", resp)
	}
	if len(resp.Works) != 0 {
		t.Fatalf("expected no works: %+v", resp.Works)
	}
	if meta.Provider != string(book.ProviderNone) {
		t.Fatalf("provider should be none: %q", meta.Provider)
	}
}

func TestByISBNGarbledPayloadSkipped(t *testing.T) {
	h := newHarness(t)
	h.gb.Payload = json.RawMessage(`{"items": "not an array"}`)

	resp, _, err := h.orch.ByISBN(context.Background(), "9780441013593")
	if err != nil {
		t.Fatalf("undecodable payloads must not surface: %v", err)
	}
	if len(resp.Works) != 0 {
		t.Fatalf("expected no works from a rejected payload: %+v", resp.Works)
	}
}

func TestByISBNCoverSupplement(t *testing.T) {
	h := newHarness(t)

	// Strip the cover from the Google Books fixture.
	var payload map[string]any
	if err := json.Unmarshal([]byte(googleVolumesPayload), &payload); err != nil {
		t.Fatal(err)
	}
	items := payload["items"].([]any)
	vi := items[0].(map[string]any)["volumeInfo"].(map[string]any)
	delete(vi, "imageLinks")
	stripped, _ := json.Marshal(payload)
	h.gb.Payload = stripped

	h.reg.SetCovers(&providers.MockCoverClient{
		Provider: book.ProviderISBNdb,
		URL:      "https://images.isbndb.com/covers/dune.jpg",
	})

	resp, _, err := h.orch.ByISBN(context.Background(), "9780441013593")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := resp.Works[0]
	if w.CoverImageURL != "https://images.isbndb.com/covers/dune.jpg" {
		t.Fatalf("cover should be supplemented: %q", w.CoverImageURL)
	}
	found := false
	for _, c := range w.Contributors {
		if c == book.ProviderISBNdb {
			found = true
		}
	}
	if !found {
		t.Fatalf("cover source should join contributors: %v", w.Contributors)
	}
	if w.PrimaryProvider != book.ProviderGoogleBooks {
		t.Fatalf("cover-only supplementation must not change the primary: %s", w.PrimaryProvider)
	}
	if resp.Editions[0].CoverImageURL == "" {
		t.Fatal("coverless editions should inherit the supplemented image")
	}
}

func TestByISBNCoverNotSupplementedWhenPresent(t *testing.T) {
	h := newHarness(t)
	h.reg.SetCovers(&providers.MockCoverClient{
		Provider: book.ProviderISBNdb,
		URL:      "https://images.isbndb.com/covers/other.jpg",
	})

	resp, _, err := h.orch.ByISBN(context.Background(), "9780441013593")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Works[0].CoverImageURL == "https://images.isbndb.com/covers/other.jpg" {
		t.Fatal("existing cover must not be replaced")
	}
}

func TestByTitleEmpty(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.orch.ByTitle(context.Background(), "   ")
	if tomerr.CodeOf(err) != tomerr.CodeInvalidQuery {
		t.Fatalf("expected INVALID_QUERY, got %v", err)
	}
}

func TestByAuthorEmpty(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.orch.ByAuthor(context.Background(), "")
	if tomerr.CodeOf(err) != tomerr.CodeInvalidQuery {
		t.Fatalf("expected INVALID_QUERY, got %v", err)
	}
}

func TestAdvancedRequiresTitleOrAuthor(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.orch.Advanced(context.Background(), "", "", 1965, "Ace")
	if tomerr.CodeOf(err) != tomerr.CodeInvalidQuery {
		t.Fatalf("expected INVALID_QUERY, got %v", err)
	}
}

func TestAdvancedYearFilter(t *testing.T) {
	h := newHarness(t)

	resp, _, err := h.orch.Advanced(context.Background(), "Dune", "", 1999, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The fixture work is from 1990; a mismatched year filters it out.
	if len(resp.Works) != 0 {
		t.Fatalf("year filter should drop mismatched works: %+v", resp.Works)
	}
}

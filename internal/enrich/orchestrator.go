package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/tome/internal/analytics"
	"github.com/jackzampolin/tome/internal/book"
	"github.com/jackzampolin/tome/internal/cache"
	"github.com/jackzampolin/tome/internal/normalize"
	"github.com/jackzampolin/tome/internal/providers"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// Meta annotates an orchestrator result for the response envelope.
type Meta struct {
	Provider    string `json:"provider"`
	Cached      bool   `json:"cached"`
	CacheSource string `json:"cacheSource,omitempty"`
	AgeSeconds  int64  `json:"ageSeconds,omitempty"`
}

// Orchestrator coordinates provider fan-out, normalization, merging, and
// caching. All lookups are best-effort: provider failures produce an empty
// merged response rather than an error.
type Orchestrator struct {
	cache     *cache.Cache
	registry  *providers.Registry
	analytics analytics.Sink
	logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator. sink and logger may be nil.
func NewOrchestrator(c *cache.Cache, r *providers.Registry, sink analytics.Sink, logger *slog.Logger) *Orchestrator {
	if sink == nil {
		sink = analytics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{cache: c, registry: r, analytics: sink, logger: logger}
}

// ByISBN returns a merged response for one ISBN.
func (o *Orchestrator) ByISBN(ctx context.Context, isbn string) (book.Response, Meta, error) {
	normalized, ok := normalize.ISBN(isbn)
	if !ok {
		return book.Response{}, Meta{}, tomerr.Newf(tomerr.CodeInvalidISBN, "invalid isbn: %s", isbn)
	}

	key := cache.ISBNKey(normalized)
	return o.cachedMerge(ctx, key, o.cache.TTLs().For(cache.ClassISBN), func(ctx context.Context) book.Response {
		merged := o.fanOut(ctx, providers.Query{ISBN: normalized}, "enrichByISBN")
		o.supplementCover(ctx, normalized, &merged)
		return merged
	})
}

// ByTitle returns a merged response for a title search.
func (o *Orchestrator) ByTitle(ctx context.Context, title string) (book.Response, Meta, error) {
	if strings.TrimSpace(title) == "" {
		return book.Response{}, Meta{}, tomerr.New(tomerr.CodeInvalidQuery, "title must not be empty")
	}

	key := cache.TitleKey(title)
	return o.cachedMerge(ctx, key, o.cache.TTLs().For(cache.ClassTitle), func(ctx context.Context) book.Response {
		return o.fanOut(ctx, providers.Query{Title: title}, "enrichByTitle")
	})
}

// ByAuthor returns a merged response for an author search.
func (o *Orchestrator) ByAuthor(ctx context.Context, author string) (book.Response, Meta, error) {
	if strings.TrimSpace(author) == "" {
		return book.Response{}, Meta{}, tomerr.New(tomerr.CodeInvalidQuery, "author must not be empty")
	}

	key := cache.AuthorKey(author)
	return o.cachedMerge(ctx, key, o.cache.TTLs().For(cache.ClassAuthor), func(ctx context.Context) book.Response {
		return o.fanOut(ctx, providers.Query{Author: author}, "enrichByAuthor")
	})
}

// Advanced returns a merged response for a multi-field search. At least one
// of title/author must be present.
func (o *Orchestrator) Advanced(ctx context.Context, title, author string, year int, publisher string) (book.Response, Meta, error) {
	if strings.TrimSpace(title) == "" && strings.TrimSpace(author) == "" {
		return book.Response{}, Meta{}, tomerr.New(tomerr.CodeInvalidQuery, "at least one of title or author is required")
	}

	key := cache.AdvancedKey(title, author, year, publisher)
	return o.cachedMerge(ctx, key, o.cache.TTLs().For(cache.ClassAdvanced), func(ctx context.Context) book.Response {
		merged := o.fanOut(ctx, providers.Query{Title: title, Author: author, Publisher: publisher}, "enrichAdvanced")
		if year > 0 {
			merged = filterByYear(merged, year)
		}
		return merged
	})
}

// ByBook enriches one batch item, preferring ISBN identity when present.
// Results are cached under the enrich class with quality-scaled TTLs.
func (o *Orchestrator) ByBook(ctx context.Context, isbn, title, author string) (book.Response, Meta, error) {
	if isbn != "" {
		normalized, ok := normalize.ISBN(isbn)
		if !ok {
			return book.Response{}, Meta{}, tomerr.Newf(tomerr.CodeInvalidISBN, "invalid isbn: %s", isbn)
		}
		key := cache.EnrichKey(cache.ISBNKey(normalized))
		return o.cachedMerge(ctx, key, 0, func(ctx context.Context) book.Response {
			merged := o.fanOut(ctx, providers.Query{ISBN: normalized}, "enrichMultiple")
			o.supplementCover(ctx, normalized, &merged)
			return merged
		})
	}
	if strings.TrimSpace(title) == "" {
		return book.Response{}, Meta{}, tomerr.New(tomerr.CodeInvalidQuery, "isbn or title is required")
	}
	key := cache.EnrichKey(cache.AdvancedKey(title, author, 0, ""))
	return o.cachedMerge(ctx, key, 0, func(ctx context.Context) book.Response {
		return o.fanOut(ctx, providers.Query{Title: title, Author: author}, "enrichMultiple")
	})
}

// cachedMerge wraps fetch in the single-flight cache. Provider failures never
// surface: fetch always yields a response, possibly empty.
func (o *Orchestrator) cachedMerge(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) book.Response) (book.Response, Meta, error) {
	entry, tier, err := o.cache.GetOrFetch(ctx, key, ttl, func(ctx context.Context) (cache.Entry, error) {
		merged := fetch(ctx)
		provider := string(book.ProviderNone)
		quality := 0.0
		if len(merged.Works) > 0 {
			provider = string(merged.Works[0].PrimaryProvider)
			quality = float64(merged.Works[0].Quality) / 100
		}
		return cache.EntryFor(merged, provider, quality)
	})
	if errors.Is(err, cache.ErrNegative) {
		return emptyResponse(), Meta{Provider: string(book.ProviderNone), Cached: true}, nil
	}
	if err != nil {
		return book.Response{}, Meta{}, err
	}

	var resp book.Response
	if err := json.Unmarshal(entry.Payload, &resp); err != nil {
		// A poisoned entry is dropped and refetched on the next request.
		o.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		_ = o.cache.Delete(ctx, key)
		return book.Response{}, Meta{}, tomerr.New(tomerr.CodeInternalError, "cached payload corrupt")
	}

	meta := Meta{Provider: entry.Provider}
	if tier != "" {
		meta.Cached = true
		meta.CacheSource = string(tier)
		meta.AgeSeconds = entry.AgeSeconds()
	}
	return resp, meta, nil
}

// fanOut queries Google Books and Open Library concurrently, normalizes the
// successes, and merges.
func (o *Orchestrator) fanOut(ctx context.Context, q providers.Query, operation string) book.Response {
	type outcome struct {
		provider book.Provider
		result   providers.Result
	}

	targets := []book.Provider{book.ProviderGoogleBooks, book.ProviderOpenLibrary}
	outcomes := make(chan outcome, len(targets))
	var wg sync.WaitGroup

	for _, name := range targets {
		client, err := o.registry.Get(name)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(name book.Provider, client providers.Client) {
			defer wg.Done()
			outcomes <- outcome{provider: name, result: client.Lookup(ctx, q)}
		}(name, client)
	}
	wg.Wait()
	close(outcomes)

	var responses []book.Response
	for oc := range outcomes {
		res := oc.result
		ev := analytics.Event{
			Provider:  string(oc.provider),
			Operation: operation,
			LatencyMs: res.ProcessingTime.Milliseconds(),
			ErrorKind: string(res.ErrKind),
		}
		if !res.Success {
			o.analytics.Record(ev)
			o.logger.Debug("provider lookup failed",
				"provider", oc.provider, "kind", res.ErrKind, "message", res.ErrMessage)
			continue
		}

		normalized, err := normalizeFor(oc.provider, res.Raw)
		if err != nil {
			o.analytics.Record(ev)
			o.logger.Warn("provider payload rejected", "provider", oc.provider, "error", err)
			continue
		}
		ev.ResultCount = len(normalized.Editions)
		o.analytics.Record(ev)
		responses = append(responses, normalized)
	}

	return Merge(responses)
}

// supplementCover asks the cover source for an image when the merged result
// has none.
func (o *Orchestrator) supplementCover(ctx context.Context, isbn string, merged *book.Response) {
	if len(merged.Works) == 0 || merged.Works[0].CoverImageURL != "" {
		return
	}
	covers := o.registry.Covers()
	if covers == nil {
		return
	}

	start := time.Now()
	url, err := covers.CoverByISBN(ctx, isbn)
	count := 0
	if err == nil && url != "" {
		count = 1
	}
	o.analytics.Record(analytics.Event{
		Provider:    string(covers.Name()),
		Operation:   "coverByISBN",
		LatencyMs:   time.Since(start).Milliseconds(),
		ErrorKind:   errKindOf(err),
		ResultCount: count,
	})
	if err != nil || url == "" {
		return
	}

	url = normalize.ImageURL(url)
	merged.Works[0].CoverImageURL = url
	merged.Works[0].Contributors = appendProvider(merged.Works[0].Contributors, covers.Name())
	for i := range merged.Editions {
		if merged.Editions[i].CoverImageURL == "" {
			merged.Editions[i].CoverImageURL = url
		}
	}
}

func normalizeFor(p book.Provider, raw json.RawMessage) (book.Response, error) {
	switch p {
	case book.ProviderGoogleBooks:
		return NormalizeGoogleBooks(raw)
	case book.ProviderOpenLibrary:
		return NormalizeOpenLibrary(raw)
	case book.ProviderISBNdb:
		return NormalizeISBNdb(raw)
	}
	return book.Response{}, tomerr.Newf(tomerr.CodeInternalError, "no normalizer for provider %s", p)
}

// filterByYear drops works whose known publication year mismatches. Works
// with an unknown year survive the filter.
func filterByYear(resp book.Response, year int) book.Response {
	works := []book.Work{}
	for _, w := range resp.Works {
		if w.FirstPublicationYear == 0 || w.FirstPublicationYear == year {
			works = append(works, w)
		}
	}
	resp.Works = works
	return resp
}

func errKindOf(err error) string {
	if err == nil {
		return ""
	}
	return string(providers.ErrProviderError)
}

func emptyResponse() book.Response {
	return book.Response{
		Works:    []book.Work{},
		Editions: []book.Edition{},
		Authors:  []book.Author{},
	}
}

package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jackzampolin/tome/internal/book"
)

const (
	OpenLibraryBaseURL   = "https://openlibrary.org"
	openLibraryPageLimit = 50
)

// OpenLibraryConfig holds configuration for the Open Library client.
// Open Library requires no credentials.
type OpenLibraryConfig struct {
	BaseURL string
	Timeout time.Duration
	RPS     float64
}

// OpenLibraryClient implements Client against the Open Library API.
type OpenLibraryClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewOpenLibraryClient creates a new Open Library client.
func NewOpenLibraryClient(cfg OpenLibraryConfig) *OpenLibraryClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenLibraryBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &OpenLibraryClient{
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		client:  newHTTPClient(cfg.RPS),
	}
}

func (c *OpenLibraryClient) Name() book.Provider {
	return book.ProviderOpenLibrary
}

// Lookup uses the bibkeys endpoint for ISBN queries and the search endpoint
// otherwise.
func (c *OpenLibraryClient) Lookup(ctx context.Context, q Query) Result {
	start := time.Now()

	var endpoint string
	if q.ISBN != "" {
		params := url.Values{}
		params.Set("bibkeys", "ISBN:"+q.ISBN)
		params.Set("format", "json")
		params.Set("jscmd", "data")
		endpoint = c.baseURL + "/api/books?" + params.Encode()
	} else {
		params := url.Values{}
		if q.Title != "" {
			params.Set("title", q.Title)
		}
		if q.Author != "" {
			params.Set("author", q.Author)
		}
		if q.Subject != "" {
			params.Set("subject", q.Subject)
		}
		if q.Publisher != "" {
			params.Set("publisher", q.Publisher)
		}
		if len(params) == 0 {
			return failure(c.Name(), ErrProviderError, "empty query", time.Since(start))
		}
		limit := q.Limit
		if limit <= 0 || limit > openLibraryPageLimit {
			limit = openLibraryPageLimit
		}
		params.Set("limit", strconv.Itoa(limit))
		endpoint = c.baseURL + "/search.json?" + params.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return failure(c.Name(), ErrProviderError, "building request failed", time.Since(start))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return failure(c.Name(), classifyErr(err), "openlibrary request failed", time.Since(start))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failure(c.Name(), classifyStatus(resp.StatusCode),
			fmt.Sprintf("openlibrary returned status %d", resp.StatusCode), time.Since(start))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(c.Name(), ErrNetwork, "reading response failed", time.Since(start))
	}

	// The bibkeys endpoint returns "{}" for unknown ISBNs rather than a 404.
	if q.ISBN != "" && len(body) <= 2 {
		return failure(c.Name(), ErrNotFound, "isbn not found", time.Since(start))
	}

	return success(c.Name(), body, time.Since(start))
}

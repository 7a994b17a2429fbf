package providers

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"context"

	"github.com/jackzampolin/tome/internal/book"
)

const (
	GoogleBooksBaseURL    = "https://www.googleapis.com/books/v1"
	googleBooksMaxResults = 40
)

// GoogleBooksConfig holds configuration for the Google Books client.
type GoogleBooksConfig struct {
	APIKey  Secret // Optional; anonymous requests are allowed at lower quota.
	BaseURL string
	Timeout time.Duration
	RPS     float64
}

// GoogleBooksClient implements Client against the Google Books volumes API.
type GoogleBooksClient struct {
	apiKey  Secret
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewGoogleBooksClient creates a new Google Books client.
func NewGoogleBooksClient(cfg GoogleBooksConfig) *GoogleBooksClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = GoogleBooksBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &GoogleBooksClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		client:  newHTTPClient(cfg.RPS),
	}
}

func (c *GoogleBooksClient) Name() book.Provider {
	return book.ProviderGoogleBooks
}

// Lookup queries the volumes endpoint. ISBN queries use the isbn: qualifier;
// search queries combine intitle:, inauthor:, and subject: terms.
func (c *GoogleBooksClient) Lookup(ctx context.Context, q Query) Result {
	start := time.Now()

	terms := buildGoogleQuery(q)
	if terms == "" {
		return failure(c.Name(), ErrProviderError, "empty query", time.Since(start))
	}

	params := url.Values{}
	params.Set("q", terms)
	limit := q.Limit
	if limit <= 0 || limit > googleBooksMaxResults {
		limit = googleBooksMaxResults
	}
	params.Set("maxResults", strconv.Itoa(limit))
	if c.apiKey != nil {
		if key, err := c.apiKey.Get(); err == nil && key != "" {
			params.Set("key", key)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/volumes?"+params.Encode(), nil)
	if err != nil {
		return failure(c.Name(), ErrProviderError, "building request failed", time.Since(start))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return failure(c.Name(), classifyErr(err), "volumes request failed", time.Since(start))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failure(c.Name(), classifyStatus(resp.StatusCode),
			fmt.Sprintf("volumes request returned status %d", resp.StatusCode), time.Since(start))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(c.Name(), ErrNetwork, "reading response failed", time.Since(start))
	}

	return success(c.Name(), body, time.Since(start))
}

func buildGoogleQuery(q Query) string {
	if q.ISBN != "" {
		return "isbn:" + q.ISBN
	}
	var parts []string
	if q.Title != "" {
		parts = append(parts, "intitle:"+quoteGoogleTerm(q.Title))
	}
	if q.Author != "" {
		parts = append(parts, "inauthor:"+quoteGoogleTerm(q.Author))
	}
	if q.Subject != "" {
		parts = append(parts, "subject:"+quoteGoogleTerm(q.Subject))
	}
	if q.Publisher != "" {
		parts = append(parts, "inpublisher:"+quoteGoogleTerm(q.Publisher))
	}
	return strings.Join(parts, "+")
}

func quoteGoogleTerm(s string) string {
	if strings.ContainsRune(s, ' ') {
		return `"` + s + `"`
	}
	return s
}

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jackzampolin/tome/internal/book"
)

const ISBNdbBaseURL = "https://api2.isbndb.com"

// ISBNdbConfig holds configuration for the ISBNdb client. ISBNdb always
// requires an API key.
type ISBNdbConfig struct {
	APIKey  Secret
	BaseURL string
	Timeout time.Duration
	RPS     float64
}

// ISBNdbClient implements Client and CoverClient against the ISBNdb API.
// Enrichment only consults it for cover images, but the full lookup is kept
// for direct queries.
type ISBNdbClient struct {
	apiKey  Secret
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewISBNdbClient creates a new ISBNdb client.
func NewISBNdbClient(cfg ISBNdbConfig) *ISBNdbClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = ISBNdbBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &ISBNdbClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		client:  newHTTPClient(cfg.RPS),
	}
}

func (c *ISBNdbClient) Name() book.Provider {
	return book.ProviderISBNdb
}

// Lookup queries /book/{isbn} for ISBN queries and /books/{query} otherwise.
func (c *ISBNdbClient) Lookup(ctx context.Context, q Query) Result {
	start := time.Now()

	key, err := c.resolveKey()
	if err != nil {
		return failure(c.Name(), ErrNoAPIKey, "api key not configured", time.Since(start))
	}

	var endpoint string
	switch {
	case q.ISBN != "":
		endpoint = c.baseURL + "/book/" + q.ISBN
	case q.Title != "":
		endpoint = c.baseURL + "/books/" + url.PathEscape(q.Title)
	case q.Author != "":
		endpoint = c.baseURL + "/author/" + url.PathEscape(q.Author)
	default:
		return failure(c.Name(), ErrProviderError, "empty query", time.Since(start))
	}

	body, errKind, errMsg := c.do(ctx, endpoint, key)
	if errKind != "" {
		return failure(c.Name(), errKind, errMsg, time.Since(start))
	}
	return success(c.Name(), body, time.Since(start))
}

// CoverByISBN fetches only the cover image URL for an ISBN.
func (c *ISBNdbClient) CoverByISBN(ctx context.Context, isbn string) (string, error) {
	key, err := c.resolveKey()
	if err != nil {
		return "", fmt.Errorf("isbndb: api key not configured")
	}

	body, errKind, errMsg := c.do(ctx, c.baseURL+"/book/"+isbn, key)
	if errKind != "" {
		return "", fmt.Errorf("isbndb: %s", errMsg)
	}

	var payload struct {
		Book struct {
			Image string `json:"image"`
		} `json:"book"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("isbndb: decoding response: %w", err)
	}
	return payload.Book.Image, nil
}

func (c *ISBNdbClient) resolveKey() (string, error) {
	if c.apiKey == nil {
		return "", ErrSecretUnavailable
	}
	key, err := c.apiKey.Get()
	if err != nil || key == "" {
		return "", ErrSecretUnavailable
	}
	return key, nil
}

func (c *ISBNdbClient) do(ctx context.Context, endpoint, key string) (json.RawMessage, ErrKind, string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, ErrProviderError, "building request failed"
	}
	req.Header.Set("Authorization", key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyErr(err), "isbndb request failed"
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode),
			fmt.Sprintf("isbndb returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrNetwork, "reading response failed"
	}
	return body, "", ""
}

package providers

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/tome/internal/book"
)

// MockClient is a Client for testing.
type MockClient struct {
	// Configurable behavior
	Provider  book.Provider
	Latency   time.Duration
	FailKind  ErrKind // Non-empty makes every call fail with this kind.
	FailAfter int     // Fail after N requests (0 = never).
	Payload   json.RawMessage

	// State
	requestCount atomic.Int64
}

// NewMockClient creates a mock client with sensible defaults.
func NewMockClient(p book.Provider) *MockClient {
	return &MockClient{
		Provider: p,
		Payload:  json.RawMessage(`{}`),
	}
}

func (c *MockClient) Name() book.Provider {
	return c.Provider
}

// Calls returns how many lookups have been made.
func (c *MockClient) Calls() int64 {
	return c.requestCount.Load()
}

// Lookup returns the configured payload or failure.
func (c *MockClient) Lookup(ctx context.Context, q Query) Result {
	n := c.requestCount.Add(1)
	start := time.Now()

	if c.Latency > 0 {
		select {
		case <-ctx.Done():
			return failure(c.Provider, ErrTimeout, "mock cancelled", time.Since(start))
		case <-time.After(c.Latency):
		}
	}

	if c.FailKind != "" || (c.FailAfter > 0 && n > int64(c.FailAfter)) {
		kind := c.FailKind
		if kind == "" {
			kind = ErrProviderError
		}
		return failure(c.Provider, kind, "mock failure", time.Since(start))
	}

	return success(c.Provider, c.Payload, time.Since(start))
}

// MockCoverClient is a CoverClient for testing.
type MockCoverClient struct {
	Provider book.Provider
	URL      string
	Err      error
}

func (c *MockCoverClient) Name() book.Provider {
	return c.Provider
}

func (c *MockCoverClient) CoverByISBN(ctx context.Context, isbn string) (string, error) {
	if c.Err != nil {
		return "", c.Err
	}
	return c.URL, nil
}

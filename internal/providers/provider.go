// Package providers implements HTTP clients for the upstream book metadata
// sources. Clients never retry and never cache; both concerns live in the
// layers above. Failures are reported in-band through Result so a single slow
// or broken upstream cannot abort a fan-out.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/jackzampolin/tome/internal/book"
)

// ErrKind classifies a failed upstream call. The kinds drive caching policy
// (errors are never cached) and analytics labels.
type ErrKind string

const (
	ErrNoAPIKey      ErrKind = "no_api_key"
	ErrBadAuth       ErrKind = "bad_auth"
	ErrRateLimited   ErrKind = "rate_limited"
	ErrNotFound      ErrKind = "not_found"
	ErrProviderError ErrKind = "provider_error"
	ErrTimeout       ErrKind = "timeout"
	ErrNetwork       ErrKind = "network"
)

// Query describes a metadata lookup. Exactly one of ISBN or the search fields
// is expected to be populated.
type Query struct {
	ISBN      string
	Title     string
	Author    string
	Subject   string
	Publisher string
	Limit     int
}

// Result is the envelope every client call returns. Raw holds the upstream
// payload verbatim for the per-provider normalizers.
type Result struct {
	Success        bool
	Provider       book.Provider
	ProcessingTime time.Duration
	Raw            json.RawMessage
	ErrKind        ErrKind
	ErrMessage     string
}

// Client fetches raw metadata from one upstream source.
type Client interface {
	Name() book.Provider
	Lookup(ctx context.Context, q Query) Result
}

// CoverClient resolves cover image URLs by ISBN.
type CoverClient interface {
	Name() book.Provider
	CoverByISBN(ctx context.Context, isbn string) (string, error)
}

// defaultTimeout bounds every upstream call unless configured otherwise.
const defaultTimeout = 5 * time.Second

// failure builds an error Result. Messages must never carry credentials, so
// callers pass pre-sanitized text rather than raw error chains that may have
// the key embedded in a URL.
func failure(p book.Provider, kind ErrKind, msg string, elapsed time.Duration) Result {
	return Result{
		Provider:       p,
		ProcessingTime: elapsed,
		ErrKind:        kind,
		ErrMessage:     msg,
	}
}

func success(p book.Provider, raw json.RawMessage, elapsed time.Duration) Result {
	return Result{
		Success:        true,
		Provider:       p,
		ProcessingTime: elapsed,
		Raw:            raw,
	}
}

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(status int) ErrKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrBadAuth
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusNotFound:
		return ErrNotFound
	default:
		return ErrProviderError
	}
}

// classifyErr maps a transport error to an error kind.
func classifyErr(err error) ErrKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrNetwork
}

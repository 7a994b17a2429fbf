// Package cache implements the two-tier response cache: a process-local edge
// tier for sub-millisecond reads and a postgres-backed KV tier shared across
// instances. Entries are immutable once written; rewriting a key replaces the
// entry atomically.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/singleflight"

	"github.com/jackzampolin/tome/internal/metrics"
)

// Tier identifies where a hit was served from.
type Tier string

const (
	TierEdge Tier = "edge"
	TierKV   Tier = "kv"
)

// missing is the sentinel payload cached for upstream 404s so repeated
// lookups of unknown ISBNs don't hammer providers. It must be valid JSON:
// entries are re-encoded wholesale on edge promotion and KV writes. Real
// payloads come from EntryFor, which always produces an object.
var missing = json.RawMessage("null")

// ErrNegative is returned by GetOrFetch when the key is negatively cached.
var ErrNegative = errors.New("negatively cached")

// Entry is one cached value plus its metadata.
type Entry struct {
	Payload    json.RawMessage `json:"payload"`
	CachedAt   time.Time       `json:"cachedAt"`
	TTLSeconds int             `json:"ttlSeconds"`
	Provider   string          `json:"provider,omitempty"`
	Quality    float64         `json:"quality,omitempty"`
	CacheSource string         `json:"cacheSource,omitempty"`
}

// AgeSeconds reports how long ago the entry was stored.
func (e Entry) AgeSeconds() int64 {
	return int64(time.Since(e.CachedAt).Seconds())
}

// Negative reports whether this entry is a negative-cache sentinel.
func (e Entry) Negative() bool {
	return bytes.Equal(e.Payload, missing)
}

// Store is the persistent KV tier.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// EdgeStore is the process-local tier. Implementations may evict at will;
// correctness never depends on edge hits.
type EdgeStore interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// Fetcher produces a value on cache miss.
type Fetcher func(ctx context.Context) (Entry, error)

// Cache is the tiered cache with single-flight fetch de-duplication.
type Cache struct {
	edge    EdgeStore
	kv      Store
	group   singleflight.Group
	ttls    TTLs
	metrics *metrics.CacheMetrics
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics attaches hit/miss counters.
func WithMetrics(cm *metrics.CacheMetrics) Option {
	return func(c *Cache) { c.metrics = cm }
}

// WithLogger sets the cache logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New creates a tiered cache. edge may be nil to run KV-only (tests).
func New(edge EdgeStore, kv Store, ttls TTLs, opts ...Option) *Cache {
	c := &Cache{
		edge:   edge,
		kv:     kv,
		ttls:   ttls,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTLs exposes the TTL table so callers can pick class TTLs.
func (c *Cache) TTLs() TTLs {
	return c.ttls
}

// Get checks the edge tier then the KV tier. A KV hit is promoted to the
// edge tier for the entry's remaining lifetime.
func (c *Cache) Get(ctx context.Context, key string) (Entry, Tier, bool) {
	if c.edge != nil {
		if raw, ok := c.edge.Get(ctx, key); ok {
			var entry Entry
			if err := json.Unmarshal(raw, &entry); err == nil && !expired(entry) {
				if c.metrics != nil {
					c.metrics.EdgeHitInc()
				}
				entry.CacheSource = string(TierEdge)
				return entry, TierEdge, true
			}
			c.edge.Delete(ctx, key)
		}
	}

	entry, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		c.logger.Warn("kv read failed", "key", key, "error", err)
		return Entry{}, "", false
	}
	if !ok || expired(entry) {
		if c.metrics != nil {
			c.metrics.MissInc()
		}
		return Entry{}, "", false
	}

	if c.metrics != nil {
		c.metrics.KVHitInc()
	}
	c.promote(ctx, key, entry)
	entry.CacheSource = string(TierKV)
	return entry, TierKV, true
}

// GetOrFetch returns the cached entry or invokes fetcher, guaranteeing
// at-most-one concurrent fetcher invocation per key per process. Fetch errors
// are never cached. A negatively cached key short-circuits to ErrNegative.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetcher Fetcher) (Entry, Tier, error) {
	if entry, tier, ok := c.Get(ctx, key); ok {
		if entry.Negative() {
			if c.metrics != nil {
				c.metrics.NegativeInc()
			}
			return Entry{}, tier, ErrNegative
		}
		return entry, tier, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent flight may have populated the key while we queued.
		if entry, _, ok := c.Get(ctx, key); ok {
			if entry.Negative() {
				return nil, ErrNegative
			}
			return entry, nil
		}

		entry, err := fetcher(ctx)
		if err != nil {
			return nil, err
		}
		// ttl <= 0 defers the choice to merged quality.
		effective := ttl
		if effective <= 0 {
			effective = c.ttls.ForEnrich(entry.Quality)
		}
		c.Put(ctx, key, entry, effective)
		return entry, nil
	})
	if err != nil {
		return Entry{}, "", err
	}
	return v.(Entry), "", nil
}

// Put stamps and stores an entry. The KV write is synchronous on the edge
// path's behalf: the entry lands in the edge tier immediately and the KV
// write happens in the background with bounded retries, since duplicate KV
// writes are idempotent.
func (c *Cache) Put(ctx context.Context, key string, entry Entry, ttl time.Duration) {
	ttl = fuzz(ttl, 1.2)
	entry.CachedAt = time.Now().UTC()
	entry.TTLSeconds = int(ttl.Seconds())

	c.promote(ctx, key, entry)

	go func() {
		wctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := retry.Do(
			func() error { return c.kv.Set(wctx, key, entry, ttl) },
			retry.Attempts(3),
			retry.Delay(200*time.Millisecond),
			retry.Context(wctx),
		)
		if err != nil {
			if c.metrics != nil {
				c.metrics.WriteErrInc()
			}
			c.logger.Warn("kv write failed", "key", key, "error", err)
		}
	}()
}

// PutNegative records an upstream 404 so the key is skipped until the
// negative TTL elapses.
func (c *Cache) PutNegative(ctx context.Context, key string) {
	c.Put(ctx, key, Entry{Payload: missing}, c.ttls.Negative)
}

// Delete removes a key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if c.edge != nil {
		c.edge.Delete(ctx, key)
	}
	return c.kv.Delete(ctx, key)
}

// DeleteByPrefix removes all keys sharing a prefix. The edge tier has no
// prefix scan, so it is cleared wholesale; entries repopulate from KV.
func (c *Cache) DeleteByPrefix(ctx context.Context, prefix string) error {
	if c.edge != nil {
		c.edge.Clear(ctx)
	}
	return c.kv.DeleteByPrefix(ctx, prefix)
}

func (c *Cache) promote(ctx context.Context, key string, entry Entry) {
	if c.edge == nil {
		return
	}
	remaining := time.Until(entry.CachedAt.Add(time.Duration(entry.TTLSeconds) * time.Second))
	if remaining <= 0 {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	c.edge.Set(ctx, key, raw, remaining)
}

func expired(e Entry) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return time.Now().After(e.CachedAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// fuzz scales the given duration into the range (d, d*f) so entries written
// together don't expire together.
func fuzz(d time.Duration, f float64) time.Duration {
	if f <= 1 {
		return d
	}
	return time.Duration(float64(d) * (1 + rand.Float64()*(f-1)))
}

// EntryFor packs a payload with metadata. Marshalling failures surface to
// the caller rather than silently caching garbage.
func EntryFor(payload any, provider string, quality float64) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("marshalling cache payload: %w", err)
	}
	return Entry{Payload: raw, Provider: provider, Quality: quality}, nil
}

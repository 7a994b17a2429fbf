package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
)

// RistrettoEdge is the process-local edge tier backed by a cost-bounded
// ristretto cache.
type RistrettoEdge struct {
	manager *gocache.Cache[[]byte]
	backing *ristretto.Cache
}

var _ EdgeStore = (*RistrettoEdge)(nil)

// NewRistrettoEdge creates the edge tier. maxCost is the byte budget.
func NewRistrettoEdge(maxCost int64) (*RistrettoEdge, error) {
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	backing, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e7,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("building ristretto cache: %w", err)
	}

	manager := gocache.New[[]byte](ristretto_store.NewRistretto(backing))
	return &RistrettoEdge{manager: manager, backing: backing}, nil
}

func (e *RistrettoEdge) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := e.manager.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (e *RistrettoEdge) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	// Best effort: ristretto may reject admissions under pressure.
	_ = e.manager.Set(ctx, key, value,
		store.WithCost(int64(len(value))),
		store.WithExpiration(ttl),
	)
}

func (e *RistrettoEdge) Delete(ctx context.Context, key string) {
	_ = e.manager.Delete(ctx, key)
}

func (e *RistrettoEdge) Clear(ctx context.Context) {
	_ = e.manager.Clear(ctx)
}

// Wait blocks until buffered writes are applied. Tests only.
func (e *RistrettoEdge) Wait() {
	e.backing.Wait()
}

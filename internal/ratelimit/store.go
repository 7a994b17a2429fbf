package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MemoryStore keeps window state in process. Suitable for single-instance
// deployments and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: map[string]State{}}
}

func (s *MemoryStore) Load(ctx context.Context, key string) (State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[key]
	return state, ok, nil
}

func (s *MemoryStore) Save(ctx context.Context, key string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = state
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    key TEXT PRIMARY KEY,
    count INTEGER NOT NULL,
    window_start TIMESTAMPTZ NOT NULL,
    window_expires TIMESTAMPTZ NOT NULL
);
`

// PGStore persists window state in postgres so limits survive restarts.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore ensures the rate_limits table exists on an existing pool.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("creating rate_limits table: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Load(ctx context.Context, key string) (State, bool, error) {
	var state State
	err := s.pool.QueryRow(ctx,
		`SELECT count, window_start, window_expires FROM rate_limits WHERE key = $1`, key,
	).Scan(&state.Count, &state.WindowStartAt, &state.WindowExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("loading rate limit state: %w", err)
	}
	return state, true, nil
}

func (s *PGStore) Save(ctx context.Context, key string, state State) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rate_limits (key, count, window_start, window_expires)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET count = EXCLUDED.count,
		    window_start = EXCLUDED.window_start,
		    window_expires = EXCLUDED.window_expires`,
		key, state.Count, state.WindowStartAt, state.WindowExpiresAt)
	if err != nil {
		return fmt.Errorf("saving rate limit state: %w", err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM rate_limits WHERE key = $1`, key); err != nil {
		return fmt.Errorf("deleting rate limit state: %w", err)
	}
	return nil
}

package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists job state across actor evictions and restarts.
type Store interface {
	Load(ctx context.Context, jobID string) (JobState, bool, error)
	Save(ctx context.Context, state JobState) error
	Delete(ctx context.Context, jobID string) error
	List(ctx context.Context) ([]JobState, error)
}

// MemoryStateStore keeps job state in process, for tests and single-node
// runs without postgres.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: map[string][]byte{}}
}

func (s *MemoryStateStore) Load(ctx context.Context, jobID string) (JobState, bool, error) {
	s.mu.RLock()
	raw, ok := s.states[jobID]
	s.mu.RUnlock()
	if !ok {
		return JobState{}, false, nil
	}
	var state JobState
	if err := json.Unmarshal(raw, &state); err != nil {
		return JobState{}, false, fmt.Errorf("decoding job state: %w", err)
	}
	return state, true, nil
}

func (s *MemoryStateStore) Save(ctx context.Context, state JobState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding job state: %w", err)
	}
	s.mu.Lock()
	s.states[state.JobID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStateStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	delete(s.states, jobID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStateStore) List(ctx context.Context) ([]JobState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobState, 0, len(s.states))
	for _, raw := range s.states {
		var state JobState
		if err := json.Unmarshal(raw, &state); err != nil {
			continue
		}
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Corrupt seeds undecodable state for a job. Test hook.
func (s *MemoryStateStore) Corrupt(jobID string) {
	s.mu.Lock()
	s.states[jobID] = []byte("{not json")
	s.mu.Unlock()
}

// Len reports stored jobs. Test hook.
func (s *MemoryStateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS job_state (
    job_id TEXT PRIMARY KEY,
    state JSONB NOT NULL,
    created TIMESTAMPTZ NOT NULL,
    updated TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PGStateStore persists job state as JSONB rows.
type PGStateStore struct {
	pool *pgxpool.Pool
}

// NewPGStateStore ensures the job_state table exists on an existing pool.
func NewPGStateStore(ctx context.Context, pool *pgxpool.Pool) (*PGStateStore, error) {
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("creating job_state table: %w", err)
	}
	return &PGStateStore{pool: pool}, nil
}

func (s *PGStateStore) Load(ctx context.Context, jobID string) (JobState, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM job_state WHERE job_id = $1`, jobID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return JobState{}, false, nil
	}
	if err != nil {
		return JobState{}, false, fmt.Errorf("reading job state: %w", err)
	}
	var state JobState
	if err := json.Unmarshal(raw, &state); err != nil {
		return JobState{}, false, fmt.Errorf("decoding job state: %w", err)
	}
	return state, true, nil
}

func (s *PGStateStore) Save(ctx context.Context, state JobState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding job state: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_state (job_id, state, created, updated)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (job_id) DO UPDATE SET state = EXCLUDED.state, updated = now()`,
		state.JobID, raw, state.CreatedAt)
	if err != nil {
		return fmt.Errorf("writing job state: %w", err)
	}
	return nil
}

func (s *PGStateStore) Delete(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM job_state WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("deleting job state: %w", err)
	}
	return nil
}

func (s *PGStateStore) List(ctx context.Context) ([]JobState, error) {
	rows, err := s.pool.Query(ctx, `SELECT state FROM job_state ORDER BY created DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing job state: %w", err)
	}
	defer rows.Close()

	var out []JobState
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning job state: %w", err)
		}
		var state JobState
		if err := json.Unmarshal(raw, &state); err != nil {
			continue
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

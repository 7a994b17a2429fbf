package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS cache (
	key     TEXT PRIMARY KEY,
	value   JSONB NOT NULL,
	expires TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS cache_expires_idx ON cache (expires);
`

// PGStore is the KV tier backed by a postgres table.
type PGStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

// NewPGStore connects to postgres and ensures the cache table exists.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := db.Exec(ctx, pgSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}
	return &PGStore{db: db}, nil
}

// Pool exposes the underlying pool for health checks and shared use.
func (s *PGStore) Pool() *pgxpool.Pool {
	return s.db
}

// Close releases the pool.
func (s *PGStore) Close() {
	s.db.Close()
}

func (s *PGStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT value FROM cache WHERE key = $1 AND expires > now()`, key,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading cache row: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decoding cache row: %w", err)
	}
	return entry, true, nil
}

func (s *PGStore) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache row: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO cache (key, value, expires) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires = EXCLUDED.expires`,
		key, raw, time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("writing cache row: %w", err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM cache WHERE key = $1`, key)
	return err
}

func (s *PGStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM cache WHERE key LIKE $1 || '%'`, prefix)
	return err
}

// Sweep removes expired rows. Called periodically from the server loop.
func (s *PGStore) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM cache WHERE expires <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

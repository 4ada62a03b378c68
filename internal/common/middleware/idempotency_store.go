package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"carepay/internal/common/database"
)

// PostgresIdempotencyStore implements IdempotencyStore on the
// idempotency_keys table. The first response written for a key wins;
// expired rows are ignored on read.
type PostgresIdempotencyStore struct {
	db *database.DB
}

// NewPostgresIdempotencyStore creates a new PostgreSQL idempotency store.
func NewPostgresIdempotencyStore(db *database.DB) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{db: db}
}

// Get retrieves the cached response for a key, if one is still live.
func (s *PostgresIdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := `
		SELECT response
		FROM idempotency_keys
		WHERE key = $1 AND expires_at > now()
	`

	var response []byte
	err := s.db.QueryRow(ctx, query, key).Scan(&response)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return response, true, nil
}

// Set stores a response for a key. A concurrent first writer keeps its
// response; later writes for the same key are dropped.
func (s *PostgresIdempotencyStore) Set(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	query := `
		INSERT INTO idempotency_keys (key, response, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`

	_, err := s.db.Exec(ctx, query, key, response, time.Now().UTC().Add(ttl))
	return err
}

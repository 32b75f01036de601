package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCounter keeps counters in document_sequences. The upsert takes a row lock, so
// concurrent increments for the same prefix serialise inside PostgreSQL.
type PostgresCounter struct {
	pool *pgxpool.Pool
}

// NewPostgresCounter constructs the counter.
func NewPostgresCounter(pool *pgxpool.Pool) *PostgresCounter {
	return &PostgresCounter{pool: pool}
}

// Increment implements Counter.
func (c *PostgresCounter) Increment(ctx context.Context, key string) (int64, error) {
	var value int64
	err := c.pool.QueryRow(ctx, `INSERT INTO document_sequences (prefix, last_value)
VALUES ($1, 1)
ON CONFLICT (prefix) DO UPDATE SET last_value = document_sequences.last_value + 1, updated_at = NOW()
RETURNING last_value`, key).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("sequence: upsert %s: %w", key, err)
	}
	return value, nil
}

// Seeders routes HighestSuffix to the store owning each tag.
type Seeders map[string]Seeder

// HighestSuffix implements Seeder. Unknown tags start from zero.
func (s Seeders) HighestSuffix(ctx context.Context, tag, prefix string) (int64, error) {
	seeder, ok := s[tag]
	if !ok || seeder == nil {
		return 0, nil
	}
	return seeder.HighestSuffix(ctx, tag, prefix)
}

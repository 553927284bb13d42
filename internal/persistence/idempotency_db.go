package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresIdempotencyChecker is the second deduplication tier behind the
// engine's LRU. It answers from the durable event log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// LookupIdempotencyKey returns the first sequence committed under key.
func (pic *PostgresIdempotencyChecker) LookupIdempotencyKey(key string) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var seq sql.NullInt64
	err := pic.db.QueryRowContext(ctx, `
		SELECT MIN(sequence)
		FROM event_log.events
		WHERE idempotency_key = $1
	`, key).Scan(&seq)
	if err != nil {
		return 0, false, err
	}
	if !seq.Valid {
		return 0, false, nil
	}
	return seq.Int64, true, nil
}

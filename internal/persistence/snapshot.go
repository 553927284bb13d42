package persistence

import (
	"GameLedger/internal/core"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// snapshotFormatVersion identifies the JSON layout of core.SnapshotState.
const snapshotFormatVersion = 1

// SnapshotManager stores engine snapshots and reads the event log back for
// recovery.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot and returns its encoded size. The row
// is unverified until MarkVerified confirms it against the event log.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, state_hash, state_data, format_version, size_bytes, verified)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		ON CONFLICT (sequence) DO UPDATE SET state_hash = $3, state_data = $4, size_bytes = $6, verified = FALSE
	`, uuid.New(), snap.Sequence, snap.StateHash[:], string(data), snapshotFormatVersion, len(data))
	if err != nil {
		return 0, fmt.Errorf("insert snapshot %d: %w", snap.Sequence, err)
	}
	return len(data), nil
}

// MarkVerified flags the snapshot at sequence as loadable once the event
// log holds that sequence with the same state hash.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	res, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots s SET verified = TRUE
		FROM event_log.events e
		WHERE s.sequence = $1 AND e.sequence = s.sequence AND e.state_hash = s.state_hash
	`, sequence)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("snapshot %d does not match the event log", sequence)
	}
	return nil
}

// LoadLatestSnapshot loads the most recent verified snapshot. It returns
// nil, nil when none exists (cold start).
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT state_data, state_hash, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		data    []byte
		hash    []byte
		version int
	)
	if err := row.Scan(&data, &hash, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format version %d", version)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if !bytes.Equal(snap.StateHash[:], hash) {
		return nil, fmt.Errorf("snapshot %d: state_hash column does not match payload", snap.Sequence)
	}
	return &snap, nil
}

// LoadEventsFrom loads up to limit events starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, collection, payload,
		       state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e          EventRow
			collection sql.NullString
		)
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &collection,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if collection.Valid {
			c := collection.String
			e.Collection = &c
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or 0
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

package projection

import (
	"GameLedger/internal/core"
	"GameLedger/internal/event"
	"GameLedger/internal/ledger"
	"GameLedger/internal/observability"
	"GameLedger/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
)

// watermarkName identifies this worker in projections.watermark.
const watermarkName = "main"

// ProjectionWorker maintains the read models in the projections schema.
// Its input channel is fed with non-blocking sends, so it may miss events;
// Rebuild restores the tables from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// LastSequence returns the last sequence applied to the projections.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Run applies outputs until the channel closes or ctx is cancelled.
// Outputs at or below the stored watermark are skipped.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	seq, err := loadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load projection watermark: %w", err)
	}
	pw.lastSeq = seq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Envelope.Sequence <= pw.lastSeq {
				continue
			}
			if output.Envelope.Sequence != pw.lastSeq+1 {
				pw.logger.Warn().
					Int64("expected", pw.lastSeq+1).
					Int64("got", output.Envelope.Sequence).
					Msg("projection gap, rebuild from the event log to repair")
			}

			if err := pw.processOutput(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.ProjectionErrors.Inc()
				}
				continue
			}

			pw.lastSeq = output.Envelope.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionLastSequence.Set(float64(pw.lastSeq))
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := output.Envelope.Sequence
	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := applyJournal(ctx, tx, j, seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	if err := applyEvent(ctx, tx, output.Event, seq); err != nil {
		return fmt.Errorf("%s projection: %w", output.Envelope.EventType, err)
	}

	if err := storeWatermark(ctx, tx, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return tx.Commit()
}

// applyJournal moves amount into the debit account and out of the credit
// account. System accounts have no projection row.
func applyJournal(ctx context.Context, tx *sql.Tx, j ledger.Journal, seq int64) error {
	amount := strconv.FormatUint(j.Amount, 10)

	if j.DebitAccount.IsUser() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (address, balance, last_sequence, updated_at)
			VALUES ($1, $2::numeric, $3, NOW())
			ON CONFLICT (address)
			DO UPDATE SET balance = projections.balances.balance + $2::numeric, last_sequence = $3, updated_at = NOW()
		`, j.DebitAccount.Owner.String(), amount, seq); err != nil {
			return err
		}
	}

	if j.CreditAccount.IsUser() {
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.balances
			SET balance = balance - $2::numeric, last_sequence = $3, updated_at = NOW()
			WHERE address = $1
		`, j.CreditAccount.Owner.String(), amount, seq); err != nil {
			return err
		}
	}
	return nil
}

// applyEvent updates the asset and pool tables. Token events are fully
// covered by their journals.
func applyEvent(ctx context.Context, tx *sql.Tx, evt event.Event, seq int64) error {
	var err error
	switch e := evt.(type) {
	case *event.CollectionCreated:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projections.pools (collection, capacity, available, last_sequence)
			VALUES ($1, $2, $2, $3)
			ON CONFLICT (collection) DO NOTHING
		`, e.Name, int64(e.Capacity), seq)

	case *event.AssetAllocated:
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.pools SET available = available - 1, last_sequence = $2
			WHERE collection = $1
		`, e.Collection, seq)

	case *event.AssetMinted:
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO projections.assets
				(collection, asset_id, owner, creator, name, description, uri, rarity, skill, minted_at, last_sequence)
			VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (collection, asset_id) DO NOTHING
		`, e.Collection, strconv.FormatUint(e.AssetID, 10), e.Owner.String(), e.Creator.String(),
			e.Name, e.Description, e.URI, int16(e.Rarity), int16(e.Skill), e.Time, seq); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.pools SET minted = minted + 1, last_sequence = $2
			WHERE collection = $1
		`, e.Collection, seq)

	case *event.AssetTransferred:
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.assets SET owner = $3, last_sequence = $4
			WHERE collection = $1 AND asset_id = $2::numeric
		`, e.Collection, strconv.FormatUint(e.AssetID, 10), e.To.String(), seq)

	case *event.AssetBurned:
		if _, err = tx.ExecContext(ctx, `
			DELETE FROM projections.assets WHERE collection = $1 AND asset_id = $2::numeric
		`, e.Collection, strconv.FormatUint(e.AssetID, 10)); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.pools SET burned = burned + 1, last_sequence = $2
			WHERE collection = $1
		`, e.Collection, seq)
	}
	return err
}

func loadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq sql.NullInt64
	err := db.QueryRowContext(ctx, `
		SELECT MAX(last_sequence) FROM projections.watermark WHERE projection = $1
	`, watermarkName).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func storeWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkName, seq)
	return err
}

// EventSource reads the durable event log.
type EventSource interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error)
}

// RebuildProjections recreates every projection table from the event log.
// Balances come from the journal; assets and pools from the events.
func RebuildProjections(ctx context.Context, db *sql.DB, source EventSource, logger zerolog.Logger) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.assets`,
		`TRUNCATE projections.pools`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (address, balance, last_sequence, updated_at)
		SELECT split_part(account, ':', 2), SUM(delta), MAX(sequence), NOW()
		FROM (
			SELECT debit_account AS account, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account, -amount AS delta, sequence FROM event_log.journal
		) j
		WHERE account LIKE 'user:%'
		GROUP BY split_part(account, ':', 2)
	`); err != nil {
		return 0, fmt.Errorf("rebuild balances: %w", err)
	}

	var (
		from int64 = 1
		last int64
	)
	for {
		rows, err := source.LoadEventsFrom(ctx, from, 1000)
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			et, ok := event.ParseEventType(row.EventType)
			if !ok {
				return 0, fmt.Errorf("sequence %d: unknown event type %q", row.Sequence, row.EventType)
			}
			evt, err := event.Decode(et, row.Payload)
			if err != nil {
				return 0, fmt.Errorf("sequence %d: %w", row.Sequence, err)
			}
			if err := applyEvent(ctx, tx, evt, row.Sequence); err != nil {
				return 0, fmt.Errorf("sequence %d: %w", row.Sequence, err)
			}
			last = row.Sequence
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	if err := storeWatermark(ctx, tx, last); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	logger.Info().Int64("last_sequence", last).Msg("projection rebuild complete")
	return last, nil
}

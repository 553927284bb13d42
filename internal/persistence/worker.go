package persistence

import (
	"GameLedger/internal/core"
	"GameLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The engine sends on that channel with a blocking send, so if this worker
// falls behind the engine stalls and no event is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	forward      chan<- core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	lastPersisted atomic.Int64
}

// WorkerOptions configures NewPersistenceWorker.
type WorkerOptions struct {
	BatchSize    int
	FlushTimeout time.Duration

	// Forward, when set, receives every output after its batch commits.
	// Sends are non-blocking; a full channel drops the output.
	Forward chan<- core.CoreOutput

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

func NewPersistenceWorker(db *sql.DB, inputChan <-chan core.CoreOutput, opts WorkerOptions) *PersistenceWorker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 10 * time.Millisecond
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		forward:      opts.Forward,
		batchSize:    opts.BatchSize,
		flushTimeout: opts.FlushTimeout,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}
}

// LastPersisted returns the highest sequence known to be committed to
// the event log by this worker.
func (pw *PersistenceWorker) LastPersisted() int64 {
	return pw.lastPersisted.Load()
}

// SetLastPersisted seeds the watermark after recovery.
func (pw *PersistenceWorker) SetLastPersisted(seq int64) {
	pw.lastPersisted.Store(seq)
}

type pendingBatch struct {
	outputs  []core.CoreOutput
	events   []EventRow
	journals []JournalRow
}

func (b *pendingBatch) add(out core.CoreOutput) {
	row, journals := RowsFromOutput(out)
	b.outputs = append(b.outputs, out)
	b.events = append(b.events, row)
	b.journals = append(b.journals, journals...)
}

func (b *pendingBatch) reset() {
	b.outputs = b.outputs[:0]
	b.events = b.events[:0]
	b.journals = b.journals[:0]
}

// Run batches incoming outputs and flushes either when the batch is full
// or the flush timeout expires. It returns when the input channel is
// closed (after a final flush) or ctx is cancelled.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pendingBatch{
		outputs:  make([]core.CoreOutput, 0, pw.batchSize),
		events:   make([]EventRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*2),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			pw.drain(batch)
			if len(batch.events) > 0 {
				if err := pw.commit(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("events", len(batch.events)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch.events) > 0 {
					if err := pw.commit(context.Background(), batch); err != nil {
						pw.logger.Error().Err(err).Int("events", len(batch.events)).Msg("final flush failed")
						return err
					}
				}
				return nil
			}

			batch.add(output)
			if len(batch.events) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch.events) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// drain moves whatever is already buffered in the input channel into the
// batch without blocking.
func (pw *PersistenceWorker) drain(batch *pendingBatch) {
	for {
		select {
		case output, ok := <-pw.inputChan:
			if !ok {
				return
			}
			batch.add(output)
		default:
			return
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt runs on a background
// context. The worker never drops a batch on its own.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pendingBatch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch.events)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.commit(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.commit(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Error().Err(err).Int("attempt", attempt).Msg("persistence flush failed")
	}
}

// commit flushes the batch and, on success, advances the watermark and
// forwards the outputs.
func (pw *PersistenceWorker) commit(ctx context.Context, batch *pendingBatch) error {
	if err := pw.flush(ctx, batch.events, batch.journals); err != nil {
		return err
	}

	last := batch.events[len(batch.events)-1].Sequence
	if last > pw.lastPersisted.Load() {
		pw.lastPersisted.Store(last)
	}

	if pw.forward != nil {
		for _, out := range batch.outputs {
			select {
			case pw.forward <- out:
			default:
				if pw.metrics != nil {
					pw.metrics.PublishDrops.Inc()
				}
			}
		}
	}
	return nil
}

func (pw *PersistenceWorker) flush(ctx context.Context, events []EventRow, journals []JournalRow) error {
	start := time.Now()

	// Events and journals commit together.
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.recordError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.recordError("write_events")
		return err
	}

	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.recordError("write_journals")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.recordError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	}

	return nil
}

func (pw *PersistenceWorker) recordError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}

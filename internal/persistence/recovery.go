package persistence

import (
	"GameLedger/internal/core"
	"GameLedger/internal/event"
	"GameLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// replayBatchSize is how many events are read per query during replay.
const replayBatchSize = 1000

// Recoverable is the engine surface recovery drives.
type Recoverable interface {
	RestoreFromSnapshot(snap *core.SnapshotState) error
	Replay(env *event.EventEnvelope) error
	CheckInvariants() error
	GetSequence() int64
	GetStateHash() [32]byte
}

// RecoveryResult summarizes a Recover run.
type RecoveryResult struct {
	SnapshotSequence int64 // 0 for a cold start
	Replayed         int64
	LastSequence     int64
}

// Recover restores the latest verified snapshot, replays every later
// event and re-checks the invariants. Any mismatch is returned; the
// caller must not serve traffic on a failed recovery.
func Recover(ctx context.Context, sm *SnapshotManager, engine Recoverable, logger zerolog.Logger) (RecoveryResult, error) {
	var res RecoveryResult

	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return res, err
	}
	if snap != nil {
		if err := engine.RestoreFromSnapshot(snap); err != nil {
			return res, fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		res.SnapshotSequence = snap.Sequence
		logger.Info().
			Int64("sequence", snap.Sequence).
			Int("idempotency_keys", len(snap.IdempotencyKeys)).
			Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, replaying from genesis")
	}

	from := engine.GetSequence()
	for {
		rows, err := sm.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return res, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return res, err
			}
			if err := engine.Replay(env); err != nil {
				return res, err
			}
			res.Replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	if err := engine.CheckInvariants(); err != nil {
		return res, fmt.Errorf("invariants after replay: %w", err)
	}

	res.LastSequence = engine.GetSequence() - 1
	logger.Info().
		Int64("replayed", res.Replayed).
		Int64("last_sequence", res.LastSequence).
		Str("state_hash", fmt.Sprintf("%x", engine.GetStateHash())).
		Msg("recovery complete")
	return res, nil
}

// SnapshotSource produces the state to snapshot.
type SnapshotSource interface {
	CreateSnapshotState() *core.SnapshotState
}

// Snapshotter periodically saves engine snapshots once enough new events
// are durable.
type Snapshotter struct {
	manager   *SnapshotManager
	source    SnapshotSource
	persisted func() int64
	interval  int64
	tick      time.Duration
	metrics   *observability.Metrics
	logger    zerolog.Logger

	lastSequence int64
}

// NewSnapshotter takes a snapshot every interval events. persisted reports
// the durable watermark; a snapshot is only marked verified after the log
// has caught up to it.
func NewSnapshotter(manager *SnapshotManager, source SnapshotSource, persisted func() int64, interval int64, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	if interval <= 0 {
		interval = 10_000
	}
	return &Snapshotter{
		manager:   manager,
		source:    source,
		persisted: persisted,
		interval:  interval,
		tick:      10 * time.Second,
		metrics:   metrics,
		logger:    logger,
	}
}

// SetLastSequence records the sequence of the snapshot recovery started
// from.
func (s *Snapshotter) SetLastSequence(seq int64) {
	s.lastSequence = seq
}

// Run checks on every tick whether a snapshot is due. The shutdown
// snapshot is left to the caller, once the persistence worker has drained.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.persisted()-s.lastSequence < s.interval {
				continue
			}
			if err := s.TakeSnapshot(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}

// TakeSnapshot captures and stores the current state. The snapshot is
// verified only if its sequence is already durable; otherwise it stays
// unverified and is ignored by recovery.
func (s *Snapshotter) TakeSnapshot(ctx context.Context) error {
	start := time.Now()

	snap := s.source.CreateSnapshotState()
	if snap.Sequence <= 0 || snap.Sequence == s.lastSequence {
		return nil
	}

	size, err := s.manager.SaveSnapshot(ctx, snap)
	if err != nil {
		return err
	}

	if s.persisted() < snap.Sequence {
		s.logger.Info().Int64("sequence", snap.Sequence).Msg("snapshot saved ahead of the event log, left unverified")
		return nil
	}
	if err := s.manager.MarkVerified(ctx, snap.Sequence); err != nil {
		return err
	}
	s.lastSequence = snap.Sequence

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	s.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("size_bytes", size).
		Dur("took", time.Since(start)).
		Msg("snapshot saved")
	return nil
}

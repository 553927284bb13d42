package core

import (
	"GameLedger/internal/observability"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
)

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU
// of receipts, then a Postgres lookup of the event log.
type IdempotencyChecker struct {
	cache     *lru.Cache
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup.
// It returns the first sequence written under key.
type DBIdempotencyChecker interface {
	LookupIdempotencyKey(key string) (sequence int64, found bool, err error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) (*IdempotencyChecker, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("create idempotency cache: %w", err)
	}
	return &IdempotencyChecker{
		cache:     cache,
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Lookup returns the receipt recorded for ref, if any. A DB-only hit
// yields a receipt that knows the sequence but not the events.
func (ic *IdempotencyChecker) Lookup(ref string) (*Receipt, bool) {
	if v, ok := ic.cache.Get(ref); ok {
		ic.recordDuplicate("lru")
		return v.(*Receipt).asDuplicate(), true
	}

	if ic.dbChecker == nil {
		return nil, false
	}

	seq, found, err := ic.dbChecker.LookupIdempotencyKey(ref)
	if err != nil {
		// A DB outage must not stall the engine; the unique index on
		// event_log.events still rejects a second write of the same event.
		ic.logger.Warn().Err(err).Str("key", ref).Msg("tier-2 idempotency lookup failed")
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		return nil, false
	}
	if !found {
		return nil, false
	}

	ic.recordDuplicate("postgres")
	r := &Receipt{IdempotencyKey: ref, Sequences: []int64{seq}, partial: true}
	ic.cache.Add(ref, r)
	return r.asDuplicate(), true
}

// MarkProcessed records the receipt of a committed call.
func (ic *IdempotencyChecker) MarkProcessed(ref string, r *Receipt) {
	ic.cache.Add(ref, r)
}

// markReplayed records a sequence seen while replaying the log.
func (ic *IdempotencyChecker) markReplayed(ref string, seq int64) {
	if v, ok := ic.cache.Peek(ref); ok {
		r := v.(*Receipt)
		r.Sequences = append(r.Sequences, seq)
		return
	}
	ic.cache.Add(ref, &Receipt{IdempotencyKey: ref, Sequences: []int64{seq}, partial: true})
}

// Warm loads keys from a snapshot so recent duplicates skip the DB.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, k := range keys {
		if !ic.cache.Contains(k) {
			ic.cache.Add(k, &Receipt{IdempotencyKey: k, partial: true})
		}
	}
}

// Keys returns cached keys from oldest to newest.
func (ic *IdempotencyChecker) Keys() []string {
	raw := ic.cache.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(string))
	}
	return keys
}

func (ic *IdempotencyChecker) recordDuplicate(tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(tier).Inc()
	}
}

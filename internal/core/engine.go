package core

import (
	"GameLedger/internal/apperr"
	"GameLedger/internal/event"
	"GameLedger/internal/guard"
	"GameLedger/internal/ledger"
	"GameLedger/internal/observability"
	"GameLedger/internal/pool"
	"GameLedger/internal/registry"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultIdempotencyCapacity = 100_000

	// invariantCheckInterval is how often (in sequences) the full
	// supply and pool invariants are re-verified.
	invariantCheckInterval = 1000

	// maxCallEvents is the most events a single call emits (an allocation
	// plus its mint).
	maxCallEvents = 2
)

// Engine is the single-writer ledger core. Every mutation holds the write
// lock for the whole call: it validates, builds events, then applies them
// through applyEvent, which is the same code replay uses.
type Engine struct {
	mu sync.RWMutex

	sequence    int64
	hasher      *StateHasher
	balances    *ledger.BalanceTracker
	journalGen  *ledger.JournalGenerator
	validator   *ledger.InvariantValidator
	registry    *registry.Registry
	idempotency *IdempotencyChecker
	random      pool.RandomSource
	clock       func() time.Time
	metrics     *observability.Metrics
	logger      zerolog.Logger

	initialized bool
	admin       ledger.Address
	token       ledger.TokenInfo

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one committed event as handed to the persistence and
// projection workers.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Event    event.Event
	Batch    *ledger.Batch
}

// Options configures NewEngine. Zero values pick defaults.
type Options struct {
	StartSequence       int64
	PersistChan         chan<- CoreOutput
	ProjectionChan      chan<- CoreOutput
	DBChecker           DBIdempotencyChecker
	IdempotencyCapacity int
	Random              pool.RandomSource
	Clock               func() time.Time
	Metrics             *observability.Metrics
	Logger              zerolog.Logger
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.StartSequence <= 0 {
		opts.StartSequence = 1
	}
	if opts.IdempotencyCapacity <= 0 {
		opts.IdempotencyCapacity = defaultIdempotencyCapacity
	}
	if opts.PersistChan != nil && cap(opts.PersistChan) < maxCallEvents {
		return nil, fmt.Errorf("persist channel capacity %d is below %d", cap(opts.PersistChan), maxCallEvents)
	}
	if opts.Random == nil {
		opts.Random = pool.CryptoSource{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	idem, err := NewIdempotencyChecker(opts.IdempotencyCapacity, opts.DBChecker, opts.Metrics, opts.Logger)
	if err != nil {
		return nil, err
	}

	balances := ledger.NewBalanceTracker()
	return &Engine{
		sequence:       opts.StartSequence,
		hasher:         NewStateHasher(),
		balances:       balances,
		journalGen:     ledger.NewJournalGenerator(),
		validator:      ledger.NewInvariantValidator(balances),
		registry:       registry.New(),
		idempotency:    idem,
		random:         opts.Random,
		clock:          opts.Clock,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		persistChan:    opts.PersistChan,
		projectionChan: opts.ProjectionChan,
	}, nil
}

// CallOption adjusts a single engine call.
type CallOption func(*callOptions)

type callOptions struct {
	idempotencyKey string
}

// WithIdempotencyKey makes a call safe to retry: a repeated key for the
// same operation returns the first call's receipt without re-executing.
func WithIdempotencyKey(key string) CallOption {
	return func(o *callOptions) {
		o.idempotencyKey = key
	}
}

// Receipt describes what a committed call did.
type Receipt struct {
	IdempotencyKey string
	Events         []event.Event
	Sequences      []int64
	StateHash      [32]byte

	// AssetID is set by calls that mint an asset.
	AssetID uint64

	// Duplicate is true when the receipt was served from the idempotency
	// store instead of executing the call.
	Duplicate bool

	// partial receipts know only the key and sequences (replay, snapshot
	// warm-up, Postgres lookup).
	partial bool
}

func (r *Receipt) asDuplicate() *Receipt {
	c := *r
	c.Events = append([]event.Event(nil), r.Events...)
	c.Sequences = append([]int64(nil), r.Sequences...)
	c.Duplicate = true
	return &c
}

// buildFunc validates a call against current state and returns the events
// that carry it out. It must not mutate state.
type buildFunc func(now time.Time) ([]event.Event, error)

// access says who may run an operation at all. Finer checks (ownership,
// balances) stay in the build step.
type access int

const (
	openAccess access = iota
	adminOnly
)

func (e *Engine) now() time.Time {
	return e.clock().UTC().Truncate(time.Microsecond)
}

// idempotencyRef scopes a client key to the operation and the caller, so
// one caller's key never answers for another's request.
func idempotencyRef(op string, caller ledger.Address, key string) string {
	return op + ":" + caller.String() + ":" + key
}

// execute runs one mutation under the write lock. Authorization runs
// before the idempotency lookup; a rejected caller never sees a stored
// receipt.
func (e *Engine) execute(op string, caller ledger.Address, acc access, opts []CallOption, build buildFunc) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	var co callOptions
	for _, o := range opts {
		o(&co)
	}

	if op != opInitialize && !e.initialized {
		e.recordRejected(op, apperr.ErrNotInitialized)
		return nil, apperr.ErrNotInitialized
	}
	if acc == adminOnly {
		if err := guard.RequireAdmin(caller, e.admin); err != nil {
			e.recordRejected(op, err)
			return nil, err
		}
	}

	keyed := co.idempotencyKey != ""
	key := co.idempotencyKey
	if !keyed {
		key = uuid.NewString()
	}
	ref := idempotencyRef(op, caller, key)

	if keyed {
		if r, ok := e.idempotency.Lookup(ref); ok {
			if r.partial {
				return r, apperr.WithMetadata(apperr.CodeDuplicateRequest, "request already processed", map[string]string{
					"idempotency_key": ref,
				})
			}
			return r, nil
		}
	}

	events, err := build(e.now())
	if err != nil {
		e.recordRejected(op, err)
		return nil, err
	}
	if err := e.checkPersistHeadroom(len(events)); err != nil {
		e.recordRejected(op, err)
		return nil, err
	}

	receipt := e.commit(ref, events)
	if keyed {
		e.idempotency.MarkProcessed(ref, receipt)
	}

	if e.metrics != nil {
		e.metrics.CoreOpsApplied.WithLabelValues(op).Inc()
		e.metrics.CoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		e.metrics.TokenSupply.Set(float64(e.balances.TotalSupply()))
	}
	return receipt, nil
}

// checkPersistHeadroom fails the call before anything is applied when the
// persist channel cannot take all of its events. The engine is the only
// sender and holds the write lock, so the sends in emit cannot block.
func (e *Engine) checkPersistHeadroom(n int) error {
	if e.persistChan == nil || n == 0 {
		return nil
	}
	if len(e.persistChan)+n > cap(e.persistChan) {
		if e.metrics != nil {
			e.metrics.PersistBackpressure.Inc()
		}
		return apperr.WithMetadata(apperr.CodeUnavailable, "persistence is behind, retry later", map[string]string{
			"queued":   strconv.Itoa(len(e.persistChan)),
			"capacity": strconv.Itoa(cap(e.persistChan)),
		})
	}
	return nil
}

func (e *Engine) recordRejected(op string, err error) {
	code := apperr.CodeOf(err)
	e.logger.Debug().Str("op", op).Str("code", string(code)).Err(err).Msg("operation rejected")
	if e.metrics != nil {
		e.metrics.CoreOpsRejected.WithLabelValues(op, string(code)).Inc()
	}
}

// commit assigns sequences, applies, hashes and emits each event. Any
// failure here means validation missed something and state can no longer
// be trusted.
func (e *Engine) commit(ref string, events []event.Event) *Receipt {
	receipt := &Receipt{
		IdempotencyKey: ref,
		Events:         events,
		StateHash:      e.hasher.GetPrevHash(),
	}
	outputs := make([]CoreOutput, 0, len(events))

	for _, evt := range events {
		payload, err := event.Encode(evt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: %v", err))
		}

		seq := e.sequence
		batch, err := e.applyEvent(evt, ref, seq)
		if err != nil {
			panic(fmt.Sprintf("FATAL: apply %s at sequence %d: %v", evt.EventType(), seq, err))
		}

		prevHash := e.hasher.GetPrevHash()
		stateHash := e.hasher.ComputeHash(seq, e.computeStateDigest(evt, payload, batch))

		outputs = append(outputs, CoreOutput{
			Envelope: &event.EventEnvelope{
				Sequence:       seq,
				IdempotencyKey: ref,
				EventType:      evt.EventType(),
				Collection:     evt.CollectionName(),
				Timestamp:      evt.OccurredAt(),
				Payload:        payload,
				StateHash:      stateHash,
				PrevHash:       prevHash,
			},
			Event: evt,
			Batch: batch,
		})

		receipt.Sequences = append(receipt.Sequences, seq)
		receipt.StateHash = stateHash
		if minted, ok := evt.(*event.AssetMinted); ok {
			receipt.AssetID = minted.AssetID
		}

		e.sequence++
		if seq%invariantCheckInterval == 0 {
			e.checkInvariants(seq)
		}
	}

	e.emit(outputs)
	return receipt
}

// emit hands outputs to the workers. Persistence never drops: headroom
// was reserved by checkPersistHeadroom. Projections drop on a full channel
// and rebuild from the log.
func (e *Engine) emit(outputs []CoreOutput) {
	for _, out := range outputs {
		if e.persistChan != nil {
			e.persistChan <- out
		}
		if e.projectionChan != nil {
			select {
			case e.projectionChan <- out:
			default:
				if e.metrics != nil {
					e.metrics.ProjectionDrops.Inc()
				}
			}
		}
		if e.metrics != nil {
			e.metrics.CoreEvents.WithLabelValues(out.Envelope.EventType.String()).Inc()
		}
	}
}

func (e *Engine) checkInvariants(seq int64) {
	if err := e.validator.ValidateSupply(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated at sequence %d: %v", seq, err))
	}
	for _, name := range e.registry.Names() {
		coll, _ := e.registry.Collection(name)
		if err := coll.Pool().CheckInvariants(); err != nil {
			panic(fmt.Sprintf("FATAL: pool %s invariant violated at sequence %d: %v", name, seq, err))
		}
	}
}

// --- Reads ---

// GetSequence returns the next sequence number to be assigned.
func (e *Engine) GetSequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequence
}

// LastSequence returns the sequence of the last committed event.
func (e *Engine) LastSequence() int64 {
	return e.GetSequence() - 1
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hasher.GetPrevHash()
}

func (e *Engine) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// Admin returns the ledger owner.
func (e *Engine) Admin() ledger.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.admin
}

// Balance returns the token balance of account; unknown accounts hold 0.
func (e *Engine) Balance(account ledger.Address) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances.GetBalance(account)
}

// Metadata returns the token description and total supply.
func (e *Engine) Metadata() ledger.Metadata {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ledger.Metadata{TokenInfo: e.token, TotalSupply: e.balances.TotalSupply()}
}

// AvailableCount returns how many pool ids remain in collection.
func (e *Engine) AvailableCount(collection string) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	coll, err := e.registry.Collection(collection)
	if err != nil {
		return 0, err
	}
	return coll.Pool().AvailableCount(), nil
}

// IsUsed reports whether a pool id has been allocated. Zero and ids above
// capacity report true.
func (e *Engine) IsUsed(collection string, id uint64) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	coll, err := e.registry.Collection(collection)
	if err != nil {
		return false, err
	}
	return coll.Pool().IsUsed(id), nil
}

func (e *Engine) AttributesOf(collection string, id uint64) (registry.Attributes, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	coll, err := e.registry.Collection(collection)
	if err != nil {
		return registry.Attributes{}, err
	}
	return coll.AttributesOf(id)
}

func (e *Engine) OwnerOf(collection string, id uint64) (ledger.Address, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	coll, err := e.registry.Collection(collection)
	if err != nil {
		return "", err
	}
	return coll.OwnerOf(id)
}

// Asset returns a copy of the live record for id.
func (e *Engine) Asset(collection string, id uint64) (registry.Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	coll, err := e.registry.Collection(collection)
	if err != nil {
		return registry.Record{}, err
	}
	rec, err := coll.Record(id)
	if err != nil {
		return registry.Record{}, err
	}
	return *rec, nil
}

func (e *Engine) Collection(name string) (registry.Info, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	coll, err := e.registry.Collection(name)
	if err != nil {
		return registry.Info{}, err
	}
	return coll.Info(), nil
}

// Collections lists every collection in name order.
func (e *Engine) Collections() []registry.Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := e.registry.Names()
	out := make([]registry.Info, 0, len(names))
	for _, name := range names {
		coll, _ := e.registry.Collection(name)
		out = append(out, coll.Info())
	}
	return out
}

// AssetsOwnedBy lists live assets of owner across all collections.
func (e *Engine) AssetsOwnedBy(owner ledger.Address) []registry.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []registry.Record
	for _, name := range e.registry.Names() {
		coll, _ := e.registry.Collection(name)
		out = append(out, coll.RecordsOwnedBy(owner)...)
	}
	return out
}

func assetMeta(collection string, id uint64) map[string]string {
	return map[string]string{
		"collection": collection,
		"asset_id":   strconv.FormatUint(id, 10),
	}
}

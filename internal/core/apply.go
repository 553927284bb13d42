package core

import (
	"GameLedger/internal/event"
	"GameLedger/internal/ledger"
	"GameLedger/internal/pool"
	"GameLedger/internal/registry"
	"encoding/binary"
	"fmt"
	"sort"
)

// applyEvent mutates state for one event. Live calls and replay both go
// through here, so the log alone reproduces state.
func (e *Engine) applyEvent(evt event.Event, ref string, seq int64) (*ledger.Batch, error) {
	ts := evt.OccurredAt().UnixMicro()

	switch ev := evt.(type) {
	case *event.LedgerInitialized:
		if e.initialized {
			return nil, fmt.Errorf("ledger already initialized")
		}
		e.initialized = true
		e.admin = ev.Admin
		e.token = ev.Token
		return nil, nil

	case *event.CollectionCreated:
		if err := e.registry.Create(ev.Name, ev.Description, ev.URI, ev.Creator, ev.Capacity, ev.Time); err != nil {
			return nil, err
		}
		e.observePool(ev.Name)
		return nil, nil

	case *event.TokenMinted:
		return e.applyBatch(e.journalGen.GenerateMint(ev.To, ev.Amount, ref, seq, ts))

	case *event.TokenBurned:
		return e.applyBatch(e.journalGen.GenerateBurn(ev.From, ev.Amount, ref, seq, ts))

	case *event.TokenTransferred:
		return e.applyBatch(e.journalGen.GenerateTransfer(ev.From, ev.To, ev.Amount, ref, seq, ts))

	case *event.PlayerRewarded:
		return e.applyBatch(e.journalGen.GenerateReward(ev.Player, ev.Amount, ref, seq, ts))

	case *event.AssetAllocated:
		coll, err := e.registry.Collection(ev.Collection)
		if err != nil {
			return nil, err
		}
		coll.Pool().Take(pool.Selection{ID: ev.AssetID, Index: ev.Index})
		e.observePool(ev.Collection)
		return nil, nil

	case *event.AssetMinted:
		coll, err := e.registry.Collection(ev.Collection)
		if err != nil {
			return nil, err
		}
		return nil, coll.PutRecord(&registry.Record{
			Collection: ev.Collection,
			ID:         ev.AssetID,
			Owner:      ev.Owner,
			Creator:    ev.Creator,
			Attributes: ev.Attributes,
			MintedAt:   ev.Time,
		})

	case *event.AssetTransferred:
		coll, err := e.registry.Collection(ev.Collection)
		if err != nil {
			return nil, err
		}
		return nil, coll.SetOwner(ev.AssetID, ev.To)

	case *event.AssetBurned:
		coll, err := e.registry.Collection(ev.Collection)
		if err != nil {
			return nil, err
		}
		return nil, coll.DeleteRecord(ev.AssetID)

	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (e *Engine) applyBatch(batch *ledger.Batch) (*ledger.Batch, error) {
	if len(batch.Journals) == 0 {
		return batch, nil
	}
	if err := e.validator.ValidateBatchBalance(batch); err != nil {
		return nil, err
	}
	if err := e.balances.ApplyBatch(batch); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		for _, j := range batch.Journals {
			e.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	return batch, nil
}

func (e *Engine) observePool(collection string) {
	if e.metrics == nil {
		return
	}
	if coll, err := e.registry.Collection(collection); err == nil {
		e.metrics.PoolAvailable.WithLabelValues(collection).Set(float64(coll.Pool().AvailableCount()))
	}
}

// computeStateDigest creates canonical bytes for the state hash: the event
// itself, the post-event balances of every account it touched, total
// supply, and the pool size of its collection.
func (e *Engine) computeStateDigest(evt event.Event, payload []byte, batch *ledger.Batch) []byte {
	digest := make([]byte, 0, len(payload)+128)
	digest = append(digest, byte(evt.EventType()))
	digest = binary.LittleEndian.AppendUint32(digest, uint32(len(payload)))
	digest = append(digest, payload...)

	if batch != nil {
		affected := make(map[ledger.AccountKey]bool)
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
		accounts := make([]ledger.AccountKey, 0, len(affected))
		for key := range affected {
			accounts = append(accounts, key)
		}
		sort.Slice(accounts, func(i, j int) bool {
			return accounts[i].AccountPath() < accounts[j].AccountPath()
		})
		for _, key := range accounts {
			path := key.AccountPath()
			digest = append(digest, byte(len(path)))
			digest = append(digest, path...)
			digest = binary.LittleEndian.AppendUint64(digest, e.balances.GetAccountBalance(key))
		}
	}

	digest = binary.LittleEndian.AppendUint64(digest, e.balances.TotalSupply())

	if name := evt.CollectionName(); name != "" {
		if coll, err := e.registry.Collection(name); err == nil {
			digest = binary.LittleEndian.AppendUint64(digest, coll.Pool().AvailableCount())
		}
	}
	return digest
}

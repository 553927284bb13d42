package core

import (
	"GameLedger/internal/apperr"
	"GameLedger/internal/event"
	"GameLedger/internal/guard"
	"GameLedger/internal/ledger"
	"GameLedger/internal/pool"
	"GameLedger/internal/registry"
	"fmt"
	"time"
)

// Operation names, used for metrics labels and idempotency scoping.
const (
	opInitialize         = "initialize"
	opCreateCollection   = "create_collection"
	opMint               = "mint"
	opBurn               = "burn"
	opTransfer           = "transfer"
	opRewardNewPlayer    = "reward_new_player"
	opAllocateSecure     = "allocate_secure"
	opAllocateFallback   = "allocate_fallback"
	opMintWithAttributes = "mint_with_attributes"
	opTransferAsset      = "transfer_asset"
	opBurnAsset          = "burn_asset"
)

// CollectionSpec describes a collection to create.
type CollectionSpec struct {
	Name        string
	Description string
	URI         string
	Capacity    uint64
}

func invalidAmount() error {
	return apperr.New(apperr.CodeInvalidAmount, "amount must be positive")
}

// Initialize sets the admin and token description. It must be the first
// call on a fresh ledger and can happen only once.
func (e *Engine) Initialize(admin ledger.Address, token ledger.TokenInfo, opts ...CallOption) (*Receipt, error) {
	return e.execute(opInitialize, admin, openAccess, opts, func(now time.Time) ([]event.Event, error) {
		if e.initialized {
			return nil, apperr.ErrAlreadyInitialized
		}
		if admin == "" {
			return nil, apperr.New(apperr.CodeInvalidAddress, "admin address is required")
		}
		def := ledger.DefaultTokenInfo()
		if token.Name == "" {
			token.Name = def.Name
		}
		if token.Symbol == "" {
			token.Symbol = def.Symbol
		}
		if token.Decimals == 0 {
			token.Decimals = def.Decimals
		}
		if token.Decimals != def.Decimals {
			return nil, apperr.WithMetadata(apperr.CodeInvalidArgument, "unsupported token decimals",
				map[string]string{"decimals": fmt.Sprint(token.Decimals)})
		}
		return []event.Event{&event.LedgerInitialized{Admin: admin, Token: token, Time: now}}, nil
	})
}

// CreateCollection adds an asset collection with a pool of cs.Capacity ids.
func (e *Engine) CreateCollection(caller ledger.Address, cs CollectionSpec, opts ...CallOption) (*Receipt, error) {
	return e.execute(opCreateCollection, caller, adminOnly, opts, func(now time.Time) ([]event.Event, error) {
		if err := e.registry.CheckCreate(cs.Name, cs.URI, cs.Capacity); err != nil {
			return nil, err
		}
		return []event.Event{&event.CollectionCreated{
			Name:        cs.Name,
			Description: cs.Description,
			URI:         cs.URI,
			Capacity:    cs.Capacity,
			Creator:     caller,
			Time:        now,
		}}, nil
	})
}

// Mint issues new tokens to an account. Admin only.
func (e *Engine) Mint(caller, to ledger.Address, amount uint64, opts ...CallOption) (*Receipt, error) {
	return e.execute(opMint, caller, adminOnly, opts, func(now time.Time) ([]event.Event, error) {
		if amount == 0 {
			return nil, invalidAmount()
		}
		if err := e.balances.CheckCredit(to, amount); err != nil {
			return nil, err
		}
		if err := e.balances.CheckIssue(amount); err != nil {
			return nil, err
		}
		return []event.Event{&event.TokenMinted{To: to, Amount: amount, Time: now}}, nil
	})
}

// Burn destroys tokens from the admin's own balance.
func (e *Engine) Burn(caller ledger.Address, amount uint64, opts ...CallOption) (*Receipt, error) {
	return e.execute(opBurn, caller, adminOnly, opts, func(now time.Time) ([]event.Event, error) {
		if amount == 0 {
			return nil, invalidAmount()
		}
		if err := e.balances.CheckDebit(caller, amount); err != nil {
			return nil, err
		}
		return []event.Event{&event.TokenBurned{From: caller, Amount: amount, Time: now}}, nil
	})
}

// Transfer moves tokens between accounts. A transfer to self needs the
// balance but changes nothing.
func (e *Engine) Transfer(from, to ledger.Address, amount uint64, opts ...CallOption) (*Receipt, error) {
	return e.execute(opTransfer, from, openAccess, opts, func(now time.Time) ([]event.Event, error) {
		if amount == 0 {
			return nil, invalidAmount()
		}
		if err := e.balances.CheckDebit(from, amount); err != nil {
			return nil, err
		}
		if from != to {
			if err := e.balances.CheckCredit(to, amount); err != nil {
				return nil, err
			}
		}
		return []event.Event{&event.TokenTransferred{From: from, To: to, Amount: amount, Time: now}}, nil
	})
}

// RewardNewPlayer mints the starter grant to a player whose balance is
// zero. For anyone else it succeeds without doing anything.
func (e *Engine) RewardNewPlayer(caller, player ledger.Address, opts ...CallOption) (*Receipt, error) {
	return e.execute(opRewardNewPlayer, caller, adminOnly, opts, func(now time.Time) ([]event.Event, error) {
		if e.balances.GetBalance(player) != 0 {
			if e.metrics != nil {
				e.metrics.RewardsSkipped.Inc()
			}
			return nil, nil
		}
		if err := e.balances.CheckIssue(ledger.RewardAmount); err != nil {
			return nil, err
		}
		return []event.Event{&event.PlayerRewarded{Player: player, Amount: ledger.RewardAmount, Time: now}}, nil
	})
}

// AllocateSecure takes a pool id chosen by a random circular scan and
// mints it to `to`.
func (e *Engine) AllocateSecure(caller, to ledger.Address, collection string, attrs registry.Attributes, opts ...CallOption) (uint64, *Receipt, error) {
	return e.Allocate(caller, to, collection, pool.PolicySecure, attrs, opts...)
}

// AllocateFallback takes a pool id derived from a hash of the caller and
// time. The choice is predictable.
func (e *Engine) AllocateFallback(caller, to ledger.Address, collection string, attrs registry.Attributes, opts ...CallOption) (uint64, *Receipt, error) {
	return e.Allocate(caller, to, collection, pool.PolicyFallback, attrs, opts...)
}

// Allocate removes one id from the collection pool and mints it in the
// same commit. If the attributes are rejected the pool is untouched.
func (e *Engine) Allocate(caller, to ledger.Address, collection string, policy pool.Policy, attrs registry.Attributes, opts ...CallOption) (uint64, *Receipt, error) {
	var sel pool.Selector
	var op string
	switch policy {
	case pool.PolicySecure:
		sel, op = pool.CircularScan{Source: e.random}, opAllocateSecure
	case pool.PolicyFallback:
		sel, op = pool.HashIndex{}, opAllocateFallback
	default:
		return 0, nil, apperr.WithMetadata(apperr.CodeInvalidArgument, "unknown allocation policy",
			map[string]string{"policy": string(policy)})
	}

	r, err := e.execute(op, caller, adminOnly, opts, func(now time.Time) ([]event.Event, error) {
		coll, err := e.registry.Collection(collection)
		if err != nil {
			return nil, err
		}
		s, err := coll.Pool().Select(sel, pool.Request{Caller: caller, Time: now})
		if err != nil {
			return nil, err
		}
		resolved := coll.ResolveAttributes(s.ID, attrs)
		if err := registry.ValidateAttributes(resolved); err != nil {
			return nil, err
		}
		return []event.Event{
			&event.AssetAllocated{
				Collection: collection,
				AssetID:    s.ID,
				Index:      s.Index,
				Policy:     string(policy),
				Caller:     caller,
				Time:       now,
			},
			&event.AssetMinted{
				Collection: collection,
				AssetID:    s.ID,
				Owner:      to,
				Creator:    caller,
				Attributes: resolved,
				Time:       now,
			},
		}, nil
	})
	if r == nil {
		return 0, nil, err
	}
	return r.AssetID, r, err
}

// MintWithAttributes mints an asset outside the pool, with an id above
// the collection's capacity.
func (e *Engine) MintWithAttributes(creator, to ledger.Address, collection string, attrs registry.Attributes, opts ...CallOption) (uint64, *Receipt, error) {
	r, err := e.execute(opMintWithAttributes, creator, adminOnly, opts, func(now time.Time) ([]event.Event, error) {
		coll, err := e.registry.Collection(collection)
		if err != nil {
			return nil, err
		}
		id := coll.NextDirectID()
		if id == 0 {
			return nil, apperr.WithMetadata(apperr.CodeOverflow, "asset id space exhausted",
				map[string]string{"collection": collection})
		}
		resolved := coll.ResolveAttributes(id, attrs)
		if err := registry.ValidateAttributes(resolved); err != nil {
			return nil, err
		}
		return []event.Event{&event.AssetMinted{
			Collection: collection,
			AssetID:    id,
			Owner:      to,
			Creator:    creator,
			Attributes: resolved,
			Time:       now,
		}}, nil
	})
	if r == nil {
		return 0, nil, err
	}
	return r.AssetID, r, err
}

// TransferAsset moves a live asset from its owner to `to`.
func (e *Engine) TransferAsset(from, to ledger.Address, collection string, id uint64, opts ...CallOption) (*Receipt, error) {
	return e.execute(opTransferAsset, from, openAccess, opts, func(now time.Time) ([]event.Event, error) {
		coll, err := e.registry.Collection(collection)
		if err != nil {
			return nil, err
		}
		if _, err := coll.CheckTransfer(from, id); err != nil {
			return nil, err
		}
		return []event.Event{&event.AssetTransferred{
			Collection: collection,
			AssetID:    id,
			From:       from,
			To:         to,
			Time:       now,
		}}, nil
	})
}

// BurnAsset deletes a live asset. The owner or the admin may burn; the id
// is never reissued.
func (e *Engine) BurnAsset(caller ledger.Address, collection string, id uint64, opts ...CallOption) (*Receipt, error) {
	return e.execute(opBurnAsset, caller, openAccess, opts, func(now time.Time) ([]event.Event, error) {
		coll, err := e.registry.Collection(collection)
		if err != nil {
			return nil, err
		}
		rec, err := coll.Record(id)
		if err != nil {
			return nil, err
		}
		if err := guard.RequireOwnerOrAdmin(caller, rec.Owner, e.admin); err != nil {
			return nil, apperr.WithMetadata(apperr.CodeNotOwner, "caller may not burn asset", assetMeta(collection, id))
		}
		return []event.Event{&event.AssetBurned{
			Collection: collection,
			AssetID:    id,
			Owner:      rec.Owner,
			Burner:     caller,
			Attributes: rec.Attributes,
			Time:       now,
		}}, nil
	})
}

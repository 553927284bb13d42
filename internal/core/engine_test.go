package core_test

import (
	"GameLedger/internal/apperr"
	"GameLedger/internal/core"
	"GameLedger/internal/event"
	"GameLedger/internal/ledger"
	"GameLedger/internal/pool"
	"GameLedger/internal/registry"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// --- Test helpers ---

const (
	testCollection = "heroes"
	testURI        = "ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
)

var (
	admin = ledger.MustParseAddress("0xad")
	alice = ledger.MustParseAddress("0xa1")
	bob   = ledger.MustParseAddress("0xb0")
)

// stepClock returns a clock that advances one millisecond per call.
func stepClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var n int64
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Millisecond)
	}
}

// newBareEngine creates an uninitialized engine with buffered channels,
// a seeded random source and a stepping clock.
func newBareEngine(t *testing.T) (*core.Engine, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	persistCh := make(chan core.CoreOutput, 4096)
	projCh := make(chan core.CoreOutput, 4096)
	e, err := core.NewEngine(core.Options{
		PersistChan:    persistCh,
		ProjectionChan: projCh,
		Random:         pool.NewSeededSource(7),
		Clock:          stepClock(),
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, persistCh, projCh
}

// newTestEngine returns an initialized engine with one collection of the
// given capacity. Setup outputs are left in the channels.
func newTestEngine(t *testing.T, capacity uint64) (*core.Engine, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	e, persistCh, projCh := newBareEngine(t)
	if _, err := e.Initialize(admin, ledger.TokenInfo{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := e.CreateCollection(admin, core.CollectionSpec{
		Name:     testCollection,
		URI:      testURI,
		Capacity: capacity,
	}); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	return e, persistCh, projCh
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case out := <-ch:
			outputs = append(outputs, out)
		default:
			return outputs
		}
	}
}

func mustMint(t *testing.T, e *core.Engine, to ledger.Address, amount uint64) {
	t.Helper()
	if _, err := e.Mint(admin, to, amount); err != nil {
		t.Fatalf("Mint(%s, %d): %v", to.Short(), amount, err)
	}
}

func wantCode(t *testing.T, err error, target *apperr.Error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("got error %v (code %s), want %s", err, apperr.CodeOf(err), target.Code)
	}
}

// ============================================================================
// Test: Token balances
// ============================================================================

func TestMint_CreditsBalanceAndSupply(t *testing.T) {
	e, persistCh, _ := newTestEngine(t, 1)
	drainOutputs(persistCh)

	r, err := e.Mint(admin, alice, 100)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if e.Balance(alice) != 100 {
		t.Errorf("balance: got %d, want 100", e.Balance(alice))
	}
	if got := e.Metadata().TotalSupply; got != 100 {
		t.Errorf("supply: got %d, want 100", got)
	}
	if len(r.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(r.Events))
	}
	minted, ok := r.Events[0].(*event.TokenMinted)
	if !ok || minted.To != alice || minted.Amount != 100 {
		t.Errorf("unexpected event %#v", r.Events[0])
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if outputs[0].Batch == nil || len(outputs[0].Batch.Journals) != 1 {
		t.Fatalf("expected one journal, got %+v", outputs[0].Batch)
	}
	j := outputs[0].Batch.Journals[0]
	if j.DebitAccount != ledger.NewUserAccountKey(alice) || j.CreditAccount != ledger.NewSystemAccountKey(ledger.SubTypeSystemMint) {
		t.Errorf("journal accounts: %s / %s", j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath())
	}
}

func TestMint_NonAdmin_PermissionDenied(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	seq := e.GetSequence()

	_, err := e.Mint(alice, alice, 100)
	wantCode(t, err, apperr.ErrPermissionDenied)

	if e.Balance(alice) != 0 {
		t.Errorf("balance changed on rejected mint")
	}
	if e.GetSequence() != seq {
		t.Errorf("sequence advanced on rejected mint")
	}
}

func TestMint_ZeroAmount_Rejected(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	_, err := e.Mint(admin, alice, 0)
	wantCode(t, err, apperr.ErrInvalidAmount)
}

func TestMint_Overflow(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	mustMint(t, e, alice, math.MaxUint64)

	_, err := e.Mint(admin, alice, 1)
	wantCode(t, err, apperr.ErrOverflow)

	_, err = e.Mint(admin, bob, 1)
	wantCode(t, err, apperr.ErrOverflow)

	if e.Balance(bob) != 0 || e.Metadata().TotalSupply != math.MaxUint64 {
		t.Errorf("state changed on overflow")
	}
}

func TestTransfer_MovesBalance(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	mustMint(t, e, alice, 500)

	if _, err := e.Transfer(alice, bob, 200); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if e.Balance(alice) != 300 || e.Balance(bob) != 200 {
		t.Errorf("balances: alice=%d bob=%d", e.Balance(alice), e.Balance(bob))
	}
	if e.Metadata().TotalSupply != 500 {
		t.Errorf("transfer changed supply")
	}
}

func TestTransfer_InsufficientBalance_LeavesStateUntouched(t *testing.T) {
	e, persistCh, _ := newTestEngine(t, 1)
	mustMint(t, e, alice, 50)
	drainOutputs(persistCh)
	hash := e.GetStateHash()

	_, err := e.Transfer(alice, bob, 51)
	wantCode(t, err, apperr.ErrInsufficientBalance)

	if e.Balance(alice) != 50 || e.Balance(bob) != 0 {
		t.Errorf("balances changed: alice=%d bob=%d", e.Balance(alice), e.Balance(bob))
	}
	if e.GetStateHash() != hash {
		t.Error("state hash changed on rejected transfer")
	}
	if n := len(drainOutputs(persistCh)); n != 0 {
		t.Errorf("expected no outputs, got %d", n)
	}
}

func TestTransfer_ToSelf(t *testing.T) {
	e, persistCh, _ := newTestEngine(t, 1)
	mustMint(t, e, alice, 10)
	drainOutputs(persistCh)

	r, err := e.Transfer(alice, alice, 10)
	if err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if len(r.Events) != 1 || e.Balance(alice) != 10 {
		t.Errorf("events=%d balance=%d", len(r.Events), e.Balance(alice))
	}
	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 || len(outputs[0].Batch.Journals) != 0 {
		t.Errorf("self transfer should log one event with no journals")
	}

	_, err = e.Transfer(alice, alice, 11)
	wantCode(t, err, apperr.ErrInsufficientBalance)
}

func TestBurn_DebitsAdmin(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	mustMint(t, e, admin, 1_000)

	if _, err := e.Burn(admin, 400); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	if e.Balance(admin) != 600 || e.Metadata().TotalSupply != 600 {
		t.Errorf("balance=%d supply=%d", e.Balance(admin), e.Metadata().TotalSupply)
	}

	_, err := e.Burn(admin, 601)
	wantCode(t, err, apperr.ErrInsufficientBalance)

	_, err = e.Burn(alice, 1)
	wantCode(t, err, apperr.ErrPermissionDenied)
}

func TestRoundTrips_RestoreBalances(t *testing.T) {
	cases := []struct {
		name string
		run  func(e *core.Engine) error
	}{
		{
			name: "transfer there and back",
			run: func(e *core.Engine) error {
				if _, err := e.Transfer(alice, bob, 30); err != nil {
					return err
				}
				_, err := e.Transfer(bob, alice, 30)
				return err
			},
		},
		{
			name: "admin mints to self then burns",
			run: func(e *core.Engine) error {
				if _, err := e.Mint(admin, admin, 100); err != nil {
					return err
				}
				_, err := e.Burn(admin, 100)
				return err
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _, _ := newTestEngine(t, 1)
			mustMint(t, e, alice, 100)
			mustMint(t, e, bob, 50)
			mustMint(t, e, admin, 7)
			before := map[ledger.Address]uint64{}
			for _, a := range []ledger.Address{admin, alice, bob} {
				before[a] = e.Balance(a)
			}
			supply := e.Metadata().TotalSupply

			if err := tc.run(e); err != nil {
				t.Fatalf("run: %v", err)
			}

			for a, want := range before {
				if got := e.Balance(a); got != want {
					t.Errorf("balance of %s: got %d, want %d", a.Short(), got, want)
				}
			}
			if got := e.Metadata().TotalSupply; got != supply {
				t.Errorf("supply: got %d, want %d", got, supply)
			}
		})
	}
}

func TestMetadata_DefaultToken(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	md := e.Metadata()
	if md.Name != "Game Token" || md.Symbol != "GAME" || md.Decimals != 8 {
		t.Errorf("metadata: %+v", md)
	}
}

// ============================================================================
// Test: New player reward
// ============================================================================

func TestRewardNewPlayer_OnlyOnce(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)

	r, err := e.RewardNewPlayer(admin, alice)
	if err != nil {
		t.Fatalf("first reward: %v", err)
	}
	if len(r.Events) != 1 {
		t.Fatalf("expected PlayerRewarded, got %d events", len(r.Events))
	}
	if e.Balance(alice) != 650*100_000_000 {
		t.Errorf("balance: got %d", e.Balance(alice))
	}

	seq := e.GetSequence()
	r, err = e.RewardNewPlayer(admin, alice)
	if err != nil {
		t.Fatalf("second reward: %v", err)
	}
	if len(r.Events) != 0 || e.GetSequence() != seq {
		t.Errorf("second reward should be a no-op")
	}
	if e.Balance(alice) != ledger.RewardAmount {
		t.Errorf("balance changed: %d", e.Balance(alice))
	}
}

func TestRewardNewPlayer_SkipsFundedPlayer(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	mustMint(t, e, alice, 10)
	if _, err := e.Transfer(alice, bob, 1); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	r, err := e.RewardNewPlayer(admin, bob)
	if err != nil {
		t.Fatalf("reward: %v", err)
	}
	if len(r.Events) != 0 || e.Balance(bob) != 1 {
		t.Errorf("funded player was rewarded: balance=%d", e.Balance(bob))
	}
}

func TestRewardNewPlayer_NonAdmin(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	_, err := e.RewardNewPlayer(alice, bob)
	wantCode(t, err, apperr.ErrPermissionDenied)
}

// ============================================================================
// Test: Asset pool
// ============================================================================

func TestAllocateSecure_DrainsPoolWithoutDuplicates(t *testing.T) {
	const capacity = 10
	e, _, _ := newTestEngine(t, capacity)

	seen := make(map[uint64]bool)
	for i := 0; i < capacity; i++ {
		id, _, err := e.AllocateSecure(admin, bob, testCollection, registry.Attributes{Rarity: 5})
		if err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
		if id < 1 || id > capacity || seen[id] {
			t.Fatalf("allocation %d returned id %d (seen=%v)", i, id, seen[id])
		}
		seen[id] = true

		used, _ := e.IsUsed(testCollection, id)
		if !used {
			t.Errorf("id %d not marked used", id)
		}
		owner, err := e.OwnerOf(testCollection, id)
		if err != nil || owner != bob {
			t.Errorf("owner of %d: %s %v", id, owner, err)
		}
	}

	if n, _ := e.AvailableCount(testCollection); n != 0 {
		t.Errorf("available: got %d, want 0", n)
	}
	_, _, err := e.AllocateSecure(admin, bob, testCollection, registry.Attributes{})
	wantCode(t, err, apperr.ErrPoolExhausted)
}

func TestAllocateFallback_DrainsPoolWithoutDuplicates(t *testing.T) {
	const capacity = 5
	e, _, _ := newTestEngine(t, capacity)

	seen := make(map[uint64]bool)
	for i := 0; i < capacity; i++ {
		id, r, err := e.AllocateFallback(admin, alice, testCollection, registry.Attributes{})
		if err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("id %d allocated twice", id)
		}
		seen[id] = true
		if len(r.Events) != 2 {
			t.Fatalf("expected AssetAllocated+AssetMinted, got %d events", len(r.Events))
		}
		if _, ok := r.Events[0].(*event.AssetAllocated); !ok {
			t.Errorf("first event: %T", r.Events[0])
		}
	}
	_, _, err := e.AllocateFallback(admin, alice, testCollection, registry.Attributes{})
	wantCode(t, err, apperr.ErrPoolExhausted)
}

func TestAllocate_InterleavedPoliciesShareOnePool(t *testing.T) {
	const capacity = 9
	e, _, _ := newTestEngine(t, capacity)

	seen := make(map[uint64]bool)
	for i := 0; i < capacity; i++ {
		var id uint64
		var err error
		if i%2 == 0 {
			id, _, err = e.AllocateSecure(admin, alice, testCollection, registry.Attributes{})
		} else {
			id, _, err = e.AllocateFallback(admin, bob, testCollection, registry.Attributes{})
		}
		if err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
		if id < 1 || id > capacity || seen[id] {
			t.Fatalf("allocation %d returned id %d (seen=%v)", i, id, seen[id])
		}
		seen[id] = true
		if n, _ := e.AvailableCount(testCollection); n != uint64(capacity-i-1) {
			t.Fatalf("available after %d allocations: got %d", i+1, n)
		}
	}

	_, _, err := e.AllocateSecure(admin, alice, testCollection, registry.Attributes{})
	wantCode(t, err, apperr.ErrPoolExhausted)
	_, _, err = e.AllocateFallback(admin, bob, testCollection, registry.Attributes{})
	wantCode(t, err, apperr.ErrPoolExhausted)
	if err := e.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestAllocate_DefaultAttributes(t *testing.T) {
	e, _, _ := newTestEngine(t, 3)
	id, _, err := e.AllocateSecure(admin, bob, testCollection, registry.Attributes{Rarity: 100, Skill: 0})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	attrs, err := e.AttributesOf(testCollection, id)
	if err != nil {
		t.Fatalf("AttributesOf: %v", err)
	}
	rec, _ := e.Asset(testCollection, id)
	if rec.Creator != admin {
		t.Errorf("creator: %s", rec.Creator)
	}
	if attrs.Rarity != 100 || attrs.Name == "" || attrs.URI == "" {
		t.Errorf("attributes: %+v", attrs)
	}
}

func TestAllocate_InvalidAttributes_PoolUntouched(t *testing.T) {
	e, _, _ := newTestEngine(t, 4)

	_, _, err := e.AllocateSecure(admin, bob, testCollection, registry.Attributes{Rarity: 101})
	wantCode(t, err, apperr.ErrInvalidAttribute)

	_, _, err = e.AllocateFallback(admin, bob, testCollection, registry.Attributes{URI: "http://example.com/x.json"})
	wantCode(t, err, apperr.ErrInvalidURI)

	if n, _ := e.AvailableCount(testCollection); n != 4 {
		t.Errorf("available: got %d, want 4", n)
	}
	for id := uint64(1); id <= 4; id++ {
		if used, _ := e.IsUsed(testCollection, id); used {
			t.Errorf("id %d marked used after rejected allocation", id)
		}
	}
}

func TestAllocate_NonAdminAndUnknownCollection(t *testing.T) {
	e, _, _ := newTestEngine(t, 4)

	_, _, err := e.AllocateSecure(alice, alice, testCollection, registry.Attributes{})
	wantCode(t, err, apperr.ErrPermissionDenied)

	_, _, err = e.AllocateSecure(admin, alice, "villains", registry.Attributes{})
	wantCode(t, err, apperr.ErrNotFound)

	_, _, err = e.Allocate(admin, alice, testCollection, pool.Policy("lottery"), registry.Attributes{})
	wantCode(t, err, apperr.ErrInvalidArgument)
}

func TestIsUsed_OutOfRange(t *testing.T) {
	e, _, _ := newTestEngine(t, 4)
	for _, id := range []uint64{0, 5, math.MaxUint64} {
		if used, _ := e.IsUsed(testCollection, id); !used {
			t.Errorf("IsUsed(%d) = false", id)
		}
	}
}

func TestCreateCollection_Duplicate(t *testing.T) {
	e, _, _ := newTestEngine(t, 4)
	_, err := e.CreateCollection(admin, core.CollectionSpec{Name: testCollection, Capacity: 1})
	wantCode(t, err, apperr.ErrCollectionExists)

	_, err = e.CreateCollection(alice, core.CollectionSpec{Name: "other", Capacity: 1})
	wantCode(t, err, apperr.ErrPermissionDenied)

	if len(e.Collections()) != 1 {
		t.Errorf("collections: %d", len(e.Collections()))
	}
}

func TestCreateCollection_CapacityBounds(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	for _, capacity := range []uint64{0, pool.MaxCapacity + 1} {
		_, err := e.CreateCollection(admin, core.CollectionSpec{Name: "villains", Capacity: capacity})
		wantCode(t, err, apperr.ErrInvalidArgument)
	}
	if _, err := e.Collection("villains"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("rejected collection was created: %v", err)
	}
	if _, err := e.CreateCollection(admin, core.CollectionSpec{Name: "villains", Capacity: 1}); err != nil {
		t.Fatalf("capacity 1: %v", err)
	}
}

// ============================================================================
// Test: Asset registry
// ============================================================================

func TestMintWithAttributes_UsesIDsAboveCapacity(t *testing.T) {
	e, _, _ := newTestEngine(t, 3)

	attrs := registry.Attributes{Name: "Sword", URI: "ar://abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQ", Rarity: 7, Skill: 42}
	id1, _, err := e.MintWithAttributes(admin, alice, testCollection, attrs)
	if err != nil {
		t.Fatalf("MintWithAttributes: %v", err)
	}
	id2, _, err := e.MintWithAttributes(admin, alice, testCollection, attrs)
	if err != nil {
		t.Fatalf("MintWithAttributes: %v", err)
	}
	if id1 != 4 || id2 != 5 {
		t.Errorf("ids: got %d,%d want 4,5", id1, id2)
	}
	if n, _ := e.AvailableCount(testCollection); n != 3 {
		t.Errorf("direct mint touched pool: available=%d", n)
	}

	got, err := e.AttributesOf(testCollection, id1)
	if err != nil || got != attrs {
		t.Errorf("attributes: got %+v (%v), want %+v", got, err, attrs)
	}
}

func TestMintWithAttributes_Validation(t *testing.T) {
	e, _, _ := newTestEngine(t, 3)

	_, _, err := e.MintWithAttributes(admin, alice, testCollection, registry.Attributes{Skill: 200})
	wantCode(t, err, apperr.ErrInvalidAttribute)

	_, _, err = e.MintWithAttributes(admin, alice, testCollection, registry.Attributes{URI: "ftp://files/x"})
	wantCode(t, err, apperr.ErrInvalidURI)

	_, _, err = e.MintWithAttributes(bob, alice, testCollection, registry.Attributes{})
	wantCode(t, err, apperr.ErrPermissionDenied)
}

func TestTransferAsset(t *testing.T) {
	e, _, _ := newTestEngine(t, 3)
	id, _, err := e.AllocateSecure(admin, alice, testCollection, registry.Attributes{})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	_, err = e.TransferAsset(bob, bob, testCollection, id)
	wantCode(t, err, apperr.ErrNotOwner)

	_, err = e.TransferAsset(alice, bob, testCollection, 999)
	wantCode(t, err, apperr.ErrNotFound)

	if _, err := e.TransferAsset(alice, bob, testCollection, id); err != nil {
		t.Fatalf("TransferAsset: %v", err)
	}
	if owner, _ := e.OwnerOf(testCollection, id); owner != bob {
		t.Errorf("owner: got %s, want bob", owner.Short())
	}
	if got := e.AssetsOwnedBy(bob); len(got) != 1 || got[0].ID != id {
		t.Errorf("AssetsOwnedBy(bob): %+v", got)
	}
}

func TestBurnAsset(t *testing.T) {
	e, _, _ := newTestEngine(t, 3)
	id, _, err := e.AllocateSecure(admin, alice, testCollection, registry.Attributes{Name: "Shield", Rarity: 9})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	_, err = e.BurnAsset(bob, testCollection, id)
	wantCode(t, err, apperr.ErrNotOwner)

	r, err := e.BurnAsset(alice, testCollection, id)
	if err != nil {
		t.Fatalf("BurnAsset: %v", err)
	}
	burned, ok := r.Events[0].(*event.AssetBurned)
	if !ok || burned.Name != "Shield" || burned.Rarity != 9 || burned.Owner != alice {
		t.Errorf("burn event: %#v", r.Events[0])
	}

	_, err = e.AttributesOf(testCollection, id)
	wantCode(t, err, apperr.ErrNotFound)
	_, err = e.OwnerOf(testCollection, id)
	wantCode(t, err, apperr.ErrNotFound)
	if used, _ := e.IsUsed(testCollection, id); !used {
		t.Error("burned id returned to pool")
	}

	info, _ := e.Collection(testCollection)
	if info.Minted != 1 || info.Burned != 1 || info.AvailableCount != 2 {
		t.Errorf("collection info: %+v", info)
	}
}

func TestBurnAsset_AdminMayBurn(t *testing.T) {
	e, _, _ := newTestEngine(t, 3)
	id, _, err := e.AllocateFallback(admin, alice, testCollection, registry.Attributes{})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := e.BurnAsset(admin, testCollection, id); err != nil {
		t.Fatalf("admin burn: %v", err)
	}
}

// ============================================================================
// Test: Initialization
// ============================================================================

func TestNotInitialized(t *testing.T) {
	e, _, _ := newBareEngine(t)
	_, err := e.Mint(admin, alice, 1)
	wantCode(t, err, apperr.ErrNotInitialized)

	if _, err := e.Initialize(admin, ledger.TokenInfo{Name: "Gold", Symbol: "GLD"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	_, err = e.Initialize(alice, ledger.TokenInfo{})
	wantCode(t, err, apperr.ErrAlreadyInitialized)

	if e.Admin() != admin || e.Metadata().Symbol != "GLD" {
		t.Errorf("admin=%s metadata=%+v", e.Admin().Short(), e.Metadata())
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestIdempotency_RepeatedKeyReturnsOriginalReceipt(t *testing.T) {
	e, persistCh, _ := newTestEngine(t, 1)
	drainOutputs(persistCh)

	first, err := e.Mint(admin, alice, 100, core.WithIdempotencyKey("grant-1"))
	if err != nil {
		t.Fatalf("first mint: %v", err)
	}
	second, err := e.Mint(admin, alice, 100, core.WithIdempotencyKey("grant-1"))
	if err != nil {
		t.Fatalf("second mint: %v", err)
	}

	if !second.Duplicate || first.Duplicate {
		t.Errorf("duplicate flags: first=%v second=%v", first.Duplicate, second.Duplicate)
	}
	if second.Sequences[0] != first.Sequences[0] {
		t.Errorf("sequences differ: %v vs %v", first.Sequences, second.Sequences)
	}
	if e.Balance(alice) != 100 {
		t.Errorf("balance: got %d, want 100", e.Balance(alice))
	}
	if n := len(drainOutputs(persistCh)); n != 1 {
		t.Errorf("expected 1 output, got %d", n)
	}

	// Keys are scoped per operation.
	if _, err := e.Transfer(alice, bob, 1, core.WithIdempotencyKey("grant-1")); err != nil {
		t.Fatalf("transfer with reused key: %v", err)
	}
}

func TestIdempotency_AllocateReturnsSameAsset(t *testing.T) {
	e, _, _ := newTestEngine(t, 8)
	id1, _, err := e.AllocateSecure(admin, bob, testCollection, registry.Attributes{}, core.WithIdempotencyKey("drop-9"))
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	id2, r, err := e.AllocateSecure(admin, bob, testCollection, registry.Attributes{}, core.WithIdempotencyKey("drop-9"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if id1 != id2 || !r.Duplicate {
		t.Errorf("retry allocated again: %d vs %d", id1, id2)
	}
	if n, _ := e.AvailableCount(testCollection); n != 7 {
		t.Errorf("available: got %d, want 7", n)
	}
}

func TestIdempotency_KeysScopedToCaller(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	mustMint(t, e, alice, 100)
	mustMint(t, e, bob, 100)

	if _, err := e.Transfer(alice, bob, 10, core.WithIdempotencyKey("1")); err != nil {
		t.Fatalf("alice transfer: %v", err)
	}
	r, err := e.Transfer(bob, alice, 50, core.WithIdempotencyKey("1"))
	if err != nil {
		t.Fatalf("bob transfer: %v", err)
	}
	if r.Duplicate {
		t.Error("bob's transfer was answered with alice's receipt")
	}
	if e.Balance(alice) != 140 || e.Balance(bob) != 60 {
		t.Errorf("balances: alice=%d bob=%d, want 140/60", e.Balance(alice), e.Balance(bob))
	}
}

func TestIdempotency_AdminCheckedBeforeLookup(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	if _, err := e.Mint(admin, alice, 100, core.WithIdempotencyKey("grant-1")); err != nil {
		t.Fatalf("admin mint: %v", err)
	}

	r, err := e.Mint(alice, alice, 100, core.WithIdempotencyKey("grant-1"))
	wantCode(t, err, apperr.ErrPermissionDenied)
	if r != nil {
		t.Errorf("non-admin got a receipt: %+v", r)
	}
	if e.Balance(alice) != 100 {
		t.Errorf("balance: got %d, want 100", e.Balance(alice))
	}
}

type fakeDBChecker map[string]int64

func (f fakeDBChecker) LookupIdempotencyKey(key string) (int64, bool, error) {
	seq, ok := f[key]
	return seq, ok, nil
}

func TestIdempotency_PostgresHit_DuplicateRequest(t *testing.T) {
	persistCh := make(chan core.CoreOutput, 16)
	e, err := core.NewEngine(core.Options{
		PersistChan: persistCh,
		DBChecker:   fakeDBChecker{"mint:" + admin.String() + ":old-request": 42},
		Clock:       stepClock(),
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := e.Initialize(admin, ledger.TokenInfo{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	r, err := e.Mint(admin, alice, 5, core.WithIdempotencyKey("old-request"))
	wantCode(t, err, apperr.ErrDuplicateRequest)
	if r == nil || r.Sequences[0] != 42 {
		t.Errorf("receipt: %+v", r)
	}
	if e.Balance(alice) != 0 {
		t.Errorf("duplicate request executed")
	}
}

// ============================================================================
// Test: State hash chain and replay
// ============================================================================

// scenario runs a fixed mix of every mutation.
func scenario(t *testing.T, e *core.Engine) {
	t.Helper()
	mustMint(t, e, alice, 10_000)
	if _, err := e.Transfer(alice, bob, 2_500); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if _, err := e.RewardNewPlayer(admin, ledger.MustParseAddress("0xc0ffee")); err != nil {
		t.Fatalf("Reward: %v", err)
	}
	mustMint(t, e, admin, 300)
	if _, err := e.Burn(admin, 100); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	id, _, err := e.AllocateSecure(admin, alice, testCollection, registry.Attributes{Rarity: 50})
	if err != nil {
		t.Fatalf("AllocateSecure: %v", err)
	}
	if _, _, err := e.AllocateFallback(admin, bob, testCollection, registry.Attributes{Skill: 3}); err != nil {
		t.Fatalf("AllocateFallback: %v", err)
	}
	direct, _, err := e.MintWithAttributes(admin, bob, testCollection, registry.Attributes{Name: "Relic"})
	if err != nil {
		t.Fatalf("MintWithAttributes: %v", err)
	}
	if _, err := e.TransferAsset(alice, bob, testCollection, id); err != nil {
		t.Fatalf("TransferAsset: %v", err)
	}
	if _, err := e.BurnAsset(bob, testCollection, direct); err != nil {
		t.Fatalf("BurnAsset: %v", err)
	}
}

func TestStateHashChain_Deterministic(t *testing.T) {
	a, _, _ := newTestEngine(t, 16)
	b, _, _ := newTestEngine(t, 16)
	scenario(t, a)
	scenario(t, b)

	if a.GetStateHash() != b.GetStateHash() {
		t.Errorf("state hashes diverged: %x vs %x", a.GetStateHash(), b.GetStateHash())
	}
	if a.GetStateHash() == core.GenesisHash() {
		t.Error("state hash never advanced")
	}
}

func TestEnvelope_ChainsPrevHash(t *testing.T) {
	e, persistCh, _ := newTestEngine(t, 16)
	scenario(t, e)
	outputs := drainOutputs(persistCh)

	if outputs[0].Envelope.Sequence != 1 || outputs[0].Envelope.PrevHash != core.GenesisHash() {
		t.Errorf("first envelope: seq=%d prev=%x", outputs[0].Envelope.Sequence, outputs[0].Envelope.PrevHash)
	}
	for i := 1; i < len(outputs); i++ {
		prev, cur := outputs[i-1].Envelope, outputs[i].Envelope
		if cur.Sequence != prev.Sequence+1 {
			t.Fatalf("sequence gap at %d: %d -> %d", i, prev.Sequence, cur.Sequence)
		}
		if cur.PrevHash != prev.StateHash {
			t.Fatalf("prev hash mismatch at sequence %d", cur.Sequence)
		}
	}
	last := outputs[len(outputs)-1].Envelope
	if last.StateHash != e.GetStateHash() {
		t.Error("chain tip does not match last envelope")
	}
}

func TestReplay_ReproducesState(t *testing.T) {
	src, persistCh, _ := newTestEngine(t, 16)
	scenario(t, src)
	outputs := drainOutputs(persistCh)

	dst, _, _ := newBareEngine(t)
	for _, out := range outputs {
		if err := dst.Replay(out.Envelope); err != nil {
			t.Fatalf("replay sequence %d: %v", out.Envelope.Sequence, err)
		}
	}

	if dst.GetStateHash() != src.GetStateHash() {
		t.Errorf("state hash: got %x, want %x", dst.GetStateHash(), src.GetStateHash())
	}
	for _, a := range []ledger.Address{admin, alice, bob} {
		if dst.Balance(a) != src.Balance(a) {
			t.Errorf("balance of %s: got %d, want %d", a.Short(), dst.Balance(a), src.Balance(a))
		}
	}
	srcInfo, _ := src.Collection(testCollection)
	dstInfo, _ := dst.Collection(testCollection)
	if srcInfo.AvailableCount != dstInfo.AvailableCount || srcInfo.Minted != dstInfo.Minted ||
		srcInfo.Burned != dstInfo.Burned || !srcInfo.CreatedAt.Equal(dstInfo.CreatedAt) {
		t.Errorf("collection: got %+v, want %+v", dstInfo, srcInfo)
	}
	if err := dst.CheckInvariants(); err != nil {
		t.Errorf("invariants after replay: %v", err)
	}

	// Replaying an already-applied envelope is a no-op.
	if err := dst.Replay(outputs[0].Envelope); err != nil {
		t.Errorf("replay of old sequence: %v", err)
	}
}

func TestReplay_DetectsTampering(t *testing.T) {
	src, persistCh, _ := newTestEngine(t, 1)
	mustMint(t, src, alice, 100)
	outputs := drainOutputs(persistCh)

	forged := *outputs[2].Envelope
	forged.Payload = []byte(`{"to":"` + alice.String() + `","amount":1000,"time":"2026-03-01T12:00:00.003Z"}`)

	dst, _, _ := newBareEngine(t)
	for _, out := range outputs[:2] {
		if err := dst.Replay(out.Envelope); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}
	if err := dst.Replay(&forged); err == nil {
		t.Error("expected hash mismatch for forged payload")
	}
}

func TestReplay_SequenceGap(t *testing.T) {
	src, persistCh, _ := newTestEngine(t, 1)
	mustMint(t, src, alice, 100)
	outputs := drainOutputs(persistCh)

	dst, _, _ := newBareEngine(t)
	if err := dst.Replay(outputs[1].Envelope); err == nil {
		t.Error("expected gap error")
	}
}

func TestSnapshot_RestoreThenReplay(t *testing.T) {
	src, persistCh, _ := newTestEngine(t, 16)
	mustMint(t, src, alice, 1_000)
	if _, err := src.Transfer(alice, bob, 10, core.WithIdempotencyKey("tx-1")); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if _, _, err := src.AllocateSecure(admin, alice, testCollection, registry.Attributes{}); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	drainOutputs(persistCh)

	data, err := json.Marshal(src.CreateSnapshotState())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	scenario(t, src)
	tail := drainOutputs(persistCh)

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	dst, _, _ := newBareEngine(t)
	if err := dst.RestoreFromSnapshot(&snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	for _, out := range tail {
		if err := dst.Replay(out.Envelope); err != nil {
			t.Fatalf("replay sequence %d: %v", out.Envelope.Sequence, err)
		}
	}

	if dst.GetStateHash() != src.GetStateHash() {
		t.Errorf("state hash mismatch after snapshot + replay")
	}
	if dst.GetSequence() != src.GetSequence() {
		t.Errorf("sequence: got %d, want %d", dst.GetSequence(), src.GetSequence())
	}

	// The key recorded before the snapshot is still known.
	_, err = dst.Transfer(alice, bob, 10, core.WithIdempotencyKey("tx-1"))
	wantCode(t, err, apperr.ErrDuplicateRequest)
}

// ============================================================================
// Test: Channels and concurrency
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistCh := make(chan core.CoreOutput, 64)
	projCh := make(chan core.CoreOutput, 1)
	e, err := core.NewEngine(core.Options{
		PersistChan:    persistCh,
		ProjectionChan: projCh,
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := e.Initialize(admin, ledger.TokenInfo{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for i := 0; i < 5; i++ {
		mustMint(t, e, alice, 1)
	}

	if n := len(drainOutputs(persistCh)); n != 6 {
		t.Errorf("expected 6 persist outputs, got %d", n)
	}
	if n := len(drainOutputs(projCh)); n != 1 {
		t.Errorf("expected 1 projection output, got %d", n)
	}
}

func TestNewEngine_PersistChanTooSmall(t *testing.T) {
	for _, size := range []int{0, 1} {
		_, err := core.NewEngine(core.Options{
			PersistChan: make(chan core.CoreOutput, size),
			Logger:      zerolog.Nop(),
		})
		if err == nil {
			t.Errorf("size %d: expected error", size)
		}
	}
}

func TestPersistBackpressure_RejectsWithoutApplying(t *testing.T) {
	persistCh := make(chan core.CoreOutput, 3)
	e, err := core.NewEngine(core.Options{
		PersistChan: persistCh,
		Random:      pool.NewSeededSource(7),
		Clock:       stepClock(),
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := e.Initialize(admin, ledger.TokenInfo{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	mustMint(t, e, alice, 5)
	mustMint(t, e, alice, 5)

	seq, hash := e.GetSequence(), e.GetStateHash()
	done := make(chan error, 1)
	go func() {
		_, err := e.Mint(admin, alice, 5)
		done <- err
	}()
	select {
	case err := <-done:
		wantCode(t, err, apperr.ErrUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("mint blocked on a full persist queue")
	}
	if e.Balance(alice) != 10 || e.GetSequence() != seq || e.GetStateHash() != hash {
		t.Errorf("rejected mint changed state: balance=%d seq=%d", e.Balance(alice), e.GetSequence())
	}

	<-persistCh
	if _, err := e.CreateCollection(admin, core.CollectionSpec{Name: testCollection, Capacity: 4}); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	<-persistCh

	// An allocation emits two events; one free slot is not enough.
	_, _, err = e.AllocateSecure(admin, bob, testCollection, registry.Attributes{})
	wantCode(t, err, apperr.ErrUnavailable)
	if n, _ := e.AvailableCount(testCollection); n != 4 {
		t.Errorf("pool touched by rejected allocation: available=%d", n)
	}

	drainOutputs(persistCh)
	if _, _, err := e.AllocateSecure(admin, bob, testCollection, registry.Attributes{}); err != nil {
		t.Fatalf("allocate after drain: %v", err)
	}
	mustMint(t, e, alice, 5)
	if e.Balance(alice) != 15 {
		t.Errorf("balance: got %d, want 15", e.Balance(alice))
	}
}

func TestConcurrentTransfers_ConserveSupply(t *testing.T) {
	e, persistCh, _ := newTestEngine(t, 1)
	mustMint(t, e, alice, 1_000)
	mustMint(t, e, bob, 1_000)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			from, to := alice, bob
			if w%2 == 1 {
				from, to = bob, alice
			}
			for i := 0; i < 50; i++ {
				_, _ = e.Transfer(from, to, uint64(i%7+1))
			}
		}(w)
	}
	wg.Wait()

	if got := e.Balance(alice) + e.Balance(bob); got != 2_000 {
		t.Errorf("sum of balances: got %d, want 2000", got)
	}
	if e.Metadata().TotalSupply != 2_000 {
		t.Errorf("supply: got %d", e.Metadata().TotalSupply)
	}
	if err := e.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
	drainOutputs(persistCh)
}

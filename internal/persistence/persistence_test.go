package persistence_test

import (
	"GameLedger/internal/core"
	"GameLedger/internal/ledger"
	"GameLedger/internal/persistence"
	"GameLedger/internal/pool"
	"GameLedger/internal/registry"
	"GameLedger/internal/testutil"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var (
	admin = ledger.MustParseAddress("0xad")
	alice = ledger.MustParseAddress("0xa1")
	bob   = ledger.MustParseAddress("0xb0")
)

func newEngine(t *testing.T, persistCh chan core.CoreOutput, checker core.DBIdempotencyChecker) *core.Engine {
	t.Helper()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var n int64
	e, err := core.NewEngine(core.Options{
		PersistChan: persistCh,
		DBChecker:   checker,
		Random:      pool.NewSeededSource(11),
		Clock: func() time.Time {
			n++
			return t0.Add(time.Duration(n) * time.Millisecond)
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// runScenario drives a small mixed workload through e.
func runScenario(t *testing.T, e *core.Engine) {
	t.Helper()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	_, err := e.Initialize(admin, ledger.TokenInfo{})
	must(err)
	_, err = e.CreateCollection(admin, core.CollectionSpec{
		Name:     "heroes",
		URI:      "ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		Capacity: 16,
	})
	must(err)
	_, err = e.Mint(admin, alice, 5_000, core.WithIdempotencyKey("tx-1"))
	must(err)
	_, err = e.Transfer(alice, bob, 1_200)
	must(err)
	_, err = e.RewardNewPlayer(admin, ledger.MustParseAddress("0xc3"))
	must(err)
	_, _, err = e.AllocateSecure(admin, alice, "heroes", registry.Attributes{Rarity: 90, Skill: 40})
	must(err)
	id, _, err := e.AllocateFallback(admin, bob, "heroes", registry.Attributes{})
	must(err)
	_, err = e.TransferAsset(bob, alice, "heroes", id)
	must(err)
	_, err = e.Burn(admin, 1)
	if err == nil {
		t.Fatal("admin holds no tokens; burn should fail")
	}
}

func drain(ch chan core.CoreOutput) []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

func TestRowsFromOutput_RoundTripsEnvelope(t *testing.T) {
	ch := make(chan core.CoreOutput, 256)
	e := newEngine(t, ch, nil)
	runScenario(t, e)

	outputs := drain(ch)
	if len(outputs) == 0 {
		t.Fatal("no outputs")
	}
	for _, out := range outputs {
		row, journals := persistence.RowsFromOutput(out)
		env, err := row.Envelope()
		if err != nil {
			t.Fatalf("seq %d: %v", row.Sequence, err)
		}
		want := out.Envelope
		if env.Sequence != want.Sequence || env.EventType != want.EventType ||
			env.Collection != want.Collection || env.IdempotencyKey != want.IdempotencyKey {
			t.Errorf("seq %d: envelope mismatch: %+v vs %+v", want.Sequence, env, want)
		}
		if env.StateHash != want.StateHash || env.PrevHash != want.PrevHash {
			t.Errorf("seq %d: hashes not preserved", want.Sequence)
		}
		if !bytes.Equal(env.Payload, want.Payload) {
			t.Errorf("seq %d: payload not preserved", want.Sequence)
		}
		if want.Collection == "" && row.Collection != nil {
			t.Errorf("seq %d: token event should have NULL collection", want.Sequence)
		}
		if out.Batch == nil && len(journals) != 0 {
			t.Errorf("seq %d: journals without a batch", want.Sequence)
		}
		if out.Batch != nil && len(journals) != len(out.Batch.Journals) {
			t.Errorf("seq %d: got %d journal rows, want %d", want.Sequence, len(journals), len(out.Batch.Journals))
		}
	}
}

func TestRowsFromOutput_MintJournal(t *testing.T) {
	ch := make(chan core.CoreOutput, 16)
	e := newEngine(t, ch, nil)
	if _, err := e.Initialize(admin, ledger.TokenInfo{}); err != nil {
		t.Fatal(err)
	}
	drain(ch)

	if _, err := e.Mint(admin, alice, 42); err != nil {
		t.Fatal(err)
	}
	outputs := drain(ch)
	if len(outputs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(outputs))
	}
	_, journals := persistence.RowsFromOutput(outputs[0])
	if len(journals) != 1 {
		t.Fatalf("got %d journals, want 1", len(journals))
	}
	j := journals[0]
	if j.Amount != 42 || j.JournalType != "mint" {
		t.Errorf("journal: %+v", j)
	}
	if j.DebitAccount != ledger.NewUserAccountKey(alice).AccountPath() || j.CreditAccount != "system:mint" {
		t.Errorf("accounts: debit=%s credit=%s", j.DebitAccount, j.CreditAccount)
	}
}

func TestEventRowEnvelope_RejectsBadRows(t *testing.T) {
	good := make([]byte, 32)
	cases := map[string]persistence.EventRow{
		"unknown type": {Sequence: 1, EventType: "Nope", StateHash: good, PrevHash: good},
		"short hash":   {Sequence: 1, EventType: "TokenMinted", StateHash: good[:8], PrevHash: good},
	}
	for name, row := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := row.Envelope(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// ============================================================================
// Integration: Postgres round trip
// ============================================================================

func TestPersistAndRecover(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, "../../migrations")
	defer cleanup()

	ctx := context.Background()
	checker := persistence.NewPostgresIdempotencyChecker(db)

	ch := make(chan core.CoreOutput, 256)
	source := newEngine(t, ch, checker)
	worker := persistence.NewPersistenceWorker(db, ch, persistence.WorkerOptions{
		BatchSize:    4,
		FlushTimeout: 5 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	runScenario(t, source)
	close(ch)
	if err := <-done; err != nil {
		t.Fatalf("worker: %v", err)
	}

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest != source.LastSequence() || worker.LastPersisted() != latest {
		t.Fatalf("latest=%d persisted=%d engine=%d", latest, worker.LastPersisted(), source.LastSequence())
	}

	seq, found, err := checker.LookupIdempotencyKey("mint:" + admin.String() + ":tx-1")
	if err != nil || !found || seq <= 0 {
		t.Errorf("LookupIdempotencyKey: seq=%d found=%v err=%v", seq, found, err)
	}
	if _, found, _ := checker.LookupIdempotencyKey("mint:" + admin.String() + ":unknown"); found {
		t.Error("unknown key reported as found")
	}

	t.Run("cold replay", func(t *testing.T) {
		restored := newEngine(t, nil, checker)
		res, err := persistence.Recover(ctx, sm, restored, zerolog.Nop())
		if err != nil {
			t.Fatalf("Recover: %v", err)
		}
		if res.SnapshotSequence != 0 || res.LastSequence != latest {
			t.Errorf("result: %+v", res)
		}
		assertSameState(t, source, restored)

		// The replayed key is still a duplicate.
		if _, err := restored.Mint(admin, alice, 5_000, core.WithIdempotencyKey("tx-1")); err == nil {
			t.Error("replayed idempotency key accepted again")
		}
	})

	t.Run("snapshot then replay", func(t *testing.T) {
		snapper := persistence.NewSnapshotter(sm, source, worker.LastPersisted, 1, nil, zerolog.Nop())
		if err := snapper.TakeSnapshot(ctx); err != nil {
			t.Fatalf("TakeSnapshot: %v", err)
		}

		restored := newEngine(t, nil, checker)
		res, err := persistence.Recover(ctx, sm, restored, zerolog.Nop())
		if err != nil {
			t.Fatalf("Recover: %v", err)
		}
		if res.SnapshotSequence != latest || res.Replayed != 0 {
			t.Errorf("result: %+v", res)
		}
		assertSameState(t, source, restored)
	})
}

func TestSnapshotter_LeavesUnpersistedSnapshotUnverified(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, "../../migrations")
	defer cleanup()

	ctx := context.Background()
	e := newEngine(t, make(chan core.CoreOutput, 256), nil)
	runScenario(t, e)

	sm := persistence.NewSnapshotManager(db)
	snapper := persistence.NewSnapshotter(sm, e, func() int64 { return 0 }, 1, nil, zerolog.Nop())
	if err := snapper.TakeSnapshot(ctx); err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Errorf("unverified snapshot at %d was loaded", snap.Sequence)
	}
}

func assertSameState(t *testing.T, want, got *core.Engine) {
	t.Helper()
	if want.GetStateHash() != got.GetStateHash() {
		t.Errorf("state hash: got %x, want %x", got.GetStateHash(), want.GetStateHash())
	}
	if want.GetSequence() != got.GetSequence() {
		t.Errorf("sequence: got %d, want %d", got.GetSequence(), want.GetSequence())
	}
	for _, addr := range []ledger.Address{alice, bob, ledger.MustParseAddress("0xc3")} {
		if want.Balance(addr) != got.Balance(addr) {
			t.Errorf("balance %s: got %d, want %d", addr.Short(), got.Balance(addr), want.Balance(addr))
		}
	}
	wa, _ := want.AvailableCount("heroes")
	ga, _ := got.AvailableCount("heroes")
	if wa != ga {
		t.Errorf("available: got %d, want %d", ga, wa)
	}
	if len(want.AssetsOwnedBy(alice)) != len(got.AssetsOwnedBy(alice)) {
		t.Errorf("alice assets: got %d, want %d", len(got.AssetsOwnedBy(alice)), len(want.AssetsOwnedBy(alice)))
	}
}

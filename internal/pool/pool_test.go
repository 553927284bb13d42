package pool_test

import (
	"GameLedger/internal/apperr"
	"GameLedger/internal/ledger"
	"GameLedger/internal/pool"
	"errors"
	"testing"
	"time"
)

var caller = ledger.MustParseAddress("0xad")

type fixedSource struct{ v uint64 }

func (f fixedSource) Uint64n(n uint64) (uint64, error) { return f.v % n, nil }

func drain(t *testing.T, p *pool.Pool, sel pool.Selector) []uint64 {
	t.Helper()
	var ids []uint64
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for p.AvailableCount() > 0 {
		s, err := p.Select(sel, pool.Request{Caller: caller, Time: now})
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		p.Take(s)
		if !p.IsUsed(s.ID) {
			t.Fatalf("id %d not used right after take", s.ID)
		}
		ids = append(ids, s.ID)
	}
	return ids
}

func assertDistinctRange(t *testing.T, ids []uint64, n uint64) {
	t.Helper()
	if uint64(len(ids)) != n {
		t.Fatalf("got %d ids, want %d", len(ids), n)
	}
	seen := make(map[uint64]bool)
	for _, id := range ids {
		if id < 1 || id > n {
			t.Errorf("id %d outside 1..%d", id, n)
		}
		if seen[id] {
			t.Errorf("id %d returned twice", id)
		}
		seen[id] = true
	}
}

// ============================================================================
// Test: Selectors
// ============================================================================

func TestHashIndex_CapacityThreeThenExhausted(t *testing.T) {
	p, _ := pool.New(3)
	ids := drain(t, p, pool.HashIndex{})
	assertDistinctRange(t, ids, 3)

	_, err := p.Select(pool.HashIndex{}, pool.Request{Caller: caller, Time: time.Now()})
	if !errors.Is(err, apperr.ErrPoolExhausted) {
		t.Errorf("got %v, want POOL_EXHAUSTED", err)
	}
}

func TestCircularScan_DrainsWithoutRepeats(t *testing.T) {
	p, _ := pool.New(257)
	ids := drain(t, p, pool.CircularScan{Source: pool.NewSeededSource(42)})
	assertDistinctRange(t, ids, 257)
	if err := p.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestCircularScan_ProbesForward(t *testing.T) {
	p, _ := pool.New(5)
	// Start at r=4: take 4, then 5, then wrap to 1.
	sel := pool.CircularScan{Source: fixedSource{v: 3}}
	var got []uint64
	for i := 0; i < 3; i++ {
		s, err := p.Select(sel, pool.Request{})
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		p.Take(s)
		got = append(got, s.ID)
	}
	want := []uint64{4, 5, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("allocation %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestCryptoSource_InRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		v, err := pool.CryptoSource{}.Uint64n(7)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v >= 7 {
			t.Fatalf("got %d, want < 7", v)
		}
	}
}

// ============================================================================
// Test: Pool state
// ============================================================================

func TestPool_IsUsedOutOfRange(t *testing.T) {
	p, _ := pool.New(3)
	if !p.IsUsed(0) || !p.IsUsed(4) {
		t.Error("0 and N+1 should report used")
	}
	if p.IsUsed(2) {
		t.Error("fresh id 2 should be unused")
	}
}

func TestPool_CapacityLimit(t *testing.T) {
	if _, err := pool.New(pool.MaxCapacity + 1); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("got %v, want INVALID_ARGUMENT", err)
	}
}

func TestPool_ZeroCapacityRejected(t *testing.T) {
	p, err := pool.New(0)
	if !errors.Is(err, apperr.ErrInvalidArgument) || p != nil {
		t.Errorf("got pool=%v err=%v, want INVALID_ARGUMENT", p, err)
	}
}

func TestPool_SingleIDExhausts(t *testing.T) {
	p, _ := pool.New(1)
	sel, err := p.Select(pool.HashIndex{}, pool.Request{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	p.Take(sel)
	if _, err := p.Select(pool.HashIndex{}, pool.Request{}); !errors.Is(err, apperr.ErrPoolExhausted) {
		t.Errorf("got %v, want POOL_EXHAUSTED", err)
	}
}

func TestPool_TakeWrongIndexPanics(t *testing.T) {
	p, _ := pool.New(3)
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	p.Take(pool.Selection{ID: 2, Index: 0})
}

func TestPool_SnapshotRestoreContinuesIdentically(t *testing.T) {
	a, _ := pool.New(50)
	for i := 0; i < 20; i++ {
		s, _ := a.Select(pool.HashIndex{}, pool.Request{Caller: caller, Time: time.Unix(int64(i), 0)})
		a.Take(s)
	}

	b, err := pool.Restore(a.Snapshot())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	for i := 0; i < 30; i++ {
		req := pool.Request{Caller: caller, Time: time.Unix(int64(100+i), 0)}
		sa, _ := a.Select(pool.HashIndex{}, req)
		sb, _ := b.Select(pool.HashIndex{}, req)
		if sa != sb {
			t.Fatalf("step %d: %+v != %+v", i, sa, sb)
		}
		a.Take(sa)
		b.Take(sb)
	}
}

func TestRestore_RejectsDuplicates(t *testing.T) {
	if _, err := pool.Restore(pool.Snapshot{Capacity: 3, Available: []uint64{1, 1}, Allocations: 1}); err == nil {
		t.Error("expected error")
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := pool.ParsePolicy("secure"); err != nil || p != pool.PolicySecure {
		t.Errorf("got %v %v", p, err)
	}
	if _, err := pool.ParsePolicy("lottery"); err == nil {
		t.Error("expected error")
	}
}

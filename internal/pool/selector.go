package pool

import (
	"GameLedger/internal/ledger"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Policy names an allocation strategy.
type Policy string

const (
	// PolicySecure draws a random start and scans circularly for the
	// first unused id.
	PolicySecure Policy = "secure"
	// PolicyFallback hashes the caller and time into an index of the
	// available list. Callers can predict the result.
	PolicyFallback Policy = "fallback"
)

// ParsePolicy accepts the wire names of the two policies.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicySecure, PolicyFallback:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown allocation policy %q", s)
}

// Request carries the inputs a selector may mix into its choice.
type Request struct {
	Caller ledger.Address
	Time   time.Time
}

// Selector picks one available identifier. Selectors only read the pool.
type Selector interface {
	Policy() Policy
	Select(p *Pool, req Request) (Selection, error)
}

// CircularScan draws r in [1, N] and probes ((r+k-1) mod N)+1 for
// k = 0..N-1. Ids just after a long used run are picked more often than
// others as the pool fills.
type CircularScan struct {
	Source RandomSource
}

func (CircularScan) Policy() Policy { return PolicySecure }

func (s CircularScan) Select(p *Pool, _ Request) (Selection, error) {
	n := p.Capacity()
	draw, err := s.Source.Uint64n(n)
	if err != nil {
		return Selection{}, fmt.Errorf("draw start index: %w", err)
	}
	r := draw + 1

	for k := uint64(0); k < n; k++ {
		id := ((r + k - 1) % n) + 1
		if !p.IsUsed(id) {
			return Selection{ID: id, Index: p.IndexOf(id)}, nil
		}
	}
	panic(fmt.Sprintf("FATAL: circular scan found no unused id while %d are available", p.AvailableCount()))
}

// HashIndex maps SHA-256(caller || unix micros || allocation nonce) onto
// the available list.
type HashIndex struct{}

func (HashIndex) Policy() Policy { return PolicyFallback }

func (HashIndex) Select(p *Pool, req Request) (Selection, error) {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(req.Time.UnixMicro()))
	binary.BigEndian.PutUint64(buf[8:], p.Allocations())

	h := sha256.New()
	h.Write([]byte(req.Caller))
	h.Write(buf[:])
	sum := h.Sum(nil)

	idx := binary.BigEndian.Uint64(sum[:8]) % p.AvailableCount()
	return Selection{ID: p.AvailableAt(idx), Index: int(idx)}, nil
}

// Package pool tracks a finite set of unique asset identifiers 1..N and
// hands them out without replacement.
package pool

import (
	"GameLedger/internal/apperr"
	"fmt"
	"strconv"
)

// MaxCapacity bounds the in-memory footprint of a single pool.
const MaxCapacity = 1 << 22

// Pool partitions identifiers 1..capacity into available and used.
// Not thread-safe; the engine serializes access.
type Pool struct {
	capacity    uint64
	available   []uint64
	position    []uint32 // position[id] = index in available + 1, 0 when used
	used        bitmap   // bit id-1
	allocations uint64
}

// New creates a pool with every identifier in 1..capacity available.
func New(capacity uint64) (*Pool, error) {
	if capacity == 0 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "pool capacity must be positive")
	}
	if capacity > MaxCapacity {
		return nil, apperr.WithMetadata(apperr.CodeInvalidArgument, "pool capacity too large",
			map[string]string{"max": strconv.Itoa(MaxCapacity)})
	}
	p := &Pool{
		capacity:  capacity,
		available: make([]uint64, capacity),
		position:  make([]uint32, capacity+1),
		used:      newBitmap(capacity),
	}
	for i := uint64(0); i < capacity; i++ {
		p.available[i] = i + 1
		p.position[i+1] = uint32(i + 1)
	}
	return p, nil
}

// Capacity returns N.
func (p *Pool) Capacity() uint64 {
	return p.capacity
}

// AvailableCount returns how many identifiers remain.
func (p *Pool) AvailableCount() uint64 {
	return uint64(len(p.available))
}

// Allocations returns how many identifiers have been taken.
func (p *Pool) Allocations() uint64 {
	return p.allocations
}

// IsUsed reports whether id has been consumed. Zero and out-of-range ids
// count as used.
func (p *Pool) IsUsed(id uint64) bool {
	if id == 0 || id > p.capacity {
		return true
	}
	return p.used.get(id - 1)
}

// AvailableAt returns the identifier at index i of the available list.
func (p *Pool) AvailableAt(i uint64) uint64 {
	return p.available[i]
}

// IndexOf returns the available-list index of id, or -1 if id is used.
func (p *Pool) IndexOf(id uint64) int {
	if p.IsUsed(id) {
		return -1
	}
	return int(p.position[id]) - 1
}

// Selection is the outcome of a selector: an identifier and where it sits
// in the available list.
type Selection struct {
	ID    uint64
	Index int
}

// Select runs sel without changing the pool. It fails with POOL_EXHAUSTED
// when nothing is available.
func (p *Pool) Select(sel Selector, req Request) (Selection, error) {
	if p.AvailableCount() == 0 {
		return Selection{}, apperr.WithMetadata(apperr.CodePoolExhausted, "no identifiers available",
			map[string]string{"capacity": strconv.FormatUint(p.capacity, 10)})
	}
	s, err := sel.Select(p, req)
	if err != nil {
		return Selection{}, err
	}
	if !p.holds(s) {
		panic(fmt.Sprintf("FATAL: %s selector returned id %d at index %d which is not available", sel.Policy(), s.ID, s.Index))
	}
	return s, nil
}

func (p *Pool) holds(s Selection) bool {
	return s.Index >= 0 && s.Index < len(p.available) && p.available[s.Index] == s.ID
}

// Take removes a selected identifier: the last available id moves into
// its slot and the bitmap marks it used. Taking anything not at the
// recorded index is a corrupted history and aborts.
func (p *Pool) Take(s Selection) {
	if !p.holds(s) {
		panic(fmt.Sprintf("FATAL: take id %d at index %d: not available there", s.ID, s.Index))
	}

	last := len(p.available) - 1
	moved := p.available[last]
	p.available[s.Index] = moved
	p.position[moved] = uint32(s.Index + 1)
	p.available = p.available[:last]

	p.position[s.ID] = 0
	p.used.set(s.ID - 1)
	p.allocations++
}

// CheckInvariants verifies availableCount == count(!used) and that every id
// is in exactly one of available or used.
func (p *Pool) CheckInvariants() error {
	var free uint64
	for id := uint64(1); id <= p.capacity; id++ {
		if p.used.get(id - 1) {
			if p.position[id] != 0 {
				return fmt.Errorf("id %d is used but still indexed", id)
			}
			continue
		}
		free++
		idx := int(p.position[id]) - 1
		if idx < 0 || idx >= len(p.available) || p.available[idx] != id {
			return fmt.Errorf("id %d is unused but missing from available", id)
		}
	}
	if free != p.AvailableCount() {
		return fmt.Errorf("available count %d != unused ids %d", p.AvailableCount(), free)
	}
	if p.allocations != p.capacity-free {
		return fmt.Errorf("allocations %d != used ids %d", p.allocations, p.capacity-free)
	}
	return nil
}

// Snapshot is the serializable pool state. The available order is part of
// the state because selectors index into it.
type Snapshot struct {
	Capacity    uint64   `json:"capacity"`
	Available   []uint64 `json:"available"`
	Allocations uint64   `json:"allocations"`
}

func (p *Pool) Snapshot() Snapshot {
	available := make([]uint64, len(p.available))
	copy(available, p.available)
	return Snapshot{
		Capacity:    p.capacity,
		Available:   available,
		Allocations: p.allocations,
	}
}

// Restore rebuilds a pool from a snapshot.
func Restore(s Snapshot) (*Pool, error) {
	if s.Capacity > MaxCapacity {
		return nil, fmt.Errorf("snapshot capacity %d exceeds max", s.Capacity)
	}
	p := &Pool{
		capacity:    s.Capacity,
		available:   make([]uint64, len(s.Available)),
		position:    make([]uint32, s.Capacity+1),
		used:        newBitmap(s.Capacity),
		allocations: s.Allocations,
	}
	copy(p.available, s.Available)
	for i, id := range p.available {
		if id == 0 || id > s.Capacity || p.position[id] != 0 {
			return nil, fmt.Errorf("snapshot has invalid or repeated id %d", id)
		}
		p.position[id] = uint32(i + 1)
	}
	for id := uint64(1); id <= s.Capacity; id++ {
		if p.position[id] == 0 {
			p.used.set(id - 1)
		}
	}
	if err := p.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("restored pool: %w", err)
	}
	return p, nil
}

package event

import (
	"GameLedger/internal/ledger"
	"time"
)

// LedgerInitialized records the admin and token description. It is always
// the first event of a log.
type LedgerInitialized struct {
	Admin ledger.Address   `json:"admin"`
	Token ledger.TokenInfo `json:"token"`
	Time  time.Time        `json:"time"`
}

func (e *LedgerInitialized) EventType() EventType   { return EventTypeLedgerInitialized }
func (e *LedgerInitialized) CollectionName() string { return "" }
func (e *LedgerInitialized) OccurredAt() time.Time  { return e.Time }

type TokenMinted struct {
	To     ledger.Address `json:"to"`
	Amount uint64         `json:"amount"`
	Time   time.Time      `json:"time"`
}

func (e *TokenMinted) EventType() EventType   { return EventTypeTokenMinted }
func (e *TokenMinted) CollectionName() string { return "" }
func (e *TokenMinted) OccurredAt() time.Time  { return e.Time }

type TokenBurned struct {
	From   ledger.Address `json:"from"`
	Amount uint64         `json:"amount"`
	Time   time.Time      `json:"time"`
}

func (e *TokenBurned) EventType() EventType   { return EventTypeTokenBurned }
func (e *TokenBurned) CollectionName() string { return "" }
func (e *TokenBurned) OccurredAt() time.Time  { return e.Time }

type TokenTransferred struct {
	From   ledger.Address `json:"from"`
	To     ledger.Address `json:"to"`
	Amount uint64         `json:"amount"`
	Time   time.Time      `json:"time"`
}

func (e *TokenTransferred) EventType() EventType   { return EventTypeTokenTransferred }
func (e *TokenTransferred) CollectionName() string { return "" }
func (e *TokenTransferred) OccurredAt() time.Time  { return e.Time }

type PlayerRewarded struct {
	Player ledger.Address `json:"player"`
	Amount uint64         `json:"amount"`
	Time   time.Time      `json:"time"`
}

func (e *PlayerRewarded) EventType() EventType   { return EventTypePlayerRewarded }
func (e *PlayerRewarded) CollectionName() string { return "" }
func (e *PlayerRewarded) OccurredAt() time.Time  { return e.Time }

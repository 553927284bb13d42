package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeMint JournalType = iota
	JournalTypeBurn
	JournalTypeTransfer
	JournalTypeReward
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeReward:
		return "reward"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups entries produced by one event
	EventRef      string      // Idempotency key of source operation
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving value
	CreditAccount AccountKey  // Account giving value
	Amount        uint64      // Base units, always positive
	JournalType   JournalType // Entry type
	Timestamp     int64       // Event time (epoch microseconds)
}

// Batch represents the journal entries of one event
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount from its credit account to its debit account, so every entry is
// balanced on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == 0 {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if !j.DebitAccount.IsUser() && !j.CreditAccount.IsUser() {
			return fmt.Errorf("journal %s moves value between two system accounts", j.JournalID)
		}
	}

	return nil
}

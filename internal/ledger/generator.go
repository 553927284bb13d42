package ledger

import (
	"github.com/google/uuid"
)

// JournalGenerator creates journal batches for token movements
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

func (jg *JournalGenerator) single(
	eventRef string,
	sequence int64,
	timestamp int64,
	debit, credit AccountKey,
	amount uint64,
	journalType JournalType,
) *Batch {
	batchID := uuid.New()
	return &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      sequence,
			DebitAccount:  debit,
			CreditAccount: credit,
			Amount:        amount,
			JournalType:   journalType,
			Timestamp:     timestamp,
		}},
	}
}

// GenerateMint moves value: system:mint → user wallet
func (jg *JournalGenerator) GenerateMint(to Address, amount uint64, eventRef string, sequence, timestamp int64) *Batch {
	return jg.single(eventRef, sequence, timestamp,
		NewUserAccountKey(to), NewSystemAccountKey(SubTypeSystemMint), amount, JournalTypeMint)
}

// GenerateReward is a mint tagged as a new-player reward.
func (jg *JournalGenerator) GenerateReward(player Address, amount uint64, eventRef string, sequence, timestamp int64) *Batch {
	return jg.single(eventRef, sequence, timestamp,
		NewUserAccountKey(player), NewSystemAccountKey(SubTypeSystemMint), amount, JournalTypeReward)
}

// GenerateBurn moves value: user wallet → system:burn
func (jg *JournalGenerator) GenerateBurn(from Address, amount uint64, eventRef string, sequence, timestamp int64) *Batch {
	return jg.single(eventRef, sequence, timestamp,
		NewSystemAccountKey(SubTypeSystemBurn), NewUserAccountKey(from), amount, JournalTypeBurn)
}

// GenerateTransfer moves value between two wallets. A transfer to self
// produces an empty batch.
func (jg *JournalGenerator) GenerateTransfer(from, to Address, amount uint64, eventRef string, sequence, timestamp int64) *Batch {
	if from == to {
		return &Batch{
			BatchID:   uuid.New(),
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
		}
	}
	return jg.single(eventRef, sequence, timestamp,
		NewUserAccountKey(to), NewUserAccountKey(from), amount, JournalTypeTransfer)
}

package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateSupply verifies total supply equals the sum of all balances.
func (v *InvariantValidator) ValidateSupply() error {
	sum, ok := v.tracker.SumBalances()
	if !ok {
		return fmt.Errorf("sum of balances overflows")
	}
	if sum != v.tracker.TotalSupply() {
		return fmt.Errorf("total supply %d != sum of balances %d", v.tracker.TotalSupply(), sum)
	}
	return nil
}

// ValidateJournalSupply verifies that a journal history reproduces supply:
// Σ value leaving system:mint − Σ value entering system:burn.
func ValidateJournalSupply(journals []Journal, supply uint64) error {
	var minted, burned uint64
	for _, j := range journals {
		if !j.CreditAccount.IsUser() && j.CreditAccount.SubType == SubTypeSystemMint {
			minted += j.Amount
		}
		if !j.DebitAccount.IsUser() && j.DebitAccount.SubType == SubTypeSystemBurn {
			burned += j.Amount
		}
	}
	if minted < burned || minted-burned != supply {
		return fmt.Errorf("journals give supply %d-%d, tracker has %d", minted, burned, supply)
	}
	return nil
}

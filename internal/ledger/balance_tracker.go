package ledger

import (
	"GameLedger/internal/apperr"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// BalanceTracker maintains in-memory account balances and total supply.
// System accounts hold no balance; moving value out of system:mint raises
// supply and moving it into system:burn lowers it.
type BalanceTracker struct {
	balances map[Address]uint64
	supply   uint64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[Address]uint64),
	}
}

// GetBalance returns the current wallet balance of an address.
func (bt *BalanceTracker) GetBalance(owner Address) uint64 {
	return bt.balances[owner]
}

// GetAccountBalance returns the balance behind a journal account key.
// System accounts always report zero.
func (bt *BalanceTracker) GetAccountBalance(key AccountKey) uint64 {
	if !key.IsUser() {
		return 0
	}
	return bt.balances[key.Owner]
}

// TotalSupply returns the number of base units in circulation.
func (bt *BalanceTracker) TotalSupply() uint64 {
	return bt.supply
}

// CheckCredit verifies that crediting amount to owner cannot overflow.
func (bt *BalanceTracker) CheckCredit(owner Address, amount uint64) error {
	if bt.balances[owner] > math.MaxUint64-amount {
		return apperr.WithMetadata(apperr.CodeOverflow, "balance would overflow", map[string]string{
			"account": owner.String(),
			"amount":  strconv.FormatUint(amount, 10),
		})
	}
	return nil
}

// CheckDebit verifies that owner holds at least amount.
func (bt *BalanceTracker) CheckDebit(owner Address, amount uint64) error {
	have := bt.balances[owner]
	if have < amount {
		return apperr.WithMetadata(apperr.CodeInsufficientBalance,
			fmt.Sprintf("insufficient balance: have=%d, need=%d", have, amount), map[string]string{
				"account": owner.String(),
				"have":    strconv.FormatUint(have, 10),
				"need":    strconv.FormatUint(amount, 10),
			})
	}
	return nil
}

// CheckIssue verifies that issuing amount new units cannot overflow supply.
func (bt *BalanceTracker) CheckIssue(amount uint64) error {
	if bt.supply > math.MaxUint64-amount {
		return apperr.WithMetadata(apperr.CodeOverflow, "total supply would overflow", map[string]string{
			"amount": strconv.FormatUint(amount, 10),
		})
	}
	return nil
}

// CheckBatch verifies a batch can be applied without underflow or overflow,
// accounting for entries earlier in the same batch.
func (bt *BalanceTracker) CheckBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	scratch := &BalanceTracker{balances: make(map[Address]uint64), supply: bt.supply}
	for _, j := range batch.Journals {
		for _, key := range []AccountKey{j.CreditAccount, j.DebitAccount} {
			if key.IsUser() {
				if _, ok := scratch.balances[key.Owner]; !ok {
					scratch.balances[key.Owner] = bt.balances[key.Owner]
				}
			}
		}
		if err := scratch.checkJournal(j); err != nil {
			return err
		}
		scratch.applyJournal(j)
	}
	return nil
}

func (bt *BalanceTracker) checkJournal(j Journal) error {
	if j.CreditAccount.IsUser() {
		if err := bt.CheckDebit(j.CreditAccount.Owner, j.Amount); err != nil {
			return err
		}
	} else if j.CreditAccount.SubType == SubTypeSystemMint {
		if err := bt.CheckIssue(j.Amount); err != nil {
			return err
		}
	} else {
		return fmt.Errorf("journal %s credits %s", j.JournalID, j.CreditAccount.AccountPath())
	}

	if j.DebitAccount.IsUser() {
		if bt.balances[j.DebitAccount.Owner] > math.MaxUint64-j.Amount {
			return apperr.WithMetadata(apperr.CodeOverflow, "balance would overflow", map[string]string{
				"account": j.DebitAccount.Owner.String(),
			})
		}
	} else if j.DebitAccount.SubType != SubTypeSystemBurn {
		return fmt.Errorf("journal %s debits %s", j.JournalID, j.DebitAccount.AccountPath())
	}
	return nil
}

func (bt *BalanceTracker) applyJournal(j Journal) {
	if j.CreditAccount.IsUser() {
		bt.balances[j.CreditAccount.Owner] -= j.Amount
	} else {
		bt.supply += j.Amount
	}

	if j.DebitAccount.IsUser() {
		bt.balances[j.DebitAccount.Owner] += j.Amount
	} else {
		bt.supply -= j.Amount
	}
}

// ApplyBatch checks and then applies all journals in a batch. A batch that
// fails the check leaves balances untouched.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := bt.CheckBatch(batch); err != nil {
		return err
	}
	for _, j := range batch.Journals {
		bt.applyJournal(j)
	}
	return nil
}

// SumBalances adds every wallet balance. Returns ok=false on overflow.
func (bt *BalanceTracker) SumBalances() (uint64, bool) {
	var total uint64
	for _, v := range bt.balances {
		if total > math.MaxUint64-v {
			return 0, false
		}
		total += v
	}
	return total, true
}

// Holders returns every address with a balance entry, sorted.
func (bt *BalanceTracker) Holders() []Address {
	holders := make([]Address, 0, len(bt.balances))
	for a := range bt.balances {
		holders = append(holders, a)
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i] < holders[j] })
	return holders
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[Address]uint64 {
	snapshot := make(map[Address]uint64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances and recomputes supply.
func (bt *BalanceTracker) Restore(balances map[Address]uint64) error {
	restored := &BalanceTracker{balances: make(map[Address]uint64, len(balances))}
	for k, v := range balances {
		restored.balances[k] = v
	}
	supply, ok := restored.SumBalances()
	if !ok {
		return fmt.Errorf("restored balances overflow total supply")
	}
	bt.balances = restored.balances
	bt.supply = supply
	return nil
}

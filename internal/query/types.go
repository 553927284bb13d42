package query

import "time"

// AssetResponse is one projected unique asset.
type AssetResponse struct {
	Collection   string    `json:"collection"`
	AssetID      uint64    `json:"asset_id,string"`
	Owner        string    `json:"owner"`
	Creator      string    `json:"creator"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	URI          string    `json:"uri"`
	Rarity       uint8     `json:"rarity"`
	Skill        uint8     `json:"skill"`
	MintedAt     time.Time `json:"minted_at"`
	LastSequence int64     `json:"last_sequence"`
}

// AssetPage is one page of ListAssetsByOwner. NextCursor is empty on the
// last page.
type AssetPage struct {
	Assets       []AssetResponse `json:"assets"`
	NextCursor   string          `json:"next_cursor,omitempty"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// PoolResponse is the projected state of a collection pool.
type PoolResponse struct {
	Collection   string `json:"collection"`
	Capacity     uint64 `json:"capacity"`
	Available    uint64 `json:"available"`
	Minted       uint64 `json:"minted"`
	Burned       uint64 `json:"burned"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry is a journal entry touching an account. Amount is
// positive when the account received value.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        uint64 `json:"amount,string"`
	Incoming      bool   `json:"incoming"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	EventsChecked   int64   `json:"events_checked"`
	LastSequence    int64   `json:"last_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`

	// Supply implied by the journal (mint credits minus burn debits)
	// against the sum of projected balances.
	JournalSupply   string `json:"journal_supply"`
	ProjectedSupply string `json:"projected_supply"`
	SupplyMismatch  bool   `json:"supply_mismatch"`

	// Set when a live supply was supplied for comparison.
	EngineSupply         string `json:"engine_supply,omitempty"`
	EngineSupplyMismatch bool   `json:"engine_supply_mismatch,omitempty"`
}

package server

import (
	"GameLedger/internal/query"
	"GameLedger/internal/registry"
)

// Token amounts travel as decimal strings with up to 8 fractional digits
// ("650", "0.25"). Asset ids are JSON strings so 64-bit values survive
// JavaScript clients.

// --- Ledger lifecycle ---

// InitializeRequest makes the caller the ledger admin.
type InitializeRequest struct {
	TokenName      string `json:"token_name,omitempty"`
	TokenSymbol    string `json:"token_symbol,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Receipt reports the events a call committed.
type Receipt struct {
	IdempotencyKey string   `json:"idempotency_key"`
	Sequences      []int64  `json:"sequences"`
	EventTypes     []string `json:"event_types,omitempty"`
	StateHash      string   `json:"state_hash,omitempty"`
	AssetID        uint64   `json:"asset_id,omitempty,string"`
	Duplicate      bool     `json:"duplicate,omitempty"`
}

// --- Token ---

type MintRequest struct {
	To             string `json:"to"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type BurnRequest struct {
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type TransferRequest struct {
	To             string `json:"to"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type RewardNewPlayerRequest struct {
	Player         string `json:"player"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// BalanceRequest reads a balance from the engine, or from the read model
// when Projected is set.
type BalanceRequest struct {
	Address   string `json:"address"`
	Projected bool   `json:"projected,omitempty"`
}

type BalanceResponse struct {
	Address      string `json:"address"`
	Balance      string `json:"balance"`
	BaseUnits    uint64 `json:"base_units,string"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type MetadataRequest struct{}

type MetadataResponse struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"`
	Admin       string `json:"admin,omitempty"`
	Initialized bool   `json:"initialized"`
}

type AccountHistoryRequest struct {
	Address        string `json:"address"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type AccountHistoryResponse struct {
	Entries []query.JournalHistoryEntry `json:"entries"`
}

// --- Collections and assets ---

type CreateCollectionRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	URI            string `json:"uri"`
	Capacity       uint64 `json:"capacity"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type GetCollectionRequest struct {
	Name string `json:"name"`
}

type ListCollectionsRequest struct{}

type ListCollectionsResponse struct {
	Collections []registry.Info `json:"collections"`
}

type GetPoolRequest struct {
	Collection string `json:"collection"`
}

// AttributesInput is the request form of registry.Attributes. Rarity and
// skill are decoded wide so out-of-range values reach validation.
type AttributesInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URI         string `json:"uri"`
	Rarity      int    `json:"rarity"`
	Skill       int    `json:"skill"`
}

// Attributes range-checks rarity and skill. Name and URI are checked by
// the engine once collection defaults are applied.
func (in AttributesInput) Attributes() (registry.Attributes, error) {
	rarity, err := registry.AttributeLevel("rarity", in.Rarity)
	if err != nil {
		return registry.Attributes{}, err
	}
	skill, err := registry.AttributeLevel("skill", in.Skill)
	if err != nil {
		return registry.Attributes{}, err
	}
	return registry.Attributes{
		Name:        in.Name,
		Description: in.Description,
		URI:         in.URI,
		Rarity:      rarity,
		Skill:       skill,
	}, nil
}

// AllocateRequest serves both allocation policies.
type AllocateRequest struct {
	Collection     string          `json:"collection"`
	To             string          `json:"to"`
	Attributes     AttributesInput `json:"attributes"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type MintWithAttributesRequest struct {
	Collection     string          `json:"collection"`
	To             string          `json:"to"`
	Attributes     AttributesInput `json:"attributes"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type TransferAssetRequest struct {
	Collection     string `json:"collection"`
	AssetID        uint64 `json:"asset_id,string"`
	To             string `json:"to"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type BurnAssetRequest struct {
	Collection     string `json:"collection"`
	AssetID        uint64 `json:"asset_id,string"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type AvailableCountRequest struct {
	Collection string `json:"collection"`
}

type AvailableCountResponse struct {
	Collection string `json:"collection"`
	Available  uint64 `json:"available"`
}

// AssetRef names one asset for the read calls.
type AssetRef struct {
	Collection string `json:"collection"`
	AssetID    uint64 `json:"asset_id,string"`
}

type IsUsedResponse struct {
	Collection string `json:"collection"`
	AssetID    uint64 `json:"asset_id,string"`
	Used       bool   `json:"used"`
}

type AttributesResponse struct {
	Collection string              `json:"collection"`
	AssetID    uint64              `json:"asset_id,string"`
	Attributes registry.Attributes `json:"attributes"`
}

type OwnerResponse struct {
	Collection string `json:"collection"`
	AssetID    uint64 `json:"asset_id,string"`
	Owner      string `json:"owner"`
}

type ListAssetsRequest struct {
	Owner      string `json:"owner"`
	Collection string `json:"collection,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
}

// --- Admin ---

type VerifyIntegrityRequest struct{}

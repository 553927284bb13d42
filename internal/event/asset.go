package event

import (
	"GameLedger/internal/ledger"
	"GameLedger/internal/registry"
	"time"
)

type CollectionCreated struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	URI         string         `json:"uri"`
	Capacity    uint64         `json:"capacity"`
	Creator     ledger.Address `json:"creator"`
	Time        time.Time      `json:"time"`
}

func (e *CollectionCreated) EventType() EventType   { return EventTypeCollectionCreated }
func (e *CollectionCreated) CollectionName() string { return e.Name }
func (e *CollectionCreated) OccurredAt() time.Time  { return e.Time }

// AssetAllocated removes AssetID from the collection pool. Index is the
// position in the available list at selection time; replay takes exactly
// that slot.
type AssetAllocated struct {
	Collection string         `json:"collection"`
	AssetID    uint64         `json:"asset_id"`
	Index      int            `json:"index"`
	Policy     string         `json:"policy"`
	Caller     ledger.Address `json:"caller"`
	Time       time.Time      `json:"time"`
}

func (e *AssetAllocated) EventType() EventType   { return EventTypeAssetAllocated }
func (e *AssetAllocated) CollectionName() string { return e.Collection }
func (e *AssetAllocated) OccurredAt() time.Time  { return e.Time }

type AssetMinted struct {
	Collection string         `json:"collection"`
	AssetID    uint64         `json:"asset_id"`
	Owner      ledger.Address `json:"owner"`
	Creator    ledger.Address `json:"creator"`
	registry.Attributes
	Time time.Time `json:"time"`
}

func (e *AssetMinted) EventType() EventType   { return EventTypeAssetMinted }
func (e *AssetMinted) CollectionName() string { return e.Collection }
func (e *AssetMinted) OccurredAt() time.Time  { return e.Time }

type AssetTransferred struct {
	Collection string         `json:"collection"`
	AssetID    uint64         `json:"asset_id"`
	From       ledger.Address `json:"from"`
	To         ledger.Address `json:"to"`
	Time       time.Time      `json:"time"`
}

func (e *AssetTransferred) EventType() EventType   { return EventTypeAssetTransferred }
func (e *AssetTransferred) CollectionName() string { return e.Collection }
func (e *AssetTransferred) OccurredAt() time.Time  { return e.Time }

// AssetBurned carries the attributes the asset had before deletion.
type AssetBurned struct {
	Collection string         `json:"collection"`
	AssetID    uint64         `json:"asset_id"`
	Owner      ledger.Address `json:"owner"`
	Burner     ledger.Address `json:"burner"`
	registry.Attributes
	Time time.Time `json:"time"`
}

func (e *AssetBurned) EventType() EventType   { return EventTypeAssetBurned }
func (e *AssetBurned) CollectionName() string { return e.Collection }
func (e *AssetBurned) OccurredAt() time.Time  { return e.Time }

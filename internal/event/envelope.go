package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeLedgerInitialized
	EventTypeCollectionCreated
	EventTypeTokenMinted
	EventTypeTokenBurned
	EventTypeTokenTransferred
	EventTypePlayerRewarded
	EventTypeAssetAllocated
	EventTypeAssetMinted
	EventTypeAssetTransferred
	EventTypeAssetBurned
)

var eventTypeNames = map[EventType]string{
	EventTypeLedgerInitialized: "LedgerInitialized",
	EventTypeCollectionCreated: "CollectionCreated",
	EventTypeTokenMinted:       "TokenMinted",
	EventTypeTokenBurned:       "TokenBurned",
	EventTypeTokenTransferred:  "TokenTransferred",
	EventTypePlayerRewarded:    "PlayerRewarded",
	EventTypeAssetAllocated:    "AssetAllocated",
	EventTypeAssetMinted:       "AssetMinted",
	EventTypeAssetTransferred:  "AssetTransferred",
	EventTypeAssetBurned:       "AssetBurned",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) (EventType, bool) {
	for et, n := range eventTypeNames {
		if n == name {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Key of the operation that produced the event; shared by all events
	// of one call
	IdempotencyKey string

	EventType EventType

	// Collection context ("" for token events)
	Collection string

	// Event time taken from the engine clock when the call started
	Timestamp time.Time

	// JSON-encoded event
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	EventType() EventType

	// CollectionName returns the collection context ("" for token events)
	CollectionName() string

	// OccurredAt returns the event time
	OccurredAt() time.Time
}

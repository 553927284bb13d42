package event

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an event payload for the log and the message bus.
func Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	return data, nil
}

// New returns an empty event of the given type.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeLedgerInitialized:
		return &LedgerInitialized{}, nil
	case EventTypeCollectionCreated:
		return &CollectionCreated{}, nil
	case EventTypeTokenMinted:
		return &TokenMinted{}, nil
	case EventTypeTokenBurned:
		return &TokenBurned{}, nil
	case EventTypeTokenTransferred:
		return &TokenTransferred{}, nil
	case EventTypePlayerRewarded:
		return &PlayerRewarded{}, nil
	case EventTypeAssetAllocated:
		return &AssetAllocated{}, nil
	case EventTypeAssetMinted:
		return &AssetMinted{}, nil
	case EventTypeAssetTransferred:
		return &AssetTransferred{}, nil
	case EventTypeAssetBurned:
		return &AssetBurned{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}
}

// Decode parses a stored payload back into its event.
func Decode(et EventType, payload []byte) (Event, error) {
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}

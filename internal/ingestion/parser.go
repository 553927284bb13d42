package ingestion

import (
	"GameLedger/internal/apperr"
	"GameLedger/internal/ledger"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// maxRequestIDLen bounds the idempotency key taken from a trigger.
const maxRequestIDLen = 128

// RawEvent is an undecoded message from NATS together with its
// acknowledgement callbacks.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // processed, or permanently rejected
	NakFunc   func() // redeliver later
}

// RewardTrigger asks the ledger to grant the new-player reward.
type RewardTrigger struct {
	Player    ledger.Address
	RequestID string

	// Subject the trigger arrived on, for logging
	Subject string
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type rewardTriggerJSON struct {
	Player    string `json:"player"`
	RequestID string `json:"request_id"`
}

// ParseRewardTrigger decodes and validates a reward trigger. Unknown
// fields are rejected so producer typos fail loudly.
func ParseRewardTrigger(raw RawEvent) (RewardTrigger, error) {
	var j rewardTriggerJSON
	dec := json.NewDecoder(bytes.NewReader(raw.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&j); err != nil {
		return RewardTrigger{}, apperr.Wrap(apperr.CodeInvalidArgument, "parse reward trigger", err)
	}
	if dec.More() {
		return RewardTrigger{}, apperr.New(apperr.CodeInvalidArgument, "trailing data after reward trigger")
	}

	player, err := ledger.ParseAddress(j.Player)
	if err != nil {
		return RewardTrigger{}, err
	}

	requestID := strings.TrimSpace(j.RequestID)
	if requestID == "" {
		return RewardTrigger{}, apperr.New(apperr.CodeInvalidArgument, "request_id is required")
	}
	if len(requestID) > maxRequestIDLen {
		return RewardTrigger{}, apperr.WithMetadata(apperr.CodeInvalidArgument, "request_id is too long",
			map[string]string{"max_length": fmt.Sprint(maxRequestIDLen)})
	}

	return RewardTrigger{Player: player, RequestID: requestID, Subject: raw.Subject}, nil
}

// OutboundEvent is the JSON document published for every committed event.
type OutboundEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Collection     string          `json:"collection,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// EventSubject returns prefix.<EventType>[.<collection>].
func EventSubject(prefix, eventType, collection string) string {
	subject := prefix + "." + eventType
	if collection != "" {
		subject += "." + collection
	}
	return subject
}

package ingestion

import (
	"GameLedger/internal/core"
	"GameLedger/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamPublisher is the part of jetstream.JetStream the publisher uses.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed events to NATS for downstream
// consumers. It is fed by the persistence worker, so only durable events
// go out.
type OutboundPublisher struct {
	js            StreamPublisher
	inputChan     <-chan core.CoreOutput
	subjectPrefix string
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

func NewOutboundPublisher(js StreamPublisher, inputChan <-chan core.CoreOutput, subjectPrefix string, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:            js,
		inputChan:     inputChan,
		subjectPrefix: subjectPrefix,
		metrics:       metrics,
		logger:        logger,
	}
}

// Run publishes until the channel closes or ctx is cancelled.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				// Non-fatal: consumers can read the event log directly.
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
				continue
			}
			if op.metrics != nil {
				op.metrics.EventsPublished.WithLabelValues(out.Envelope.EventType.String()).Inc()
			}
		}
	}
}

// Message builds the subject and body for one committed event.
func Message(prefix string, out core.CoreOutput) (string, []byte, error) {
	env := out.Envelope
	data, err := json.Marshal(OutboundEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Collection:     env.Collection,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
		Timestamp:      env.Timestamp,
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal event: %w", err)
	}
	return EventSubject(prefix, env.EventType.String(), env.Collection), data, nil
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	subject, data, err := Message(op.subjectPrefix, out)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// The sequence doubles as the JetStream message id, so a republish
	// after restart is deduplicated by the stream.
	_, err = op.js.Publish(ctx, subject, data,
		jetstream.WithMsgID(strconv.FormatInt(out.Envelope.Sequence, 10)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, name, subjectPrefix string, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", name).Msg("ensured outbound stream")
	return nil
}

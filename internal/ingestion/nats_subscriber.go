package ingestion

import (
	"GameLedger/internal/apperr"
	"GameLedger/internal/core"
	"GameLedger/internal/ledger"
	"GameLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes a JetStream subject and hands each message to
// eventChan. Messages are acknowledged by whoever processes the RawEvent.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	logger    zerolog.Logger
	consumers []jetstream.ConsumeContext
}

// SubjectConfig names one durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// RewardSubjects returns the consumer for new-player reward triggers.
func RewardSubjects(stream, subject, consumer string) []SubjectConfig {
	return []SubjectConfig{
		{Subject: subject + ".>", ConsumerName: consumer, StreamName: stream},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureRewardStream creates the inbound trigger stream if missing.
func EnsureRewardStream(ctx context.Context, js jetstream.JetStream, name, subject string, logger zerolog.Logger) error {
	cfg := jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subject + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("gameledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

// Rewarder is the engine surface the reward loop drives.
type Rewarder interface {
	Admin() ledger.Address
	RewardNewPlayer(caller, player ledger.Address, opts ...core.CallOption) (*core.Receipt, error)
}

// RewardLoop turns reward triggers into RewardNewPlayer calls made as the
// ledger admin, keyed by the trigger's request id.
type RewardLoop struct {
	rawChan <-chan RawEvent
	ledger  Rewarder
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewRewardLoop(rawChan <-chan RawEvent, l Rewarder, metrics *observability.Metrics, logger zerolog.Logger) *RewardLoop {
	return &RewardLoop{rawChan: rawChan, ledger: l, metrics: metrics, logger: logger}
}

// Run processes triggers until the channel closes or ctx is cancelled.
func (rl *RewardLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rl.rawChan:
			if !ok {
				return nil
			}
			rl.Handle(raw)
		}
	}
}

// Handle processes one trigger. Malformed triggers and domain rejections
// are acked so they are not redelivered; an uninitialized or backlogged
// ledger and unexpected failures nak.
func (rl *RewardLoop) Handle(raw RawEvent) {
	trigger, err := ParseRewardTrigger(raw)
	if err != nil {
		rl.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("invalid reward trigger")
		rl.record("invalid")
		raw.AckFunc()
		return
	}

	receipt, err := rl.ledger.RewardNewPlayer(rl.ledger.Admin(), trigger.Player,
		core.WithIdempotencyKey(trigger.RequestID))
	switch {
	case errors.Is(err, apperr.ErrDuplicateRequest) || (err == nil && receipt.Duplicate):
		rl.record("duplicate")
		raw.AckFunc()
	case err == nil && len(receipt.Events) == 0:
		rl.record("skipped")
		raw.AckFunc()
	case err == nil:
		rl.logger.Info().
			Str("player", trigger.Player.Short()).
			Str("request_id", trigger.RequestID).
			Ints64("sequences", receipt.Sequences).
			Msg("player rewarded")
		rl.record("rewarded")
		raw.AckFunc()
	case errors.Is(err, apperr.ErrNotInitialized), errors.Is(err, apperr.ErrUnavailable):
		rl.record("not_ready")
		raw.NakFunc()
	case apperr.CodeOf(err) != apperr.CodeUnknown:
		rl.logger.Warn().Err(err).
			Str("player", trigger.Player.Short()).
			Str("request_id", trigger.RequestID).
			Msg("reward rejected")
		rl.record("rejected")
		raw.AckFunc()
	default:
		rl.logger.Error().Err(err).Str("request_id", trigger.RequestID).Msg("reward failed")
		rl.record("error")
		raw.NakFunc()
	}
}

func (rl *RewardLoop) record(outcome string) {
	if rl.metrics != nil {
		rl.metrics.RewardTriggers.WithLabelValues(outcome).Inc()
	}
}

package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"StableLedger/internal/event"
	"StableLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw requests
// to the core loop via rawChan. NATS is the high-throughput ingestion surface;
// each subject maps to one event type.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is the parsed-but-untyped request from NATS, ready for the shell
// to validate and convert into a typed event.Event.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK once the request reached the core loop
	NakFunc   func() // NAK on shutdown (will be redelivered)
}

// SubjectConfig maps a NATS subject to an event type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

const (
	StreamConfig    = "STABLE_CONFIG"
	StreamPositions = "STABLE_POSITIONS"
	StreamWallets   = "STABLE_WALLETS"

	streamMaxAge = 72 * time.Hour
)

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "stable.config.init.>", EventType: event.EventTypeInitializeConfig.String(), ConsumerName: "ledger-config-init", StreamName: StreamConfig},
		{Subject: "stable.config.update.>", EventType: event.EventTypeUpdateConfig.String(), ConsumerName: "ledger-config-update", StreamName: StreamConfig},
		{Subject: "stable.positions.deposit.>", EventType: event.EventTypeDeposit.String(), ConsumerName: "ledger-deposit", StreamName: StreamPositions},
		{Subject: "stable.positions.withdraw.>", EventType: event.EventTypeWithdraw.String(), ConsumerName: "ledger-withdraw", StreamName: StreamPositions},
		{Subject: "stable.positions.liquidate.>", EventType: event.EventTypeLiquidate.String(), ConsumerName: "ledger-liquidate", StreamName: StreamPositions},
		{Subject: "stable.wallets.funded.>", EventType: event.EventTypeWalletFunded.String(), ConsumerName: "ledger-wallet-funded", StreamName: StreamWallets},
		{Subject: "stable.wallets.withdrawn.>", EventType: event.EventTypeWalletWithdrawn.String(), ConsumerName: "ledger-wallet-withdrawn", StreamName: StreamWallets},
	}
}

// SubjectResolver maps concrete subjects back to event types by longest prefix.
type SubjectResolver struct {
	prefixes map[string]string
}

func NewSubjectResolver(subjects []SubjectConfig) *SubjectResolver {
	r := &SubjectResolver{prefixes: make(map[string]string, len(subjects))}
	for _, cfg := range subjects {
		r.prefixes[strings.TrimSuffix(cfg.Subject, ".>")] = cfg.EventType
	}
	return r
}

// Resolve returns "" when no configured prefix matches.
func (r *SubjectResolver) Resolve(subject string) string {
	bestMatch := ""
	bestType := ""
	for prefix, evtType := range r.prefixes {
		if subject != prefix && !strings.HasPrefix(subject, prefix+".") {
			continue
		}
		if len(prefix) > len(bestMatch) {
			bestMatch = prefix
			bestType = evtType
		}
	}
	return bestType
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    observability.NewLogger("nats-subscriber"),
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

// EnsureStreams creates the inbound JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		inboundStream(StreamConfig, "stable.config.>"),
		inboundStream(StreamPositions, "stable.positions.>"),
		inboundStream(StreamWallets, "stable.wallets.>"),
	}

	logger := observability.NewLogger("nats-subscriber")
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

func inboundStream(name, subject string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    streamMaxAge,
		Replicas:  1,
	}
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
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

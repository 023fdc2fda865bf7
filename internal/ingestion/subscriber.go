package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// StreamName holds the execution feed. File storage, limits
	// retention: the audit tables in Postgres are the permanent record,
	// the stream only has to survive a ledger restart.
	StreamName = "BASIS_EXECUTIONS"

	// SubjectPattern is the execution subject space. The tail token is
	// free for the publisher (venue, strategy leg); this subsystem
	// consumes all of it.
	SubjectPattern = "basis.executions.>"

	// ConsumerName is the durable consumer identity, so a restarted
	// ledger resumes where the previous instance acked.
	ConsumerName = "basis-ledger-executions"

	ackWait    = 30 * time.Second
	maxDeliver = 5
	streamAge  = 72 * time.Hour
)

// RawMessage is one undecoded execution payload with its ack handles. The
// subscriber hands these to the ingest loop; only the loop decides between
// Ack and Nak.
type RawMessage struct {
	Subject string
	Data    []byte
	Ack     func()
	Nak     func()
}

// Subscriber owns the durable JetStream consumer and forwards messages to
// the ingest channel.
type Subscriber struct {
	js       jetstream.JetStream
	out      chan<- RawMessage
	logger   zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, out chan<- RawMessage, logger zerolog.Logger) *Subscriber {
	return &Subscriber{js: js, out: out, logger: logger}
}

// Subscribe creates the durable consumer and starts delivery. Explicit
// ack; an unacked message redelivers up to maxDeliver times.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: SubjectPattern,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", ConsumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawMessage{
			Subject: msg.Subject(),
			Data:    msg.Data(),
			Ack:     func() { msg.Ack() },
			Nak:     func() { msg.Nak() },
		}
		select {
		case s.out <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", ConsumerName, err)
	}

	s.consumer = cc
	s.logger.Info().
		Str("stream", StreamName).
		Str("subject", SubjectPattern).
		Str("consumer", ConsumerName).
		Msg("Subscribed to execution feed")
	return nil
}

// Stop halts delivery. In-flight messages redeliver after ackWait.
func (s *Subscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
}

// EnsureStream creates the execution stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPattern},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    streamAge,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// ConnectNATS dials NATS with unbounded reconnects and returns the
// JetStream handle.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
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

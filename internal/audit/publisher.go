package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/observability"
)

const (
	// StreamName holds published audit records for downstream consumers
	// (monitoring, the strategy's own post-trade checks). Postgres is the
	// durable trail; this stream is a best-effort live feed.
	StreamName = "BASIS_AUDIT"

	// SubjectPrefix is extended with the record type:
	// basis.audit.events.DeltaApplied, basis.audit.events.CycleCompleted.
	SubjectPrefix = "basis.audit.events"

	streamAge = 72 * time.Hour
)

// Publisher drains an audit channel and publishes each record to
// JetStream. A publish failure is logged and counted, never propagated:
// the Postgres writer holds the durable copy.
type Publisher struct {
	js      jetstream.JetStream
	in      <-chan Record
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, in <-chan Record, logger zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{js: js, in: in, logger: logger, metrics: metrics}
}

// Run blocks until the context is cancelled or the input channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-p.in:
			if !ok {
				return nil
			}
			p.publish(ctx, rec)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		p.countError()
		p.logger.Warn().Err(err).Str("record_id", rec.RecordID.String()).Msg("Audit record marshal failed")
		return
	}

	subject := fmt.Sprintf("%s.%s", SubjectPrefix, rec.TypeName)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.countError()
		p.logger.Warn().
			Err(err).
			Str("subject", subject).
			Str("record_id", rec.RecordID.String()).
			Msg("Audit publish failed, record still persisted")
		return
	}

	if p.metrics != nil {
		p.metrics.AuditPublished.WithLabelValues(rec.TypeName).Inc()
	}
}

func (p *Publisher) countError() {
	if p.metrics != nil {
		p.metrics.AuditPublishErrors.Inc()
	}
}

// EnsureStream creates the audit stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
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

package ingestion

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/fault"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/observability"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/reconcile"
)

// Processor runs one cycle per trigger. Satisfied by the orchestrator and
// by whatever wrapping the daemon puts around it.
type Processor interface {
	Process(ctx context.Context, trig reconcile.Trigger) reconcile.Result
}

// Loop drains raw execution messages, parses them, and drives the
// processor. Ack policy:
//
//   - parse failure: ack and count. The payload will not improve on
//     redelivery.
//   - cycle completed, duplicate, or recoverably failed: ack. The deltas
//     are on the ledger (or were rejected whole) and the execution ID is
//     marked, so a redelivery would only be acked as a duplicate.
//   - fatal cycle error: nak and stop. The session is aborting on a
//     structural bug; leaving the message unacked keeps it for the
//     operator.
type Loop struct {
	in      <-chan RawMessage
	proc    Processor
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewLoop(in <-chan RawMessage, proc Processor, logger zerolog.Logger, metrics *observability.Metrics) *Loop {
	return &Loop{in: in, proc: proc, logger: logger, metrics: metrics}
}

// Run blocks until the context is cancelled, the input channel closes, or
// a fatal cycle error surfaces. The fatal error is returned so the daemon
// can halt the session.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-l.in:
			if !ok {
				return nil
			}
			if l.metrics != nil {
				l.metrics.IngestReceived.WithLabelValues(msg.Subject).Inc()
			}

			trig, err := ParseExecution(msg.Data)
			if err != nil {
				if l.metrics != nil {
					l.metrics.IngestParseErrors.WithLabelValues(msg.Subject).Inc()
				}
				l.logger.Warn().
					Err(err).
					Str("subject", msg.Subject).
					Msg("Dropping unparseable execution payload")
				msg.Ack()
				continue
			}

			res := l.proc.Process(ctx, trig)
			if res.Err != nil && fault.IsFatal(res.Err) {
				l.logger.Error().
					Err(res.Err).
					Str("execution_id", trig.ExecutionID.String()).
					Msg("Fatal cycle error, halting ingestion")
				msg.Nak()
				return res.Err
			}
			msg.Ack()
		}
	}
}

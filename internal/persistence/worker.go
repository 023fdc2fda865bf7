package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/observability"
)

// Entry is one cycle's persistable output. Any field may be empty; the
// worker batches each table independently.
type Entry struct {
	Audit  []AuditRow
	PnL    *PnLRow
	Report *ReportRow
}

// Worker drains the persist channel and batch-writes to Postgres. The
// channel uses blocking sends from the producers, so a stalled database
// backpressures the tight loop instead of losing trail. A failed flush
// retries with exponential backoff until it succeeds or the worker is
// shut down; rows are never dropped.
type Worker struct {
	writer       *Writer
	in           <-chan Entry
	batchSize    int
	flushTimeout time.Duration
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(db *sql.DB, in <-chan Entry, batchSize int, flushTimeout time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Worker {
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushTimeout <= 0 {
		flushTimeout = 100 * time.Millisecond
	}
	return &Worker{
		writer:       NewWriter(db),
		in:           in,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		logger:       logger,
		metrics:      metrics,
	}
}

type batch struct {
	audits  []AuditRow
	pnls    []PnLRow
	reports []ReportRow
}

func (b *batch) add(e Entry) {
	b.audits = append(b.audits, e.Audit...)
	if e.PnL != nil {
		b.pnls = append(b.pnls, *e.PnL)
	}
	if e.Report != nil {
		b.reports = append(b.reports, *e.Report)
	}
}

func (b *batch) size() int {
	return len(b.audits) + len(b.pnls) + len(b.reports)
}

func (b *batch) reset() {
	b.audits = b.audits[:0]
	b.pnls = b.pnls[:0]
	b.reports = b.reports[:0]
}

// Run blocks until the context is cancelled or the input channel closes.
// Both paths flush the pending batch before returning.
func (w *Worker) Run(ctx context.Context) error {
	var pending batch
	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.finalFlush(&pending)
			return ctx.Err()

		case entry, ok := <-w.in:
			if !ok {
				w.finalFlush(&pending)
				return nil
			}
			pending.add(entry)
			if w.metrics != nil {
				w.metrics.SetChannelMetrics("persist", len(w.in), cap(w.in))
			}

			if pending.size() >= w.batchSize {
				w.flushWithRetry(ctx, &pending)
				pending.reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if pending.size() > 0 {
				w.flushWithRetry(ctx, &pending)
				pending.reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func (w *Worker) finalFlush(pending *batch) {
	if pending.size() == 0 {
		return
	}
	// Shutdown path: one attempt on a fresh context so the batch is not
	// lost to the cancelled one.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.flush(ctx, pending); err != nil {
		w.logger.Error().Err(err).Int("rows", pending.size()).Msg("Final flush failed, rows lost")
	}
}

// flushWithRetry retries the flush with exponential backoff until it
// succeeds or the context is cancelled. On cancellation one final attempt
// runs on a fresh context.
func (w *Worker) flushWithRetry(ctx context.Context, pending *batch) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("rows", pending.size()).
				Msg("Persistence flush retrying")
			select {
			case <-ctx.Done():
				w.finalFlush(pending)
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, pending)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("attempts", attempt).Msg("Persistence flush recovered")
			}
			return
		}
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("flush").Inc()
		}
	}
}

// flush writes all three tables in one transaction.
func (w *Worker) flush(ctx context.Context, pending *batch) error {
	start := time.Now()

	tx, err := w.writer.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteAuditBatch(ctx, tx, pending.audits); err != nil {
		return err
	}
	if err := w.writer.WritePnLBatch(ctx, tx, pending.pnls); err != nil {
		return err
	}
	if err := w.writer.WriteReportBatch(ctx, tx, pending.reports); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(pending.size()))
		w.metrics.PersistRowsWritten.WithLabelValues("audit_events").Add(float64(len(pending.audits)))
		w.metrics.PersistRowsWritten.WithLabelValues("pnl_records").Add(float64(len(pending.pnls)))
		w.metrics.PersistRowsWritten.WithLabelValues("reconciliation_reports").Add(float64(len(pending.reports)))
	}
	return nil
}

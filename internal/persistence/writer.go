package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// execer is satisfied by *sql.DB and *sql.Tx; the worker flushes all three
// tables inside one transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Writer issues the batch INSERTs. Multi-row VALUES with ON CONFLICT DO
// NOTHING; portable and fast enough for the cycle rates this subsystem
// sees.
type Writer struct {
	db *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// DB exposes the handle for transaction control.
func (w *Writer) DB() *sql.DB { return w.db }

// WriteAuditBatch inserts audit rows, idempotent on record_id.
func (w *Writer) WriteAuditBatch(ctx context.Context, ex execer, rows []AuditRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 9
	query := `INSERT INTO audit.events
		(record_id, record_type, ts, position_key, source, amount_before, amount_after, execution_id, detail)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*cols)
	for i, r := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			r.RecordID, r.RecordType, r.Timestamp, r.PositionKey,
			r.Source, r.Before, r.After, r.ExecutionID, r.Detail,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (record_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WritePnLBatch inserts P&L rows, idempotent on record_id.
func (w *Writer) WritePnLBatch(ctx context.Context, ex execer, rows []PnLRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 10
	query := `INSERT INTO history.pnl_records
		(record_id, ts, portfolio_value, cumulative_pnl, hourly_pnl, attribution_pnl, difference, tolerance, passed, categories)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*cols)
	for i, r := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			r.RecordID, r.Timestamp, r.PortfolioValue, r.CumulativePnL,
			r.HourlyPnL, r.AttributionPnL, r.Difference, r.Tolerance,
			r.Passed, r.Categories,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (record_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteReportBatch inserts reconciliation reports, idempotent on
// report_id.
func (w *Writer) WriteReportBatch(ctx context.Context, ex execer, rows []ReportRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 10
	query := `INSERT INTO history.reconciliation_reports
		(report_id, ts, trigger_kind, sequence, state, success, retries, mismatch_count, digest, failure_reason)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*cols)
	for i, r := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			r.ReportID, r.Timestamp, r.Trigger, r.Sequence, r.State,
			r.Success, r.Retries, r.MismatchCount, r.Digest, r.FailureReason,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (report_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders ($base+1, ..., $base+n).
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}

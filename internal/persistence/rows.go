// Package persistence writes the subsystem's durable trail to Postgres:
// audit events, per-cycle P&L records, and reconciliation reports. Writes
// are batched multi-row INSERTs with ON CONFLICT DO NOTHING on each row's
// identity, so the worker's retry loop and redelivered cycles stay
// idempotent.
package persistence

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/audit"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/pnl"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/reconcile"
)

// AuditRow is one row in audit.events. ExecutionID is set on cycle
// records for execution triggers; the durable dedup probe indexes it.
type AuditRow struct {
	RecordID    uuid.UUID
	RecordType  string
	Timestamp   time.Time
	PositionKey string
	Source      string
	Before      decimal.Decimal
	After       decimal.Decimal
	ExecutionID *string
	Detail      []byte
}

// BuildAuditRow flattens an audit record into its row shape.
func BuildAuditRow(rec audit.Record) AuditRow {
	row := AuditRow{
		RecordID:    rec.RecordID,
		RecordType:  rec.TypeName,
		Timestamp:   rec.Timestamp,
		PositionKey: rec.Key,
		Source:      rec.Source,
		Before:      rec.Before,
		After:       rec.After,
	}
	if id, ok := rec.Detail["execution_id"]; ok {
		row.ExecutionID = &id
	}
	if len(rec.Detail) > 0 {
		// Detail is map[string]string; marshal cannot fail.
		row.Detail, _ = json.Marshal(rec.Detail)
	}
	return row
}

// PnLRow is one row in history.pnl_records. RecordID is minted at build
// time so a retried flush conflicts instead of duplicating.
type PnLRow struct {
	RecordID       uuid.UUID
	Timestamp      time.Time
	PortfolioValue decimal.Decimal
	CumulativePnL  decimal.Decimal
	HourlyPnL      decimal.Decimal
	AttributionPnL decimal.Decimal
	Difference     decimal.Decimal
	Tolerance      decimal.Decimal
	Passed         bool
	Categories     []byte
}

// BuildPnLRow flattens a P&L record; the attribution categories travel as
// a JSON document.
func BuildPnLRow(rec *pnl.Record) PnLRow {
	categories, _ := json.Marshal(rec.Categories)
	return PnLRow{
		RecordID:       uuid.New(),
		Timestamp:      rec.Timestamp,
		PortfolioValue: rec.PortfolioValue,
		CumulativePnL:  rec.CumulativePnL,
		HourlyPnL:      rec.HourlyPnL,
		AttributionPnL: rec.AttributionPnL,
		Difference:     rec.Reconciliation.Difference,
		Tolerance:      rec.Reconciliation.Tolerance,
		Passed:         rec.Reconciliation.Passed,
		Categories:     categories,
	}
}

// ReportRow is one row in history.reconciliation_reports.
type ReportRow struct {
	ReportID      uuid.UUID
	Timestamp     time.Time
	Trigger       string
	Sequence      int64
	State         string
	Success       bool
	Retries       int
	MismatchCount int
	Digest        string
	FailureReason *string
}

// BuildReportRow flattens a cycle result. Duplicate-trigger cycles carry
// no new state and are not reported.
func BuildReportRow(ts time.Time, res reconcile.Result) ReportRow {
	row := ReportRow{
		ReportID:      uuid.New(),
		Timestamp:     ts,
		Trigger:       res.Trigger,
		Sequence:      int64(res.Sequence),
		State:         res.State.String(),
		Success:       res.Success,
		Retries:       res.Retries,
		MismatchCount: len(res.Mismatches),
	}
	if res.Success {
		row.Digest = hex.EncodeToString(res.Digest[:])
	}
	if res.Err != nil {
		reason := res.Err.Error()
		row.FailureReason = &reason
	}
	return row
}

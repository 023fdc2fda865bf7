package persistence_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/audit"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/persistence"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/pnl"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/reconcile"
)

var ts = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func TestBuildAuditRow_DeltaRecord(t *testing.T) {
	rec := audit.NewRecord(audit.RecordTypeDeltaApplied, ts)
	rec.Key = "binance:spot:USDT"
	rec.Source = "trade"
	rec.Before = decimal.NewFromInt(100)
	rec.After = decimal.NewFromInt(70)

	row := persistence.BuildAuditRow(rec)
	if row.RecordID != rec.RecordID {
		t.Error("record identity not preserved")
	}
	if row.RecordType != "DeltaApplied" {
		t.Errorf("record_type: got %s", row.RecordType)
	}
	if row.PositionKey != "binance:spot:USDT" || row.Source != "trade" {
		t.Errorf("key/source: got %s / %s", row.PositionKey, row.Source)
	}
	if row.ExecutionID != nil {
		t.Error("delta record should carry no execution_id")
	}
	if row.Detail != nil {
		t.Error("empty detail should stay nil")
	}
}

func TestBuildAuditRow_CycleRecordExtractsExecutionID(t *testing.T) {
	rec := audit.NewRecord(audit.RecordTypeCycleCompleted, ts)
	rec.Source = "execution"
	rec.Detail = map[string]string{
		"execution_id": "550e8400-e29b-41d4-a716-446655440000",
		"state":        "Success",
	}

	row := persistence.BuildAuditRow(rec)
	if row.ExecutionID == nil || *row.ExecutionID != "550e8400-e29b-41d4-a716-446655440000" {
		t.Fatalf("execution_id not extracted: %v", row.ExecutionID)
	}

	var detail map[string]string
	if err := json.Unmarshal(row.Detail, &detail); err != nil {
		t.Fatalf("detail not valid JSON: %v", err)
	}
	if detail["state"] != "Success" {
		t.Errorf("detail round-trip: %v", detail)
	}
}

func TestBuildPnLRow(t *testing.T) {
	rec := &pnl.Record{
		Timestamp:      ts,
		PortfolioValue: decimal.NewFromInt(10950),
		CumulativePnL:  decimal.NewFromInt(950),
		HourlyPnL:      decimal.NewFromInt(-50),
		AttributionPnL: decimal.NewFromInt(1000),
		Categories: []pnl.CategoryResult{
			{Name: "funding_pnl", Amount: decimal.NewFromInt(12)},
		},
		Reconciliation: pnl.ToleranceCheck{
			Difference: decimal.NewFromInt(50),
			Tolerance:  decimal.NewFromInt(100),
			Passed:     true,
		},
	}

	row := persistence.BuildPnLRow(rec)
	if row.RecordID == uuid.Nil {
		t.Error("row identity not minted")
	}
	if !row.CumulativePnL.Equal(decimal.NewFromInt(950)) || !row.Passed {
		t.Errorf("row fields: %+v", row)
	}

	var categories []pnl.CategoryResult
	if err := json.Unmarshal(row.Categories, &categories); err != nil {
		t.Fatalf("categories not valid JSON: %v", err)
	}
	if len(categories) != 1 || categories[0].Name != "funding_pnl" {
		t.Errorf("categories round-trip: %+v", categories)
	}
}

func TestBuildReportRow(t *testing.T) {
	res := reconcile.Result{
		Trigger:  "execution",
		Sequence: 7,
		State:    reconcile.StateSuccess,
		Success:  true,
		Digest:   [32]byte{0xab, 0xcd},
	}

	row := persistence.BuildReportRow(ts, res)
	if row.Trigger != "execution" || row.Sequence != 7 || !row.Success {
		t.Errorf("row fields: %+v", row)
	}
	if row.State != "Success" {
		t.Errorf("state: got %s", row.State)
	}
	if len(row.Digest) != 64 || row.Digest[:4] != "abcd" {
		t.Errorf("digest hex: got %q", row.Digest)
	}
	if row.FailureReason != nil {
		t.Error("successful cycle should carry no failure reason")
	}

	failed := reconcile.Result{
		Trigger: "execution",
		State:   reconcile.StateFailed,
		Retries: 3,
		Err:     &reconcile.MismatchError{Retries: 3},
	}
	row = persistence.BuildReportRow(ts, failed)
	if row.Success || row.FailureReason == nil {
		t.Errorf("failed row: %+v", row)
	}
	if row.Digest != "" {
		t.Error("failed cycle should carry no digest")
	}
}

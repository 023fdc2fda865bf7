// Package audit defines the structured trail every ledger mutation and
// reconciliation cycle leaves behind. The record shape is fixed here; sinks
// are pluggable (NATS publisher, Postgres batch writer, or nothing).
package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/observability"
)

// RecordType discriminates audit records.
type RecordType int32

const (
	RecordTypeUnknown RecordType = iota
	RecordTypeDeltaApplied
	RecordTypeSettlementApplied
	RecordTypeCycleCompleted
)

func (rt RecordType) String() string {
	switch rt {
	case RecordTypeDeltaApplied:
		return "DeltaApplied"
	case RecordTypeSettlementApplied:
		return "SettlementApplied"
	case RecordTypeCycleCompleted:
		return "CycleCompleted"
	default:
		return "Unknown"
	}
}

// Record is one audit trail entry. For balance mutations, Before/After are
// the balance around the mutation and Key is the position key path. Cycle
// records leave Key empty and carry diagnostics in Detail.
type Record struct {
	RecordID  uuid.UUID         `json:"record_id"`
	Type      RecordType        `json:"-"`
	TypeName  string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Key       string            `json:"key,omitempty"`
	Source    string            `json:"source"`
	Before    decimal.Decimal   `json:"before"`
	After     decimal.Decimal   `json:"after"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// NewRecord stamps a record with a fresh identity and its type name.
func NewRecord(rt RecordType, ts time.Time) Record {
	return Record{
		RecordID:  uuid.New(),
		Type:      rt,
		TypeName:  rt.String(),
		Timestamp: ts,
	}
}

// Sink receives audit records. Emit must not fail the caller: durable sinks
// block until accepted, best-effort sinks log and drop internally.
type Sink interface {
	Emit(rec Record)
}

// NopSink discards records.
type NopSink struct{}

func (NopSink) Emit(Record) {}

// MultiSink fans a record out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(rec Record) {
	for _, s := range m {
		s.Emit(rec)
	}
}

// ChannelSink forwards records to a channel with a blocking send, so a slow
// durable consumer backpressures the update cycle instead of losing trail.
type ChannelSink struct {
	Ch chan<- Record
}

func (c ChannelSink) Emit(rec Record) {
	c.Ch <- rec
}

// MetricsSink counts mutations by record type and source. Wired into the
// MultiSink so the ledger itself stays metrics-free.
type MetricsSink struct {
	Metrics *observability.Metrics
}

func (m MetricsSink) Emit(rec Record) {
	if m.Metrics == nil {
		return
	}
	switch rec.Type {
	case RecordTypeDeltaApplied:
		m.Metrics.DeltasApplied.WithLabelValues(rec.Source).Inc()
	case RecordTypeSettlementApplied:
		m.Metrics.SettlementsApplied.WithLabelValues(rec.Source).Inc()
	}
}

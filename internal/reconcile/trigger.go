package reconcile

import (
	"time"

	"github.com/google/uuid"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/ledger"
)

// Trigger starts a cycle. Implementations carry the timestamp the ledger
// advances to; executions additionally carry deltas and a stable identity
// for dedup.
type Trigger interface {
	Kind() string
	Timestamp() time.Time
}

// ExecutionTrigger is a confirmed execution: a batch of trade and transfer
// deltas delivered at-least-once under a stable execution ID.
type ExecutionTrigger struct {
	ExecutionID uuid.UUID
	Time        time.Time
	Deltas      []ledger.Delta
}

func (t *ExecutionTrigger) Kind() string { return "execution" }

func (t *ExecutionTrigger) Timestamp() time.Time { return t.Time }

// RefreshTrigger is the periodic-timer cycle: no deltas, settlement
// generation in simulation mode, a poll-and-record in live mode.
type RefreshTrigger struct {
	Time time.Time
}

func (t *RefreshTrigger) Kind() string { return "refresh" }

func (t *RefreshTrigger) Timestamp() time.Time { return t.Time }

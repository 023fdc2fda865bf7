package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/fault"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/ledger"
)

// Mismatch is one key whose simulated and real balances disagree beyond
// the comparison tolerance.
type Mismatch struct {
	Key      ledger.PositionKey
	Expected decimal.Decimal // simulated
	Actual   decimal.Decimal // polled from the venue
	Diff     decimal.Decimal
}

// MismatchError reports a comparison that still failed after the retry
// budget. Recoverable: the cycle is reported failed and the next trigger
// proceeds.
type MismatchError struct {
	Mismatches []Mismatch
	Retries    int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("reconciliation failed after %d retries: %d keys beyond tolerance", e.Retries, len(e.Mismatches))
}

func (e *MismatchError) Severity() fault.Severity { return fault.SeverityRecoverable }

// Result is the structured outcome of one cycle.
type Result struct {
	Trigger  string
	Sequence uint64
	State    CycleState
	Success  bool

	// Duplicate marks an execution trigger acknowledged without applying
	// deltas because its ID was already processed.
	Duplicate bool

	Retries    int
	Mismatches []Mismatch

	// Digest is the chained cycle digest, set on success.
	Digest [32]byte

	Err error
}

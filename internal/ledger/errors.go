package ledger

import (
	"fmt"
	"time"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/fault"
)

// UnknownPositionError reports a delta against a key outside the declared
// universe. This is a systemic bug signal (the strategy and the ledger
// disagree about the instrument set), so it is fatal: the session aborts
// rather than accumulate state for an instrument nobody reconciles.
type UnknownPositionError struct {
	Key PositionKey
}

func (e *UnknownPositionError) Error() string {
	return fmt.Sprintf("position key %s is not in the declared universe", e.Key.Path())
}

func (e *UnknownPositionError) Severity() fault.Severity {
	return fault.SeverityFatal
}

// StaleTimestampError reports an update carrying a timestamp earlier than
// one the ledger has already advanced past. Settlement dedup markers for
// the old timestamp are gone, so re-applying could double-settle; the
// update is rejected before any mutation. Recoverable: the trigger is a
// replayed or out-of-order delivery, not ledger corruption.
type StaleTimestampError struct {
	Timestamp     time.Time
	LastTimestamp time.Time
}

func (e *StaleTimestampError) Error() string {
	return fmt.Sprintf("timestamp %s precedes ledger time %s",
		e.Timestamp.UTC().Format(time.RFC3339), e.LastTimestamp.UTC().Format(time.RFC3339))
}

func (e *StaleTimestampError) Severity() fault.Severity {
	return fault.SeverityRecoverable
}

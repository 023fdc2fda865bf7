// Package venue queries external venues for authoritative position state.
// Each venue is wrapped in an Adapter; the Poller fans out to all of them
// in parallel and degrades per venue on failure instead of failing the poll.
package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/fault"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/ledger"
)

// Adapter reads the balances held at one venue. The timestamp is the
// cycle time being reconciled: live venues answer with current state and
// may ignore it, replay-style adapters answer as of that instant.
// Implementations must be safe for concurrent use; the poller calls them
// from separate goroutines under a shared deadline.
type Adapter interface {
	// Name returns the venue identifier used in position keys.
	Name() string

	// GetPositions returns every nonzero balance the venue holds at the
	// given time, keyed by position. Keys not in the declared universe
	// are allowed here; the ledger filters them on recording.
	GetPositions(ctx context.Context, ts time.Time) (map[ledger.PositionKey]decimal.Decimal, error)

	// GetBalance returns the venue's total holding of one asset at the
	// given time, summed across instruments. Zero when the asset is not
	// held there.
	GetBalance(ctx context.Context, asset string, ts time.Time) (decimal.Decimal, error)
}

// QueryError marks a venue read failure. It is recoverable: the poller
// keeps the venue's previous balances and flags it stale.
type QueryError struct {
	Venue string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("venue %s query failed: %v", e.Venue, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func (e *QueryError) Severity() fault.Severity { return fault.SeverityRecoverable }

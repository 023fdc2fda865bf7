// Package pricing defines the market-data surface the ledger subsystem
// consumes. Implementations are expected to serve from cached or
// preloaded data; lookups are synchronous and must not block on network
// round-trips inside an update cycle.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Service supplies market prices, oracle prices, funding rates, and
// currency conversion. Venue-facing implementations live outside this
// module; FixtureService serves static tables for simulation and tests.
type Service interface {
	// GetMarketPrice returns the USD market price of an asset or
	// instrument symbol at the given timestamp.
	GetMarketPrice(symbol string, ts time.Time) (decimal.Decimal, error)

	// GetOraclePrice returns the oracle (protocol-reported) USD price of a
	// token. Oracle prices can lag or lead market prices; the spread is an
	// attribution input, not an error.
	GetOraclePrice(token string, ts time.Time) (decimal.Decimal, error)

	// GetFundingRate returns the venue-specific funding rate for a
	// perpetual symbol at the given timestamp. There is no generic
	// fallback: an unknown (venue, symbol) pair is an error.
	GetFundingRate(venue, symbol string, ts time.Time) (decimal.Decimal, error)

	// ConvertPrice converts an amount denominated in one currency into
	// another, using USD as the crossing leg.
	ConvertPrice(from, to string, amount decimal.Decimal) (decimal.Decimal, error)
}

package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Source identifies what caused a delta.
type Source int32

const (
	SourceUnknown Source = iota
	SourceTrade
	SourceTransfer
	SourceFunding
	SourceReward
	SourceInitialCapital
)

func (s Source) String() string {
	switch s {
	case SourceTrade:
		return "trade"
	case SourceTransfer:
		return "transfer"
	case SourceFunding:
		return "funding"
	case SourceReward:
		return "reward"
	case SourceInitialCapital:
		return "initial_capital"
	default:
		return "unknown"
	}
}

// ParseSource maps the wire spelling to the enum.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(s) {
	case "trade":
		return SourceTrade, nil
	case "transfer":
		return SourceTransfer, nil
	case "funding":
		return SourceFunding, nil
	case "reward":
		return SourceReward, nil
	case "initial_capital":
		return SourceInitialCapital, nil
	default:
		return SourceUnknown, fmt.Errorf("unknown delta source %q", s)
	}
}

// Delta is an atomic, additive mutation of one ledger balance. A delta
// never replaces a balance; it accumulates onto it. Price and Fee are
// optional execution context (zero when absent) consumed by P&L
// attribution, not by the ledger itself.
type Delta struct {
	Key      PositionKey
	Amount   decimal.Decimal
	Source   Source
	Price    decimal.Decimal
	Fee      decimal.Decimal
	Metadata map[string]string
}

// Inverse returns a delta that undoes d.
func (d Delta) Inverse() Delta {
	inv := d
	inv.Amount = d.Amount.Neg()
	return inv
}

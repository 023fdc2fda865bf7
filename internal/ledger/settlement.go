package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementKind enumerates the periodic mutations the ledger generates on
// its own schedule, as opposed to deltas delivered by executions. The set
// is closed: adding a kind means extending AllSettlementKinds and the
// generation switch, which the compiler enforces.
type SettlementKind int32

const (
	SettlementInitialCapital SettlementKind = iota
	SettlementFunding
	SettlementReward
	SettlementMarginPnL
)

func (k SettlementKind) String() string {
	switch k {
	case SettlementInitialCapital:
		return "initial_capital"
	case SettlementFunding:
		return "funding"
	case SettlementReward:
		return "reward"
	case SettlementMarginPnL:
		return "margin_pnl"
	default:
		return "unknown"
	}
}

// Source maps a settlement kind to the delta source it emits.
func (k SettlementKind) Source() Source {
	switch k {
	case SettlementInitialCapital:
		return SourceInitialCapital
	case SettlementFunding:
		return SourceFunding
	case SettlementReward:
		return SourceReward
	case SettlementMarginPnL:
		return SourceTrade
	default:
		return SourceUnknown
	}
}

// AllSettlementKinds returns every kind in generation order. Initial
// capital runs first so later settlements see a funded ledger.
func AllSettlementKinds() []SettlementKind {
	return []SettlementKind{
		SettlementInitialCapital,
		SettlementFunding,
		SettlementReward,
		SettlementMarginPnL,
	}
}

// RewardInterval is the seasonal-reward accrual schedule.
type RewardInterval int32

const (
	RewardDaily RewardInterval = iota
	RewardWeekly
)

func (ri RewardInterval) String() string {
	switch ri {
	case RewardDaily:
		return "daily"
	case RewardWeekly:
		return "weekly"
	default:
		return "unknown"
	}
}

// ParseRewardInterval maps the config spelling to the enum.
func ParseRewardInterval(s string) (RewardInterval, error) {
	switch strings.ToLower(s) {
	case "daily":
		return RewardDaily, nil
	case "weekly":
		return RewardWeekly, nil
	default:
		return RewardDaily, fmt.Errorf("unknown reward interval %q", s)
	}
}

// yearFraction is the fraction of a year one accrual interval covers.
func (ri RewardInterval) yearFraction() decimal.Decimal {
	switch ri {
	case RewardWeekly:
		return decimal.NewFromInt(7).Div(decimal.NewFromInt(365))
	default:
		return decimal.NewFromInt(1).Div(decimal.NewFromInt(365))
	}
}

// aligned reports whether ts is an accrual boundary for the interval.
func (ri RewardInterval) aligned(ts time.Time) bool {
	u := ts.UTC()
	if !onHourBoundary(u) || u.Hour() != 0 {
		return false
	}
	if ri == RewardWeekly {
		return u.Weekday() == time.Monday
	}
	return true
}

// MarginPnLHook lets a caller inject realized-PnL settlement deltas. It
// receives the settlement timestamp and a read-only copy of simulated
// balances and returns deltas to apply.
type MarginPnLHook func(ts time.Time, balances map[PositionKey]decimal.Decimal) []Delta

// SettlementConfig gates and schedules settlement generation. It is
// resolved once at session construction and never mutated afterwards.
type SettlementConfig struct {
	// InitialCapital is credited to ShareClassKey the first time all
	// declared balances are zero. Zero disables the settlement.
	InitialCapital decimal.Decimal
	ShareClassKey  PositionKey

	// BaseCurrency names the asset funding payments settle in. Each venue
	// holding perpetual positions must declare a spot key for it.
	BaseCurrency string

	FundingEnabled       bool
	FundingIntervalHours int

	RewardsEnabled bool
	RewardInterval RewardInterval
	// RewardRates maps a staked symbol to its annual accrual rate.
	RewardRates map[string]decimal.Decimal

	MarginPnLEnabled bool
	MarginPnLHook    MarginPnLHook
}

// fundingAligned reports whether ts sits on a funding epoch boundary.
func (sc SettlementConfig) fundingAligned(ts time.Time) bool {
	return FundingAligned(ts, sc.FundingIntervalHours)
}

// FundingAligned reports whether ts sits on a funding epoch boundary for
// the given interval. A non-positive interval means the standard 8 hours.
func FundingAligned(ts time.Time, intervalHours int) bool {
	u := ts.UTC()
	if !onHourBoundary(u) {
		return false
	}
	if intervalHours <= 0 {
		intervalHours = 8
	}
	return u.Hour()%intervalHours == 0
}

func onHourBoundary(ts time.Time) bool {
	return ts.Minute() == 0 && ts.Second() == 0 && ts.Nanosecond() == 0
}

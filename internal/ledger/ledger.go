// Package ledger is the authoritative per-instrument balance store. It
// holds two parallel balance maps over a universe of position keys declared
// at session start: simulated (advanced by deltas from confirmed
// executions and by generated settlements) and real (observed from venues
// in live mode, or copied from simulated in simulation mode).
//
// The ledger is single-writer: the reconciliation orchestrator owns all
// mutation and serializes cycles, so no locking happens here. Read-only
// callers go through the orchestrator's cached snapshots.
package ledger

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/audit"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/pricing"
)

// Config fixes the ledger's universe and settlement behavior for the
// session. Callers validate it before construction (config.Session).
type Config struct {
	Declared   []PositionKey
	Settlement SettlementConfig
}

// Snapshot is a point-in-time defensive copy of ledger state.
type Snapshot struct {
	Timestamp time.Time
	Simulated map[PositionKey]decimal.Decimal
	Real      map[PositionKey]decimal.Decimal
}

// PositionLedger applies deltas, generates periodic settlements, and
// enforces the declared-universe invariant. Amounts are cumulative across
// the session lifetime; the ledger is created once and never destroyed
// mid-run.
type PositionLedger struct {
	declared map[PositionKey]struct{}
	keys     []PositionKey // sorted, fixed at construction

	simulated map[PositionKey]decimal.Decimal
	real      map[PositionKey]decimal.Decimal

	lastTimestamp time.Time
	// settledAt guards at-most-one application per settlement kind per
	// distinct timestamp. Cleared whenever the timestamp advances.
	settledAt map[SettlementKind]struct{}

	settle SettlementConfig
	prices pricing.Service
	sink   audit.Sink
	logger zerolog.Logger
}

// New builds a ledger with every declared key initialized to zero in both
// maps. A nil sink disables the audit trail.
func New(cfg Config, prices pricing.Service, sink audit.Sink, logger zerolog.Logger) *PositionLedger {
	if sink == nil {
		sink = audit.NopSink{}
	}

	keys := make([]PositionKey, 0, len(cfg.Declared))
	declared := make(map[PositionKey]struct{}, len(cfg.Declared))
	simulated := make(map[PositionKey]decimal.Decimal, len(cfg.Declared))
	real := make(map[PositionKey]decimal.Decimal, len(cfg.Declared))

	for _, k := range cfg.Declared {
		if _, dup := declared[k]; dup {
			continue
		}
		declared[k] = struct{}{}
		keys = append(keys, k)
		simulated[k] = decimal.Zero
		real[k] = decimal.Zero
	}
	SortKeys(keys)

	return &PositionLedger{
		declared:  declared,
		keys:      keys,
		simulated: simulated,
		real:      real,
		settledAt: make(map[SettlementKind]struct{}),
		settle:    cfg.Settlement,
		prices:    prices,
		sink:      sink,
		logger:    logger,
	}
}

// ApplyDeltas accumulates a batch of deltas onto simulated balances.
// Validation runs before any mutation: an undeclared key rejects the whole
// batch with UnknownPositionError and leaves the ledger untouched, and a
// timestamp behind the ledger's clock is rejected with
// StaleTimestampError. Deltas on the same key accumulate in list order.
func (pl *PositionLedger) ApplyDeltas(ts time.Time, deltas []Delta) error {
	if err := pl.checkTimestamp(ts); err != nil {
		return err
	}
	for _, d := range deltas {
		if _, ok := pl.declared[d.Key]; !ok {
			return &UnknownPositionError{Key: d.Key}
		}
	}

	pl.advanceTo(ts)
	for _, d := range deltas {
		pl.apply(ts, d, audit.RecordTypeDeltaApplied)
	}
	return nil
}

// GenerateSettlements evaluates every settlement kind for ts, applying
// each at most once per distinct timestamp. Simulation-mode only: in live
// mode balances settle on the venue and arrive through polling.
func (pl *PositionLedger) GenerateSettlements(ts time.Time) error {
	if err := pl.checkTimestamp(ts); err != nil {
		return err
	}
	pl.advanceTo(ts)

	for _, kind := range AllSettlementKinds() {
		if _, done := pl.settledAt[kind]; done {
			continue
		}

		var deltas []Delta
		switch kind {
		case SettlementInitialCapital:
			deltas = pl.buildInitialCapital()
		case SettlementFunding:
			deltas = pl.buildFunding(ts)
		case SettlementReward:
			deltas = pl.buildRewards(ts)
		case SettlementMarginPnL:
			deltas = pl.buildMarginPnL(ts)
		}
		if len(deltas) == 0 {
			continue
		}

		for _, d := range deltas {
			if _, ok := pl.declared[d.Key]; !ok {
				return &UnknownPositionError{Key: d.Key}
			}
		}
		for _, d := range deltas {
			pl.apply(ts, d, audit.RecordTypeSettlementApplied)
		}
		pl.settledAt[kind] = struct{}{}

		pl.logger.Debug().
			Str("kind", kind.String()).
			Int("deltas", len(deltas)).
			Time("ts", ts).
			Msg("settlement applied")
	}
	return nil
}

// buildInitialCapital credits the share-class wallet exactly once: the
// first time every declared balance is still zero.
func (pl *PositionLedger) buildInitialCapital() []Delta {
	if pl.settle.InitialCapital.IsZero() || !pl.allZero() {
		return nil
	}
	return []Delta{{
		Key:    pl.settle.ShareClassKey,
		Amount: pl.settle.InitialCapital,
		Source: SourceInitialCapital,
	}}
}

// buildFunding computes funding payments for every open perpetual position
// when ts lands on a funding epoch boundary. The payment settles in the
// venue's base-currency key: longs pay a positive rate, shorts receive it.
func (pl *PositionLedger) buildFunding(ts time.Time) []Delta {
	if !pl.settle.FundingEnabled || !pl.settle.fundingAligned(ts) {
		return nil
	}

	var deltas []Delta
	for _, k := range pl.keys {
		if k.Instrument != InstrumentPerp {
			continue
		}
		size := pl.simulated[k]
		if size.IsZero() {
			continue
		}

		rate, err := pl.prices.GetFundingRate(k.Venue, k.Symbol, ts)
		if err != nil {
			pl.logger.Warn().Err(err).Str("key", k.Path()).Msg("funding settlement skipped: no rate")
			continue
		}
		price, err := pl.prices.GetMarketPrice(k.Symbol, ts)
		if err != nil {
			pl.logger.Warn().Err(err).Str("key", k.Path()).Msg("funding settlement skipped: no price")
			continue
		}

		payment := size.Mul(price).Mul(rate).Neg()
		if payment.IsZero() {
			continue
		}
		deltas = append(deltas, Delta{
			Key: PositionKey{
				Venue:      k.Venue,
				Instrument: InstrumentSpot,
				Symbol:     pl.settle.BaseCurrency,
			},
			Amount:   payment,
			Source:   SourceFunding,
			Metadata: map[string]string{"perp": k.Path()},
		})
	}
	return deltas
}

// buildRewards accrues seasonal rewards for every staking-type position at
// the configured boundary, compounding back into the same instrument.
func (pl *PositionLedger) buildRewards(ts time.Time) []Delta {
	if !pl.settle.RewardsEnabled || !pl.settle.RewardInterval.aligned(ts) {
		return nil
	}

	fraction := pl.settle.RewardInterval.yearFraction()
	var deltas []Delta
	for _, k := range pl.keys {
		if k.Instrument != InstrumentStaked {
			continue
		}
		balance := pl.simulated[k]
		if balance.Sign() <= 0 {
			continue
		}
		rate, ok := pl.settle.RewardRates[k.Symbol]
		if !ok {
			pl.logger.Warn().Str("key", k.Path()).Msg("reward settlement skipped: no rate configured")
			continue
		}

		accrued := balance.Mul(rate).Mul(fraction)
		if accrued.IsZero() {
			continue
		}
		deltas = append(deltas, Delta{Key: k, Amount: accrued, Source: SourceReward})
	}
	return deltas
}

// buildMarginPnL defers to the injected hook. Without a hook the kind is a
// configured no-op.
func (pl *PositionLedger) buildMarginPnL(ts time.Time) []Delta {
	if !pl.settle.MarginPnLEnabled || pl.settle.MarginPnLHook == nil {
		return nil
	}
	return pl.settle.MarginPnLHook(ts, pl.copySimulated())
}

// SyncReal copies simulated balances into real. The simulation-mode cycle
// calls this strictly after settlement generation, so an inspection at
// cycle end always finds real == simulated.
func (pl *PositionLedger) SyncReal() {
	for _, k := range pl.keys {
		pl.real[k] = pl.simulated[k]
	}
}

// ApplyRealSnapshot replaces real balances with a merged venue poll
// result. Undeclared keys in the response are logged and dropped; declared
// keys missing from the response become zero; keys on a stale venue keep
// their previous real value. Simulated balances are never touched here.
func (pl *PositionLedger) ApplyRealSnapshot(balances map[PositionKey]decimal.Decimal, staleVenues map[string]error) {
	for k := range balances {
		if _, ok := pl.declared[k]; !ok {
			pl.logger.Warn().Str("key", k.Path()).Msg("venue returned undeclared key, dropped")
		}
	}

	for _, k := range pl.keys {
		if _, stale := staleVenues[k.Venue]; stale {
			continue
		}
		if v, ok := balances[k]; ok {
			pl.real[k] = v
		} else {
			pl.real[k] = decimal.Zero
		}
	}
}

// apply mutates one simulated balance and emits the audit record.
func (pl *PositionLedger) apply(ts time.Time, d Delta, rt audit.RecordType) {
	before := pl.simulated[d.Key]
	after := before.Add(d.Amount)
	pl.simulated[d.Key] = after

	rec := audit.NewRecord(rt, ts)
	rec.Key = d.Key.Path()
	rec.Source = d.Source.String()
	rec.Before = before
	rec.After = after
	rec.Detail = d.Metadata
	pl.sink.Emit(rec)
}

func (pl *PositionLedger) checkTimestamp(ts time.Time) error {
	if ts.Before(pl.lastTimestamp) {
		return &StaleTimestampError{Timestamp: ts, LastTimestamp: pl.lastTimestamp}
	}
	return nil
}

// advanceTo moves the ledger clock forward, clearing settlement dedup
// markers when the timestamp actually changes. Callers check staleness
// first.
func (pl *PositionLedger) advanceTo(ts time.Time) {
	if ts.After(pl.lastTimestamp) {
		pl.lastTimestamp = ts
		pl.settledAt = make(map[SettlementKind]struct{})
	}
}

func (pl *PositionLedger) allZero() bool {
	for _, v := range pl.simulated {
		if !v.IsZero() {
			return false
		}
	}
	return true
}

// SimulatedAmount returns the simulated balance for a declared key.
func (pl *PositionLedger) SimulatedAmount(k PositionKey) (decimal.Decimal, bool) {
	v, ok := pl.simulated[k]
	return v, ok
}

// RealAmount returns the real balance for a declared key.
func (pl *PositionLedger) RealAmount(k PositionKey) (decimal.Decimal, bool) {
	v, ok := pl.real[k]
	return v, ok
}

// Positions returns a flat copy of simulated balances, the authoritative
// position view.
func (pl *PositionLedger) Positions() map[PositionKey]decimal.Decimal {
	return pl.copySimulated()
}

// Snapshot returns defensive copies of both maps plus the ledger clock.
func (pl *PositionLedger) Snapshot() Snapshot {
	real := make(map[PositionKey]decimal.Decimal, len(pl.real))
	for k, v := range pl.real {
		real[k] = v
	}
	return Snapshot{
		Timestamp: pl.lastTimestamp,
		Simulated: pl.copySimulated(),
		Real:      real,
	}
}

// DeclaredKeys returns the sorted universe.
func (pl *PositionLedger) DeclaredKeys() []PositionKey {
	out := make([]PositionKey, len(pl.keys))
	copy(out, pl.keys)
	return out
}

// LastTimestamp returns the ledger clock.
func (pl *PositionLedger) LastTimestamp() time.Time {
	return pl.lastTimestamp
}

func (pl *PositionLedger) copySimulated() map[PositionKey]decimal.Decimal {
	out := make(map[PositionKey]decimal.Decimal, len(pl.simulated))
	for k, v := range pl.simulated {
		out[k] = v
	}
	return out
}

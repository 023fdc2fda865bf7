package pnl

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/exposure"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/ledger"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/observability"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/pricing"
)

// Config fixes the engine's behavior for the session.
type Config struct {
	InitialCapital decimal.Decimal
	ShareClass     string

	// AnnualizedToleranceRate scales the advisory tolerance: tolerance =
	// capital * rate * elapsedMonths/12.
	AnnualizedToleranceRate decimal.Decimal

	FundingIntervalHours int

	// PerpUnderlying maps a perp symbol to the separately priced spot
	// symbol it tracks. Pairs absent here (or mapped to themselves) carry
	// no basis.
	PerpUnderlying map[string]string

	// DustThresholdUSD splits spot positions between the delta-drift and
	// dust categories. Zero means the 1 USD default.
	DustThresholdUSD decimal.Decimal

	// HistoryLimit bounds the retained record history. Zero means 1000.
	HistoryLimit int
}

// Engine computes P&L records from successive exposure snapshots. Compute
// is invoked by the orchestrator once per successful cycle; the read
// accessors are safe to call concurrently.
type Engine struct {
	cfg     Config
	prices  pricing.Service
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu            sync.RWMutex
	started       bool
	sessionStart  time.Time
	prev          *exposure.Snapshot
	lastFundingAt time.Time
	lastSpotPrice map[string]decimal.Decimal
	cumulative    map[AttributionKind]decimal.Decimal
	latest        *Record
	history       []Record
}

// NewEngine creates an engine. metrics may be nil.
func NewEngine(cfg Config, prices pricing.Service, logger zerolog.Logger, metrics *observability.Metrics) *Engine {
	if cfg.DustThresholdUSD.IsZero() {
		cfg.DustThresholdUSD = decimal.NewFromInt(1)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 1000
	}

	cumulative := make(map[AttributionKind]decimal.Decimal, len(AllAttributionKinds()))
	for _, kind := range AllAttributionKinds() {
		cumulative[kind] = decimal.Zero
	}

	return &Engine{
		cfg:           cfg,
		prices:        prices,
		logger:        logger,
		metrics:       metrics,
		lastSpotPrice: make(map[string]decimal.Decimal),
		cumulative:    cumulative,
	}
}

// Compute produces the P&L record for one cycle. cycleDeltas are the
// deltas applied during the cycle, used for transaction costs and to
// separate capital flow from organic accrual. Each attribution category
// is isolated: a failure inside one logs a warning and contributes zero
// without disturbing the rest.
func (e *Engine) Compute(exp *exposure.Snapshot, cycleDeltas []ledger.Delta) *Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts := exp.Timestamp
	if !e.started {
		e.started = true
		e.sessionStart = ts
	}

	record := &Record{
		Timestamp:      ts,
		PortfolioValue: exp.TotalShareClass,
		CumulativePnL:  exp.TotalShareClass.Sub(e.cfg.InitialCapital),
		HourlyPnL:      decimal.Zero,
	}
	if e.prev != nil {
		record.HourlyPnL = exp.TotalShareClass.Sub(e.prev.TotalShareClass)
	}

	flow := flowByKey(cycleDeltas)

	for _, kind := range AllAttributionKinds() {
		var amount decimal.Decimal
		var err error

		switch kind {
		case KindSupplyYield:
			amount, err = e.lendingAccrual(exp, flow, false)
		case KindBorrowCost:
			amount, err = e.lendingAccrual(exp, flow, true)
		case KindStakingYield:
			amount, err = e.stakingYield(exp, flow)
		case KindFunding:
			amount, err = e.funding(exp)
		case KindBasisSpread:
			amount, err = e.basisSpread(exp)
		case KindDeltaDrift:
			amount, err = e.deltaDrift(exp)
		case KindDust:
			amount, err = e.dust(exp, flow)
		case KindTransactionCosts:
			amount = transactionCosts(cycleDeltas)
		}

		failed := false
		if err != nil {
			failed = true
			amount = decimal.Zero
			e.logger.Warn().
				Err(err).
				Str("category", kind.String()).
				Msg("Attribution category failed, contributing zero")
			if e.metrics != nil {
				e.metrics.AttributionErrors.WithLabelValues(kind.String()).Inc()
			}
		}

		e.cumulative[kind] = e.cumulative[kind].Add(amount)
		record.Categories = append(record.Categories, CategoryResult{
			Kind:       kind,
			Name:       kind.String(),
			Amount:     amount,
			Cumulative: e.cumulative[kind],
			Failed:     failed,
		})
	}

	record.AttributionPnL = decimal.Zero
	for _, cr := range record.Categories {
		record.AttributionPnL = record.AttributionPnL.Add(cr.Cumulative)
	}

	record.Reconciliation = CheckTolerance(
		record.CumulativePnL,
		record.AttributionPnL,
		e.tolerance(ts),
		e.cfg.InitialCapital,
	)
	record.Reconciliation.ElapsedMonths = e.elapsedMonths(ts)

	if !record.Reconciliation.Passed {
		e.logger.Warn().
			Str("balance_pnl", record.CumulativePnL.String()).
			Str("attribution_pnl", record.AttributionPnL.String()).
			Str("difference", record.Reconciliation.Difference.String()).
			Str("tolerance", record.Reconciliation.Tolerance.String()).
			Str("pct_of_capital", record.Reconciliation.PercentOfCapital.String()).
			Msg("PnL methods disagree beyond tolerance")
	}

	if e.metrics != nil {
		cum, _ := record.CumulativePnL.Float64()
		hourly, _ := record.HourlyPnL.Float64()
		attr, _ := record.AttributionPnL.Float64()
		diff, _ := record.Reconciliation.Difference.Float64()
		e.metrics.PnLCumulative.Set(cum)
		e.metrics.PnLHourly.Set(hourly)
		e.metrics.AttributionTotal.Set(attr)
		e.metrics.ReconciliationDiff.Set(diff)
		if !record.Reconciliation.Passed {
			e.metrics.ToleranceBreaches.Inc()
		}
	}

	e.rememberSpotPrices(exp)
	e.prev = exp
	e.latest = record
	e.history = append(e.history, *record)
	if len(e.history) > e.cfg.HistoryLimit {
		e.history = e.history[len(e.history)-e.cfg.HistoryLimit:]
	}

	return record
}

// Latest returns the most recent record, or nil before the first cycle.
func (e *Engine) Latest() *Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// History returns a copy of the bounded record history, oldest first.
func (e *Engine) History() []Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Record, len(e.history))
	copy(out, e.history)
	return out
}

// Summary renders the latest record as a human-readable block.
func (e *Engine) Summary() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.latest == nil {
		return "pnl: no cycles completed yet"
	}

	r := e.latest
	var b strings.Builder
	fmt.Fprintf(&b, "pnl @ %s\n", r.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "  portfolio value: %s %s\n", r.PortfolioValue, e.cfg.ShareClass)
	fmt.Fprintf(&b, "  cumulative: %s (balance) vs %s (attribution)\n", r.CumulativePnL, r.AttributionPnL)
	fmt.Fprintf(&b, "  hourly: %s\n", r.HourlyPnL)

	status := "ok"
	if !r.Reconciliation.Passed {
		status = "EXCEEDED"
	}
	fmt.Fprintf(&b, "  reconciliation: diff %s, tolerance %s [%s]\n",
		r.Reconciliation.Difference, r.Reconciliation.Tolerance, status)

	for _, cr := range r.Categories {
		if cr.Cumulative.IsZero() && !cr.Failed {
			continue
		}
		marker := ""
		if cr.Failed {
			marker = " (failed)"
		}
		fmt.Fprintf(&b, "  %s: %s cumulative%s\n", cr.Name, cr.Cumulative, marker)
	}
	return b.String()
}

// elapsedMonths converts session runtime to months (730 hours each).
func (e *Engine) elapsedMonths(ts time.Time) decimal.Decimal {
	hours := decimal.NewFromFloat(ts.Sub(e.sessionStart).Hours())
	return hours.Div(decimal.NewFromInt(730))
}

func (e *Engine) tolerance(ts time.Time) decimal.Decimal {
	return e.cfg.InitialCapital.
		Mul(e.cfg.AnnualizedToleranceRate).
		Mul(e.elapsedMonths(ts)).
		Div(decimal.NewFromInt(12))
}

// toShareClass converts a USD figure into share-class units.
func (e *Engine) toShareClass(usd decimal.Decimal) (decimal.Decimal, error) {
	return e.prices.ConvertPrice("USD", e.cfg.ShareClass, usd)
}

// underlying resolves a perp symbol to its separately priced spot symbol.
func (e *Engine) underlying(symbol string) string {
	if u, ok := e.cfg.PerpUnderlying[symbol]; ok && u != "" {
		return u
	}
	return symbol
}

func (e *Engine) isDust(valueUSD decimal.Decimal) bool {
	return valueUSD.Abs().LessThan(e.cfg.DustThresholdUSD)
}

// flowByKey nets the trade and transfer delta amounts per key, the
// capital that moved rather than accrued.
func flowByKey(deltas []ledger.Delta) map[ledger.PositionKey]decimal.Decimal {
	flow := make(map[ledger.PositionKey]decimal.Decimal)
	for _, d := range deltas {
		if d.Source != ledger.SourceTrade && d.Source != ledger.SourceTransfer {
			continue
		}
		flow[d.Key] = flow[d.Key].Add(d.Amount)
	}
	return flow
}

// positionsOf indexes a snapshot's positions of one instrument type.
func positionsOf(snap *exposure.Snapshot, it ledger.InstrumentType) map[ledger.PositionKey]exposure.PositionExposure {
	out := make(map[ledger.PositionKey]exposure.PositionExposure)
	if snap == nil {
		return out
	}
	for _, pe := range snap.Positions {
		if pe.Key.Instrument == it {
			out[pe.Key] = pe
		}
	}
	return out
}

// lendingAccrual measures flow-adjusted amount growth on lending
// positions: interest earned (borrowed=false) or owed (borrowed=true).
func (e *Engine) lendingAccrual(exp *exposure.Snapshot, flow map[ledger.PositionKey]decimal.Decimal, borrowed bool) (decimal.Decimal, error) {
	if e.prev == nil {
		return decimal.Zero, nil
	}

	curr := positionsOf(exp, ledger.InstrumentLending)
	prev := positionsOf(e.prev, ledger.InstrumentLending)

	totalUSD := decimal.Zero
	for _, key := range unionKeys(curr, prev) {
		currPE, inCurr := curr[key]
		prevPE := prev[key]

		refAmount := currPE.Amount
		if refAmount.IsZero() {
			refAmount = prevPE.Amount
		}
		if refAmount.IsNegative() != borrowed {
			continue
		}

		growth := currPE.Amount.Sub(prevPE.Amount).Sub(flow[key])
		if growth.IsZero() {
			continue
		}

		price := currPE.PriceUSD
		if !inCurr {
			var err error
			price, err = e.prices.GetMarketPrice(key.Symbol, exp.Timestamp)
			if err != nil {
				return decimal.Zero, fmt.Errorf("accrual price for %s: %w", key.Path(), err)
			}
		}
		totalUSD = totalUSD.Add(growth.Mul(price))
	}

	return e.toShareClass(totalUSD)
}

// stakingYield sums the seasonal-reward component (flow-adjusted amount
// growth) and the oracle-drift component (prev amount times oracle price
// move) over staked positions.
func (e *Engine) stakingYield(exp *exposure.Snapshot, flow map[ledger.PositionKey]decimal.Decimal) (decimal.Decimal, error) {
	if e.prev == nil {
		return decimal.Zero, nil
	}

	curr := positionsOf(exp, ledger.InstrumentStaked)
	prev := positionsOf(e.prev, ledger.InstrumentStaked)

	totalUSD := decimal.Zero
	for _, key := range unionKeys(curr, prev) {
		currPE, inCurr := curr[key]
		prevPE, inPrev := prev[key]

		currPrice := currPE.PriceUSD
		if !inCurr {
			var err error
			currPrice, err = e.prices.GetOraclePrice(key.Symbol, exp.Timestamp)
			if err != nil {
				return decimal.Zero, fmt.Errorf("oracle price for %s: %w", key.Path(), err)
			}
		}

		// Seasonal rewards: amount growth not explained by trades.
		growth := currPE.Amount.Sub(prevPE.Amount).Sub(flow[key])
		totalUSD = totalUSD.Add(growth.Mul(currPrice))

		// Oracle drift on the balance held through the cycle.
		if inPrev && !prevPE.Amount.IsZero() {
			totalUSD = totalUSD.Add(prevPE.Amount.Mul(currPrice.Sub(prevPE.PriceUSD)))
		}
	}

	return e.toShareClass(totalUSD)
}

// funding estimates the funding payment for every open perp at a funding
// boundary, venue-specific with no fallback: one missing rate fails the
// whole category.
func (e *Engine) funding(exp *exposure.Snapshot) (decimal.Decimal, error) {
	ts := exp.Timestamp
	if !ledger.FundingAligned(ts, e.cfg.FundingIntervalHours) {
		return decimal.Zero, nil
	}
	if e.lastFundingAt.Equal(ts) {
		return decimal.Zero, nil
	}

	totalUSD := decimal.Zero
	for key, pe := range positionsOf(exp, ledger.InstrumentPerp) {
		rate, err := e.prices.GetFundingRate(key.Venue, key.Symbol, ts)
		if err != nil {
			return decimal.Zero, fmt.Errorf("funding rate for %s: %w", key.Path(), err)
		}
		// Longs pay a positive rate, shorts receive it.
		totalUSD = totalUSD.Add(pe.Amount.Mul(pe.PriceUSD).Mul(rate).Neg())
	}

	e.lastFundingAt = ts
	return e.toShareClass(totalUSD)
}

// basisSpread measures the move of perp-minus-spot spreads on positions
// held through the cycle. Pairs without a distinct underlying, or whose
// underlying had no recorded price last cycle, carry no basis here; the
// drift category then absorbs their full move.
func (e *Engine) basisSpread(exp *exposure.Snapshot) (decimal.Decimal, error) {
	if e.prev == nil {
		return decimal.Zero, nil
	}

	prev := positionsOf(e.prev, ledger.InstrumentPerp)
	curr := positionsOf(exp, ledger.InstrumentPerp)

	totalUSD := decimal.Zero
	for key, prevPE := range prev {
		currPE, held := curr[key]
		if !held || prevPE.Amount.IsZero() {
			continue
		}
		refSymbol, prevSpot, distinct := e.driftRef(key, prevPE)
		if !distinct {
			continue
		}

		currSpot, err := e.prices.GetMarketPrice(refSymbol, exp.Timestamp)
		if err != nil {
			return decimal.Zero, fmt.Errorf("basis spot price %s: %w", refSymbol, err)
		}

		prevBasis := prevPE.PriceUSD.Sub(prevSpot)
		currBasis := currPE.PriceUSD.Sub(currSpot)
		totalUSD = totalUSD.Add(prevPE.Amount.Mul(currBasis.Sub(prevBasis)))
	}

	return e.toShareClass(totalUSD)
}

// deltaDrift measures price moves on the amounts held at the previous
// snapshot: spot above the dust threshold, lending principal, and perps
// along their underlying spot (the basis component is booked separately).
// Staked positions are covered by the oracle-drift part of staking yield.
// Previous prices come from the snapshot itself, never from a historical
// price query.
func (e *Engine) deltaDrift(exp *exposure.Snapshot) (decimal.Decimal, error) {
	if e.prev == nil {
		return decimal.Zero, nil
	}

	totalUSD := decimal.Zero
	for _, prevPE := range e.prev.Positions {
		key := prevPE.Key
		switch key.Instrument {
		case ledger.InstrumentStaked:
			continue
		case ledger.InstrumentSpot:
			if e.isDust(prevPE.ValueUSD) {
				continue
			}
		}
		if prevPE.Amount.IsZero() {
			continue
		}

		symbol, prevPrice, _ := e.driftRef(key, prevPE)
		currPrice, err := e.prices.GetMarketPrice(symbol, exp.Timestamp)
		if err != nil {
			return decimal.Zero, fmt.Errorf("drift price for %s: %w", key.Path(), err)
		}

		totalUSD = totalUSD.Add(prevPE.Amount.Mul(currPrice.Sub(prevPrice)))
	}

	return e.toShareClass(totalUSD)
}

// driftRef resolves the price series a position's directional move
// follows and its price at the previous snapshot: the configured
// underlying spot for perps when it was priced last cycle, otherwise the
// position's own symbol and carried price. distinct reports whether a
// separate underlying series is in effect, which is what arms the basis
// category for the pair.
func (e *Engine) driftRef(key ledger.PositionKey, prevPE exposure.PositionExposure) (symbol string, prevPrice decimal.Decimal, distinct bool) {
	symbol = key.Symbol
	prevPrice = prevPE.PriceUSD
	if key.Instrument != ledger.InstrumentPerp {
		return symbol, prevPrice, false
	}

	u := e.underlying(key.Symbol)
	if u == key.Symbol {
		return symbol, prevPrice, false
	}
	spot, ok := e.lastSpotPrice[u]
	if !ok {
		return symbol, prevPrice, false
	}
	return u, spot, true
}

// rememberSpotPrices records each configured underlying's spot price so
// the next cycle can split perp moves into drift and basis.
func (e *Engine) rememberSpotPrices(exp *exposure.Snapshot) {
	for _, pe := range exp.Positions {
		if pe.Key.Instrument != ledger.InstrumentPerp {
			continue
		}
		u := e.underlying(pe.Key.Symbol)
		if u == pe.Key.Symbol {
			continue
		}
		spot, err := e.prices.GetMarketPrice(u, exp.Timestamp)
		if err != nil {
			delete(e.lastSpotPrice, u)
			e.logger.Warn().
				Err(err).
				Str("symbol", u).
				Msg("Underlying spot unpriced, next cycle books the full perp move as drift")
			continue
		}
		e.lastSpotPrice[u] = spot
	}
}

// dust captures the flow-adjusted value change of spot positions below
// the dust threshold: stray accrual plus price drift on residue balances.
// Classification uses the previous snapshot's value so a position funded
// past the threshold mid-cycle is not booked as profit.
func (e *Engine) dust(exp *exposure.Snapshot, flow map[ledger.PositionKey]decimal.Decimal) (decimal.Decimal, error) {
	if e.prev == nil {
		return decimal.Zero, nil
	}

	curr := positionsOf(exp, ledger.InstrumentSpot)
	prev := positionsOf(e.prev, ledger.InstrumentSpot)

	totalUSD := decimal.Zero
	for _, key := range unionKeys(curr, prev) {
		currPE, inCurr := curr[key]
		prevPE, inPrev := prev[key]

		ref := prevPE.ValueUSD
		if !inPrev {
			ref = currPE.ValueUSD
		}
		if !e.isDust(ref) {
			continue
		}

		currPrice := currPE.PriceUSD
		if !inCurr {
			var err error
			currPrice, err = e.prices.GetMarketPrice(key.Symbol, exp.Timestamp)
			if err != nil {
				return decimal.Zero, fmt.Errorf("dust price for %s: %w", key.Path(), err)
			}
		}

		accrual := currPE.Amount.Sub(prevPE.Amount).Sub(flow[key]).Mul(currPrice)
		drift := prevPE.Amount.Mul(currPrice.Sub(prevPE.PriceUSD))
		totalUSD = totalUSD.Add(accrual).Add(drift)
	}

	return e.toShareClass(totalUSD)
}

// transactionCosts sums execution fees. Fees arrive in share-class units
// on trade and transfer deltas and always reduce P&L.
func transactionCosts(deltas []ledger.Delta) decimal.Decimal {
	total := decimal.Zero
	for _, d := range deltas {
		if d.Source != ledger.SourceTrade && d.Source != ledger.SourceTransfer {
			continue
		}
		total = total.Add(d.Fee)
	}
	return total.Neg()
}

func unionKeys(a, b map[ledger.PositionKey]exposure.PositionExposure) []ledger.PositionKey {
	seen := make(map[ledger.PositionKey]bool, len(a)+len(b))
	keys := make([]ledger.PositionKey, 0, len(a)+len(b))
	for key := range a {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	for key := range b {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	ledger.SortKeys(keys)
	return keys
}

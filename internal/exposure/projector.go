// Package exposure values raw position amounts into USD and share-class
// terms. Valuation reads the simulated balances, the authoritative
// position view; reconciliation has already checked them against the
// venues by the time downstream risk and P&L consume the result.
package exposure

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/ledger"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/observability"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/pricing"
)

// PositionExposure is one valued position.
type PositionExposure struct {
	Key             ledger.PositionKey `json:"key"`
	Amount          decimal.Decimal    `json:"amount"`
	PriceUSD        decimal.Decimal    `json:"price_usd"`
	ValueUSD        decimal.Decimal    `json:"value_usd"`
	ValueShareClass decimal.Decimal    `json:"value_share_class"`
}

// Snapshot is the full valued portfolio at one instant. Positions are in
// canonical key order. Unpriced lists positions excluded from the totals
// because no price was available.
type Snapshot struct {
	Timestamp       time.Time          `json:"timestamp"`
	ShareClass      string             `json:"share_class"`
	Positions       []PositionExposure `json:"positions"`
	TotalUSD        decimal.Decimal    `json:"total_usd"`
	TotalShareClass decimal.Decimal    `json:"total_share_class"`
	Unpriced        []ledger.PositionKey `json:"unpriced,omitempty"`
}

// Projector values balances against a price service. Staked instruments
// are valued at the oracle price, everything else at the market price.
type Projector struct {
	prices     pricing.Service
	shareClass string
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// NewProjector creates a projector that reports values in USD and in the
// given share-class currency. metrics may be nil.
func NewProjector(prices pricing.Service, shareClass string, logger zerolog.Logger, metrics *observability.Metrics) *Projector {
	return &Projector{
		prices:     prices,
		shareClass: shareClass,
		logger:     logger,
		metrics:    metrics,
	}
}

// Project values every nonzero balance. Positions without a price are
// excluded from the totals, logged, and listed in Snapshot.Unpriced.
// It errors only when the share-class currency itself cannot be priced,
// since then no position can be expressed in share-class terms.
func (p *Projector) Project(ts time.Time, balances map[ledger.PositionKey]decimal.Decimal) (*Snapshot, error) {
	usdToShareClass, err := p.prices.ConvertPrice("USD", p.shareClass, decimal.NewFromInt(1))
	if err != nil {
		return nil, fmt.Errorf("share class %s unpriceable: %w", p.shareClass, err)
	}

	keys := make([]ledger.PositionKey, 0, len(balances))
	for key := range balances {
		keys = append(keys, key)
	}
	ledger.SortKeys(keys)

	snap := &Snapshot{
		Timestamp:       ts,
		ShareClass:      p.shareClass,
		Positions:       make([]PositionExposure, 0, len(keys)),
		TotalUSD:        decimal.Zero,
		TotalShareClass: decimal.Zero,
	}

	for _, key := range keys {
		amount := balances[key]
		if amount.IsZero() {
			continue
		}

		price, err := p.lookupPrice(key, ts)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("key", key.Path()).
				Msg("Position excluded from exposure, no price")
			snap.Unpriced = append(snap.Unpriced, key)
			continue
		}

		valueUSD := amount.Mul(price)
		valueSC := valueUSD.Mul(usdToShareClass)

		snap.Positions = append(snap.Positions, PositionExposure{
			Key:             key,
			Amount:          amount,
			PriceUSD:        price,
			ValueUSD:        valueUSD,
			ValueShareClass: valueSC,
		})
		snap.TotalUSD = snap.TotalUSD.Add(valueUSD)
		snap.TotalShareClass = snap.TotalShareClass.Add(valueSC)
	}

	if p.metrics != nil {
		totalUSD, _ := snap.TotalUSD.Float64()
		totalSC, _ := snap.TotalShareClass.Float64()
		p.metrics.ExposureTotalUSD.Set(totalUSD)
		p.metrics.ShareClassValue.Set(totalSC)
		p.metrics.UnpricedPositions.Set(float64(len(snap.Unpriced)))
	}

	return snap, nil
}

// lookupPrice picks the price source by instrument. Staked tokens trade
// thin, so their valuation comes from the oracle rather than the market.
func (p *Projector) lookupPrice(key ledger.PositionKey, ts time.Time) (decimal.Decimal, error) {
	if key.Instrument == ledger.InstrumentStaked {
		return p.prices.GetOraclePrice(key.Symbol, ts)
	}
	return p.prices.GetMarketPrice(key.Symbol, ts)
}

// Value returns the exposure entry for one key, if the key was priced.
func (s *Snapshot) Value(key ledger.PositionKey) (PositionExposure, bool) {
	for _, pe := range s.Positions {
		if pe.Key == key {
			return pe, true
		}
	}
	return PositionExposure{}, false
}

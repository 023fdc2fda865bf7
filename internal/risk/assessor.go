package risk

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/exposure"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/ledger"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/observability"
)

// HealthRatioSentinel stands in for "no exposure, nothing to liquidate"
// wherever a health ratio would divide by zero.
var HealthRatioSentinel = decimal.NewFromInt(1_000_000_000)

// VenueRisk is the margin picture at one venue. Notional figures cover
// perpetual positions only; collateral covers everything else held there.
type VenueRisk struct {
	Venue            string          `json:"venue"`
	LongNotionalUSD  decimal.Decimal `json:"long_notional_usd"`
	ShortNotionalUSD decimal.Decimal `json:"short_notional_usd"`
	GrossNotionalUSD decimal.Decimal `json:"gross_notional_usd"`
	NetNotionalUSD   decimal.Decimal `json:"net_notional_usd"`
	CollateralUSD    decimal.Decimal `json:"collateral_usd"`
	MarginRatio      decimal.Decimal `json:"margin_ratio"`
	HealthRatio      decimal.Decimal `json:"health_ratio"`
}

// Snapshot is the portfolio risk picture derived from one exposure
// snapshot. TargetLTV and LiquidationThreshold echo the parameters the
// ratios were derived from, so a serialized snapshot reads standalone.
type Snapshot struct {
	Timestamp            time.Time       `json:"timestamp"`
	TotalCollateralUSD   decimal.Decimal `json:"total_collateral_usd"`
	TotalDebtUSD         decimal.Decimal `json:"total_debt_usd"`
	LTV                  decimal.Decimal `json:"ltv"`
	TargetLTV            decimal.Decimal `json:"target_ltv"`
	LiquidationThreshold decimal.Decimal `json:"liquidation_threshold"`
	HealthRatio          decimal.Decimal `json:"health_ratio"`
	Venues               []VenueRisk     `json:"venues"`
}

// Assessor computes risk snapshots against static parameters.
type Assessor struct {
	params  Params
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewAssessor creates an assessor. metrics may be nil.
func NewAssessor(params Params, logger zerolog.Logger, metrics *observability.Metrics) *Assessor {
	return &Assessor{
		params:  params,
		logger:  logger,
		metrics: metrics,
	}
}

// Assess derives LTV, per-venue margin ratios, and health ratios from the
// exposure snapshot. Collateral and debt are taken from non-perpetual
// positions (sign of the USD value decides which side); perpetual
// positions feed the per-venue notional grouping.
func (a *Assessor) Assess(exp *exposure.Snapshot) *Snapshot {
	snap := &Snapshot{
		Timestamp:            exp.Timestamp,
		TotalCollateralUSD:   decimal.Zero,
		TotalDebtUSD:         decimal.Zero,
		TargetLTV:            a.params.MaxLTV,
		LiquidationThreshold: a.params.LiquidationThreshold,
	}

	venueAgg := make(map[string]*VenueRisk)
	venueFor := func(name string) *VenueRisk {
		vr, ok := venueAgg[name]
		if !ok {
			vr = &VenueRisk{
				Venue:            name,
				LongNotionalUSD:  decimal.Zero,
				ShortNotionalUSD: decimal.Zero,
				CollateralUSD:    decimal.Zero,
			}
			venueAgg[name] = vr
		}
		return vr
	}

	for _, pe := range exp.Positions {
		vr := venueFor(pe.Key.Venue)

		if pe.Key.Instrument == ledger.InstrumentPerp {
			if pe.ValueUSD.IsNegative() {
				vr.ShortNotionalUSD = vr.ShortNotionalUSD.Add(pe.ValueUSD.Abs())
			} else {
				vr.LongNotionalUSD = vr.LongNotionalUSD.Add(pe.ValueUSD)
			}
			continue
		}

		if pe.ValueUSD.IsNegative() {
			snap.TotalDebtUSD = snap.TotalDebtUSD.Add(pe.ValueUSD.Abs())
		} else {
			snap.TotalCollateralUSD = snap.TotalCollateralUSD.Add(pe.ValueUSD)
			vr.CollateralUSD = vr.CollateralUSD.Add(pe.ValueUSD)
		}
	}

	if snap.TotalCollateralUSD.IsPositive() {
		snap.LTV = snap.TotalDebtUSD.Div(snap.TotalCollateralUSD)
	} else {
		snap.LTV = decimal.Zero
	}

	if snap.LTV.IsPositive() {
		snap.HealthRatio = a.params.LiquidationThreshold.Div(snap.LTV)
	} else {
		snap.HealthRatio = HealthRatioSentinel
	}

	names := make([]string, 0, len(venueAgg))
	for name := range venueAgg {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		vr := venueAgg[name]
		vr.GrossNotionalUSD = vr.LongNotionalUSD.Add(vr.ShortNotionalUSD)
		vr.NetNotionalUSD = vr.LongNotionalUSD.Sub(vr.ShortNotionalUSD)

		if vr.GrossNotionalUSD.IsPositive() {
			vr.MarginRatio = vr.CollateralUSD.Div(vr.GrossNotionalUSD)
		} else {
			vr.MarginRatio = HealthRatioSentinel
		}

		vm, hasMargin := a.params.Venues[name]
		if hasMargin && vr.GrossNotionalUSD.IsPositive() {
			vr.HealthRatio = vr.MarginRatio.Div(vm.MaintenanceMarginRatio)
		} else {
			vr.HealthRatio = HealthRatioSentinel
		}

		if vr.HealthRatio.LessThan(decimal.NewFromInt(1)) {
			a.logger.Warn().
				Str("venue", name).
				Str("margin_ratio", vr.MarginRatio.String()).
				Str("health_ratio", vr.HealthRatio.String()).
				Msg("Venue margin below maintenance requirement")
		}

		snap.Venues = append(snap.Venues, *vr)
	}

	if snap.LTV.GreaterThan(a.params.MaxLTV) {
		a.logger.Warn().
			Str("ltv", snap.LTV.String()).
			Str("max_ltv", a.params.MaxLTV.String()).
			Msg("Portfolio LTV above configured maximum")
	}

	if a.metrics != nil {
		ltv, _ := snap.LTV.Float64()
		a.metrics.CurrentLTV.Set(ltv)
	}

	return snap
}

// Venue returns the risk entry for one venue, if it held any positions.
func (s *Snapshot) Venue(name string) (VenueRisk, bool) {
	for _, vr := range s.Venues {
		if vr.Venue == name {
			return vr, true
		}
	}
	return VenueRisk{}, false
}

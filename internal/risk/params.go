// Package risk turns an exposure snapshot into loan-to-value, margin, and
// health figures against statically configured thresholds.
package risk

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/fault"
)

// VenueMargin holds the margin requirements one venue imposes on
// leveraged positions.
type VenueMargin struct {
	InitialMarginRatio     decimal.Decimal `json:"initial_margin_ratio"`
	MaintenanceMarginRatio decimal.Decimal `json:"maintenance_margin_ratio"`
}

// PairThresholds holds borrow limits for one collateral/debt pair.
type PairThresholds struct {
	MaxLTV               decimal.Decimal `json:"max_ltv"`
	LiquidationThreshold decimal.Decimal `json:"liquidation_threshold"`
}

// Params is the static risk configuration, loaded once at session start
// and never mutated afterwards.
type Params struct {
	MaxLTV               decimal.Decimal           `json:"max_ltv"`
	LiquidationThreshold decimal.Decimal           `json:"liquidation_threshold"`
	Venues               map[string]VenueMargin    `json:"venues"`
	CollateralPairs      map[string]PairThresholds `json:"collateral_pairs"`
}

// DefaultParams returns conservative portfolio thresholds with no
// per-venue margin table.
func DefaultParams() Params {
	return Params{
		MaxLTV:               decimal.RequireFromString("0.7"),
		LiquidationThreshold: decimal.RequireFromString("0.85"),
		Venues:               map[string]VenueMargin{},
		CollateralPairs:      map[string]PairThresholds{},
	}
}

// LoadParams reads and validates a risk parameter file.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("read risk params: %w", err)
	}

	params := DefaultParams()
	if err := json.Unmarshal(data, &params); err != nil {
		return Params{}, fmt.Errorf("parse risk params %s: %w", path, err)
	}
	if err := params.Validate(); err != nil {
		return Params{}, err
	}
	return params, nil
}

// Validate checks every threshold is in range. Any violation is a fatal
// configuration error.
func (p Params) Validate() error {
	one := decimal.NewFromInt(1)

	if p.LiquidationThreshold.LessThanOrEqual(decimal.Zero) || p.LiquidationThreshold.GreaterThan(one) {
		return &fault.ConfigurationError{
			Field:  "liquidation_threshold",
			Reason: fmt.Sprintf("must be in (0, 1], got %s", p.LiquidationThreshold),
		}
	}
	if p.MaxLTV.LessThanOrEqual(decimal.Zero) {
		return &fault.ConfigurationError{
			Field:  "max_ltv",
			Reason: fmt.Sprintf("must be > 0, got %s", p.MaxLTV),
		}
	}
	if p.MaxLTV.GreaterThanOrEqual(p.LiquidationThreshold) {
		return &fault.ConfigurationError{
			Field:  "max_ltv",
			Reason: fmt.Sprintf("must be < liquidation_threshold (%s), got %s", p.LiquidationThreshold, p.MaxLTV),
		}
	}

	for venueName, vm := range p.Venues {
		if vm.MaintenanceMarginRatio.LessThanOrEqual(decimal.Zero) {
			return &fault.ConfigurationError{
				Field:  "venues." + venueName + ".maintenance_margin_ratio",
				Reason: fmt.Sprintf("must be > 0, got %s", vm.MaintenanceMarginRatio),
			}
		}
		if vm.InitialMarginRatio.LessThanOrEqual(vm.MaintenanceMarginRatio) {
			return &fault.ConfigurationError{
				Field:  "venues." + venueName + ".initial_margin_ratio",
				Reason: fmt.Sprintf("must be > maintenance_margin_ratio (%s), got %s", vm.MaintenanceMarginRatio, vm.InitialMarginRatio),
			}
		}
	}

	for pair, pt := range p.CollateralPairs {
		if pt.LiquidationThreshold.LessThanOrEqual(decimal.Zero) || pt.LiquidationThreshold.GreaterThan(one) {
			return &fault.ConfigurationError{
				Field:  "collateral_pairs." + pair + ".liquidation_threshold",
				Reason: fmt.Sprintf("must be in (0, 1], got %s", pt.LiquidationThreshold),
			}
		}
		if pt.MaxLTV.LessThanOrEqual(decimal.Zero) || pt.MaxLTV.GreaterThanOrEqual(pt.LiquidationThreshold) {
			return &fault.ConfigurationError{
				Field:  "collateral_pairs." + pair + ".max_ltv",
				Reason: fmt.Sprintf("must be in (0, liquidation_threshold), got %s", pt.MaxLTV),
			}
		}
	}

	return nil
}

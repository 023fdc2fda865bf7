package pnl

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryResult is one attribution category's contribution for a cycle.
// Failed marks a category whose computation errored and contributed zero.
type CategoryResult struct {
	Kind       AttributionKind `json:"-"`
	Name       string          `json:"name"`
	Amount     decimal.Decimal `json:"amount"`
	Cumulative decimal.Decimal `json:"cumulative"`
	Failed     bool            `json:"failed,omitempty"`
}

// ToleranceCheck records the advisory cross-validation of the two P&L
// methods. It never blocks anything; Passed=false is a data-quality
// signal, not a failure.
type ToleranceCheck struct {
	Difference       decimal.Decimal `json:"difference"`
	PercentOfCapital decimal.Decimal `json:"percent_of_capital"`
	Tolerance        decimal.Decimal `json:"tolerance"`
	ElapsedMonths    decimal.Decimal `json:"elapsed_months"`
	Passed           bool            `json:"passed"`
}

// Record is the full P&L picture after one cycle. Share-class units
// throughout.
type Record struct {
	Timestamp time.Time `json:"timestamp"`

	// Balance-based method.
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	CumulativePnL  decimal.Decimal `json:"cumulative_pnl"`
	HourlyPnL      decimal.Decimal `json:"hourly_pnl"`

	// Attribution method.
	Categories     []CategoryResult `json:"categories"`
	AttributionPnL decimal.Decimal  `json:"attribution_pnl"`

	Reconciliation ToleranceCheck `json:"reconciliation"`
}

// Category returns the result for one kind.
func (r *Record) Category(kind AttributionKind) (CategoryResult, bool) {
	for _, cr := range r.Categories {
		if cr.Kind == kind {
			return cr, true
		}
	}
	return CategoryResult{}, false
}

// CheckTolerance cross-validates the two methods against an absolute
// tolerance. initialCapital scales the difference into percent-of-capital
// for the diagnostic payload; zero capital leaves the percentage zero.
func CheckTolerance(balancePnL, attributionPnL, tolerance, initialCapital decimal.Decimal) ToleranceCheck {
	diff := balancePnL.Sub(attributionPnL).Abs()

	pct := decimal.Zero
	if initialCapital.IsPositive() {
		pct = diff.Div(initialCapital).Mul(decimal.NewFromInt(100))
	}

	return ToleranceCheck{
		Difference:       diff,
		PercentOfCapital: pct,
		Tolerance:        tolerance,
		Passed:           diff.LessThanOrEqual(tolerance),
	}
}

// Package pnl computes strategy profit and loss two independent ways and
// cross-checks them: a balance-based measurement (portfolio value against
// the initial capital baseline) and an attribution decomposition into
// named causal categories. Disagreement beyond tolerance is recorded,
// never raised.
package pnl

// AttributionKind tags one causal P&L category. The set is closed:
// adding a category means extending AllAttributionKinds and the compute
// dispatch, which the compiler enforces.
type AttributionKind int32

const (
	KindSupplyYield AttributionKind = iota
	KindBorrowCost
	KindStakingYield
	KindFunding
	KindBasisSpread
	KindDeltaDrift
	KindDust
	KindTransactionCosts
)

func (k AttributionKind) String() string {
	switch k {
	case KindSupplyYield:
		return "supply_yield"
	case KindBorrowCost:
		return "borrow_cost"
	case KindStakingYield:
		return "staking_yield"
	case KindFunding:
		return "funding"
	case KindBasisSpread:
		return "basis_spread"
	case KindDeltaDrift:
		return "delta_drift"
	case KindDust:
		return "dust"
	case KindTransactionCosts:
		return "transaction_costs"
	default:
		return "unknown"
	}
}

// AllAttributionKinds returns every category in reporting order.
func AllAttributionKinds() []AttributionKind {
	return []AttributionKind{
		KindSupplyYield,
		KindBorrowCost,
		KindStakingYield,
		KindFunding,
		KindBasisSpread,
		KindDeltaDrift,
		KindDust,
		KindTransactionCosts,
	}
}

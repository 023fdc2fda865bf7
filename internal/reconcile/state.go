// Package reconcile drives the tight loop: apply deltas, refresh real
// state, compare, and on success recompute the exposure, risk, and P&L
// views in fixed order. One orchestrator owns one ledger; cycles are
// single-flight and a trigger arriving mid-cycle queues behind the active
// one.
package reconcile

// CycleState tracks where the active cycle is in the tight loop.
type CycleState int32

const (
	StateIdle CycleState = iota
	StateApplyingDeltas
	StateRefreshingReal
	StateComparing
	StateSuccess
	StateRetrying
	StateFailed
)

func (s CycleState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateApplyingDeltas:
		return "ApplyingDeltas"
	case StateRefreshingReal:
		return "RefreshingReal"
	case StateComparing:
		return "Comparing"
	case StateSuccess:
		return "Success"
	case StateRetrying:
		return "Retrying"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state ends a cycle.
func (s CycleState) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// CanTransitionTo validates state transitions. RefreshingReal may complete
// a cycle directly because periodic refresh polls without comparing.
func (s CycleState) CanTransitionTo(next CycleState) bool {
	validTransitions := map[CycleState][]CycleState{
		StateIdle: {
			StateApplyingDeltas,
		},
		StateApplyingDeltas: {
			StateRefreshingReal,
			StateSuccess,
			StateFailed,
		},
		StateRefreshingReal: {
			StateComparing,
			StateSuccess,
			StateFailed,
		},
		StateComparing: {
			StateSuccess,
			StateRetrying,
			StateFailed,
		},
		StateRetrying: {
			StateRefreshingReal,
			StateFailed,
		},
		StateSuccess: {
			StateIdle,
		},
		StateFailed: {
			StateIdle,
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if next == a {
			return true
		}
	}
	return false
}

package reconcile

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/audit"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/exposure"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/ledger"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/observability"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/pnl"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/risk"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/venue"
)

// Config fixes the orchestrator's reconciliation behavior.
type Config struct {
	// Live selects venue polling and comparison; off, the cycle settles
	// internally and copies simulated to real.
	Live bool

	// MaxRetries bounds re-poll/re-compare rounds after the initial
	// comparison finds mismatches.
	MaxRetries int

	// RetryBackoff is the first retry delay, doubled per round. Zero
	// means 200ms.
	RetryBackoff time.Duration

	// CompareTolerance is the per-key absolute tolerance between
	// simulated and polled balances.
	CompareTolerance decimal.Decimal

	// DedupCapacity bounds the in-memory execution-ID tier.
	DedupCapacity int

	// ReportLimit bounds the retained cycle-result history. Zero means
	// 1000.
	ReportLimit int
}

// Deps are the collaborators one orchestrator drives. Poller may be nil
// when Live is false; Durable and Metrics may always be nil.
type Deps struct {
	Ledger    *ledger.PositionLedger
	Poller    *venue.Poller
	Projector *exposure.Projector
	Assessor  *risk.Assessor
	PnL       *pnl.Engine
	Durable   DurableChecker
	Sink      audit.Sink
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
}

// Orchestrator owns the tight loop for one ledger. Process serializes
// cycles; the read accessors serve the views cached by the last
// successful cycle and are safe to call concurrently.
type Orchestrator struct {
	cfg  Config
	deps Deps

	dedup *Deduper
	chain *DigestChain

	mu       sync.Mutex // single-flight cycle guard
	sequence uint64
	state    atomic.Int32

	cacheMu      sync.RWMutex
	lastSnapshot ledger.Snapshot
	lastExposure *exposure.Snapshot
	lastRisk     *risk.Snapshot
	reports      []Result
}

// New builds an orchestrator in StateIdle.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Live && deps.Poller == nil {
		panic("reconcile: live mode requires a venue poller")
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.ReportLimit <= 0 {
		cfg.ReportLimit = 1000
	}
	if deps.Sink == nil {
		deps.Sink = audit.NopSink{}
	}

	o := &Orchestrator{
		cfg:          cfg,
		deps:         deps,
		dedup:        NewDeduper(cfg.DedupCapacity, deps.Durable, deps.Logger, deps.Metrics),
		chain:        NewDigestChain(),
		lastExposure: &exposure.Snapshot{},
	}
	o.state.Store(int32(StateIdle))
	return o
}

// Process runs one cycle for the trigger and returns its structured
// outcome. A trigger arriving while a cycle is in flight queues here,
// preserving delta ordering across executions. Fatal results (undeclared
// key, stale timestamp) are reported in Result.Err; the orchestrator
// itself remains usable for the next trigger, the caller decides whether
// to halt.
func (o *Orchestrator) Process(ctx context.Context, trig Trigger) Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	var res Result
	switch tr := trig.(type) {
	case *ExecutionTrigger:
		res = o.runExecution(ctx, tr)
	case *RefreshTrigger:
		res = o.runRefresh(ctx, tr)
	default:
		return Result{Trigger: "unknown", Err: fmt.Errorf("unsupported trigger type %T", trig)}
	}

	o.observeCycle(trig.Kind(), start, &res)
	if !res.Duplicate {
		o.emitCycleRecord(&res, trig)
		o.recordReport(res)
	}
	return res
}

func (o *Orchestrator) recordReport(res Result) {
	o.cacheMu.Lock()
	o.reports = append(o.reports, res)
	if len(o.reports) > o.cfg.ReportLimit {
		o.reports = o.reports[len(o.reports)-o.cfg.ReportLimit:]
	}
	o.cacheMu.Unlock()
}

func (o *Orchestrator) runExecution(ctx context.Context, tr *ExecutionTrigger) Result {
	res := Result{Trigger: tr.Kind(), State: StateIdle}
	defer o.settleToIdle()

	execID := tr.ExecutionID.String()
	if o.dedup.Seen(ctx, execID) {
		res.Duplicate = true
		res.Success = true
		o.deps.Logger.Debug().
			Str("execution_id", execID).
			Msg("Duplicate execution acknowledged without re-applying")
		return res
	}

	o.transition(StateApplyingDeltas)
	if err := o.deps.Ledger.ApplyDeltas(tr.Time, tr.Deltas); err != nil {
		return o.failApply(&res, err)
	}
	// Deltas are on the ledger now; a redelivery must not apply them
	// again even if this cycle ends in Failed.
	o.dedup.Mark(execID)

	if !o.cfg.Live {
		if err := o.deps.Ledger.GenerateSettlements(tr.Time); err != nil {
			return o.failApply(&res, err)
		}
		o.deps.Ledger.SyncReal()
		o.transition(StateSuccess)
		o.complete(&res, tr, tr.Deltas)
		return res
	}

	if !o.refreshAndCompare(ctx, tr.Time, &res) {
		return res
	}
	o.complete(&res, tr, tr.Deltas)
	return res
}

func (o *Orchestrator) runRefresh(ctx context.Context, tr *RefreshTrigger) Result {
	res := Result{Trigger: tr.Kind(), State: StateIdle}
	defer o.settleToIdle()

	o.transition(StateApplyingDeltas)

	if !o.cfg.Live {
		if err := o.deps.Ledger.GenerateSettlements(tr.Time); err != nil {
			return o.failApply(&res, err)
		}
		o.deps.Ledger.SyncReal()
		o.transition(StateSuccess)
		o.complete(&res, tr, nil)
		return res
	}

	// Live refresh records the polled state without comparing; drift
	// surfaces on the next execution cycle.
	o.transition(StateRefreshingReal)
	poll := o.deps.Poller.Poll(ctx, tr.Time)
	o.deps.Ledger.ApplyRealSnapshot(poll.Balances, poll.Stale)
	o.transition(StateSuccess)
	o.complete(&res, tr, nil)
	return res
}

// refreshAndCompare runs the poll/compare rounds for a live execution
// cycle, querying venues as of ts. Reports whether the cycle reached
// StateSuccess.
func (o *Orchestrator) refreshAndCompare(ctx context.Context, ts time.Time, res *Result) bool {
	attempt := 0
	backoff := o.cfg.RetryBackoff
	for {
		o.transition(StateRefreshingReal)
		poll := o.deps.Poller.Poll(ctx, ts)
		o.deps.Ledger.ApplyRealSnapshot(poll.Balances, poll.Stale)

		o.transition(StateComparing)
		cmpStart := time.Now()
		mismatches := o.compare(poll.Stale)
		if o.deps.Metrics != nil {
			o.deps.Metrics.ComparisonDuration.Observe(time.Since(cmpStart).Seconds())
		}

		if len(mismatches) == 0 {
			o.transition(StateSuccess)
			return true
		}
		res.Mismatches = mismatches
		o.countMismatches(mismatches)

		if attempt >= o.cfg.MaxRetries {
			o.transition(StateFailed)
			res.State = StateFailed
			res.Err = &MismatchError{Mismatches: mismatches, Retries: attempt}
			o.deps.Logger.Error().
				Int("retries", attempt).
				Int("mismatches", len(mismatches)).
				Msg("Reconciliation retries exhausted")
			return false
		}

		attempt++
		res.Retries = attempt
		o.transition(StateRetrying)
		if o.deps.Metrics != nil {
			o.deps.Metrics.CycleRetries.Inc()
		}
		o.deps.Logger.Warn().
			Int("attempt", attempt).
			Int("mismatches", len(mismatches)).
			Dur("backoff", backoff).
			Msg("Comparison mismatch, re-polling")

		if !sleepCtx(ctx, backoff) {
			o.transition(StateFailed)
			res.State = StateFailed
			res.Err = ctx.Err()
			return false
		}
		backoff *= 2
	}
}

// countMismatches records each out-of-tolerance key on the per-venue
// mismatch counter.
func (o *Orchestrator) countMismatches(mismatches []Mismatch) {
	if o.deps.Metrics == nil {
		return
	}
	for _, m := range mismatches {
		o.deps.Metrics.MismatchedKeys.WithLabelValues(m.Key.Venue).Inc()
	}
}

// compare walks the declared universe and collects keys whose simulated
// and real balances differ beyond tolerance. Keys on stale venues are
// skipped: their real values are last cycle's, not this poll's.
func (o *Orchestrator) compare(stale map[string]error) []Mismatch {
	var out []Mismatch
	for _, key := range o.deps.Ledger.DeclaredKeys() {
		if _, s := stale[key.Venue]; s {
			continue
		}
		sim, _ := o.deps.Ledger.SimulatedAmount(key)
		actual, _ := o.deps.Ledger.RealAmount(key)
		diff := sim.Sub(actual).Abs()
		if diff.GreaterThan(o.cfg.CompareTolerance) {
			out = append(out, Mismatch{Key: key, Expected: sim, Actual: actual, Diff: diff})
		}
	}
	return out
}

// complete finalizes a successful cycle: advance the sequence, chain the
// ledger digest, recompute the downstream views, refresh the caches.
func (o *Orchestrator) complete(res *Result, trig Trigger, deltas []ledger.Delta) {
	o.sequence++
	res.Sequence = o.sequence
	res.State = StateSuccess
	res.Success = true
	res.Digest = o.chain.Next(o.sequence, o.deps.Ledger.StateDigest())

	snap := o.deps.Ledger.Snapshot()
	exp, err := o.deps.Projector.Project(trig.Timestamp(), snap.Simulated)
	if err != nil {
		// The ledger mutation stands; only the views are stale.
		res.Err = fmt.Errorf("exposure projection: %w", err)
		o.deps.Logger.Error().Err(err).Msg("Downstream recompute failed, keeping previous views")
		o.cacheMu.Lock()
		o.lastSnapshot = snap
		o.cacheMu.Unlock()
		return
	}
	riskSnap := o.deps.Assessor.Assess(exp)
	o.deps.PnL.Compute(exp, deltas)

	o.cacheMu.Lock()
	o.lastSnapshot = snap
	o.lastExposure = exp
	o.lastRisk = riskSnap
	o.cacheMu.Unlock()

	if o.deps.Metrics != nil {
		o.deps.Metrics.CycleSequence.Set(float64(o.sequence))
	}
}

// failApply reports a rejected delta batch or settlement run.
func (o *Orchestrator) failApply(res *Result, err error) Result {
	reason := "apply_error"
	var unknownKey *ledger.UnknownPositionError
	var staleTS *ledger.StaleTimestampError
	switch {
	case errors.As(err, &unknownKey):
		reason = "unknown_key"
	case errors.As(err, &staleTS):
		reason = "stale_timestamp"
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.DeltasRejected.WithLabelValues(reason).Inc()
	}

	o.transition(StateFailed)
	res.State = StateFailed
	res.Err = err
	o.deps.Logger.Error().Err(err).Str("reason", reason).Msg("Cycle failed applying deltas")
	return *res
}

func (o *Orchestrator) observeCycle(trigger string, start time.Time, res *Result) {
	if o.deps.Metrics == nil {
		return
	}
	outcome := "failed"
	switch {
	case res.Duplicate:
		outcome = "duplicate"
	case res.Success:
		outcome = "success"
	}
	o.deps.Metrics.CyclesTotal.WithLabelValues(trigger, outcome).Inc()
	o.deps.Metrics.CycleDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	if !res.Success {
		o.deps.Metrics.CyclesFailed.WithLabelValues(trigger).Inc()
	}
}

func (o *Orchestrator) emitCycleRecord(res *Result, trig Trigger) {
	rec := audit.NewRecord(audit.RecordTypeCycleCompleted, trig.Timestamp())
	rec.Source = trig.Kind()
	rec.Detail = map[string]string{
		"state":    res.State.String(),
		"sequence": strconv.FormatUint(res.Sequence, 10),
	}
	if res.Success {
		rec.Detail["digest"] = hex.EncodeToString(res.Digest[:])
	}
	if res.Retries > 0 {
		rec.Detail["retries"] = strconv.Itoa(res.Retries)
	}
	if len(res.Mismatches) > 0 {
		rec.Detail["mismatches"] = strconv.Itoa(len(res.Mismatches))
	}
	if tr, ok := trig.(*ExecutionTrigger); ok {
		rec.Detail["execution_id"] = tr.ExecutionID.String()
	}
	o.deps.Sink.Emit(rec)
}

// transition moves the cycle state machine. An illegal transition is a
// programming error, not a runtime condition.
func (o *Orchestrator) transition(next CycleState) {
	cur := o.State()
	if !cur.CanTransitionTo(next) {
		panic(fmt.Sprintf("reconcile: illegal cycle transition %s -> %s", cur, next))
	}
	o.state.Store(int32(next))
}

// settleToIdle returns a finished cycle to StateIdle. A duplicate never
// left Idle, so only terminal states transition.
func (o *Orchestrator) settleToIdle() {
	if o.State().Terminal() {
		o.transition(StateIdle)
	}
}

// State reports the machine state without blocking on an active cycle.
func (o *Orchestrator) State() CycleState {
	return CycleState(o.state.Load())
}

// CurrentPositions returns the simulated balances as of the last
// completed cycle.
func (o *Orchestrator) CurrentPositions() map[ledger.PositionKey]decimal.Decimal {
	o.cacheMu.RLock()
	defer o.cacheMu.RUnlock()
	out := make(map[ledger.PositionKey]decimal.Decimal, len(o.lastSnapshot.Simulated))
	for k, v := range o.lastSnapshot.Simulated {
		out[k] = v
	}
	return out
}

// CurrentExposure returns the last computed exposure snapshot, or a
// zeroed snapshot before the first successful cycle.
func (o *Orchestrator) CurrentExposure() *exposure.Snapshot {
	o.cacheMu.RLock()
	defer o.cacheMu.RUnlock()
	return o.lastExposure
}

// LatestRisk returns the last computed risk snapshot, nil before the
// first successful cycle.
func (o *Orchestrator) LatestRisk() *risk.Snapshot {
	o.cacheMu.RLock()
	defer o.cacheMu.RUnlock()
	return o.lastRisk
}

// LatestPnL returns the most recent P&L record, nil before the first
// successful cycle.
func (o *Orchestrator) LatestPnL() *pnl.Record {
	return o.deps.PnL.Latest()
}

// PnLHistory returns the bounded P&L record history, oldest first.
func (o *Orchestrator) PnLHistory() []pnl.Record {
	return o.deps.PnL.History()
}

// RecentReports returns a copy of the bounded cycle-result history,
// oldest first. Duplicate-acknowledged triggers are not recorded.
func (o *Orchestrator) RecentReports() []Result {
	o.cacheMu.RLock()
	defer o.cacheMu.RUnlock()
	out := make([]Result, len(o.reports))
	copy(out, o.reports)
	return out
}

// Summary renders the latest P&L record for humans.
func (o *Orchestrator) Summary() string {
	return o.deps.PnL.Summary()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package venue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/ledger"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/observability"
)

// DefaultQueryTimeout bounds a single venue read. A venue that cannot
// answer within this window is treated as stale for the cycle.
const DefaultQueryTimeout = 5 * time.Second

// PollResult is the merged outcome of one fan-out poll. Balances holds
// every key reported by venues that answered. Stale maps each venue that
// failed to the error that felled it; their keys are absent from Balances
// and the caller keeps whatever it recorded for them last.
type PollResult struct {
	Timestamp time.Time
	Balances  map[ledger.PositionKey]decimal.Decimal
	Stale     map[string]error
}

// StaleVenues returns the names of venues that failed this poll.
func (r *PollResult) StaleVenues() []string {
	if len(r.Stale) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Stale))
	for name := range r.Stale {
		names = append(names, name)
	}
	return names
}

// Poller queries all registered venues concurrently, each under its own
// deadline, and merges the answers. One slow or dead venue never blocks
// the rest and never fails the poll.
type Poller struct {
	adapters []Adapter
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewPoller creates a poller over the given adapters. A non-positive
// timeout falls back to DefaultQueryTimeout. metrics may be nil.
func NewPoller(adapters []Adapter, timeout time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Poller {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Poller{
		adapters: adapters,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// Poll fans out to every adapter, asking each for its balances as of ts,
// and collects the answers. It always returns a result; venues that
// errored or timed out appear in Stale.
func (p *Poller) Poll(ctx context.Context, ts time.Time) *PollResult {
	result := &PollResult{
		Timestamp: ts,
		Balances:  make(map[ledger.PositionKey]decimal.Decimal),
		Stale:     make(map[string]error),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, adapter := range p.adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()

			queryCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			start := time.Now()
			balances, err := a.GetPositions(queryCtx, ts)
			elapsed := time.Since(start)

			if p.metrics != nil {
				p.metrics.VenuePollDuration.WithLabelValues(a.Name()).Observe(elapsed.Seconds())
			}

			if err != nil {
				reason := "error"
				if errors.Is(err, context.DeadlineExceeded) {
					reason = "timeout"
				}
				if p.metrics != nil {
					p.metrics.VenuePollErrors.WithLabelValues(a.Name(), reason).Inc()
				}
				p.logger.Warn().
					Err(err).
					Str("venue", a.Name()).
					Str("reason", reason).
					Dur("elapsed", elapsed).
					Msg("Venue query failed, keeping previous balances")

				mu.Lock()
				result.Stale[a.Name()] = &QueryError{Venue: a.Name(), Err: err}
				mu.Unlock()
				return
			}

			mu.Lock()
			for key, amount := range balances {
				result.Balances[key] = amount
			}
			mu.Unlock()
		}(adapter)
	}

	wg.Wait()

	if p.metrics != nil {
		p.metrics.VenuesStale.Set(float64(len(result.Stale)))
	}

	return result
}
